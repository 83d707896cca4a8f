package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// FeeTable prices every metered kernel event (spec.md §4.6). Prices are
// expressed in abstract cost units; the reserve converts units to XRD using
// ExecutionUnitPrice/FinalizationUnitPrice/StorageBytePrice.
type FeeTable struct {
	Invoke          uint64
	CreateNode      uint64
	OpenSubstate    uint64
	ReadSubstate    uint64
	WriteSubstate   uint64
	EmitEvent       uint64
	RunWasmPerFuel  uint64
	NativeFunctions map[string]uint64
}

func DefaultFeeTable() FeeTable {
	return FeeTable{
		Invoke:         500,
		CreateNode:     300,
		OpenSubstate:   150,
		ReadSubstate:   50,
		WriteSubstate:  100,
		EmitEvent:      200,
		RunWasmPerFuel: 1,
		NativeFunctions: map[string]uint64{
			"vault.put":         80,
			"vault.take":        80,
			"vault.lock_fee":    40,
			"bucket.create_proof": 100,
			"resource_manager.mint": 150,
		},
	}
}

// FeeReserve is the prepaid fee budget described in spec.md §4.6: a system
// loan advanced at transaction start, separate execution/finalization cost
// unit counters, and a storage bucket priced per byte.
type FeeReserve struct {
	table FeeTable

	systemLoanUnits  uint64
	loanRepaid       bool
	executionUnits   uint64
	finalizationUnits uint64
	storageBytes     uint64

	executionPrice    float64
	finalizationPrice float64
	storagePrice      float64

	royalties map[string]uint64 // package/component id -> XRD owed

	lockedVaults []vaultFeeLock

	log *logrus.Entry
}

type vaultFeeLock struct {
	vault  NodeID
	amount uint64
}

func NewFeeReserve(table FeeTable, systemLoanUnits uint64, execPrice, finalPrice, storagePrice float64, log *logrus.Entry) *FeeReserve {
	return &FeeReserve{
		table:             table,
		systemLoanUnits:   systemLoanUnits,
		executionPrice:    execPrice,
		finalizationPrice: finalPrice,
		storagePrice:      storagePrice,
		royalties:         make(map[string]uint64),
		log:               log,
	}
}

// LoanRepaid reports whether the advanced system loan has been fully repaid
// by locked fees yet — the crossover point between rejection and
// commit-failure (spec.md §4.6).
func (r *FeeReserve) LoanRepaid() bool { return r.loanRepaid }

// LockFee moves `amount` cost units worth of value into the reserve from a
// backing vault, repaying the system loan as it goes. It is the one
// operation allowed to run before any auth/schema check (spec.md §4.6).
func (r *FeeReserve) LockFee(vault NodeID, amount uint64) error {
	r.lockedVaults = append(r.lockedVaults, vaultFeeLock{vault: vault, amount: amount})
	locked := uint64(0)
	for _, l := range r.lockedVaults {
		locked += l.amount
	}
	if locked >= r.systemLoanUnits {
		r.loanRepaid = true
	}
	return nil
}

// ConsumeExecution charges execution cost units for a kernel event. If the
// reserve is depleted, the caller (costing module) must turn this into
// either a rejection or a commit-failure depending on LoanRepaid.
func (r *FeeReserve) ConsumeExecution(units uint64) error {
	r.executionUnits += units
	if !r.hasBalance() {
		return ErrFeeReserveInsufficient()
	}
	return nil
}

func (r *FeeReserve) ConsumeFinalization(units uint64) error {
	r.finalizationUnits += units
	if !r.hasBalance() {
		return ErrFeeReserveInsufficient()
	}
	return nil
}

func (r *FeeReserve) ConsumeStorage(bytes uint64) error {
	r.storageBytes += bytes
	if !r.hasBalance() {
		return ErrFeeReserveInsufficient()
	}
	return nil
}

// hasBalance reports whether the reserve can still absorb cost. Before the
// system loan is repaid, execution draws against the loan itself, bounded
// by systemLoanUnits; once repaid, it is bounded by the funds actually
// locked from fee-paying vaults. Either way, depletion fails the
// transaction — the loan only changes whether that failure becomes a
// rejection or a commit-failure (spec.md §4.6), never whether it happens.
func (r *FeeReserve) hasBalance() bool {
	if !r.loanRepaid {
		return r.TotalCost() <= r.systemLoanUnits
	}
	locked := uint64(0)
	for _, l := range r.lockedVaults {
		locked += l.amount
	}
	return r.TotalCost() <= locked
}

// TotalCost is the XRD-denominated sum owed so far.
func (r *FeeReserve) TotalCost() uint64 {
	exec := uint64(float64(r.executionUnits) * r.executionPrice * 1e9)
	fin := uint64(float64(r.finalizationUnits) * r.finalizationPrice * 1e9)
	store := uint64(float64(r.storageBytes) * r.storagePrice * 1e9)
	royalty := uint64(0)
	for _, v := range r.royalties {
		royalty += v
	}
	return exec + fin + store + royalty
}

// ChargeRoyalty routes a per-package or per-component royalty to its
// owner-controlled vault accounting bucket (spec.md §4.6).
func (r *FeeReserve) ChargeRoyalty(ownerKey string, amount uint64) {
	r.royalties[ownerKey] += amount
}

// Summary produces the fee summary recorded on the receipt (spec.md §6).
type FeeSummary struct {
	ExecutionCost    uint64
	FinalizationCost uint64
	StorageCost      uint64
	Royalties        map[string]uint64
	LockedFeePayments []VaultPayment
}

type VaultPayment struct {
	Vault  NodeID
	Amount uint64
}

func (r *FeeReserve) Summary() FeeSummary {
	payments := make([]VaultPayment, 0, len(r.lockedVaults))
	for _, l := range r.lockedVaults {
		payments = append(payments, VaultPayment{Vault: l.vault, Amount: l.amount})
	}
	return FeeSummary{
		ExecutionCost:     uint64(float64(r.executionUnits) * r.executionPrice * 1e9),
		FinalizationCost:  uint64(float64(r.finalizationUnits) * r.finalizationPrice * 1e9),
		StorageCost:       uint64(float64(r.storageBytes) * r.storagePrice * 1e9),
		Royalties:         r.royalties,
		LockedFeePayments: payments,
	}
}

// CostingModule wires the FeeReserve into the kernel's event stream via the
// Track's IOEvent observer hook (spec.md §9 "pull-style events").
type CostingModule struct {
	reserve *FeeReserve
}

func NewCostingModule(reserve *FeeReserve) *CostingModule { return &CostingModule{reserve: reserve} }

// Attach subscribes the costing module to a track's IO events so every
// read and write is metered without the kernel needing to know costing
// exists; lock and unlock events are not charged.
func (c *CostingModule) Attach(track *Track) {
	track.OnIOEvent(func(ev IOEvent) {
		switch ev.Kind {
		case "read":
			_ = c.reserve.ConsumeExecution(1)
		case "write":
			_ = c.reserve.ConsumeExecution(2)
			_ = c.reserve.ConsumeStorage(uint64(ev.Bytes))
		}
	})
}

func (c *CostingModule) ChargeInvoke() error {
	return c.reserve.ConsumeExecution(c.reserve.table.Invoke)
}

func (c *CostingModule) ChargeCreateNode() error {
	return c.reserve.ConsumeExecution(c.reserve.table.CreateNode)
}

func (c *CostingModule) ChargeNativeFunction(name string) error {
	cost, ok := c.reserve.table.NativeFunctions[name]
	if !ok {
		return fmt.Errorf("costing: unknown native function %q", name)
	}
	return c.reserve.ConsumeExecution(cost)
}
