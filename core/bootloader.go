package core

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ripemd160"
)

// TransactionHeader carries the fields of a transaction envelope the
// bootloader validates before kernel execution ever starts (spec.md §6
// "Bootloader"): the encoded manifest, its epoch validity window, and one
// Ed25519 signature per declared signer key, following the teacher's
// wallet.go notarization pattern adapted to this engine's signer model.
type TransactionHeader struct {
	IntentHash    Hash
	ManifestBytes []byte
	StartEpoch    uint64
	EndEpoch      uint64
	SignerKeys    []ed25519.PublicKey
	Signatures    [][]byte
	LockFeeVault  NodeID
	LockFeeAmount uint64
}

// BootloaderConfig bundles the fixed parameters a Bootloader needs across
// every transaction it prepares: the fee table/prices, the call-depth and
// size limits, and the current epoch used to validate a header's window.
type BootloaderConfig struct {
	FeeTable          FeeTable
	SystemLoanUnits   uint64
	ExecutionPrice    float64
	FinalizationPrice float64
	StoragePrice      float64
	Limits            LimitsConfig
	CurrentEpoch      uint64
}

// Bootloader runs the fixed sequence of spec.md §6: Prepare (validate the
// envelope, verify signatures, check the epoch window), Initialize (build
// the kernel and system modules fresh for this transaction), Invoke (run
// the transaction processor against the decoded manifest), and Finalize
// (assemble the receipt, committing or rolling back the track depending on
// outcome and system-loan repayment).
type Bootloader struct {
	db  SubstateDatabase
	cfg BootloaderConfig
	log *logrus.Entry

	// resourceOf backs AuthModule's proof-to-resource resolution; the
	// bootloader owns it because it is shared across every transaction run
	// against the same database instance.
	resourceOf func(proof NodeID) NodeID

	// roleOf resolves which role guards a method call, shared across
	// transactions the same way resourceOf is.
	roleOf func(actor Actor) (NodeID, string, bool)
}

func NewBootloader(db SubstateDatabase, cfg BootloaderConfig, resourceOf func(NodeID) NodeID, roleOf func(Actor) (NodeID, string, bool), log *logrus.Entry) *Bootloader {
	return &Bootloader{db: db, cfg: cfg, resourceOf: resourceOf, roleOf: roleOf, log: log}
}

// Prepare validates a transaction header without touching the kernel:
// epoch window, intent-hash binding, and every declared signature. Failure
// here is always a Rejection (spec.md §8 property 6) since nothing has been
// charged or written yet.
func (b *Bootloader) Prepare(hdr TransactionHeader) error {
	if hdr.EndEpoch < hdr.StartEpoch || b.cfg.CurrentEpoch < hdr.StartEpoch || b.cfg.CurrentEpoch >= hdr.EndEpoch {
		return NewRejection(RejectEpochOutOfRange, nil)
	}
	sum := sha256.Sum256(hdr.ManifestBytes)
	if sum != hdr.IntentHash {
		return NewRejection("IntentHashMismatch", nil)
	}
	if len(hdr.SignerKeys) != len(hdr.Signatures) {
		return NewRejection("SignatureCountMismatch", nil)
	}
	for i, key := range hdr.SignerKeys {
		if !ed25519.Verify(key, hdr.IntentHash[:], hdr.Signatures[i]) {
			return NewRejection("InvalidNotarySignature", fmt.Errorf("signer %d", i))
		}
	}
	return nil
}

// SignerResourceIDs derives each signer's virtual-badge resource NodeID by
// RIPEMD-160 hashing their Ed25519 public key, the same two-stage
// hash-then-tag construction the teacher's wallet.go uses for address
// derivation (sha256 then ripemd160), repurposed here to produce a
// deterministic node id instead of a bech32 address.
func SignerResourceIDs(keys []ed25519.PublicKey) []NodeID {
	out := make([]NodeID, len(keys))
	for i, k := range keys {
		sum := sha256.Sum256(k)
		r := ripemd160.New()
		r.Write(sum[:])
		digest := r.Sum(nil)
		var id NodeID
		id[0] = byte(EntityGlobalVirtualAccount)
		copy(id[1:], digest)
		out[i] = id
	}
	return out
}

// Run calls Prepare on the header and then executes Initialize/Invoke/
// Finalize, returning a Receipt that is always non-nil: rejection is
// signaled through Receipt.Outcome, not a Go error return, so callers have
// one uniform result shape (spec.md §6).
func (b *Bootloader) Run(hdr TransactionHeader) *Receipt {
	if err := b.Prepare(hdr); err != nil {
		if rej, ok := err.(*RejectionReason); ok {
			return rejectedReceipt(rej)
		}
		return rejectedReceipt(NewRejection("PrepareFailed", err))
	}

	var manifest Manifest
	if err := rlp.DecodeBytes(hdr.ManifestBytes, &manifest); err != nil {
		return rejectedReceipt(NewRejection("ManifestDecodeError", err))
	}
	manifest.SignerResources = SignerResourceIDs(hdr.SignerKeys)

	track := NewTrack(b.db, b.log)
	reserve := NewFeeReserve(b.cfg.FeeTable, b.cfg.SystemLoanUnits, b.cfg.ExecutionPrice, b.cfg.FinalizationPrice, b.cfg.StoragePrice, b.log)
	costing := NewCostingModule(reserve)
	costing.Attach(track)

	auth := NewAuthModule(b.resourceOf, b.log)
	limits := NewLimitsModule(b.cfg.Limits)

	vaults := NewVaultBlueprint(nil)
	buckets := NewBucketBlueprint()
	proofs := NewProofBlueprint(vaults)
	resources := NewResourceManagerBlueprint(vaults)
	authZone := NewAuthZoneBlueprint(auth, vaults, proofs)

	invoker := &nativeDispatcher{vaults: vaults, buckets: buckets, proofs: proofs, resources: resources}
	sys := NewSystem(auth, costing, limits, invoker, b.roleOf, nativeAutoDrop(buckets, proofs), b.log)
	vaults.sys = sys

	kernel := NewKernel(track, sys, hdr.IntentHash, b.cfg.Limits.MaxCallDepth, b.log)
	invoker.kernel = kernel

	if err := vaults.LockFee(kernel.RootFrame(), hdr.LockFeeVault, hdr.LockFeeAmount, reserve); err != nil {
		return rejectedReceipt(NewRejection(RejectErrorBeforeLoanRepaid, err))
	}

	tp := NewTransactionProcessor(kernel, sys, vaults, buckets, proofs, resources, authZone, b.log)
	ret, runErr := tp.Run(manifest)

	if runErr != nil {
		if !reserve.LoanRepaid() {
			track.Rollback()
			return rejectedReceipt(NewRejection(RejectErrorBeforeLoanRepaid, runErr))
		}
		feeUpdates := b.commitFeesOnly(track, reserve)
		return failureReceipt(runErr, feeUpdates, reserve.Summary())
	}

	if !reserve.LoanRepaid() {
		track.Rollback()
		return rejectedReceipt(NewRejection(RejectSuccessButLoanUnpaid, nil))
	}

	updates, err := track.Commit()
	if err != nil {
		return failureReceipt(err, nil, reserve.Summary())
	}
	newAddrs := collectGlobalAddresses(kernel)
	return successReceipt(updates, reserve.Summary(), nil, nil, newAddrs, ret)
}

// commitFeesOnly commits only the fee-vault debit writes recorded before
// the failure, discarding everything else the transaction attempted
// (spec.md §8 property 6, commit-failure half).
func (b *Bootloader) commitFeesOnly(track *Track, reserve *FeeReserve) DatabaseUpdates {
	// Rebuild the fee debits on a clean track so nothing else the
	// transaction wrote reaches the database.
	track.Rollback()
	track.OnIOEvent(nil)
	for _, l := range reserve.lockedVaults {
		addr := SubstateAddress{Node: l.vault, Partition: PartitionMain, Key: FieldKey(VaultFieldAmount)}
		raw, _ := track.Read(addr)
		if st, err := decodeFungibleVault(raw); err == nil && st.Amount >= l.amount {
			st.Amount -= l.amount
			track.Write(addr, encodeFungibleVault(st))
		}
	}
	updates, err := track.Commit()
	if err != nil {
		return nil
	}
	return updates
}

func collectGlobalAddresses(k *Kernel) []NodeID {
	root := k.RootFrame()
	out := make([]NodeID, 0, len(root.globalRefs))
	for id := range root.globalRefs {
		out = append(out, id)
	}
	return out
}

// nativeAutoDrop builds the AutoDrop predicate System needs: buckets may
// self-destruct only while empty, proofs, auth zones and worktops may
// always self-destruct, and every other node type is left alone (orphan
// detection then applies).
func nativeAutoDrop(buckets *BucketBlueprint, proofs *ProofBlueprint) func(*CallFrame, NodeID) (bool, error) {
	return func(frame *CallFrame, node NodeID) (bool, error) {
		switch node.EntityType() {
		case EntityInternalFungibleBucket:
			empty, err := buckets.IsEmptyFungible(frame, node)
			if err != nil || !empty {
				return false, err
			}
			_, err = frame.DropNode(node)
			return err == nil, err
		case EntityInternalNonFungibleBucket:
			empty, err := buckets.IsEmptyNonFungible(frame, node)
			if err != nil || !empty {
				return false, err
			}
			_, err = frame.DropNode(node)
			return err == nil, err
		case EntityInternalFungibleProof, EntityInternalNonFungibleProof:
			return true, proofs.Drop(frame, node)
		case EntityInternalAuthZone, EntityInternalWorktop:
			_, err := frame.DropNode(node)
			return err == nil, err
		default:
			return false, nil
		}
	}
}
