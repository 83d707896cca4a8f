package core

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// A vault's state lives in PartitionMain as one field substate (field 0):
// FungibleVaultState (amount plus the amount locked by proofs) or
// NonFungibleVaultState (held ids plus the ids locked by proofs).
// VaultFieldLockedAmount is not read or written by any vault method.
const (
	VaultFieldAmount       uint8 = 0
	VaultFieldLockedAmount uint8 = 1
)

// FungibleVaultState is the decoded substate payload for an internal
// fungible vault's main field.
type FungibleVaultState struct {
	Amount       uint64
	LockedAmount uint64
}

func decodeFungibleVault(raw []byte) (FungibleVaultState, error) {
	var s FungibleVaultState
	if len(raw) == 0 {
		return s, nil
	}
	err := rlp.DecodeBytes(raw, &s)
	return s, err
}

func encodeFungibleVault(s FungibleVaultState) []byte {
	b, _ := rlp.EncodeToBytes(s)
	return b
}

// NonFungibleVaultState is the decoded substate payload for a non-fungible
// vault's main field: the set of ids it currently holds plus the subset
// currently locked by an outstanding proof.
type NonFungibleVaultState struct {
	IDs    [][]byte
	Locked [][]byte
}

func decodeNonFungibleVault(raw []byte) (NonFungibleVaultState, error) {
	var s NonFungibleVaultState
	if len(raw) == 0 {
		return s, nil
	}
	err := rlp.DecodeBytes(raw, &s)
	return s, err
}

func encodeNonFungibleVault(s NonFungibleVaultState) []byte {
	b, _ := rlp.EncodeToBytes(s)
	return b
}

// VaultBlueprint implements the native fungible/non-fungible vault state
// machine (spec.md §5.1). Every method takes the frame making the call so
// it can open/read/write/close the vault's own field substate through the
// ordinary call-frame API — a native blueprint is not privileged, it just
// runs in the kernel process instead of the WASM guest.
type VaultBlueprint struct {
	sys *System
}

func NewVaultBlueprint(sys *System) *VaultBlueprint { return &VaultBlueprint{sys: sys} }

func (v *VaultBlueprint) openMain(frame *CallFrame, vault NodeID, field uint8, flags LockFlags) (LockHandle, error) {
	return frame.OpenSubstate(SubstateAddress{Node: vault, Partition: PartitionMain, Key: FieldKey(field)}, flags)
}

// Put merges amount into a fungible vault's held balance (spec.md §5.1 put).
func (v *VaultBlueprint) Put(frame *CallFrame, vault NodeID, amount uint64) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return err
	}
	st.Amount += amount
	return frame.WriteSubstate(h, encodeFungibleVault(st))
}

// Take withdraws amount from a fungible vault and returns the bucket node id
// the caller should wrap the withdrawn funds in (spec.md §5.1 take).
func (v *VaultBlueprint) Take(frame *CallFrame, vault NodeID, amount uint64, allocID func() NodeID, resource NodeID) (NodeID, error) {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return NodeID{}, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return NodeID{}, err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return NodeID{}, err
	}
	if st.Amount-st.LockedAmount < amount {
		return NodeID{}, ErrVaultInsufficientBalance()
	}
	st.Amount -= amount
	if err := frame.WriteSubstate(h, encodeFungibleVault(st)); err != nil {
		return NodeID{}, err
	}
	bucket := allocID()
	init := map[SubstateAddress][]byte{
		{Node: bucket, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketFungible(BucketFungibleState{Resource: resource, Amount: amount}),
	}
	if err := frame.CreateNode(bucket, init); err != nil {
		return NodeID{}, err
	}
	return bucket, nil
}

// TakeAll drains a fungible vault entirely, returning the withdrawn amount
// so the caller can build the result bucket the same way Take does.
func (v *VaultBlueprint) TakeAll(frame *CallFrame, vault NodeID) (uint64, error) {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return 0, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return 0, err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return 0, err
	}
	available := st.Amount - st.LockedAmount
	st.Amount = st.LockedAmount
	if err := frame.WriteSubstate(h, encodeFungibleVault(st)); err != nil {
		return 0, err
	}
	return available, nil
}

// LockFungible reserves amount against future withdrawal, backing a proof
// without moving funds out of the vault (spec.md §5.1 lock_fungible).
func (v *VaultBlueprint) LockFungible(frame *CallFrame, vault NodeID, amount uint64) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return err
	}
	if st.Amount-st.LockedAmount < amount {
		return ErrVaultInsufficientBalance()
	}
	st.LockedAmount += amount
	return frame.WriteSubstate(h, encodeFungibleVault(st))
}

func (v *VaultBlueprint) UnlockFungible(frame *CallFrame, vault NodeID, amount uint64) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return err
	}
	if st.LockedAmount < amount {
		st.LockedAmount = 0
	} else {
		st.LockedAmount -= amount
	}
	return frame.WriteSubstate(h, encodeFungibleVault(st))
}

// Recall is the direct-access withdrawal path used by an asset issuer that
// retained recall rights: it behaves like Take but is reachable through a
// CopyDirectAccessRefs reference rather than ownership (spec.md §5.1 recall,
// §4.1 direct access).
func (v *VaultBlueprint) Recall(frame *CallFrame, vault NodeID, amount uint64, allocID func() NodeID, resource NodeID) (NodeID, error) {
	return v.Take(frame, vault, amount, allocID, resource)
}

// Burn destroys amount from a fungible vault outright with no resulting
// bucket, used by resource managers enforcing a burnable-only supply policy.
func (v *VaultBlueprint) Burn(frame *CallFrame, vault NodeID, amount uint64) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return err
	}
	if st.Amount-st.LockedAmount < amount {
		return ErrVaultInsufficientBalance()
	}
	st.Amount -= amount
	return frame.WriteSubstate(h, encodeFungibleVault(st))
}

// LockFee is the one privileged vault operation allowed to run with a
// ForceWrite lock before auth/costing have even been consulted (spec.md
// §4.6): it withdraws amount from the fee-paying vault (failing with
// LockFeeInsufficientBalance if the vault holds less) and hands it to the
// fee reserve; on a commit-failure the bootloader still commits this debit.
func (v *VaultBlueprint) LockFee(frame *CallFrame, vault NodeID, amount uint64, reserve *FeeReserve) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true, ForceWrite: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return err
	}
	if st.Amount < amount {
		return ErrLockFeeInsufficientBalance()
	}
	st.Amount -= amount
	if err := frame.WriteSubstate(h, encodeFungibleVault(st)); err != nil {
		return err
	}
	return reserve.LockFee(vault, amount)
}

// PutNonFungible merges ids into a non-fungible vault's held set, the
// non-fungible counterpart to Put.
func (v *VaultBlueprint) PutNonFungible(frame *CallFrame, vault NodeID, ids [][]byte) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeNonFungibleVault(raw)
	if err != nil {
		return err
	}
	st.IDs = append(st.IDs, ids...)
	return frame.WriteSubstate(h, encodeNonFungibleVault(st))
}

// GetAmount reads a fungible vault's total held balance, including amount
// currently locked by outstanding proofs (spec.md §5.1 get_amount); LiquidAmount
// is the withdrawable subset.
func (v *VaultBlueprint) GetAmount(frame *CallFrame, vault NodeID) (uint64, error) {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return 0, err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return 0, err
	}
	return st.Amount, nil
}

// GetNonFungibleIDs reads a non-fungible vault's full held id set, including
// ids currently locked by outstanding proofs.
func (v *VaultBlueprint) GetNonFungibleIDs(frame *CallFrame, vault NodeID) ([][]byte, error) {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	st, err := decodeNonFungibleVault(raw)
	if err != nil {
		return nil, err
	}
	return st.IDs, nil
}

// TakeNonFungibles withdraws a specific id set from a non-fungible vault.
func (v *VaultBlueprint) TakeNonFungibles(frame *CallFrame, vault NodeID, ids [][]byte, allocID func() NodeID, resource NodeID) (NodeID, error) {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return NodeID{}, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return NodeID{}, err
	}
	st, err := decodeNonFungibleVault(raw)
	if err != nil {
		return NodeID{}, err
	}
	locked := map[string]bool{}
	for _, l := range st.Locked {
		locked[string(l)] = true
	}
	held := map[string]bool{}
	for _, id := range st.IDs {
		held[string(id)] = true
	}
	for _, id := range ids {
		if locked[string(id)] || !held[string(id)] {
			return NodeID{}, ErrVaultInsufficientBalance()
		}
	}
	remaining := st.IDs[:0]
	removeSet := map[string]bool{}
	for _, id := range ids {
		removeSet[string(id)] = true
	}
	for _, id := range st.IDs {
		if !removeSet[string(id)] {
			remaining = append(remaining, id)
		}
	}
	st.IDs = remaining
	if err := frame.WriteSubstate(h, encodeNonFungibleVault(st)); err != nil {
		return NodeID{}, err
	}
	bucket := allocID()
	init := map[SubstateAddress][]byte{
		{Node: bucket, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketNonFungible(BucketNonFungibleState{Resource: resource, IDs: ids}),
	}
	if err := frame.CreateNode(bucket, init); err != nil {
		return NodeID{}, err
	}
	return bucket, nil
}

// LockNonFungibles reserves a specific id set against withdrawal, backing a
// non-fungible proof.
func (v *VaultBlueprint) LockNonFungibles(frame *CallFrame, vault NodeID, ids [][]byte) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeNonFungibleVault(raw)
	if err != nil {
		return err
	}
	held := map[string]bool{}
	for _, id := range st.IDs {
		held[string(id)] = true
	}
	for _, id := range ids {
		if !held[string(id)] {
			return ErrVaultInsufficientBalance()
		}
	}
	st.Locked = append(st.Locked, ids...)
	return frame.WriteSubstate(h, encodeNonFungibleVault(st))
}

// UnlockNonFungibles releases a previously locked id set back to the vault's
// liquid set, the non-fungible counterpart to UnlockFungible.
func (v *VaultBlueprint) UnlockNonFungibles(frame *CallFrame, vault NodeID, ids [][]byte) error {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeNonFungibleVault(raw)
	if err != nil {
		return err
	}
	remove := map[string]bool{}
	for _, id := range ids {
		remove[string(id)] = true
	}
	remaining := st.Locked[:0]
	for _, id := range st.Locked {
		if !remove[string(id)] {
			remaining = append(remaining, id)
		}
	}
	st.Locked = remaining
	return frame.WriteSubstate(h, encodeNonFungibleVault(st))
}

// LiquidAmount reads a fungible vault's currently unlocked balance, used by
// CreateProofFromAuthZoneOfAll to lock the vault's full liquid amount
// instead of a caller-supplied figure.
func (v *VaultBlueprint) LiquidAmount(frame *CallFrame, vault NodeID) (uint64, error) {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return 0, err
	}
	st, err := decodeFungibleVault(raw)
	if err != nil {
		return 0, err
	}
	return st.Amount - st.LockedAmount, nil
}

// LiquidNonFungibleIDs reads a non-fungible vault's currently unlocked id
// set, used the same way LiquidAmount is for the fungible case.
func (v *VaultBlueprint) LiquidNonFungibleIDs(frame *CallFrame, vault NodeID) ([][]byte, error) {
	h, err := v.openMain(frame, vault, VaultFieldAmount, LockFlags{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	st, err := decodeNonFungibleVault(raw)
	if err != nil {
		return nil, err
	}
	locked := map[string]bool{}
	for _, l := range st.Locked {
		locked[string(l)] = true
	}
	ids := make([][]byte, 0, len(st.IDs))
	for _, id := range st.IDs {
		if !locked[string(id)] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
