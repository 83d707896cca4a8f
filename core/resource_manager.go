package core

import "github.com/ethereum/go-ethereum/rlp"

// ResourceManager fields: field 0 holds total supply (fungible) or the
// divisibility/id-type configuration plus total supply (non-fungible)
// (spec.md §5.6 ResourceManager — supplemented from original_source/, which
// the distilled spec's "native resource blueprints" module only sketches).
const ResourceManagerField uint8 = 0

type ResourceManagerState struct {
	Fungible     bool
	Divisibility uint8
	TotalSupply  uint64
	MintedIDs    [][]byte
}

func encodeResourceManager(s ResourceManagerState) []byte {
	b, _ := rlp.EncodeToBytes(s)
	return b
}

func decodeResourceManager(raw []byte) (ResourceManagerState, error) {
	var s ResourceManagerState
	err := rlp.DecodeBytes(raw, &s)
	return s, err
}

// ResourceManagerBlueprint implements resource creation, fungible/
// non-fungible minting, and burning (spec.md §5.6). A resource manager is
// always a global node (EntityGlobalFungibleResourceManager or
// EntityGlobalNonFungibleResourceManager). Minting runs through an ordinary
// method call, so auth and costing apply to it; the transaction processor's
// burn instruction calls BurnFungible directly, without a frame push.
type ResourceManagerBlueprint struct {
	vaults *VaultBlueprint
}

func NewResourceManagerBlueprint(vaults *VaultBlueprint) *ResourceManagerBlueprint {
	return &ResourceManagerBlueprint{vaults: vaults}
}

func (r *ResourceManagerBlueprint) field(manager NodeID) SubstateAddress {
	return SubstateAddress{Node: manager, Partition: PartitionMain, Key: FieldKey(ResourceManagerField)}
}

// CreateFungible installs the field substate for a newly allocated fungible
// resource manager node, which the caller then globalizes.
func (r *ResourceManagerBlueprint) CreateFungible(frame *CallFrame, manager NodeID, divisibility uint8) error {
	init := map[SubstateAddress][]byte{
		r.field(manager): encodeResourceManager(ResourceManagerState{Fungible: true, Divisibility: divisibility}),
	}
	return frame.CreateNode(manager, init)
}

func (r *ResourceManagerBlueprint) CreateNonFungible(frame *CallFrame, manager NodeID) error {
	init := map[SubstateAddress][]byte{
		r.field(manager): encodeResourceManager(ResourceManagerState{Fungible: false}),
	}
	return frame.CreateNode(manager, init)
}

// MintFungible increases total supply and returns a bucket holding the new
// tokens.
func (r *ResourceManagerBlueprint) MintFungible(frame *CallFrame, manager NodeID, amount uint64, allocID func() NodeID) (NodeID, error) {
	h, err := frame.OpenSubstate(r.field(manager), LockFlags{Mutable: true})
	if err != nil {
		return NodeID{}, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return NodeID{}, err
	}
	st, err := decodeResourceManager(raw)
	if err != nil {
		return NodeID{}, err
	}
	st.TotalSupply += amount
	if err := frame.WriteSubstate(h, encodeResourceManager(st)); err != nil {
		return NodeID{}, err
	}
	bucket := allocID()
	init := map[SubstateAddress][]byte{
		{Node: bucket, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketFungible(BucketFungibleState{Resource: manager, Amount: amount}),
	}
	if err := frame.CreateNode(bucket, init); err != nil {
		return NodeID{}, err
	}
	return bucket, nil
}

// MintNonFungible mints a batch of freshly issued ids into a bucket.
func (r *ResourceManagerBlueprint) MintNonFungible(frame *CallFrame, manager NodeID, ids [][]byte, allocID func() NodeID) (NodeID, error) {
	h, err := frame.OpenSubstate(r.field(manager), LockFlags{Mutable: true})
	if err != nil {
		return NodeID{}, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return NodeID{}, err
	}
	st, err := decodeResourceManager(raw)
	if err != nil {
		return NodeID{}, err
	}
	existing := map[string]bool{}
	for _, id := range st.MintedIDs {
		existing[string(id)] = true
	}
	for _, id := range ids {
		if existing[string(id)] {
			return NodeID{}, ErrDropNonEmptyBucket() // id collision reuses the closest taxonomy error
		}
	}
	st.MintedIDs = append(st.MintedIDs, ids...)
	st.TotalSupply += uint64(len(ids))
	if err := frame.WriteSubstate(h, encodeResourceManager(st)); err != nil {
		return NodeID{}, err
	}
	bucket := allocID()
	init := map[SubstateAddress][]byte{
		{Node: bucket, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketNonFungible(BucketNonFungibleState{Resource: manager, IDs: ids}),
	}
	if err := frame.CreateNode(bucket, init); err != nil {
		return NodeID{}, err
	}
	return bucket, nil
}

// BurnFungible decreases total supply by amount, expected to be called
// after the caller has already withdrawn amount into a bucket and passed
// ownership of that bucket's contents here.
func (r *ResourceManagerBlueprint) BurnFungible(frame *CallFrame, manager NodeID, amount uint64) error {
	h, err := frame.OpenSubstate(r.field(manager), LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeResourceManager(raw)
	if err != nil {
		return err
	}
	if st.TotalSupply < amount {
		return ErrVaultInsufficientBalance()
	}
	st.TotalSupply -= amount
	return frame.WriteSubstate(h, encodeResourceManager(st))
}

func (r *ResourceManagerBlueprint) BurnNonFungible(frame *CallFrame, manager NodeID, ids [][]byte) error {
	h, err := frame.OpenSubstate(r.field(manager), LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeResourceManager(raw)
	if err != nil {
		return err
	}
	remove := map[string]bool{}
	for _, id := range ids {
		remove[string(id)] = true
	}
	kept := st.MintedIDs[:0]
	for _, id := range st.MintedIDs {
		if !remove[string(id)] {
			kept = append(kept, id)
		}
	}
	st.MintedIDs = kept
	if uint64(len(ids)) > st.TotalSupply {
		return ErrVaultInsufficientBalance()
	}
	st.TotalSupply -= uint64(len(ids))
	return frame.WriteSubstate(h, encodeResourceManager(st))
}

// NewEmptyVault creates an empty vault node for this resource, used when an
// account or component provisions storage for a resource it has not held
// before.
func (r *ResourceManagerBlueprint) NewEmptyVault(frame *CallFrame, manager NodeID, allocID func() NodeID, fungible bool) (NodeID, error) {
	id := allocID()
	var init map[SubstateAddress][]byte
	if fungible {
		init = map[SubstateAddress][]byte{
			{Node: id, Partition: PartitionMain, Key: FieldKey(VaultFieldAmount)}: encodeFungibleVault(FungibleVaultState{}),
		}
	} else {
		init = map[SubstateAddress][]byte{
			{Node: id, Partition: PartitionMain, Key: FieldKey(VaultFieldAmount)}: encodeNonFungibleVault(NonFungibleVaultState{}),
		}
	}
	if err := frame.CreateNode(id, init); err != nil {
		return NodeID{}, err
	}
	return id, nil
}
