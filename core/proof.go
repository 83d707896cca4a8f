package core

import (
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

// Proof fields hold the resource this proof attests to, the amount/ids it
// covers, the vault it was locked against (so Drop can unlock the same
// amount it reserved), and the id of the original proof its clones share a
// lock with (spec.md §5.3 Proof).
const ProofField uint8 = 0

type ProofState struct {
	Resource    NodeID
	Vault       NodeID
	Amount      uint64
	IDs         [][]byte
	Group       NodeID // the originating proof's node id; shared across clones
	NonFungible bool
}

func encodeProof(s ProofState) []byte {
	b, _ := rlp.EncodeToBytes(s)
	return b
}

func decodeProof(raw []byte) (ProofState, error) {
	var s ProofState
	err := rlp.DecodeBytes(raw, &s)
	return s, err
}

// ProofBlueprint implements Proof.clone/drop/get_amount and the lock/unlock
// pairing with the backing vault it was created from (spec.md §5.3). Every
// clone of a proof is its own owned node (ownership is per-node, spec.md
// §3 invariant 4), but they all share one outstanding-count counter keyed
// by the originating proof's node id; the vault lock is only released once
// that shared counter returns to zero on Drop, never on a per-node count,
// matching the teacher's connection_pool.go pattern of a single shared
// refcount guarded by a mutex rather than state duplicated per handle.
type ProofBlueprint struct {
	vaults *VaultBlueprint

	mu        sync.Mutex
	refCounts map[NodeID]uint32 // group id -> proofs outstanding
}

func NewProofBlueprint(vaults *VaultBlueprint) *ProofBlueprint {
	return &ProofBlueprint{vaults: vaults, refCounts: make(map[NodeID]uint32)}
}

func (p *ProofBlueprint) field(proof NodeID) SubstateAddress {
	return SubstateAddress{Node: proof, Partition: PartitionMain, Key: FieldKey(ProofField)}
}

// New creates a proof node backed by amount locked on vault, for the
// caller's owned set, and opens a fresh group with one outstanding proof.
func (p *ProofBlueprint) New(frame *CallFrame, allocID func() NodeID, resource, vault NodeID, amount uint64) (NodeID, error) {
	id := allocID()
	init := map[SubstateAddress][]byte{
		{Node: id, Partition: PartitionMain, Key: FieldKey(ProofField)}: encodeProof(ProofState{
			Resource: resource, Vault: vault, Amount: amount, Group: id,
		}),
	}
	if err := frame.CreateNode(id, init); err != nil {
		return NodeID{}, err
	}
	p.mu.Lock()
	p.refCounts[id] = 1
	p.mu.Unlock()
	return id, nil
}

// NewNonFungible creates a proof node backed by ids locked on vault, the
// non-fungible counterpart to New.
func (p *ProofBlueprint) NewNonFungible(frame *CallFrame, allocID func() NodeID, resource, vault NodeID, ids [][]byte) (NodeID, error) {
	id := allocID()
	init := map[SubstateAddress][]byte{
		{Node: id, Partition: PartitionMain, Key: FieldKey(ProofField)}: encodeProof(ProofState{
			Resource: resource, Vault: vault, IDs: ids, NonFungible: true, Group: id,
		}),
	}
	if err := frame.CreateNode(id, init); err != nil {
		return NodeID{}, err
	}
	p.mu.Lock()
	p.refCounts[id] = 1
	p.mu.Unlock()
	return id, nil
}

// Clone bumps the shared group's ref count and returns a new proof node id
// aliasing the same backing lock, matching Scrypto's proof semantics where
// every clone must be independently dropped before the lock releases.
func (p *ProofBlueprint) Clone(frame *CallFrame, allocID func() NodeID, proof NodeID) (NodeID, error) {
	h, err := frame.OpenSubstate(p.field(proof), LockFlags{ReadOnly: true})
	if err != nil {
		return NodeID{}, err
	}
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		frame.CloseSubstate(h)
		return NodeID{}, err
	}
	st, err := decodeProof(raw)
	if err != nil {
		frame.CloseSubstate(h)
		return NodeID{}, err
	}
	if err := frame.CloseSubstate(h); err != nil {
		return NodeID{}, err
	}

	id := allocID()
	init := map[SubstateAddress][]byte{
		{Node: id, Partition: PartitionMain, Key: FieldKey(ProofField)}: encodeProof(st),
	}
	if err := frame.CreateNode(id, init); err != nil {
		return NodeID{}, err
	}

	p.mu.Lock()
	p.refCounts[st.Group]++
	p.mu.Unlock()
	return id, nil
}

// Drop removes proof's node and decrements its group's shared ref count;
// only once that count reaches zero does it unlock the backing vault
// amount (spec.md §5.3 edge case: "dropping a clone does not unlock the
// vault until every clone is dropped").
func (p *ProofBlueprint) Drop(frame *CallFrame, proof NodeID) error {
	h, err := frame.OpenSubstate(p.field(proof), LockFlags{ReadOnly: true})
	if err != nil {
		return err
	}
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		frame.CloseSubstate(h)
		return err
	}
	st, err := decodeProof(raw)
	if err != nil {
		frame.CloseSubstate(h)
		return err
	}
	if err := frame.CloseSubstate(h); err != nil {
		return err
	}
	if _, err := frame.DropNode(proof); err != nil {
		return err
	}

	p.mu.Lock()
	remaining := p.refCounts[st.Group]
	if remaining > 0 {
		remaining--
	}
	if remaining == 0 {
		delete(p.refCounts, st.Group)
	} else {
		p.refCounts[st.Group] = remaining
	}
	p.mu.Unlock()

	if remaining > 0 {
		return nil
	}
	if st.NonFungible {
		return p.vaults.UnlockNonFungibles(frame, st.Vault, st.IDs)
	}
	return p.vaults.UnlockFungible(frame, st.Vault, st.Amount)
}

func (p *ProofBlueprint) GetAmount(frame *CallFrame, proof NodeID) (uint64, error) {
	h, err := frame.OpenSubstate(p.field(proof), LockFlags{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return 0, err
	}
	st, err := decodeProof(raw)
	if err != nil {
		return 0, err
	}
	return st.Amount, nil
}

// IsDroppable always reports true: proofs are always safe to auto-drop at
// frame-return time since Drop itself has no failure mode that depends on
// caller intent. nativeAutoDrop drops proofs without calling it.
func (p *ProofBlueprint) IsDroppable(frame *CallFrame, proof NodeID) bool { return true }
