package core

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// KernelCallback is the system layer's hook surface into the kernel's
// invocation sequence (spec.md §4.2). The kernel never interprets these
// calls itself; it only sequences them around push/execute/pop.
type KernelCallback interface {
	// BeforePushFrame lets the auth module check authorization and the
	// costing module pre-charge before a child frame is constructed.
	BeforePushFrame(actor Actor, message *Message) error

	// InvokeUpstream dispatches to native code or the WASM guest and
	// returns the raw return-value bytes.
	InvokeUpstream(actor Actor, args []byte) ([]byte, error)

	// AutoDrop is called once a child frame returns, for every node still in
	// its owned set, giving native blueprints (proofs, auth zones, empty
	// buckets, the root worktop) a chance to self-destruct cleanly instead
	// of tripping orphan detection.
	AutoDrop(frame *CallFrame, node NodeID) (dropped bool, err error)

	// OnSubstateLockFault is consulted once per miss inside open_substate.
	OnSubstateLockFault(addr SubstateAddress) (found bool, value []byte)
}

// Kernel owns the frame stack, the heap, the track, and a deterministic id
// allocator seeded from the transaction intent hash (spec.md §4.2).
type Kernel struct {
	heap  *Heap
	track *Track
	io    *SubstateIO

	frames []*CallFrame // index 0 is root
	system KernelCallback

	intentHash Hash
	nextIndex  uint64

	maxDepth int

	log *logrus.Entry
}

func NewKernel(track *Track, system KernelCallback, intentHash Hash, maxDepth int, log *logrus.Entry) *Kernel {
	heap := NewHeap()
	io := NewSubstateIO(heap, track)
	io.OnSubstateLockFault(system.OnSubstateLockFault)
	k := &Kernel{
		heap:       heap,
		track:      track,
		io:         io,
		system:     system,
		intentHash: intentHash,
		maxDepth:   maxDepth,
		log:        log,
	}
	root := newCallFrame(RootActor(), 0, io, heap)
	k.frames = append(k.frames, root)
	return k
}

func (k *Kernel) RootFrame() *CallFrame { return k.frames[0] }

func (k *Kernel) CurrentFrame() *CallFrame { return k.frames[len(k.frames)-1] }

func (k *Kernel) SubstateIO() *SubstateIO { return k.io }

func (k *Kernel) Heap() *Heap { return k.heap }

// AllocateNodeID computes the next node id deterministically: a rolling
// hash of (transaction_hash, next_index, entity_type) (spec.md §4.2).
func (k *Kernel) AllocateNodeID(entityType EntityType) NodeID {
	idx := k.nextIndex
	k.nextIndex++

	h := sha256.New()
	h.Write(k.intentHash[:])
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], idx)
	h.Write(idxBuf[:])
	h.Write([]byte{byte(entityType)})
	sum := h.Sum(nil)

	var id NodeID
	id[0] = byte(entityType)
	copy(id[1:], sum[:29])
	return id
}

// Invoke runs the full push/execute/pop sequence of spec.md §4.2 for one
// child call and returns its return-value bytes.
func (k *Kernel) Invoke(actor Actor, msg *Message) ([]byte, error) {
	if len(k.frames) > k.maxDepth {
		return nil, ErrMaxCallDepth()
	}
	parent := k.CurrentFrame()

	// Step 1: visibility.
	for _, id := range msg.CopyGlobalRefs {
		if !parent.visible(id) && !id.EntityType().IsGlobal() {
			return nil, ErrInvalidReference()
		}
	}

	// Step 2: auth + costing pre-checks.
	if err := k.system.BeforePushFrame(actor, msg); err != nil {
		return nil, err
	}

	// Validate message shape against the parent's own visibility.
	if err := msg.validateAgainstParent(parent); err != nil {
		return nil, err
	}

	// Step 3: construct and push the child frame.
	child := newCallFrame(actor, parent.depth+1, k.io, k.heap)
	msg.applyToChild(parent, child)
	k.frames = append(k.frames, child)

	// Step 4: drop any still-open substates of the parent; a forced-write
	// lock left open here is a hard error (spec.md §4.2 step 4).
	for h := range parent.openHandles {
		if lk, ok := k.io.open[h]; ok && lk.flags.ForceWrite {
			k.popFrame()
			return nil, ErrCloseSubstate("forced write lock left open across frame boundary")
		}
		if err := k.io.CloseSubstate(h); err != nil {
			k.popFrame()
			return nil, err
		}
		delete(parent.openHandles, h)
	}

	// Step 5: dispatch upstream.
	retBytes, invokeErr := k.system.InvokeUpstream(actor, msg.Args)
	if invokeErr != nil {
		k.popFrame()
		return nil, invokeErr
	}

	// Step 6: re-validate no substates remain open in the child.
	for h := range child.openHandles {
		if err := k.io.CloseSubstate(h); err != nil {
			k.popFrame()
			return nil, err
		}
		delete(child.openHandles, h)
	}

	// Step 7/8: auto-drop remaining owned nodes (proofs, auth zone, empty
	// buckets, worktop), then assert none remain.
	for node := range cloneNodeSet(child.owned) {
		dropped, err := k.system.AutoDrop(child, node)
		if err != nil {
			k.popFrame()
			return nil, err
		}
		if dropped {
			delete(child.owned, node)
		}
	}

	// Step 9: assert no owned nodes remain (orphan detection).
	if len(child.owned) > 0 {
		ids := make([]NodeID, 0, len(child.owned))
		for id := range child.owned {
			ids = append(ids, id)
		}
		k.popFrame()
		return nil, ErrOrphanedNodes(ids)
	}

	// Step 10: pop the frame and hand the return bytes back to the parent;
	// nodes reach the parent only through ReturnNode.
	k.popFrame()
	return retBytes, nil
}

// ReturnNode moves node from the current frame's owned set to its parent's,
// for a native blueprint method that creates a node (typically a bucket) and
// wants it to survive past the child frame's return instead of tripping
// orphan detection at step 9 of Invoke. This is the single-node case of
// Message.applyReturnToParent, used outside of the kernel's own push/pop
// sequence by nativeDispatcher.
func (k *Kernel) ReturnNode(node NodeID) error {
	if len(k.frames) < 2 {
		return ErrNodeNotOwned(node)
	}
	child := k.frames[len(k.frames)-1]
	parent := k.frames[len(k.frames)-2]
	if !child.owned[node] {
		return ErrNodeNotOwned(node)
	}
	(&Message{MoveNodes: []NodeID{node}}).applyReturnToParent(child, parent)
	return nil
}

func (k *Kernel) popFrame() {
	k.frames = k.frames[:len(k.frames)-1]
}

func cloneNodeSet(m map[NodeID]bool) map[NodeID]bool {
	out := make(map[NodeID]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// Globalize flushes a heap node's substates to the track at the supplied
// global address, attaching module partitions built alongside it
// (spec.md §3 "Globalize"). The node must be owned by the current frame; on
// success it leaves the owned set (it is visible to all future frames from
// now on, not merely this frame's lineage) and becomes a global reference
// for the current frame.
func (k *Kernel) Globalize(node NodeID, reservedAddr NodeID) error {
	frame := k.CurrentFrame()
	if !frame.owned[node] {
		return ErrNodeNotOwned(node)
	}
	if !reservedAddr.IsZero() && reservedAddr != node {
		return ErrInvalidBlueprintID()
	}
	if k.io.HasOpenLocks(node) {
		return ErrSubstateStillOpen()
	}
	n, ok := k.heap.RemoveNode(node)
	if !ok {
		return ErrNodeNotOwned(node)
	}
	updates := make(DatabaseUpdates)
	for partition, entries := range n.partitions {
		for _, v := range entries {
			addr := SubstateAddress{Node: node, Partition: partition, Key: v.key}
			updates[addr.lockKey()] = DatabaseUpdate{Addr: addr, Kind: DBSet, Value: v.value}
		}
	}
	// Globalized substates are committed to the track's write buffer (not
	// directly to the database) so they remain part of this transaction's
	// atomic commit-or-rollback unit.
	for _, u := range updates {
		k.track.Write(u.Addr, u.Value)
	}
	delete(frame.owned, node)
	frame.globalRefs[node] = true
	return nil
}
