package core

// ActorKind distinguishes the four shapes an invocation's identity can take
// (spec.md §4.1).
type ActorKind uint8

const (
	ActorRoot ActorKind = iota
	ActorFunction
	ActorMethod
	ActorBlueprintHook
)

// Actor identifies the code running in a call frame.
type Actor struct {
	Kind EntityType // zero value for Root/Function

	Package   NodeID
	Blueprint string
	Ident     string

	Receiver     NodeID
	Module       PartitionNumber
	DirectAccess bool

	ActorKind ActorKind
}

func RootActor() Actor { return Actor{ActorKind: ActorRoot} }

func FunctionActor(pkg NodeID, blueprint, ident string) Actor {
	return Actor{ActorKind: ActorFunction, Package: pkg, Blueprint: blueprint, Ident: ident}
}

func MethodActor(receiver NodeID, module PartitionNumber, ident string, directAccess bool) Actor {
	return Actor{ActorKind: ActorMethod, Receiver: receiver, Module: module, Ident: ident, DirectAccess: directAccess}
}

// CallFrame represents one active invocation on the kernel's stack
// (spec.md §4.1): the nodes it owns, the references it may call, and the
// substates it currently has open.
type CallFrame struct {
	depth int
	actor Actor

	owned             map[NodeID]bool
	globalRefs        map[NodeID]bool
	directAccessRefs  map[NodeID]bool
	transientRefs     map[NodeID]bool
	openHandles       map[LockHandle]SubstateAddress

	io   *SubstateIO
	heap *Heap
}

func newCallFrame(actor Actor, depth int, io *SubstateIO, heap *Heap) *CallFrame {
	return &CallFrame{
		depth:            depth,
		actor:            actor,
		owned:            make(map[NodeID]bool),
		globalRefs:       make(map[NodeID]bool),
		directAccessRefs: make(map[NodeID]bool),
		transientRefs:    make(map[NodeID]bool),
		openHandles:      make(map[LockHandle]SubstateAddress),
		io:               io,
		heap:             heap,
	}
}

// visible reports whether this frame may address node at all — the
// condition gating every other call-frame operation (spec.md §4.1
// "Reference visibility rules").
func (f *CallFrame) visible(node NodeID) bool {
	if f.owned[node] || f.globalRefs[node] || f.transientRefs[node] {
		return true
	}
	if f.directAccessRefs[node] && node.EntityType().DirectAccessEligible() {
		return true
	}
	return false
}

// CreateNode allocates id into this frame's owned set with the given
// initial substates installed in the heap (spec.md §4.1 create_node).
func (f *CallFrame) CreateNode(id NodeID, initial map[SubstateAddress][]byte) error {
	if f.owned[id] || f.heap.Contains(id) {
		return ErrDuplicateNode(id)
	}
	for addr := range initial {
		if addr.Node != id {
			return ErrNodeIDEntityTypeMismatch()
		}
	}
	if id.EntityType().IsGlobal() {
		return ErrTransientForGlobal()
	}
	f.heap.CreateNode(id, initial)
	f.owned[id] = true
	return nil
}

// DropNode removes id from the owned set and returns its substates. It
// fails if any substate of the node is still locked. This engine's native
// blueprints never embed an owning reference to one node inside another
// node's substate payload (ownership is tracked only via each frame's
// owned set and the heap's parent/child structure), so there is no
// outgoing-reference scan to perform here; a node that owns children still
// holds them in its own owned set and dropping it without first disposing
// of those children fails independently, at the point they are found
// orphaned by the kernel's own orphan detection (spec.md §4.1 "Orphan
// detection").
func (f *CallFrame) DropNode(id NodeID) (map[PartitionNumber]map[string]heapValue, error) {
	if !f.owned[id] {
		return nil, ErrNodeNotOwned(id)
	}
	if f.io.HasOpenLocks(id) {
		return nil, ErrSubstateStillOpen()
	}
	n, ok := f.heap.RemoveNode(id)
	if !ok {
		return nil, ErrNodeNotOwned(id)
	}
	delete(f.owned, id)
	return n.partitions, nil
}

// MoveModule relocates every substate under (src, srcPartition) to
// (dst, dstPartition); both nodes must be owned by this frame.
func (f *CallFrame) MoveModule(src NodeID, srcPartition PartitionNumber, dst NodeID, dstPartition PartitionNumber) error {
	if !f.owned[src] {
		return ErrSourceNotOwned()
	}
	if !f.owned[dst] {
		return ErrDestinationNotOwned()
	}
	return f.heap.MoveModule(src, srcPartition, dst, dstPartition)
}

// OpenSubstate validates visibility, delegates to the shared SubstateIO,
// and records the handle as belonging to this frame.
func (f *CallFrame) OpenSubstate(addr SubstateAddress, flags LockFlags) (LockHandle, error) {
	if !f.visible(addr.Node) {
		if !addr.Node.EntityType().DirectAccessEligible() {
			return 0, ErrPartitionForbidden()
		}
		return 0, ErrInvalidNode()
	}
	deviceIfMissing := DeviceHeap
	if !f.owned[addr.Node] {
		deviceIfMissing = DeviceTrack
	}
	h, err := f.io.OpenSubstate(addr, flags, deviceIfMissing)
	if err != nil {
		return 0, err
	}
	f.openHandles[h] = addr
	return h, nil
}

func (f *CallFrame) ReadSubstate(h LockHandle) ([]byte, error) {
	if _, ok := f.openHandles[h]; !ok {
		return nil, ErrHandleUnknown()
	}
	return f.io.ReadSubstate(h)
}

func (f *CallFrame) WriteSubstate(h LockHandle, value []byte) error {
	if _, ok := f.openHandles[h]; !ok {
		return ErrHandleUnknown()
	}
	return f.io.WriteSubstate(h, value)
}

func (f *CallFrame) CloseSubstate(h LockHandle) error {
	if _, ok := f.openHandles[h]; !ok {
		return ErrHandleUnknown()
	}
	if err := f.io.CloseSubstate(h); err != nil {
		return err
	}
	delete(f.openHandles, h)
	return nil
}

// SetSubstate writes a map-partition entry directly without an open/close
// round trip, used by native blueprints for bulk collection maintenance
// (spec.md §4.1).
func (f *CallFrame) SetSubstate(node NodeID, partition PartitionNumber, key SubstateKey, value []byte) error {
	if key.Kind == SubstateKeyField {
		return ErrCollectionKindMismatch()
	}
	if !f.visible(node) {
		return ErrInvalidNode()
	}
	if f.owned[node] {
		f.heap.Set(node, partition, key, value)
		return nil
	}
	f.io.track.Write(SubstateAddress{Node: node, Partition: partition, Key: key}, value)
	return nil
}

func (f *CallFrame) RemoveSubstate(node NodeID, partition PartitionNumber, key SubstateKey) error {
	if !f.visible(node) {
		return ErrInvalidNode()
	}
	if f.owned[node] {
		f.heap.Remove(node, partition, key)
		return nil
	}
	f.io.track.Delete(SubstateAddress{Node: node, Partition: partition, Key: key})
	return nil
}

// Scan returns up to count entries from a map or sorted-index partition.
func (f *CallFrame) Scan(node NodeID, partition PartitionNumber, count int) ([]KVEntry, error) {
	if !f.visible(node) {
		return nil, ErrInvalidNode()
	}
	var entries []KVEntry
	if f.owned[node] {
		entries = f.heap.ListEntries(node, partition)
	} else {
		entries = f.io.track.ListEntries(node, partition)
	}
	if count >= 0 && count < len(entries) {
		entries = entries[:count]
	}
	return entries, nil
}

// Take removes and returns up to count entries, used by worktop/vault
// collection draining.
func (f *CallFrame) Take(node NodeID, partition PartitionNumber, count int) ([]KVEntry, error) {
	entries, err := f.Scan(node, partition, count)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := f.RemoveSubstate(node, partition, e.Key); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
