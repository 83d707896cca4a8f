package core

import "bytes"

// SubstateDevice records whether an open substate handle is currently
// backed by the heap (not-yet-globalized node) or the track (globalized or
// previously committed node).
type SubstateDevice uint8

const (
	DeviceHeap SubstateDevice = iota
	DeviceTrack
)

// LockHandle is an opaque, frame-local reference to an open substate.
type LockHandle uint32

// openLock is the bookkeeping row behind one LockHandle.
type openLock struct {
	addr      SubstateAddress
	flags     LockFlags
	device    SubstateDevice
	baseValue []byte // value observed at open time, for UnmodifiedBase checks
	written   bool
	transient bool
}

// SubstateIO is the single façade that routes a (node, partition, key) to
// either the Heap (not-yet-globalized nodes) or the Track (globalized or
// already-committed nodes), as described in spec.md §4.3. It is owned by
// the Kernel and shared across all call frames in one transaction; per-frame
// isolation of *which* handles are visible is enforced by CallFrame, not by
// SubstateIO itself.
type SubstateIO struct {
	heap  *Heap
	track *Track

	nextHandle LockHandle
	open       map[LockHandle]*openLock

	// transientFields marks which (entityType, partition, field) triples are
	// declared transient by their blueprint — such fields may never be
	// observed in the track at close time (spec.md §4.3, §9 open question).
	transientFields map[transientFieldKey]bool

	onSubstateLockFault func(addr SubstateAddress) (found bool, value []byte)
}

type transientFieldKey struct {
	entity    EntityType
	partition PartitionNumber
	field     uint8
}

func NewSubstateIO(heap *Heap, track *Track) *SubstateIO {
	return &SubstateIO{
		heap:            heap,
		track:           track,
		open:            make(map[LockHandle]*openLock),
		transientFields: make(map[transientFieldKey]bool),
	}
}

// DeclareTransientField marks a field substate as heap-only: it is never
// allowed to be globalized, and writing it to the track at close time is a
// fatal kernel error (spec.md §4.3, §9).
func (io *SubstateIO) DeclareTransientField(entity EntityType, partition PartitionNumber, field uint8) {
	io.transientFields[transientFieldKey{entity, partition, field}] = true
}

func (io *SubstateIO) isTransientField(addr SubstateAddress) bool {
	if addr.Key.Kind != SubstateKeyField {
		return false
	}
	return io.transientFields[transientFieldKey{addr.Node.EntityType(), addr.Partition, addr.Key.Field}]
}

// OnSubstateLockFault installs the system's fault hook, invoked exactly
// once when OpenSubstate finds nothing at addr (spec.md §4.1, SPEC_FULL §D).
func (io *SubstateIO) OnSubstateLockFault(fn func(addr SubstateAddress) (bool, []byte)) {
	io.onSubstateLockFault = fn
}

// OpenSubstate resolves addr to a device (heap if the node is not yet
// globalized, track otherwise), registers a read or write lock, and returns
// a handle. A miss triggers the fault hook at most once before failing with
// NotFound — never an unbounded retry loop.
func (io *SubstateIO) OpenSubstate(addr SubstateAddress, flags LockFlags, deviceIfMissing SubstateDevice) (LockHandle, error) {
	device := DeviceTrack
	var value []byte
	var found bool
	if io.heap.Contains(addr.Node) {
		device = DeviceHeap
		value, found = io.heap.Get(addr.Node, addr.Partition, addr.Key)
	} else {
		value, found = io.track.Read(addr)
	}

	if !flags.ForceWrite {
		if err := io.track.AcquireLock(addr, !flags.ReadOnly); device == DeviceTrack && err != nil {
			return 0, err
		}
	}

	if !found {
		if io.onSubstateLockFault != nil {
			found, value = io.onSubstateLockFault(addr)
		}
		if !found {
			return 0, ErrNotFound(addr)
		}
		device = deviceIfMissing
	}

	io.nextHandle++
	h := io.nextHandle
	io.open[h] = &openLock{
		addr:      addr,
		flags:     flags,
		device:    device,
		baseValue: value,
		transient: io.isTransientField(addr),
	}
	return h, nil
}

func (io *SubstateIO) ReadSubstate(h LockHandle) ([]byte, error) {
	lk, ok := io.open[h]
	if !ok {
		return nil, ErrHandleUnknown()
	}
	if lk.device == DeviceHeap {
		v, _ := io.heap.Get(lk.addr.Node, lk.addr.Partition, lk.addr.Key)
		return v, nil
	}
	v, _ := io.track.Read(lk.addr)
	return v, nil
}

func (io *SubstateIO) WriteSubstate(h LockHandle, value []byte) error {
	lk, ok := io.open[h]
	if !ok {
		return ErrHandleUnknown()
	}
	if lk.flags.ReadOnly && !lk.flags.Mutable {
		return ErrNotWritable()
	}
	if lk.device == DeviceHeap {
		io.heap.Set(lk.addr.Node, lk.addr.Partition, lk.addr.Key, value)
	} else {
		io.track.Write(lk.addr, value)
	}
	lk.written = true
	return nil
}

// CloseSubstate finalizes a handle: it is a fatal kernel error for a
// transient field to have ever been written while backed by the track
// (spec.md §4.3), and an UnmodifiedBase lock whose value changed underneath
// it is a ForcedWriteMissing error.
func (io *SubstateIO) CloseSubstate(h LockHandle) error {
	lk, ok := io.open[h]
	if !ok {
		return ErrHandleUnknown()
	}
	if lk.written && lk.transient && lk.device == DeviceTrack {
		return ErrTransientWrittenToTrack()
	}
	if lk.flags.UnmodifiedBase {
		var cur []byte
		if lk.device == DeviceHeap {
			cur, _ = io.heap.Get(lk.addr.Node, lk.addr.Partition, lk.addr.Key)
		} else {
			cur, _ = io.track.Read(lk.addr)
		}
		if !bytes.Equal(cur, lk.baseValue) {
			return ErrForcedWriteMissing()
		}
	}
	if !lk.flags.ForceWrite {
		io.track.ReleaseLock(lk.addr, !lk.flags.ReadOnly)
	}
	delete(io.open, h)
	return nil
}

// DropOpenLocksForNode force-closes every handle still open against a node
// and reports a CloseSubstate error if any of them was a forced-write lock.
// Nothing in this package calls it; Kernel.Invoke closes frame handles one
// by one instead.
func (io *SubstateIO) DropOpenLocksForNode(node NodeID) error {
	var firstErr error
	for h, lk := range io.open {
		if lk.addr.Node != node {
			continue
		}
		if lk.flags.ForceWrite && firstErr == nil {
			firstErr = ErrCloseSubstate("forced write lock left open across frame boundary")
		}
		if !lk.flags.ForceWrite {
			io.track.ReleaseLock(lk.addr, !lk.flags.ReadOnly)
		}
		delete(io.open, h)
	}
	return firstErr
}

// HasOpenLocks reports whether any substate of node is still locked —
// consulted by drop_node (spec.md §4.1: "fails if any substate is still
// open").
func (io *SubstateIO) HasOpenLocks(node NodeID) bool {
	for _, lk := range io.open {
		if lk.addr.Node == node {
			return true
		}
	}
	return false
}
