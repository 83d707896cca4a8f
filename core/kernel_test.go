package core

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestKernel(t *testing.T, maxDepth int) (*Kernel, *Track) {
	t.Helper()
	db, err := OpenSubstateDatabase(SubstateDatabaseConfig{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	track := NewTrack(db, logrus.NewEntry(logrus.New()))
	reserve := NewFeeReserve(DefaultFeeTable(), 0, 0, 0, 0, logrus.NewEntry(logrus.New()))
	costing := NewCostingModule(reserve)
	costing.Attach(track)
	auth := NewAuthModule(func(NodeID) NodeID { return NodeID{} }, logrus.NewEntry(logrus.New()))
	limits := NewLimitsModule(DefaultLimitsConfig())
	sys := NewSystem(auth, costing, limits, &stubInvoker{}, nil, nil, logrus.NewEntry(logrus.New()))
	kernel := NewKernel(track, sys, Hash{1, 2, 3}, maxDepth, logrus.NewEntry(logrus.New()))
	return kernel, track
}

type stubInvoker struct{}

func (s *stubInvoker) Invoke(actor Actor, args []byte) ([]byte, error) { return args, nil }

func TestAllocateNodeIDDeterministic(t *testing.T) {
	k1, _ := newTestKernel(t, 8)
	k2, _ := newTestKernel(t, 8)
	id1 := k1.AllocateNodeID(EntityGlobalComponent)
	id2 := k2.AllocateNodeID(EntityGlobalComponent)
	if id1 != id2 {
		t.Fatalf("expected deterministic allocation across identical kernels, got %s vs %s", id1, id2)
	}
	id1b := k1.AllocateNodeID(EntityGlobalComponent)
	if id1b == id1 {
		t.Fatalf("expected second allocation to differ from the first")
	}
}

func TestCreateNodeAndDropNodeRoundTrip(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	root := k.RootFrame()
	id := k.AllocateNodeID(EntityInternalFungibleVault)
	init := map[SubstateAddress][]byte{
		{Node: id, Partition: PartitionMain, Key: FieldKey(0)}: []byte("hello"),
	}
	if err := root.CreateNode(id, init); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if !root.owned[id] {
		t.Fatalf("expected node to be owned after create")
	}
	partitions, err := root.DropNode(id)
	if err != nil {
		t.Fatalf("drop node: %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("expected 1 partition to survive drop, got %d", len(partitions))
	}
	if root.owned[id] {
		t.Fatalf("expected node to be released from owned set after drop")
	}
}

func TestDropNodeFailsWhileLocked(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	root := k.RootFrame()
	id := k.AllocateNodeID(EntityInternalFungibleVault)
	init := map[SubstateAddress][]byte{
		{Node: id, Partition: PartitionMain, Key: FieldKey(0)}: []byte("x"),
	}
	if err := root.CreateNode(id, init); err != nil {
		t.Fatalf("create node: %v", err)
	}
	h, err := root.OpenSubstate(SubstateAddress{Node: id, Partition: PartitionMain, Key: FieldKey(0)}, LockFlags{ReadOnly: true})
	if err != nil {
		t.Fatalf("open substate: %v", err)
	}
	if _, err := root.DropNode(id); err == nil {
		t.Fatalf("expected drop to fail while a substate is still open")
	}
	if err := root.CloseSubstate(h); err != nil {
		t.Fatalf("close substate: %v", err)
	}
	if _, err := root.DropNode(id); err != nil {
		t.Fatalf("expected drop to succeed once the lock is released: %v", err)
	}
}

func TestInvokeEnforcesMaxCallDepth(t *testing.T) {
	k, _ := newTestKernel(t, 1)
	msg := &Message{}
	if _, err := k.Invoke(FunctionActor(NodeID{}, "Bp", "fn"), msg); err != nil {
		t.Fatalf("expected the first invoke within depth budget to succeed: %v", err)
	}
	// After the frame pops, depth resets; push two nested frames manually by
	// invoking from within a stub that itself calls Invoke would require a
	// real upstream dispatcher, so we assert the guard directly instead.
	k.frames = append(k.frames, newCallFrame(RootActor(), 5, k.io, k.heap))
	if _, err := k.Invoke(FunctionActor(NodeID{}, "Bp", "fn"), msg); err == nil {
		t.Fatalf("expected max call depth error once frames exceed maxDepth")
	}
}

func TestInvokeOrphanDetection(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	k.system = &orphaningSystem{System: k.system.(*System), kernel: k}
	if _, err := k.Invoke(FunctionActor(NodeID{}, "Bp", "fn"), &Message{}); err == nil {
		t.Fatalf("expected orphaned node to be rejected")
	}
}

// orphaningSystem wraps System so InvokeUpstream creates a node in the
// child frame and never drops it, exercising the kernel's orphan detection
// at invoke step 9.
type orphaningSystem struct {
	*System
	kernel *Kernel
}

func (o *orphaningSystem) InvokeUpstream(actor Actor, args []byte) ([]byte, error) {
	child := o.kernel.CurrentFrame()
	id := o.kernel.AllocateNodeID(EntityInternalFungibleVault)
	if err := child.CreateNode(id, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

func (o *orphaningSystem) AutoDrop(frame *CallFrame, node NodeID) (bool, error) {
	return false, nil
}
