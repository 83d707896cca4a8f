package core

import (
	"github.com/sirupsen/logrus"
)

// NativeInvoker dispatches a native-blueprint call to Go code (vault,
// bucket, proof, worktop, resource manager, auth zone, role assignment,
// metadata, royalty) or, for EntityGlobalPackage actors whose blueprint is
// WASM-backed, into the VM host (vm_host_abi.go). It is the only thing the
// System type needs from "the rest of the runtime" to answer InvokeUpstream.
type NativeInvoker interface {
	Invoke(actor Actor, args []byte) ([]byte, error)
}

// System binds the auth, costing, and limits modules into a single
// KernelCallback, mirroring the way the teacher's node wires
// independently testable subsystems behind one interface passed to a
// constructor (spec.md §4.5 "System modules are plugged into the kernel via
// a single callback interface").
type System struct {
	auth    *AuthModule
	costing *CostingModule
	limits  *LimitsModule

	invoker NativeInvoker

	// roleOf resolves (receiver, ident, directAccess) to the role name that
	// guards a method, as declared by the blueprint at publish time.
	roleOf func(actor Actor) (receiver NodeID, role string, ok bool)

	// autoDroppable reports whether a node type is allowed to self-destruct
	// at frame-return time, and performs the drop.
	autoDroppable func(frame *CallFrame, node NodeID) (bool, error)

	log *logrus.Entry
}

func NewSystem(
	auth *AuthModule,
	costing *CostingModule,
	limits *LimitsModule,
	invoker NativeInvoker,
	roleOf func(Actor) (NodeID, string, bool),
	autoDroppable func(*CallFrame, NodeID) (bool, error),
	log *logrus.Entry,
) *System {
	return &System{
		auth:          auth,
		costing:       costing,
		limits:        limits,
		invoker:       invoker,
		roleOf:        roleOf,
		autoDroppable: autoDroppable,
		log:           log,
	}
}

// BeforePushFrame implements KernelCallback: costing pre-charges the fixed
// per-invoke cost, then auth resolves and evaluates the role guarding this
// call (spec.md §4.2 step 2, §4.5).
func (s *System) BeforePushFrame(actor Actor, msg *Message) error {
	if err := s.costing.ChargeInvoke(); err != nil {
		return err
	}
	if s.roleOf == nil {
		return nil
	}
	receiver, role, ok := s.roleOf(actor)
	if !ok {
		return nil
	}
	return s.auth.Authorize(receiver, role, 0)
}

// InvokeUpstream implements KernelCallback by delegating to the configured
// native/VM dispatcher.
func (s *System) InvokeUpstream(actor Actor, args []byte) ([]byte, error) {
	return s.invoker.Invoke(actor, args)
}

// AutoDrop implements KernelCallback by delegating to the single auto-drop
// predicate passed to NewSystem (the bootloader supplies nativeAutoDrop,
// which switches on entity type).
func (s *System) AutoDrop(frame *CallFrame, node NodeID) (bool, error) {
	if s.autoDroppable == nil {
		return false, nil
	}
	return s.autoDroppable(frame, node)
}

// OnSubstateLockFault implements KernelCallback's single-retry contract
// (SPEC_FULL.md §D): the system module has no backing store of its own to
// consult, so every fault simply misses. Native blueprints that need
// first-open initialization (e.g. a resource manager lazily creating a
// total-supply field) register their own SubstateIO.OnSubstateLockFault
// hook instead of going through System.
func (s *System) OnSubstateLockFault(addr SubstateAddress) (bool, []byte) {
	return false, nil
}
