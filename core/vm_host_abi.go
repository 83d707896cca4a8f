package core

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// WasmInvoker runs a WASM-backed package's function/method export behind
// the same host ABI every blueprint call goes through (spec.md §6 "Scrypto
// VM"), adapted from the teacher's HeavyVM host-function registration
// (`virtual_machine.go`). Unlike the teacher's single store/op/read/write
// ABI, this host surface exposes substate open/read/write/close, the
// actor's receiver id, costing, logging and panic. It has no host
// functions for creating, dropping or globalizing nodes.
type WasmInvoker struct {
	engine *wasmer.Engine
	frame  *CallFrame
	kernel *Kernel
	sys    *System
	log    *logrus.Entry

	modules map[NodeID][]byte // package node id -> compiled WASM bytes
}

func NewWasmInvoker(kernel *Kernel, sys *System, log *logrus.Entry) *WasmInvoker {
	return &WasmInvoker{
		engine:  wasmer.NewEngine(),
		kernel:  kernel,
		sys:     sys,
		log:     log,
		modules: make(map[NodeID][]byte),
	}
}

// PublishPackage registers the compiled WASM bytes backing a package node,
// analogous to the teacher's `contracts` map but keyed by NodeID instead of
// an EVM-style Address.
func (w *WasmInvoker) PublishPackage(pkg NodeID, wasmBytes []byte) {
	w.modules[pkg] = wasmBytes
}

// Invoke implements NativeInvoker for WASM-backed package actors: it
// compiles the package's module afresh on every call (no compile is
// cached), wires the host ABI, and calls the export matching actor.Ident.
func (w *WasmInvoker) Invoke(actor Actor, args []byte) ([]byte, error) {
	code, ok := w.modules[actor.Package]
	if !ok {
		return nil, ErrVMInvalidExport(actor.Ident)
	}

	store := wasmer.NewStore(w.engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return nil, ErrVMTrap(err.Error())
	}

	hctx := &hostCtx{
		frame:  w.kernel.CurrentFrame(),
		kernel: w.kernel,
		sys:    w.sys,
		actor:  actor,
		args:   args,
	}
	imports := registerHostABI(store, hctx)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, ErrVMTrap(err.Error())
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, ErrVMInvalidExport("memory")
	}
	hctx.mem = mem

	export, err := instance.Exports.GetFunction(actor.Ident)
	if err != nil {
		return nil, ErrVMInvalidExport(actor.Ident)
	}
	if _, err := export(); err != nil {
		return nil, ErrVMPanic(err.Error())
	}
	if hctx.trapErr != nil {
		return nil, hctx.trapErr
	}
	return hctx.returnValue, nil
}

// hostCtx is the per-invocation state every host-exported function closes
// over: the call frame it runs against, a cursor into guest linear memory,
// and the accumulated return value/trap.
type hostCtx struct {
	mem    *wasmer.Memory
	frame  *CallFrame
	kernel *Kernel
	sys    *System
	actor  Actor
	args   []byte

	openHandles []LockHandle
	returnValue []byte
	trapErr     error
}

func (h *hostCtx) read(ptr, ln int32) []byte {
	data := h.mem.Data()[ptr : ptr+ln]
	out := make([]byte, ln)
	copy(out, data)
	return out
}

func (h *hostCtx) write(ptr int32, data []byte) { copy(h.mem.Data()[ptr:], data) }

// registerHostABI builds the "env" import namespace a guest blueprint links
// against: substate_open/read/write/close, actor_get_node_id,
// costing_consume, runtime_emit_log, and runtime_panic. There are no
// object_new, kv_store_new, address_allocate, globalize or
// actor_emit_event imports.
func registerHostABI(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	i32 := wasmer.ValueKind(wasmer.I32)

	substateOpen := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32, i32, i32),
			wasmer.NewValueTypes(i32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			nodePtr, partition, keyPtr, keyLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			var node NodeID
			copy(node[:], h.read(nodePtr, 30))
			key := MapKey(h.read(keyPtr, keyLen))
			addr := SubstateAddress{Node: node, Partition: PartitionNumber(partition), Key: key}
			handle, err := h.frame.OpenSubstate(addr, LockFlags{Mutable: true})
			if err != nil {
				h.trapErr = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.openHandles = append(h.openHandles, handle)
			return []wasmer.Value{wasmer.NewI32(int32(handle))}, nil
		},
	)

	substateRead := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32),
			wasmer.NewValueTypes(i32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			handle, dstPtr := LockHandle(args[0].I32()), args[1].I32()
			val, err := h.frame.ReadSubstate(handle)
			if err != nil {
				h.trapErr = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.write(dstPtr, val)
			return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
		},
	)

	substateWrite := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32, i32),
			wasmer.NewValueTypes(i32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			handle, valPtr, valLen := LockHandle(args[0].I32()), args[1].I32(), args[2].I32()
			val := h.read(valPtr, valLen)
			if err := h.sys.limits.CheckSubstateSize(val); err != nil {
				h.trapErr = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if err := h.frame.WriteSubstate(handle, val); err != nil {
				h.trapErr = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	substateClose := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32),
			wasmer.NewValueTypes(i32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			handle := LockHandle(args[0].I32())
			if err := h.frame.CloseSubstate(handle); err != nil {
				h.trapErr = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	costingConsume := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32),
			wasmer.NewValueTypes(i32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			fuel := uint64(args[0].I32())
			if err := h.sys.costing.reserve.ConsumeExecution(fuel * h.sys.costing.reserve.table.RunWasmPerFuel); err != nil {
				h.trapErr = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	runtimeEmitLog := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			msg := h.read(ptr, ln)
			if err := h.sys.limits.CheckLogSize(msg); err != nil {
				h.trapErr = err
			}
			return []wasmer.Value{}, nil
		},
	)

	runtimePanic := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32, i32),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			h.trapErr = ErrVMPanic(string(h.read(ptr, ln)))
			return []wasmer.Value{}, errors.New("guest panic")
		},
	)

	actorGetNodeID := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(i32),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dstPtr := args[0].I32()
			h.write(dstPtr, h.actor.Receiver[:])
			return []wasmer.Value{}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"substate_open":      substateOpen,
		"substate_read":      substateRead,
		"substate_write":     substateWrite,
		"substate_close":     substateClose,
		"costing_consume":    costingConsume,
		"runtime_emit_log":   runtimeEmitLog,
		"runtime_panic":      runtimePanic,
		"actor_get_node_id":  actorGetNodeID,
	})

	return imports
}
