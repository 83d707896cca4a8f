package core

import "github.com/ethereum/go-ethereum/rlp"

// nativeArgs is the RLP envelope the transaction processor encodes into a
// native method call's Message.Args: every native method takes at most one
// scalar amount and one id set, so a single shared shape covers the whole
// vault/bucket/proof/resource-manager surface (spec.md §5) without a
// per-method wire type.
type nativeArgs struct {
	Resource NodeID
	Amount   uint64
	IDs      [][]byte
}

func encodeNativeArgs(a nativeArgs) []byte {
	b, _ := rlp.EncodeToBytes(a)
	return b
}

func decodeNativeArgs(args []byte) nativeArgs {
	if len(args) == 0 {
		return nativeArgs{}
	}
	var a nativeArgs
	if err := rlp.DecodeBytes(args, &a); err != nil {
		return nativeArgs{}
	}
	return a
}

func encodeNodeID(id NodeID) []byte {
	b, _ := rlp.EncodeToBytes(id)
	return b
}

func encodeAmount(amount uint64) []byte {
	b, _ := rlp.EncodeToBytes(amount)
	return b
}

func encodeIDs(ids [][]byte) []byte {
	b, _ := rlp.EncodeToBytes(ids)
	return b
}

// nativeDispatcher implements NativeInvoker by routing an Actor to the
// matching native blueprint method. A real deployment also consults a
// package registry to decide whether a given Actor.Package is natively
// implemented or WASM-backed (vm_host_abi.go handles the latter); this
// dispatcher only covers the fixed native set held by its four blueprint
// fields (spec.md §5). kernel is wired in by Bootloader.Run once the kernel
// exists, the same late-binding NewVaultBlueprint(nil)/vaults.sys pattern
// uses to break the constructor cycle between System and Kernel.
type nativeDispatcher struct {
	kernel *Kernel

	vaults    *VaultBlueprint
	buckets   *BucketBlueprint
	proofs    *ProofBlueprint
	resources *ResourceManagerBlueprint
}

// movedNode returns the single node the parent frame moved into the current
// (just-pushed) child frame as a call argument, if any. A freshly pushed
// frame's owned set holds nothing but Message.MoveNodes at the moment
// InvokeUpstream runs, so this is how Invoke recovers "the bucket argument"
// without NativeInvoker needing a richer signature than (Actor, []byte).
func movedNode(frame *CallFrame) (NodeID, bool) {
	for id := range frame.owned {
		return id, true
	}
	return NodeID{}, false
}

func (n *nativeDispatcher) Invoke(actor Actor, args []byte) ([]byte, error) {
	frame := n.kernel.CurrentFrame()
	a := decodeNativeArgs(args)

	if actor.ActorKind == ActorFunction {
		return n.invokeResourceManagerCreate(frame, actor, a)
	}
	if actor.ActorKind != ActorMethod {
		return nil, ErrInvalidInvokeAccess()
	}

	switch actor.Receiver.EntityType() {
	case EntityInternalFungibleVault, EntityInternalNonFungibleVault:
		return n.invokeVault(frame, actor, a)
	case EntityInternalFungibleBucket, EntityInternalNonFungibleBucket:
		return n.invokeBucket(frame, actor, a)
	case EntityInternalFungibleProof, EntityInternalNonFungibleProof:
		return n.invokeProof(frame, actor)
	case EntityGlobalFungibleResourceManager, EntityGlobalNonFungibleResourceManager:
		return n.invokeResourceManager(frame, actor, a)
	default:
		return nil, ErrInvalidInvokeAccess()
	}
}

// returnBucket hands a bucket a native call just created back to the caller
// (the frame that pushed this one) and encodes its id as the call's return
// value, exactly as a CallMethod/CallFunction instruction expects to recover
// a result bucket from the manifest wire format (SPEC_FULL.md §B).
func (n *nativeDispatcher) returnBucket(bucket NodeID) ([]byte, error) {
	if err := n.kernel.ReturnNode(bucket); err != nil {
		return nil, err
	}
	return encodeNodeID(bucket), nil
}

func (n *nativeDispatcher) invokeVault(frame *CallFrame, actor Actor, a nativeArgs) ([]byte, error) {
	vault := actor.Receiver
	nonFungible := vault.EntityType() == EntityInternalNonFungibleVault

	switch actor.Ident {
	case "put":
		bucket, ok := movedNode(frame)
		if !ok {
			return nil, ErrHandleUnknown()
		}
		if nonFungible {
			ids, err := n.buckets.GetNonFungibleIDs(frame, bucket)
			if err != nil {
				return nil, err
			}
			if err := n.vaults.PutNonFungible(frame, vault, ids); err != nil {
				return nil, err
			}
		} else {
			amt, err := n.buckets.GetFungibleAmount(frame, bucket)
			if err != nil {
				return nil, err
			}
			if err := n.vaults.Put(frame, vault, amt); err != nil {
				return nil, err
			}
		}
		_, err := frame.DropNode(bucket)
		return nil, err
	case "take":
		if nonFungible {
			bucket, err := n.vaults.TakeNonFungibles(frame, vault, a.IDs, n.allocBucket(true), a.Resource)
			if err != nil {
				return nil, err
			}
			return n.returnBucket(bucket)
		}
		bucket, err := n.vaults.Take(frame, vault, a.Amount, n.allocBucket(false), a.Resource)
		if err != nil {
			return nil, err
		}
		return n.returnBucket(bucket)
	case "take_all":
		if nonFungible {
			ids, err := n.vaults.LiquidNonFungibleIDs(frame, vault)
			if err != nil {
				return nil, err
			}
			bucket, err := n.vaults.TakeNonFungibles(frame, vault, ids, n.allocBucket(true), a.Resource)
			if err != nil {
				return nil, err
			}
			return n.returnBucket(bucket)
		}
		amount, err := n.vaults.TakeAll(frame, vault)
		if err != nil {
			return nil, err
		}
		id := n.allocBucket(false)()
		init := map[SubstateAddress][]byte{
			{Node: id, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketFungible(BucketFungibleState{Resource: a.Resource, Amount: amount}),
		}
		if err := frame.CreateNode(id, init); err != nil {
			return nil, err
		}
		return n.returnBucket(id)
	case "lock_fungible":
		return nil, n.vaults.LockFungible(frame, vault, a.Amount)
	case "unlock_fungible":
		return nil, n.vaults.UnlockFungible(frame, vault, a.Amount)
	case "lock_non_fungibles":
		return nil, n.vaults.LockNonFungibles(frame, vault, a.IDs)
	case "unlock_non_fungibles":
		return nil, n.vaults.UnlockNonFungibles(frame, vault, a.IDs)
	case "recall":
		bucket, err := n.vaults.Recall(frame, vault, a.Amount, n.allocBucket(nonFungible), a.Resource)
		if err != nil {
			return nil, err
		}
		return n.returnBucket(bucket)
	case "burn":
		return nil, n.vaults.Burn(frame, vault, a.Amount)
	case "get_amount":
		amount, err := n.vaults.GetAmount(frame, vault)
		if err != nil {
			return nil, err
		}
		return encodeAmount(amount), nil
	case "get_non_fungible_ids":
		ids, err := n.vaults.GetNonFungibleIDs(frame, vault)
		if err != nil {
			return nil, err
		}
		return encodeIDs(ids), nil
	default:
		return nil, ErrInvalidInvokeAccess()
	}
}

// allocBucket returns a NodeID allocator scoped to fungible or non-fungible
// buckets, matching the entity-type-tagged allocation every other blueprint
// performs through Kernel.AllocateNodeID.
func (n *nativeDispatcher) allocBucket(nonFungible bool) func() NodeID {
	return func() NodeID {
		if nonFungible {
			return n.kernel.AllocateNodeID(EntityInternalNonFungibleBucket)
		}
		return n.kernel.AllocateNodeID(EntityInternalFungibleBucket)
	}
}

func (n *nativeDispatcher) invokeBucket(frame *CallFrame, actor Actor, a nativeArgs) ([]byte, error) {
	bucket := actor.Receiver
	nonFungible := bucket.EntityType() == EntityInternalNonFungibleBucket

	switch actor.Ident {
	case "put":
		src, ok := movedNode(frame)
		if !ok {
			return nil, ErrHandleUnknown()
		}
		if nonFungible {
			return nil, ErrInvalidInvokeAccess() // non-fungible buckets are merged by the worktop, not Bucket.put
		}
		if err := n.buckets.PutFungible(frame, bucket, src); err != nil {
			return nil, err
		}
		_, err := frame.DropNode(src)
		return nil, err
	case "take":
		if err := n.buckets.TakeFungible(frame, bucket, a.Amount); err != nil {
			return nil, err
		}
		id := n.kernel.AllocateNodeID(EntityInternalFungibleBucket)
		init := map[SubstateAddress][]byte{
			{Node: id, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketFungible(BucketFungibleState{Resource: a.Resource, Amount: a.Amount}),
		}
		if err := frame.CreateNode(id, init); err != nil {
			return nil, err
		}
		return n.returnBucket(id)
	case "get_amount":
		amount, err := n.buckets.GetFungibleAmount(frame, bucket)
		if err != nil {
			return nil, err
		}
		return encodeAmount(amount), nil
	case "get_non_fungible_ids":
		ids, err := n.buckets.GetNonFungibleIDs(frame, bucket)
		if err != nil {
			return nil, err
		}
		return encodeIDs(ids), nil
	case "is_empty":
		var empty bool
		var err error
		if nonFungible {
			empty, err = n.buckets.IsEmptyNonFungible(frame, bucket)
		} else {
			empty, err = n.buckets.IsEmptyFungible(frame, bucket)
		}
		if err != nil {
			return nil, err
		}
		if empty {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		return nil, ErrInvalidInvokeAccess()
	}
}

func (n *nativeDispatcher) invokeProof(frame *CallFrame, actor Actor) ([]byte, error) {
	proof := actor.Receiver
	switch actor.Ident {
	case "clone":
		nonFungible := proof.EntityType() == EntityInternalNonFungibleProof
		clone, err := n.proofs.Clone(frame, n.allocProof(nonFungible), proof)
		if err != nil {
			return nil, err
		}
		return n.returnBucket(clone)
	case "drop":
		return nil, n.proofs.Drop(frame, proof)
	case "get_amount":
		amount, err := n.proofs.GetAmount(frame, proof)
		if err != nil {
			return nil, err
		}
		return encodeAmount(amount), nil
	default:
		return nil, ErrInvalidInvokeAccess()
	}
}

func (n *nativeDispatcher) allocProof(nonFungible bool) func() NodeID {
	return func() NodeID {
		if nonFungible {
			return n.kernel.AllocateNodeID(EntityInternalNonFungibleProof)
		}
		return n.kernel.AllocateNodeID(EntityInternalFungibleProof)
	}
}

// invokeResourceManagerCreate handles the two function-style (not
// method-style) native calls: a resource manager is created by calling a
// function on its blueprint before any component instance exists to be the
// receiver, the same CallFunction shape a WASM package constructor uses
// (spec.md §5.6 "create_fungible_resource_manager"/"create_non_fungible_
// resource_manager").
func (n *nativeDispatcher) invokeResourceManagerCreate(frame *CallFrame, actor Actor, a nativeArgs) ([]byte, error) {
	switch actor.Blueprint {
	case "FungibleResourceManager":
		manager := n.kernel.AllocateNodeID(EntityGlobalFungibleResourceManager)
		if err := n.resources.CreateFungible(frame, manager, uint8(a.Amount)); err != nil {
			return nil, err
		}
		return encodeNodeID(manager), nil
	case "NonFungibleResourceManager":
		manager := n.kernel.AllocateNodeID(EntityGlobalNonFungibleResourceManager)
		if err := n.resources.CreateNonFungible(frame, manager); err != nil {
			return nil, err
		}
		return encodeNodeID(manager), nil
	default:
		return nil, ErrInvalidInvokeAccess()
	}
}

func (n *nativeDispatcher) invokeResourceManager(frame *CallFrame, actor Actor, a nativeArgs) ([]byte, error) {
	manager := actor.Receiver
	nonFungible := manager.EntityType() == EntityGlobalNonFungibleResourceManager

	switch actor.Ident {
	case "mint_fungible":
		bucket, err := n.resources.MintFungible(frame, manager, a.Amount, n.allocBucket(false))
		if err != nil {
			return nil, err
		}
		return n.returnBucket(bucket)
	case "mint_non_fungible":
		bucket, err := n.resources.MintNonFungible(frame, manager, a.IDs, n.allocBucket(true))
		if err != nil {
			return nil, err
		}
		return n.returnBucket(bucket)
	case "burn":
		bucket, ok := movedNode(frame)
		if !ok {
			return nil, ErrHandleUnknown()
		}
		if nonFungible {
			ids, err := n.buckets.GetNonFungibleIDs(frame, bucket)
			if err != nil {
				return nil, err
			}
			if err := n.resources.BurnNonFungible(frame, manager, ids); err != nil {
				return nil, err
			}
		} else {
			amt, err := n.buckets.GetFungibleAmount(frame, bucket)
			if err != nil {
				return nil, err
			}
			if err := n.resources.BurnFungible(frame, manager, amt); err != nil {
				return nil, err
			}
		}
		_, err := frame.DropNode(bucket)
		return nil, err
	case "new_empty_vault":
		var allocVault func() NodeID
		if nonFungible {
			allocVault = func() NodeID { return n.kernel.AllocateNodeID(EntityInternalNonFungibleVault) }
		} else {
			allocVault = func() NodeID { return n.kernel.AllocateNodeID(EntityInternalFungibleVault) }
		}
		vault, err := n.resources.NewEmptyVault(frame, manager, allocVault, !nonFungible)
		if err != nil {
			return nil, err
		}
		if err := n.kernel.ReturnNode(vault); err != nil {
			return nil, err
		}
		return encodeNodeID(vault), nil
	default:
		return nil, ErrInvalidInvokeAccess()
	}
}
