package core

import (
	"github.com/sirupsen/logrus"
)

// TransactionProcessor is the native blueprint that the bootloader invokes
// as the transaction's single top-level function call: it walks a Manifest,
// maintaining the bucket/proof/address-reservation name tables a manifest
// author addresses by name (spec.md §5.6, §6 "Bootloader"). CallFunction
// and CallMethod instructions go through ordinary Kernel.Invoke calls, with
// the kernel's visibility and auth checks; the worktop, proof, burn and drop
// instructions call the native blueprints directly on the current frame, so
// BeforePushFrame is not run for them.
type TransactionProcessor struct {
	kernel *Kernel
	sys    *System

	vaults    *VaultBlueprint
	buckets   *BucketBlueprint
	proofs    *ProofBlueprint
	resources *ResourceManagerBlueprint
	authZone  *AuthZoneBlueprint

	worktop *WorktopState

	bucketNames  map[BucketRef]NodeID
	proofNames   map[ProofRef]NodeID
	reservations map[AddressReservationRef]NodeID

	log *logrus.Entry
}

func NewTransactionProcessor(
	kernel *Kernel,
	sys *System,
	vaults *VaultBlueprint,
	buckets *BucketBlueprint,
	proofs *ProofBlueprint,
	resources *ResourceManagerBlueprint,
	authZone *AuthZoneBlueprint,
	log *logrus.Entry,
) *TransactionProcessor {
	return &TransactionProcessor{
		kernel:       kernel,
		sys:          sys,
		vaults:       vaults,
		buckets:      buckets,
		proofs:       proofs,
		resources:    resources,
		authZone:     authZone,
		worktop:      NewWorktopState(),
		bucketNames:  make(map[BucketRef]NodeID),
		proofNames:   make(map[ProofRef]NodeID),
		reservations: make(map[AddressReservationRef]NodeID),
		log:          log,
	}
}

// Run interprets every instruction of manifest in order, seeding the root
// auth zone with the transaction's signer proofs first. It returns the last
// instruction's return bytes (conventionally the whole manifest's result)
// and an error the moment any instruction fails — the caller (bootloader)
// is responsible for turning that into a commit-failure receipt.
func (tp *TransactionProcessor) Run(manifest Manifest) ([]byte, error) {
	tp.authZone.PushSignatureProofs(0, manifest.SignerResources)
	defer tp.authZone.Pop(0)

	var lastReturn []byte
	for i, instr := range manifest.Instructions {
		ret, err := tp.execute(instr)
		if err != nil {
			return nil, err
		}
		lastReturn = ret
		_ = i
	}

	if !tp.worktop.IsEmpty() {
		return nil, ErrWorktopNotEmptyOnEnd()
	}
	return lastReturn, nil
}

func (tp *TransactionProcessor) frame() *CallFrame { return tp.kernel.CurrentFrame() }

func (tp *TransactionProcessor) execute(instr Instruction) ([]byte, error) {
	switch instr.Kind {
	case InstrTakeFromWorktop:
		return nil, tp.takeFromWorktop(instr)
	case InstrTakeNonFungiblesFromWorktop:
		return nil, tp.takeNonFungiblesFromWorktop(instr)
	case InstrTakeAllFromWorktop:
		return nil, tp.takeAllFromWorktop(instr)
	case InstrReturnToWorktop:
		return nil, tp.returnToWorktop(instr)
	case InstrAssertWorktopContains, InstrAssertWorktopContainsAny:
		if !tp.worktop.AssertContains(instr.Resource) {
			return nil, ErrVaultInsufficientBalance()
		}
		return nil, nil
	case InstrAssertWorktopContainsNonFungibles:
		if !tp.worktop.AssertContains(instr.Resource) {
			return nil, ErrVaultInsufficientBalance()
		}
		return nil, nil
	case InstrPopFromAuthZone:
		return nil, nil // virtual proofs are already visible; nothing to materialize
	case InstrPushToAuthZone:
		if proof, ok := tp.proofNames[instr.ProofOut]; ok {
			tp.sys.auth.ZoneFor(tp.frame().depth).AddProof(proof)
		}
		return nil, nil
	case InstrCreateProofFromAuthZoneOfAmount:
		return nil, tp.createProofOfAmount(instr)
	case InstrCreateProofFromAuthZoneOfNonFungibles:
		return nil, tp.createProofOfNonFungibles(instr)
	case InstrCreateProofFromAuthZoneOfAll:
		return nil, tp.createProofOfAll(instr)
	case InstrCallFunction:
		return tp.callFunction(instr)
	case InstrCallMethod:
		return tp.callMethod(instr, PartitionMain, false)
	case InstrCallRoyaltyMethod:
		return tp.callMethod(instr, PartitionRoyalty, false)
	case InstrCallMetadataMethod:
		return tp.callMethod(instr, PartitionMetadata, false)
	case InstrCallRoleAssignmentMethod:
		return tp.callMethod(instr, PartitionRoleAssignment, false)
	case InstrCallDirectVaultMethod:
		return tp.callMethod(instr, PartitionMain, true)
	case InstrAllocateGlobalAddress:
		id := tp.kernel.AllocateNodeID(EntityGlobalAddressReservation)
		tp.reservations[instr.ReservationOut] = id
		return nil, nil
	case InstrBurnResource:
		return nil, tp.burnResource(instr)
	case InstrDropProof:
		proof, ok := tp.proofNames[instr.ProofOut]
		if !ok {
			return nil, ErrHandleUnknown()
		}
		delete(tp.proofNames, instr.ProofOut)
		return nil, tp.proofs.Drop(tp.frame(), proof)
	case InstrDropAllProofs, InstrDropAuthZoneProofs, InstrDropNamedProofs:
		for ref, proof := range tp.proofNames {
			if err := tp.proofs.Drop(tp.frame(), proof); err != nil {
				return nil, err
			}
			delete(tp.proofNames, ref)
		}
		return nil, nil
	default:
		return nil, ErrInvalidInvokeAccess()
	}
}

func (tp *TransactionProcessor) takeFromWorktop(instr Instruction) error {
	ids := tp.worktop.TakeAll(instr.Resource)
	if len(ids) == 0 {
		return ErrVaultInsufficientBalance()
	}
	remaining := instr.Amount
	for _, bucket := range ids {
		amt, err := tp.buckets.GetFungibleAmount(tp.frame(), bucket)
		if err != nil {
			return err
		}
		if amt >= remaining {
			if err := tp.buckets.TakeFungible(tp.frame(), bucket, remaining); err != nil {
				return err
			}
			if amt > remaining {
				tp.worktop.Put(instr.Resource, bucket)
			} else {
				if _, err := tp.frame().DropNode(bucket); err != nil {
					return err
				}
			}
			remaining = 0
			break
		}
		remaining -= amt
	}
	if remaining > 0 {
		return ErrVaultInsufficientBalance()
	}
	tp.bucketNames[instr.BucketOut] = ids[0]
	return nil
}

func (tp *TransactionProcessor) takeNonFungiblesFromWorktop(instr Instruction) error {
	ids := tp.worktop.TakeAll(instr.Resource)
	if len(ids) == 0 {
		return ErrVaultInsufficientBalance()
	}
	tp.bucketNames[instr.BucketOut] = ids[0]
	for _, id := range ids[1:] {
		tp.worktop.Put(instr.Resource, id)
	}
	return nil
}

func (tp *TransactionProcessor) takeAllFromWorktop(instr Instruction) error {
	ids := tp.worktop.TakeAll(instr.Resource)
	if len(ids) == 0 {
		return ErrVaultInsufficientBalance()
	}
	tp.bucketNames[instr.BucketOut] = ids[0]
	for _, id := range ids[1:] {
		if err := tp.buckets.PutFungible(tp.frame(), ids[0], id); err != nil {
			return err
		}
		if _, err := tp.frame().DropNode(id); err != nil {
			return err
		}
	}
	return nil
}

func (tp *TransactionProcessor) returnToWorktop(instr Instruction) error {
	bucket, ok := tp.bucketNames[instr.BucketIn]
	if !ok {
		return ErrHandleUnknown()
	}
	delete(tp.bucketNames, instr.BucketIn)
	tp.worktop.Put(instr.Resource, bucket)
	return nil
}

func (tp *TransactionProcessor) createProofOfAmount(instr Instruction) error {
	vault, ok := tp.bucketNames[instr.BucketIn]
	if !ok {
		return ErrHandleUnknown()
	}
	proof, err := tp.authZone.CreateProofOfAmount(tp.frame(), tp.frame().depth, func() NodeID {
		return tp.kernel.AllocateNodeID(EntityInternalFungibleProof)
	}, instr.Resource, vault, instr.Amount)
	if err != nil {
		return err
	}
	tp.proofNames[instr.ProofOut] = proof
	return nil
}

func (tp *TransactionProcessor) createProofOfNonFungibles(instr Instruction) error {
	vault, ok := tp.bucketNames[instr.BucketIn]
	if !ok {
		return ErrHandleUnknown()
	}
	proof, err := tp.authZone.CreateProofOfNonFungibles(tp.frame(), tp.frame().depth, func() NodeID {
		return tp.kernel.AllocateNodeID(EntityInternalNonFungibleProof)
	}, instr.Resource, vault, instr.IDs)
	if err != nil {
		return err
	}
	tp.proofNames[instr.ProofOut] = proof
	return nil
}

func (tp *TransactionProcessor) createProofOfAll(instr Instruction) error {
	vault, ok := tp.bucketNames[instr.BucketIn]
	if !ok {
		return ErrHandleUnknown()
	}
	proof, err := tp.authZone.CreateProofOfAll(tp.frame(), tp.frame().depth, func() NodeID {
		if instr.Resource.EntityType() == EntityGlobalNonFungibleResourceManager {
			return tp.kernel.AllocateNodeID(EntityInternalNonFungibleProof)
		}
		return tp.kernel.AllocateNodeID(EntityInternalFungibleProof)
	}, instr.Resource, vault)
	if err != nil {
		return err
	}
	tp.proofNames[instr.ProofOut] = proof
	return nil
}

func (tp *TransactionProcessor) callFunction(instr Instruction) ([]byte, error) {
	actor := FunctionActor(instr.Package, instr.Blueprint, instr.Method)
	args := instr.Args
	if instr.Blueprint == "FungibleResourceManager" || instr.Blueprint == "NonFungibleResourceManager" {
		args = encodeNativeArgs(nativeArgs{Resource: instr.Resource, Amount: instr.Amount, IDs: instr.IDs})
	}
	msg := &Message{Args: args, MoveNodes: tp.resolveBucketArgs(instr)}
	return tp.kernel.Invoke(actor, msg)
}

// isNativeBlueprintReceiver reports whether receiver addresses one of the
// vault/bucket/proof/resource-manager blueprints nativeDispatcher handles
// directly, as opposed to a user component whose Args are WASM ABI bytes it
// owns the format of.
func isNativeBlueprintReceiver(receiver NodeID) bool {
	switch receiver.EntityType() {
	case EntityInternalFungibleVault, EntityInternalNonFungibleVault,
		EntityInternalFungibleBucket, EntityInternalNonFungibleBucket,
		EntityInternalFungibleProof, EntityInternalNonFungibleProof,
		EntityGlobalFungibleResourceManager, EntityGlobalNonFungibleResourceManager:
		return true
	default:
		return false
	}
}

func (tp *TransactionProcessor) callMethod(instr Instruction, module PartitionNumber, directAccess bool) ([]byte, error) {
	actor := MethodActor(instr.Receiver, module, instr.Method, directAccess)
	args := instr.Args
	if isNativeBlueprintReceiver(instr.Receiver) {
		args = encodeNativeArgs(nativeArgs{Resource: instr.Resource, Amount: instr.Amount, IDs: instr.IDs})
	}
	msg := &Message{
		Args:           args,
		MoveNodes:      tp.resolveBucketArgs(instr),
		CopyGlobalRefs: []NodeID{instr.Receiver},
	}
	return tp.kernel.Invoke(actor, msg)
}

// resolveBucketArgs moves the single bucket named by instr.BucketIn (if
// any) into the child message's MoveNodes list. Buckets referenced only
// inside instr.Args are not looked up or moved.
func (tp *TransactionProcessor) resolveBucketArgs(instr Instruction) []NodeID {
	if instr.BucketIn == "" {
		return nil
	}
	bucket, ok := tp.bucketNames[instr.BucketIn]
	if !ok {
		return nil
	}
	delete(tp.bucketNames, instr.BucketIn)
	return []NodeID{bucket}
}

func (tp *TransactionProcessor) burnResource(instr Instruction) error {
	bucket, ok := tp.bucketNames[instr.BucketIn]
	if !ok {
		return ErrHandleUnknown()
	}
	delete(tp.bucketNames, instr.BucketIn)
	amt, err := tp.buckets.GetFungibleAmount(tp.frame(), bucket)
	if err != nil {
		return err
	}
	if err := tp.resources.BurnFungible(tp.frame(), instr.Resource, amt); err != nil {
		return err
	}
	_, err = tp.frame().DropNode(bucket)
	return err
}
