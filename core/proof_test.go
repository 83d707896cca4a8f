package core

import "testing"

func TestProofCloneAndDropUnlocksOnLastDrop(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	frame := k.RootFrame()
	vaultID := k.AllocateNodeID(EntityInternalFungibleVault)
	resource := k.AllocateNodeID(EntityGlobalFungibleResourceManager)
	init := map[SubstateAddress][]byte{
		{Node: vaultID, Partition: PartitionMain, Key: FieldKey(VaultFieldAmount)}: encodeFungibleVault(FungibleVaultState{Amount: 100}),
	}
	if err := frame.CreateNode(vaultID, init); err != nil {
		t.Fatalf("create vault: %v", err)
	}

	vaults := NewVaultBlueprint(nil)
	proofs := NewProofBlueprint(vaults)

	if err := vaults.LockFungible(frame, vaultID, 100); err != nil {
		t.Fatalf("lock fungible: %v", err)
	}
	allocID := func() NodeID { return k.AllocateNodeID(EntityInternalFungibleProof) }
	proof, err := proofs.New(frame, allocID, resource, vaultID, 100)
	if err != nil {
		t.Fatalf("new proof: %v", err)
	}
	clone, err := proofs.Clone(frame, allocID, proof)
	if err != nil {
		t.Fatalf("clone proof: %v", err)
	}

	if err := vaults.LockFungible(frame, vaultID, 1); err == nil {
		t.Fatalf("expected the vault to be fully locked while a proof is alive")
	}

	if err := proofs.Drop(frame, proof); err != nil {
		t.Fatalf("drop original proof: %v", err)
	}
	if err := vaults.LockFungible(frame, vaultID, 1); err == nil {
		t.Fatalf("expected vault to remain locked while the clone is still alive")
	}

	if err := proofs.Drop(frame, clone); err != nil {
		t.Fatalf("drop clone: %v", err)
	}
	if err := vaults.LockFungible(frame, vaultID, 1); err != nil {
		t.Fatalf("expected vault to unlock once every clone is dropped: %v", err)
	}
}

func TestBucketPutFungibleRejectsMismatchedResource(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	frame := k.RootFrame()
	resourceA := k.AllocateNodeID(EntityGlobalFungibleResourceManager)
	resourceB := k.AllocateNodeID(EntityGlobalFungibleResourceManager)

	bucketA := k.AllocateNodeID(EntityInternalFungibleBucket)
	bucketB := k.AllocateNodeID(EntityInternalFungibleBucket)
	if err := frame.CreateNode(bucketA, map[SubstateAddress][]byte{
		{Node: bucketA, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketFungible(BucketFungibleState{Resource: resourceA, Amount: 10}),
	}); err != nil {
		t.Fatalf("create bucket a: %v", err)
	}
	if err := frame.CreateNode(bucketB, map[SubstateAddress][]byte{
		{Node: bucketB, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketFungible(BucketFungibleState{Resource: resourceB, Amount: 5}),
	}); err != nil {
		t.Fatalf("create bucket b: %v", err)
	}

	buckets := NewBucketBlueprint()
	if err := buckets.PutFungible(frame, bucketA, bucketB); err == nil {
		t.Fatalf("expected mismatched resource error")
	}
}

func TestBucketIsEmptyFungible(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	frame := k.RootFrame()
	resource := k.AllocateNodeID(EntityGlobalFungibleResourceManager)
	bucket := k.AllocateNodeID(EntityInternalFungibleBucket)
	if err := frame.CreateNode(bucket, map[SubstateAddress][]byte{
		{Node: bucket, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}: encodeBucketFungible(BucketFungibleState{Resource: resource, Amount: 0}),
	}); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	buckets := NewBucketBlueprint()
	empty, err := buckets.IsEmptyFungible(frame, bucket)
	if err != nil {
		t.Fatalf("is empty: %v", err)
	}
	if !empty {
		t.Fatalf("expected freshly created zero-amount bucket to be empty")
	}
}
