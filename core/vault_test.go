package core

import "testing"

func TestVaultPutTakeLifecycle(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	frame := k.RootFrame()
	vaultID := k.AllocateNodeID(EntityInternalFungibleVault)
	resource := k.AllocateNodeID(EntityGlobalFungibleResourceManager)
	init := map[SubstateAddress][]byte{
		{Node: vaultID, Partition: PartitionMain, Key: FieldKey(VaultFieldAmount)}: encodeFungibleVault(FungibleVaultState{}),
	}
	if err := frame.CreateNode(vaultID, init); err != nil {
		t.Fatalf("create vault: %v", err)
	}

	vaults := NewVaultBlueprint(nil)
	if err := vaults.Put(frame, vaultID, 100); err != nil {
		t.Fatalf("put: %v", err)
	}

	nextID := func() NodeID { return k.AllocateNodeID(EntityInternalFungibleBucket) }
	bucket, err := vaults.Take(frame, vaultID, 40, nextID, resource)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	buckets := NewBucketBlueprint()
	amt, err := buckets.GetFungibleAmount(frame, bucket)
	if err != nil {
		t.Fatalf("get bucket amount: %v", err)
	}
	if amt != 40 {
		t.Fatalf("expected bucket to hold 40, got %d", amt)
	}

	if _, err := vaults.Take(frame, vaultID, 1000, nextID, resource); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestVaultLockUnlockFungible(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	frame := k.RootFrame()
	vaultID := k.AllocateNodeID(EntityInternalFungibleVault)
	init := map[SubstateAddress][]byte{
		{Node: vaultID, Partition: PartitionMain, Key: FieldKey(VaultFieldAmount)}: encodeFungibleVault(FungibleVaultState{Amount: 50}),
	}
	if err := frame.CreateNode(vaultID, init); err != nil {
		t.Fatalf("create vault: %v", err)
	}

	vaults := NewVaultBlueprint(nil)
	if err := vaults.LockFungible(frame, vaultID, 30); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := vaults.LockFungible(frame, vaultID, 30); err == nil {
		t.Fatalf("expected second lock beyond available balance to fail")
	}
	if err := vaults.UnlockFungible(frame, vaultID, 30); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := vaults.LockFungible(frame, vaultID, 30); err != nil {
		t.Fatalf("lock after unlock should succeed: %v", err)
	}
}

func TestVaultLockFeeRepaysLoan(t *testing.T) {
	k, _ := newTestKernel(t, 8)
	frame := k.RootFrame()
	vaultID := k.AllocateNodeID(EntityInternalFungibleVault)
	init := map[SubstateAddress][]byte{
		{Node: vaultID, Partition: PartitionMain, Key: FieldKey(VaultFieldAmount)}: encodeFungibleVault(FungibleVaultState{Amount: 1000}),
	}
	if err := frame.CreateNode(vaultID, init); err != nil {
		t.Fatalf("create vault: %v", err)
	}

	reserve := NewFeeReserve(DefaultFeeTable(), 100, 0, 0, 0, nil)
	vaults := NewVaultBlueprint(nil)
	if reserve.LoanRepaid() {
		t.Fatalf("loan should not be repaid before any fee lock")
	}
	if err := vaults.LockFee(frame, vaultID, 100, reserve); err != nil {
		t.Fatalf("lock fee: %v", err)
	}
	if !reserve.LoanRepaid() {
		t.Fatalf("expected loan to be repaid after locking the full loan amount")
	}
}
