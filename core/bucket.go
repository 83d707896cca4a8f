package core

import "github.com/ethereum/go-ethereum/rlp"

// Bucket fields mirror vault fields but live on a transient node: a bucket
// is the unit of value moved as an argument or return value between frames
// (spec.md §5.2 Bucket). Field 0 holds the resource+amount/ids payload.
const BucketFieldAmount uint8 = 0

type BucketFungibleState struct {
	Resource NodeID
	Amount   uint64
}

func encodeBucketFungible(s BucketFungibleState) []byte {
	b, _ := rlp.EncodeToBytes(s)
	return b
}

func decodeBucketFungible(raw []byte) (BucketFungibleState, error) {
	var s BucketFungibleState
	err := rlp.DecodeBytes(raw, &s)
	return s, err
}

type BucketNonFungibleState struct {
	Resource NodeID
	IDs      [][]byte
}

func encodeBucketNonFungible(s BucketNonFungibleState) []byte {
	b, _ := rlp.EncodeToBytes(s)
	return b
}

func decodeBucketNonFungible(raw []byte) (BucketNonFungibleState, error) {
	var s BucketNonFungibleState
	err := rlp.DecodeBytes(raw, &s)
	return s, err
}

// BucketBlueprint implements bucket put/take/get_amount and the
// empty-bucket auto-drop rule (spec.md §5.2); it has no take_all or
// get_resource_address method:
// a bucket may self-destruct at frame-return time only while holding zero
// value, exactly like the teacher's empty-pool-cleanup pattern applied here
// to a single resource container instead of a liquidity pool.
type BucketBlueprint struct{}

func NewBucketBlueprint() *BucketBlueprint { return &BucketBlueprint{} }

func (b *BucketBlueprint) field(bucket NodeID) SubstateAddress {
	return SubstateAddress{Node: bucket, Partition: PartitionMain, Key: FieldKey(BucketFieldAmount)}
}

// PutFungible merges another fungible bucket's contents into this one,
// failing if the resources differ (spec.md §5.2 put).
func (b *BucketBlueprint) PutFungible(frame *CallFrame, dst, src NodeID) error {
	dh, err := frame.OpenSubstate(b.field(dst), LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(dh)
	dRaw, err := frame.ReadSubstate(dh)
	if err != nil {
		return err
	}
	dSt, err := decodeBucketFungible(dRaw)
	if err != nil {
		return err
	}

	sh, err := frame.OpenSubstate(b.field(src), LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(sh)
	sRaw, err := frame.ReadSubstate(sh)
	if err != nil {
		return err
	}
	sSt, err := decodeBucketFungible(sRaw)
	if err != nil {
		return err
	}

	if dSt.Resource != sSt.Resource {
		return ErrBucketMismatchedResource()
	}
	dSt.Amount += sSt.Amount
	if err := frame.WriteSubstate(dh, encodeBucketFungible(dSt)); err != nil {
		return err
	}
	sSt.Amount = 0
	return frame.WriteSubstate(sh, encodeBucketFungible(sSt))
}

// TakeFungible withdraws amount from a bucket in place, leaving the
// remainder behind (used by partial worktop settlement).
func (b *BucketBlueprint) TakeFungible(frame *CallFrame, bucket NodeID, amount uint64) error {
	h, err := frame.OpenSubstate(b.field(bucket), LockFlags{Mutable: true})
	if err != nil {
		return err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return err
	}
	st, err := decodeBucketFungible(raw)
	if err != nil {
		return err
	}
	if st.Amount < amount {
		return ErrVaultInsufficientBalance()
	}
	st.Amount -= amount
	return frame.WriteSubstate(h, encodeBucketFungible(st))
}

func (b *BucketBlueprint) GetFungibleAmount(frame *CallFrame, bucket NodeID) (uint64, error) {
	h, err := frame.OpenSubstate(b.field(bucket), LockFlags{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return 0, err
	}
	st, err := decodeBucketFungible(raw)
	if err != nil {
		return 0, err
	}
	return st.Amount, nil
}

// IsEmptyFungible reports whether a fungible bucket holds zero value,
// the precondition System.AutoDrop consults before letting a bucket
// self-destruct at frame-return time.
func (b *BucketBlueprint) IsEmptyFungible(frame *CallFrame, bucket NodeID) (bool, error) {
	amount, err := b.GetFungibleAmount(frame, bucket)
	if err != nil {
		return false, err
	}
	return amount == 0, nil
}

// GetNonFungibleIDs reads the id set a non-fungible bucket currently holds.
func (b *BucketBlueprint) GetNonFungibleIDs(frame *CallFrame, bucket NodeID) ([][]byte, error) {
	h, err := frame.OpenSubstate(b.field(bucket), LockFlags{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	st, err := decodeBucketNonFungible(raw)
	if err != nil {
		return nil, err
	}
	return st.IDs, nil
}

func (b *BucketBlueprint) IsEmptyNonFungible(frame *CallFrame, bucket NodeID) (bool, error) {
	h, err := frame.OpenSubstate(b.field(bucket), LockFlags{ReadOnly: true})
	if err != nil {
		return false, err
	}
	defer frame.CloseSubstate(h)
	raw, err := frame.ReadSubstate(h)
	if err != nil {
		return false, err
	}
	st, err := decodeBucketNonFungible(raw)
	if err != nil {
		return false, err
	}
	return len(st.IDs) == 0, nil
}
