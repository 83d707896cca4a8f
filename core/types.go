// Package core implements the deterministic execution kernel of the
// substate engine: the call-frame stack, the heap/track substate I/O layer,
// the system modules layered on top of it (auth, costing, limits; there is
// no type-checking module),
// the native resource blueprints (vault, bucket, proof, worktop), and the
// transaction-processor front end that drives the whole stack from a
// manifest. See SPEC_FULL.md for the full module map.
package core

import (
	"encoding/hex"
	"fmt"
)

// EntityType tags the first byte of every NodeID and fixes that node's
// globalness, ownership semantics, and direct-access eligibility.
type EntityType byte

const (
	EntityGlobalPackage EntityType = iota
	EntityGlobalFungibleResourceManager
	EntityGlobalNonFungibleResourceManager
	EntityGlobalComponent
	EntityInternalComponent
	EntityInternalFungibleVault
	EntityInternalNonFungibleVault
	EntityInternalFungibleBucket
	EntityInternalNonFungibleBucket
	EntityInternalFungibleProof
	EntityInternalNonFungibleProof
	EntityInternalKeyValueStore
	EntityGlobalVirtualAccount
	EntityInternalGenericComponent
	EntityInternalAuthZone
	EntityInternalWorktop
	EntityGlobalAddressReservation
)

// IsGlobal reports whether nodes of this entity type possess a reserved
// global address and attached modules (metadata, role-assignment, royalty).
func (e EntityType) IsGlobal() bool {
	switch e {
	case EntityGlobalPackage, EntityGlobalFungibleResourceManager,
		EntityGlobalNonFungibleResourceManager, EntityGlobalComponent,
		EntityGlobalVirtualAccount, EntityGlobalAddressReservation:
		return true
	default:
		return false
	}
}

// IsTransient reports whether nodes of this type are heap-only and must
// never survive a transaction (buckets, proofs, the worktop, auth zones).
func (e EntityType) IsTransient() bool {
	switch e {
	case EntityInternalFungibleBucket, EntityInternalNonFungibleBucket,
		EntityInternalFungibleProof, EntityInternalNonFungibleProof,
		EntityInternalAuthZone, EntityInternalWorktop:
		return true
	default:
		return false
	}
}

// DirectAccessEligible reports whether nodes of this type may be addressed
// via a direct-access reference (privileged recall operations only).
func (e EntityType) DirectAccessEligible() bool {
	switch e {
	case EntityInternalFungibleVault, EntityInternalNonFungibleVault:
		return true
	default:
		return false
	}
}

// NodeID is the universal 30-byte address of an addressable unit. The first
// byte is the entity-type tag; the remainder is a deterministic hash of the
// allocating transaction's intent plus a rolling allocation index.
type NodeID [30]byte

func (n NodeID) EntityType() EntityType { return EntityType(n[0]) }

func (n NodeID) String() string { return hex.EncodeToString(n[:]) }

func (n NodeID) IsZero() bool { return n == NodeID{} }

// PartitionNumber is a u8-indexed namespace within a node.
type PartitionNumber uint8

const (
	PartitionTypeInfo PartitionNumber = iota
	PartitionSchema
	PartitionRoleAssignment
	PartitionMetadata
	PartitionRoyalty
	PartitionMain
)

// SubstateKeyKind distinguishes the three substate-key shapes.
type SubstateKeyKind uint8

const (
	SubstateKeyField SubstateKeyKind = iota
	SubstateKeyMap
	SubstateKeySorted
)

// SubstateKey addresses a value within a node partition. Exactly one of
// Field, MapKey, or (SortPrefix, SortedKey) is meaningful, selected by Kind.
type SubstateKey struct {
	Kind       SubstateKeyKind
	Field      uint8
	MapKey     []byte
	SortPrefix uint16
	SortedKey  []byte
}

func FieldKey(field uint8) SubstateKey { return SubstateKey{Kind: SubstateKeyField, Field: field} }
func MapKey(key []byte) SubstateKey    { return SubstateKey{Kind: SubstateKeyMap, MapKey: key} }
func SortedKey(prefix uint16, key []byte) SubstateKey {
	return SubstateKey{Kind: SubstateKeySorted, SortPrefix: prefix, SortedKey: key}
}

// bytes renders the key to a canonical byte form, used as a map key inside
// the heap and the lock table. It is never written to the database directly;
// database implementations may choose their own on-disk encoding.
func (k SubstateKey) bytes() string {
	switch k.Kind {
	case SubstateKeyField:
		return fmt.Sprintf("F:%d", k.Field)
	case SubstateKeyMap:
		return "M:" + string(k.MapKey)
	case SubstateKeySorted:
		return fmt.Sprintf("S:%d:%s", k.SortPrefix, string(k.SortedKey))
	default:
		return "?"
	}
}

// SubstateAddress is the full (node, partition, key) coordinate of a value.
type SubstateAddress struct {
	Node      NodeID
	Partition PartitionNumber
	Key       SubstateKey
}

func (a SubstateAddress) lockKey() string {
	return a.Node.String() + "/" + fmt.Sprintf("%d", a.Partition) + "/" + a.Key.bytes()
}

// LockFlags describes the intent a caller declared when opening a substate.
type LockFlags struct {
	ReadOnly       bool
	Mutable        bool
	ForceWrite     bool // bypasses conflict checks; used by fee-locking only
	UnmodifiedBase bool // value must equal the database's base value to close
}

// Hash is a 32-byte digest, used for transaction intent hashes and the
// deterministic node-id allocator seed.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }
