package core

// InstructionKind enumerates the manifest instruction variants the
// transaction processor interprets (spec.md §5.6, supplemented from
// original_source/ for the metadata/royalty/role-assignment call variants
// the distilled spec groups under "CallMethod-family").
type InstructionKind uint8

const (
	InstrTakeFromWorktop InstructionKind = iota
	InstrTakeNonFungiblesFromWorktop
	InstrTakeAllFromWorktop
	InstrReturnToWorktop
	InstrAssertWorktopContains
	InstrAssertWorktopContainsAny
	InstrAssertWorktopContainsNonFungibles
	InstrPopFromAuthZone
	InstrPushToAuthZone
	InstrCreateProofFromAuthZoneOfAmount
	InstrCreateProofFromAuthZoneOfNonFungibles
	InstrCreateProofFromAuthZoneOfAll
	InstrCallFunction
	InstrCallMethod
	InstrCallRoyaltyMethod
	InstrCallMetadataMethod
	InstrCallRoleAssignmentMethod
	InstrCallDirectVaultMethod
	InstrAllocateGlobalAddress
	InstrBurnResource
	InstrDropProof
	InstrDropAllProofs
	InstrDropAuthZoneProofs
	InstrDropNamedProofs
)

// BucketRef/ProofRef/AddressReservationRef are manifest-local names
// resolved through the transaction processor's name tables rather than raw
// node ids, mirroring how a manifest author writes `Bucket("xrd")` instead
// of a node address (spec.md §5.6).
type BucketRef string
type ProofRef string
type AddressReservationRef string

// Instruction is a tagged union over every manifest instruction shape. Only
// the fields relevant to Kind are populated; this mirrors the teacher's
// opcode-dispatch table approach (one big switch keyed by a kind byte)
// rather than a sealed interface hierarchy, since manifests are decoded off
// the wire where a flat struct is cheaper to validate.
type Instruction struct {
	Kind InstructionKind

	Resource   NodeID
	Amount     uint64
	IDs        [][]byte
	BucketOut  BucketRef
	BucketIn   BucketRef
	ProofOut   ProofRef
	ProofRefs  []ProofRef

	Package    NodeID
	Blueprint  string
	Receiver   NodeID
	Method     string
	DirectAccess bool
	Args       []byte

	ReservationOut AddressReservationRef
	BlueprintID    string

	RoyaltyAmount uint64
}

// Manifest is an ordered list of instructions plus the virtual badge node
// ids (derived from the signer keys by SignerResourceIDs) that the auth
// zone is seeded with at transaction start (spec.md §5.6, §6 transaction
// envelope).
type Manifest struct {
	Instructions    []Instruction
	SignerResources []NodeID
}
