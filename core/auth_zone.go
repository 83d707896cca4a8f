package core

// AuthZoneBlueprint exposes the native operations the transaction processor
// and CallMethod dispatch use to manage the current frame's proof stack:
// pushing/popping virtual signature proofs, and creating ephemeral proofs
// from the zone for a CreateProofFromAuthZoneOf* manifest instruction
// (spec.md §5.5 AuthZone, §5.6 manifest instructions).
type AuthZoneBlueprint struct {
	auth   *AuthModule
	vaults *VaultBlueprint
	proofs *ProofBlueprint
}

func NewAuthZoneBlueprint(auth *AuthModule, vaults *VaultBlueprint, proofs *ProofBlueprint) *AuthZoneBlueprint {
	return &AuthZoneBlueprint{auth: auth, vaults: vaults, proofs: proofs}
}

// PushSignatureProofs installs the resource-backed virtual proofs derived
// from a transaction's signer keys at the current frame depth. In this
// engine every Ed25519 signer key maps 1:1 to a virtual badge node id
// (SignerResourceIDs in bootloader.go), in the spirit of Scrypto's
// NonFungibleGlobalId virtual badge scheme.
func (z *AuthZoneBlueprint) PushSignatureProofs(depth int, signerResources []NodeID) {
	zone := z.auth.ZoneFor(depth)
	zone.Push(true)
	for _, r := range signerResources {
		zone.AddProof(r)
	}
}

func (z *AuthZoneBlueprint) Pop(depth int) {
	z.auth.ZoneFor(depth).Pop()
}

// CreateProofOfAmount locks amount on vault, creates a new fungible proof
// node for resource backed by that lock, and records it in the zone so
// nested calls can also see it.
func (z *AuthZoneBlueprint) CreateProofOfAmount(frame *CallFrame, depth int, allocID func() NodeID, resource, vault NodeID, amount uint64) (NodeID, error) {
	if err := z.vaults.LockFungible(frame, vault, amount); err != nil {
		return NodeID{}, err
	}
	proof, err := z.proofs.New(frame, allocID, resource, vault, amount)
	if err != nil {
		return NodeID{}, err
	}
	z.auth.ZoneFor(depth).AddProof(proof)
	return proof, nil
}

// CreateProofOfNonFungibles mirrors CreateProofOfAmount for a specific
// non-fungible id set.
func (z *AuthZoneBlueprint) CreateProofOfNonFungibles(frame *CallFrame, depth int, allocID func() NodeID, resource, vault NodeID, ids [][]byte) (NodeID, error) {
	if err := z.vaults.LockNonFungibles(frame, vault, ids); err != nil {
		return NodeID{}, err
	}
	proof, err := z.proofs.NewNonFungible(frame, allocID, resource, vault, ids)
	if err != nil {
		return NodeID{}, err
	}
	z.auth.ZoneFor(depth).AddProof(proof)
	return proof, nil
}

// CreateProofOfAll locks and attests to everything currently liquid in
// vault, fungible or non-fungible depending on resource's kind.
func (z *AuthZoneBlueprint) CreateProofOfAll(frame *CallFrame, depth int, allocID func() NodeID, resource, vault NodeID) (NodeID, error) {
	if resource.EntityType() == EntityGlobalNonFungibleResourceManager {
		ids, err := z.vaults.LiquidNonFungibleIDs(frame, vault)
		if err != nil {
			return NodeID{}, err
		}
		return z.CreateProofOfNonFungibles(frame, depth, allocID, resource, vault, ids)
	}
	amount, err := z.vaults.LiquidAmount(frame, vault)
	if err != nil {
		return NodeID{}, err
	}
	return z.CreateProofOfAmount(frame, depth, allocID, resource, vault, amount)
}
