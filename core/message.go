package core

// Message is constructed by the parent frame before pushing a child frame
// (spec.md §4.1 "Reference visibility rules", §4.2 invoke step 3). It lists
// every node the child needs to see, categorized by how it may use it.
type Message struct {
	// MoveNodes are owned nodes transferred from parent to child (e.g. an
	// argument bucket). The parent loses ownership; the child gains it.
	MoveNodes []NodeID

	// CopyGlobalRefs are global addresses the child may invoke.
	CopyGlobalRefs []NodeID

	// CopyDirectAccessRefs are internal addresses the child may address only
	// for recall-style operations, restricted to direct-access-eligible
	// entity types.
	CopyDirectAccessRefs []NodeID

	// PassTransientRefs are stable transient references (buckets/proofs) the
	// parent keeps owning but lets the child see for the duration of the
	// call; they may not outlive the child frame.
	PassTransientRefs []NodeID

	Args   []byte
	Return []byte
}

// validateAgainstParent checks every category in the message against the
// parent frame's own visibility, failing the whole push with
// PassMessageError if anything is not actually available to the parent
// (spec.md §4.1).
func (m *Message) validateAgainstParent(parent *CallFrame) error {
	for _, id := range m.MoveNodes {
		if !parent.owned[id] {
			return ErrPassMessage("move of non-owned node " + id.String())
		}
	}
	for _, id := range m.CopyGlobalRefs {
		if !id.EntityType().IsGlobal() {
			return ErrPassMessage("global ref to non-global entity " + id.String())
		}
		if !parent.owned[id] && !parent.globalRefs[id] {
			return ErrPassMessage("global ref not visible to parent " + id.String())
		}
	}
	for _, id := range m.CopyDirectAccessRefs {
		if !id.EntityType().DirectAccessEligible() {
			return ErrInvalidDirectAccess()
		}
		if !parent.owned[id] && !parent.directAccessRefs[id] {
			return ErrPassMessage("direct-access ref not visible to parent " + id.String())
		}
	}
	for _, id := range m.PassTransientRefs {
		if !id.EntityType().IsTransient() {
			return ErrPassMessage("transient ref to non-transient entity " + id.String())
		}
		if !parent.owned[id] && !parent.transientRefs[id] {
			return ErrPassMessage("transient ref not visible to parent " + id.String())
		}
	}
	return nil
}

// applyToChild seeds a freshly constructed child frame's reference sets
// from the message, and removes moved nodes from the parent's owned set.
func (m *Message) applyToChild(parent, child *CallFrame) {
	for _, id := range m.MoveNodes {
		delete(parent.owned, id)
		child.owned[id] = true
	}
	for _, id := range m.CopyGlobalRefs {
		child.globalRefs[id] = true
	}
	for _, id := range m.CopyDirectAccessRefs {
		child.directAccessRefs[id] = true
	}
	for _, id := range m.PassTransientRefs {
		child.transientRefs[id] = true
	}
}

// applyReturnToParent moves the nodes a child returns (e.g. a result
// bucket) back onto the parent's owned set, mirroring applyToChild in the
// opposite direction (spec.md §4.2 step 7, "pass_message the return value
// back to the parent").
func (rm *Message) applyReturnToParent(child, parent *CallFrame) {
	for _, id := range rm.MoveNodes {
		delete(child.owned, id)
		parent.owned[id] = true
	}
	for _, id := range rm.CopyGlobalRefs {
		parent.globalRefs[id] = true
	}
	for _, id := range rm.CopyDirectAccessRefs {
		parent.directAccessRefs[id] = true
	}
}
