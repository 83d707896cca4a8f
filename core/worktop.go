package core

// Worktop is the transient per-transaction staging area the manifest
// interpreter creates at the start of a transaction and must drain to
// empty before it ends (spec.md §5.4 Worktop). Its state is not a substate
// payload: it is the WorktopState map below, from resource address to the
// buckets currently parked on the worktop for that resource.
type WorktopBlueprint struct {
	buckets *BucketBlueprint
}

func NewWorktopBlueprint(buckets *BucketBlueprint) *WorktopBlueprint {
	return &WorktopBlueprint{buckets: buckets}
}

// WorktopState is kept by the transaction processor, not inside the kernel,
// since it is pure bookkeeping over bucket node ids rather than a substate.
type WorktopState struct {
	Buckets map[NodeID][]NodeID // resource -> bucket ids currently parked
}

func NewWorktopState() *WorktopState { return &WorktopState{Buckets: make(map[NodeID][]NodeID)} }

// Put parks bucket on the worktop under resource.
func (w *WorktopState) Put(resource, bucket NodeID) {
	w.Buckets[resource] = append(w.Buckets[resource], bucket)
}

// TakeAll returns and clears every bucket parked under resource.
func (w *WorktopState) TakeAll(resource NodeID) []NodeID {
	ids := w.Buckets[resource]
	delete(w.Buckets, resource)
	return ids
}

// AssertContains reports whether resource has any bucket parked, without
// removing it (spec.md §5.4 assert_worktop_contains).
func (w *WorktopState) AssertContains(resource NodeID) bool {
	return len(w.Buckets[resource]) > 0
}

// IsEmpty reports whether every resource slot has been drained, the
// precondition the transaction processor checks before ending a manifest
// (spec.md §5.4 edge case: "a non-empty worktop at transaction end is a
// commit failure, not a silent drop").
func (w *WorktopState) IsEmpty() bool {
	for _, ids := range w.Buckets {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// AllBucketIDs flattens every parked bucket across every resource. Nothing
// in the engine calls it.
func (w *WorktopState) AllBucketIDs() []NodeID {
	var out []NodeID
	for _, ids := range w.Buckets {
		out = append(out, ids...)
	}
	return out
}
