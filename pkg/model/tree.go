package model

// ResultTree is the unrolled form of a crate's edges produced for one query.
// It copies identifying data only and shares nothing with the Registry.
type ResultTree struct {
	ID          uint32        `json:"id"`
	Name        string        `json:"name"`
	Requirement string        `json:"req,omitempty"`  // Requirement on the edge leading here
	Stub        bool          `json:"stub,omitempty"` // Already expanded elsewhere in this tree
	Children    []*ResultTree `json:"children"`
}

// Walk calls fn for every node in depth-first order, passing the depth
func (t *ResultTree) Walk(fn func(node *ResultTree, depth int)) {
	t.walk(fn, 0)
}

func (t *ResultTree) walk(fn func(node *ResultTree, depth int), depth int) {
	fn(t, depth)
	for _, child := range t.Children {
		child.walk(fn, depth+1)
	}
}

// Connected returns the number of distinct crates in the tree, root excluded
func (t *ResultTree) Connected() int {
	seen := make(map[uint32]bool)
	t.Walk(func(node *ResultTree, _ int) {
		if node != t {
			seen[node.ID] = true
		}
	})
	delete(seen, t.ID)
	return len(seen)
}
