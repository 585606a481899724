package format

// Node is a block with the blocks nested inside it.
type Node struct {
	Block
	Children []*Node
}

// BuildTree rebuilds the call tree of one thread from its blocks, which are
// stored in closing order (a post-order of the tree). It returns the roots
// in closing order.
func BuildTree(blocks []Block) []*Node {
	var pending []*Node
	for _, b := range blocks {
		n := &Node{Block: b}
		// Every pending node contained in b closed before b: it is a child.
		i := len(pending)
		for i > 0 && contains(b, pending[i-1].Block) {
			i--
		}
		if i < len(pending) {
			n.Children = append(n.Children, pending[i:]...)
			pending = pending[:i]
		}
		pending = append(pending, n)
	}

	return pending
}

// contains reports whether child nests in parent. A zero-duration block
// closed at the instant parent opened is a preceding sibling, not a child.
func contains(parent, child Block) bool {
	return parent.Begin <= child.Begin && child.End <= parent.End && parent.Begin < child.End
}

// Walk visits the subtree of n in post-order, the order blocks are stored in.
func (n *Node) Walk(fn func(*Node)) {
	for _, c := range n.Children {
		c.Walk(fn)
	}
	fn(n)
}

// Depth returns the number of levels of the subtree rooted at n.
func (n *Node) Depth() int {
	d := 0
	for _, c := range n.Children {
		if cd := c.Depth(); cd > d {
			d = cd
		}
	}
	return d + 1
}

// ThreadTree is a thread section with its blocks rebuilt into trees.
type ThreadTree struct {
	ID              uint64
	Name            string
	ContextSwitches []ContextSwitch
	Roots           []*Node
	Values          []Value
}

// Trees rebuilds the call trees of every thread of the capture.
func (c *Capture) Trees() []ThreadTree {
	trees := make([]ThreadTree, 0, len(c.Threads))
	for _, t := range c.Threads {
		trees = append(trees, ThreadTree{
			ID:              t.ID,
			Name:            t.Name,
			ContextSwitches: t.ContextSwitches,
			Roots:           BuildTree(t.Blocks),
			Values:          t.Values,
		})
	}

	return trees
}
