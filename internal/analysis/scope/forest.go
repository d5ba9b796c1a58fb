// internal/analysis/scope/forest.go
package scope

import "github.com/xkilldash9x/jaw/internal/jsast"

// Forest resolves identifiers across the scope trees of several files. It
// routes each query to the tree of the program the node belongs to.
type Forest struct {
	trees  []*Tree
	byRoot map[int]*Tree
}

// NewForest returns a forest over trees.
func NewForest(trees ...*Tree) *Forest {
	f := &Forest{byRoot: make(map[int]*Tree)}
	for _, t := range trees {
		f.Add(t)
	}
	return f
}

// Add registers a tree. Trees without a root scope are ignored.
func (f *Forest) Add(t *Tree) {
	if t == nil || t.Root == nil || t.Root.node == nil {
		return
	}
	if _, ok := f.byRoot[t.Root.node.ID]; ok {
		return
	}
	f.trees = append(f.trees, t)
	f.byRoot[t.Root.node.ID] = t
}

// Trees returns the registered trees in insertion order.
func (f *Forest) Trees() []*Tree { return f.trees }

// TreeOf returns the tree of the program n belongs to.
func (f *Forest) TreeOf(n *jsast.Node) (*Tree, bool) {
	if n == nil {
		return nil, false
	}
	root := n
	for root.Parent != nil {
		root = root.Parent
	}
	t, ok := f.byRoot[root.ID]
	return t, ok
}

// Resolve implements the identifier resolution of Tree across files.
func (f *Forest) Resolve(ident *jsast.Node) (*Var, bool) {
	t, ok := f.TreeOf(ident)
	if !ok {
		return nil, false
	}
	return t.Resolve(ident)
}

// ScopeOf returns the scope opened by a Program or function node.
func (f *Forest) ScopeOf(n *jsast.Node) (*Scope, bool) {
	t, ok := f.TreeOf(n)
	if !ok {
		return nil, false
	}
	return t.ScopeOf(n)
}

// ScopeAt returns the scope whose owning node spans exactly r in the tree
// of the program n belongs to.
func (f *Forest) ScopeAt(n *jsast.Node, r jsast.Range) (*Scope, bool) {
	t, ok := f.TreeOf(n)
	if !ok {
		return nil, false
	}
	return t.ScopeAt(r)
}
