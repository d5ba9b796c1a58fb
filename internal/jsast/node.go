// internal/jsast/node.go
// Package jsast is the syntax data model shared by the parser front-end and
// every analysis pass. Nodes follow ESTree naming: one struct carries the
// union of role fields and the Kind tag says which of them are meaningful.
package jsast

import (
	"fmt"
	"sync/atomic"
)

// Range is a half-open byte span [Start, End) into the file source.
type Range struct {
	Start int
	End   int
}

// Contains reports whether other lies entirely within r.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Position is a 1-based line and 0-based column.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is a tagged-union syntax node.
type Node struct {
	ID     int
	Kind   Kind
	Range  Range
	Loc    Position
	Parent *Node

	// Literal fields.
	Name      string // identifier text, or the name of a declared function/class
	Operator  string
	Value     string // cooked literal value
	Raw       string // source text of literals and unknown nodes
	DeclKind  string // var/let/const, or constructor/method/get/set for methods
	ValueType string // string, number, boolean, null, regex, undefined
	Async     bool
	Generator bool
	Computed  bool
	Static    bool
	Prefix    bool
	Shorthand bool

	// Role fields.
	Ident        *Node // function/class/declarator name or pattern
	Expression   *Node
	Test         *Node
	Consequent   *Node
	Alternate    *Node
	Body         *Node
	Init         *Node
	Update       *Node
	Left         *Node
	Right        *Node
	Argument     *Node
	Object       *Node
	Property     *Node
	Callee       *Node
	Discriminant *Node
	Key          *Node
	ValueExpr    *Node
	Label        *Node
	Block        *Node
	Handler      *Node
	Finalizer    *Node
	Param        *Node
	SuperClass   *Node
	Tag          *Node
	Quasi        *Node
	Source       *Node
	Declaration  *Node
	Local        *Node
	Imported     *Node
	Exported     *Node

	Statements   []*Node
	Params       []*Node
	Arguments    []*Node
	Elements     []*Node
	Properties   []*Node
	Declarations []*Node
	Cases        []*Node
	Members      []*Node
	Specifiers   []*Node
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.Name != "" {
		return fmt.Sprintf("%s(%s)#%d@%s", n.Kind, n.Name, n.ID, n.Loc)
	}
	return fmt.Sprintf("%s#%d@%s", n.Kind, n.ID, n.Loc)
}

// IDAllocator hands out process-unique node ids. Parsers share one per run
// so that ids stay unique across files and synthetic nodes.
type IDAllocator struct {
	next atomic.Int64
}

// NewIDAllocator returns an allocator whose first id is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns a fresh id.
func (a *IDAllocator) Next() int {
	return int(a.next.Add(1))
}

// ImportSpec is one static import of a file.
type ImportSpec struct {
	Module      string
	Symbols     []ImportedSymbol
	StatementID int
}

// ImportedSymbol binds a module export to a local name. Imported is
// "default" for default imports and "*" for namespace imports.
type ImportedSymbol struct {
	Imported string
	Local    string
}

// Tree is one parsed file.
type Tree struct {
	Name    string
	Source  []byte
	Root    *Node
	Imports []ImportSpec
	IDs     *IDAllocator

	index map[int]*Node
}

// NewTree indexes root and returns the tree. A nil allocator gets a fresh one.
func NewTree(name string, src []byte, root *Node, ids *IDAllocator) *Tree {
	if ids == nil {
		ids = NewIDAllocator()
	}
	t := &Tree{Name: name, Source: src, Root: root, IDs: ids}
	t.Reindex()
	return t
}

// Reindex rebuilds the id index and the parent links. Callers that mutate
// the tree after construction must call it.
func (t *Tree) Reindex() {
	t.index = make(map[int]*Node)
	if t.Root == nil {
		return
	}
	t.Root.Parent = nil
	Inspect(t.Root, func(n *Node) bool {
		t.index[n.ID] = n
		Each(n, func(_ string, c *Node) {
			c.Parent = n
		})
		return true
	})
}

// Node returns the node with the given id.
func (t *Tree) Node(id int) (*Node, bool) {
	n, ok := t.index[id]
	return n, ok
}

// Len is the number of indexed nodes.
func (t *Tree) Len() int {
	return len(t.index)
}

// Text returns the source text covered by n.
func (t *Tree) Text(n *Node) string {
	if n == nil || n.Range.Start < 0 || n.Range.End > len(t.Source) || n.Range.Start > n.Range.End {
		return ""
	}
	return string(t.Source[n.Range.Start:n.Range.End])
}
