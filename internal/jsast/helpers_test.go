// internal/jsast/helpers_test.go
package jsast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(id int, name string) *Node {
	return &Node{ID: id, Kind: Identifier, Name: name}
}

func member(id int, obj, prop *Node, computed bool) *Node {
	return &Node{ID: id, Kind: MemberExpression, Object: obj, Property: prop, Computed: computed}
}

func TestMemberPath(t *testing.T) {
	t.Parallel()

	str := &Node{ID: 10, Kind: Literal, ValueType: "string", Value: "c"}
	num := &Node{ID: 11, Kind: Literal, ValueType: "number", Value: "0"}

	tests := []struct {
		name     string
		node     *Node
		expected []string
	}{
		{"identifier", ident(1, "a"), []string{"a"}},
		{"dotted", member(2, member(3, ident(4, "a"), ident(5, "b"), false), ident(6, "c"), false), []string{"a", "b", "c"}},
		{"string subscript", member(7, ident(8, "a"), str, true), []string{"a", "c"}},
		{"this chain", member(9, &Node{ID: 12, Kind: ThisExpression}, ident(13, "x"), false), []string{"this", "x"}},
		{"numeric subscript", member(14, ident(15, "a"), num, true), nil},
		{"variable subscript", member(16, ident(17, "a"), ident(18, "i"), true), nil},
		{"call base", member(19, &Node{ID: 20, Kind: CallExpression}, ident(21, "x"), false), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, MemberPath(tt.node))
		})
	}
}

func TestTreeReindexSetsParents(t *testing.T) {
	t.Parallel()

	x := ident(3, "x")
	stmt := &Node{ID: 2, Kind: ExpressionStatement}
	call := &Node{ID: 4, Kind: CallExpression, Callee: ident(5, "f"), Arguments: []*Node{x}}
	stmt.Expression = call
	root := &Node{ID: 1, Kind: Program, Statements: []*Node{stmt}}

	tree := NewTree("t.js", []byte("f(x)"), root, nil)

	require.Equal(t, 5, tree.Len())
	n, ok := tree.Node(3)
	require.True(t, ok)
	assert.Same(t, call, n.Parent)
	assert.Same(t, stmt, call.Parent)
	assert.Same(t, root, EnclosingFunction(x))
}

func TestPatternNames(t *testing.T) {
	t.Parallel()

	a, b, c := ident(1, "a"), ident(2, "b"), ident(3, "c")
	pattern := &Node{ID: 4, Kind: ObjectPattern, Properties: []*Node{
		{ID: 5, Kind: Property, Key: ident(6, "k"), ValueExpr: a},
		{ID: 7, Kind: RestElement, Argument: b},
	}}
	arr := &Node{ID: 8, Kind: ArrayPattern, Elements: []*Node{pattern, {ID: 9, Kind: AssignmentPattern, Left: c}}}

	var names []string
	for _, n := range PatternNames(arr) {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestInspectShallowSkipsNestedBodies(t *testing.T) {
	t.Parallel()

	inner := ident(5, "inner")
	fn := &Node{ID: 3, Kind: FunctionExpression, Body: &Node{ID: 4, Kind: BlockStatement, Statements: []*Node{
		{ID: 6, Kind: ExpressionStatement, Expression: inner},
	}}}
	root := &Node{ID: 1, Kind: Program, Statements: []*Node{{ID: 2, Kind: ExpressionStatement, Expression: fn}}}

	var seen []int
	InspectShallow(root, func(n *Node) bool {
		seen = append(seen, n.ID)
		return true
	})
	assert.Equal(t, []int{1, 2, 3}, seen)
}
