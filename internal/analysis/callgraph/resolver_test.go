// internal/analysis/callgraph/resolver_test.go
package callgraph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/jsast"
	"github.com/xkilldash9x/jaw/internal/parser"
)

func resolve(t *testing.T, src string, opts ...callgraph.Option) (*jsast.Tree, *callgraph.Graph) {
	t.Helper()
	tree, err := parser.ParseString("test.js", src)
	require.NoError(t, err)
	g := callgraph.NewResolver(zaptest.NewLogger(t), opts...).Resolve(tree.Root)
	return tree, g
}

// function finds the function bound to name, by declaration or binding.
func function(t *testing.T, tree *jsast.Tree, name string) *jsast.Node {
	t.Helper()
	var found *jsast.Node
	jsast.Inspect(tree.Root, func(n *jsast.Node) bool {
		if found == nil && jsast.IsFunction(n) && jsast.FunctionName(n) == name {
			found = n
		}
		return found == nil
	})
	require.NotNil(t, found, "function %s", name)
	return found
}

// callsTo returns the edges whose site calls callee by its source text.
func callsTo(tree *jsast.Tree, g *callgraph.Graph, text string) []callgraph.CallEdge {
	var out []callgraph.CallEdge
	for _, e := range g.Edges {
		if tree.Text(e.Site) == text {
			out = append(out, e)
		}
	}
	return out
}

func TestResolve_DirectCall(t *testing.T) {
	t.Parallel()
	tree, g := resolve(t, `function f(){} function g(){ f(); }`)

	f := function(t, tree, "f")
	edges := callsTo(tree, g, "f()")
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Same(t, f, e.Callee)
	assert.Same(t, function(t, tree, "g"), e.Caller)
	assert.Equal(t, callgraph.Direct, e.Provenance)
	assert.Equal(t, "f", e.Name)

	callers := g.CallersOf(f)
	require.Len(t, callers, 1)
	assert.Same(t, e.Site, callers[0].Site)
}

func TestResolve_AliasCall(t *testing.T) {
	t.Parallel()
	tree, g := resolve(t, `function f(){} var h = f; h();`)

	edges := callsTo(tree, g, "h()")
	require.Len(t, edges, 1)
	assert.Same(t, function(t, tree, "f"), edges[0].Callee)
	assert.Equal(t, callgraph.Alias, edges[0].Provenance)
	assert.Len(t, g.Lookup("h"), 1)
}

func TestResolve_AliasCutoff(t *testing.T) {
	t.Parallel()
	tree, g := resolve(t, `function f(){} var h = f; h();`, callgraph.WithAliasCutoff(0))

	assert.Empty(t, callsTo(tree, g, "h()"))
	assert.Empty(t, g.Lookup("h"))
	assert.Len(t, g.Lookup("f"), 1)
}

func TestResolve_NameShapes(t *testing.T) {
	t.Parallel()
	src := `
var api = { run: function() {}, nested: { go: function() {} }, short() {} };
function C() {}
C.prototype.m = function() {};
class K {
  constructor() {}
  start() { this.stop(); }
  stop() {}
}
api.run();
api.nested.go();
var c = new C();
c.m();
var k = new K();
k.start();
`
	tree, g := resolve(t, src)

	for _, name := range []string{"api.run", "api.nested.go", "api.short", "C", "C.m", "K", "K.start", "K.stop"} {
		assert.Len(t, g.Lookup(name), 1, name)
	}
	assert.Empty(t, g.Lookup("C.prototype.m"))

	tests := []struct {
		site string
		prov callgraph.Provenance
	}{
		{"api.run()", callgraph.Direct},
		{"api.nested.go()", callgraph.Direct},
		{"new C()", callgraph.Direct},
		{"c.m()", callgraph.Alias},
		{"new K()", callgraph.Direct},
		{"k.start()", callgraph.Alias},
		{"this.stop()", callgraph.Direct},
	}
	for _, tt := range tests {
		edges := callsTo(tree, g, tt.site)
		if assert.Len(t, edges, 1, tt.site) {
			assert.Equal(t, tt.prov, edges[0].Provenance, tt.site)
		}
	}
	stop := callsTo(tree, g, "this.stop()")
	require.Len(t, stop, 1)
	assert.Equal(t, "K.stop", stop[0].Name)
}

func TestResolve_ForwardingShapes(t *testing.T) {
	t.Parallel()
	src := `
function f(a, b) {}
f.call(null, 1, 2);
f.apply(null, [3, 4]);
p.then(f);
p.then(function() {});
setTimeout("f()", 5);
setTimeout(f, 5);
`
	tree, g := resolve(t, src, callgraph.WithExprParser(parser.New(zaptest.NewLogger(t))))
	f := function(t, tree, "f")

	byProv := make(map[callgraph.Provenance]int)
	for _, e := range g.CallersOf(f) {
		byProv[e.Provenance]++
	}
	assert.Equal(t, map[callgraph.Provenance]int{
		callgraph.Call:    1,
		callgraph.Apply:   1,
		callgraph.Then:    1,
		callgraph.Timeout: 2,
	}, byProv)

	call := callsTo(tree, g, "f.call(null, 1, 2)")
	require.Len(t, call, 1)
	assert.Equal(t, []int{1, 2}, call[0].ArgMap)
	require.Len(t, call[0].Args, 2)
	assert.Equal(t, "1", call[0].Args[0].Raw)

	apply := callsTo(tree, g, "f.apply(null, [3, 4])")
	require.Len(t, apply, 1)
	assert.Equal(t, []int{-1, -1}, apply[0].ArgMap)

	inline := callsTo(tree, g, "p.then(function() {})")
	require.Len(t, inline, 1)
	assert.Equal(t, jsast.FunctionExpression, inline[0].Callee.Kind)
	assert.Equal(t, callgraph.Then, inline[0].Provenance)
}

func TestResolve_StringTimerNeedsParser(t *testing.T) {
	t.Parallel()
	tree, g := resolve(t, `function f(){} setTimeout("f()", 5);`)
	assert.Empty(t, callsTo(tree, g, `setTimeout("f()", 5)`))
}

func TestGraph_RecursionAndReachability(t *testing.T) {
	t.Parallel()
	src := `
function a() { b(); }
function b() { a(); }
function r() { r(); }
function lone() {}
a();
r();
`
	tree, g := resolve(t, src)
	a, b, r, lone := function(t, tree, "a"), function(t, tree, "b"), function(t, tree, "r"), function(t, tree, "lone")

	assert.Equal(t, [][]*jsast.Node{{a, b}, {r}}, g.Recursive())
	assert.True(t, g.IsRecursive(a))
	assert.True(t, g.IsRecursive(r))
	assert.False(t, g.IsRecursive(lone))

	assert.Equal(t, []*jsast.Node{a, b, r}, g.Reachable())
}

func TestResolve_AcrossFiles(t *testing.T) {
	t.Parallel()
	p := parser.New(zaptest.NewLogger(t))
	lib, err := p.Parse(context.Background(), "lib.js", []byte(`function util() {}`))
	require.NoError(t, err)
	app, err := p.Parse(context.Background(), "app.js", []byte(`util();`))
	require.NoError(t, err)

	g := callgraph.NewResolver(zaptest.NewLogger(t)).Resolve(lib.Root, app.Root)
	edges := callsTo(app, g, "util()")
	require.Len(t, edges, 1)
	assert.Same(t, function(t, lib, "util"), edges[0].Callee)
	assert.Same(t, app.Root, edges[0].Caller)
}
