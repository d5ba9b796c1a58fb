// internal/analysis/dataflow/analyzer_test.go
package dataflow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/dataflow"
	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
	"github.com/xkilldash9x/jaw/internal/parser"
)

type solved struct {
	tree   *jsast.Tree
	scopes *scope.Tree
	graph  *flow.Graph
	result *dataflow.Result
}

// solve builds and solves the scope named name, or the file scope for "".
func solve(t *testing.T, src, name string, opts ...dataflow.Option) (*solved, error) {
	t.Helper()
	tree, err := parser.ParseString("test.js", src)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	scopes := scope.NewResolver(logger).Resolve(tree.Root)

	var target *scope.Scope
	for _, s := range scopes.Scopes() {
		if (name == "" && s.Kind() == scope.File) || (name != "" && s.Name() == name) {
			target = s
			break
		}
	}
	require.NotNil(t, target, "scope %q", name)

	g, err := flow.NewBuilder(logger, tree.IDs).Build(target)
	require.NoError(t, err)

	opts = append([]dataflow.Option{dataflow.WithConvergenceCheck(true)}, opts...)
	r, err := dataflow.New(logger, opts...).Run(g, scopes)
	return &solved{tree: tree, scopes: scopes, graph: g, result: r}, err
}

func mustSolve(t *testing.T, src, name string) *solved {
	t.Helper()
	s, err := solve(t, src, name)
	require.NoError(t, err)
	return s
}

func data(ps []dataflow.DUPair) []dataflow.DUPair {
	var out []dataflow.DUPair
	for _, p := range ps {
		if !p.IsControl() {
			out = append(out, p)
		}
	}
	return out
}

func controls(ps []dataflow.DUPair) []dataflow.DUPair {
	var out []dataflow.DUPair
	for _, p := range ps {
		if p.IsControl() {
			out = append(out, p)
		}
	}
	return out
}

// usedAt keeps the data pairs whose use node is built from an AST of kind k
// and, for statements, whose expression calls callee.
func usedAt(s *solved, ps []dataflow.DUPair, callee string) []dataflow.DUPair {
	var out []dataflow.DUPair
	for _, p := range data(ps) {
		n := s.graph.Node(p.Use)
		if n.AST == nil || n.AST.Kind != jsast.ExpressionStatement {
			continue
		}
		if c := n.AST.Expression; c.Kind == jsast.CallExpression && c.Callee.Name == callee {
			out = append(out, p)
		}
	}
	return out
}

func TestRun_StraightLinePair(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `var x = 1; y = x + 1;`, "")

	pairs := s.result.Named("x")
	require.Len(t, pairs, 1)
	p := pairs[0]
	assert.False(t, p.IsControl())
	assert.Equal(t, jsast.VariableDeclarator, s.result.DefNode(p).AST.Kind)
	assert.Equal(t, flow.DefLiteral, p.Def.Type)

	use := s.graph.Node(p.Use)
	require.NotNil(t, use)
	assert.Equal(t, jsast.ExpressionStatement, use.AST.Kind)
	assert.Equal(t, jsast.AssignmentExpression, use.AST.Expression.Kind)
}

func TestRun_ControlDependence(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `if (a) { b = 1; } else { b = 2; } use(b);`, "")

	ctl := controls(s.result.Named("a"))
	require.Len(t, ctl, 1)
	c := ctl[0].Control
	require.NotNil(t, c.Statement)
	assert.Equal(t, jsast.IfStatement, c.Statement.Kind)
	require.NotNil(t, c.Consequent)
	require.NotNil(t, c.Alternate)
	assert.Equal(t, jsast.BlockStatement, c.Consequent.Kind)
	assert.Equal(t, jsast.BlockStatement, c.Alternate.Kind)
	assert.False(t, c.Branchless)
	assert.Equal(t, flow.KindBranch, s.graph.Node(c.Branch).Kind)
	// The undeclared a is an implicit global seeded at the file entry.
	assert.Equal(t, scope.Implicit, ctl[0].Var.Kind())
	assert.Equal(t, flow.DefUndefined, ctl[0].Def.Type)
	assert.Equal(t, flow.KindEntry, s.result.DefNode(ctl[0]).Kind)
	assert.Equal(t, 1, s.graph.Node(c.Branch).Facts().PUse.Len())

	// Both assignments reach use(b); the hoisted undefined does not.
	atUse := usedAt(s, s.result.Named("b"), "use")
	require.Len(t, atUse, 2)
	for _, p := range atUse {
		assert.Equal(t, flow.DefLiteral, p.Def.Type)
		assert.Equal(t, jsast.ExpressionStatement, s.result.DefNode(p).AST.Kind)
	}
}

// TestRun_ReferencePrograms runs the reference programs unmodified, free
// globals included, through the solver and the call graph.
func TestRun_ReferencePrograms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		src   string
		check func(t *testing.T, s *solved, cg *callgraph.Graph)
	}{
		{
			name: "straight-line pair",
			src:  `var x = 1; y = x + 1;`,
			check: func(t *testing.T, s *solved, _ *callgraph.Graph) {
				xs := s.result.Named("x")
				require.Len(t, xs, 1)
				assert.False(t, xs[0].IsControl())
				assert.Equal(t, jsast.VariableDeclarator, s.result.DefNode(xs[0]).AST.Kind)
				assert.Equal(t, jsast.AssignmentExpression, s.graph.Node(xs[0].Use).AST.Expression.Kind)
			},
		},
		{
			name: "control pair on a free predicate",
			src:  `if (a) { b = 1; } else { b = 2; } use(b);`,
			check: func(t *testing.T, s *solved, _ *callgraph.Graph) {
				ctl := controls(s.result.Named("a"))
				require.Len(t, ctl, 1)
				c := ctl[0].Control
				require.Equal(t, jsast.IfStatement, c.Statement.Kind)
				assert.Same(t, c.Statement.Consequent, c.Consequent)
				assert.Same(t, c.Statement.Alternate, c.Alternate)
				assert.Len(t, usedAt(s, s.result.Named("b"), "use"), 2)
			},
		},
		{
			name: "direct call",
			src:  `function f(){} function g(){ f(); }`,
			check: func(t *testing.T, s *solved, cg *callgraph.Graph) {
				var hits int
				for _, e := range cg.Edges {
					if s.tree.Text(e.Site) == "f()" {
						hits++
						assert.Equal(t, "f", jsast.FunctionName(e.Callee))
						assert.Equal(t, "g", jsast.FunctionName(e.Caller))
						assert.Equal(t, callgraph.Direct, e.Provenance)
					}
				}
				assert.Equal(t, 1, hits)
			},
		},
		{
			// The alias program continues the direct-call one, so f is declared.
			name: "alias call",
			src:  `function f(){} var h = f; h();`,
			check: func(t *testing.T, s *solved, cg *callgraph.Graph) {
				fs := data(s.result.Named("f"))
				require.Len(t, fs, 1)
				assert.Equal(t, flow.DefFunction, fs[0].Def.Type)
				assert.Equal(t, jsast.VariableDeclarator, s.graph.Node(fs[0].Use).AST.Kind)
				assert.Len(t, usedAt(s, s.result.Named("h"), "h"), 1)

				var hits int
				for _, e := range cg.Edges {
					if s.tree.Text(e.Site) == "h()" {
						hits++
						assert.Equal(t, "f", jsast.FunctionName(e.Callee))
						assert.Equal(t, callgraph.Alias, e.Provenance)
					}
				}
				assert.Equal(t, 1, hits)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := mustSolve(t, tt.src, "")
			cg := callgraph.NewResolver(zaptest.NewLogger(t)).Resolve(s.tree.Root)
			tt.check(t, s, cg)
		})
	}
}

func TestRun_EntryDefinitions(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `
function f(p) {
  var q;
  function inner() {}
  return p + q + inner();
}`, "f")

	p := data(s.result.Named("p"))
	require.Len(t, p, 1)
	assert.Equal(t, flow.DefLiteral, p[0].Def.Type)
	assert.Equal(t, flow.KindEntry, s.result.DefNode(p[0]).Kind)
	origin := s.result.Origin(p[0])
	require.NotNil(t, origin)
	assert.Equal(t, jsast.Identifier, origin.Kind)
	assert.Equal(t, "p", origin.Name)

	q := data(s.result.Named("q"))
	require.Len(t, q, 1, "the declarator replaces the hoisted undefined")
	assert.Equal(t, flow.DefUndefined, q[0].Def.Type)
	assert.Equal(t, jsast.VariableDeclarator, s.result.DefNode(q[0]).AST.Kind)

	inner := data(s.result.Named("inner"))
	require.Len(t, inner, 1)
	assert.Equal(t, flow.DefFunction, inner[0].Def.Type)
	require.NotNil(t, inner[0].Def.Target)
	assert.Equal(t, jsast.FunctionDeclaration, inner[0].Def.Target.Kind)
	assert.Same(t, inner[0].Def.Target, s.result.Origin(inner[0]))

	// Locals do not escape through the exit.
	exit := s.graph.Node(s.graph.Exit())
	exit.Facts().ReachOut.Each(func(vd *flow.VarDef) {
		assert.False(t, s.graph.Scope.Owns(vd.Var), "%s escaped", vd)
	})
	assert.False(t, exit.Facts().ReachIn.IsEmpty())
}

func TestRun_FileEntrySeedsHostGlobals(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `var here = location.href; document.write(here);`, "")

	loc := data(s.result.Named("location"))
	require.Len(t, loc, 1)
	assert.Equal(t, flow.DefDOM, loc[0].Def.Type)
	assert.Equal(t, flow.KindEntry, s.result.DefNode(loc[0]).Kind)

	doc := data(s.result.Named("document"))
	require.Len(t, doc, 1)
	assert.Equal(t, flow.DefDOM, doc[0].Def.Type)
}

func TestRun_FixpointSoundness(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `
function f(a, b) {
  var acc = 0;
  for (var i = 0; i < a; i++) {
    if (i % 2) { acc += i; continue; }
    try { acc = g(acc, b); } catch (e) { acc = -1; break; }
  }
  do { b--; } while (b > 0);
  switch (acc) { case 1: acc = 2; default: acc++; }
  return acc;
}`, "f")

	g := s.graph
	for _, n := range g.Nodes() {
		f := n.Facts()
		want := f.ReachIn.Difference(f.Kill).Union(f.Gen)
		assert.True(t, want.Equal(f.ReachOut), "transfer of %s", n)
		assert.True(t, f.Kill.IsSubsetOf(f.ReachIn), "kill of %s", n)
		for _, p := range n.Prev() {
			assert.True(t, g.Node(p).Facts().ReachOut.IsSubsetOf(f.ReachIn), "%s flows into %s", g.Node(p), n)
		}
	}
	assert.Greater(t, s.result.Visits, g.Len(), "the loops force revisits")
}

func TestRun_LoopPredicateUses(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `function f(a, b) { while (a < b) { a = a + 1; } return a; }`, "f")

	ctl := controls(s.result.Named("a"))
	require.Len(t, ctl, 2, "the parameter and the loop assignment both reach the test")
	for _, p := range ctl {
		assert.Equal(t, jsast.WhileStatement, p.Control.Statement.Kind)
		require.NotNil(t, p.Control.Consequent)
		assert.Equal(t, jsast.BlockStatement, p.Control.Consequent.Kind)
		assert.Nil(t, p.Control.Alternate)
	}
	assert.Len(t, controls(s.result.Named("b")), 1)

	var atReturn []dataflow.DUPair
	for _, p := range data(s.result.Named("a")) {
		if s.graph.Node(p.Use).AST.Kind == jsast.ReturnStatement {
			atReturn = append(atReturn, p)
		}
	}
	assert.Len(t, atReturn, 2)
}

func TestRun_SwitchControlPairs(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `function f(x, y) { switch (x) { case y: a(); break; default: b(); } }`, "f")

	xs := controls(s.result.Named("x"))
	require.Len(t, xs, 1)
	assert.True(t, xs[0].Control.Branchless)
	assert.Equal(t, jsast.SwitchStatement, xs[0].Control.Statement.Kind)
	assert.Nil(t, xs[0].Control.Consequent)

	ys := controls(s.result.Named("y"))
	require.Len(t, ys, 1)
	c := ys[0].Control
	assert.False(t, c.Branchless)
	assert.Equal(t, jsast.SwitchStatement, c.Statement.Kind)
	require.NotNil(t, c.Consequent)
	require.NotNil(t, c.Alternate)
	assert.Same(t, c.Statement.Cases[0], c.Consequent)
	assert.Same(t, c.Statement.Cases[1], c.Alternate, "the default clause follows the last test")
}

func TestRun_ConditionalExpression(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `function f(a) { return a ? 1 : 2; }`, "f")

	ctl := controls(s.result.Named("a"))
	require.Len(t, ctl, 1)
	c := ctl[0].Control
	assert.Equal(t, jsast.ConditionalExpression, c.Statement.Kind)
	assert.Equal(t, jsast.Literal, c.Consequent.Kind)
	assert.Equal(t, jsast.Literal, c.Alternate.Kind)
	assert.Equal(t, jsast.ReturnStatement, s.graph.Node(c.Branch).AST.Kind)
}

func TestRun_ArrayMutatorsAreWeak(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `var list = [];
list.push(1);
log(list);
list = null;
log(list);`, "")

	byLine := map[int]int{}
	for _, p := range usedAt(s, s.result.Named("list"), "log") {
		byLine[s.graph.Node(p.Use).Line]++
	}
	// The push adds a definition without killing the declaration; the
	// null assignment kills both.
	assert.Equal(t, map[int]int{3: 2, 5: 1}, byLine)
}

func TestRun_StorageWrites(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `
var v = 1;
localStorage.setItem('k', v);
var got = window.localStorage.getItem('k');
localStorage.last = got;`, "")

	var set, get, assign *flow.Node
	for _, n := range s.graph.Nodes() {
		switch {
		case n.AST == nil:
		case n.Line == 3 && n.AST.Kind == jsast.ExpressionStatement:
			set = n
		case n.Line == 4 && n.AST.Kind == jsast.VariableDeclarator:
			get = n
		case n.Line == 5 && n.AST.Kind == jsast.ExpressionStatement:
			assign = n
		}
	}
	require.NotNil(t, set)
	require.NotNil(t, get)
	require.NotNil(t, assign)

	w, r := dataflow.StorageAccess(set, s.scopes)
	assert.True(t, w)
	assert.False(t, r)
	w, r = dataflow.StorageAccess(get, s.scopes)
	assert.False(t, w)
	assert.True(t, r)
	w, _ = dataflow.StorageAccess(assign, s.scopes)
	assert.True(t, w)

	var writes int
	get.Facts().ReachIn.Each(func(vd *flow.VarDef) {
		if vd.Def.Type == flow.DefStorage && vd.Def.Node == set.ID() {
			writes++
			assert.Equal(t, "localStorage", vd.Var.Name())
		}
	})
	assert.Equal(t, 1, writes)

	storage := s.result.Named("localStorage")
	var fromSet bool
	for _, p := range data(storage) {
		if p.Def.Node == set.ID() && p.Use == get.ID() {
			fromSet = true
		}
	}
	assert.True(t, fromSet, "window.localStorage resolves to the storage handle")
}

func TestRun_IterationBudget(t *testing.T) {
	t.Parallel()
	s, err := solve(t, `var a = 1; var b = a;`, "", dataflow.WithIterationBudget(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dataflow.ErrIterationBudget))
	require.NotNil(t, s.result)
	assert.Zero(t, s.result.Len())
	assert.NotNil(t, s.result.Graph)
}

func TestRun_ThisQualifiedProperty(t *testing.T) {
	t.Parallel()
	s := mustSolve(t, `function f(items) { this.items = items; return this.items; }`, "f")

	items := data(s.result.Named("items"))
	var atReturn int
	for _, p := range items {
		if s.graph.Node(p.Use).AST.Kind == jsast.ReturnStatement {
			atReturn++
			assert.Equal(t, jsast.ExpressionStatement, s.result.DefNode(p).AST.Kind)
		}
	}
	assert.Equal(t, 1, atReturn, "this.items names the parameter")
}
