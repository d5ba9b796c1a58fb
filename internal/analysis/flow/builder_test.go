// internal/analysis/flow/builder_test.go
package flow_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
	"github.com/xkilldash9x/jaw/internal/parser"
)

type fixture struct {
	tree    *jsast.Tree
	scopes  *scope.Tree
	builder *flow.Builder
}

func setup(t *testing.T, src string) *fixture {
	t.Helper()
	tree, err := parser.ParseString("test.js", src)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	return &fixture{
		tree:    tree,
		scopes:  scope.NewResolver(logger).Resolve(tree.Root),
		builder: flow.NewBuilder(logger, tree.IDs),
	}
}

// graph builds the scope named name, or the file scope for "".
func (f *fixture) graph(t *testing.T, name string) *flow.Graph {
	t.Helper()
	for _, s := range f.scopes.Scopes() {
		if (name == "" && s.Kind() == scope.File) || (name != "" && s.Name() == name) {
			g, err := f.builder.Build(s)
			require.NoError(t, err)
			require.NotNil(t, g)
			return g
		}
	}
	t.Fatalf("no scope named %q", name)
	return nil
}

func assertWellFormed(t *testing.T, g *flow.Graph) {
	t.Helper()
	exit := g.Node(g.Exit())
	assert.Empty(t, exit.Out(), "exit has no successors")
	for _, id := range g.Reachable() {
		n := g.Node(id)
		if id == g.Exit() {
			continue
		}
		assert.NotEmpty(t, n.Out(), "%s has no successors", n)
		if n.Kind == flow.KindBranch {
			assert.NotEqual(t, flow.NoNode, n.Succ(flow.EdgeTrue), "%s lacks a true edge", n)
			assert.NotEqual(t, flow.NoNode, n.Succ(flow.EdgeFalse), "%s lacks a false edge", n)
			assert.Equal(t, flow.NoNode, n.Succ(flow.EdgeNormal), "%s mixes normal and branch edges", n)
		}
	}
}

// byKind returns the nodes whose AST has the given kind, in source order.
func byKind(g *flow.Graph, k jsast.Kind) []*flow.Node {
	return where(g, func(n *flow.Node) bool { return n.AST != nil && n.AST.Kind == k })
}

// where returns the matching nodes in source order. The builder allocates
// nodes back to front, so arena order is not source order.
func where(g *flow.Graph, keep func(*flow.Node) bool) []*flow.Node {
	var out []*flow.Node
	for _, n := range g.Nodes() {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AST.Range.Start < out[j].AST.Range.Start
	})
	return out
}

func TestBuild_Sequential(t *testing.T) {
	t.Parallel()
	f := setup(t, "var a = 1, b = a;\nfoo(b);")
	g := f.graph(t, "")
	assertWellFormed(t, g)

	entry := g.Node(g.Entry())
	assert.Equal(t, flow.KindEntry, entry.Kind)

	decls := byKind(g, jsast.VariableDeclarator)
	require.Len(t, decls, 2)
	assert.Equal(t, decls[0].ID(), entry.Succ(flow.EdgeNormal))
	assert.Equal(t, decls[1].ID(), decls[0].Succ(flow.EdgeNormal))

	call := byKind(g, jsast.ExpressionStatement)
	require.Len(t, call, 1)
	assert.Equal(t, call[0].ID(), decls[1].Succ(flow.EdgeNormal))
	assert.Equal(t, g.Exit(), call[0].Succ(flow.EdgeNormal))
	assert.Equal(t, 2, call[0].Line)
	assert.Equal(t, 1, decls[0].Line)
}

func TestBuild_IfAndLoops(t *testing.T) {
	t.Parallel()
	f := setup(t, `
function f(a, o) {
  if (a) { x(); }
  if (a) { x(); } else { y(); }
  while (a) { a--; }
  do { a++; } while (a < 3);
  for (var i = 0; i < 3; i++) { x(i); }
  for (var k in o) { y(k); }
  for (;;) { break; }
}`)
	g := f.graph(t, "f")
	assertWellFormed(t, g)

	branches := 0
	for _, id := range g.Reachable() {
		if g.Node(id).Kind == flow.KindBranch {
			branches++
		}
	}
	// Two ifs, while, do-while, for and for-in.
	assert.Equal(t, 6, branches)

	ifs := where(g, func(n *flow.Node) bool {
		return n.Kind == flow.KindBranch && n.AST.Parent.Kind == jsast.IfStatement
	})
	require.Len(t, ifs, 2)
	// The first if has no else: its false edge skips to the next statement,
	// which is the second if test.
	assert.Equal(t, ifs[1].ID(), ifs[0].Succ(flow.EdgeFalse))

	forIn := byKind(g, jsast.ForInStatement)
	require.Len(t, forIn, 1)
	body := g.Node(forIn[0].Succ(flow.EdgeTrue))
	assert.Equal(t, forIn[0].ID(), body.Succ(flow.EdgeNormal), "for-in body loops back to the head")

	// The update links back to the test.
	updates := where(g, func(n *flow.Node) bool {
		return n.AST != nil && n.AST.Kind == jsast.UpdateExpression && n.AST.Parent.Kind == jsast.ForStatement
	})
	require.Len(t, updates, 1)
	update := updates[0]
	test := g.Node(update.Succ(flow.EdgeNormal))
	assert.Equal(t, flow.KindBranch, test.Kind)
	assert.Equal(t, jsast.ForStatement, test.AST.Parent.Kind)

	// The test-less for breaks straight to the exit.
	brk := byKind(g, jsast.BreakStatement)
	require.Len(t, brk, 1)
	assert.Equal(t, g.Exit(), brk[0].Succ(flow.EdgeNormal))
}

func TestBuild_BreakContinueLabels(t *testing.T) {
	t.Parallel()
	f := setup(t, `
function f(a) {
  outer: while (a) {
    while (a) {
      if (a > 1) continue outer;
      if (a > 2) break outer;
      if (a > 3) continue;
      break;
    }
  }
  blk: { if (a) break blk; g(); }
  h();
}`)
	g := f.graph(t, "f")
	assertWellFormed(t, g)

	loops := where(g, func(n *flow.Node) bool {
		return n.Kind == flow.KindBranch && n.AST.Parent.Kind == jsast.WhileStatement
	})
	require.Len(t, loops, 2)
	outerHead, innerHead := loops[0], loops[1]

	conts := byKind(g, jsast.ContinueStatement)
	require.Len(t, conts, 2)
	assert.Equal(t, outerHead.ID(), conts[0].Succ(flow.EdgeNormal), "continue outer")
	assert.Equal(t, innerHead.ID(), conts[1].Succ(flow.EdgeNormal), "continue")

	brks := byKind(g, jsast.BreakStatement)
	require.Len(t, brks, 3)
	// break outer leaves both loops and lands on the labeled block's if.
	afterOuter := outerHead.Succ(flow.EdgeFalse)
	assert.Equal(t, afterOuter, brks[0].Succ(flow.EdgeNormal))
	// Plain break leaves the inner loop only, back to the outer head.
	assert.Equal(t, innerHead.Succ(flow.EdgeFalse), brks[1].Succ(flow.EdgeNormal))
	assert.Equal(t, outerHead.ID(), brks[1].Succ(flow.EdgeNormal))

	// break blk skips g() and lands on h().
	target := g.Node(brks[2].Succ(flow.EdgeNormal))
	require.NotNil(t, target.AST)
	assert.Equal(t, "h", target.AST.Expression.Callee.Name)
}

func TestBuild_Switch(t *testing.T) {
	t.Parallel()
	f := setup(t, `
function f(x) {
  switch (x) {
  case 1:
  case 2:
    a();
    break;
  default:
  case 3:
    b();
  }
  c();
}`)
	g := f.graph(t, "f")
	assertWellFormed(t, g)

	var tests []*flow.Node
	var def *flow.Node
	for _, n := range g.Nodes() {
		if n.AST == nil || n.AST.Kind != jsast.SwitchCase {
			continue
		}
		if n.Kind == flow.KindBranch {
			tests = append(tests, n)
		} else {
			def = n
		}
	}
	require.Len(t, tests, 3)
	require.NotNil(t, def)

	disc := byKind(g, jsast.Identifier)
	require.Len(t, disc, 1, "the discriminant gets its own node")
	assert.Equal(t, tests[0].ID(), disc[0].Succ(flow.EdgeNormal))

	// case 1 is empty and falls into case 2's body.
	assert.Equal(t, tests[1].Succ(flow.EdgeTrue), tests[0].Succ(flow.EdgeTrue))
	assert.Equal(t, tests[1].ID(), tests[0].Succ(flow.EdgeFalse))
	assert.Equal(t, tests[2].ID(), tests[1].Succ(flow.EdgeFalse))
	// The last test falls to default, and the empty default falls into case 3.
	assert.Equal(t, def.ID(), tests[2].Succ(flow.EdgeFalse))
	assert.Equal(t, tests[2].Succ(flow.EdgeTrue), def.Succ(flow.EdgeNormal))

	brk := byKind(g, jsast.BreakStatement)
	require.Len(t, brk, 1)
	after := g.Node(brk[0].Succ(flow.EdgeNormal))
	assert.Equal(t, "c", after.AST.Expression.Callee.Name)
}

func TestBuild_TryCatchFinally(t *testing.T) {
	t.Parallel()
	f := setup(t, `
function f() {
  try {
    risky();
    throw new Error("x");
  } catch (e) {
    recover(e);
  } finally {
    done();
  }
  var z = 1;
  throw z;
}`)
	g := f.graph(t, "f")
	assertWellFormed(t, g)

	catches := byKind(g, jsast.CatchClause)
	require.Len(t, catches, 1)
	catch := catches[0]

	throws := byKind(g, jsast.ThrowStatement)
	require.Len(t, throws, 2)
	for _, th := range throws {
		assert.Equal(t, flow.NoNode, th.Succ(flow.EdgeNormal), "throw has only an exception edge")
		assert.Len(t, th.Out(), 1)
	}
	assert.Equal(t, catch.ID(), throws[0].Succ(flow.EdgeException))
	assert.Equal(t, g.Exit(), throws[1].Succ(flow.EdgeException), "uncaught throw goes to exit")

	var risky, recov, done *flow.Node
	for _, n := range byKind(g, jsast.ExpressionStatement) {
		switch n.AST.Expression.Callee.Name {
		case "risky":
			risky = n
		case "recover":
			recov = n
		case "done":
			done = n
		}
	}
	require.NotNil(t, risky)
	require.NotNil(t, recov)
	require.NotNil(t, done)

	assert.Equal(t, catch.ID(), risky.Succ(flow.EdgeException), "calls inside try may throw to the handler")
	assert.Equal(t, done.ID(), recov.Succ(flow.EdgeException), "calls inside catch may throw to the finalizer")
	assert.Equal(t, done.ID(), recov.Succ(flow.EdgeNormal))
	assert.Equal(t, flow.NoNode, done.Succ(flow.EdgeException), "nothing is active after the try")
}

func TestBuild_ArrowExpressionBody(t *testing.T) {
	t.Parallel()
	f := setup(t, `var sq = (n) => n * n;`)
	var arrow *scope.Scope
	for _, s := range f.scopes.Scopes() {
		if s.Kind() == scope.Anonymous {
			arrow = s
		}
	}
	require.NotNil(t, arrow)
	g, err := f.builder.Build(arrow)
	require.NoError(t, err)
	assertWellFormed(t, g)
	require.Equal(t, 3, g.Len())
	body := g.Node(g.Node(g.Entry()).Succ(flow.EdgeNormal))
	assert.Equal(t, jsast.BinaryExpression, body.AST.Kind)
	assert.Equal(t, g.Exit(), body.Succ(flow.EdgeNormal))
}

func TestBuild_IdempotentFingerprint(t *testing.T) {
	t.Parallel()
	src := `
function f(a) {
  for (var i = 0; i < a; i++) { if (i) continue; try { g(i); } catch (e) {} }
  switch (a) { case 1: return 1; default: return 2; }
}`
	first := setup(t, src).graph(t, "f")
	second := setup(t, src).graph(t, "f")
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	assert.Equal(t, first.Len(), second.Len())

	clone := first.Clone()
	assert.Equal(t, first.Fingerprint(), clone.Fingerprint())

	other := setup(t, `function f(a) { while (a) {} }`).graph(t, "f")
	assert.NotEqual(t, first.Fingerprint(), other.Fingerprint())
}

func TestBuild_MalformedSubtree(t *testing.T) {
	t.Parallel()
	f := setup(t, `function bad() { a(); b(); } function good() { c(); }`)

	var bad, good *scope.Scope
	for _, s := range f.scopes.Scopes() {
		switch s.Name() {
		case "bad":
			bad = s
		case "good":
			good = s
		}
	}
	require.NotNil(t, bad)
	require.NotNil(t, good)

	body := bad.Node().Body
	body.Statements[1] = &jsast.Node{ID: f.tree.IDs.Next(), Kind: jsast.Unknown, Raw: "@@", Parent: body}

	g, err := f.builder.Build(bad)
	assert.Nil(t, g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, flow.ErrMalformed))
	var be *flow.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "bad", be.Scope)
	assert.Equal(t, jsast.Unknown, be.Kind)

	ok, err := f.builder.Build(good)
	require.NoError(t, err)
	assertWellFormed(t, ok)
}

func TestBuild_BreakOutsideLoopIsMalformed(t *testing.T) {
	t.Parallel()
	f := setup(t, `function f() { if (x) { g(); } }`)
	fn := f.scopes.Root.Children()[0]
	ifStmt := fn.Node().Body.Statements[0]
	ifStmt.Consequent.Statements[0] = &jsast.Node{ID: f.tree.IDs.Next(), Kind: jsast.BreakStatement}

	g, err := f.builder.Build(fn)
	assert.Nil(t, g)
	assert.ErrorIs(t, err, flow.ErrMalformed)
}

func TestGraph_ConnectDisconnect(t *testing.T) {
	t.Parallel()
	g := flow.NewGraph("g", nil)
	ast := &jsast.Node{ID: 1, Kind: jsast.EmptyStatement}
	a := g.Add(flow.KindNormal, ast, nil, 1).ID()
	b := g.Add(flow.KindNormal, ast, nil, 2).ID()
	c := g.Add(flow.KindNormal, ast, nil, 3).ID()

	g.Connect(a, b, flow.EdgeNormal)
	g.Connect(a, c, flow.EdgeCall)
	g.Connect(a, c, flow.EdgeCall)
	assert.Len(t, g.Node(a).Out(), 2)
	assert.Equal(t, []flow.NodeID{a}, g.Node(c).Prev())

	// Replacing a single-valued edge unlinks the old predecessor.
	g.Connect(a, c, flow.EdgeNormal)
	assert.Empty(t, g.Node(b).Prev())
	assert.Equal(t, []flow.NodeID{a}, g.Node(c).Prev())

	// c stays a successor while the call edge remains.
	g.Disconnect(a, c, flow.EdgeNormal)
	assert.Equal(t, []flow.NodeID{a}, g.Node(c).Prev())
	g.Disconnect(a, c, flow.EdgeCall)
	assert.Empty(t, g.Node(c).Prev())
	assert.Empty(t, g.Edges())
}
