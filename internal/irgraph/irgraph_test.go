// internal/irgraph/irgraph_test.go
package irgraph_test

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/dataflow"
	"github.com/xkilldash9x/jaw/internal/analysis/events"
	"github.com/xkilldash9x/jaw/internal/analysis/model"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/irgraph"
	"github.com/xkilldash9x/jaw/internal/jsast"
	"github.com/xkilldash9x/jaw/internal/parser"
)

func TestStore_Edges(t *testing.T) {
	t.Parallel()
	s := irgraph.NewStore(zaptest.NewLogger(t))
	s.AddNode(irgraph.Node{ID: 2, Kind: "Identifier"})
	s.AddNode(irgraph.Node{ID: 1, Kind: "Program"})

	t.Run("missing endpoint", func(t *testing.T) {
		_, err := s.AddEdge(irgraph.Edge{From: 1, To: 9, Relation: irgraph.RelAST})
		assert.Error(t, err)
	})

	t.Run("dedup", func(t *testing.T) {
		e := irgraph.Edge{From: 1, To: 2, Relation: irgraph.RelCFG, Type: "normal", Args: map[string]string{"a": "1", "b": "2"}}
		added, err := s.AddEdge(e)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.AddEdge(irgraph.Edge{From: 1, To: 2, Relation: irgraph.RelCFG, Type: "normal", Args: map[string]string{"b": "2", "a": "1"}})
		require.NoError(t, err)
		assert.False(t, added)

		added, err = s.AddEdge(irgraph.Edge{From: 1, To: 2, Relation: irgraph.RelCFG, Type: "true"})
		require.NoError(t, err)
		assert.True(t, added)
	})
}

func TestStore_ExportAndTag(t *testing.T) {
	t.Parallel()
	s := irgraph.NewStore(nil)
	s.AddNode(irgraph.Node{ID: 3, Kind: "Identifier", Name: "b"})
	s.AddNode(irgraph.Node{ID: 1, Kind: "Program"})
	s.AddNode(irgraph.Node{ID: 1, Kind: "Ignored", Semantic: irgraph.SemanticDOM})
	require.NoError(t, s.Tag(3, irgraph.SemanticStorage))
	assert.Error(t, s.Tag(7, irgraph.SemanticStorage))
	_, err := s.AddEdge(irgraph.Edge{From: 1, To: 3, Relation: irgraph.RelAST, Type: "body"})
	require.NoError(t, err)

	got := s.Export(irgraph.Header{RunID: "r", Files: []string{"a.js"}})
	want := irgraph.Stream{
		Header: irgraph.Header{RunID: "r", Files: []string{"a.js"}},
		Nodes: []irgraph.Node{
			{ID: 1, Kind: "Program", Semantic: irgraph.SemanticDOM},
			{ID: 3, Kind: "Identifier", Name: "b", Semantic: irgraph.SemanticStorage},
		},
		Edges: []irgraph.Edge{{From: 1, To: 3, Relation: irgraph.RelAST, Type: "body"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Export mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, s.Outgoing(1), 1)
	assert.Empty(t, s.Outgoing(3))
}

type fixture struct {
	tree   *jsast.Tree
	scopes *scope.Tree
	models []*model.Model
	cg     *callgraph.Graph
	events *events.Graph
	emit   *irgraph.Emitter
}

func setup(t *testing.T, src string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tree, err := parser.ParseString("test.js", src)
	require.NoError(t, err)
	f := &fixture{tree: tree, scopes: scope.NewResolver(logger).Resolve(tree.Root)}
	composer := model.NewComposer(logger, tree.IDs, dataflow.New(logger, dataflow.WithConvergenceCheck(true)))
	f.models = composer.Intra("test.js", tree, f.scopes, f.scopes)
	f.cg = callgraph.NewResolver(logger).Resolve(tree.Root)
	f.events = events.NewResolver(logger).Resolve([]*jsast.Tree{tree}, f.scopes, model.NewCatalog(f.models...), f.cg)
	f.emit = irgraph.NewEmitter(logger, irgraph.NewStore(logger), tree.IDs)
	f.emit.Tree(tree, f.scopes)
	return f
}

// kinds projects edges of one relation onto the syntax kinds they join.
func (f *fixture) kinds(rel irgraph.Relation) [][3]string {
	s := f.emit.Store()
	var out [][3]string
	for _, e := range s.Edges(rel) {
		from, _ := s.Node(e.From)
		to, _ := s.Node(e.To)
		out = append(out, [3]string{from.Kind, to.Kind, e.Type})
	}
	return out
}

func TestEmitter_TreeAndSemanticTags(t *testing.T) {
	t.Parallel()
	f := setup(t, `document.title = localStorage.getItem("k");`)
	s := f.emit.Store()

	nodes, edges := s.Len()
	assert.Equal(t, f.tree.Len(), nodes)
	assert.Equal(t, nodes-1, edges, "every node but the root has one parent")
	assert.Zero(t, f.emit.Dropped())

	tags := map[string]irgraph.SemanticType{}
	for _, n := range s.Export(irgraph.Header{}).Nodes {
		if n.Kind == "Identifier" {
			tags[n.Name] = n.Semantic
		}
	}
	want := map[string]irgraph.SemanticType{
		"document":     irgraph.SemanticDOM,
		"title":        irgraph.SemanticNone,
		"localStorage": irgraph.SemanticStorage,
		"getItem":      irgraph.SemanticNone,
	}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitter_FlowAndPairs(t *testing.T) {
	t.Parallel()
	f := setup(t, `var x = 1;
if (x) { use(x); }`)
	var file *model.Model
	for _, m := range f.models {
		if m.Main.Kind() == scope.File {
			file = m
		}
	}
	require.NotNil(t, file)
	f.emit.Flow(file)
	f.emit.Pairs(file)
	assert.Zero(t, f.emit.Dropped())

	cfg := f.kinds(irgraph.RelCFG)
	assert.Contains(t, cfg, [3]string{"IfStatement", "ExpressionStatement", "true"})
	assert.Contains(t, cfg, [3]string{"IfStatement", "exit", "false"})

	// The undeclared use is read too, from its file entry definition.
	pdg := f.kinds(irgraph.RelPDG)
	require.Len(t, pdg, 2)
	assert.Equal(t, [3]string{"VariableDeclarator", "ExpressionStatement", "intra"}, pdg[0])
	assert.Equal(t, "ExpressionStatement", pdg[1][1])
	control := f.kinds(irgraph.RelPDGControl)
	assert.Equal(t, [][3]string{{"VariableDeclarator", "IfStatement", "intra"}}, control)

	s := f.emit.Store()
	e := s.Edges(irgraph.RelPDG)[0]
	assert.Equal(t, map[string]string{"var": "x", "def": "literal"}, e.Args)
	assert.Equal(t, map[string]string{"var": "use", "def": "undefined"}, s.Edges(irgraph.RelPDG)[1].Args)

	// Control edges name the code each outcome runs.
	ctl := s.Edges(irgraph.RelPDGControl)[0]
	stmt, ok := s.Node(ctl.To)
	require.True(t, ok)
	require.Equal(t, "IfStatement", stmt.Kind)
	consequent, ok := s.Node(atoi(t, ctl.Args["consequent"]))
	require.True(t, ok)
	assert.Equal(t, "BlockStatement", consequent.Kind)
	_, hasAlternate := ctl.Args["alternate"]
	assert.False(t, hasAlternate)
}

func TestEmitter_ControlBranches(t *testing.T) {
	t.Parallel()
	f := setup(t, `if (a) { b = 1; } else { b = 2; } use(b);`)
	var file *model.Model
	for _, m := range f.models {
		if m.Main.Kind() == scope.File {
			file = m
		}
	}
	require.NotNil(t, file)
	f.emit.Flow(file)
	f.emit.Pairs(file)

	edges := f.emit.Store().Edges(irgraph.RelPDGControl)
	require.Len(t, edges, 1)
	ctl := edges[0]
	assert.Equal(t, "a", ctl.Args["var"])

	var ifs *jsast.Node
	jsast.Inspect(f.tree.Root, func(n *jsast.Node) bool {
		if n.Kind == jsast.IfStatement {
			ifs = n
		}
		return ifs == nil
	})
	require.NotNil(t, ifs)
	assert.Equal(t, ifs.ID, ctl.To)
	assert.Equal(t, strconv.Itoa(ifs.Consequent.ID), ctl.Args["consequent"])
	assert.Equal(t, strconv.Itoa(ifs.Alternate.ID), ctl.Args["alternate"])
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err, "%q", s)
	return n
}

func TestEmitter_CallsAndEvents(t *testing.T) {
	t.Parallel()
	f := setup(t, `function f() { g(); }
f();
el.addEventListener("click", f);
el.click();`)
	f.emit.Calls(f.cg)
	f.emit.Events(f.events)
	assert.Zero(t, f.emit.Dropped())

	assert.Equal(t, [][3]string{{"CallExpression", "FunctionDeclaration", string(callgraph.Direct)}}, f.kinds(irgraph.RelCG))
	assert.Equal(t, [][3]string{{"CallExpression", "FunctionDeclaration", "click"}}, f.kinds(irgraph.RelERDDGRegistration))
	assert.Equal(t, [][3]string{{"CallExpression", "FunctionDeclaration", "click"}}, f.kinds(irgraph.RelERDDGDispatch))
	assert.Equal(t, [][3]string{{"CallExpression", "ExpressionStatement", "click"}}, f.kinds(irgraph.RelERDDGDependency))

	// A second pass adds nothing.
	_, before := f.emit.Store().Len()
	f.emit.Calls(f.cg)
	f.emit.Events(f.events)
	_, after := f.emit.Store().Len()
	assert.Equal(t, before, after)
}

func TestEmitter_ExternalImports(t *testing.T) {
	t.Parallel()
	f := setup(t, `import a from "lib";
import { b } from "lib";`)
	require.Len(t, f.tree.Imports, 2)
	for _, imp := range f.tree.Imports {
		f.emit.ExternalImport(imp.StatementID, imp.Module)
	}
	edges := f.emit.Store().Edges(irgraph.RelModuleImport)
	require.Len(t, edges, 2)
	assert.Equal(t, edges[0].To, edges[1].To)
	mod, ok := f.emit.Store().Node(edges[0].To)
	require.True(t, ok)
	assert.Equal(t, "Module", mod.Kind)
	assert.Equal(t, "lib", mod.Name)
}
