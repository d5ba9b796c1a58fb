// internal/irgraph/emit.go
package irgraph

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/dataflow"
	"github.com/xkilldash9x/jaw/internal/analysis/events"
	"github.com/xkilldash9x/jaw/internal/analysis/model"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// Emitter writes analysis results into a Store. Edges whose endpoints are
// missing are counted and logged, never fatal.
type Emitter struct {
	store   *Store
	ids     *jsast.IDAllocator
	modules map[string]int
	dropped int
	log     *zap.Logger
}

// NewEmitter returns an Emitter. ids must be the allocator the trees were
// parsed with so module nodes do not collide with syntax nodes.
func NewEmitter(logger *zap.Logger, store *Store, ids *jsast.IDAllocator) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = jsast.NewIDAllocator()
	}
	return &Emitter{
		store:   store,
		ids:     ids,
		modules: make(map[string]int),
		log:     logger.Named("irgraph"),
	}
}

// Store returns the store being filled.
func (e *Emitter) Store() *Store { return e.store }

// Dropped is the number of edges rejected for a missing endpoint.
func (e *Emitter) Dropped() int { return e.dropped }

func (e *Emitter) edge(ed Edge) {
	if _, err := e.store.AddEdge(ed); err != nil {
		e.dropped++
		e.log.Debug("Edge dropped.", zap.Error(err))
	}
}

// Tree emits every syntax node of a file and its AST_parentOf edges, typed
// with the child's role. Identifiers bound to host handles are tagged when
// res is not nil.
func (e *Emitter) Tree(tree *jsast.Tree, res dataflow.Resolver) {
	if tree == nil || tree.Root == nil {
		return
	}
	jsast.Inspect(tree.Root, func(n *jsast.Node) bool {
		e.store.AddNode(Node{
			ID:       n.ID,
			Kind:     n.Kind.String(),
			File:     tree.Name,
			Name:     n.Name,
			Value:    n.Value,
			Raw:      n.Raw,
			DeclKind: n.DeclKind,
			Async:    n.Async,
			Semantic: semantic(n, res),
			Line:     n.Loc.Line,
			Column:   n.Loc.Column,
		})
		return true
	})
	jsast.Inspect(tree.Root, func(n *jsast.Node) bool {
		jsast.Each(n, func(role string, c *jsast.Node) {
			e.edge(Edge{From: n.ID, To: c.ID, Relation: RelAST, Type: role})
		})
		return true
	})
}

func semantic(n *jsast.Node, res dataflow.Resolver) SemanticType {
	if res == nil || n.Kind != jsast.Identifier {
		return SemanticNone
	}
	if p := n.Parent; p != nil && !p.Computed &&
		((p.Kind == jsast.MemberExpression && p.Property == n) || (p.Key == n)) {
		return SemanticNone
	}
	v, ok := res.Resolve(n)
	if !ok {
		return SemanticNone
	}
	switch v.Host() {
	case scope.HostDOM:
		return SemanticDOM
	case scope.HostStorage:
		return SemanticStorage
	}
	return SemanticNone
}

// Flow emits the CFG_parentOf edges of a model's graph, typed with the
// flow edge kind. Flow nodes stand for the syntax node they share a uid
// with; synthetic ones are added as nodes of their flow kind.
func (e *Emitter) Flow(m *model.Model) {
	if m == nil || !m.Usable() {
		return
	}
	g := m.Graph
	for _, n := range g.Nodes() {
		if n.AST == nil || n.AST.ID != n.UID {
			e.store.AddNode(Node{ID: n.UID, Kind: n.Kind.String(), File: m.File, Line: n.Line, Column: n.Column})
		}
	}
	for _, ed := range g.Edges() {
		from, to := g.Node(ed.From).UID, g.Node(ed.To).UID
		if from == to {
			continue
		}
		e.edge(Edge{From: from, To: to, Relation: RelCFG, Type: ed.Kind.String()})
	}
}

// Pairs emits the def-use pairs of a solved model. Data pairs become
// PDG_parentOf edges from the defining node to the reading node. Control
// pairs become PDG_control edges to the conditional statement, with the
// node ids of its consequent and alternate in the args.
func (e *Emitter) Pairs(m *model.Model) {
	if m == nil || m.Result == nil {
		return
	}
	g := m.Graph
	for _, p := range m.Result.All() {
		from := g.Node(p.Def.Node).UID
		args := map[string]string{"var": p.Var.Name(), "def": p.Def.Type.String()}
		if !p.IsControl() {
			e.edge(Edge{From: from, To: g.Node(p.Use).UID, Relation: RelPDG, Type: m.Kind.String(), Args: args})
			continue
		}
		if p.Control.Statement == nil {
			continue
		}
		if p.Control.Branchless {
			args["branchless"] = "true"
		}
		if c := p.Control.Consequent; c != nil {
			args["consequent"] = strconv.Itoa(c.ID)
		}
		if a := p.Control.Alternate; a != nil {
			args["alternate"] = strconv.Itoa(a.ID)
		}
		e.edge(Edge{From: from, To: p.Control.Statement.ID, Relation: RelPDGControl, Type: m.Kind.String(), Args: args})
	}
}

// Calls emits a CG_parentOf edge per resolved call, typed with its
// provenance.
func (e *Emitter) Calls(cg *callgraph.Graph) {
	if cg == nil {
		return
	}
	for _, c := range cg.Edges {
		var args map[string]string
		if c.Name != "" || len(c.ArgMap) > 0 {
			args = map[string]string{}
		}
		if c.Name != "" {
			args["name"] = c.Name
		}
		if len(c.ArgMap) > 0 {
			parts := make([]string, len(c.ArgMap))
			for i, a := range c.ArgMap {
				parts[i] = strconv.Itoa(a)
			}
			args["argmap"] = strings.Join(parts, ",")
		}
		e.edge(Edge{From: c.Site.ID, To: c.Callee.ID, Relation: RelCG, Type: string(c.Provenance), Args: args})
	}
}

// Events emits the registration, dispatch and dependency edges.
func (e *Emitter) Events(eg *events.Graph) {
	if eg == nil {
		return
	}
	for _, r := range eg.Registrations {
		if r.Handler == nil {
			continue
		}
		e.edge(Edge{From: r.Site.ID, To: r.Handler.ID, Relation: RelERDDGRegistration, Type: r.Event, Args: map[string]string{"key": r.Key}})
	}
	for _, d := range eg.Dependencies {
		args := map[string]string{"key": d.Registration.Key}
		if d.Statement == nil {
			e.edge(Edge{From: d.Dispatch.Site.ID, To: d.Registration.Handler.ID, Relation: RelERDDGDispatch, Type: d.Registration.Event, Args: args})
			continue
		}
		e.edge(Edge{From: d.Dispatch.Site.ID, To: d.Statement.ID, Relation: RelERDDGDependency, Type: d.Registration.Event, Args: args})
	}
}

// Import emits a ModuleImport edge from an import statement to the node that
// defines the imported symbol.
func (e *Emitter) Import(statement, origin int, module, symbol string) {
	e.edge(Edge{From: statement, To: origin, Relation: RelModuleImport, Type: symbol, Args: map[string]string{"module": module}})
}

// ExternalImport emits a ModuleImport edge to the synthetic node of a module
// that is not part of the run. One node exists per module name.
func (e *Emitter) ExternalImport(statement int, module string) {
	id, ok := e.modules[module]
	if !ok {
		id = e.ids.Next()
		e.modules[module] = id
		e.store.AddNode(Node{ID: id, Kind: "Module", Name: module})
	}
	e.edge(Edge{From: statement, To: id, Relation: RelModuleImport, Type: "external", Args: map[string]string{"module": module}})
}
