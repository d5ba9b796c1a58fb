// internal/analysis/model/inter.go
package model

import (
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// CallSite returns the call a flow node's syntax makes, in one of the
// shapes composition resolves: a call statement, or a call on the right of
// an assignment or declarator.
func CallSite(ast *jsast.Node) *jsast.Node {
	if ast == nil {
		return nil
	}
	var e *jsast.Node
	switch ast.Kind {
	case jsast.ExpressionStatement:
		e = ast.Expression
		if e != nil && e.Kind == jsast.AssignmentExpression {
			e = e.Right
		}
	case jsast.VariableDeclarator:
		e = ast.Init
	}
	if e != nil && e.Kind == jsast.AwaitExpression {
		e = e.Argument
	}
	if e == nil || e.Kind != jsast.CallExpression || e.Callee == nil {
		return nil
	}
	return e
}

// origin maps a composite node back to the model and node it was copied
// from, whose solved facts drive callee resolution.
type origin struct {
	model *Model
	id    flow.NodeID
}

type span struct {
	entry flow.NodeID
	exit  flow.NodeID
}

type pending struct {
	id    flow.NodeID
	depth int
}

// composition is the state of one composite under construction.
type composition struct {
	c       *Composer
	idx     Index
	cg      *callgraph.Graph
	catalog *Catalog

	m       *Model
	g       *flow.Graph
	origins []origin
	spliced map[*scope.Scope]span
	returns map[flow.NodeID]flow.NodeID
	queue   []pending
}

// Inter splices callee graphs into every intra model at resolved call
// sites, transitively, and solves the result. Only models that end up
// spanning more than one scope are returned. cg may be nil; it backs call
// sites that reaching definitions cannot resolve.
func (c *Composer) Inter(intra []*Model, idx Index, cg *callgraph.Graph) []*Model {
	catalog := NewCatalog(intra...)
	var out []*Model
	for _, caller := range intra {
		if !caller.Usable() || caller.Degraded() {
			continue
		}
		m := c.compose(caller, idx, cg, catalog)
		if m == nil {
			continue
		}
		out = append(out, m)
	}
	c.logger.Debug("Composed inter-procedural models.",
		zap.Int("intra", len(intra)),
		zap.Int("inter", len(out)))
	return out
}

func (c *Composer) compose(caller *Model, idx Index, cg *callgraph.Graph, catalog *Catalog) *Model {
	m := &Model{
		Name:   modelName(caller.File, caller.Main, Inter),
		File:   caller.File,
		Kind:   Inter,
		Main:   caller.Main,
		Scopes: []*scope.Scope{caller.Main},
	}
	st := &composition{
		c:       c,
		idx:     idx,
		cg:      cg,
		catalog: catalog,
		m:       m,
		g:       caller.Graph.Clone(),
		spliced: make(map[*scope.Scope]span),
		returns: make(map[flow.NodeID]flow.NodeID),
	}
	st.g.Name = m.Name
	st.spliced[caller.Main] = span{entry: st.g.Entry(), exit: st.g.Exit()}
	st.track(caller, 0, 0)
	st.run()

	if len(m.Scopes) < 2 {
		return nil
	}
	m.Graph = st.g
	c.solve(m, idx)
	c.logger.Debug("Composed model.",
		zap.String("model", m.Name),
		zap.Int("scopes", len(m.Scopes)),
		zap.Int("splices", len(m.Splices)),
		zap.Int("nodes", st.g.Len()))
	return m
}

// track records the origins of a graph copied at offset and queues its
// nodes for call-site inspection.
func (st *composition) track(src *Model, offset flow.NodeID, depth int) {
	for _, n := range src.Graph.Nodes() {
		id := offset + n.ID()
		for int(id) >= len(st.origins) {
			st.origins = append(st.origins, origin{})
		}
		st.origins[id] = origin{model: src, id: n.ID()}
		st.queue = append(st.queue, pending{id: id, depth: depth})
	}
}

func (st *composition) run() {
	for len(st.queue) > 0 {
		p := st.queue[0]
		st.queue = st.queue[1:]

		n := st.g.Node(p.id)
		if n.Kind != flow.KindNormal {
			continue
		}
		call := CallSite(n.AST)
		if call == nil {
			continue
		}
		for _, callee := range st.callees(st.origins[p.id], call) {
			if len(st.m.Splices) >= st.c.maxSplices {
				st.c.logger.Debug("Splice limit reached.", zap.String("model", st.m.Name), zap.Int("limit", st.c.maxSplices))
				return
			}
			sp, ok := st.spliced[callee]
			if ok && st.recursive(callee) {
				st.c.logger.Debug("Recursive callee reuses its splice.",
					zap.String("model", st.m.Name),
					zap.String("callee", callee.Name()))
			}
			if !ok {
				if p.depth >= st.c.maxDepth {
					st.c.logger.Debug("Composition depth limit reached.",
						zap.String("model", st.m.Name),
						zap.String("callee", callee.Name()),
						zap.Int("depth", p.depth))
					continue
				}
				km, found := st.catalog.Intra(callee)
				if !found || !km.Usable() {
					continue
				}
				offset := st.g.Append(km.Graph)
				sp = span{entry: offset + km.Graph.Entry(), exit: offset + km.Graph.Exit()}
				st.spliced[callee] = sp
				st.m.Scopes = append(st.m.Scopes, callee)
				st.track(km, offset, p.depth+1)
			}
			st.splice(p.id, callee, sp)
		}
	}
}

// splice retypes a site as a call node, moves its successors to a fresh
// call-return node and wires the callee between them.
func (st *composition) splice(site flow.NodeID, callee *scope.Scope, sp span) {
	g := st.g
	ret, ok := st.returns[site]
	if !ok {
		n := g.Node(site)
		n.Kind = flow.KindCall
		r := g.Add(flow.KindCallReturn, n.AST, n.Scope, n.UID)
		r.Line, r.Column = n.Line, n.Column
		ret = r.ID()
		for _, e := range n.Out() {
			g.Disconnect(site, e.To, e.Kind)
			g.Connect(ret, e.To, e.Kind)
		}
		g.Connect(site, ret, flow.EdgeNormal)
		st.returns[site] = ret
		st.origins = append(st.origins, st.origins[site])
	}
	g.Connect(site, sp.entry, flow.EdgeCall)
	g.Connect(sp.exit, ret, flow.EdgeReturn)
	st.m.Splices = append(st.m.Splices, Splice{
		Site:      site,
		Return:    ret,
		Callee:    callee,
		Entry:     sp.entry,
		Exit:      sp.exit,
		Recursive: st.recursive(callee),
	})
}

func (st *composition) recursive(callee *scope.Scope) bool {
	return st.cg != nil && st.cg.IsRecursive(callee.Node())
}

// callees resolves a call through the function definitions reaching the
// site in its own model, falling back to the call graph.
func (st *composition) callees(o origin, call *jsast.Node) []*scope.Scope {
	seen := make(map[*scope.Scope]bool)
	var out []*scope.Scope
	add := func(fn *jsast.Node) {
		if s, ok := st.idx.ScopeOf(fn); ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	ref, name := st.reference(call)
	if jsast.IsFunction(ref) {
		add(ref)
	}
	var v *scope.Var
	if ref != nil && ref.Kind == jsast.Identifier {
		v, _ = st.idx.Resolve(ref)
	}
	if (v != nil || name != "") && o.model != nil && o.model.Result != nil && !o.model.Degraded() {
		o.model.Graph.Node(o.id).Facts().ReachIn.Each(func(vd *flow.VarDef) {
			if vd.Def.Type != flow.DefFunction || vd.Def.Target == nil {
				return
			}
			if (v != nil && vd.Var == v) || (v == nil && vd.Var.Name() == name) {
				add(vd.Def.Target)
			}
		})
	}
	if len(out) == 0 && st.cg != nil {
		for _, e := range st.cg.At(call) {
			add(e.Callee)
		}
	}
	if len(out) == 0 {
		st.c.logger.Debug("Call site not resolved.", zap.Int("node", call.ID), zap.Stringer("loc", call.Loc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// reference returns what a call invokes. For timer calls it is the
// callback argument, and for string callbacks the name called inside the
// string, which has no syntax node in the tree.
func (st *composition) reference(call *jsast.Node) (*jsast.Node, string) {
	callee := call.Callee
	if callee.Kind != jsast.Identifier || !timerNames[callee.Name] || len(call.Arguments) == 0 {
		return callee, ""
	}
	arg := call.Arguments[0]
	src, ok := jsast.StringValue(arg)
	if !ok {
		return arg, ""
	}
	if st.c.exprs == nil {
		return nil, ""
	}
	expr, err := st.c.exprs.ParseExpression(src)
	if err != nil {
		st.c.logger.Debug("Timer callback string did not parse.", zap.String("source", src), zap.Error(err))
		return nil, ""
	}
	inner := callgraph.FirstCall(expr)
	if inner == nil || inner.Callee == nil || inner.Callee.Kind != jsast.Identifier {
		return nil, ""
	}
	return nil, inner.Callee.Name
}

var timerNames = map[string]bool{
	"setTimeout":  true,
	"setInterval": true,
}
