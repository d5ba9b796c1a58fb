// internal/analysis/events/resolver.go
package events

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/model"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// domEvents are the event names recognized in on-properties and in
// dispatching method calls such as el.click().
var domEvents = map[string]bool{
	"abort": true, "blur": true, "change": true, "click": true, "close": true,
	"contextmenu": true, "copy": true, "cut": true, "dblclick": true, "drag": true,
	"drop": true, "error": true, "focus": true, "hashchange": true, "input": true,
	"keydown": true, "keypress": true, "keyup": true, "load": true, "message": true,
	"mousedown": true, "mousemove": true, "mouseout": true, "mouseover": true,
	"mouseup": true, "paste": true, "popstate": true, "reset": true, "resize": true,
	"scroll": true, "select": true, "storage": true, "submit": true, "unload": true,
	"wheel": true,
}

// Resolver builds event graphs.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver returns a Resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.Named("events")}
}

// Resolve scans every tree for registrations and dispatches and links them.
// Handler references that are identifiers resolve through the function
// definitions reaching the registration in the intra model of its scope,
// then through the declaration, then through the call graph. catalog and cg
// may be nil.
func (r *Resolver) Resolve(trees []*jsast.Tree, idx model.Index, catalog *model.Catalog, cg *callgraph.Graph) *Graph {
	g := newGraph()
	sc := &scan{r: r, g: g, idx: idx, catalog: catalog, cg: cg}
	for _, t := range trees {
		if t == nil || t.Root == nil {
			continue
		}
		sc.tree = t
		jsast.Inspect(t.Root, sc.visit)
	}
	g.link()
	r.logger.Debug("Resolved events.",
		zap.Int("registrations", len(g.Registrations)),
		zap.Int("dispatches", len(g.Dispatches)),
		zap.Int("dependencies", len(g.Dependencies)))
	return g
}

type scan struct {
	r       *Resolver
	g       *Graph
	idx     model.Index
	catalog *model.Catalog
	cg      *callgraph.Graph
	tree    *jsast.Tree
}

func (sc *scan) visit(n *jsast.Node) bool {
	switch n.Kind {
	case jsast.AssignmentExpression:
		if n.Operator == "=" {
			sc.property(n)
		}
	case jsast.CallExpression:
		sc.call(n)
	}
	return true
}

// property handles x.onclick = handler.
func (sc *scan) property(n *jsast.Node) {
	if n.Left == nil || n.Left.Kind != jsast.MemberExpression {
		return
	}
	name, ok := jsast.PropertyName(n.Left)
	if !ok {
		return
	}
	event, ok := onEvent(name)
	if !ok {
		return
	}
	sc.register(n, n.Left.Object, event, n.Right)
}

func (sc *scan) call(n *jsast.Node) {
	callee := n.Callee
	if callee == nil || callee.Kind != jsast.MemberExpression {
		return
	}
	method, ok := jsast.PropertyName(callee)
	if !ok {
		return
	}
	recv := callee.Object
	switch method {
	case "addEventListener", "on":
		if len(n.Arguments) < 2 {
			return
		}
		event, ok := jsast.StringValue(n.Arguments[0])
		if !ok {
			sc.r.logger.Debug("Registration with a dynamic event name.", zap.Stringer("loc", n.Loc))
			return
		}
		sc.register(n, recv, event, n.Arguments[len(n.Arguments)-1])
	case "dispatchEvent":
		var event string
		if len(n.Arguments) > 0 {
			event = sc.eventOf(n.Arguments[0])
		}
		sc.dispatch(n, recv, event)
	case "trigger":
		var event string
		if len(n.Arguments) > 0 {
			event, _ = jsast.StringValue(n.Arguments[0])
		}
		sc.dispatch(n, recv, event)
	default:
		if event, ok := onEvent(method); ok {
			sc.dispatch(n, recv, event)
		} else if domEvents[method] && len(n.Arguments) == 0 {
			sc.dispatch(n, recv, method)
		}
	}
}

func (sc *scan) register(site, recv *jsast.Node, event string, handler *jsast.Node) {
	receiver := sc.identity(recv)
	reg := &Registration{
		Key:      Key(receiver, event),
		Receiver: receiver,
		Event:    event,
		Site:     site,
	}
	if fn := sc.handler(site, handler); fn != nil {
		reg.Handler = fn
		reg.Scope = sc.scopeOf(fn)
	} else {
		sc.r.logger.Debug("Handler not resolved.", zap.String("key", reg.Key), zap.Stringer("loc", site.Loc))
	}
	sc.g.register(reg)
}

// rangeIndex finds a scope by the span of its function. *scope.Forest
// implements it.
type rangeIndex interface {
	ScopeAt(n *jsast.Node, r jsast.Range) (*scope.Scope, bool)
}

// scopeOf returns the scope a handler opens. Handlers the index does not
// know by id, such as copies of the syntax, are matched by range.
func (sc *scan) scopeOf(fn *jsast.Node) *scope.Scope {
	if s, ok := sc.idx.ScopeOf(fn); ok {
		return s
	}
	ri, ok := sc.idx.(rangeIndex)
	if !ok {
		return nil
	}
	s, _ := ri.ScopeAt(fn, fn.Range)
	return s
}

func (sc *scan) dispatch(site, recv *jsast.Node, event string) {
	sc.g.Dispatches = append(sc.g.Dispatches, &Dispatch{
		Receiver: sc.identity(recv),
		Event:    event,
		Site:     site,
	})
}

// identity names a receiver: its dotted path when static, else its source
// text without whitespace.
func (sc *scan) identity(recv *jsast.Node) string {
	if name, ok := jsast.DottedName(recv); ok {
		return name
	}
	return strings.Join(strings.FieldsFunc(sc.tree.Text(recv), unicode.IsSpace), "")
}

// eventOf returns the event name a dispatchEvent argument carries: a string,
// a new Event("name") construction, or a variable initialized with one.
func (sc *scan) eventOf(arg *jsast.Node) string {
	if s, ok := jsast.StringValue(arg); ok {
		return s
	}
	if arg.Kind == jsast.Identifier {
		v, ok := sc.idx.Resolve(arg)
		if !ok || v.Decl() == nil || v.Decl().Kind != jsast.VariableDeclarator {
			return ""
		}
		arg = v.Decl().Init
	}
	if arg == nil || arg.Kind != jsast.NewExpression || len(arg.Arguments) == 0 {
		return ""
	}
	if arg.Callee == nil || arg.Callee.Kind != jsast.Identifier || !strings.HasSuffix(arg.Callee.Name, "Event") {
		return ""
	}
	s, _ := jsast.StringValue(arg.Arguments[0])
	return s
}

// handler returns the function a handler reference denotes.
func (sc *scan) handler(site, ref *jsast.Node) *jsast.Node {
	if ref == nil {
		return nil
	}
	if jsast.IsFunction(ref) {
		return ref
	}
	if ref.Kind == jsast.Identifier {
		if fn := sc.reaching(site, ref); fn != nil {
			return fn
		}
		if v, ok := sc.idx.Resolve(ref); ok && v.Decl() != nil {
			d := v.Decl()
			if d.Kind == jsast.FunctionDeclaration {
				return d
			}
			if d.Kind == jsast.VariableDeclarator && jsast.IsFunction(d.Init) {
				return d.Init
			}
		}
	}
	if sc.cg != nil {
		if name, ok := jsast.DottedName(ref); ok {
			if fns := sc.cg.Lookup(name); len(fns) > 0 {
				return fns[0]
			}
		}
	}
	return nil
}

// reaching looks up the function definitions of ref's variable that reach
// the flow node holding site in its scope's intra model. The first one by
// node id wins.
func (sc *scan) reaching(site, ref *jsast.Node) *jsast.Node {
	if sc.catalog == nil {
		return nil
	}
	v, ok := sc.idx.Resolve(ref)
	if !ok {
		return nil
	}
	s, ok := sc.idx.ScopeOf(jsast.EnclosingFunction(site))
	if !ok {
		return nil
	}
	m, ok := sc.catalog.Intra(s)
	if !ok || !m.Usable() || m.Degraded() {
		return nil
	}
	id := holder(m.Graph, site)
	if id == flow.NoNode {
		return nil
	}
	var best *jsast.Node
	m.Graph.Node(id).Facts().ReachIn.Each(func(vd *flow.VarDef) {
		if vd.Var != v || vd.Def.Type != flow.DefFunction || vd.Def.Target == nil {
			return
		}
		if best == nil || vd.Def.Target.ID < best.ID {
			best = vd.Def.Target
		}
	})
	return best
}

// holder returns the flow node built from site or its nearest ancestor
// below the function boundary.
func holder(g *flow.Graph, site *jsast.Node) flow.NodeID {
	for cur := site; cur != nil; cur = cur.Parent {
		if cur.Kind.IsFunction() || cur.Kind == jsast.Program {
			break
		}
		if id := g.Find(cur); id != flow.NoNode {
			return id
		}
	}
	return flow.NoNode
}

// onEvent maps an on-property name to its event.
func onEvent(name string) (string, bool) {
	if len(name) <= 2 || !strings.HasPrefix(name, "on") {
		return "", false
	}
	event := strings.ToLower(name[2:])
	return event, domEvents[event]
}
