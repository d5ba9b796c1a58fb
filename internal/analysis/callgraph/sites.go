// internal/analysis/callgraph/sites.go
package callgraph

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

var timers = map[string]bool{
	"setTimeout":  true,
	"setInterval": true,
}

// sites resolves call expressions against the finished name map.
type sites struct {
	r *Resolver
	g *Graph
}

func (s *sites) visit(n *jsast.Node) bool {
	if n.Kind == jsast.CallExpression || n.Kind == jsast.NewExpression {
		if !s.site(n) {
			s.r.logger.Debug("Unresolved call site.",
				zap.Int("node", n.ID),
				zap.Stringer("loc", n.Loc))
		}
	}
	return true
}

func (s *sites) site(n *jsast.Node) bool {
	callee := n.Callee
	if callee == nil {
		return false
	}
	if jsast.IsFunction(callee) {
		args, idx := positional(n.Arguments, 0)
		return s.g.add(CallEdge{Site: n, Callee: callee, Provenance: Direct, Args: args, ArgMap: idx})
	}

	if n.Kind == jsast.CallExpression {
		if callee.Kind == jsast.MemberExpression {
			method, _ := jsast.PropertyName(callee)
			switch method {
			case "call":
				args, idx := positional(n.Arguments, 1)
				if s.named(n, callee.Object, Call, args, idx) {
					return true
				}
			case "apply":
				args, idx := applied(n.Arguments)
				if s.named(n, callee.Object, Apply, args, idx) {
					return true
				}
			case "then":
				resolved := false
				for i, arg := range n.Arguments {
					if i > 1 {
						break
					}
					resolved = s.callback(n, arg, Then) || resolved
				}
				return resolved
			}
		}
		if callee.Kind == jsast.Identifier && timers[callee.Name] && len(n.Arguments) > 0 {
			return s.timer(n, n.Arguments[0])
		}
	}

	args, idx := positional(n.Arguments, 0)
	return s.named(n, callee, Direct, args, idx)
}

// named resolves a static reference through the name map. The first
// candidate key with bindings wins.
func (s *sites) named(site, ref *jsast.Node, prov Provenance, args []*jsast.Node, idx []int) bool {
	for _, key := range candidates(site, ref) {
		entries := s.g.names.lookup(key)
		if len(entries) == 0 {
			continue
		}
		added := false
		for _, e := range entries {
			p := prov
			if p == Direct && e.via == Alias {
				p = Alias
			}
			added = s.g.add(CallEdge{Site: site, Callee: e.fn, Name: key, Provenance: p, Args: args, ArgMap: idx}) || added
		}
		return added
	}
	return false
}

// candidates lists the keys a reference may be bound under. A this-rooted
// chain also tries the enclosing class name and the bare remainder.
func candidates(site, ref *jsast.Node) []string {
	path := jsast.MemberPath(ref)
	if len(path) == 0 {
		return nil
	}
	keys := []string{normalize(path)}
	if path[0] != "this" || len(path) < 2 {
		return keys
	}
	rest := path[1:]
	if cls := jsast.EnclosingClass(site); cls != nil {
		if name := className(cls); name != "" {
			keys = append(keys, normalize(append([]string{name}, rest...)))
		}
	}
	return append(keys, normalize(rest))
}

// callback resolves a function-valued argument.
func (s *sites) callback(site, arg *jsast.Node, prov Provenance) bool {
	if arg == nil {
		return false
	}
	if jsast.IsFunction(arg) {
		return s.g.add(CallEdge{Site: site, Callee: arg, Provenance: prov})
	}
	return s.named(site, arg, prov, nil, nil)
}

// timer resolves the first argument of setTimeout/setInterval. A string is
// parsed as an expression and its first call is resolved.
func (s *sites) timer(site, arg *jsast.Node) bool {
	src, ok := jsast.StringValue(arg)
	if !ok {
		return s.callback(site, arg, Timeout)
	}
	if s.r.exprs == nil || strings.TrimSpace(src) == "" {
		return false
	}
	expr, err := s.r.exprs.ParseExpression(src)
	if err != nil {
		s.r.logger.Debug("Timer callback string did not parse.", zap.String("source", src), zap.Error(err))
		return false
	}
	inner := FirstCall(expr)
	if inner == nil {
		return false
	}
	return s.named(site, inner.Callee, Timeout, nil, nil)
}

// FirstCall returns the first call expression in pre-order under n.
func FirstCall(n *jsast.Node) *jsast.Node {
	var found *jsast.Node
	jsast.Inspect(n, func(c *jsast.Node) bool {
		if found != nil {
			return false
		}
		if c.Kind == jsast.CallExpression {
			found = c
			return false
		}
		return true
	})
	return found
}

// positional forwards args[offset:] to the callee's parameters in order.
func positional(args []*jsast.Node, offset int) ([]*jsast.Node, []int) {
	if offset >= len(args) {
		return nil, nil
	}
	out := args[offset:]
	idx := make([]int, len(out))
	for i := range out {
		idx[i] = offset + i
	}
	return out, idx
}

// applied forwards the elements of an array literal given to apply. They
// are not arguments of the site itself, so their indexes are -1.
func applied(args []*jsast.Node) ([]*jsast.Node, []int) {
	if len(args) < 2 || args[1] == nil || args[1].Kind != jsast.ArrayExpression {
		return nil, nil
	}
	out := args[1].Elements
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = -1
	}
	return out, idx
}
