// internal/analysis/callgraph/resolver.go
// Package callgraph resolves call sites to function definitions through a
// flat name map and a bounded, substring-based alias pass. It is a
// heuristic: there is no points-to analysis, so edges may be missing or
// spurious, and every edge says how it was found.
package callgraph

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// DefaultAliasCutoff bounds the alias pairs matched against the name map.
const DefaultAliasCutoff = 2000

// ExprParser parses a single expression. It backs string callbacks given to
// setTimeout and setInterval.
type ExprParser interface {
	ParseExpression(src string) (*jsast.Node, error)
}

// Resolver builds call graphs. It keeps no state between calls to Resolve,
// so one instance can serve consecutive runs.
type Resolver struct {
	logger *zap.Logger
	cutoff int
	exprs  ExprParser
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAliasCutoff bounds the number of alias pairs applied. Zero or less
// disables alias matching altogether.
func WithAliasCutoff(n int) Option {
	return func(r *Resolver) { r.cutoff = n }
}

// WithExprParser enables resolution of string timer callbacks.
func WithExprParser(p ExprParser) Option {
	return func(r *Resolver) { r.exprs = p }
}

// NewResolver returns a Resolver.
func NewResolver(logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{logger: logger.Named("callgraph"), cutoff: DefaultAliasCutoff}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type aliasPair struct {
	actual string
	alias  string
}

// collector fills the name map in one traversal per program.
type collector struct {
	names   *nameMap
	aliases []aliasPair
	funcs   []*jsast.Node
}

// Resolve builds the call graph of the given programs, which are analyzed
// as one unit: names bound in one file resolve calls in another.
func (r *Resolver) Resolve(programs ...*jsast.Node) *Graph {
	c := &collector{names: newNameMap()}
	var roots []*jsast.Node
	for _, p := range programs {
		if p == nil {
			continue
		}
		roots = append(roots, p)
		jsast.Inspect(p, c.visit)
	}
	direct := c.names.len()

	pairs := c.aliases
	if r.cutoff <= 0 {
		pairs = nil
	} else if len(pairs) > r.cutoff {
		r.logger.Debug("Alias pairs exceed the cutoff, ignoring the rest.",
			zap.Int("pairs", len(pairs)),
			zap.Int("cutoff", r.cutoff))
		pairs = pairs[:r.cutoff]
	}
	added := c.names.applyAliases(pairs)

	g := newGraph(roots, c.funcs, c.names)
	s := &sites{r: r, g: g}
	for _, p := range roots {
		jsast.Inspect(p, s.visit)
	}

	r.logger.Debug("Resolved call graph.",
		zap.Int("names", direct),
		zap.Int("alias_pairs", len(pairs)),
		zap.Int("alias_names", added),
		zap.Int("functions", len(c.funcs)),
		zap.Int("edges", len(g.Edges)))
	return g
}

func (c *collector) visit(n *jsast.Node) bool {
	switch n.Kind {
	case jsast.FunctionDeclaration:
		c.funcs = append(c.funcs, n)
		if n.Ident != nil && n.Ident.Kind == jsast.Identifier {
			c.names.add(n.Ident.Name, n, Direct)
		}
	case jsast.FunctionExpression, jsast.ArrowFunctionExpression:
		c.funcs = append(c.funcs, n)
	case jsast.ClassDeclaration, jsast.ClassExpression:
		c.class(n)
	case jsast.VariableDeclarator:
		if n.Ident != nil && n.Ident.Kind == jsast.Identifier && n.Init != nil {
			c.value(n.Ident.Name, n.Init)
		}
	case jsast.AssignmentExpression:
		if n.Operator == "=" {
			if key := nameOf(n.Left); key != "" {
				c.value(key, n.Right)
			}
		}
	}
	return true
}

// value binds what an assignment or initializer stores under key.
func (c *collector) value(key string, v *jsast.Node) {
	if v == nil {
		return
	}
	switch v.Kind {
	case jsast.FunctionExpression, jsast.ArrowFunctionExpression:
		c.names.add(key, v, Direct)
	case jsast.ObjectExpression:
		for _, p := range v.Properties {
			if p.Kind != jsast.Property {
				continue
			}
			if name, ok := jsast.KeyName(p); ok {
				c.value(key+"."+name, p.ValueExpr)
			}
		}
	case jsast.Identifier, jsast.MemberExpression, jsast.ThisExpression:
		if actual := nameOf(v); actual != "" && actual != key {
			c.aliases = append(c.aliases, aliasPair{actual: actual, alias: key})
		}
	case jsast.NewExpression:
		if actual := nameOf(v.Callee); actual != "" && actual != key {
			c.aliases = append(c.aliases, aliasPair{actual: actual, alias: key})
		}
	case jsast.AssignmentExpression:
		// a = b = function() {}
		c.value(key, v.Right)
	case jsast.LogicalExpression:
		// ns.f = ns.f || function() {}
		c.value(key, v.Right)
	}
}

// class binds the constructor under the class name and each method under
// Class.method.
func (c *collector) class(n *jsast.Node) {
	name := className(n)
	if name == "" || n.Body == nil {
		return
	}
	for _, m := range n.Body.Members {
		key, ok := jsast.KeyName(m)
		if !ok || m.ValueExpr == nil || !jsast.IsFunction(m.ValueExpr) {
			continue
		}
		if m.Kind == jsast.MethodDefinition && m.DeclKind == "constructor" {
			c.names.add(name, m.ValueExpr, Direct)
			continue
		}
		c.names.add(name+"."+key, m.ValueExpr, Direct)
	}
}

// className is the declared name of a class, or the name it is bound to.
func className(n *jsast.Node) string {
	if n.Name != "" {
		return n.Name
	}
	p := n.Parent
	if p == nil {
		return ""
	}
	switch p.Kind {
	case jsast.VariableDeclarator:
		if p.Ident != nil && p.Ident.Kind == jsast.Identifier {
			return p.Ident.Name
		}
	case jsast.AssignmentExpression:
		return nameOf(p.Left)
	}
	return ""
}

// applyAliases adds, for each pair in order, a parallel binding for every
// key that contains the actual name as whole dotted segments. Later pairs
// see the bindings earlier ones added.
func (m *nameMap) applyAliases(pairs []aliasPair) int {
	added := 0
	for _, p := range pairs {
		for _, k := range m.sortedKeys() {
			nk, ok := substitute(k, p.actual, p.alias)
			if !ok || nk == k {
				continue
			}
			for _, e := range m.keys[k] {
				if m.add(nk, e.fn, Alias) {
					added++
				}
			}
		}
	}
	return added
}
