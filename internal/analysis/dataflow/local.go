// internal/analysis/dataflow/local.go
package dataflow

import (
	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// mode selects which local facts a node contributes. Call sites keep their
// uses; the matching call-return node carries their definitions.
type mode uint8

const (
	modeDefs mode = 1 << iota
	modeUses
	modeBoth = modeDefs | modeUses
)

// local computes GEN, the assigned-variable set and the use sets of every
// node. owners records, per node and variable, the construct a predicate
// use decides.
type local struct {
	g      *flow.Graph
	res    Resolver
	owners map[flow.NodeID]map[int]*jsast.Node
}

func newLocal(g *flow.Graph, res Resolver) *local {
	return &local{g: g, res: res, owners: make(map[flow.NodeID]map[int]*jsast.Node)}
}

func (l *local) run() {
	u := l.g.Universe()
	for _, n := range l.g.Nodes() {
		f := n.Facts()
		f.Gen, f.Kill = flow.NewVarDefSet(u), flow.NewVarDefSet(u)
		f.ReachIn, f.ReachOut = flow.NewVarDefSet(u), flow.NewVarDefSet(u)
		f.CUse, f.PUse, f.Assigns = flow.NewVarSet(), flow.NewVarSet(), flow.NewVarSet()

		switch n.Kind {
		case flow.KindEntry:
			l.entry(n)
		case flow.KindCall:
			l.own(n, modeUses)
		case flow.KindCallReturn:
			l.own(n, modeDefs)
		case flow.KindNormal, flow.KindBranch:
			l.own(n, modeBoth)
		}
	}
}

// entry seeds the definitions that hold when a scope starts: parameters,
// hoisted names, declared functions and, for a file, the host globals.
func (l *local) entry(n *flow.Node) {
	s := n.Scope
	if s == nil {
		return
	}
	u := l.g.Universe()
	gen := n.Facts().Gen
	add := func(v *scope.Var, typ flow.DefType, actual, target *jsast.Node) {
		rng := s.Range()
		if actual != nil {
			rng = actual.Range
		}
		gen.Add(u.VarDef(v, u.Def(n.ID(), typ, actual, target, rng)))
	}

	for _, p := range s.Params() {
		add(p, flow.DefLiteral, p.Decl(), nil)
	}
	for _, fn := range s.Hoisted() {
		if v, ok := s.Function(fn.Ident.Name); ok {
			add(v, flow.DefFunction, fn, fn)
		}
	}
	for _, v := range s.Locals() {
		switch v.Kind() {
		case scope.Local, scope.Implicit:
			if _, isFn := s.Function(v.Name()); !isFn {
				add(v, flow.DefUndefined, v.Decl(), nil)
			}
		case scope.NamedFunction:
			// A function expression's own name binds the expression.
			if d := v.Decl(); d != nil && d.Kind == jsast.FunctionExpression {
				add(v, flow.DefFunction, d, d)
			}
		}
	}
	for _, v := range s.Builtins() {
		typ := flow.DefObject
		switch v.Host() {
		case scope.HostDOM:
			typ = flow.DefDOM
		case scope.HostStorage:
			typ = flow.DefStorage
		}
		add(v, typ, nil, nil)
	}
}

// Operands returns the expressions a flow node evaluates itself. Nested
// statements and function bodies belong to other nodes.
func Operands(n *flow.Node) []*jsast.Node {
	ast := n.AST
	if ast == nil {
		return nil
	}
	if n.Kind == flow.KindBranch {
		switch ast.Kind {
		case jsast.ForInStatement, jsast.ForOfStatement:
			return nonNil(ast.Right)
		case jsast.SwitchCase:
			return nonNil(ast.Test)
		}
		return nonNil(ast)
	}
	if n.Kind == flow.KindEntry || n.Kind == flow.KindExit {
		return nil
	}
	switch ast.Kind {
	case jsast.ExpressionStatement:
		return nonNil(ast.Expression)
	case jsast.VariableDeclarator:
		return nonNil(ast.Init)
	case jsast.ReturnStatement, jsast.ThrowStatement:
		return nonNil(ast.Argument)
	case jsast.ClassDeclaration:
		return nonNil(ast.SuperClass)
	case jsast.ExportNamedDeclaration, jsast.ExportDefaultDeclaration:
		return nonNil(ast.Declaration)
	case jsast.WithStatement:
		return nonNil(ast.Object)
	}
	if isExpression(ast.Kind) {
		return []*jsast.Node{ast}
	}
	return nil
}

func nonNil(n *jsast.Node) []*jsast.Node {
	if n == nil {
		return nil
	}
	return []*jsast.Node{n}
}

func isExpression(k jsast.Kind) bool {
	return k >= jsast.Identifier && k <= jsast.AwaitExpression
}

// predicateOwner returns the construct whose branch a node's reads decide:
// the if or loop of a test, the case of a case test, the switch of a
// discriminant.
func predicateOwner(n *flow.Node) *jsast.Node {
	ast := n.AST
	if ast == nil {
		return nil
	}
	if n.Kind == flow.KindBranch {
		switch ast.Kind {
		case jsast.ForInStatement, jsast.ForOfStatement:
			return nil
		case jsast.SwitchCase:
			return ast
		}
		return ast.Parent
	}
	if p := ast.Parent; p != nil && p.Kind == jsast.SwitchStatement && p.Discriminant == ast {
		return p
	}
	return nil
}

// own computes the facts of a node from its own syntax.
func (l *local) own(n *flow.Node, m mode) {
	v := &visitor{l: l, n: n, mode: m}
	ast := n.AST
	if ast == nil {
		return
	}
	switch ast.Kind {
	case jsast.VariableDeclarator:
		v.declarator(ast)
	case jsast.ForInStatement, jsast.ForOfStatement:
		v.target(ast.Left, flow.DefLiteral, nil, ast, nil)
	case jsast.ClassDeclaration:
		if ast.Ident != nil {
			v.def(ast.Ident, flow.DefObject, nil, true, ast)
		}
	case jsast.ImportDeclaration:
		for _, spec := range ast.Specifiers {
			if spec.Local != nil {
				v.def(spec.Local, flow.DefObject, nil, true, ast)
			}
		}
	case jsast.CatchClause:
		for _, id := range jsast.PatternNames(ast.Param) {
			v.def(id, flow.DefObject, nil, true, ast)
		}
	}
	owner := predicateOwner(n)
	for _, e := range Operands(n) {
		v.expr(e, owner)
	}
}

type visitor struct {
	l    *local
	n    *flow.Node
	mode mode
}

func (v *visitor) resolve(ident *jsast.Node) *scope.Var {
	if ident == nil || ident.Kind != jsast.Identifier {
		return nil
	}
	vr, ok := v.l.res.Resolve(ident)
	if !ok {
		return nil
	}
	return vr
}

// use records a read. A non-nil owner makes it a predicate use.
func (v *visitor) use(ident *jsast.Node, owner *jsast.Node) {
	if v.mode&modeUses == 0 {
		return
	}
	vr := v.resolve(ident)
	if vr == nil {
		return
	}
	f := v.n.Facts()
	if owner == nil {
		f.CUse.Add(vr)
		return
	}
	f.PUse.Add(vr)
	byVar := v.l.owners[v.n.ID()]
	if byVar == nil {
		byVar = make(map[int]*jsast.Node)
		v.l.owners[v.n.ID()] = byVar
	}
	if _, ok := byVar[vr.ID()]; !ok {
		byVar[vr.ID()] = owner
	}
}

func (v *visitor) def(ident *jsast.Node, typ flow.DefType, target *jsast.Node, strong bool, site *jsast.Node) {
	if vr := v.resolve(ident); vr != nil {
		v.defVar(vr, typ, target, strong, site)
	}
}

// defVar generates (vr, def) at this node. Strong definitions also kill
// the definitions of vr reaching the node; weak ones model in-place
// mutation and leave them alive.
func (v *visitor) defVar(vr *scope.Var, typ flow.DefType, target *jsast.Node, strong bool, site *jsast.Node) {
	if v.mode&modeDefs == 0 {
		return
	}
	u := v.l.g.Universe()
	f := v.n.Facts()
	f.Gen.Add(u.VarDef(vr, u.Def(v.n.ID(), typ, nil, target, site.Range)))
	if strong {
		f.Assigns.Add(vr)
	}
}

func (v *visitor) declarator(d *jsast.Node) {
	typ := flow.DefUndefined
	var target *jsast.Node
	if d.Init != nil {
		typ = flow.DefLiteral
		if jsast.IsFunction(d.Init) && d.Ident.Kind == jsast.Identifier {
			typ, target = flow.DefFunction, d.Init
		}
	}
	v.patternDefaults(d.Ident)
	for _, id := range jsast.PatternNames(d.Ident) {
		v.def(id, typ, target, true, d)
	}
}

// patternDefaults reads the default values and computed keys of a binding
// pattern.
func (v *visitor) patternDefaults(p *jsast.Node) {
	if p == nil {
		return
	}
	switch p.Kind {
	case jsast.AssignmentPattern:
		v.patternDefaults(p.Left)
		v.expr(p.Right, nil)
	case jsast.ArrayPattern:
		for _, e := range p.Elements {
			v.patternDefaults(e)
		}
	case jsast.ObjectPattern:
		for _, prop := range p.Properties {
			if prop.Kind == jsast.Property {
				if prop.Computed {
					v.expr(prop.Key, nil)
				}
				v.patternDefaults(prop.ValueExpr)
			} else {
				v.patternDefaults(prop.Argument)
			}
		}
	case jsast.RestElement:
		v.patternDefaults(p.Argument)
	}
}

// target defines the left side of an assignment or for-in head.
func (v *visitor) target(left *jsast.Node, typ flow.DefType, fn *jsast.Node, site, owner *jsast.Node) {
	if left == nil {
		return
	}
	switch left.Kind {
	case jsast.Identifier:
		v.def(left, typ, fn, true, site)
	case jsast.VariableDeclaration:
		for _, d := range left.Declarations {
			v.target(d.Ident, typ, fn, site, owner)
		}
	case jsast.MemberExpression:
		if self := thisProperty(left); self != nil {
			v.def(self, typ, fn, true, site)
			return
		}
		v.expr(left.Object, owner)
		if left.Computed {
			v.expr(left.Property, owner)
		}
		if base := v.baseVar(left); base != nil {
			dt := flow.DefLiteral
			if base.Host() == scope.HostStorage {
				dt = flow.DefStorage
			}
			v.defVar(base, dt, nil, false, site)
		}
	case jsast.ObjectPattern, jsast.ArrayPattern, jsast.AssignmentPattern, jsast.RestElement:
		v.patternDefaults(left)
		for _, id := range jsast.PatternNames(left) {
			v.def(id, flow.DefLiteral, nil, true, site)
		}
	}
}

// thisProperty returns x for a non-computed this.x, whose property names
// the variable.
func thisProperty(m *jsast.Node) *jsast.Node {
	if m.Kind == jsast.MemberExpression && !m.Computed && m.Object != nil &&
		m.Object.Kind == jsast.ThisExpression && m.Property != nil && m.Property.Kind == jsast.Identifier {
		return m.Property
	}
	return nil
}

// storageProperty reports whether m is window.localStorage or a similar
// storage handle reached through a DOM global.
func (v *visitor) storageProperty(m *jsast.Node) bool {
	base := v.baseVar(m.Object)
	if base == nil || base.Host() != scope.HostDOM {
		return false
	}
	pv := v.resolve(m.Property)
	return pv != nil && pv.Host() == scope.HostStorage
}

// baseVar resolves the variable a member chain hangs off. window.localStorage
// and similar resolve to the storage handle rather than the window.
func (v *visitor) baseVar(e *jsast.Node) *scope.Var {
	switch e.Kind {
	case jsast.Identifier:
		return v.resolve(e)
	case jsast.MemberExpression:
		if self := thisProperty(e); self != nil {
			return v.resolve(self)
		}
		if !e.Computed && v.storageProperty(e) {
			return v.resolve(e.Property)
		}
		return v.baseVar(e.Object)
	}
	return nil
}

func (v *visitor) expr(e *jsast.Node, owner *jsast.Node) {
	if e == nil {
		return
	}
	switch e.Kind {
	case jsast.Identifier:
		v.use(e, owner)
	case jsast.FunctionExpression, jsast.ArrowFunctionExpression, jsast.ClassExpression,
		jsast.ThisExpression, jsast.Super, jsast.Literal:
	case jsast.MemberExpression:
		if self := thisProperty(e); self != nil {
			v.use(self, owner)
			return
		}
		v.expr(e.Object, owner)
		if e.Computed {
			v.expr(e.Property, owner)
		} else if v.storageProperty(e) {
			v.use(e.Property, owner)
		}
	case jsast.AssignmentExpression:
		if e.Operator != "=" {
			v.expr(e.Left, owner)
		}
		v.expr(e.Right, owner)
		typ := flow.DefLiteral
		var fn *jsast.Node
		if jsast.IsFunction(e.Right) {
			typ, fn = flow.DefFunction, e.Right
		}
		v.target(e.Left, typ, fn, e, owner)
	case jsast.UpdateExpression:
		v.expr(e.Argument, owner)
		v.target(e.Argument, flow.DefLiteral, nil, e, owner)
	case jsast.ConditionalExpression:
		v.expr(e.Test, e)
		v.expr(e.Consequent, owner)
		v.expr(e.Alternate, owner)
	case jsast.CallExpression, jsast.NewExpression:
		v.expr(e.Callee, owner)
		for _, a := range e.Arguments {
			v.expr(a, owner)
		}
		if e.Kind == jsast.CallExpression {
			v.mutation(e)
		}
	case jsast.Property:
		if e.Computed {
			v.expr(e.Key, owner)
		}
		v.expr(e.ValueExpr, owner)
	default:
		jsast.Each(e, func(_ string, c *jsast.Node) {
			v.expr(c, owner)
		})
	}
}

// mutation handles calls that change their receiver in place: storage
// writes and the array mutators.
func (v *visitor) mutation(call *jsast.Node) {
	callee := call.Callee
	if callee == nil || callee.Kind != jsast.MemberExpression {
		return
	}
	method, ok := jsast.PropertyName(callee)
	if !ok {
		return
	}
	recv := v.baseVar(callee.Object)
	if recv == nil {
		return
	}
	switch {
	case recv.Host() == scope.HostStorage && storageWriters[method]:
		v.defVar(recv, flow.DefStorage, nil, false, call)
	case isMutator(method):
		v.defVar(recv, flow.DefLiteral, nil, false, call)
	}
}
