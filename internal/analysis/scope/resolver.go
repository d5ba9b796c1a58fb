// internal/analysis/scope/resolver.go
package scope

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// Resolver builds scope trees. Variable and scope ids are unique across every
// tree one Resolver builds, so a Resolver belongs to exactly one analysis run.
type Resolver struct {
	logger    *zap.Logger
	nextVar   int
	nextScope int
}

// NewResolver returns a Resolver with fresh id counters.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.Named("scope")}
}

// Resolve builds the scope tree of a program.
func (r *Resolver) Resolve(program *jsast.Node) *Tree {
	t := &Tree{
		byNode:  make(map[int]*Scope),
		byRange: make(map[jsast.Range]*Scope),
	}
	if program == nil {
		return t
	}

	t.Root = r.open(t, File, "<file>", program, nil)
	r.bindBuiltins(t.Root)
	r.bindImports(t.Root, program)
	r.hoist(t.Root, program.Statements)

	r.descend(t, t.Root, program)
	r.bindImplicitGlobals(t, program)

	r.logger.Debug("Resolved scopes.",
		zap.Int("scopes", len(t.all)),
		zap.Int("file_locals", len(t.Root.locals)))
	return t
}

func (r *Resolver) open(t *Tree, kind Kind, name string, node *jsast.Node, parent *Scope) *Scope {
	r.nextScope++
	s := newScope(r.nextScope, kind, name, node, parent)
	t.all = append(t.all, s)
	t.byNode[node.ID] = s
	t.byRange[node.Range] = s
	return s
}

func (r *Resolver) bind(s *Scope, name string, kind VarKind, decl *jsast.Node) *Var {
	if name == "" {
		return nil
	}
	if v, ok := s.locals[name]; ok {
		// Redeclaration keeps the first handle. A later function declaration
		// still registers as the scope's named function.
		if kind == NamedFunction {
			s.funcs[name] = v
		}
		return v
	}
	r.nextVar++
	v := &Var{id: r.nextVar, name: name, kind: kind, scope: s, decl: decl}
	s.locals[name] = v
	if kind == NamedFunction {
		s.funcs[name] = v
	}
	return v
}

func (r *Resolver) bindBuiltins(s *Scope) {
	for _, b := range hostGlobals {
		r.nextVar++
		s.builtins[b.name] = &Var{id: r.nextVar, name: b.name, kind: Builtin, host: b.host, scope: s}
	}
}

func (r *Resolver) bindImports(s *Scope, program *jsast.Node) {
	for _, stmt := range program.Statements {
		if stmt.Kind != jsast.ImportDeclaration {
			continue
		}
		for _, spec := range stmt.Specifiers {
			if spec.Local != nil {
				r.bind(s, spec.Local.Name, Local, stmt)
			}
		}
	}
}

// descend opens a child scope for every function with a non-empty body found
// at or under n, binding parameters and hoisted declarations at open time.
func (r *Resolver) descend(t *Tree, s *Scope, n *jsast.Node) {
	if n == nil {
		return
	}
	if n.Kind.IsFunction() {
		if !hasBody(n) {
			return
		}
		child := r.openFunction(t, s, n)
		for _, p := range n.Params {
			r.descend(t, child, p)
		}
		r.descend(t, child, n.Body)
		return
	}
	jsast.Each(n, func(_ string, c *jsast.Node) {
		r.descend(t, s, c)
	})
}

func hasBody(fn *jsast.Node) bool {
	if fn.Body == nil {
		return false
	}
	if fn.Body.Kind == jsast.BlockStatement {
		return len(fn.Body.Statements) > 0
	}
	return true
}

func (r *Resolver) openFunction(t *Tree, parent *Scope, fn *jsast.Node) *Scope {
	name := jsast.FunctionName(fn)
	kind := Function
	if name == "" || fn.Kind == jsast.ArrowFunctionExpression {
		kind = Anonymous
	}
	if name == "" {
		name = "<anonymous>"
	}
	s := r.open(t, kind, name, fn, parent)

	// Named function expressions see their own name.
	if fn.Kind == jsast.FunctionExpression && fn.Ident != nil {
		r.bind(s, fn.Ident.Name, NamedFunction, fn)
	}
	for _, p := range fn.Params {
		for _, id := range jsast.PatternNames(p) {
			v := r.bind(s, id.Name, Param, id)
			s.params = append(s.params, v)
		}
	}
	if fn.Body.Kind == jsast.BlockStatement {
		r.hoist(s, fn.Body.Statements)
	}
	return s
}

// hoist binds the declarations of a statement list. It walks nested blocks
// and loop heads but stops at function boundaries; function declarations
// bind their name here and are recorded for entry-node GEN.
func (r *Resolver) hoist(s *Scope, stmts []*jsast.Node) {
	for _, stmt := range stmts {
		r.hoistStmt(s, stmt)
	}
}

func (r *Resolver) hoistStmt(s *Scope, n *jsast.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case jsast.FunctionDeclaration:
		if n.Ident != nil {
			r.bind(s, n.Ident.Name, NamedFunction, n)
			s.hoisted = append(s.hoisted, n)
		}
	case jsast.ClassDeclaration:
		if n.Ident != nil {
			r.bind(s, n.Ident.Name, Local, n)
		}
	case jsast.VariableDeclaration:
		for _, d := range n.Declarations {
			for _, id := range jsast.PatternNames(d.Ident) {
				r.bind(s, id.Name, Local, d)
			}
		}
	case jsast.ExportNamedDeclaration, jsast.ExportDefaultDeclaration:
		r.hoistStmt(s, n.Declaration)
	case jsast.BlockStatement:
		r.hoist(s, n.Statements)
	case jsast.IfStatement:
		r.hoistStmt(s, n.Consequent)
		r.hoistStmt(s, n.Alternate)
	case jsast.ForStatement:
		r.hoistStmt(s, n.Init)
		r.hoistStmt(s, n.Body)
	case jsast.ForInStatement, jsast.ForOfStatement:
		r.hoistStmt(s, n.Left)
		r.hoistStmt(s, n.Body)
	case jsast.WhileStatement, jsast.DoWhileStatement, jsast.LabeledStatement, jsast.WithStatement:
		r.hoistStmt(s, n.Body)
	case jsast.SwitchStatement:
		for _, c := range n.Cases {
			r.hoist(s, c.Statements)
		}
	case jsast.TryStatement:
		r.hoistStmt(s, n.Block)
		if h := n.Handler; h != nil {
			for _, id := range jsast.PatternNames(h.Param) {
				r.bind(s, id.Name, Local, h)
			}
			r.hoistStmt(s, h.Body)
		}
		r.hoistStmt(s, n.Finalizer)
	}
}

// bindImplicitGlobals binds, in the file scope, every identifier that does
// not resolve from where it occurs: assignment targets and plain reads
// alike. Undeclared reads denote host or cross-file globals.
func (r *Resolver) bindImplicitGlobals(t *Tree, program *jsast.Node) {
	jsast.Inspect(program, func(n *jsast.Node) bool {
		if n.Kind.IsFunction() && !hasBody(n) {
			// No scope was opened, so its parameters would leak out.
			return false
		}
		if n.Kind != jsast.Identifier || !isReference(n) {
			return true
		}
		if _, ok := t.Enclosing(n).Lookup(n.Name); !ok {
			decl := n
			if p := n.Parent; p != nil && isWrite(p, n) {
				decl = p
			}
			r.bind(t.Root, n.Name, Implicit, decl)
		}
		return true
	})
}

// isReference reports whether ident names a variable rather than a
// property, key, label or module binding.
func isReference(ident *jsast.Node) bool {
	p := ident.Parent
	if p == nil {
		return false
	}
	switch {
	case p.Kind == jsast.MemberExpression && p.Property == ident:
		return p.Computed
	case p.Key == ident:
		return p.Computed
	case p.Label == ident, p.Ident == ident:
		return false
	case p.Local == ident, p.Imported == ident, p.Exported == ident:
		return false
	}
	if ident.Name == "arguments" {
		fn := jsast.EnclosingFunction(ident)
		return fn == nil || !fn.Kind.IsFunction()
	}
	return true
}

func isWrite(p, ident *jsast.Node) bool {
	switch p.Kind {
	case jsast.AssignmentExpression, jsast.ForInStatement, jsast.ForOfStatement:
		return p.Left == ident
	case jsast.UpdateExpression:
		return p.Argument == ident
	}
	return false
}
