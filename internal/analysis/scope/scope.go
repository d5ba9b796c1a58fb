// internal/analysis/scope/scope.go
// Package scope builds the lexical scope tree of a program and binds every
// declared name to a scope-qualified variable handle.
package scope

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// Kind classifies a scope by the construct that opened it.
type Kind int

const (
	// File is the root scope opened by a Program.
	File Kind = iota
	// Function is a scope of a named function.
	Function
	// Anonymous is a scope of an unnamed function expression or an arrow.
	Anonymous
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Function:
		return "function"
	}
	return "anonymous"
}

// VarKind says how a variable came to be bound.
type VarKind int

const (
	Local VarKind = iota
	Param
	NamedFunction
	Builtin
	// Implicit variables are file-scope bindings of undeclared names, read or
	// assigned.
	Implicit
)

// HostType classifies a built-in identifier.
type HostType int

const (
	HostNone HostType = iota
	HostObject
	HostDOM
	HostStorage
)

// Var is a variable handle. Identity, not name, distinguishes variables:
// two handles named x in different scopes never compare equal.
type Var struct {
	id    int
	name  string
	kind  VarKind
	host  HostType
	scope *Scope
	decl  *jsast.Node
}

func (v *Var) ID() int { return v.id }
func (v *Var) Name() string { return v.name }
func (v *Var) Kind() VarKind { return v.kind }
func (v *Var) Host() HostType { return v.host }
func (v *Var) Scope() *Scope { return v.scope }
func (v *Var) Decl() *jsast.Node { return v.decl }
func (v *Var) String() string { return fmt.Sprintf("%s@%s#%d", v.name, v.scope.name, v.id) }

// Scope is a node of the scope tree.
type Scope struct {
	id       int
	kind     Kind
	name     string
	node     *jsast.Node
	parent   *Scope
	children []*Scope

	locals   map[string]*Var
	params   []*Var
	funcs    map[string]*Var
	builtins map[string]*Var

	// Function declarations bound directly in this scope, in source order.
	hoisted []*jsast.Node
}

func newScope(id int, kind Kind, name string, node *jsast.Node, parent *Scope) *Scope {
	s := &Scope{
		id:       id,
		kind:     kind,
		name:     name,
		node:     node,
		parent:   parent,
		locals:   make(map[string]*Var),
		funcs:    make(map[string]*Var),
		builtins: make(map[string]*Var),
	}
	if parent != nil {
		parent.children = append(parent.children, s)
	}
	return s
}

func (s *Scope) ID() int { return s.id }
func (s *Scope) Kind() Kind { return s.kind }
func (s *Scope) Name() string { return s.name }
func (s *Scope) Node() *jsast.Node { return s.node }
func (s *Scope) Range() jsast.Range { return s.node.Range }
func (s *Scope) Parent() *Scope { return s.parent }
func (s *Scope) Children() []*Scope { return s.children }
func (s *Scope) Params() []*Var { return s.params }
func (s *Scope) Hoisted() []*jsast.Node { return s.hoisted }

func (s *Scope) String() string {
	return fmt.Sprintf("%s scope %q#%d", s.kind, s.name, s.id)
}

// Lookup resolves name by walking the parent chain. Locals (which include
// parameters and named inner functions) shadow built-ins of the same scope.
func (s *Scope) Lookup(name string) (*Var, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.locals[name]; ok {
			return v, true
		}
		if v, ok := cur.builtins[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// LookupLocal resolves name in this scope only.
func (s *Scope) LookupLocal(name string) (*Var, bool) {
	if v, ok := s.locals[name]; ok {
		return v, true
	}
	v, ok := s.builtins[name]
	return v, ok
}

// Function returns the named inner function declared directly in s.
func (s *Scope) Function(name string) (*Var, bool) {
	v, ok := s.funcs[name]
	return v, ok
}

// Param returns the i-th parameter.
func (s *Scope) Param(i int) (*Var, bool) {
	if i < 0 || i >= len(s.params) {
		return nil, false
	}
	return s.params[i], true
}

// Locals returns the variables owned by s, ordered by id.
func (s *Scope) Locals() []*Var {
	return sortedVars(s.locals)
}

// Builtins returns the built-in identifiers bound in s, ordered by id.
func (s *Scope) Builtins() []*Var {
	return sortedVars(s.builtins)
}

func sortedVars(m map[string]*Var) []*Var {
	out := make([]*Var, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Owns reports whether v is bound in s itself.
func (s *Scope) Owns(v *Var) bool {
	return v != nil && v.scope == s
}

// Sees reports whether v is bound in s or one of its ancestors.
func (s *Scope) Sees(v *Var) bool {
	if v == nil {
		return false
	}
	for cur := s; cur != nil; cur = cur.parent {
		if v.scope == cur {
			return true
		}
	}
	return false
}

// Encloses reports whether s is other or an ancestor of it.
func (s *Scope) Encloses(other *Scope) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == s {
			return true
		}
	}
	return false
}

// File returns the root of the tree s belongs to.
func (s *Scope) File() *Scope {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Tree is the scope tree of one file, with the node and range indexes used
// by later passes.
type Tree struct {
	Root *Scope

	all     []*Scope
	byNode  map[int]*Scope
	byRange map[jsast.Range]*Scope
}

// Scopes returns every scope in pre-order.
func (t *Tree) Scopes() []*Scope {
	return t.all
}

// ScopeOf returns the scope opened by a Program or function node.
func (t *Tree) ScopeOf(n *jsast.Node) (*Scope, bool) {
	if n == nil {
		return nil, false
	}
	s, ok := t.byNode[n.ID]
	return s, ok
}

// ScopeAt returns the scope whose owning node spans exactly r.
func (t *Tree) ScopeAt(r jsast.Range) (*Scope, bool) {
	s, ok := t.byRange[r]
	return s, ok
}

// Enclosing returns the innermost scope containing n.
func (t *Tree) Enclosing(n *jsast.Node) *Scope {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur != n || cur.Kind == jsast.Program {
			if s, ok := t.byNode[cur.ID]; ok {
				return s
			}
		}
	}
	return t.Root
}

// Resolve returns the variable an identifier occurrence refers to.
func (t *Tree) Resolve(ident *jsast.Node) (*Var, bool) {
	if ident == nil || ident.Kind != jsast.Identifier {
		return nil, false
	}
	s := t.Enclosing(ident)
	// A declared function's name lives in the enclosing scope. Named function
	// expressions bind theirs inside, which Enclosing already yields.
	if p := ident.Parent; p != nil && p.Ident == ident && p.Kind == jsast.FunctionDeclaration {
		if own, ok := t.byNode[p.ID]; ok && own.parent != nil {
			s = own.parent
		}
	}
	return s.Lookup(ident.Name)
}
