// internal/jsast/helpers.go
package jsast

import "strings"

// MemberPath flattens a static member chain into its segments:
// a.b['c'] yields [a b c] and this.x yields [this x]. It returns nil for
// anything that is not a pure chain of identifiers, `this` and string
// subscripts.
func MemberPath(n *Node) []string {
	var path []string
	cur := n
	for cur != nil {
		switch cur.Kind {
		case Identifier:
			return prepend(path, cur.Name)
		case ThisExpression:
			return prepend(path, "this")
		case MemberExpression:
			if cur.Property == nil || cur.Object == nil {
				return nil
			}
			name, ok := staticPropertyName(cur)
			if !ok {
				return nil
			}
			path = prepend(path, name)
			cur = cur.Object
		default:
			return nil
		}
	}
	return nil
}

func prepend(path []string, seg string) []string {
	return append([]string{seg}, path...)
}

func staticPropertyName(m *Node) (string, bool) {
	p := m.Property
	if !m.Computed {
		if p.Kind == Identifier {
			return p.Name, true
		}
		return "", false
	}
	if p.Kind == Literal && p.ValueType == "string" {
		return p.Value, true
	}
	return "", false
}

// DottedName joins MemberPath with dots. The second result is false when n is
// not a static chain.
func DottedName(n *Node) (string, bool) {
	path := MemberPath(n)
	if len(path) == 0 {
		return "", false
	}
	return strings.Join(path, "."), true
}

// PropertyName returns the static name of a member expression's property.
func PropertyName(m *Node) (string, bool) {
	if m == nil || m.Kind != MemberExpression || m.Property == nil {
		return "", false
	}
	return staticPropertyName(m)
}

// KeyName returns the static name of an object property or class member key.
func KeyName(n *Node) (string, bool) {
	if n == nil || n.Key == nil {
		return "", false
	}
	k := n.Key
	switch {
	case k.Kind == Identifier && !n.Computed:
		return k.Name, true
	case k.Kind == Literal:
		return k.Value, true
	}
	return "", false
}

// StringValue returns the cooked value of a string literal or a template
// literal without substitutions.
func StringValue(n *Node) (string, bool) {
	if n == nil {
		return "", false
	}
	switch {
	case n.Kind == Literal && n.ValueType == "string":
		return n.Value, true
	case n.Kind == TemplateLiteral && len(n.Elements) == 0:
		return n.Value, true
	}
	return "", false
}

// IsFunction reports whether n is a function node of any form.
func IsFunction(n *Node) bool {
	return n != nil && n.Kind.IsFunction()
}

// FunctionName returns the declared name of a function, or the name it is
// bound to by a declarator, property, method or simple assignment.
func FunctionName(fn *Node) string {
	if fn == nil {
		return ""
	}
	if fn.Ident != nil && fn.Ident.Kind == Identifier {
		return fn.Ident.Name
	}
	p := fn.Parent
	if p == nil {
		return ""
	}
	switch p.Kind {
	case VariableDeclarator:
		if p.Ident != nil && p.Ident.Kind == Identifier {
			return p.Ident.Name
		}
	case Property, MethodDefinition, PropertyDefinition:
		if name, ok := KeyName(p); ok {
			return name
		}
	case AssignmentExpression:
		if name, ok := DottedName(p.Left); ok {
			return name
		}
	}
	return ""
}

// BodyStatements returns the top-level statements of a function, program or
// block. An arrow function with an expression body yields that expression.
func BodyStatements(n *Node) []*Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case Program, BlockStatement, StaticBlock:
		return n.Statements
	case FunctionDeclaration, FunctionExpression, ArrowFunctionExpression:
		if n.Body == nil {
			return nil
		}
		if n.Body.Kind == BlockStatement {
			return n.Body.Statements
		}
		return []*Node{n.Body}
	}
	return nil
}

// EnclosingFunction returns the nearest function ancestor of n, or the
// Program node when n is top-level code.
func EnclosingFunction(n *Node) *Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Kind.IsFunction() || p.Kind == Program {
			return p
		}
	}
	return nil
}

// EnclosingClass returns the class declaration or expression n sits in,
// stopping at the first function boundary that is not a class member.
func EnclosingClass(n *Node) *Node {
	for p := n.Parent; p != nil; p = p.Parent {
		switch p.Kind {
		case ClassDeclaration, ClassExpression:
			return p
		case FunctionDeclaration, ArrowFunctionExpression:
			return nil
		case FunctionExpression:
			if p.Parent == nil || p.Parent.Kind != MethodDefinition {
				return nil
			}
		}
	}
	return nil
}

// PatternNames collects the identifiers bound by a binding pattern.
func PatternNames(p *Node) []*Node {
	var out []*Node
	var visit func(*Node)
	visit = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case Identifier:
			out = append(out, n)
		case AssignmentPattern:
			visit(n.Left)
		case RestElement:
			visit(n.Argument)
		case ArrayPattern:
			for _, e := range n.Elements {
				visit(e)
			}
		case ObjectPattern:
			for _, prop := range n.Properties {
				switch prop.Kind {
				case Property:
					visit(prop.ValueExpr)
				case RestElement:
					visit(prop.Argument)
				}
			}
		}
	}
	visit(p)
	return out
}
