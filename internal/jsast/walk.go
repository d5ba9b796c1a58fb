// internal/jsast/walk.go
package jsast

// Each calls fn for every direct child of n with the role it occupies.
// Roles are visited in a fixed order that follows source order for every
// kind the parser produces, except do-while where the body precedes the test.
func Each(n *Node, fn func(role string, child *Node)) {
	if n == nil {
		return
	}
	one := func(role string, c *Node) {
		if c != nil {
			fn(role, c)
		}
	}
	many := func(role string, cs []*Node) {
		for _, c := range cs {
			if c != nil {
				fn(role, c)
			}
		}
	}

	if n.Kind == DoWhileStatement {
		one("body", n.Body)
		one("test", n.Test)
		return
	}

	one("label", n.Label)
	one("id", n.Ident)
	one("key", n.Key)
	one("expression", n.Expression)
	one("discriminant", n.Discriminant)
	one("init", n.Init)
	one("test", n.Test)
	one("update", n.Update)
	one("left", n.Left)
	one("right", n.Right)
	one("object", n.Object)
	one("property", n.Property)
	one("callee", n.Callee)
	one("tag", n.Tag)
	one("quasi", n.Quasi)
	one("argument", n.Argument)
	one("superClass", n.SuperClass)
	one("source", n.Source)
	one("declaration", n.Declaration)
	one("imported", n.Imported)
	one("local", n.Local)
	one("exported", n.Exported)
	many("params", n.Params)
	many("arguments", n.Arguments)
	many("elements", n.Elements)
	many("properties", n.Properties)
	many("declarations", n.Declarations)
	many("specifiers", n.Specifiers)
	many("cases", n.Cases)
	many("body", n.Statements)
	many("members", n.Members)
	one("value", n.ValueExpr)
	one("block", n.Block)
	one("param", n.Param)
	one("consequent", n.Consequent)
	one("alternate", n.Alternate)
	one("body", n.Body)
	one("handler", n.Handler)
	one("finalizer", n.Finalizer)
}

// Children returns the direct children of n in Each order.
func Children(n *Node) []*Node {
	var out []*Node
	Each(n, func(_ string, c *Node) {
		out = append(out, c)
	})
	return out
}

// Inspect traverses the subtree rooted at n in pre-order. If fn returns
// false the children of that node are skipped.
func Inspect(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	Each(n, func(_ string, c *Node) {
		Inspect(c, fn)
	})
}

// InspectShallow is Inspect that does not descend into nested function or
// class bodies. The root itself is always descended into.
func InspectShallow(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	Inspect(n, func(c *Node) bool {
		if c != n && opensBody(c) {
			// The nested function itself is still reported.
			fn(c)
			return false
		}
		return fn(c)
	})
}

func opensBody(n *Node) bool {
	return n.Kind.IsFunction() || n.Kind == ClassDeclaration || n.Kind == ClassExpression
}
