// internal/parser/convert.go
package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// converter maps one tree-sitter CST onto jsast. Ids are drawn when a node is
// created, before its children, so numbering is pre-order.
type converter struct {
	logger *zap.Logger
	src    []byte
	ids    *jsast.IDAllocator
}

func newConverter(logger *zap.Logger, src []byte, ids *jsast.IDAllocator) *converter {
	return &converter{logger: logger, src: src, ids: ids}
}

func (c *converter) mk(kind jsast.Kind, n *sitter.Node) *jsast.Node {
	start := n.StartPoint()
	return &jsast.Node{
		ID:    c.ids.Next(),
		Kind:  kind,
		Range: jsast.Range{Start: int(n.StartByte()), End: int(n.EndByte())},
		Loc:   jsast.Position{Line: int(start.Row) + 1, Column: int(start.Column)},
	}
}

func (c *converter) text(n *sitter.Node) string {
	return n.Content(c.src)
}

func field(n *sitter.Node, name string) *sitter.Node {
	f := n.ChildByFieldName(name)
	if f == nil || f.IsNull() {
		return nil
	}
	return f
}

// named returns the named children of n, minus comments.
func named(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		ch := n.NamedChild(i)
		if ch == nil || ch.Type() == "comment" || ch.Type() == "hash_bang_line" {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// hasToken reports whether n has an anonymous child with the given text.
func hasToken(n *sitter.Node, tok string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		ch := n.Child(i)
		if ch != nil && !ch.IsNamed() && ch.Type() == tok {
			return true
		}
	}
	return false
}

func (c *converter) unknown(n *sitter.Node) *jsast.Node {
	u := c.mk(jsast.Unknown, n)
	u.Raw = c.text(n)
	c.logger.Debug("Unsupported syntax.", zap.String("type", n.Type()), zap.Int("line", u.Loc.Line))
	return u
}

func (c *converter) program(n *sitter.Node) *jsast.Node {
	prog := c.mk(jsast.Program, n)
	prog.Statements = c.statements(named(n))
	return prog
}

func (c *converter) statements(nodes []*sitter.Node) []*jsast.Node {
	out := make([]*jsast.Node, 0, len(nodes))
	for _, ch := range nodes {
		if s := c.stmt(ch); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *converter) stmt(n *sitter.Node) *jsast.Node {
	switch n.Type() {
	case "expression_statement":
		s := c.mk(jsast.ExpressionStatement, n)
		if kids := named(n); len(kids) > 0 {
			s.Expression = c.expr(kids[0])
		}
		return s
	case "variable_declaration", "lexical_declaration":
		return c.declaration(n)
	case "function_declaration", "generator_function_declaration":
		return c.function(jsast.FunctionDeclaration, n)
	case "class_declaration":
		return c.class(jsast.ClassDeclaration, n)
	case "statement_block":
		b := c.mk(jsast.BlockStatement, n)
		b.Statements = c.statements(named(n))
		return b
	case "empty_statement":
		return c.mk(jsast.EmptyStatement, n)
	case "debugger_statement":
		return c.mk(jsast.DebuggerStatement, n)
	case "if_statement":
		s := c.mk(jsast.IfStatement, n)
		s.Test = c.exprField(n, "condition")
		if cons := field(n, "consequence"); cons != nil {
			s.Consequent = c.stmt(cons)
		}
		if alt := field(n, "alternative"); alt != nil {
			if alt.Type() == "else_clause" {
				if kids := named(alt); len(kids) > 0 {
					s.Alternate = c.stmt(kids[0])
				}
			} else {
				s.Alternate = c.stmt(alt)
			}
		}
		return s
	case "while_statement":
		s := c.mk(jsast.WhileStatement, n)
		s.Test = c.exprField(n, "condition")
		s.Body = c.stmtField(n, "body")
		return s
	case "do_statement":
		s := c.mk(jsast.DoWhileStatement, n)
		s.Body = c.stmtField(n, "body")
		s.Test = c.exprField(n, "condition")
		return s
	case "for_statement":
		return c.forStatement(n)
	case "for_in_statement":
		return c.forInStatement(n)
	case "return_statement", "throw_statement":
		kind := jsast.ReturnStatement
		if n.Type() == "throw_statement" {
			kind = jsast.ThrowStatement
		}
		s := c.mk(kind, n)
		if kids := named(n); len(kids) > 0 {
			s.Argument = c.expr(kids[0])
		}
		return s
	case "break_statement", "continue_statement":
		kind := jsast.BreakStatement
		if n.Type() == "continue_statement" {
			kind = jsast.ContinueStatement
		}
		s := c.mk(kind, n)
		if l := field(n, "label"); l != nil {
			s.Label = c.identifier(l)
		} else if kids := named(n); len(kids) > 0 {
			s.Label = c.identifier(kids[0])
		}
		return s
	case "labeled_statement":
		s := c.mk(jsast.LabeledStatement, n)
		kids := named(n)
		if l := field(n, "label"); l != nil {
			s.Label = c.identifier(l)
		} else if len(kids) > 0 {
			s.Label = c.identifier(kids[0])
		}
		if b := field(n, "body"); b != nil {
			s.Body = c.stmt(b)
		} else if len(kids) > 1 {
			s.Body = c.stmt(kids[len(kids)-1])
		}
		return s
	case "try_statement":
		s := c.mk(jsast.TryStatement, n)
		s.Block = c.stmtField(n, "body")
		if h := field(n, "handler"); h != nil {
			cc := c.mk(jsast.CatchClause, h)
			if p := field(h, "parameter"); p != nil {
				cc.Param = c.pattern(p)
			}
			cc.Body = c.stmtField(h, "body")
			s.Handler = cc
		}
		if f := field(n, "finalizer"); f != nil {
			s.Finalizer = c.stmtField(f, "body")
		}
		return s
	case "switch_statement":
		return c.switchStatement(n)
	case "with_statement":
		s := c.mk(jsast.WithStatement, n)
		s.Object = c.exprField(n, "object")
		s.Body = c.stmtField(n, "body")
		return s
	case "import_statement":
		return c.importStatement(n)
	case "export_statement":
		return c.exportStatement(n)
	case "comment", "hash_bang_line":
		return nil
	}
	return c.unknown(n)
}

func (c *converter) stmtField(n *sitter.Node, name string) *jsast.Node {
	if f := field(n, name); f != nil {
		return c.stmt(f)
	}
	return nil
}

func (c *converter) exprField(n *sitter.Node, name string) *jsast.Node {
	if f := field(n, name); f != nil {
		return c.expr(f)
	}
	return nil
}

func (c *converter) declaration(n *sitter.Node) *jsast.Node {
	d := c.mk(jsast.VariableDeclaration, n)
	d.DeclKind = "var"
	if k := field(n, "kind"); k != nil {
		d.DeclKind = c.text(k)
	} else if n.Type() == "lexical_declaration" && n.ChildCount() > 0 {
		d.DeclKind = n.Child(0).Type()
	}
	for _, ch := range named(n) {
		if ch.Type() != "variable_declarator" {
			continue
		}
		v := c.mk(jsast.VariableDeclarator, ch)
		if name := field(ch, "name"); name != nil {
			v.Ident = c.pattern(name)
		}
		v.Init = c.exprField(ch, "value")
		d.Declarations = append(d.Declarations, v)
	}
	return d
}

func (c *converter) forStatement(n *sitter.Node) *jsast.Node {
	s := c.mk(jsast.ForStatement, n)
	if init := field(n, "initializer"); init != nil {
		switch init.Type() {
		case "variable_declaration", "lexical_declaration":
			s.Init = c.declaration(init)
		case "expression_statement":
			if kids := named(init); len(kids) > 0 {
				s.Init = c.expr(kids[0])
			}
		case "empty_statement":
		default:
			s.Init = c.expr(init)
		}
	}
	if cond := field(n, "condition"); cond != nil {
		switch cond.Type() {
		case "expression_statement":
			if kids := named(cond); len(kids) > 0 {
				s.Test = c.expr(kids[0])
			}
		case "empty_statement":
		default:
			s.Test = c.expr(cond)
		}
	}
	s.Update = c.exprField(n, "increment")
	s.Body = c.stmtField(n, "body")
	return s
}

func (c *converter) forInStatement(n *sitter.Node) *jsast.Node {
	kind := jsast.ForInStatement
	if hasToken(n, "of") {
		kind = jsast.ForOfStatement
	}
	s := c.mk(kind, n)
	s.Async = hasToken(n, "await")
	if left := field(n, "left"); left != nil {
		switch left.Type() {
		case "variable_declaration", "lexical_declaration":
			s.Left = c.declaration(left)
		default:
			if k := field(n, "kind"); k != nil {
				decl := c.mk(jsast.VariableDeclaration, k)
				decl.Range.End = int(left.EndByte())
				decl.DeclKind = c.text(k)
				v := c.mk(jsast.VariableDeclarator, left)
				v.Ident = c.pattern(left)
				decl.Declarations = []*jsast.Node{v}
				s.Left = decl
			} else {
				s.Left = c.pattern(left)
			}
		}
	}
	s.Right = c.exprField(n, "right")
	s.Body = c.stmtField(n, "body")
	return s
}

func (c *converter) switchStatement(n *sitter.Node) *jsast.Node {
	s := c.mk(jsast.SwitchStatement, n)
	s.Discriminant = c.exprField(n, "value")
	body := field(n, "body")
	if body == nil {
		return s
	}
	for _, cs := range named(body) {
		if cs.Type() != "switch_case" && cs.Type() != "switch_default" {
			continue
		}
		sc := c.mk(jsast.SwitchCase, cs)
		var stmts []*sitter.Node
		for i := 0; i < int(cs.ChildCount()); i++ {
			ch := cs.Child(i)
			if ch == nil || !ch.IsNamed() || ch.Type() == "comment" {
				continue
			}
			if cs.FieldNameForChild(i) == "value" {
				sc.Test = c.expr(ch)
				continue
			}
			stmts = append(stmts, ch)
		}
		sc.Statements = c.statements(stmts)
		s.Cases = append(s.Cases, sc)
	}
	return s
}

func (c *converter) function(kind jsast.Kind, n *sitter.Node) *jsast.Node {
	fn := c.mk(kind, n)
	fn.Async = hasToken(n, "async")
	fn.Generator = hasToken(n, "*") || strings.HasPrefix(n.Type(), "generator_")
	if name := field(n, "name"); name != nil {
		fn.Ident = c.identifier(name)
		fn.Name = fn.Ident.Name
	}
	c.params(fn, n)
	if body := field(n, "body"); body != nil {
		if body.Type() == "statement_block" {
			fn.Body = c.stmt(body)
		} else {
			fn.Body = c.expr(body)
		}
	}
	return fn
}

func (c *converter) params(fn *jsast.Node, n *sitter.Node) {
	if p := field(n, "parameter"); p != nil {
		fn.Params = []*jsast.Node{c.pattern(p)}
		return
	}
	ps := field(n, "parameters")
	if ps == nil {
		return
	}
	for _, p := range named(ps) {
		fn.Params = append(fn.Params, c.pattern(p))
	}
}

func (c *converter) class(kind jsast.Kind, n *sitter.Node) *jsast.Node {
	cls := c.mk(kind, n)
	if name := field(n, "name"); name != nil {
		cls.Ident = c.identifier(name)
		cls.Name = cls.Ident.Name
	}
	for _, ch := range named(n) {
		if ch.Type() == "class_heritage" {
			if kids := named(ch); len(kids) > 0 {
				cls.SuperClass = c.expr(kids[0])
			}
		}
	}
	body := field(n, "body")
	if body == nil {
		return cls
	}
	cb := c.mk(jsast.ClassBody, body)
	for _, m := range named(body) {
		switch m.Type() {
		case "method_definition":
			cb.Members = append(cb.Members, c.method(jsast.MethodDefinition, m))
		case "field_definition", "public_field_definition":
			pd := c.mk(jsast.PropertyDefinition, m)
			pd.Static = hasToken(m, "static")
			if p := field(m, "property"); p != nil {
				pd.Key, pd.Computed = c.propertyKey(p)
			}
			pd.ValueExpr = c.exprField(m, "value")
			cb.Members = append(cb.Members, pd)
		case "class_static_block":
			sb := c.mk(jsast.StaticBlock, m)
			if b := field(m, "body"); b != nil {
				sb.Statements = c.statements(named(b))
			}
			cb.Members = append(cb.Members, sb)
		}
	}
	cls.Body = cb
	return cls
}

// method converts a method_definition into kind (MethodDefinition in classes,
// Property in object literals) wrapping a FunctionExpression.
func (c *converter) method(kind jsast.Kind, n *sitter.Node) *jsast.Node {
	m := c.mk(kind, n)
	m.Static = hasToken(n, "static")
	if name := field(n, "name"); name != nil {
		m.Key, m.Computed = c.propertyKey(name)
	}
	switch {
	case hasToken(n, "get"):
		m.DeclKind = "get"
	case hasToken(n, "set"):
		m.DeclKind = "set"
	case kind == jsast.MethodDefinition && m.Key != nil && m.Key.Name == "constructor":
		m.DeclKind = "constructor"
	case kind == jsast.MethodDefinition:
		m.DeclKind = "method"
	default:
		m.DeclKind = "init"
	}
	fn := c.mk(jsast.FunctionExpression, n)
	fn.Async = hasToken(n, "async")
	fn.Generator = hasToken(n, "*")
	c.params(fn, n)
	if body := field(n, "body"); body != nil {
		fn.Body = c.stmt(body)
	}
	m.ValueExpr = fn
	return m
}

func (c *converter) propertyKey(n *sitter.Node) (*jsast.Node, bool) {
	switch n.Type() {
	case "computed_property_name":
		if kids := named(n); len(kids) > 0 {
			return c.expr(kids[0]), true
		}
		return c.unknown(n), true
	case "property_identifier", "identifier", "private_property_identifier", "shorthand_property_identifier":
		return c.identifier(n), false
	}
	return c.expr(n), false
}

func (c *converter) identifier(n *sitter.Node) *jsast.Node {
	id := c.mk(jsast.Identifier, n)
	id.Name = c.text(n)
	return id
}

func (c *converter) expr(n *sitter.Node) *jsast.Node {
	switch n.Type() {
	case "identifier", "property_identifier", "shorthand_property_identifier",
		"statement_identifier", "private_property_identifier", "undefined":
		return c.identifier(n)
	case "this":
		return c.mk(jsast.ThisExpression, n)
	case "super":
		return c.mk(jsast.Super, n)
	case "number":
		return c.literal(n, "number", c.text(n))
	case "string":
		return c.literal(n, "string", cookString(c.text(n)))
	case "true", "false":
		return c.literal(n, "boolean", n.Type())
	case "null":
		return c.literal(n, "null", "null")
	case "regex":
		return c.literal(n, "regex", c.text(n))
	case "template_string":
		return c.template(n)
	case "parenthesized_expression":
		if kids := named(n); len(kids) > 0 {
			return c.expr(kids[0])
		}
		return c.unknown(n)
	case "sequence_expression":
		s := c.mk(jsast.SequenceExpression, n)
		c.flattenSequence(n, s)
		return s
	case "assignment_expression", "augmented_assignment_expression":
		a := c.mk(jsast.AssignmentExpression, n)
		a.Operator = "="
		if op := field(n, "operator"); op != nil {
			a.Operator = c.text(op)
		}
		if l := field(n, "left"); l != nil {
			a.Left = c.pattern(l)
		}
		a.Right = c.exprField(n, "right")
		return a
	case "binary_expression":
		kind := jsast.BinaryExpression
		op := ""
		if o := field(n, "operator"); o != nil {
			op = o.Type()
		}
		if op == "&&" || op == "||" || op == "??" {
			kind = jsast.LogicalExpression
		}
		b := c.mk(kind, n)
		b.Operator = op
		b.Left = c.exprField(n, "left")
		b.Right = c.exprField(n, "right")
		return b
	case "unary_expression":
		u := c.mk(jsast.UnaryExpression, n)
		u.Prefix = true
		if o := field(n, "operator"); o != nil {
			u.Operator = o.Type()
		}
		u.Argument = c.exprField(n, "argument")
		return u
	case "update_expression":
		u := c.mk(jsast.UpdateExpression, n)
		if o := field(n, "operator"); o != nil {
			u.Operator = o.Type()
			u.Prefix = o.StartByte() == n.StartByte()
		}
		u.Argument = c.exprField(n, "argument")
		return u
	case "ternary_expression":
		t := c.mk(jsast.ConditionalExpression, n)
		t.Test = c.exprField(n, "condition")
		t.Consequent = c.exprField(n, "consequence")
		t.Alternate = c.exprField(n, "alternative")
		return t
	case "call_expression":
		return c.call(n)
	case "new_expression":
		ne := c.mk(jsast.NewExpression, n)
		ne.Callee = c.exprField(n, "constructor")
		if args := field(n, "arguments"); args != nil {
			ne.Arguments = c.arguments(args)
		}
		return ne
	case "member_expression":
		m := c.mk(jsast.MemberExpression, n)
		m.Object = c.exprField(n, "object")
		if p := field(n, "property"); p != nil {
			m.Property = c.identifier(p)
		}
		return m
	case "subscript_expression":
		m := c.mk(jsast.MemberExpression, n)
		m.Computed = true
		m.Object = c.exprField(n, "object")
		m.Property = c.exprField(n, "index")
		return m
	case "object":
		return c.object(n)
	case "array":
		a := c.mk(jsast.ArrayExpression, n)
		for _, el := range named(n) {
			a.Elements = append(a.Elements, c.expr(el))
		}
		return a
	case "spread_element":
		s := c.mk(jsast.SpreadElement, n)
		if kids := named(n); len(kids) > 0 {
			s.Argument = c.expr(kids[0])
		}
		return s
	case "await_expression", "yield_expression":
		kind := jsast.AwaitExpression
		if n.Type() == "yield_expression" {
			kind = jsast.YieldExpression
		}
		e := c.mk(kind, n)
		e.Generator = hasToken(n, "*")
		if kids := named(n); len(kids) > 0 {
			e.Argument = c.expr(kids[0])
		}
		return e
	case "function", "function_expression", "generator_function":
		return c.function(jsast.FunctionExpression, n)
	case "arrow_function":
		return c.function(jsast.ArrowFunctionExpression, n)
	case "class":
		return c.class(jsast.ClassExpression, n)
	}
	return c.unknown(n)
}

func (c *converter) literal(n *sitter.Node, valueType, value string) *jsast.Node {
	l := c.mk(jsast.Literal, n)
	l.ValueType = valueType
	l.Value = value
	l.Raw = c.text(n)
	return l
}

func (c *converter) template(n *sitter.Node) *jsast.Node {
	t := c.mk(jsast.TemplateLiteral, n)
	t.Raw = c.text(n)
	for _, ch := range named(n) {
		if ch.Type() != "template_substitution" {
			continue
		}
		if kids := named(ch); len(kids) > 0 {
			t.Elements = append(t.Elements, c.expr(kids[0]))
		}
	}
	if len(t.Elements) == 0 {
		t.Value = strings.TrimSuffix(strings.TrimPrefix(t.Raw, "`"), "`")
	}
	return t
}

func (c *converter) flattenSequence(n *sitter.Node, into *jsast.Node) {
	for _, ch := range named(n) {
		if ch.Type() == "sequence_expression" {
			c.flattenSequence(ch, into)
			continue
		}
		into.Elements = append(into.Elements, c.expr(ch))
	}
}

func (c *converter) call(n *sitter.Node) *jsast.Node {
	callee := field(n, "function")
	args := field(n, "arguments")
	if args != nil && args.Type() == "template_string" {
		tt := c.mk(jsast.TaggedTemplateExpression, n)
		if callee != nil {
			tt.Tag = c.expr(callee)
		}
		tt.Quasi = c.template(args)
		return tt
	}
	call := c.mk(jsast.CallExpression, n)
	if callee != nil {
		call.Callee = c.expr(callee)
	}
	if args != nil {
		call.Arguments = c.arguments(args)
	}
	return call
}

func (c *converter) arguments(n *sitter.Node) []*jsast.Node {
	kids := named(n)
	out := make([]*jsast.Node, 0, len(kids))
	for _, a := range kids {
		out = append(out, c.expr(a))
	}
	return out
}

func (c *converter) object(n *sitter.Node) *jsast.Node {
	obj := c.mk(jsast.ObjectExpression, n)
	for _, ch := range named(n) {
		switch ch.Type() {
		case "pair":
			p := c.mk(jsast.Property, ch)
			p.DeclKind = "init"
			if k := field(ch, "key"); k != nil {
				p.Key, p.Computed = c.propertyKey(k)
			}
			p.ValueExpr = c.exprField(ch, "value")
			obj.Properties = append(obj.Properties, p)
		case "shorthand_property_identifier":
			p := c.mk(jsast.Property, ch)
			p.DeclKind = "init"
			p.Shorthand = true
			p.Key = c.identifier(ch)
			p.ValueExpr = c.identifier(ch)
			obj.Properties = append(obj.Properties, p)
		case "method_definition":
			obj.Properties = append(obj.Properties, c.method(jsast.Property, ch))
		case "spread_element":
			obj.Properties = append(obj.Properties, c.expr(ch))
		}
	}
	return obj
}

// pattern converts a binding or assignment target.
func (c *converter) pattern(n *sitter.Node) *jsast.Node {
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern", "undefined":
		return c.identifier(n)
	case "assignment_pattern", "object_assignment_pattern":
		a := c.mk(jsast.AssignmentPattern, n)
		if l := field(n, "left"); l != nil {
			a.Left = c.pattern(l)
		}
		a.Right = c.exprField(n, "right")
		return a
	case "rest_pattern", "rest_parameter":
		r := c.mk(jsast.RestElement, n)
		if kids := named(n); len(kids) > 0 {
			r.Argument = c.pattern(kids[0])
		}
		return r
	case "array_pattern":
		a := c.mk(jsast.ArrayPattern, n)
		for _, el := range named(n) {
			a.Elements = append(a.Elements, c.pattern(el))
		}
		return a
	case "object_pattern":
		o := c.mk(jsast.ObjectPattern, n)
		for _, ch := range named(n) {
			switch ch.Type() {
			case "pair_pattern":
				p := c.mk(jsast.Property, ch)
				p.DeclKind = "init"
				if k := field(ch, "key"); k != nil {
					p.Key, p.Computed = c.propertyKey(k)
				}
				if v := field(ch, "value"); v != nil {
					p.ValueExpr = c.pattern(v)
				}
				o.Properties = append(o.Properties, p)
			case "shorthand_property_identifier_pattern":
				p := c.mk(jsast.Property, ch)
				p.DeclKind = "init"
				p.Shorthand = true
				p.Key = c.identifier(ch)
				p.ValueExpr = c.identifier(ch)
				o.Properties = append(o.Properties, p)
			case "object_assignment_pattern":
				p := c.mk(jsast.Property, ch)
				p.DeclKind = "init"
				p.Shorthand = true
				ap := c.pattern(ch)
				if ap.Left != nil {
					key := *ap.Left
					key.ID = c.ids.Next()
					p.Key = &key
				}
				p.ValueExpr = ap
				o.Properties = append(o.Properties, p)
			case "rest_pattern":
				o.Properties = append(o.Properties, c.pattern(ch))
			}
		}
		return o
	case "parenthesized_expression":
		if kids := named(n); len(kids) > 0 {
			return c.pattern(kids[0])
		}
	}
	return c.expr(n)
}

func cookString(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	inner := raw[1 : len(raw)-1]
	if !strings.Contains(inner, `\`) {
		return inner
	}
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		ch := inner[i]
		if ch != '\\' || i+1 == len(inner) {
			b.WriteByte(ch)
			continue
		}
		i++
		switch inner[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(inner[i])
		}
	}
	return b.String()
}
