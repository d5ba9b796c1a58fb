// internal/analysis/flow/builder.go
package flow

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// Builder turns the syntax of one scope into a flow graph. Nested function
// bodies are not entered; they are built from their own scopes.
type Builder struct {
	logger *zap.Logger
	ids    *jsast.IDAllocator
}

// NewBuilder returns a Builder. ids supplies the uids of synthetic exit
// nodes and should be the allocator the trees were parsed with.
func NewBuilder(logger *zap.Logger, ids *jsast.IDAllocator) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = jsast.NewIDAllocator()
	}
	return &Builder{logger: logger.Named("cfg"), ids: ids}
}

type targetKind uint8

const (
	targetLoop targetKind = iota
	targetSwitch
	targetBlock
)

// jumpTarget is an enclosing construct a break or continue can leave.
type jumpTarget struct {
	kind       targetKind
	labels     []string
	breakTo    NodeID
	continueTo NodeID
}

// build is the state of one Build call.
type build struct {
	g        *Graph
	s        *scope.Scope
	exit     NodeID
	jumps    []jumpTarget
	handlers []NodeID
	labels   []string
}

// Build constructs the flow graph of s. A malformed subtree yields a nil
// graph and a *BuildError; it never panics.
func (b *Builder) Build(s *scope.Scope) (g *Graph, err error) {
	if s == nil || s.Node() == nil {
		return nil, &BuildError{Reason: "nil scope"}
	}
	root := s.Node()
	st := &build{g: NewGraph(s.Name(), s), s: s}

	defer func() {
		if r := recover(); r != nil {
			g, err = nil, buildError(s, r)
			b.logger.Warn("Failed to build control flow graph.",
				zap.String("scope", s.Name()),
				zap.Error(err))
		}
	}()

	entry := st.g.Add(KindEntry, root, s, root.ID).ID()
	st.exit = st.g.Add(KindExit, nil, s, b.ids.Next()).ID()
	st.g.SetEntry(entry)
	st.g.SetExit(st.exit)

	var first NodeID
	switch {
	case root.Kind == jsast.Program:
		first = st.list(root.Statements, st.exit)
	case root.Kind.IsFunction():
		switch {
		case root.Body == nil:
			fail(root, "function without body")
		case root.Body.Kind == jsast.BlockStatement:
			first = st.list(root.Body.Statements, st.exit)
		default:
			// Expression-bodied arrows evaluate and return their body.
			first = st.simple(root.Body, root.Body, st.exit)
		}
	default:
		fail(root, "scope opened by %s", root.Kind)
	}
	st.g.Connect(entry, first, EdgeNormal)
	stamp(st.g, root)

	b.logger.Debug("Built control flow graph.",
		zap.String("scope", s.Name()),
		zap.Int("nodes", st.g.Len()))
	return st.g, nil
}

func buildError(s *scope.Scope, r any) *BuildError {
	e := &BuildError{Scope: s.Name()}
	switch p := r.(type) {
	case malformed:
		e.Reason = p.reason
		if p.node != nil {
			e.NodeID, e.Kind, e.Pos = p.node.ID, p.node.Kind, p.node.Loc
		}
	default:
		e.Reason = fmt.Sprint(p)
	}
	return e
}

// stamp copies source positions onto the nodes once the topology is final.
// The synthetic exit takes the position of the scope node.
func stamp(g *Graph, root *jsast.Node) {
	for _, n := range g.nodes {
		pos := root.Loc
		if n.AST != nil {
			pos = n.AST.Loc
		}
		n.Line, n.Column = pos.Line, pos.Column
	}
}

func (st *build) node(kind NodeKind, ast *jsast.Node) NodeID {
	return st.g.Add(kind, ast, st.s, ast.ID).ID()
}

func (st *build) link(from, to NodeID, kind EdgeKind) {
	st.g.Connect(from, to, kind)
}

// simple adds a normal node for ast that flows to next. expr is the part
// of ast that is evaluated, checked for throwing forms.
func (st *build) simple(ast, expr *jsast.Node, next NodeID) NodeID {
	id := st.node(KindNormal, ast)
	st.link(id, next, EdgeNormal)
	st.mayThrow(id, expr)
	return id
}

// mayThrow adds an exception edge from id when expr can throw and a
// handler is active.
func (st *build) mayThrow(id NodeID, expr *jsast.Node) {
	if len(st.handlers) == 0 || !MayThrow(expr) {
		return
	}
	st.link(id, st.handlers[len(st.handlers)-1], EdgeException)
}

func (st *build) throwTarget() NodeID {
	if len(st.handlers) == 0 {
		return st.exit
	}
	return st.handlers[len(st.handlers)-1]
}

// MayThrow reports whether expr contains a call, member access, assignment,
// new, unary, update or binary operation outside nested functions.
func MayThrow(expr *jsast.Node) bool {
	found := false
	jsast.InspectShallow(expr, func(n *jsast.Node) bool {
		if found || n.Kind.IsFunction() || n.Kind == jsast.ClassExpression {
			return false
		}
		switch n.Kind {
		case jsast.CallExpression, jsast.NewExpression, jsast.MemberExpression,
			jsast.AssignmentExpression, jsast.UnaryExpression, jsast.UpdateExpression,
			jsast.BinaryExpression, jsast.TaggedTemplateExpression, jsast.AwaitExpression:
			found = true
			return false
		}
		return true
	})
	return found
}

func (st *build) list(stmts []*jsast.Node, next NodeID) NodeID {
	for i := len(stmts) - 1; i >= 0; i-- {
		next = st.stmt(stmts[i], next)
	}
	return next
}

func (st *build) push(t jumpTarget) { st.jumps = append(st.jumps, t) }
func (st *build) pop()              { st.jumps = st.jumps[:len(st.jumps)-1] }

// takeLabels returns and clears the labels written directly before the
// statement being built.
func (st *build) takeLabels() []string {
	l := st.labels
	st.labels = nil
	return l
}

// stmt builds n so that control leaves it towards next and returns the
// entry of n's subgraph. Statements that produce no node return next.
func (st *build) stmt(n *jsast.Node, next NodeID) NodeID {
	if n == nil {
		return next
	}
	labels := st.takeLabels()

	switch n.Kind {
	case jsast.LabeledStatement:
		if n.Label == nil || n.Body == nil {
			fail(n, "incomplete labeled statement")
		}
		st.labels = append(labels, n.Label.Name)
		return st.stmt(n.Body, next)
	case jsast.WhileStatement:
		return st.whileStmt(n, next, labels)
	case jsast.DoWhileStatement:
		return st.doWhileStmt(n, next, labels)
	case jsast.ForStatement:
		return st.forStmt(n, next, labels)
	case jsast.ForInStatement, jsast.ForOfStatement:
		return st.forInStmt(n, next, labels)
	case jsast.SwitchStatement:
		return st.switchStmt(n, next, labels)
	}

	if len(labels) > 0 {
		st.push(jumpTarget{kind: targetBlock, labels: labels, breakTo: next, continueTo: NoNode})
		defer st.pop()
	}

	switch n.Kind {
	case jsast.EmptyStatement, jsast.DebuggerStatement, jsast.FunctionDeclaration, jsast.ExportAllDeclaration:
		return next
	case jsast.ExpressionStatement:
		if n.Expression == nil {
			fail(n, "expression statement without expression")
		}
		return st.simple(n, n.Expression, next)
	case jsast.VariableDeclaration:
		return st.declarations(n, next)
	case jsast.ClassDeclaration:
		return st.simple(n, n.SuperClass, next)
	case jsast.ImportDeclaration:
		return st.simple(n, nil, next)
	case jsast.ExportNamedDeclaration, jsast.ExportDefaultDeclaration:
		d := n.Declaration
		switch {
		case d == nil:
			return next
		case isStatement(d):
			return st.stmt(d, next)
		}
		return st.simple(n, d, next)
	case jsast.BlockStatement:
		return st.list(n.Statements, next)
	case jsast.ReturnStatement:
		id := st.node(KindNormal, n)
		st.link(id, st.exit, EdgeNormal)
		st.mayThrow(id, n.Argument)
		return id
	case jsast.ThrowStatement:
		id := st.node(KindNormal, n)
		st.link(id, st.throwTarget(), EdgeException)
		return id
	case jsast.BreakStatement:
		return st.jump(n, true)
	case jsast.ContinueStatement:
		return st.jump(n, false)
	case jsast.IfStatement:
		return st.ifStmt(n, next)
	case jsast.TryStatement:
		return st.tryStmt(n, next)
	case jsast.WithStatement:
		if n.Object == nil {
			fail(n, "with statement without object")
		}
		id := st.node(KindNormal, n)
		st.link(id, st.stmt(n.Body, next), EdgeNormal)
		st.mayThrow(id, n.Object)
		return id
	}
	fail(n, "unsupported statement")
	return NoNode
}

func isStatement(n *jsast.Node) bool {
	switch n.Kind {
	case jsast.FunctionDeclaration, jsast.ClassDeclaration, jsast.VariableDeclaration:
		return true
	}
	return false
}

// declarations gives every declarator its own node so that later
// declarators see the definitions of earlier ones.
func (st *build) declarations(n *jsast.Node, next NodeID) NodeID {
	if len(n.Declarations) == 0 {
		fail(n, "declaration without declarators")
	}
	for i := len(n.Declarations) - 1; i >= 0; i-- {
		d := n.Declarations[i]
		if d.Kind != jsast.VariableDeclarator || d.Ident == nil {
			fail(d, "malformed declarator")
		}
		next = st.simple(d, d.Init, next)
	}
	return next
}

func (st *build) jump(n *jsast.Node, isBreak bool) NodeID {
	label := ""
	if n.Label != nil {
		label = n.Label.Name
	}
	for i := len(st.jumps) - 1; i >= 0; i-- {
		t := st.jumps[i]
		if label != "" && !slices.Contains(t.labels, label) {
			continue
		}
		var to NodeID
		switch {
		case isBreak && label == "" && t.kind == targetBlock:
			continue
		case isBreak:
			to = t.breakTo
		case t.kind != targetLoop:
			if label != "" {
				fail(n, "continue to a label that is not a loop")
			}
			continue
		default:
			to = t.continueTo
		}
		id := st.node(KindNormal, n)
		st.link(id, to, EdgeNormal)
		return id
	}
	fail(n, "%s outside of its target", n.Kind)
	return NoNode
}

func (st *build) ifStmt(n *jsast.Node, next NodeID) NodeID {
	if n.Test == nil || n.Consequent == nil {
		fail(n, "incomplete if statement")
	}
	test := st.node(KindBranch, n.Test)
	st.link(test, st.stmt(n.Consequent, next), EdgeTrue)
	st.link(test, st.stmt(n.Alternate, next), EdgeFalse)
	st.mayThrow(test, n.Test)
	return test
}

func (st *build) whileStmt(n *jsast.Node, next NodeID, labels []string) NodeID {
	if n.Test == nil {
		fail(n, "while without test")
	}
	head := st.node(KindBranch, n.Test)
	st.push(jumpTarget{kind: targetLoop, labels: labels, breakTo: next, continueTo: head})
	body := st.stmt(n.Body, head)
	st.pop()
	st.link(head, body, EdgeTrue)
	st.link(head, next, EdgeFalse)
	st.mayThrow(head, n.Test)
	return head
}

func (st *build) doWhileStmt(n *jsast.Node, next NodeID, labels []string) NodeID {
	if n.Test == nil {
		fail(n, "do-while without test")
	}
	head := st.node(KindBranch, n.Test)
	st.push(jumpTarget{kind: targetLoop, labels: labels, breakTo: next, continueTo: head})
	body := st.stmt(n.Body, head)
	st.pop()
	st.link(head, body, EdgeTrue)
	st.link(head, next, EdgeFalse)
	st.mayThrow(head, n.Test)
	return body
}

// forStmt builds init, then the test (a normal node on the statement when
// the test is absent), then the body, then the update back to the test.
func (st *build) forStmt(n *jsast.Node, next NodeID, labels []string) NodeID {
	var head NodeID
	if n.Test != nil {
		head = st.node(KindBranch, n.Test)
	} else {
		head = st.node(KindNormal, n)
	}
	cont := head
	if n.Update != nil {
		cont = st.simple(n.Update, n.Update, head)
	}

	st.push(jumpTarget{kind: targetLoop, labels: labels, breakTo: next, continueTo: cont})
	body := st.stmt(n.Body, cont)
	st.pop()

	if n.Test != nil {
		st.link(head, body, EdgeTrue)
		st.link(head, next, EdgeFalse)
		st.mayThrow(head, n.Test)
	} else {
		st.link(head, body, EdgeNormal)
	}

	switch {
	case n.Init == nil:
		return head
	case n.Init.Kind == jsast.VariableDeclaration:
		return st.declarations(n.Init, head)
	}
	return st.simple(n.Init, n.Init, head)
}

// forInStmt makes the statement itself the loop head: it binds the left
// side and decides whether another iteration runs.
func (st *build) forInStmt(n *jsast.Node, next NodeID, labels []string) NodeID {
	if n.Left == nil || n.Right == nil {
		fail(n, "incomplete %s", n.Kind)
	}
	head := st.node(KindBranch, n)
	st.push(jumpTarget{kind: targetLoop, labels: labels, breakTo: next, continueTo: head})
	body := st.stmt(n.Body, head)
	st.pop()
	st.link(head, body, EdgeTrue)
	st.link(head, next, EdgeFalse)
	st.mayThrow(head, n.Right)
	return head
}

// switchStmt chains the case tests in source order, skipping default. The
// last test falls to default, or past the switch when there is none. Case
// bodies fall through, so an empty body continues into the next one.
func (st *build) switchStmt(n *jsast.Node, next NodeID, labels []string) NodeID {
	if n.Discriminant == nil {
		fail(n, "switch without discriminant")
	}
	disc := st.node(KindNormal, n.Discriminant)
	st.mayThrow(disc, n.Discriminant)

	bodies := make([]NodeID, len(n.Cases)+1)
	bodies[len(n.Cases)] = next
	st.push(jumpTarget{kind: targetSwitch, labels: labels, breakTo: next, continueTo: NoNode})
	for i := len(n.Cases) - 1; i >= 0; i-- {
		c := n.Cases[i]
		if c.Kind != jsast.SwitchCase {
			fail(c, "switch member is not a case")
		}
		bodies[i] = st.list(c.Statements, bodies[i+1])
	}
	st.pop()

	def := NoNode
	var tests []NodeID
	for i, c := range n.Cases {
		if c.Test == nil {
			if def != NoNode {
				fail(c, "duplicate default clause")
			}
			def = st.node(KindNormal, c)
			st.link(def, bodies[i], EdgeNormal)
			continue
		}
		t := st.node(KindBranch, c)
		st.link(t, bodies[i], EdgeTrue)
		st.mayThrow(t, c.Test)
		tests = append(tests, t)
	}

	fallback := next
	if def != NoNode {
		fallback = def
	}
	for i, t := range tests {
		to := fallback
		if i+1 < len(tests) {
			to = tests[i+1]
		}
		st.link(t, to, EdgeFalse)
	}
	if len(tests) > 0 {
		st.link(disc, tests[0], EdgeNormal)
	} else {
		st.link(disc, fallback, EdgeNormal)
	}
	return disc
}

// tryStmt routes exceptions raised in the block to the catch node, or to
// the finalizer when there is no handler. Exceptions raised in the handler
// go to the finalizer. Both block and handler continue into the finalizer.
func (st *build) tryStmt(n *jsast.Node, next NodeID) NodeID {
	if n.Block == nil || (n.Handler == nil && n.Finalizer == nil) {
		fail(n, "incomplete try statement")
	}
	after := next
	if n.Finalizer != nil {
		after = st.stmt(n.Finalizer, next)
	}

	target := after
	if h := n.Handler; h != nil {
		if h.Body == nil {
			fail(h, "catch clause without body")
		}
		if n.Finalizer != nil {
			st.handlers = append(st.handlers, after)
		}
		body := st.stmt(h.Body, after)
		if n.Finalizer != nil {
			st.handlers = st.handlers[:len(st.handlers)-1]
		}
		target = st.node(KindNormal, h)
		st.link(target, body, EdgeNormal)
	}

	st.handlers = append(st.handlers, target)
	entry := st.stmt(n.Block, after)
	st.handlers = st.handlers[:len(st.handlers)-1]
	return entry
}
