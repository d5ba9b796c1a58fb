// internal/analysis/dataflow/pairs.go
package dataflow

import (
	"sort"

	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// ControlUse is the use side of a control-dependence pair: the conditional
// construct a predicate read decides, with the code each outcome runs.
type ControlUse struct {
	// Branch is the flow node holding the predicate.
	Branch flow.NodeID
	// Statement is the enclosing conditional: an if, loop, switch or
	// conditional expression.
	Statement  *jsast.Node
	Consequent *jsast.Node
	Alternate  *jsast.Node
	// Branchless marks switch discriminants, whose outcome is not a
	// two-way branch.
	Branchless bool
}

// DUPair links a definition to a read that it reaches.
type DUPair struct {
	Var *scope.Var
	Def *flow.Def
	// Use is the reading node of a data pair, NoNode for control pairs.
	Use     flow.NodeID
	Control *ControlUse
}

// IsControl reports whether p is a control-dependence pair.
func (p DUPair) IsControl() bool { return p.Control != nil }

// Result is the solved dataflow state of one graph.
type Result struct {
	Graph  *flow.Graph
	Pairs  map[*scope.Var][]DUPair
	Visits int
}

// Len is the number of pairs.
func (r *Result) Len() int {
	total := 0
	for _, ps := range r.Pairs {
		total += len(ps)
	}
	return total
}

// Vars returns the variables that have pairs, ordered by id.
func (r *Result) Vars() []*scope.Var {
	out := make([]*scope.Var, 0, len(r.Pairs))
	for v := range r.Pairs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// All returns every pair in variable order.
func (r *Result) All() []DUPair {
	var out []DUPair
	for _, v := range r.Vars() {
		out = append(out, r.Pairs[v]...)
	}
	return out
}

// Named returns the pairs of every variable called name.
func (r *Result) Named(name string) []DUPair {
	var out []DUPair
	for _, v := range r.Vars() {
		if v.Name() == name {
			out = append(out, r.Pairs[v]...)
		}
	}
	return out
}

// Origin returns the syntax a pair's definition came from: the declaring
// node of a hoisted definition, otherwise the defining flow node's syntax.
func (r *Result) Origin(p DUPair) *jsast.Node {
	if p.Def.Actual != nil {
		return p.Def.Actual
	}
	if n := r.Graph.Node(p.Def.Node); n != nil {
		return n.AST
	}
	return nil
}

// DefNode returns the flow node that generated a pair's definition.
func (r *Result) DefNode(p DUPair) *flow.Node {
	return r.Graph.Node(p.Def.Node)
}

// extract intersects each node's reach-in with its use sets.
func (r *Result) extract(owners map[flow.NodeID]map[int]*jsast.Node) {
	for _, n := range r.Graph.Nodes() {
		f := n.Facts()
		if f.CUse.Len() == 0 && f.PUse.Len() == 0 {
			continue
		}
		f.ReachIn.Each(func(vd *flow.VarDef) {
			if f.CUse.Contains(vd.Var) {
				r.add(DUPair{Var: vd.Var, Def: vd.Def, Use: n.ID()})
			}
			if f.PUse.Contains(vd.Var) {
				owner := owners[n.ID()][vd.Var.ID()]
				r.add(DUPair{Var: vd.Var, Def: vd.Def, Use: flow.NoNode, Control: control(n.ID(), owner)})
			}
		})
	}
}

func (r *Result) add(p DUPair) {
	r.Pairs[p.Var] = append(r.Pairs[p.Var], p)
}

func control(branch flow.NodeID, owner *jsast.Node) *ControlUse {
	c := &ControlUse{Branch: branch, Statement: owner}
	if owner == nil {
		return c
	}
	switch owner.Kind {
	case jsast.IfStatement, jsast.ConditionalExpression:
		c.Consequent, c.Alternate = owner.Consequent, owner.Alternate
	case jsast.WhileStatement, jsast.DoWhileStatement, jsast.ForStatement,
		jsast.ForInStatement, jsast.ForOfStatement:
		c.Consequent = owner.Body
	case jsast.SwitchCase:
		c.Statement = owner.Parent
		c.Consequent = owner
		c.Alternate = nextCase(owner)
	case jsast.SwitchStatement:
		c.Branchless = true
	}
	return c
}

// nextCase returns the case tested after c fails: the next case with a
// test, else the default clause, else nil.
func nextCase(c *jsast.Node) *jsast.Node {
	sw := c.Parent
	if sw == nil {
		return nil
	}
	var def *jsast.Node
	after := false
	for _, other := range sw.Cases {
		if other.Test == nil {
			def = other
			continue
		}
		if after {
			return other
		}
		if other == c {
			after = true
		}
	}
	return def
}
