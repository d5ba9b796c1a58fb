// internal/analysis/dataflow/analyzer.go
// Package dataflow solves reaching definitions over flow graphs and
// extracts def-use pairs, including control-dependence pairs for reads in
// predicate position.
package dataflow

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

var (
	// ErrIterationBudget is returned when the worklist exceeds the
	// configured number of node visits.
	ErrIterationBudget = errors.New("dataflow iteration budget exhausted")
	// ErrNotConverged is returned by the convergence check when a solution
	// is not a fixpoint of the transfer functions.
	ErrNotConverged = errors.New("dataflow solution did not converge")
)

// Resolver maps an identifier occurrence to the variable it denotes.
// *scope.Tree implements it.
type Resolver interface {
	Resolve(ident *jsast.Node) (*scope.Var, bool)
}

// Analyzer runs the reaching-definitions fixpoint.
type Analyzer struct {
	logger      *zap.Logger
	budget      int
	checkResult bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithIterationBudget bounds the number of node visits per graph. Zero
// means no bound.
func WithIterationBudget(visits int) Option {
	return func(a *Analyzer) { a.budget = visits }
}

// WithConvergenceCheck re-evaluates every transfer function once the
// worklist drains and fails with ErrNotConverged on any difference.
func WithConvergenceCheck(enabled bool) Option {
	return func(a *Analyzer) { a.checkResult = enabled }
}

// New returns an Analyzer.
func New(logger *zap.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{logger: logger.Named("dataflow")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run computes the local facts of g, solves reaching definitions and
// extracts the def-use pairs. When the iteration budget runs out the
// returned Result carries the graph but no pairs.
func (a *Analyzer) Run(g *flow.Graph, res Resolver) (*Result, error) {
	if g == nil {
		return nil, errors.New("nil flow graph")
	}
	r := &Result{Graph: g, Pairs: make(map[*scope.Var][]DUPair)}

	l := newLocal(g, res)
	l.run()

	visits, err := a.solve(g)
	r.Visits = visits
	if err != nil {
		a.logger.Warn("Reaching definitions did not finish.",
			zap.String("graph", g.Name),
			zap.Int("visits", visits),
			zap.Error(err))
		return r, err
	}
	if a.checkResult {
		if err := verify(g); err != nil {
			return r, fmt.Errorf("graph %s: %w", g.Name, err)
		}
	}

	r.extract(l.owners)
	a.logger.Debug("Solved reaching definitions.",
		zap.String("graph", g.Name),
		zap.Int("nodes", g.Len()),
		zap.Int("visits", visits),
		zap.Int("vardefs", g.Universe().Len()),
		zap.Int("pairs", r.Len()))
	return r, nil
}

// order returns every node, reverse postorder from the entry first.
func order(g *flow.Graph) []flow.NodeID {
	seen := make([]bool, g.Len())
	var post []flow.NodeID
	var dfs func(flow.NodeID)
	dfs = func(id flow.NodeID) {
		seen[id] = true
		for _, e := range g.Node(id).Out() {
			if !seen[e.To] {
				dfs(e.To)
			}
		}
		post = append(post, id)
	}
	if g.Entry() != flow.NoNode {
		dfs(g.Entry())
	}
	out := make([]flow.NodeID, 0, g.Len())
	for i := len(post) - 1; i >= 0; i-- {
		out = append(out, post[i])
	}
	for _, n := range g.Nodes() {
		if !seen[n.ID()] {
			out = append(out, n.ID())
		}
	}
	return out
}

// solve is a FIFO worklist over reachOut = (reachIn − KILL) ∪ GEN. KILL
// depends on reachIn, so it is recomputed on every visit.
func (a *Analyzer) solve(g *flow.Graph) (int, error) {
	queue := order(g)
	queued := make([]bool, g.Len())
	for _, id := range queue {
		queued[id] = true
	}

	visits := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		queued[id] = false

		visits++
		if a.budget > 0 && visits > a.budget {
			return visits, fmt.Errorf("%w: graph %s after %d visits", ErrIterationBudget, g.Name, a.budget)
		}

		n := g.Node(id)
		f := n.Facts()
		in, kill, out := transfer(g, n)
		f.ReachIn, f.Kill = in, kill
		if out.Equal(f.ReachOut) {
			continue
		}
		f.ReachOut = out
		for _, e := range n.Out() {
			if !queued[e.To] {
				queued[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return visits, nil
}

func transfer(g *flow.Graph, n *flow.Node) (in, kill, out flow.VarDefSet) {
	in = flow.NewVarDefSet(g.Universe())
	for _, p := range n.Prev() {
		in.UnionWith(g.Node(p).Facts().ReachOut)
	}
	kill = killSet(n, in)
	out = in.Difference(kill).Union(n.Facts().Gen)
	return in, kill, out
}

// killSet derives KILL from reachIn. An entry drops what its scope cannot
// see, an exit drops its scope's own variables, a storage node passes only
// storage definitions, and every other node drops the variables it
// assigns.
func killSet(n *flow.Node, in flow.VarDefSet) flow.VarDefSet {
	switch n.Kind {
	case flow.KindEntry:
		if n.Scope == nil {
			return in.Filter(func(*flow.VarDef) bool { return false })
		}
		return in.Filter(func(vd *flow.VarDef) bool { return !n.Scope.Sees(vd.Var) })
	case flow.KindExit:
		return in.Filter(func(vd *flow.VarDef) bool { return n.Scope != nil && n.Scope.Owns(vd.Var) })
	case flow.KindLocalStorage:
		return in.Filter(func(vd *flow.VarDef) bool { return vd.Def.Type != flow.DefStorage })
	}
	assigns := n.Facts().Assigns
	return in.Filter(func(vd *flow.VarDef) bool { return assigns.Contains(vd.Var) })
}

// verify checks that the stored solution is a fixpoint: every node's
// reach-in is the union of its predecessors' reach-out and its reach-out is
// its transfer of that reach-in.
func verify(g *flow.Graph) error {
	for _, n := range g.Nodes() {
		f := n.Facts()
		in, kill, out := transfer(g, n)
		switch {
		case !in.Equal(f.ReachIn):
			return fmt.Errorf("%w: reach-in of %s", ErrNotConverged, n)
		case !kill.Equal(f.Kill):
			return fmt.Errorf("%w: kill of %s", ErrNotConverged, n)
		case !out.Equal(f.ReachOut):
			return fmt.Errorf("%w: reach-out of %s", ErrNotConverged, n)
		}
	}
	return nil
}
