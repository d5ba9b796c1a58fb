// internal/analysis/model/composer.go
package model

import (
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/dataflow"
	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

const (
	DefaultMaxDepth   = 8
	DefaultMaxSplices = 256
)

// Composer builds and solves models.
type Composer struct {
	logger     *zap.Logger
	ids        *jsast.IDAllocator
	builder    *flow.Builder
	analyzer   *dataflow.Analyzer
	exprs      callgraph.ExprParser
	maxDepth   int
	maxSplices int
}

// Option configures a Composer.
type Option func(*Composer)

// WithMaxDepth bounds how many splices deep composition follows callees.
func WithMaxDepth(n int) Option {
	return func(c *Composer) { c.maxDepth = n }
}

// WithMaxSplices bounds the call sites spliced into one composite.
func WithMaxSplices(n int) Option {
	return func(c *Composer) { c.maxSplices = n }
}

// WithExprParser enables string callbacks of setTimeout and setInterval.
func WithExprParser(p callgraph.ExprParser) Option {
	return func(c *Composer) { c.exprs = p }
}

// NewComposer returns a Composer. ids must be the allocator the trees were
// parsed with, so synthetic nodes get unique ids.
func NewComposer(logger *zap.Logger, ids *jsast.IDAllocator, analyzer *dataflow.Analyzer, opts ...Option) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = jsast.NewIDAllocator()
	}
	if analyzer == nil {
		analyzer = dataflow.New(logger)
	}
	c := &Composer{
		logger:     logger.Named("composer"),
		ids:        ids,
		builder:    flow.NewBuilder(logger, ids),
		analyzer:   analyzer,
		maxDepth:   DefaultMaxDepth,
		maxSplices: DefaultMaxSplices,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Intra builds and solves one model per scope of a file. A scope whose
// graph cannot be built yields a model with a nil graph and Err set; the
// other scopes are unaffected.
func (c *Composer) Intra(file string, tree *jsast.Tree, scopes *scope.Tree, idx Index) []*Model {
	if scopes == nil {
		return nil
	}
	if idx == nil {
		idx = scopes
	}
	var out []*Model
	for _, s := range scopes.Scopes() {
		m := &Model{
			Name:   modelName(file, s, Intra),
			File:   file,
			Kind:   Intra,
			Main:   s,
			Scopes: []*scope.Scope{s},
		}
		out = append(out, m)

		g, err := c.builder.Build(s)
		if err != nil {
			m.Err = err
			var be *flow.BuildError
			if errors.As(err, &be) {
				c.logger.Warn("Scope has no flow graph, skipping its analysis.",
					zap.String("model", m.Name),
					zap.Stringer("pos", be.Pos),
					zap.Error(err))
			}
			continue
		}
		g.Name = m.Name
		m.Graph = g
		c.solve(m, idx)

		if s.Kind() == scope.File {
			if tree != nil {
				m.Imports = tree.Imports
			}
			if !m.Degraded() {
				m.Exportable = exportable(g)
			}
		}
	}
	return out
}

// solve runs the dataflow pass and records a failure on the model. The
// graph stays available when the solver gives up.
func (c *Composer) solve(m *Model, idx Index) {
	r, err := c.analyzer.Run(m.Graph, idx)
	m.Result = r
	if err != nil {
		m.Err = err
		c.logger.Warn("Model is degraded, def-use pairs are unavailable.",
			zap.String("model", m.Name),
			zap.Error(err))
	}
}

// exportable is the entry GEN of a file graph plus the definitions of
// top-level names that reach its exit. Host globals are not exported.
func exportable(g *flow.Graph) []*flow.VarDef {
	entry, exit := g.Node(g.Entry()), g.Node(g.Exit())
	set := flow.NewVarDefSet(g.Universe())
	keep := func(vd *flow.VarDef) {
		if g.Scope.Owns(vd.Var) && vd.Var.Kind() != scope.Builtin {
			set.Add(vd)
		}
	}
	entry.Facts().Gen.Each(keep)
	exit.Facts().ReachIn.Each(keep)
	return set.Slice()
}
