// internal/analysis/engine/session.go
// Package engine drives every analysis pass over one program run and owns
// the tables the passes share.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/dataflow"
	"github.com/xkilldash9x/jaw/internal/analysis/events"
	"github.com/xkilldash9x/jaw/internal/analysis/model"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/config"
	"github.com/xkilldash9x/jaw/internal/irgraph"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

var (
	// ErrBusy is returned when a session is used by two callers at once.
	ErrBusy = errors.New("engine: session is already running")
	// ErrNilTree is returned when Analyze is given a nil tree.
	ErrNilTree = errors.New("engine: nil tree")
)

// Session analyzes trees as one program. A session runs one analysis at a
// time; every run starts from empty tables.
type Session struct {
	logger *zap.Logger
	cfg    config.AnalysisConfig
	ids    *jsast.IDAllocator
	exprs  callgraph.ExprParser
	busy   atomic.Bool

	last *Result
}

// Option configures a Session.
type Option func(*Session)

// WithExprParser enables string callbacks of setTimeout and setInterval.
// *parser.Parser implements it.
func WithExprParser(p callgraph.ExprParser) Option {
	return func(s *Session) { s.exprs = p }
}

// NewSession returns a Session. ids must be the allocator the trees were
// parsed with.
func NewSession(logger *zap.Logger, cfg config.AnalysisConfig, ids *jsast.IDAllocator, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = jsast.NewIDAllocator()
	}
	s := &Session{
		logger: logger.Named("engine"),
		cfg:    cfg,
		ids:    ids,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Last returns the result of the latest run, nil after Clear.
func (s *Session) Last() *Result {
	return s.last
}

// Clear drops the tables of the latest run.
func (s *Session) Clear() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)
	s.last = nil
	return nil
}

// Analyze runs every pass over trees. It fails only on misuse: concurrent
// use, a nil tree or a cancelled context. Per-function failures are
// reported on the models of the result.
func (s *Session) Analyze(ctx context.Context, trees []*jsast.Tree) (*Result, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	for i, t := range trees {
		if t == nil || t.Root == nil {
			return nil, fmt.Errorf("tree %d: %w", i, ErrNilTree)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	r := &run{
		s:      s,
		ctx:    ctx,
		runID:  runID,
		logger: s.logger.With(zap.String("run_id", runID)),
	}
	res, err := r.execute(trees)
	if err != nil {
		return nil, err
	}
	s.last = res
	return res, nil
}

// run is the state of one Analyze call.
type run struct {
	s      *Session
	ctx    context.Context
	runID  string
	logger *zap.Logger
}

func (r *run) execute(trees []*jsast.Tree) (*Result, error) {
	cfg := r.s.cfg
	logger := r.logger
	res := &Result{
		RunID:  r.runID,
		Forest: scope.NewForest(),
		Stream: irgraph.NewStore(logger),
	}

	resolver := scope.NewResolver(logger)
	roots := make([]*jsast.Node, len(trees))
	for i, t := range trees {
		fr := &FileResult{File: t.Name, Tree: t, Scopes: resolver.Resolve(t.Root)}
		fr.Models = &model.PageModels{File: t.Name}
		res.Files = append(res.Files, fr)
		res.Forest.Add(fr.Scopes)
		roots[i] = t.Root
	}

	cgOpts := []callgraph.Option{callgraph.WithAliasCutoff(cfg.AliasCutoff)}
	if r.s.exprs != nil {
		cgOpts = append(cgOpts, callgraph.WithExprParser(r.s.exprs))
	}
	res.CallGraph = callgraph.NewResolver(logger, cgOpts...).Resolve(roots...)

	analyzer := dataflow.New(logger,
		dataflow.WithIterationBudget(cfg.MaxFixpointIterations),
		dataflow.WithConvergenceCheck(cfg.AssertConvergence))
	composerOpts := []model.Option{
		model.WithMaxDepth(cfg.MaxCompositionDepth),
		model.WithMaxSplices(cfg.MaxSplicesPerModel),
	}
	if r.s.exprs != nil {
		composerOpts = append(composerOpts, model.WithExprParser(r.s.exprs))
	}
	composer := model.NewComposer(logger, r.s.ids, analyzer, composerOpts...)

	catalog := model.NewCatalog()
	var intra []*model.Model
	for _, fr := range res.Files {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}
		fr.Models.Intra = composer.Intra(fr.File, fr.Tree, fr.Scopes, res.Forest)
		for _, m := range fr.Models.Intra {
			catalog.Add(m)
		}
		intra = append(intra, fr.Models.Intra...)
	}

	if cfg.InterProcedural {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}
		byFile := res.byFile()
		for _, m := range composer.Inter(intra, res.Forest, res.CallGraph) {
			catalog.Add(m)
			if fr, ok := byFile[m.File]; ok {
				fr.Models.Inter = append(fr.Models.Inter, m)
			}
		}
	}

	if cfg.EventGraph {
		res.Events = events.NewResolver(logger).Resolve(trees, res.Forest, catalog, res.CallGraph)
	}

	if cfg.IntraPage {
		for _, fr := range res.Files {
			if err := r.ctx.Err(); err != nil {
				return nil, err
			}
			file := fr.Models.FileModel()
			if file == nil {
				continue
			}
			var handlers []*scope.Scope
			if res.Events != nil {
				handlers = res.Events.HandlerScopes(file.Main)
			}
			fr.Models.Page = composer.Page(file, handlers, catalog, res.Forest)
		}
	}

	res.Imports = linkImports(res)
	emit(logger, res, r.s.ids)

	nodes, edges := res.Stream.Len()
	logger.Info("Analysis complete.",
		zap.Int("files", len(res.Files)),
		zap.Int("models", len(res.Models())),
		zap.Int("degraded", len(res.Degraded())),
		zap.Int("call_edges", res.CallGraph.Len()),
		zap.Int("stream_nodes", nodes),
		zap.Int("stream_edges", edges))
	return res, nil
}

// emit fills the stream: syntax first so every relation finds its
// endpoints, then flow, def-use, calls, events and imports.
func emit(logger *zap.Logger, res *Result, ids *jsast.IDAllocator) {
	e := irgraph.NewEmitter(logger, res.Stream, ids)
	for _, fr := range res.Files {
		e.Tree(fr.Tree, res.Forest)
	}
	for _, fr := range res.Files {
		for _, m := range fr.Models.Intra {
			e.Flow(m)
		}
		// Composites add the call and return edges of their splices.
		for _, m := range fr.Models.Inter {
			e.Flow(m)
		}
		if fr.Models.Page != nil {
			e.Flow(fr.Models.Page)
		}
		for _, m := range fr.Models.All() {
			e.Pairs(m)
		}
	}
	e.Calls(res.CallGraph)
	e.Events(res.Events)
	for _, l := range res.Imports {
		if l.Origin == nil {
			e.ExternalImport(l.Statement, l.Module)
			continue
		}
		e.Import(l.Statement, l.Origin.ID, l.Module, l.Symbol)
	}
	if d := e.Dropped(); d > 0 {
		logger.Debug("Stream edges dropped.", zap.Int("count", d))
	}
}
