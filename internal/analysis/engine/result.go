// internal/analysis/engine/result.go
package engine

import (
	"github.com/xkilldash9x/jaw/internal/analysis/callgraph"
	"github.com/xkilldash9x/jaw/internal/analysis/events"
	"github.com/xkilldash9x/jaw/internal/analysis/model"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/irgraph"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// Result holds every table of one run. It is read-only once Analyze
// returns.
type Result struct {
	RunID string
	Files []*FileResult

	Forest    *scope.Forest
	CallGraph *callgraph.Graph
	// Events is nil when the event graph is disabled.
	Events  *events.Graph
	Imports []ImportLink
	Stream  *irgraph.Store
}

// FileResult is the per-file share of a run.
type FileResult struct {
	File   string
	Tree   *jsast.Tree
	Scopes *scope.Tree
	Models *model.PageModels
}

// ImportLink connects one imported symbol to the node that defines it in
// the exporting file. Origin is nil when the module is not part of the run.
type ImportLink struct {
	File      string
	Module    string
	Symbol    string
	Statement int
	Origin    *jsast.Node
}

// External reports whether the imported module lies outside the run.
func (l ImportLink) External() bool { return l.Origin == nil }

// Models returns every model of the run, file by file.
func (r *Result) Models() []*model.Model {
	var out []*model.Model
	for _, f := range r.Files {
		out = append(out, f.Models.All()...)
	}
	return out
}

// Degraded returns the models that carry a construction error.
func (r *Result) Degraded() []*model.Model {
	var out []*model.Model
	for _, f := range r.Files {
		out = append(out, f.Models.Degraded()...)
	}
	return out
}

// File returns the result of the named file.
func (r *Result) File(name string) (*FileResult, bool) {
	for _, f := range r.Files {
		if f.File == name {
			return f, true
		}
	}
	return nil, false
}

// Header describes the run for the exported stream.
func (r *Result) Header() irgraph.Header {
	h := irgraph.Header{RunID: r.RunID}
	for _, f := range r.Files {
		h.Files = append(h.Files, f.File)
	}
	return h
}

// Export returns the stream of the run.
func (r *Result) Export() irgraph.Stream {
	return r.Stream.Export(r.Header())
}

func (r *Result) byFile() map[string]*FileResult {
	m := make(map[string]*FileResult, len(r.Files))
	for _, f := range r.Files {
		m[f.File] = f
	}
	return m
}
