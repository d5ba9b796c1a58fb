// internal/analysis/model/model.go
// Package model composes flow graphs into analyzable models: one per scope,
// composites spliced at resolved call sites, and a per-file event-loop
// model that attaches every event handler.
package model

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/jaw/internal/analysis/dataflow"
	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// Kind says which pass produced a model.
type Kind int

const (
	Intra Kind = iota
	Inter
	Page
)

func (k Kind) String() string {
	switch k {
	case Intra:
		return "intra"
	case Inter:
		return "inter"
	case Page:
		return "page"
	}
	return "unknown"
}

// Index resolves identifiers and maps function nodes to their scopes.
// *scope.Tree and *scope.Forest implement it.
type Index interface {
	dataflow.Resolver
	ScopeOf(n *jsast.Node) (*scope.Scope, bool)
}

// Splice records one callee graph entered from a call site.
type Splice struct {
	Site   flow.NodeID
	Return flow.NodeID
	Callee *scope.Scope
	Entry  flow.NodeID
	Exit   flow.NodeID
	// Recursive marks callees on a call cycle. Their graph is spliced once
	// and every later site reuses it.
	Recursive bool
}

// Model is one analyzable unit.
type Model struct {
	Name string
	File string
	Kind Kind
	// Graph is nil when the main scope could not be built.
	Graph *flow.Graph
	Main  *scope.Scope
	// Scopes lists the main scope first, then every scope spliced or
	// attached into the graph.
	Scopes []*scope.Scope
	Result *dataflow.Result
	// Exportable holds the definitions importers can see. It is set on
	// file-level intra models only.
	Exportable []*flow.VarDef
	Imports    []jsast.ImportSpec
	Splices    []Splice
	// Handlers are the event-handler scopes attached to a page model.
	Handlers []*scope.Scope
	Err      error
}

func modelName(file string, s *scope.Scope, kind Kind) string {
	return fmt.Sprintf("%s:%s#%d/%s", file, s.Name(), s.ID(), kind)
}

// Pairs returns the def-use pairs, or nil when none were computed.
func (m *Model) Pairs() map[*scope.Var][]dataflow.DUPair {
	if m.Result == nil {
		return nil
	}
	return m.Result.Pairs
}

// Usable reports whether the model has a graph.
func (m *Model) Usable() bool { return m.Graph != nil }

// Degraded reports whether building or solving the model failed.
func (m *Model) Degraded() bool { return m.Err != nil }

// Spans reports whether s is one of the model's scopes.
func (m *Model) Spans(s *scope.Scope) bool {
	for _, o := range m.Scopes {
		if o == s {
			return true
		}
	}
	return false
}

// PageModels are the models of one file.
type PageModels struct {
	File  string
	Intra []*Model
	Inter []*Model
	Page  *Model
}

// All returns every model of the file: intra, inter, then the page model.
func (p *PageModels) All() []*Model {
	out := make([]*Model, 0, len(p.Intra)+len(p.Inter)+1)
	out = append(out, p.Intra...)
	out = append(out, p.Inter...)
	if p.Page != nil {
		out = append(out, p.Page)
	}
	return out
}

// Degraded returns the models that failed to build or solve.
func (p *PageModels) Degraded() []*Model {
	var out []*Model
	for _, m := range p.All() {
		if m.Degraded() {
			out = append(out, m)
		}
	}
	return out
}

// FileModel returns the intra model of the file scope.
func (p *PageModels) FileModel() *Model {
	for _, m := range p.Intra {
		if m.Main != nil && m.Main.Kind() == scope.File {
			return m
		}
	}
	return nil
}

// Catalog indexes models by main scope.
type Catalog struct {
	intra map[*scope.Scope]*Model
	inter map[*scope.Scope]*Model
}

// NewCatalog indexes models. A later model with the same main scope and
// kind replaces an earlier one.
func NewCatalog(models ...*Model) *Catalog {
	c := &Catalog{
		intra: make(map[*scope.Scope]*Model),
		inter: make(map[*scope.Scope]*Model),
	}
	for _, m := range models {
		c.Add(m)
	}
	return c
}

// Add indexes m.
func (c *Catalog) Add(m *Model) {
	if m == nil || m.Main == nil {
		return
	}
	switch m.Kind {
	case Intra:
		c.intra[m.Main] = m
	case Inter:
		c.inter[m.Main] = m
	}
}

// Intra returns the intra model of s.
func (c *Catalog) Intra(s *scope.Scope) (*Model, bool) {
	m, ok := c.intra[s]
	return m, ok
}

// Best returns the composite model of s when there is a usable one, else
// its intra model.
func (c *Catalog) Best(s *scope.Scope) (*Model, bool) {
	if m, ok := c.inter[s]; ok && m.Usable() && !m.Degraded() {
		return m, true
	}
	return c.Intra(s)
}

// IntraModels returns the intra models ordered by scope id.
func (c *Catalog) IntraModels() []*Model {
	out := make([]*Model, 0, len(c.intra))
	for _, m := range c.intra {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Main.ID() < out[j].Main.ID() })
	return out
}
