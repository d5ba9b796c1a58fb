// internal/analysis/model/page.go
package model

import (
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/dataflow"
	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
)

// Page wraps the top level of a file in the event loop. Every edge into the
// former exit goes to a loop node instead, which leaves to the exit and
// fans out through on-event edges to each handler. Handler exits converge
// on a loop-return node that re-enters the loop, so no order among the
// handlers is assumed. Storage writes and reads meet at one local-storage
// node. The file's composite model is used when there is one.
func (c *Composer) Page(file *Model, handlers []*scope.Scope, catalog *Catalog, idx Index) *Model {
	if file == nil || !file.Usable() {
		return nil
	}
	if catalog == nil {
		catalog = NewCatalog(file)
	}
	base := file
	if best, ok := catalog.Best(file.Main); ok && best.Usable() {
		base = best
	}

	m := &Model{
		Name:    modelName(file.File, file.Main, Page),
		File:    file.File,
		Kind:    Page,
		Main:    file.Main,
		Scopes:  append([]*scope.Scope(nil), base.Scopes...),
		Imports: file.Imports,
	}
	g := base.Graph.Clone()
	g.Name = m.Name

	exit := g.Exit()
	loop := g.Add(flow.KindLoop, nil, file.Main, c.ids.Next()).ID()
	back := g.Add(flow.KindLoopReturn, nil, file.Main, c.ids.Next()).ID()
	for _, p := range append([]flow.NodeID(nil), g.Node(exit).Prev()...) {
		for _, e := range g.Node(p).Out() {
			if e.To == exit {
				g.Disconnect(p, exit, e.Kind)
				g.Connect(p, loop, e.Kind)
			}
		}
	}
	g.Connect(loop, exit, flow.EdgeNormal)
	g.Connect(back, loop, flow.EdgeNormal)

	for _, h := range sortedScopes(handlers) {
		hm, ok := catalog.Best(h)
		if !ok || !hm.Usable() {
			c.logger.Debug("Handler has no usable model.", zap.String("scope", h.String()))
			continue
		}
		offset := g.Append(hm.Graph)
		g.Connect(loop, offset+hm.Graph.Entry(), flow.EdgeOnEvent)
		g.Connect(offset+hm.Graph.Exit(), back, flow.EdgeNormal)
		m.Handlers = append(m.Handlers, h)
		for _, s := range hm.Scopes {
			if !m.Spans(s) {
				m.Scopes = append(m.Scopes, s)
			}
		}
	}

	storage := attachStorage(g, file.Main, idx, c.ids.Next)
	m.Graph = g
	c.solve(m, idx)
	c.logger.Debug("Composed page model.",
		zap.String("model", m.Name),
		zap.Int("handlers", len(m.Handlers)),
		zap.Bool("storage", storage != flow.NoNode),
		zap.Int("nodes", g.Len()))
	return m
}

// attachStorage adds the local-storage node when any node touches client
// storage: writers feed it and readers are fed by it.
func attachStorage(g *flow.Graph, s *scope.Scope, res dataflow.Resolver, uid func() int) flow.NodeID {
	node := flow.NoNode
	for _, n := range append([]*flow.Node(nil), g.Nodes()...) {
		write, read := dataflow.StorageAccess(n, res)
		if !write && !read {
			continue
		}
		if node == flow.NoNode {
			node = g.Add(flow.KindLocalStorage, nil, s, uid()).ID()
		}
		if write {
			g.Connect(n.ID(), node, flow.EdgeLoadStorage)
		}
		if read {
			g.Connect(node, n.ID(), flow.EdgeLoadStorage)
		}
	}
	return node
}

func sortedScopes(in []*scope.Scope) []*scope.Scope {
	seen := make(map[*scope.Scope]bool, len(in))
	out := make([]*scope.Scope, 0, len(in))
	for _, s := range in {
		if s != nil && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
