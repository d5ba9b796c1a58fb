// internal/analysis/callgraph/graph.go
package callgraph

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// CallEdge links a call site to a function it may invoke.
type CallEdge struct {
	// Site is the call or new expression.
	Site *jsast.Node
	// Caller is the function or program the site sits in.
	Caller *jsast.Node
	Callee *jsast.Node
	// Name is the map key the callee was found under, empty for inline
	// functions.
	Name       string
	Provenance Provenance
	// Args are the expressions bound positionally to the callee's
	// parameters. ArgMap gives the index of each in Site.Arguments, or -1
	// when it was not a direct argument of the site.
	Args   []*jsast.Node
	ArgMap []int
}

// Graph is a resolved call graph. Functions and programs are vertices,
// keyed by syntax node id.
type Graph struct {
	Edges []CallEdge

	names    *nameMap
	roots    []*jsast.Node
	funcs    map[int64]*jsast.Node
	bySite   map[int][]int
	byCallee map[int][]int

	dg        *simple.DirectedGraph
	selfLoops map[int64]bool
	recursive map[int64]bool
}

func newGraph(roots, funcs []*jsast.Node, names *nameMap) *Graph {
	g := &Graph{
		names:     names,
		roots:     roots,
		funcs:     make(map[int64]*jsast.Node),
		bySite:    make(map[int][]int),
		byCallee:  make(map[int][]int),
		dg:        simple.NewDirectedGraph(),
		selfLoops: make(map[int64]bool),
	}
	for _, n := range append(append([]*jsast.Node(nil), roots...), funcs...) {
		g.vertex(n)
	}
	return g
}

func (g *Graph) vertex(n *jsast.Node) int64 {
	id := int64(n.ID)
	if g.dg.Node(id) == nil {
		g.dg.AddNode(simple.Node(id))
		g.funcs[id] = n
	}
	return id
}

// add records e unless the same site already reaches the same callee.
func (g *Graph) add(e CallEdge) bool {
	for _, i := range g.bySite[e.Site.ID] {
		if g.Edges[i].Callee == e.Callee {
			return false
		}
	}
	if e.Caller == nil {
		e.Caller = jsast.EnclosingFunction(e.Site)
	}
	i := len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.bySite[e.Site.ID] = append(g.bySite[e.Site.ID], i)
	g.byCallee[e.Callee.ID] = append(g.byCallee[e.Callee.ID], i)

	to := g.vertex(e.Callee)
	if e.Caller == nil {
		return true
	}
	from := g.vertex(e.Caller)
	// simple graphs reject self edges, so direct recursion is kept aside.
	if from == to {
		g.selfLoops[from] = true
	} else {
		g.dg.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}
	g.recursive = nil
	return true
}

// Len is the number of call edges.
func (g *Graph) Len() int { return len(g.Edges) }

// Lookup returns the functions bound under a dotted name.
func (g *Graph) Lookup(name string) []*jsast.Node {
	entries := g.names.lookup(name)
	out := make([]*jsast.Node, len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

// Names returns every bound name, sorted.
func (g *Graph) Names() []string { return g.names.sortedKeys() }

// At returns the edges leaving a call site.
func (g *Graph) At(site *jsast.Node) []CallEdge {
	if site == nil {
		return nil
	}
	return g.collect(g.bySite[site.ID])
}

// CallersOf returns the edges arriving at a function.
func (g *Graph) CallersOf(fn *jsast.Node) []CallEdge {
	if fn == nil {
		return nil
	}
	return g.collect(g.byCallee[fn.ID])
}

func (g *Graph) collect(idx []int) []CallEdge {
	out := make([]CallEdge, len(idx))
	for i, j := range idx {
		out[i] = g.Edges[j]
	}
	return out
}

// Recursive returns the call cycles: strongly connected components with
// more than one function, and functions that call themselves. Members are
// ordered by node id.
func (g *Graph) Recursive() [][]*jsast.Node {
	var out [][]*jsast.Node
	for _, scc := range topo.TarjanSCC(g.dg) {
		if len(scc) == 1 && !g.selfLoops[scc[0].ID()] {
			continue
		}
		out = append(out, g.sorted(scc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].ID < out[j][0].ID })
	return out
}

// IsRecursive reports whether fn lies on a call cycle.
func (g *Graph) IsRecursive(fn *jsast.Node) bool {
	if fn == nil {
		return false
	}
	if g.recursive == nil {
		g.recursive = make(map[int64]bool)
		for _, cycle := range g.Recursive() {
			for _, n := range cycle {
				g.recursive[int64(n.ID)] = true
			}
		}
	}
	return g.recursive[int64(fn.ID)]
}

// Reachable returns the functions reachable through call edges from the
// top level of any program, ordered by node id.
func (g *Graph) Reachable() []*jsast.Node {
	var seen []graph.Node
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) { seen = append(seen, n) },
	}
	for _, root := range g.roots {
		bf.Walk(g.dg, simple.Node(int64(root.ID)), nil)
	}
	var out []*jsast.Node
	for _, n := range g.sorted(seen) {
		if n.Kind != jsast.Program {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) sorted(nodes []graph.Node) []*jsast.Node {
	out := make([]*jsast.Node, 0, len(nodes))
	for _, n := range nodes {
		if fn, ok := g.funcs[n.ID()]; ok {
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
