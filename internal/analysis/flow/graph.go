// internal/analysis/flow/graph.go
// Package flow holds the control-flow graph arena, the CFG builder, and the
// definition facts the dataflow passes attach to flow nodes.
package flow

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// NodeID indexes a node within its Graph.
type NodeID int32

// NoNode marks an absent edge target.
const NoNode NodeID = -1

// NodeKind classifies flow nodes.
type NodeKind uint8

const (
	KindEntry NodeKind = iota
	KindExit
	KindNormal
	KindBranch
	KindCall
	KindCallReturn
	KindLoop
	KindLoopReturn
	KindLocalStorage
)

func (k NodeKind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindExit:
		return "exit"
	case KindNormal:
		return "normal"
	case KindBranch:
		return "branch"
	case KindCall:
		return "call"
	case KindCallReturn:
		return "call-return"
	case KindLoop:
		return "loop"
	case KindLoopReturn:
		return "loop-return"
	case KindLocalStorage:
		return "local-storage"
	}
	return "unknown"
}

// EdgeKind labels flow edges. The first four are single-valued per node;
// the rest may fan out.
type EdgeKind uint8

const (
	EdgeNormal EdgeKind = iota
	EdgeTrue
	EdgeFalse
	EdgeException
	EdgeCall
	EdgeReturn
	EdgeOnEvent
	EdgeLoadStorage
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeNormal:
		return "normal"
	case EdgeTrue:
		return "true"
	case EdgeFalse:
		return "false"
	case EdgeException:
		return "exception"
	case EdgeCall:
		return "call"
	case EdgeReturn:
		return "return"
	case EdgeOnEvent:
		return "on-event"
	case EdgeLoadStorage:
		return "load-storage"
	}
	return "unknown"
}

func (k EdgeKind) single() bool {
	return k <= EdgeException
}

// Edge is a directed, labeled flow edge.
type Edge struct {
	From NodeID
	To   NodeID
	Kind EdgeKind
}

// Facts is the per-node dataflow state.
type Facts struct {
	Gen      VarDefSet
	Kill     VarDefSet
	ReachIn  VarDefSet
	ReachOut VarDefSet
	CUse     VarSet
	PUse     VarSet
	// Assigns holds the variables an ordinary node overwrites; KILL is
	// derived from it against the node's reach-in.
	Assigns VarSet
}

// Node is a flow graph vertex. Edges are stored as indexes into the owning
// Graph, so the arena owns every node and nodes own nothing.
type Node struct {
	id    NodeID
	UID   int
	Kind  NodeKind
	AST   *jsast.Node
	Scope *scope.Scope

	Line   int
	Column int

	single [4]NodeID
	multi  [4][]NodeID
	prev   []NodeID

	facts Facts
}

func (n *Node) ID() NodeID { return n.id }

// Succ returns the target of a single-valued edge kind.
func (n *Node) Succ(kind EdgeKind) NodeID {
	if !kind.single() {
		panic(fmt.Sprintf("flow: %s is a multi-valued edge kind", kind))
	}
	return n.single[kind]
}

// Targets returns the targets of a multi-valued edge kind.
func (n *Node) Targets(kind EdgeKind) []NodeID {
	if kind.single() {
		if t := n.single[kind]; t != NoNode {
			return []NodeID{t}
		}
		return nil
	}
	return n.multi[kind-EdgeCall]
}

// Out returns every outgoing edge, single-valued kinds first.
func (n *Node) Out() []Edge {
	var out []Edge
	for k := EdgeNormal; k <= EdgeException; k++ {
		if t := n.single[k]; t != NoNode {
			out = append(out, Edge{From: n.id, To: t, Kind: k})
		}
	}
	for k := EdgeCall; k <= EdgeLoadStorage; k++ {
		for _, t := range n.multi[k-EdgeCall] {
			out = append(out, Edge{From: n.id, To: t, Kind: k})
		}
	}
	return out
}

// Prev returns the distinct predecessors.
func (n *Node) Prev() []NodeID { return n.prev }

// Facts returns the node's mutable dataflow state.
func (n *Node) Facts() *Facts { return &n.facts }

func (n *Node) String() string {
	if n.AST != nil {
		return fmt.Sprintf("%s#%d(%s)", n.Kind, n.id, n.AST.Kind)
	}
	return fmt.Sprintf("%s#%d", n.Kind, n.id)
}

// Graph is an arena of flow nodes.
type Graph struct {
	Name  string
	Scope *scope.Scope

	nodes    []*Node
	entry    NodeID
	exit     NodeID
	universe *Universe
}

// NewGraph returns an empty graph whose main scope is s.
func NewGraph(name string, s *scope.Scope) *Graph {
	return &Graph{Name: name, Scope: s, entry: NoNode, exit: NoNode, universe: NewUniverse()}
}

// Add appends a node and returns it.
func (g *Graph) Add(kind NodeKind, ast *jsast.Node, s *scope.Scope, uid int) *Node {
	n := &Node{
		id:     NodeID(len(g.nodes)),
		UID:    uid,
		Kind:   kind,
		AST:    ast,
		Scope:  s,
		single: [4]NodeID{NoNode, NoNode, NoNode, NoNode},
	}
	n.facts = newFacts(g.universe)
	g.nodes = append(g.nodes, n)
	return n
}

func newFacts(u *Universe) Facts {
	return Facts{
		Gen:      NewVarDefSet(u),
		Kill:     NewVarDefSet(u),
		ReachIn:  NewVarDefSet(u),
		ReachOut: NewVarDefSet(u),
		CUse:     NewVarSet(),
		PUse:     NewVarSet(),
		Assigns:  NewVarSet(),
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns the arena in id order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Len is the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Entry() NodeID { return g.entry }
func (g *Graph) Exit() NodeID  { return g.exit }

func (g *Graph) SetEntry(id NodeID) { g.entry = id }
func (g *Graph) SetExit(id NodeID)  { g.exit = id }

// Find returns the first node built from ast, or NoNode.
func (g *Graph) Find(ast *jsast.Node) NodeID {
	if ast == nil {
		return NoNode
	}
	for _, n := range g.nodes {
		if n.AST == ast {
			return n.id
		}
	}
	return NoNode
}

// Universe returns the VarDef universe of this graph.
func (g *Graph) Universe() *Universe { return g.universe }

// Connect adds an edge. For single-valued kinds an existing edge of the same
// kind is replaced.
func (g *Graph) Connect(from, to NodeID, kind EdgeKind) {
	src, dst := g.Node(from), g.Node(to)
	if src == nil || dst == nil {
		return
	}
	if kind.single() {
		if old := src.single[kind]; old != NoNode {
			src.single[kind] = NoNode
			g.unlinkPrev(from, old)
		}
		src.single[kind] = to
	} else {
		slot := &src.multi[kind-EdgeCall]
		if slices.Contains(*slot, to) {
			return
		}
		*slot = append(*slot, to)
	}
	if !slices.Contains(dst.prev, from) {
		dst.prev = append(dst.prev, from)
	}
}

// Disconnect removes an edge if present.
func (g *Graph) Disconnect(from, to NodeID, kind EdgeKind) {
	src := g.Node(from)
	if src == nil {
		return
	}
	if kind.single() {
		if src.single[kind] != to {
			return
		}
		src.single[kind] = NoNode
	} else {
		slot := &src.multi[kind-EdgeCall]
		i := slices.Index(*slot, to)
		if i < 0 {
			return
		}
		*slot = slices.Delete(*slot, i, i+1)
	}
	g.unlinkPrev(from, to)
}

// unlinkPrev drops from from to's predecessors once no edge remains.
func (g *Graph) unlinkPrev(from, to NodeID) {
	src, dst := g.Node(from), g.Node(to)
	for _, e := range src.Out() {
		if e.To == to {
			return
		}
	}
	if i := slices.Index(dst.prev, from); i >= 0 {
		dst.prev = slices.Delete(dst.prev, i, i+1)
	}
}

// Edges returns every edge in node order.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, n := range g.nodes {
		out = append(out, n.Out()...)
	}
	return out
}

// Append copies every node and edge of other into g and returns the id
// offset of the copies. Dataflow facts are not copied.
func (g *Graph) Append(other *Graph) NodeID {
	offset := NodeID(len(g.nodes))
	for _, n := range other.nodes {
		c := g.Add(n.Kind, n.AST, n.Scope, n.UID)
		c.Line, c.Column = n.Line, n.Column
	}
	for _, n := range other.nodes {
		for _, e := range n.Out() {
			g.Connect(e.From+offset, e.To+offset, e.Kind)
		}
	}
	return offset
}

// Clone returns a topology copy of g with fresh facts.
func (g *Graph) Clone() *Graph {
	c := NewGraph(g.Name, g.Scope)
	offset := c.Append(g)
	if g.entry != NoNode {
		c.entry = g.entry + offset
	}
	if g.exit != NoNode {
		c.exit = g.exit + offset
	}
	return c
}

// Reachable returns the nodes reachable from the entry, breadth first.
func (g *Graph) Reachable() []NodeID {
	if g.entry == NoNode {
		return nil
	}
	seen := make([]bool, len(g.nodes))
	queue := []NodeID{g.entry}
	seen[g.entry] = true
	var order []NodeID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.nodes[id].Out() {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return order
}

// Fingerprint hashes the shape of the reachable graph: node kinds, AST kinds
// and labeled edges in breadth-first discovery order. Two graphs built from
// the same tree hash equal regardless of node numbering.
func (g *Graph) Fingerprint() uint64 {
	order := g.Reachable()
	rank := make(map[NodeID]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	h := xxhash.New()
	var buf [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	for _, id := range order {
		n := g.nodes[id]
		put(int(n.Kind))
		if n.AST != nil {
			put(int(n.AST.Kind))
		} else {
			put(-1)
		}
		for _, e := range n.Out() {
			put(int(e.Kind))
			put(rank[e.To])
		}
		put(-2)
	}
	return h.Sum64()
}
