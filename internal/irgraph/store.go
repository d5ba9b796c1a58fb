// internal/irgraph/store.go
// Package irgraph holds the flat node and edge stream the analysis exports:
// syntax nodes plus every relation the passes derive between them.
package irgraph

import (
	"encoding/binary"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Relation labels an edge of the stream.
type Relation string

const (
	RelAST               Relation = "AST_parentOf"
	RelCFG               Relation = "CFG_parentOf"
	RelPDG               Relation = "PDG_parentOf"
	RelPDGControl        Relation = "PDG_control"
	RelCG                Relation = "CG_parentOf"
	RelERDDGRegistration Relation = "ERDDG_Registration"
	RelERDDGDispatch     Relation = "ERDDG_Dispatch"
	RelERDDGDependency   Relation = "ERDDG_Dependency"
	RelModuleImport      Relation = "ModuleImport"
)

// Relations lists every relation in stream order.
func Relations() []Relation {
	return []Relation{
		RelAST, RelCFG, RelPDG, RelPDGControl, RelCG,
		RelERDDGRegistration, RelERDDGDispatch, RelERDDGDependency, RelModuleImport,
	}
}

// SemanticType tags identifier nodes bound to host handles.
type SemanticType string

const (
	SemanticNone    SemanticType = ""
	SemanticDOM     SemanticType = "dom-handle"
	SemanticStorage SemanticType = "storage-handle"
)

// Node is one vertex of the stream. Syntax nodes keep their parser id;
// synthetic flow nodes and module nodes get fresh ids.
type Node struct {
	ID       int          `json:"id"`
	Kind     string       `json:"kind"`
	File     string       `json:"file,omitempty"`
	Name     string       `json:"name,omitempty"`
	Value    string       `json:"value,omitempty"`
	Raw      string       `json:"raw,omitempty"`
	DeclKind string       `json:"decl_kind,omitempty"`
	Async    bool         `json:"async,omitempty"`
	Semantic SemanticType `json:"semantic_type,omitempty"`
	Line     int          `json:"line,omitempty"`
	Column   int          `json:"column,omitempty"`
}

// Edge is one directed relation. Type qualifies the relation, e.g. the flow
// edge kind or the call provenance.
type Edge struct {
	From     int               `json:"from"`
	To       int               `json:"to"`
	Relation Relation          `json:"relation"`
	Type     string            `json:"type,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
}

// Header identifies the run a stream came from.
type Header struct {
	RunID string   `json:"run_id"`
	Files []string `json:"files"`
}

// Stream is an exported snapshot of a Store.
type Stream struct {
	Header Header `json:"header"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
}

// Store is an in-memory property graph. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	nodes    map[int]*Node
	edges    []Edge
	seen     map[uint64][]int
	hash     func(Edge) uint64
	outgoing map[int][]int
	log      *zap.Logger
}

// NewStore returns an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		nodes:    make(map[int]*Node),
		seen:     make(map[uint64][]int),
		hash:     edgeKey,
		outgoing: make(map[int][]int),
		log:      logger.Named("irgraph"),
	}
}

// AddNode adds a node. An existing node keeps its fields, but gains a
// semantic tag it did not have.
func (s *Store) AddNode(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.nodes[n.ID]; ok {
		if cur.Semantic == SemanticNone {
			cur.Semantic = n.Semantic
		}
		return
	}
	cp := n
	s.nodes[n.ID] = &cp
}

// Tag sets the semantic type of a node.
func (s *Store) Tag(id int, t SemanticType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("node with id '%d' not found", id)
	}
	n.Semantic = t
	return nil
}

// AddEdge adds an edge between existing nodes. It reports false when an
// identical edge is already stored.
func (s *Store) AddEdge(e Edge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[e.From]; !ok {
		return false, fmt.Errorf("source node with id '%d' not found for %s edge", e.From, e.Relation)
	}
	if _, ok := s.nodes[e.To]; !ok {
		return false, fmt.Errorf("destination node with id '%d' not found for %s edge", e.To, e.Relation)
	}
	// Edges sharing a hash are compared field by field.
	key := s.hash(e)
	for _, i := range s.seen[key] {
		if sameEdge(s.edges[i], e) {
			return false, nil
		}
	}
	s.seen[key] = append(s.seen[key], len(s.edges))
	s.outgoing[e.From] = append(s.outgoing[e.From], len(s.edges))
	s.edges = append(s.edges, e)
	return true, nil
}

func sameEdge(a, b Edge) bool {
	return a.From == b.From && a.To == b.To && a.Relation == b.Relation &&
		a.Type == b.Type && maps.Equal(a.Args, b.Args)
}

// edgeKey hashes every field of an edge, with args in key order.
func edgeKey(e Edge) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(e.From))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(e.To))
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(string(e.Relation))
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(e.Type)
	keys := make([]string, 0, len(e.Args))
	for k := range e.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{1})
		_, _ = d.WriteString(e.Args[k])
	}
	return d.Sum64()
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id int) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Outgoing returns the edges leaving a node, in insertion order.
func (s *Store) Outgoing(id int) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.outgoing[id]
	out := make([]Edge, len(idx))
	for i, j := range idx {
		out[i] = s.edges[j]
	}
	return out
}

// Edges returns the edges of one relation, in insertion order.
func (s *Store) Edges(rel Relation) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Edge
	for _, e := range s.edges {
		if e.Relation == rel {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns the number of edges per relation.
func (s *Store) Counts() map[Relation]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Relation]int)
	for _, e := range s.edges {
		out[e.Relation]++
	}
	return out
}

// Len returns the node and edge counts.
func (s *Store) Len() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// Export snapshots the store: nodes ordered by id, edges in insertion order.
func (s *Store) Export(h Header) Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stream{Header: h, Nodes: make([]Node, 0, len(s.nodes)), Edges: make([]Edge, len(s.edges))}
	for _, n := range s.nodes {
		st.Nodes = append(st.Nodes, *n)
	}
	sort.Slice(st.Nodes, func(i, j int) bool { return st.Nodes[i].ID < st.Nodes[j].ID })
	copy(st.Edges, s.edges)
	s.log.Debug("Exported stream.", zap.Int("nodes", len(st.Nodes)), zap.Int("edges", len(st.Edges)))
	return st
}
