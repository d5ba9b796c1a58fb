// internal/analysis/flow/vardef.go
package flow

import (
	"fmt"

	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// DefType tags what a definition binds.
type DefType uint8

const (
	DefObject DefType = iota
	DefFunction
	DefLiteral
	DefUndefined
	DefDOM
	DefStorage
)

func (t DefType) String() string {
	switch t {
	case DefObject:
		return "object"
	case DefFunction:
		return "function"
	case DefLiteral:
		return "literal"
	case DefUndefined:
		return "undefined"
	case DefDOM:
		return "dom-handle"
	case DefStorage:
		return "storage-handle"
	}
	return "unknown"
}

// Def is one definition site.
type Def struct {
	ID   int
	Type DefType
	// Node is the flow node that generates the definition.
	Node NodeID
	// Actual is the textual origin of hoisted definitions, which are
	// generated at the entry node but written elsewhere.
	Actual *jsast.Node
	// Target is the function node a function-typed definition binds.
	Target *jsast.Node
	Range  jsast.Range
}

// VarDef is the fact "Var may hold Def here".
type VarDef struct {
	Var *scope.Var
	Def *Def

	index uint32
}

func (vd *VarDef) String() string {
	return fmt.Sprintf("(%s, %s@%d)", vd.Var, vd.Def.Type, vd.Def.Node)
}

type defKey struct {
	node   NodeID
	typ    DefType
	target int
	actual int
}

type varDefKey struct {
	varID int
	defID int
}

// Universe interns the definitions and VarDefs of one graph, so that sets
// can be stored as bitmaps over VarDef indexes. Interning makes GEN
// computation idempotent across fixpoint iterations.
type Universe struct {
	defs    map[defKey]*Def
	index   map[varDefKey]*VarDef
	vardefs []*VarDef
}

// NewUniverse returns an empty Universe.
func NewUniverse() *Universe {
	return &Universe{
		defs:  make(map[defKey]*Def),
		index: make(map[varDefKey]*VarDef),
	}
}

// Def returns the interned definition for the given site.
func (u *Universe) Def(node NodeID, typ DefType, actual, target *jsast.Node, rng jsast.Range) *Def {
	key := defKey{node: node, typ: typ, target: nodeID(target), actual: nodeID(actual)}
	if d, ok := u.defs[key]; ok {
		return d
	}
	d := &Def{ID: len(u.defs) + 1, Type: typ, Node: node, Actual: actual, Target: target, Range: rng}
	u.defs[key] = d
	return d
}

func nodeID(n *jsast.Node) int {
	if n == nil {
		return 0
	}
	return n.ID
}

// VarDef returns the interned pair.
func (u *Universe) VarDef(v *scope.Var, d *Def) *VarDef {
	key := varDefKey{varID: v.ID(), defID: d.ID}
	if vd, ok := u.index[key]; ok {
		return vd
	}
	vd := &VarDef{Var: v, Def: d, index: uint32(len(u.vardefs))}
	u.vardefs = append(u.vardefs, vd)
	u.index[key] = vd
	return vd
}

// At returns the VarDef with the given index.
func (u *Universe) At(i uint32) *VarDef {
	return u.vardefs[i]
}

// Len is the number of interned VarDefs.
func (u *Universe) Len() int {
	return len(u.vardefs)
}
