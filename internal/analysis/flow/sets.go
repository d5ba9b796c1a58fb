// internal/analysis/flow/sets.go
package flow

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/xkilldash9x/jaw/internal/analysis/scope"
)

// VarDefSet is a set of VarDefs of one Universe, backed by a compressed
// bitmap over VarDef indexes. The zero value is an empty set that must be
// given a Universe before use; NewVarDefSet does that.
type VarDefSet struct {
	u  *Universe
	bm *roaring.Bitmap
}

// NewVarDefSet returns an empty set over u.
func NewVarDefSet(u *Universe) VarDefSet {
	return VarDefSet{u: u, bm: roaring.New()}
}

func (s VarDefSet) bitmap() *roaring.Bitmap {
	if s.bm == nil {
		return roaring.New()
	}
	return s.bm
}

// Add inserts vd.
func (s VarDefSet) Add(vd *VarDef) {
	s.bm.Add(vd.index)
}

// Contains reports membership.
func (s VarDefSet) Contains(vd *VarDef) bool {
	return s.bm != nil && s.bm.Contains(vd.index)
}

// Len is the set cardinality.
func (s VarDefSet) Len() int {
	if s.bm == nil {
		return 0
	}
	return int(s.bm.GetCardinality())
}

// IsEmpty reports whether the set has no members.
func (s VarDefSet) IsEmpty() bool {
	return s.bm == nil || s.bm.IsEmpty()
}

// Equal reports set equality.
func (s VarDefSet) Equal(o VarDefSet) bool {
	return s.bitmap().Equals(o.bitmap())
}

// Clone returns an independent copy.
func (s VarDefSet) Clone() VarDefSet {
	return VarDefSet{u: s.u, bm: s.bitmap().Clone()}
}

// UnionWith adds every member of o to s.
func (s VarDefSet) UnionWith(o VarDefSet) {
	if o.bm != nil {
		s.bm.Or(o.bm)
	}
}

// Union returns s ∪ o.
func (s VarDefSet) Union(o VarDefSet) VarDefSet {
	return VarDefSet{u: s.u, bm: roaring.Or(s.bitmap(), o.bitmap())}
}

// Difference returns s − o.
func (s VarDefSet) Difference(o VarDefSet) VarDefSet {
	return VarDefSet{u: s.u, bm: roaring.AndNot(s.bitmap(), o.bitmap())}
}

// IsSubsetOf reports whether every member of s is in o.
func (s VarDefSet) IsSubsetOf(o VarDefSet) bool {
	return roaring.AndNot(s.bitmap(), o.bitmap()).IsEmpty()
}

// Filter returns the members for which keep returns true.
func (s VarDefSet) Filter(keep func(*VarDef) bool) VarDefSet {
	out := NewVarDefSet(s.u)
	s.Each(func(vd *VarDef) {
		if keep(vd) {
			out.bm.Add(vd.index)
		}
	})
	return out
}

// Each visits the members in index order.
func (s VarDefSet) Each(fn func(*VarDef)) {
	if s.bm == nil {
		return
	}
	it := s.bm.Iterator()
	for it.HasNext() {
		fn(s.u.At(it.Next()))
	}
}

// Slice returns the members in index order.
func (s VarDefSet) Slice() []*VarDef {
	out := make([]*VarDef, 0, s.Len())
	s.Each(func(vd *VarDef) { out = append(out, vd) })
	return out
}

// VarSet is a set of variable handles, used for use sets and for the
// variables a node assigns.
type VarSet struct {
	bm   *roaring.Bitmap
	vars map[int]*scope.Var
}

// NewVarSet returns an empty set.
func NewVarSet() VarSet {
	return VarSet{bm: roaring.New(), vars: make(map[int]*scope.Var)}
}

// Add inserts v.
func (s VarSet) Add(v *scope.Var) {
	s.bm.Add(uint32(v.ID()))
	s.vars[v.ID()] = v
}

// Contains reports membership.
func (s VarSet) Contains(v *scope.Var) bool {
	return s.bm != nil && v != nil && s.bm.Contains(uint32(v.ID()))
}

// Len is the set cardinality.
func (s VarSet) Len() int {
	if s.bm == nil {
		return 0
	}
	return int(s.bm.GetCardinality())
}

// Vars returns the members ordered by id.
func (s VarSet) Vars() []*scope.Var {
	if s.bm == nil {
		return nil
	}
	out := make([]*scope.Var, 0, s.Len())
	it := s.bm.Iterator()
	for it.HasNext() {
		out = append(out, s.vars[int(it.Next())])
	}
	return out
}
