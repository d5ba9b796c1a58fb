// internal/analysis/callgraph/names.go
package callgraph

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// Provenance says how a call edge was resolved.
type Provenance string

const (
	Direct  Provenance = "direct"
	Alias   Provenance = "alias"
	Call    Provenance = "call"
	Apply   Provenance = "apply"
	Then    Provenance = "then"
	Timeout Provenance = "timeout"
)

// entry is one function bound under a name.
type entry struct {
	fn  *jsast.Node
	via Provenance
}

// nameMap is the flat name to function map. Keys are dotted paths with any
// prototype segment removed.
type nameMap struct {
	keys map[string][]entry
	seen map[string]map[int]bool
}

func newNameMap() *nameMap {
	return &nameMap{
		keys: make(map[string][]entry),
		seen: make(map[string]map[int]bool),
	}
}

// add binds fn under key and reports whether the binding is new.
func (m *nameMap) add(key string, fn *jsast.Node, via Provenance) bool {
	if key == "" || fn == nil {
		return false
	}
	ids, ok := m.seen[key]
	if !ok {
		ids = make(map[int]bool)
		m.seen[key] = ids
	}
	if ids[fn.ID] {
		return false
	}
	ids[fn.ID] = true
	m.keys[key] = append(m.keys[key], entry{fn: fn, via: via})
	return true
}

func (m *nameMap) lookup(key string) []entry {
	return m.keys[key]
}

func (m *nameMap) sortedKeys() []string {
	out := make([]string, 0, len(m.keys))
	for k := range m.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *nameMap) len() int { return len(m.keys) }

// normalize drops prototype segments, so C.prototype.m and C.m share a key.
func normalize(path []string) string {
	kept := make([]string, 0, len(path))
	for _, seg := range path {
		if seg == "prototype" || seg == "" {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, ".")
}

// nameOf is the normalized dotted key of a static reference, or "".
func nameOf(n *jsast.Node) string {
	path := jsast.MemberPath(n)
	if len(path) == 0 {
		return ""
	}
	return normalize(path)
}

// substitute replaces every whole-segment occurrence of actual in key with
// alias. The second result is false when actual does not occur.
func substitute(key, actual, alias string) (string, bool) {
	if actual == "" || alias == "" {
		return "", false
	}
	ks := strings.Split(key, ".")
	as := strings.Split(actual, ".")
	var out []string
	found := false
	for i := 0; i < len(ks); {
		if i+len(as) <= len(ks) && equalSegments(ks[i:i+len(as)], as) {
			out = append(out, alias)
			i += len(as)
			found = true
			continue
		}
		out = append(out, ks[i])
		i++
	}
	if !found {
		return "", false
	}
	return strings.Join(out, "."), true
}

func equalSegments(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
