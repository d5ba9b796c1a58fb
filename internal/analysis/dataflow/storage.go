// internal/analysis/dataflow/storage.go
package dataflow

import (
	"strings"

	"github.com/xkilldash9x/jaw/internal/analysis/flow"
	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

var storageWriters = map[string]bool{
	"setItem":    true,
	"removeItem": true,
	"clear":      true,
}

var arrayMutators = map[string]bool{
	"push":    true,
	"pop":     true,
	"shift":   true,
	"unshift": true,
	"splice":  true,
}

func isMutator(method string) bool {
	if arrayMutators[method] {
		return true
	}
	lower := strings.ToLower(method)
	return strings.Contains(lower, "append") || strings.Contains(lower, "remove")
}

// StorageAccess reports whether a flow node writes to or reads from a
// client-side storage handle.
func StorageAccess(n *flow.Node, res Resolver) (write, read bool) {
	v := &visitor{l: &local{res: res}, n: n}
	return v.storage(Operands(n))
}

func (v *visitor) storage(exprs []*jsast.Node) (write, read bool) {
	merge := func(w, r bool) {
		write, read = write || w, read || r
	}
	for _, e := range exprs {
		jsast.InspectShallow(e, func(c *jsast.Node) bool {
			if c.Kind.IsFunction() || c.Kind == jsast.ClassExpression {
				return false
			}
			switch c.Kind {
			case jsast.CallExpression:
				callee := c.Callee
				if callee == nil || callee.Kind != jsast.MemberExpression || !v.onStorage(callee.Object) {
					return true
				}
				method, _ := jsast.PropertyName(callee)
				merge(storageWriters[method], !storageWriters[method])
				// The callee chain is not a property read of its own.
				merge(v.storage(c.Arguments))
				return false
			case jsast.AssignmentExpression:
				if c.Left != nil && c.Left.Kind == jsast.MemberExpression && v.onStorage(c.Left.Object) {
					merge(true, false)
					merge(v.storage([]*jsast.Node{c.Right}))
					return false
				}
			case jsast.MemberExpression:
				if v.onStorage(c.Object) {
					merge(false, true)
					return false
				}
			}
			return true
		})
	}
	return write, read
}

// onStorage reports whether e evaluates to a storage handle.
func (v *visitor) onStorage(e *jsast.Node) bool {
	if e == nil {
		return false
	}
	if e.Kind == jsast.MemberExpression || e.Kind == jsast.Identifier {
		base := v.baseVar(e)
		if base == nil || base.Host() != scope.HostStorage {
			return false
		}
		// localStorage itself, or window.localStorage.
		return e.Kind == jsast.Identifier || (base.Name() == propertyName(e))
	}
	return false
}

func propertyName(m *jsast.Node) string {
	name, _ := jsast.PropertyName(m)
	return name
}
