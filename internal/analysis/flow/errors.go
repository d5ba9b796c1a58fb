// internal/analysis/flow/errors.go
package flow

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/jaw/internal/jsast"
)

// ErrMalformed is wrapped by every BuildError.
var ErrMalformed = errors.New("malformed syntax for control flow")

// BuildError reports a subtree that could not be turned into a flow graph.
type BuildError struct {
	Scope  string
	NodeID int
	Kind   jsast.Kind
	Pos    jsast.Position
	Reason string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("cfg %s: %s at %s (node %d, %s)", e.Scope, e.Reason, e.Pos, e.NodeID, e.Kind)
}

// Unwrap lets callers test for ErrMalformed with errors.Is.
func (e *BuildError) Unwrap() error {
	return ErrMalformed
}

// malformed is the panic payload raised inside the builder walk.
type malformed struct {
	node   *jsast.Node
	reason string
}

func fail(n *jsast.Node, format string, args ...any) {
	panic(malformed{node: n, reason: fmt.Sprintf(format, args...)})
}
