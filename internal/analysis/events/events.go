// internal/analysis/events/events.go
// Package events finds event handler registrations and event dispatches,
// and links each dispatch to the handlers registered for the same receiver
// and event.
package events

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/jaw/internal/analysis/scope"
	"github.com/xkilldash9x/jaw/internal/jsast"
)

// KeySeparator joins a receiver identity and an event name.
const KeySeparator = "___"

// Key returns the registration key of an event on a receiver.
func Key(receiver, event string) string {
	return receiver + KeySeparator + event
}

// Registration is one handler subscribed to an event.
type Registration struct {
	Key      string
	Receiver string
	Event    string
	// Site is the addEventListener call or the on-property assignment.
	Site *jsast.Node
	// Handler is the function that runs, nil when it did not resolve.
	Handler *jsast.Node
	Scope   *scope.Scope
}

// Dispatch is one site that fires an event.
type Dispatch struct {
	Receiver string
	// Event is empty when the event name is not static; such dispatches
	// match every event registered on the receiver.
	Event string
	Site  *jsast.Node
}

// Key returns the registration key the dispatch looks up.
func (d *Dispatch) Key() string { return Key(d.Receiver, d.Event) }

// Dependency links a dispatch to a handler it runs. Statement is nil for
// the edge to the handler itself, else one top-level statement of the
// handler body.
type Dependency struct {
	Dispatch     *Dispatch
	Registration *Registration
	Statement    *jsast.Node
}

// Graph is the event registration and dispatch graph of a program.
type Graph struct {
	Registrations []*Registration
	Dispatches    []*Dispatch
	Dependencies  []Dependency

	byKey map[string][]*Registration
}

func newGraph() *Graph {
	return &Graph{byKey: make(map[string][]*Registration)}
}

func (g *Graph) register(r *Registration) {
	g.Registrations = append(g.Registrations, r)
	g.byKey[r.Key] = append(g.byKey[r.Key], r)
}

// Lookup returns the registrations under a key.
func (g *Graph) Lookup(key string) []*Registration {
	return g.byKey[key]
}

// Keys returns every registration key, sorted.
func (g *Graph) Keys() []string {
	out := make([]string, 0, len(g.byKey))
	for k := range g.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Matching returns the registrations a dispatch reaches. A dispatch with no
// static event name falls back to every key of its receiver.
func (g *Graph) Matching(d *Dispatch) []*Registration {
	if d.Event != "" {
		return g.byKey[d.Key()]
	}
	prefix := d.Receiver + KeySeparator
	var out []*Registration
	for _, k := range g.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, g.byKey[k]...)
		}
	}
	return out
}

// Handlers returns the distinct resolved handler scopes, ordered by id.
func (g *Graph) Handlers() []*scope.Scope {
	seen := make(map[*scope.Scope]bool)
	var out []*scope.Scope
	for _, r := range g.Registrations {
		if r.Scope != nil && !seen[r.Scope] {
			seen[r.Scope] = true
			out = append(out, r.Scope)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// link emits the dependencies of every dispatch.
func (g *Graph) link() {
	for _, d := range g.Dispatches {
		for _, r := range g.Matching(d) {
			if r.Handler == nil {
				continue
			}
			g.Dependencies = append(g.Dependencies, Dependency{Dispatch: d, Registration: r})
			for _, stmt := range jsast.BodyStatements(r.Handler) {
				g.Dependencies = append(g.Dependencies, Dependency{Dispatch: d, Registration: r, Statement: stmt})
			}
		}
	}
}

// HandlerScopes returns the handler scopes registered in one file.
func (g *Graph) HandlerScopes(file *scope.Scope) []*scope.Scope {
	var out []*scope.Scope
	for _, s := range g.Handlers() {
		if s.File() == file {
			out = append(out, s)
		}
	}
	return out
}
