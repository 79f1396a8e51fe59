package variables

import (
	"fmt"
	"strings"

	"github.com/jobflow/jobflow/pkg/models"
)

// Graph is the variable dependency DAG: an edge A -> B exists when A's
// value template references <<B>>.
type Graph struct {
	defs  map[string]*models.VariableDefinition
	edges map[string][]string // direct references, first-appearance order
}

// NewGraph builds the dependency graph for a workflow's variable
// definitions and verifies that every reference is defined and that the
// graph is acyclic.
func NewGraph(defs []*models.VariableDefinition) (*Graph, error) {
	g := &Graph{
		defs:  make(map[string]*models.VariableDefinition, len(defs)),
		edges: make(map[string][]string, len(defs)),
	}

	for _, d := range defs {
		g.defs[d.Name] = d
	}

	for _, d := range defs {
		refs := dedupe(ExtractNames(d.Template()))
		for _, r := range refs {
			if _, ok := g.defs[r]; !ok {
				return nil, fmt.Errorf("%w: %q referenced by variable %q", ErrUndefinedVariable, r, d.Name)
			}
		}

		g.edges[d.Name] = refs
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s", ErrCyclicReference, strings.Join(cycle, " -> "))
	}

	return g, nil
}

// Definition returns the definition for name, or nil.
func (g *Graph) Definition(name string) *models.VariableDefinition {
	return g.defs[name]
}

// References returns the distinct direct references of name in
// first-appearance order within its template.
func (g *Graph) References(name string) []string {
	return g.edges[name]
}

// IsBase reports whether the variable references no other variable.
func (g *Graph) IsBase(name string) bool {
	return len(g.edges[name]) == 0
}

// Transitive returns name plus every variable reachable from it.
func (g *Graph) Transitive(name string) []string {
	order := make([]string, 0)
	seen := make(map[string]struct{})

	var walk func(n string)
	walk = func(n string) {
		if _, ok := seen[n]; ok {
			return
		}

		seen[n] = struct{}{}
		order = append(order, n)

		for _, r := range g.edges[n] {
			walk(r)
		}
	}
	walk(name)

	return order
}

// Axes returns the base-variable axes spanning name's value space, in
// canonical order: for a compound variable, the axes of each direct
// reference in first-appearance order, then the variable's own data
// axis when it carries base values. A reference reached through two
// paths contributes one axis: repeated references are bound, not
// multiplied.
func (g *Graph) Axes(name string) []string {
	axes := make([]string, 0)
	seen := make(map[string]struct{})

	var walk func(n string)
	walk = func(n string) {
		for _, r := range g.edges[n] {
			walk(r)
		}

		d := g.defs[n]
		if d != nil && (d.Data != nil || d.IsFileRegex()) {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				axes = append(axes, n)
			}
		}
	}

	// References span the leading (slower) axes; the variable's own data
	// varies fastest.
	d := g.defs[name]
	if d == nil {
		return axes
	}

	for _, r := range g.edges[name] {
		walk(r)
	}

	if d.Data != nil || d.IsFileRegex() {
		if _, ok := seen[name]; !ok {
			axes = append(axes, name)
		}
	}

	return axes
}

func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(g.defs))

	var path []string

	var visit func(n string) []string
	visit = func(n string) []string {
		state[n] = inStack
		path = append(path, n)

		for _, r := range g.edges[n] {
			switch state[r] {
			case inStack:
				return append(path, r)
			case unvisited:
				if cycle := visit(r); cycle != nil {
					return cycle
				}
			}
		}

		state[n] = done
		path = path[:len(path)-1]

		return nil
	}

	for n := range g.defs {
		if state[n] == unvisited {
			path = path[:0]
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}
