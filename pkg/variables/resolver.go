package variables

import (
	"fmt"

	"github.com/jobflow/jobflow/pkg/models"
)

// Matrix is the resolved value matrix of one command group: one column
// per referenced variable, rows equal to the bound product length. Row k
// supplies the values for task k.
type Matrix struct {
	// Names is the column order: distinct references across the group's
	// commands and directory template, in first-appearance order.
	Names []string

	Columns map[string][]string

	Length int
}

// Row returns the bound values for task index k.
func (m *Matrix) Row(k int) map[string]string {
	row := make(map[string]string, len(m.Names))
	for _, n := range m.Names {
		row[n] = m.Columns[n][k]
	}

	return row
}

// Resolver resolves variable values against working directories. The
// same resolver drives both phases: at submit time file-regex scans that
// find nothing leave their variables deferred; at runtime the same scan
// failing is a resolution error.
type Resolver struct {
	graph *Graph

	// scanned caches file-regex scan results per variable name.
	scanned map[string][]string
}

// NewResolver builds a resolver over a validated graph.
func NewResolver(graph *Graph) *Resolver {
	return &Resolver{
		graph:   graph,
		scanned: make(map[string][]string),
	}
}

// baseValues returns the raw base values of a variable: its literal data
// or its scanned file matches. deferred is true when a file-regex scan
// found nothing, which at submit time postpones resolution to runtime.
func (r *Resolver) baseValues(name string, dir string) (values []string, deferred bool, err error) {
	d := r.graph.Definition(name)

	if d.IsFileRegex() {
		if cached, ok := r.scanned[name]; ok {
			return cached, len(cached) == 0, nil
		}

		values, err = ScanFileRegex(d.FileRegex, dir)
		if err != nil {
			return nil, false, &ResolutionError{Name: name, Phase: "runtime", Err: err}
		}

		r.scanned[name] = values

		return values, len(values) == 0, nil
	}

	return d.Data, false, nil
}

// Deferred reports whether any variable reachable from the given names
// cannot be resolved yet because a file-regex scan is pending. Variables
// transitively depending on a deferred variable are themselves deferred.
func (r *Resolver) Deferred(names []string, dir string) (bool, error) {
	for _, name := range names {
		for _, n := range r.graph.Transitive(name) {
			d := r.graph.Definition(n)
			if d == nil {
				return false, fmt.Errorf("%w: %q", ErrUndefinedVariable, n)
			}

			if !d.IsFileRegex() {
				continue
			}

			_, deferred, err := r.baseValues(n, dir)
			if err != nil {
				return false, err
			}

			if deferred {
				return true, nil
			}
		}
	}

	return false, nil
}

// ResolveMatrix computes the bound value matrix for a command group: the
// joint product over the base-variable axes reachable from the group's
// referenced variables, with every column evaluated row-wise against the
// same product tuple. Repeated references share a column.
func (r *Resolver) ResolveMatrix(group *models.CommandGroup, workflowDir string) (*Matrix, error) {
	dir := group.EffectiveDirectory(workflowDir)
	names := CommandNames(group.Commands, group.Directory)

	for _, n := range names {
		if r.graph.Definition(n) == nil {
			return nil, fmt.Errorf("%w: %q referenced by command group %d", ErrUndefinedVariable, n, group.GroupIndex)
		}
	}

	axes, lengths, axisValues, err := r.axisSpace(names, dir)
	if err != nil {
		return nil, err
	}

	length := 1
	for _, l := range lengths {
		length *= l
	}

	m := &Matrix{
		Names:   names,
		Columns: make(map[string][]string, len(names)),
		Length:  length,
	}

	for k := 0; k < length; k++ {
		assignment := decompose(k, axes, lengths)

		for _, n := range names {
			v, err := r.valueAt(n, assignment, axisValues)
			if err != nil {
				return nil, err
			}

			m.Columns[n] = append(m.Columns[n], v)
		}
	}

	return m, nil
}

// axisSpace collects the deduped base axes spanning the given variables,
// resolving each axis's value vector. A zero-length axis is fatal: the
// product would yield no tasks.
func (r *Resolver) axisSpace(names []string, dir string) ([]string, []int, map[string][]string, error) {
	axes := make([]string, 0)
	seen := make(map[string]struct{})

	for _, n := range names {
		for _, a := range r.graph.Axes(n) {
			if _, ok := seen[a]; ok {
				continue
			}

			seen[a] = struct{}{}
			axes = append(axes, a)
		}
	}

	lengths := make([]int, len(axes))
	axisValues := make(map[string][]string, len(axes))

	for i, a := range axes {
		values, _, err := r.baseValues(a, dir)
		if err != nil {
			return nil, nil, nil, err
		}

		if len(values) == 0 {
			return nil, nil, nil, &ResolutionError{
				Name:  a,
				Phase: "runtime",
				Err:   fmt.Errorf("%w: variable %q", ErrZeroLengthValues, a),
			}
		}

		lengths[i] = len(values)
		axisValues[a] = values
	}

	return axes, lengths, axisValues, nil
}

// valueAt evaluates one variable against a product tuple. Base
// variables format their assigned base value; compound variables first
// substitute their references evaluated against the same tuple, so a
// reference appearing several times receives the same value.
func (r *Resolver) valueAt(name string, assignment map[string]int, axisValues map[string][]string) (string, error) {
	d := r.graph.Definition(name)
	template := d.Template()

	refs := r.graph.References(name)
	if len(refs) > 0 {
		subs := make(map[string]string, len(refs))

		for _, ref := range refs {
			v, err := r.valueAt(ref, assignment, axisValues)
			if err != nil {
				return "", err
			}

			subs[ref] = v
		}

		template = Substitute(template, subs)
	}

	values, ok := axisValues[name]
	if !ok {
		// Sourced by templating alone: the substituted template is the
		// value.
		return template, nil
	}

	v, err := FormatValue(template, values[assignment[name]])
	if err != nil {
		return "", &ResolutionError{Name: name, Phase: "runtime", Err: err}
	}

	return v, nil
}

// decompose maps row index k onto per-axis indices, rightmost axis
// varying fastest.
func decompose(k int, axes []string, lengths []int) map[string]int {
	assignment := make(map[string]int, len(axes))

	for i := len(axes) - 1; i >= 0; i-- {
		assignment[axes[i]] = k % lengths[i]
		k /= lengths[i]
	}

	return assignment
}

// Multiplicity estimates a command group's task count at submit time
// without resolving values: the product over its axes of data lengths,
// subset sizes, or expected multiplicities. known is false when a
// file-regex axis gives no submit-time size.
func (r *Resolver) Multiplicity(group *models.CommandGroup) (count int, known bool) {
	names := CommandNames(group.Commands, group.Directory)

	axes := make([]string, 0)
	seen := make(map[string]struct{})

	for _, n := range names {
		for _, a := range r.graph.Axes(n) {
			if _, ok := seen[a]; ok {
				continue
			}

			seen[a] = struct{}{}
			axes = append(axes, a)
		}
	}

	count = 1

	for _, a := range axes {
		d := r.graph.Definition(a)

		switch {
		case len(d.Data) > 0:
			count *= len(d.Data)
		case d.IsFileRegex() && len(d.FileRegex.Subset) > 0:
			count *= len(d.FileRegex.Subset)
		case d.IsFileRegex() && d.FileRegex.ExpectedMultiplicity > 0:
			count *= d.FileRegex.ExpectedMultiplicity
		case d.IsFileRegex():
			if scanned, ok := r.scanned[a]; ok && len(scanned) > 0 {
				count *= len(scanned)
				continue
			}

			return 0, false
		}
	}

	return count, true
}

// ValidateDefinitions checks a workflow's variable declarations: every
// reference defined, the graph acyclic, every command reference defined,
// and value templates consistent with their base values.
func ValidateDefinitions(wf *models.Workflow) error {
	graph, err := NewGraph(wf.Variables)
	if err != nil {
		return err
	}

	for _, g := range wf.CommandGroups {
		for _, n := range CommandNames(g.Commands, g.Directory) {
			if graph.Definition(n) == nil {
				return fmt.Errorf("%w: %q referenced by command group %d", ErrUndefinedVariable, n, g.GroupIndex)
			}
		}
	}

	for _, d := range wf.Variables {
		hasBase := len(d.Data) > 0 || d.IsFileRegex()
		if err := ValidateTemplate(d.Template(), hasBase); err != nil {
			return fmt.Errorf("variable %q: %w", d.Name, err)
		}
	}

	return nil
}
