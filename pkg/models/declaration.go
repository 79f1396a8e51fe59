package models

import (
	"fmt"
	"sort"
)

// Declaration is the parsed workflow spec document. Profile parsing and
// inheritance happen outside the core; what arrives here is the merged
// document plus any explicit call-site overrides.
type Declaration struct {
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	CommandGroups []DeclarationGroup             `json:"command_groups" yaml:"command_groups" validate:"required,min=1,dive"`
	Variables     map[string]DeclarationVariable `json:"variables"      yaml:"variables"`

	// Profile-level defaults, overridable per group and per call site.
	Options   map[string]string `json:"options,omitempty"   yaml:"options,omitempty"`
	Directory string            `json:"directory,omitempty" yaml:"directory,omitempty"`
	Modules   []string          `json:"modules,omitempty"   yaml:"modules,omitempty"`
	JobArray  *bool             `json:"job_array,omitempty" yaml:"job_array,omitempty"`

	ProfileName  string `json:"profile_name,omitempty"  yaml:"profile_name,omitempty"`
	ProfileOrder int    `json:"profile_order,omitempty" yaml:"profile_order,omitempty"`
}

// DeclarationGroup is one command group as declared.
type DeclarationGroup struct {
	Commands []string `json:"commands" yaml:"commands" validate:"required,min=1"`

	ExecOrder *int `json:"exec_order,omitempty" yaml:"exec_order,omitempty"`
	SubOrder  *int `json:"sub_order,omitempty"  yaml:"sub_order,omitempty"`

	Options   map[string]string `json:"options,omitempty"   yaml:"options,omitempty"`
	Directory string            `json:"directory,omitempty" yaml:"directory,omitempty"`
	Modules   []string          `json:"modules,omitempty"   yaml:"modules,omitempty"`
	JobArray  *bool             `json:"job_array,omitempty" yaml:"job_array,omitempty"`

	Parallel DeclarationParallel `json:"parallel,omitempty" yaml:"parallel,omitempty"`

	Archive bool `json:"archive,omitempty" yaml:"archive,omitempty"`
}

// DeclarationParallel carries the parallel.variables switch.
type DeclarationParallel struct {
	Variables bool `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// DeclarationVariable is one variable as declared: a value template plus
// at most one of data or file_regex.
type DeclarationVariable struct {
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Data values may be scalars of any YAML type; they are normalized
	// to strings before formatting.
	Data []any `json:"data,omitempty" yaml:"data,omitempty"`

	FileRegex *FileRegex `json:"file_regex,omitempty" yaml:"file_regex,omitempty"`
}

// Overrides are explicit call-site settings, the highest level of the
// option precedence: profile default, group override, call-site
// override.
type Overrides struct {
	Options   map[string]string
	Directory string
	Modules   []string
	JobArray  *bool
}

// Normalize expands a declaration into a workflow aggregate rooted at
// workingDir, applying option inheritance, defaults, and canonical
// ordering. Groups without an exec order take their declaration index;
// a missing sub order is channel 0.
func (d *Declaration) Normalize(workingDir string, overrides Overrides) (*Workflow, error) {
	if len(d.CommandGroups) == 0 {
		return nil, fmt.Errorf("declaration has no command groups")
	}

	wf := &Workflow{Directory: workingDir}

	for idx, dg := range d.CommandGroups {
		execOrder := idx
		if dg.ExecOrder != nil {
			execOrder = *dg.ExecOrder
		}

		subOrder := 0
		if dg.SubOrder != nil {
			subOrder = *dg.SubOrder
		}

		group := &CommandGroup{
			GroupIndex:        idx,
			ExecOrder:         execOrder,
			SubOrder:          subOrder,
			Commands:          append([]string(nil), dg.Commands...),
			Directory:         firstNonEmpty(overrides.Directory, dg.Directory, d.Directory),
			SchedulerOptions:  mergeOptions(d.Options, dg.Options, overrides.Options),
			Modules:           firstNonNil(overrides.Modules, dg.Modules, d.Modules),
			JobArray:          firstBool(overrides.JobArray, dg.JobArray, d.JobArray, true),
			ParallelVariables: dg.Parallel.Variables,
			Archive:           dg.Archive,
			ProfileName:       d.ProfileName,
			ProfileOrder:      d.ProfileOrder,
		}

		wf.CommandGroups = append(wf.CommandGroups, group)
	}

	for name, dv := range d.Variables {
		def := &VariableDefinition{
			Name:      name,
			FileRegex: dv.FileRegex,
			Value:     dv.Value,
		}

		if def.Value == "" {
			def.Value = DefaultValueTemplate
		}

		for _, v := range dv.Data {
			def.Data = append(def.Data, fmt.Sprint(v))
		}

		wf.Variables = append(wf.Variables, def)
	}

	sortVariables(wf.Variables)

	return wf, nil
}

func sortVariables(defs []*VariableDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
}

// mergeOptions layers option maps lowest precedence first; a key set at
// a higher level wins.
func mergeOptions(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)

	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	if len(merged) == 0 {
		return nil
	}

	return merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func firstNonNil(values ...[]string) []string {
	for _, v := range values {
		if v != nil {
			return append([]string(nil), v...)
		}
	}

	return nil
}

func firstBool(values ...any) bool {
	for _, v := range values {
		switch b := v.(type) {
		case *bool:
			if b != nil {
				return *b
			}
		case bool:
			return b
		}
	}

	return true
}
