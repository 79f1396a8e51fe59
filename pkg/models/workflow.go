// Package models defines the core domain models for declarative
// HPC workflow submission.
package models

import (
	"time"
)

// Workflow is the root aggregate: an immutable declaration of command
// groups and variable definitions, persisted with a working directory.
// Task state is mutable; the declaration is not.
type Workflow struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Directory is the absolute working directory shared by all tasks.
	Directory string `gorm:"not null" json:"directory" validate:"required"`

	CommandGroups []*CommandGroup       `gorm:"constraint:OnDelete:CASCADE" json:"command_groups" validate:"required,min=1,dive"`
	Variables     []*VariableDefinition `gorm:"constraint:OnDelete:CASCADE" json:"variables"      validate:"dive"`
	Submissions   []*Submission         `gorm:"constraint:OnDelete:CASCADE" json:"submissions,omitempty"`
	Iterations    []*Iteration          `gorm:"constraint:OnDelete:CASCADE" json:"iterations,omitempty"`
}

// VariableByName returns the definition for name, or nil.
func (w *Workflow) VariableByName(name string) *VariableDefinition {
	for _, v := range w.Variables {
		if v.Name == name {
			return v
		}
	}

	return nil
}

// GroupsByExecOrder returns the command groups at the given execution
// order in declaration order.
func (w *Workflow) GroupsByExecOrder(execOrder int) []*CommandGroup {
	groups := make([]*CommandGroup, 0)

	for _, g := range w.CommandGroups {
		if g.ExecOrder == execOrder {
			groups = append(groups, g)
		}
	}

	return groups
}

// MinExecOrder returns the lowest execution order present.
func (w *Workflow) MinExecOrder() int {
	if len(w.CommandGroups) == 0 {
		return 0
	}

	minExec := w.CommandGroups[0].ExecOrder
	for _, g := range w.CommandGroups {
		if g.ExecOrder < minExec {
			minExec = g.ExecOrder
		}
	}

	return minExec
}

// ChannelWidth is the number of distinct sub orders at the minimum
// execution order. Task-range lists supplied at submit time must match it.
func (w *Workflow) ChannelWidth() int {
	channels := make(map[int]struct{})

	minExec := w.MinExecOrder()
	for _, g := range w.CommandGroups {
		if g.ExecOrder == minExec {
			channels[g.SubOrder] = struct{}{}
		}
	}

	return len(channels)
}

// CommandGroup is one jobscript's worth of templated shell commands,
// placed on a channel (sub order) at an execution order.
type CommandGroup struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	WorkflowID uint `gorm:"index"      json:"workflow_id"`

	// GroupIndex is the declaration position within the workflow.
	GroupIndex int `gorm:"not null" json:"group_index"`

	ExecOrder int `gorm:"not null" json:"exec_order" validate:"gte=0"`
	SubOrder  int `gorm:"not null" json:"sub_order"  validate:"gte=0"`

	// Commands are shell templates with <<name>> placeholders.
	Commands []string `gorm:"serializer:json;not null" json:"commands" validate:"required,min=1"`

	// Directory optionally overrides the workflow working directory and
	// may itself embed <<name>> placeholders.
	Directory string `json:"directory,omitempty"`

	// SchedulerOptions is an opaque mapping rendered into the jobscript
	// header by the bridge.
	SchedulerOptions map[string]string `gorm:"serializer:json" json:"scheduler_options,omitempty"`

	Modules []string `gorm:"serializer:json" json:"modules,omitempty"`

	// JobArray selects array-task iteration; otherwise the jobscript
	// iterates its value rows in a shell loop.
	JobArray bool `json:"job_array"`

	// ParallelVariables ties the group to its value matrix row-wise: task
	// k reads row k of every bound variable file.
	ParallelVariables bool `json:"parallel_variables"`

	// Archive requests a working-directory archive hook after each task.
	Archive bool `json:"archive"`

	// Profile provenance, when the declaration came from a profile file.
	ProfileName  string `json:"profile_name,omitempty"`
	ProfileOrder int    `json:"profile_order,omitempty"`

	Tasks []*Task `gorm:"constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
}

// EffectiveDirectory is the group working directory after applying the
// override precedence (group override beats the workflow directory).
func (g *CommandGroup) EffectiveDirectory(workflowDir string) string {
	if g.Directory != "" {
		return g.Directory
	}

	return workflowDir
}
