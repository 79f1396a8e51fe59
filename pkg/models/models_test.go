package models

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Transitions(t *testing.T) {
	assert.True(t, TaskStatusPending.CanTransition(TaskStatusSubmitted))
	assert.True(t, TaskStatusSubmitted.CanTransition(TaskStatusRunning))
	assert.True(t, TaskStatusRunning.CanTransition(TaskStatusComplete))
	assert.True(t, TaskStatusRunning.CanTransition(TaskStatusFailed))

	// Cancellation before dispatch.
	assert.True(t, TaskStatusPending.CanTransition(TaskStatusFailed))

	// Running requires prior submitted.
	assert.False(t, TaskStatusPending.CanTransition(TaskStatusRunning))

	// Terminal states admit nothing.
	assert.False(t, TaskStatusComplete.CanTransition(TaskStatusRunning))
	assert.False(t, TaskStatusFailed.CanTransition(TaskStatusPending))
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.True(t, TaskStatusComplete.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusSubmitted.IsTerminal())
	assert.False(t, TaskStatusRunning.IsTerminal())
}

func TestWorkflow_ChannelWidth(t *testing.T) {
	wf := &Workflow{
		CommandGroups: []*CommandGroup{
			{ExecOrder: 0, SubOrder: 0},
			{ExecOrder: 0, SubOrder: 1},
			{ExecOrder: 1, SubOrder: 0},
		},
	}

	assert.Equal(t, 2, wf.ChannelWidth())
}

func TestWorkflow_Validation_MissingDirectory(t *testing.T) {
	wf := &Workflow{
		CommandGroups: []*CommandGroup{
			{Commands: []string{"echo hi"}},
		},
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	assert.Error(t, validate.Struct(wf))
}

func TestTaskRange_Indices(t *testing.T) {
	end := 3

	assert.Equal(t, []int{0, 1, 2}, TaskRange{Start: 0, End: &end, Step: 1}.Indices(5))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, AllTasks().Indices(5))
	assert.Equal(t, []int{1, 3}, TaskRange{Start: 1, Step: 2}.Indices(5))

	// End beyond the vector clamps.
	big := 10
	assert.Equal(t, []int{0, 1}, TaskRange{Start: 0, End: &big, Step: 1}.Indices(2))
}

func TestValueType_Cast(t *testing.T) {
	v, err := ValueTypeInt.Cast("042")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	_, err = ValueTypeInt.Cast("x")
	assert.Error(t, err)

	v, err = ValueTypeBool.Cast("1")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	v, err = ValueTypeString.Cast("anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", v)

	_, err = ValueType("complex").Cast("1")
	assert.ErrorIs(t, err, ErrInvalidValueType)
}

func TestDeclaration_Normalize_OptionPrecedence(t *testing.T) {
	execOne := 1
	groupArray := false

	decl := &Declaration{
		Options:   map[string]string{"pe": "smp 4", "l": "short"},
		Modules:   []string{"apps/python"},
		Directory: "profile-dir",
		CommandGroups: []DeclarationGroup{
			{
				Commands: []string{"echo one"},
				Options:  map[string]string{"l": "long"},
				JobArray: &groupArray,
			},
			{
				Commands:  []string{"echo two"},
				ExecOrder: &execOne,
				Directory: "group-dir",
			},
		},
		Variables: map[string]DeclarationVariable{
			"n": {Value: "{:d}", Data: []any{1, 2}},
		},
	}

	wf, err := decl.Normalize("/work", Overrides{})
	require.NoError(t, err)
	require.Len(t, wf.CommandGroups, 2)

	first := wf.CommandGroups[0]
	assert.Equal(t, 0, first.ExecOrder)
	assert.Equal(t, map[string]string{"pe": "smp 4", "l": "long"}, first.SchedulerOptions)
	assert.False(t, first.JobArray)
	assert.Equal(t, "profile-dir", first.Directory)

	second := wf.CommandGroups[1]
	assert.Equal(t, 1, second.ExecOrder)
	assert.True(t, second.JobArray)
	assert.Equal(t, "group-dir", second.Directory)

	require.Len(t, wf.Variables, 1)
	assert.Equal(t, []string{"1", "2"}, wf.Variables[0].Data)
}

func TestDeclaration_Normalize_CallSiteOverrideWins(t *testing.T) {
	siteArray := false

	decl := &Declaration{
		CommandGroups: []DeclarationGroup{
			{Commands: []string{"echo hi"}},
		},
	}

	wf, err := decl.Normalize("/work", Overrides{
		Directory: "site-dir",
		Options:   map[string]string{"q": "batch"},
		JobArray:  &siteArray,
	})
	require.NoError(t, err)

	g := wf.CommandGroups[0]
	assert.Equal(t, "site-dir", g.Directory)
	assert.Equal(t, "batch", g.SchedulerOptions["q"])
	assert.False(t, g.JobArray)
}
