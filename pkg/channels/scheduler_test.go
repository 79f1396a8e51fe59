package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobflow/jobflow/pkg/models"
)

// fixedMultiplicities sizes groups for tests, keyed by group index; a
// group absent from the map has unknown size.
type fixedMultiplicities map[int]int

func (m fixedMultiplicities) Multiplicity(g *models.CommandGroup) (int, bool) {
	count, ok := m[g.GroupIndex]
	if !ok {
		return 0, false
	}

	return count, true
}

func twoChannelWorkflow() *models.Workflow {
	return &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{ID: 1, GroupIndex: 0, ExecOrder: 0, SubOrder: 0, Commands: []string{"a <<x>>"}},
			{ID: 2, GroupIndex: 1, ExecOrder: 0, SubOrder: 1, Commands: []string{"b <<y>>"}},
			{ID: 3, GroupIndex: 2, ExecOrder: 1, SubOrder: 0, Commands: []string{"merge"}},
		},
	}
}

func TestValidateTopology(t *testing.T) {
	assert.NoError(t, ValidateTopology(twoChannelWorkflow()))
}

func TestValidateTopology_NonContiguous(t *testing.T) {
	wf := &models.Workflow{
		CommandGroups: []*models.CommandGroup{
			{GroupIndex: 0, ExecOrder: 0, SubOrder: 0},
			{GroupIndex: 1, ExecOrder: 0, SubOrder: 2},
		},
	}

	assert.ErrorIs(t, ValidateTopology(wf), ErrChannelTopology)
}

func TestValidateTopology_DuplicateChannel(t *testing.T) {
	wf := &models.Workflow{
		CommandGroups: []*models.CommandGroup{
			{GroupIndex: 0, ExecOrder: 0, SubOrder: 0},
			{GroupIndex: 1, ExecOrder: 0, SubOrder: 0},
		},
	}

	assert.ErrorIs(t, ValidateTopology(wf), ErrChannelTopology)
}

func TestValidateTopology_ChannelCannotReturn(t *testing.T) {
	// Two channels merge at exec 1; a declaration bringing the second
	// channel back at exec 2 is rejected.
	wf := &models.Workflow{
		CommandGroups: []*models.CommandGroup{
			{GroupIndex: 0, ExecOrder: 0, SubOrder: 0},
			{GroupIndex: 1, ExecOrder: 0, SubOrder: 1},
			{GroupIndex: 2, ExecOrder: 1, SubOrder: 0},
			{GroupIndex: 3, ExecOrder: 2, SubOrder: 0},
			{GroupIndex: 4, ExecOrder: 2, SubOrder: 1},
		},
	}

	assert.ErrorIs(t, ValidateTopology(wf), ErrChannelTopology)
}

func TestBuildPlan_TwoChannelsMerging(t *testing.T) {
	wf := twoChannelWorkflow()

	three, five := 3, 5
	ranges := []models.TaskRange{
		{Start: 0, End: &three, Step: 1},
		{Start: 0, End: &five, Step: 1},
	}

	plan, err := BuildPlan(wf, fixedMultiplicities{0: 3, 1: 5}, ranges)
	require.NoError(t, err)
	require.Len(t, plan, 3)

	g0, g1, g2 := plan[0], plan[1], plan[2]

	assert.Equal(t, []int{0, 1, 2}, g0.TaskIndices)
	assert.Empty(t, g0.DependsOn)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, g1.TaskIndices)
	assert.Empty(t, g1.DependsOn)

	// The merged channel takes the minimum parent identity, depends on
	// both parents, and carries the sum of their task counts.
	assert.Equal(t, 0, g2.Channel)
	assert.ElementsMatch(t, []uint{1, 2}, g2.DependsOn)
	assert.Len(t, g2.TaskIndices, 8)
}

func TestBuildPlan_DefaultsToAllTasks(t *testing.T) {
	wf := twoChannelWorkflow()

	plan, err := BuildPlan(wf, fixedMultiplicities{0: 2, 1: 4}, nil)
	require.NoError(t, err)

	assert.Len(t, plan[0].TaskIndices, 2)
	assert.Len(t, plan[1].TaskIndices, 4)
	assert.Len(t, plan[2].TaskIndices, 6)
}

func TestBuildPlan_RangeCountMismatch(t *testing.T) {
	wf := twoChannelWorkflow()

	_, err := BuildPlan(wf, fixedMultiplicities{0: 2, 1: 2}, []models.TaskRange{models.AllTasks()})
	assert.ErrorIs(t, err, ErrTaskRangeCount)
}

func TestBuildPlan_RangeOutOfBounds(t *testing.T) {
	wf := twoChannelWorkflow()

	_, err := BuildPlan(wf, fixedMultiplicities{0: 2, 1: 2}, []models.TaskRange{
		{Start: 5, Step: 1},
		models.AllTasks(),
	})
	assert.ErrorIs(t, err, ErrTaskRangeBounds)
}

func TestBuildPlan_TasksFlowAlongChannel(t *testing.T) {
	// A sparse upstream selection flows 1:1 to the downstream group.
	wf := &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{ID: 1, GroupIndex: 0, ExecOrder: 0, SubOrder: 0, Commands: []string{"a <<x>>"}},
			{ID: 2, GroupIndex: 1, ExecOrder: 1, SubOrder: 0, Commands: []string{"b"}},
		},
	}

	four := 4
	plan, err := BuildPlan(wf, fixedMultiplicities{0: 6, 1: 1}, []models.TaskRange{
		{Start: 1, End: &four, Step: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, plan[0].TaskIndices)
	assert.Equal(t, []int{1, 3}, plan[1].TaskIndices)
	assert.Equal(t, []uint{1}, plan[1].DependsOn)
}

func TestBuildPlan_SingleParentKeepsUpstreamSelection(t *testing.T) {
	// A downstream group with its own variable product still flows 1:1:
	// the user's range restriction on the channel is never widened back
	// to the full product.
	wf := &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{ID: 1, GroupIndex: 0, ExecOrder: 0, SubOrder: 0, Commands: []string{"a <<x>>"}},
			{ID: 2, GroupIndex: 1, ExecOrder: 1, SubOrder: 0, Commands: []string{"b <<v>>"}},
		},
	}

	three := 3
	plan, err := BuildPlan(wf, fixedMultiplicities{0: 10, 1: 10}, []models.TaskRange{
		{Start: 0, End: &three, Step: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, plan[0].TaskIndices)
	assert.Equal(t, []int{0, 1, 2}, plan[1].TaskIndices)
}

func TestBuildPlan_SingleParentIntersectsOwnProduct(t *testing.T) {
	// The inherited selection is intersected with the group's own value
	// rows: indices past the group's product length are dropped.
	wf := &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{ID: 1, GroupIndex: 0, ExecOrder: 0, SubOrder: 0, Commands: []string{"a <<x>>"}},
			{ID: 2, GroupIndex: 1, ExecOrder: 1, SubOrder: 0, Commands: []string{"b <<v>>"}},
		},
	}

	plan, err := BuildPlan(wf, fixedMultiplicities{0: 5, 1: 2}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, plan[0].TaskIndices)
	assert.Equal(t, []int{0, 1}, plan[1].TaskIndices)
}

func TestBuildPlan_MergedGroupOwnProductOverridesParentSum(t *testing.T) {
	wf := twoChannelWorkflow()
	wf.CommandGroups[2].Commands = []string{"merge <<v>>"}

	plan, err := BuildPlan(wf, fixedMultiplicities{0: 3, 1: 5, 2: 7}, nil)
	require.NoError(t, err)

	// 3 + 5 parent tasks would sum to 8; the merged group's own product
	// of 7 wins.
	assert.Len(t, plan[2].TaskIndices, 7)
	assert.ElementsMatch(t, []uint{1, 2}, plan[2].DependsOn)
}

func TestBuildPlan_OrderedByExecThenSub(t *testing.T) {
	wf := &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			// Declared out of order on purpose.
			{ID: 3, GroupIndex: 2, ExecOrder: 1, SubOrder: 0, Commands: []string{"c"}},
			{ID: 2, GroupIndex: 1, ExecOrder: 0, SubOrder: 1, Commands: []string{"b"}},
			{ID: 1, GroupIndex: 0, ExecOrder: 0, SubOrder: 0, Commands: []string{"a"}},
		},
	}

	plan, err := BuildPlan(wf, fixedMultiplicities{0: 1, 1: 1, 2: 1}, nil)
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, uint(1), plan[0].Group.ID)
	assert.Equal(t, uint(2), plan[1].Group.ID)
	assert.Equal(t, uint(3), plan[2].Group.ID)
}

func TestBuildPlan_SingleTaskGroup(t *testing.T) {
	wf := &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{ID: 1, GroupIndex: 0, ExecOrder: 0, SubOrder: 0, Commands: []string{"only"}},
		},
	}

	plan, err := BuildPlan(wf, fixedMultiplicities{0: 1}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, plan[0].TaskIndices)
	assert.Empty(t, plan[0].DependsOn)
}
