package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jobflow/jobflow/pkg/log"
	"github.com/jobflow/jobflow/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "workflows.db"), "", log.WithModule("store-test"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))

	return s
}

func seedWorkflow(t *testing.T, s *Store) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
		Directory: "/work",
		CommandGroups: []*models.CommandGroup{
			{GroupIndex: 0, ExecOrder: 0, SubOrder: 0, Commands: []string{"echo <<f>>"}},
		},
		Variables: []*models.VariableDefinition{
			{Name: "f", Value: "{:s}", Data: []string{"a", "b"}},
		},
	}

	_, err := s.CreateWorkflow(context.Background(), wf)
	require.NoError(t, err)

	return wf
}

func seedTasks(t *testing.T, s *Store, wf *models.Workflow, n int) (*models.Iteration, []*models.Task) {
	t.Helper()

	ctx := context.Background()

	iter, err := s.EnsureIteration(ctx, wf.ID, 0)
	require.NoError(t, err)

	sub := &models.Submission{WorkflowID: wf.ID}
	_, err = s.CreateSubmission(ctx, sub)
	require.NoError(t, err)

	tasks := make([]*models.Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, &models.Task{
			CommandGroupID: wf.CommandGroups[0].ID,
			SubmissionID:   sub.ID,
			IterationID:    iter.ID,
			TaskIndex:      i,
			Status:         models.TaskStatusPending,
		})
	}

	require.NoError(t, s.CreateTasks(ctx, tasks))
	require.NoError(t, s.MarkTasksSubmitted(ctx, wf.CommandGroups[0].ID, iter.ID, "job-1"))

	return iter, tasks
}

func TestEnsureSchema_FailsFastWhenAbsent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "workflows.db"), "", log.WithModule("store-test"))
	require.NoError(t, err)

	defer s.Close()

	assert.ErrorIs(t, s.EnsureSchema(context.Background()), ErrSchemaMissing)
}

func TestCreateWorkflow_MonotonicIDs(t *testing.T) {
	s := newTestStore(t)

	first := seedWorkflow(t, s)
	second := seedWorkflow(t, s)

	assert.Greater(t, second.ID, first.ID)
}

func TestWorkflowByID_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	loaded, err := s.WorkflowByID(context.Background(), wf.ID)
	require.NoError(t, err)

	assert.Equal(t, wf.Directory, loaded.Directory)
	require.Len(t, loaded.CommandGroups, 1)
	assert.Equal(t, []string{"echo <<f>>"}, loaded.CommandGroups[0].Commands)
	require.Len(t, loaded.Variables, 1)
	assert.Equal(t, []string{"a", "b"}, loaded.Variables[0].Data)
}

func TestWorkflowByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WorkflowByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestSetTaskStartEnd_Idempotent(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	iter, _ := seedTasks(t, s, wf, 1)

	ctx := context.Background()
	groupID := wf.CommandGroups[0].ID

	started := time.Now().UTC()
	require.NoError(t, s.SetTaskStart(ctx, groupID, iter.ID, 0, started))

	// Retried start keeps the first timestamp.
	require.NoError(t, s.SetTaskStart(ctx, groupID, iter.ID, 0, started.Add(time.Hour)))

	task, err := s.TaskByIndex(ctx, groupID, iter.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
	assert.WithinDuration(t, started, *task.StartTime, time.Second)

	ended := time.Now().UTC()
	require.NoError(t, s.SetTaskEnd(ctx, groupID, iter.ID, 0, ended, 0))
	require.NoError(t, s.SetTaskEnd(ctx, groupID, iter.ID, 0, ended.Add(time.Hour), 1))

	task, err = s.TaskByIndex(ctx, groupID, iter.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusComplete, task.Status)
	require.NotNil(t, task.ExitStatus)
	assert.Equal(t, 0, *task.ExitStatus)
}

func TestSetTaskEnd_NonZeroExitFails(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	iter, _ := seedTasks(t, s, wf, 1)

	ctx := context.Background()
	groupID := wf.CommandGroups[0].ID

	require.NoError(t, s.SetTaskStart(ctx, groupID, iter.ID, 0, time.Now().UTC()))
	require.NoError(t, s.SetTaskEnd(ctx, groupID, iter.ID, 0, time.Now().UTC(), 3))

	task, err := s.TaskByIndex(ctx, groupID, iter.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, 3, *task.ExitStatus)
}

func TestConcurrentTaskEnd(t *testing.T) {
	// 200 array tasks record start and end concurrently: every final
	// state persists, none is left running, no deadlock.
	const n = 200

	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	iter, _ := seedTasks(t, s, wf, n)

	ctx := context.Background()
	groupID := wf.CommandGroups[0].ID

	var g errgroup.Group
	g.SetLimit(32)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := s.SetTaskStart(ctx, groupID, iter.ID, i, time.Now().UTC()); err != nil {
				return err
			}

			return s.SetTaskEnd(ctx, groupID, iter.ID, i, time.Now().UTC(), 0)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("concurrent task updates did not finish within 30s")
	}

	for i := 0; i < n; i++ {
		task, err := s.TaskByIndex(ctx, groupID, iter.ID, i)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusComplete, task.Status)
		require.NotNil(t, task.EndTime)
	}
}

func TestFailNonTerminalTasks_KillSemantics(t *testing.T) {
	// 10 tasks: 3 complete, 4 running, 3 pending. After the kill
	// transition the complete stay complete, the running fail with end
	// timestamps, the pending fail with no start timestamp.
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	iter, _ := seedTasks(t, s, wf, 10)

	ctx := context.Background()
	groupID := wf.CommandGroups[0].ID

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SetTaskStart(ctx, groupID, iter.ID, i, time.Now().UTC()))
		require.NoError(t, s.SetTaskEnd(ctx, groupID, iter.ID, i, time.Now().UTC(), 0))
	}

	for i := 3; i < 7; i++ {
		require.NoError(t, s.SetTaskStart(ctx, groupID, iter.ID, i, time.Now().UTC()))
	}

	// Tasks 7..9 were never dispatched.
	require.NoError(t, s.db.Model(&models.Task{}).
		Where("command_group_id = ? AND task_index >= 7", groupID).
		Update("status", models.TaskStatusPending).Error)

	require.NoError(t, s.FailNonTerminalTasks(ctx, wf.ID, "cancelled by kill", time.Now().UTC()))

	for i := 0; i < 10; i++ {
		task, err := s.TaskByIndex(ctx, groupID, iter.ID, i)
		require.NoError(t, err)

		switch {
		case i < 3:
			assert.Equal(t, models.TaskStatusComplete, task.Status, "task %d", i)
		case i < 7:
			assert.Equal(t, models.TaskStatusFailed, task.Status, "task %d", i)
			assert.NotNil(t, task.EndTime, "task %d", i)
			assert.Equal(t, "cancelled by kill", task.Reason)
		default:
			assert.Equal(t, models.TaskStatusFailed, task.Status, "task %d", i)
			assert.Nil(t, task.StartTime, "task %d", i)
			assert.Equal(t, "cancelled by kill", task.Reason)
		}
	}

	// A repeat kill is a no-op.
	require.NoError(t, s.FailNonTerminalTasks(ctx, wf.ID, "again", time.Now().UTC()))

	task, err := s.TaskByIndex(ctx, groupID, iter.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "cancelled by kill", task.Reason)
}

func TestCommandWritingLock(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	ctx := context.Background()

	sub := &models.Submission{
		WorkflowID: wf.ID,
		Jobscripts: []*models.Jobscript{
			{CommandGroupID: wf.CommandGroups[0].ID, TaskIndices: []int{0}},
		},
	}

	_, err := s.CreateSubmission(ctx, sub)
	require.NoError(t, err)

	jsID := sub.Jobscripts[0].ID

	acquired, err := s.AcquireCommandWriting(ctx, jsID)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second writer is blocked while the first holds the lock.
	acquired, err = s.AcquireCommandWriting(ctx, jsID)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, s.ReleaseCommandWriting(ctx, jsID))

	acquired, err = s.AcquireCommandWriting(ctx, jsID)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestArchiveOperation_AtMostOneActive(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	_, tasks := seedTasks(t, s, wf, 1)

	ctx := context.Background()

	op, err := s.StartArchive(ctx, tasks[0].ID, "remote:bucket", time.Now().UTC())
	require.NoError(t, err)

	_, err = s.StartArchive(ctx, tasks[0].ID, "remote:bucket", time.Now().UTC())
	assert.ErrorIs(t, err, ErrArchiveActive)

	require.NoError(t, s.EndArchive(ctx, op.ID, time.Now().UTC()))

	_, err = s.StartArchive(ctx, tasks[0].ID, "remote:bucket", time.Now().UTC())
	assert.NoError(t, err)
}

func TestEnsureIteration_Idempotent(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	ctx := context.Background()

	first, err := s.EnsureIteration(ctx, wf.ID, 0)
	require.NoError(t, err)

	again, err := s.EnsureIteration(ctx, wf.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	next, err := s.EnsureIteration(ctx, wf.ID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestDeleteWorkflow_Cascades(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	seedTasks(t, s, wf, 2)

	ctx := context.Background()

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))

	_, err := s.WorkflowByID(ctx, wf.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	var count int64

	require.NoError(t, s.db.Model(&models.CommandGroup{}).
		Where("workflow_id = ?", wf.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeleteWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)

	assert.ErrorIs(t, s.DeleteWorkflow(context.Background(), 42), ErrWorkflowNotFound)
}
