package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jobflow/jobflow/pkg/jobscript"
	"github.com/jobflow/jobflow/pkg/models"
	"github.com/jobflow/jobflow/pkg/variables"
)

// writePollInterval paces the wait for a concurrent command writer.
const writePollInterval = 2 * time.Second

// WriteCmd is the runtime hook a jobscript invokes before executing a
// task: it loads the command group, resolves any runtime-deferred
// variables, and writes the concrete command file plus the variable
// value files. The first caller for a jobscript does the write under
// the store's command-writing lock; concurrent array tasks wait for it.
// The write is pure: repeated calls produce identical bytes.
func (c *Controller) WriteCmd(ctx context.Context, jobscriptID uint, taskIndex int) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return err
	}

	js, err := c.store.JobscriptByID(ctx, jobscriptID)
	if err != nil {
		return err
	}

	if js.CommandsWritten {
		return nil
	}

	for {
		acquired, err := c.store.AcquireCommandWriting(ctx, jobscriptID)
		if err != nil {
			return err
		}

		if acquired {
			break
		}

		c.logger.InfoContext(ctx, "command writing blocked; waiting", "jobscript_id", jobscriptID)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(writePollInterval):
		}

		js, err = c.store.JobscriptByID(ctx, jobscriptID)
		if err != nil {
			return err
		}

		if js.CommandsWritten {
			return nil
		}
	}

	defer func() { _ = c.store.ReleaseCommandWriting(ctx, jobscriptID) }()

	// Re-check under the lock: another writer may have finished between
	// our read and the acquire.
	js, err = c.store.JobscriptByID(ctx, jobscriptID)
	if err != nil {
		return err
	}

	if js.CommandsWritten {
		return nil
	}

	if err := c.writeRuntimeFiles(ctx, js, taskIndex); err != nil {
		return err
	}

	return c.store.MarkCommandsWritten(ctx, jobscriptID)
}

func (c *Controller) writeRuntimeFiles(ctx context.Context, js *models.Jobscript, taskIndex int) error {
	wf, group, err := c.loadGroup(ctx, js)
	if err != nil {
		return err
	}

	graph, err := variables.NewGraph(wf.Variables)
	if err != nil {
		return err
	}

	resolver := variables.NewResolver(graph)

	names := variables.CommandNames(group.Commands, group.Directory)

	gDir := groupDir(c.submitDir(wf.Directory, wf.ID, js.SubmissionID), group.GroupIndex)

	var matrix *variables.Matrix

	if len(names) > 0 {
		matrix, err = resolver.ResolveMatrix(group, wf.Directory)
		if err != nil {
			c.failResolution(ctx, js, taskIndex, err)

			return err
		}

		if err := variables.WriteValueFiles(matrix, filepath.Join(gDir, "var_values"), c.cfg.VariableFileExt); err != nil {
			return err
		}
	}

	bindings := make([]jobscript.Binding, 0, len(names))
	for i, name := range names {
		bindings = append(bindings, jobscript.Binding{
			Name: name,
			Path: filepath.Join(gDir, "var_values", variables.ValueFileName(name, c.cfg.VariableFileExt)),
			FD:   i + 3,
		})
	}

	content := jobscript.CommandFile(group.Commands, bindings)

	path := filepath.Join(gDir, fmt.Sprintf("cmd_%d%s", group.GroupIndex, c.cfg.JobscriptExt))
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(content), 0o755); err != nil {
		return fmt.Errorf("cannot write command file %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cannot move command file into place: %w", err)
	}

	return nil
}

// failResolution marks the affected task failed with the resolution
// error. Sibling groups on other channels are untouched.
func (c *Controller) failResolution(ctx context.Context, js *models.Jobscript, taskIndex int, cause error) {
	var resErr *variables.ResolutionError
	if !errors.As(cause, &resErr) {
		return
	}

	sub, err := c.store.SubmissionByID(ctx, js.SubmissionID)
	if err != nil {
		return
	}

	iter, err := c.store.EnsureIteration(ctx, sub.WorkflowID, 0)
	if err != nil {
		return
	}

	task, err := c.store.TaskByIndex(ctx, js.CommandGroupID, iter.ID, taskIndex)
	if err != nil {
		return
	}

	if err := c.store.FailTask(ctx, task.ID, cause.Error(), time.Now().UTC()); err != nil {
		c.logger.ErrorContext(ctx, "failed to record resolution failure",
			"task_id", task.ID, "error", err)
	}
}

// SetTaskStart records a task start timestamp. Idempotent per task.
func (c *Controller) SetTaskStart(ctx context.Context, jobscriptID uint, iterationIndex, taskIndex int) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return err
	}

	js, iterID, err := c.resolveTaskScope(ctx, jobscriptID, iterationIndex)
	if err != nil {
		return err
	}

	return c.store.SetTaskStart(ctx, js.CommandGroupID, iterID, taskIndex, time.Now().UTC())
}

// SetTaskEnd records a task end timestamp and exit status. Idempotent
// per task; a non-zero exit marks the task failed.
func (c *Controller) SetTaskEnd(ctx context.Context, jobscriptID uint, iterationIndex, taskIndex, exitStatus int) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return err
	}

	js, iterID, err := c.resolveTaskScope(ctx, jobscriptID, iterationIndex)
	if err != nil {
		return err
	}

	return c.store.SetTaskEnd(ctx, js.CommandGroupID, iterID, taskIndex, time.Now().UTC(), exitStatus)
}

// ArchiveTask records and performs the archive of one task's working
// directory. The open archive row is the at-most-one-active lock; the
// archiver's own failure closes the row but never touches task status.
func (c *Controller) ArchiveTask(ctx context.Context, jobscriptID uint, iterationIndex, taskIndex int, destination string) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return err
	}

	js, iterID, err := c.resolveTaskScope(ctx, jobscriptID, iterationIndex)
	if err != nil {
		return err
	}

	task, err := c.store.TaskByIndex(ctx, js.CommandGroupID, iterID, taskIndex)
	if err != nil {
		return err
	}

	return c.ArchiveTaskByID(ctx, task.ID, destination)
}

// ArchiveTaskByID is the user-facing archive operation keyed by task
// id.
func (c *Controller) ArchiveTaskByID(ctx context.Context, taskID uint, destination string) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return err
	}

	task, err := c.store.TaskByID(ctx, taskID)
	if err != nil {
		return err
	}

	sub, err := c.store.SubmissionByID(ctx, task.SubmissionID)
	if err != nil {
		return err
	}

	wf, err := c.store.WorkflowByID(ctx, sub.WorkflowID)
	if err != nil {
		return err
	}

	op, err := c.store.StartArchive(ctx, task.ID, destination, time.Now().UTC())
	if err != nil {
		return err
	}

	archiveErr := c.archiver.Archive(ctx, wf.Directory, destination)
	if archiveErr != nil {
		c.logger.ErrorContext(ctx, "archive failed", "task_id", task.ID, "error", archiveErr)
	}

	if err := c.store.EndArchive(ctx, op.ID, time.Now().UTC()); err != nil {
		return err
	}

	if archiveErr == nil {
		return c.store.MarkArchived(ctx, task.ID)
	}

	return nil
}

func (c *Controller) resolveTaskScope(ctx context.Context, jobscriptID uint, iterationIndex int) (*models.Jobscript, uint, error) {
	js, err := c.store.JobscriptByID(ctx, jobscriptID)
	if err != nil {
		return nil, 0, err
	}

	sub, err := c.store.SubmissionByID(ctx, js.SubmissionID)
	if err != nil {
		return nil, 0, err
	}

	iter, err := c.store.EnsureIteration(ctx, sub.WorkflowID, iterationIndex)
	if err != nil {
		return nil, 0, err
	}

	return js, iter.ID, nil
}

func (c *Controller) loadGroup(ctx context.Context, js *models.Jobscript) (*models.Workflow, *models.CommandGroup, error) {
	sub, err := c.store.SubmissionByID(ctx, js.SubmissionID)
	if err != nil {
		return nil, nil, err
	}

	wf, err := c.store.WorkflowByID(ctx, sub.WorkflowID)
	if err != nil {
		return nil, nil, err
	}

	for _, g := range wf.CommandGroups {
		if g.ID == js.CommandGroupID {
			return wf, g, nil
		}
	}

	return nil, nil, fmt.Errorf("jobscript %d references unknown command group %d", js.ID, js.CommandGroupID)
}
