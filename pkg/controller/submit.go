package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jobflow/jobflow/pkg/channels"
	"github.com/jobflow/jobflow/pkg/jobscript"
	"github.com/jobflow/jobflow/pkg/models"
	"github.com/jobflow/jobflow/pkg/variables"
)

// ErrPartialDispatch indicates the bridge rejected a jobscript after
// earlier ones were accepted. The submission is recorded and
// undispatched groups stay pending. ResumeSubmission completes them
// without duplicating the dispatched ones; calling SubmitWorkflow again
// creates a new submission and dispatches every jobscript of its plan.
var ErrPartialDispatch = errors.New("submission partially dispatched")

// SubmitWorkflow resolves submit-time variables, derives the jobscript
// plan, emits scripts and value files, persists the submission, and
// dispatches to the scheduler bridge with hold dependencies. ranges
// supplies one task range per channel; empty means all tasks.
func (c *Controller) SubmitWorkflow(ctx context.Context, workflowID uint, ranges []models.TaskRange, iterationIndex int) (uint, error) {
	wf, err := c.store.WorkflowByID(ctx, workflowID)
	if err != nil {
		return 0, err
	}

	iter, err := c.store.EnsureIteration(ctx, wf.ID, iterationIndex)
	if err != nil {
		return 0, err
	}

	graph, err := variables.NewGraph(wf.Variables)
	if err != nil {
		return 0, err
	}

	resolver := variables.NewResolver(graph)

	plan, err := channels.BuildPlan(wf, resolver, ranges)
	if err != nil {
		return 0, err
	}

	sub := &models.Submission{WorkflowID: wf.ID, TaskRanges: ranges}
	for _, entry := range plan {
		sub.Jobscripts = append(sub.Jobscripts, &models.Jobscript{
			CommandGroupID: entry.Group.ID,
			TaskIndices:    entry.TaskIndices,
			DependsOn:      entry.DependsOn,
		})
	}

	submissionID, err := c.store.CreateSubmission(ctx, sub)
	if err != nil {
		return 0, err
	}

	tasks := make([]*models.Task, 0)

	for _, entry := range plan {
		for _, idx := range entry.TaskIndices {
			tasks = append(tasks, &models.Task{
				CommandGroupID: entry.Group.ID,
				SubmissionID:   submissionID,
				IterationID:    iter.ID,
				TaskIndex:      idx,
				Status:         models.TaskStatusPending,
			})
		}
	}

	if err := c.store.CreateTasks(ctx, tasks); err != nil {
		return 0, err
	}

	submitDir := c.submitDir(wf.Directory, wf.ID, submissionID)

	scripts, err := c.emitAll(ctx, wf, plan, sub, resolver, submitDir, iterationIndex)
	if err != nil {
		return submissionID, err
	}

	if err := c.dispatch(ctx, plan, sub, scripts, iter.ID); err != nil {
		return submissionID, err
	}

	c.logger.InfoContext(ctx, "submission dispatched",
		"workflow_id", wf.ID, "submission_id", submissionID, "jobscripts", len(plan))

	return submissionID, nil
}

// emitAll writes jobscript files and submit-time value files. Groups
// whose variables are runtime-deferred get their value files at
// write-cmd time instead.
func (c *Controller) emitAll(
	ctx context.Context,
	wf *models.Workflow,
	plan []channels.Entry,
	sub *models.Submission,
	resolver *variables.Resolver,
	submitDir string,
	iterationIndex int,
) ([]*jobscript.Script, error) {
	scripts := make([]*jobscript.Script, 0, len(plan))

	for i, entry := range plan {
		record := sub.Jobscripts[i]
		gDir := groupDir(submitDir, entry.Group.GroupIndex)

		if err := os.MkdirAll(filepath.Join(gDir, "var_values"), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create group directory %s: %w", gDir, err)
		}

		names := variables.CommandNames(entry.Group.Commands, entry.Group.Directory)

		deferred, err := resolver.Deferred(names, entry.Group.EffectiveDirectory(wf.Directory))
		if err != nil {
			return nil, err
		}

		if !deferred && len(names) > 0 {
			matrix, err := resolver.ResolveMatrix(entry.Group, wf.Directory)
			if err != nil {
				return nil, err
			}

			if err := variables.WriteValueFiles(matrix, filepath.Join(gDir, "var_values"), c.cfg.VariableFileExt); err != nil {
				return nil, err
			}
		}

		script := jobscript.Emit(jobscript.Params{
			JobscriptID:    record.ID,
			Group:          entry.Group,
			TaskIndices:    entry.TaskIndices,
			VariableNames:  names,
			WorkflowDir:    wf.Directory,
			SubmitDir:      submitDir,
			GroupDir:       gDir,
			Executable:     c.executable,
			JobscriptExt:   c.cfg.JobscriptExt,
			VariableExt:    c.cfg.VariableFileExt,
			IterationIndex: iterationIndex,
		})

		// Sidecar files map 1-based array positions onto task indices
		// and task subdirectories; the directories are pre-created so
		// runtime hooks on a slow shared filesystem never race the
		// mkdir.
		if err := writeTaskLayout(gDir, entry.TaskIndices); err != nil {
			return nil, err
		}

		path := filepath.Join(submitDir, fmt.Sprintf("js_%d%s", entry.Group.GroupIndex, c.cfg.JobscriptExt))
		if err := os.WriteFile(path, []byte(script.Body), 0o755); err != nil {
			return nil, fmt.Errorf("cannot write jobscript %s: %w", path, err)
		}

		if err := c.store.SetJobscriptPath(ctx, record.ID, path); err != nil {
			return nil, err
		}

		record.Path = path
		scripts = append(scripts, script)
	}

	return scripts, nil
}

func writeTaskLayout(gDir string, indices []int) error {
	dirNames := jobscript.TaskDirNames(indices)

	var idxFile, dirFile strings.Builder

	for pos, idx := range indices {
		idxFile.WriteString(strconv.Itoa(idx))
		idxFile.WriteByte('\n')
		dirFile.WriteString(dirNames[pos])
		dirFile.WriteByte('\n')

		taskDir := filepath.Join(gDir, "tasks", dirNames[pos])
		if err := os.MkdirAll(taskDir, 0o755); err != nil {
			return fmt.Errorf("cannot create task directory %s: %w", taskDir, err)
		}
	}

	for name, content := range map[string]string{
		jobscript.TaskIndicesFileName: idxFile.String(),
		jobscript.TaskDirsFileName:    dirFile.String(),
	} {
		path := filepath.Join(gDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", path, err)
		}
	}

	return nil
}

// dispatch hands jobscripts to the bridge in plan order, translating
// group dependencies into scheduler holds. On a bridge failure the
// already-dispatched scripts keep their handles; the rest stay pending.
func (c *Controller) dispatch(
	ctx context.Context,
	plan []channels.Entry,
	sub *models.Submission,
	scripts []*jobscript.Script,
	iterationID uint,
) error {
	handles := make(map[uint]string, len(plan))

	for i, entry := range plan {
		record := sub.Jobscripts[i]

		if record.Dispatched {
			handles[entry.Group.ID] = record.SchedulerHandle

			continue
		}

		holdOn := make([]string, 0, len(record.DependsOn))

		for _, dep := range record.DependsOn {
			if h, ok := handles[dep]; ok {
				holdOn = append(holdOn, h)
			}
		}

		handle, err := c.bridge.Submit(ctx, scripts[i], record.Path, holdOn)
		if err != nil {
			c.logger.ErrorContext(ctx, "dispatch failed; submission left partial",
				"submission_id", sub.ID, "command_group", entry.Group.GroupIndex, "error", err)

			return fmt.Errorf("%w: submission %d stopped at command group %d: %w",
				ErrPartialDispatch, sub.ID, entry.Group.GroupIndex, err)
		}

		if err := c.store.MarkDispatched(ctx, record.ID, handle); err != nil {
			return err
		}

		if err := c.store.MarkTasksSubmitted(ctx, entry.Group.ID, iterationID, handle); err != nil {
			return err
		}

		record.Dispatched = true
		record.SchedulerHandle = handle
		handles[entry.Group.ID] = handle
	}

	return nil
}

// ResumeSubmission retries dispatch for a partially-dispatched
// submission, skipping jobscripts that already hold a scheduler handle.
func (c *Controller) ResumeSubmission(ctx context.Context, submissionID uint) error {
	sub, err := c.store.SubmissionByID(ctx, submissionID)
	if err != nil {
		return err
	}

	wf, err := c.store.WorkflowByID(ctx, sub.WorkflowID)
	if err != nil {
		return err
	}

	graph, err := variables.NewGraph(wf.Variables)
	if err != nil {
		return err
	}

	plan, err := channels.BuildPlan(wf, variables.NewResolver(graph), sub.TaskRanges)
	if err != nil {
		return err
	}

	iter, err := c.store.EnsureIteration(ctx, wf.ID, 0)
	if err != nil {
		return err
	}

	// Reattach plan entries to the persisted jobscript records so the
	// retry dispatches the same scripts, no duplicates and no gaps.
	byGroup := make(map[uint]*models.Jobscript, len(sub.Jobscripts))
	for _, js := range sub.Jobscripts {
		byGroup[js.CommandGroupID] = js
	}

	ordered := make([]*models.Jobscript, 0, len(plan))
	scripts := make([]*jobscript.Script, 0, len(plan))

	for _, entry := range plan {
		record, ok := byGroup[entry.Group.ID]
		if !ok {
			return fmt.Errorf("submission %d has no jobscript for command group %d",
				submissionID, entry.Group.GroupIndex)
		}

		ordered = append(ordered, record)
		scripts = append(scripts, &jobscript.Script{JobscriptID: record.ID, CommandGroupID: entry.Group.ID})
	}

	sub.Jobscripts = ordered

	return c.dispatch(ctx, plan, sub, scripts, iter.ID)
}
