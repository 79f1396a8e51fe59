package controller

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jobflow/jobflow/pkg/models"
)

// TaskStats is the report row for one task.
type TaskStats struct {
	TaskID      uint              `json:"task_id"`
	TaskIndex   int               `json:"task_index"`
	IterationID uint              `json:"iteration_id"`
	Status      models.TaskStatus `json:"status"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	Duration    time.Duration     `json:"duration,omitempty"`
	ExitStatus  *int              `json:"exit_status,omitempty"`
	Archived    bool              `json:"archived,omitempty"`
}

// GroupStats aggregates one command group's tasks within a submission.
type GroupStats struct {
	CommandGroupID uint        `json:"command_group_id"`
	GroupIndex     int         `json:"group_index"`
	Commands       []string    `json:"commands"`
	Tasks          []TaskStats `json:"tasks"`
}

// SubmissionStats aggregates one submission's command groups.
type SubmissionStats struct {
	SubmissionID uint               `json:"submission_id"`
	CreatedAt    time.Time          `json:"created_at"`
	TaskRanges   []models.TaskRange `json:"task_ranges,omitempty"`
	Groups       []GroupStats       `json:"command_groups"`
}

// WorkflowStats is the full report for one workflow: a tree of
// submissions, their command groups, and each group's task rows. Task
// rows from different submissions of the same group never mix.
type WorkflowStats struct {
	WorkflowID  uint              `json:"workflow_id"`
	Directory   string            `json:"directory"`
	Submissions []SubmissionStats `json:"submissions"`
}

// Stats assembles task statistics for a workflow from the store. Report
// only; nothing is mutated.
func (c *Controller) Stats(ctx context.Context, workflowID uint) (*WorkflowStats, error) {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	wf, err := c.store.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	groupsByID := make(map[uint]*models.CommandGroup, len(wf.CommandGroups))
	for _, g := range wf.CommandGroups {
		groupsByID[g.ID] = g
	}

	out := &WorkflowStats{WorkflowID: wf.ID, Directory: wf.Directory}

	for _, sub := range wf.Submissions {
		ss := SubmissionStats{
			SubmissionID: sub.ID,
			CreatedAt:    sub.CreatedAt,
			TaskRanges:   sub.TaskRanges,
		}

		for _, js := range sub.Jobscripts {
			g, ok := groupsByID[js.CommandGroupID]
			if !ok {
				continue
			}

			gs := GroupStats{CommandGroupID: g.ID, GroupIndex: g.GroupIndex, Commands: g.Commands}

			for _, t := range g.Tasks {
				if t.SubmissionID != sub.ID {
					continue
				}

				gs.Tasks = append(gs.Tasks, TaskStats{
					TaskID:      t.ID,
					TaskIndex:   t.TaskIndex,
					IterationID: t.IterationID,
					Status:      t.Status,
					StartTime:   t.StartTime,
					EndTime:     t.EndTime,
					Duration:    t.Duration(),
					ExitStatus:  t.ExitStatus,
					Archived:    t.Archived,
				})
			}

			sort.Slice(gs.Tasks, func(i, j int) bool {
				return gs.Tasks[i].TaskIndex < gs.Tasks[j].TaskIndex
			})

			ss.Groups = append(ss.Groups, gs)
		}

		out.Submissions = append(out.Submissions, ss)
	}

	return out, nil
}

// ListWorkflows returns the identifiers and directories of every stored
// workflow, most recent first.
func (c *Controller) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	return c.store.Workflows(ctx)
}

// Clean removes generated artifacts (the data directory: store file,
// submit directories, value files) from a working directory. The CLI
// confirms with the user before calling.
func (c *Controller) Clean(ctx context.Context, workingDir string) error {
	dataDir := c.cfg.DataDirFor(workingDir)

	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("cannot remove data directory %s: %w", dataDir, err)
	}

	c.logger.InfoContext(ctx, "cleaned working directory", "data_dir", dataDir)

	return nil
}
