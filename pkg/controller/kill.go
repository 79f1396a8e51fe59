package controller

import (
	"context"
	"time"

	"github.com/jobflow/jobflow/pkg/models"
)

// CancelReason is recorded on tasks failed by an explicit kill.
const CancelReason = "cancelled by kill"

// KillWorkflow cancels every dispatched jobscript of a workflow and
// fails its non-terminal tasks: running tasks get an end timestamp,
// pending ones only the cancellation reason. Complete and failed tasks
// are untouched, so kill is idempotent and a cancel of an
// already-terminal task is a no-op.
func (c *Controller) KillWorkflow(ctx context.Context, workflowID uint) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return err
	}

	wf, err := c.store.WorkflowByID(ctx, workflowID)
	if err != nil {
		return err
	}

	handles := make([]string, 0)

	for _, sub := range wf.Submissions {
		handles = append(handles, dispatchedHandles(sub)...)
	}

	if err := c.bridge.Cancel(ctx, handles); err != nil {
		// Best effort: the store transition still runs so no task is
		// left dangling in a non-terminal state.
		c.logger.ErrorContext(ctx, "scheduler cancel failed", "workflow_id", workflowID, "error", err)
	}

	return c.store.FailNonTerminalTasks(ctx, workflowID, CancelReason, time.Now().UTC())
}

// KillSubmission cancels one submission's jobscripts and fails the
// owning workflow's non-terminal tasks.
func (c *Controller) KillSubmission(ctx context.Context, submissionID uint) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return err
	}

	sub, err := c.store.SubmissionByID(ctx, submissionID)
	if err != nil {
		return err
	}

	if err := c.bridge.Cancel(ctx, dispatchedHandles(sub)); err != nil {
		c.logger.ErrorContext(ctx, "scheduler cancel failed", "submission_id", submissionID, "error", err)
	}

	return c.store.FailNonTerminalTasks(ctx, sub.WorkflowID, CancelReason, time.Now().UTC())
}

func dispatchedHandles(sub *models.Submission) []string {
	handles := make([]string, 0, len(sub.Jobscripts))

	for _, js := range sub.Jobscripts {
		if js.Dispatched && js.SchedulerHandle != "" {
			handles = append(handles, js.SchedulerHandle)
		}
	}

	return handles
}
