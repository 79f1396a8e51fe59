package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jobflow/jobflow/pkg/models"
)

// CreateTasks persists the task rows for a submission in one
// transaction. A task row that already exists for the same
// (group, iteration, index) is kept, so a re-submit after a partial
// dispatch neither duplicates nor resets task state.
func (s *Store) CreateTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tasks).Error
	})
	if err != nil {
		return &OpError{Op: "CreateTasks", Entity: "submission", ID: tasks[0].SubmissionID, Err: err}
	}

	return nil
}

// TaskByIndex loads one task of a command group within an iteration.
func (s *Store) TaskByIndex(ctx context.Context, groupID, iterationID uint, taskIndex int) (*models.Task, error) {
	var task models.Task

	err := s.db.WithContext(ctx).
		Where("command_group_id = ? AND iteration_id = ? AND task_index = ?",
			groupID, iterationID, taskIndex).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OpError{Op: "TaskByIndex", Entity: "command group", ID: groupID, Err: ErrTaskNotFound}
		}

		return nil, &OpError{Op: "TaskByIndex", Entity: "command group", ID: groupID, Err: err}
	}

	return &task, nil
}

// TaskByID loads one task.
func (s *Store) TaskByID(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task

	err := s.db.WithContext(ctx).First(&task, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OpError{Op: "TaskByID", Entity: "task", ID: id, Err: ErrTaskNotFound}
		}

		return nil, &OpError{Op: "TaskByID", Entity: "task", ID: id, Err: err}
	}

	return &task, nil
}

// MarkTasksSubmitted transitions a jobscript's tasks to submitted and
// records the scheduler handle.
func (s *Store) MarkTasksSubmitted(ctx context.Context, groupID, iterationID uint, schedulerHandle string) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Task{}).
			Where("command_group_id = ? AND iteration_id = ? AND status = ?",
				groupID, iterationID, models.TaskStatusPending).
			Updates(map[string]any{
				"status":            models.TaskStatusSubmitted,
				"scheduler_task_id": schedulerHandle,
			}).Error
	})
	if err != nil {
		return &OpError{Op: "MarkTasksSubmitted", Entity: "command group", ID: groupID, Err: err}
	}

	return nil
}

// SetTaskStart records a task's start. Idempotent: a retry of the same
// event sees the start already recorded and leaves the row untouched.
func (s *Store) SetTaskStart(ctx context.Context, groupID, iterationID uint, taskIndex int, at time.Time) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		task, err := findTask(tx, groupID, iterationID, taskIndex)
		if err != nil {
			return err
		}

		if task.StartTime != nil {
			return nil
		}

		if task.Status.IsTerminal() {
			return ErrIllegalTransition
		}

		return tx.Model(task).Updates(map[string]any{
			"status":     models.TaskStatusRunning,
			"start_time": at,
		}).Error
	})
	if err != nil {
		return &OpError{Op: "SetTaskStart", Entity: "command group", ID: groupID, Err: err}
	}

	return nil
}

// SetTaskEnd records a task's end and exit status. Idempotent with
// respect to retries: a second end event for the same task is a no-op.
func (s *Store) SetTaskEnd(ctx context.Context, groupID, iterationID uint, taskIndex int, at time.Time, exitStatus int) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		task, err := findTask(tx, groupID, iterationID, taskIndex)
		if err != nil {
			return err
		}

		if task.EndTime != nil {
			return nil
		}

		status := models.TaskStatusComplete
		if exitStatus != 0 {
			status = models.TaskStatusFailed
		}

		return tx.Model(task).Updates(map[string]any{
			"status":      status,
			"end_time":    at,
			"exit_status": exitStatus,
		}).Error
	})
	if err != nil {
		return &OpError{Op: "SetTaskEnd", Entity: "command group", ID: groupID, Err: err}
	}

	return nil
}

// FailTask marks one task failed with a reason, recording an end time
// when it was mid-running. Used for resolution errors and cancellation.
func (s *Store) FailTask(ctx context.Context, taskID uint, reason string, at time.Time) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var task models.Task

		if err := tx.First(&task, taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}

			return err
		}

		return failTask(tx, &task, reason, at)
	})
	if err != nil {
		return &OpError{Op: "FailTask", Entity: "task", ID: taskID, Err: err}
	}

	return nil
}

// FailNonTerminalTasks transitions every non-terminal task of a workflow
// to failed: running tasks get an end timestamp, pending ones only the
// cancellation reason. Already-terminal tasks are untouched, so a repeat
// kill is a no-op.
func (s *Store) FailNonTerminalTasks(ctx context.Context, workflowID uint, reason string, at time.Time) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		tasks := make([]*models.Task, 0)

		err := tx.
			Select("tasks.*").
			Joins("JOIN command_groups ON command_groups.id = tasks.command_group_id").
			Where("command_groups.workflow_id = ?", workflowID).
			Where("tasks.status NOT IN ?", []models.TaskStatus{
				models.TaskStatusComplete, models.TaskStatusFailed,
			}).
			Find(&tasks).Error
		if err != nil {
			return err
		}

		for _, task := range tasks {
			if err := failTask(tx, task, reason, at); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return &OpError{Op: "FailNonTerminalTasks", Entity: "workflow", ID: workflowID, Err: err}
	}

	return nil
}

// MarkArchived applies the orthogonal archived tag to a terminal task.
func (s *Store) MarkArchived(ctx context.Context, taskID uint) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Task{}).Where("id = ?", taskID).
			Update("archived", true).Error
	})
	if err != nil {
		return &OpError{Op: "MarkArchived", Entity: "task", ID: taskID, Err: err}
	}

	return nil
}

func failTask(tx *gorm.DB, task *models.Task, reason string, at time.Time) error {
	if task.Status.IsTerminal() {
		return nil
	}

	updates := map[string]any{
		"status": models.TaskStatusFailed,
		"reason": reason,
	}

	// A mid-running task gets its end recorded; a task that never
	// started keeps empty timestamps.
	if task.Status == models.TaskStatusRunning && task.EndTime == nil {
		updates["end_time"] = at
	}

	return tx.Model(task).Updates(updates).Error
}

func findTask(tx *gorm.DB, groupID, iterationID uint, taskIndex int) (*models.Task, error) {
	var task models.Task

	err := tx.
		Where("command_group_id = ? AND iteration_id = ? AND task_index = ?",
			groupID, iterationID, taskIndex).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}

		return nil, err
	}

	return &task, nil
}
