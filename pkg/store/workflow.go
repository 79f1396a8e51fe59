package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jobflow/jobflow/pkg/models"
)

// CreateWorkflow persists a validated workflow aggregate (declaration,
// command groups, variables) in one transaction and returns its
// identifier. Identifiers are monotonic within a store.
func (s *Store) CreateWorkflow(ctx context.Context, wf *models.Workflow) (uint, error) {
	wf.CreatedAt = time.Now().UTC()

	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(wf).Error
	})
	if err != nil {
		return 0, &OpError{Op: "CreateWorkflow", Entity: "workflow", Err: err}
	}

	return wf.ID, nil
}

// WorkflowByID loads a workflow with its command groups, variables and
// submissions. Readers are non-blocking: no transaction is taken.
func (s *Store) WorkflowByID(ctx context.Context, id uint) (*models.Workflow, error) {
	var wf models.Workflow

	err := s.db.WithContext(ctx).
		Preload("CommandGroups", func(db *gorm.DB) *gorm.DB {
			return db.Order("group_index")
		}).
		Preload("CommandGroups.Tasks").
		Preload("Variables").
		Preload("Submissions", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		}).
		Preload("Submissions.Jobscripts", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		}).
		Preload("Iterations").
		First(&wf, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OpError{Op: "WorkflowByID", Entity: "workflow", ID: id, Err: ErrWorkflowNotFound}
		}

		return nil, &OpError{Op: "WorkflowByID", Entity: "workflow", ID: id, Err: err}
	}

	return &wf, nil
}

// Workflows returns every workflow, most recent first, without task
// preloads.
func (s *Store) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	workflows := make([]*models.Workflow, 0)

	err := s.db.WithContext(ctx).
		Preload("CommandGroups", func(db *gorm.DB) *gorm.DB {
			return db.Order("group_index")
		}).
		Order("created_at DESC").
		Find(&workflows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	return workflows, nil
}

// WorkflowByDirectory returns the most recent workflow rooted at the
// given working directory, or nil. MakeWorkflow uses it for idempotence
// under the directory lock.
func (s *Store) WorkflowByDirectory(ctx context.Context, dir string) (*models.Workflow, error) {
	var wf models.Workflow

	err := s.db.WithContext(ctx).
		Preload("CommandGroups", func(db *gorm.DB) *gorm.DB {
			return db.Order("group_index")
		}).
		Preload("Variables").
		Where("directory = ?", dir).
		Order("id DESC").
		First(&wf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query workflow by directory: %w", err)
	}

	return &wf, nil
}

// DeleteWorkflow removes a workflow; the schema cascades to its command
// groups, variables, tasks and submissions.
func (s *Store) DeleteWorkflow(ctx context.Context, id uint) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		// Cascade explicitly, children first, so the delete behaves the
		// same on backends where the migrator could not install the
		// foreign-key actions.
		groupIDs := tx.Model(&models.CommandGroup{}).Select("id").Where("workflow_id = ?", id)
		taskIDs := tx.Model(&models.Task{}).Select("id").Where("command_group_id IN (?)", groupIDs)
		submissionIDs := tx.Model(&models.Submission{}).Select("id").Where("workflow_id = ?", id)
		jobscriptIDs := tx.Model(&models.Jobscript{}).Select("id").Where("submission_id IN (?)", submissionIDs)

		steps := []*gorm.DB{
			tx.Where("task_id IN (?)", taskIDs).Delete(&models.ArchiveOperation{}),
			tx.Where("command_group_id IN (?)", groupIDs).Delete(&models.Task{}),
			tx.Where("jobscript_id IN (?)", jobscriptIDs).Delete(&models.CommandWriting{}),
			tx.Where("submission_id IN (?)", submissionIDs).Delete(&models.Jobscript{}),
			tx.Where("workflow_id = ?", id).Delete(&models.Submission{}),
			tx.Where("workflow_id = ?", id).Delete(&models.Iteration{}),
			tx.Where("workflow_id = ?", id).Delete(&models.CommandGroup{}),
			tx.Where("workflow_id = ?", id).Delete(&models.VariableDefinition{}),
		}

		for _, step := range steps {
			if step.Error != nil {
				return step.Error
			}
		}

		res := tx.Delete(&models.Workflow{}, id)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return ErrWorkflowNotFound
		}

		return nil
	})
	if err != nil {
		return &OpError{Op: "DeleteWorkflow", Entity: "workflow", ID: id, Err: err}
	}

	return nil
}

// EnsureIteration returns the iteration with the given index for a
// workflow, creating it if absent.
func (s *Store) EnsureIteration(ctx context.Context, workflowID uint, index int) (*models.Iteration, error) {
	var iter models.Iteration

	err := s.transact(ctx, func(tx *gorm.DB) error {
		err := tx.Where("workflow_id = ? AND iter_index = ?", workflowID, index).First(&iter).Error
		if err == nil {
			return nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		iter = models.Iteration{WorkflowID: workflowID, Index: index, CreatedAt: time.Now().UTC()}

		return tx.Create(&iter).Error
	})
	if err != nil {
		return nil, &OpError{Op: "EnsureIteration", Entity: "workflow", ID: workflowID, Err: err}
	}

	return &iter, nil
}
