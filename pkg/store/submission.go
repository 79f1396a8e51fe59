package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jobflow/jobflow/pkg/models"
)

// CreateSubmission persists a submission with its jobscript records in
// one transaction.
func (s *Store) CreateSubmission(ctx context.Context, sub *models.Submission) (uint, error) {
	sub.CreatedAt = time.Now().UTC()

	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(sub).Error
	})
	if err != nil {
		return 0, &OpError{Op: "CreateSubmission", Entity: "workflow", ID: sub.WorkflowID, Err: err}
	}

	return sub.ID, nil
}

// SubmissionByID loads a submission with its jobscripts.
func (s *Store) SubmissionByID(ctx context.Context, id uint) (*models.Submission, error) {
	var sub models.Submission

	err := s.db.WithContext(ctx).
		Preload("Jobscripts", func(db *gorm.DB) *gorm.DB {
			return db.Order("id")
		}).
		First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OpError{Op: "SubmissionByID", Entity: "submission", ID: id, Err: ErrSubmissionNotFound}
		}

		return nil, &OpError{Op: "SubmissionByID", Entity: "submission", ID: id, Err: err}
	}

	return &sub, nil
}

// JobscriptByID loads one jobscript record.
func (s *Store) JobscriptByID(ctx context.Context, id uint) (*models.Jobscript, error) {
	var js models.Jobscript

	err := s.db.WithContext(ctx).First(&js, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &OpError{Op: "JobscriptByID", Entity: "jobscript", ID: id, Err: ErrJobscriptNotFound}
		}

		return nil, &OpError{Op: "JobscriptByID", Entity: "jobscript", ID: id, Err: err}
	}

	return &js, nil
}

// SetJobscriptPath records where a jobscript file was written.
func (s *Store) SetJobscriptPath(ctx context.Context, jobscriptID uint, path string) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Jobscript{}).Where("id = ?", jobscriptID).
			Update("path", path).Error
	})
	if err != nil {
		return &OpError{Op: "SetJobscriptPath", Entity: "jobscript", ID: jobscriptID, Err: err}
	}

	return nil
}

// MarkDispatched records a successful bridge dispatch for one
// jobscript. Undispatched scripts stay pending so a retry after a
// mid-dispatch failure completes the submission without duplicates.
func (s *Store) MarkDispatched(ctx context.Context, jobscriptID uint, handle string) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Jobscript{}).Where("id = ?", jobscriptID).
			Updates(map[string]any{
				"scheduler_handle": handle,
				"dispatched":       true,
			}).Error
	})
	if err != nil {
		return &OpError{Op: "MarkDispatched", Entity: "jobscript", ID: jobscriptID, Err: err}
	}

	return nil
}

// AcquireCommandWriting takes the per-jobscript command-writing lock.
// It returns false when another runtime hook holds it; the caller
// sleeps and re-checks whether the commands are already written.
func (s *Store) AcquireCommandWriting(ctx context.Context, jobscriptID uint) (bool, error) {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(&models.CommandWriting{JobscriptID: jobscriptID}).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}

		return false, &OpError{Op: "AcquireCommandWriting", Entity: "jobscript", ID: jobscriptID, Err: err}
	}

	return true, nil
}

// ReleaseCommandWriting drops the command-writing lock row.
func (s *Store) ReleaseCommandWriting(ctx context.Context, jobscriptID uint) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Where("jobscript_id = ?", jobscriptID).
			Delete(&models.CommandWriting{}).Error
	})
	if err != nil {
		return &OpError{Op: "ReleaseCommandWriting", Entity: "jobscript", ID: jobscriptID, Err: err}
	}

	return nil
}

// MarkCommandsWritten flips the jobscript's written flag; later array
// tasks skip the write entirely.
func (s *Store) MarkCommandsWritten(ctx context.Context, jobscriptID uint) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Jobscript{}).Where("id = ?", jobscriptID).
			Update("commands_written", true).Error
	})
	if err != nil {
		return &OpError{Op: "MarkCommandsWritten", Entity: "jobscript", ID: jobscriptID, Err: err}
	}

	return nil
}

// StartArchive opens an archive operation for a task. At most one may
// be active: an open row (no end time) blocks a second start.
func (s *Store) StartArchive(ctx context.Context, taskID uint, destination string, at time.Time) (*models.ArchiveOperation, error) {
	op := &models.ArchiveOperation{TaskID: taskID, Destination: destination, StartTime: at}

	err := s.transact(ctx, func(tx *gorm.DB) error {
		var active int64

		err := tx.Model(&models.ArchiveOperation{}).
			Where("task_id = ? AND end_time IS NULL", taskID).
			Count(&active).Error
		if err != nil {
			return err
		}

		if active > 0 {
			return ErrArchiveActive
		}

		return tx.Create(op).Error
	})
	if err != nil {
		return nil, &OpError{Op: "StartArchive", Entity: "task", ID: taskID, Err: err}
	}

	return op, nil
}

// EndArchive closes an archive operation.
func (s *Store) EndArchive(ctx context.Context, opID uint, at time.Time) error {
	err := s.transact(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.ArchiveOperation{}).Where("id = ?", opID).
			Update("end_time", at).Error
	})
	if err != nil {
		return &OpError{Op: "EndArchive", Entity: "archive operation", ID: opID, Err: err}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint violation")
}
