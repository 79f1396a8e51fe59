package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // Created, not yet handed to the scheduler
	TaskStatusSubmitted TaskStatus = "submitted" // Dispatched, waiting for a slot
	TaskStatusRunning   TaskStatus = "running"   // Start recorded by the runtime hook
	TaskStatusComplete  TaskStatus = "complete"  // Terminal, exit status zero
	TaskStatusFailed    TaskStatus = "failed"    // Terminal, non-zero exit or cancellation
)

var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusSubmitted: true,
		TaskStatusFailed:    true, // cancelled before dispatch
	},
	TaskStatusSubmitted: {
		TaskStatusRunning: true,
		TaskStatusFailed:  true,
	},
	TaskStatusRunning: {
		TaskStatusComplete: true,
		TaskStatusFailed:   true,
	},
}

// CanTransition reports whether from -> to is a legal status move.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	return taskTransitions[s][to]
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed
}

// Task is one execution of a command group at one row of its value
// matrix. Archived is orthogonal to status: a tag applied after a
// terminal state.
type Task struct {
	ID             uint `gorm:"primaryKey"                                json:"id"`
	CommandGroupID uint `gorm:"index;uniqueIndex:idx_group_iter_task"     json:"command_group_id"`
	SubmissionID   uint `gorm:"index"                                     json:"submission_id"`

	// IterationID scopes task uniqueness: iterations share the workflow
	// skeleton but carry independent task rows.
	IterationID uint `gorm:"uniqueIndex:idx_group_iter_task" json:"iteration_id"`

	// TaskIndex is 0-based within the group's task vector.
	TaskIndex int `gorm:"uniqueIndex:idx_group_iter_task" json:"task_index"`

	// SchedulerTaskID is assigned once the scheduler accepts the job.
	SchedulerTaskID string `json:"scheduler_task_id,omitempty"`

	Status     TaskStatus `gorm:"not null;default:pending" json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	ExitStatus *int       `json:"exit_status,omitempty"`

	// Reason records why a task failed outside command execution, e.g.
	// cancellation or a resolution error.
	Reason string `json:"reason,omitempty"`

	Archived bool `gorm:"default:false" json:"archived"`

	ArchiveOperations []*ArchiveOperation `gorm:"constraint:OnDelete:CASCADE" json:"archive_operations,omitempty"`
}

// Duration is the task wallclock, zero until both timestamps exist.
func (t *Task) Duration() time.Duration {
	if t.StartTime == nil || t.EndTime == nil {
		return 0
	}

	return t.EndTime.Sub(*t.StartTime)
}
