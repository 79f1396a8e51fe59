package models

import "time"

// TaskRange selects tasks from one channel: half-open [Start, End) with a
// step. End nil means "to the end of the channel's task vector".
type TaskRange struct {
	Start int  `json:"start"         yaml:"start"          validate:"gte=0"`
	End   *int `json:"end,omitempty" yaml:"end,omitempty"`
	Step  int  `json:"step"          yaml:"step"           validate:"gte=0"`
}

// AllTasks is the range covering a whole channel.
func AllTasks() TaskRange {
	return TaskRange{Start: 0, End: nil, Step: 1}
}

// Indices expands the range against a task vector of the given length.
func (r TaskRange) Indices(length int) []int {
	step := r.Step
	if step == 0 {
		step = 1
	}

	end := length
	if r.End != nil && *r.End < length {
		end = *r.End
	}

	indices := make([]int, 0)

	for i := r.Start; i < end; i += step {
		indices = append(indices, i)
	}

	return indices
}

// Submission records one act of pushing a workflow subset to the
// scheduler: the selected ranges, the emitted jobscripts, and the hold
// chains between them.
type Submission struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	WorkflowID uint      `gorm:"index"      json:"workflow_id"`
	CreatedAt  time.Time `json:"created_at"`

	// TaskRanges has one entry per channel at the minimum execution
	// order; empty means all tasks from all channels.
	TaskRanges []TaskRange `gorm:"serializer:json" json:"task_ranges,omitempty"`

	Jobscripts []*Jobscript `gorm:"constraint:OnDelete:CASCADE" json:"jobscripts,omitempty"`
}

// Jobscript is the persisted record of one emitted jobscript: where it
// was written, which groups gate it, and the scheduler handle once
// dispatched.
type Jobscript struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	SubmissionID   uint `gorm:"index"      json:"submission_id"`
	CommandGroupID uint `gorm:"index"      json:"command_group_id"`

	Path string `json:"path"`

	// TaskIndices is the effective task selection for this jobscript.
	TaskIndices []int `gorm:"serializer:json" json:"task_indices"`

	// DependsOn lists command-group ids whose jobscripts must complete
	// first; translated into scheduler holds at dispatch.
	DependsOn []uint `gorm:"serializer:json" json:"depends_on,omitempty"`

	// SchedulerHandle is empty until dispatch succeeds for this script.
	SchedulerHandle string `json:"scheduler_handle,omitempty"`
	Dispatched      bool   `gorm:"default:false" json:"dispatched"`

	// CommandsWritten is flipped by the first runtime writer; later
	// array tasks of the same group skip the write.
	CommandsWritten bool `gorm:"default:false" json:"commands_written"`
}

// CommandWriting is the at-most-one-writer lock row taken while a
// runtime hook materializes command and variable files for a jobscript.
type CommandWriting struct {
	ID          uint `gorm:"primaryKey"`
	JobscriptID uint `gorm:"uniqueIndex"`
}

// Iteration re-runs a workflow with fresh task rows over the shared
// command-group skeleton.
type Iteration struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	WorkflowID uint      `gorm:"index;uniqueIndex:idx_workflow_iter"            json:"workflow_id"`
	Index      int       `gorm:"column:iter_index;uniqueIndex:idx_workflow_iter" json:"index"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArchiveOperation records archiving a task working directory to an
// external location. An open row (EndTime nil) is the at-most-one-active
// lock for its task.
type ArchiveOperation struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	TaskID uint `gorm:"index"      json:"task_id"`

	Destination string     `json:"destination,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}
