package structs

import "github.com/hashicorp/go-set/v3"

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskScheduled TaskState = "scheduled"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Task is one unit of work within a job.
type Task struct {
	ID           string
	JobID        string
	Requirement  Resources
	Duration     float64 // virtual seconds
	State        TaskState
	MachineID    string // empty unless scheduled or running
	StartTime    float64
	EndTime      float64
	Dependencies *set.Set[string] // task ids that must complete before this task may run
}

// NewTask constructs a pending task with no machine assignment.
func NewTask(id, jobID string, req Resources, duration float64) *Task {
	return &Task{
		ID:           id,
		JobID:        jobID,
		Requirement:  req,
		Duration:     duration,
		State:        TaskPending,
		Dependencies: set.New[string](0),
	}
}

// RequiresGPU reports whether the task's requirement includes GPU.
func (t *Task) RequiresGPU() bool {
	return t.Requirement.GPUCount > 0
}

// Clone returns a deep, independent copy of t.
func (t *Task) Clone() *Task {
	clone := *t
	clone.Dependencies = t.Dependencies.Copy()
	return &clone
}
