// Package scheduler implements the independent scheduler actors that plan
// placements off a cell snapshot and submit them as transactions (spec
// §4.2). Each scheduler owns its queue and stats; only the commit call
// touches shared cell state, matching §5's concurrency requirement that
// plan phases never mutate shared state.
package scheduler

import (
	"github.com/hashicorp/go-set/v3"

	"github.com/cellsched/cellsched/structs"
)

// JobSubmission is a job queued at a scheduler, along with the task
// records needed to plan it and the bookkeeping a retry loop needs.
type JobSubmission struct {
	Job        *structs.Job
	Tasks      map[string]*structs.Task // task id -> task, as of enqueue time
	EnqueuedAt float64
	Retries    int
	// ExtendedOnce records whether this job's retry budget has already
	// been granted its one-time extension on exhaustion (§7: "re-queued
	// with increased retry budget once, then marked failed").
	ExtendedOnce bool
	// Pending is the set of task ids not yet successfully scheduled; it
	// shrinks across retries as an incremental transaction makes partial
	// progress, matching §4.2's "re-queue the remaining tasks" behavior.
	Pending *set.Set[string]
	// ExtraTaskIDs marks task ids cloned opportunistically by the
	// MapReduce scheduler (§4.2.3); a rejected placement for one of these
	// is dropped silently instead of triggering the normal retry policy.
	// Left nil by every other scheduler.
	ExtraTaskIDs *set.Set[string]
}

// NewJobSubmission wraps a job and its tasks for scheduling, with every
// task initially pending.
func NewJobSubmission(job *structs.Job, tasks map[string]*structs.Task, now float64) *JobSubmission {
	pending := set.New[string](len(job.Tasks))
	for _, id := range job.Tasks {
		pending.Insert(id)
	}
	return &JobSubmission{
		Job:        job,
		Tasks:      tasks,
		EnqueuedAt: now,
		Pending:    pending,
	}
}

// PlanResult is what a scheduler's policy produces for one cycle: a
// transaction to submit, plus any opportunistically cloned tasks (the
// MapReduce scheduler's extras) that must be registered with the cell
// before the transaction can reference them.
type PlanResult struct {
	Transaction *structs.Transaction
	ExtraTasks  []*structs.Task
	// Infeasible lists task ids for which no machine in the cluster could
	// ever satisfy the requirement, regardless of current load — §7's
	// "infeasible job" condition. The simulator fails the job immediately
	// rather than retrying.
	Infeasible []string
}

// ResultAction tells the simulator what happened after a commit and what
// it should do next: which tasks actually started running (and so need a
// task_completion scheduled), whether to retry, and whether the job is
// now done or has failed outright.
type ResultAction struct {
	StartedTaskIDs []string
	RetryAfter     float64 // virtual seconds to wait before the next activation; 0 means "now"
	ShouldRetry    bool
	JobFailed      bool
	JobDone        bool
}

// Scheduler is the common capability set every scheduler actor
// implements, dispatched by type tag rather than a runtime type
// hierarchy (§9 "Polymorphic schedulers").
type Scheduler interface {
	ID() string
	Accepts(jobType structs.JobType) bool
	Enqueue(js *JobSubmission)
	Dequeue() *JobSubmission // nil if the queue is empty
	Requeue(js *JobSubmission)
	Len() int

	// DecisionLatency returns the virtual time a plan–commit cycle for a
	// job with numTasks tasks takes, per §4.2's decision_time_job +
	// decision_time_task * |tasks| formula.
	DecisionLatency(numTasks int) float64

	MaxRetries() int

	// Plan builds a transaction for js against snap. It must not mutate
	// shared state.
	Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult

	// OnResult updates the scheduler's own stats and queue state after a
	// commit, and reports what the simulator should do next. latency is
	// the decision latency just charged for this cycle; now is the
	// virtual time at which the commit completed (used for wait-time
	// stats).
	OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction

	Stats() structs.SchedulerStats
}
