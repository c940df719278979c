package scheduler

import (
	"github.com/hashicorp/go-hclog"

	"github.com/cellsched/cellsched/structs"
)

const defaultMaxRetries = 3

// Base holds the fields and queue/stat bookkeeping shared by every
// scheduler implementation, the way jorgemarey's ServiceScheduler and
// nomad's generic scheduler code factor out logger/state/planner fields
// and let each scheduler type override only its placement policy.
type Base struct {
	id     string
	logger hclog.Logger

	decisionTimeJob  float64
	decisionTimeTask float64
	maxRetries       int

	queue []*JobSubmission

	jobsScheduled  int
	tasksScheduled int
	conflicts      int
	busyTime       float64
	waitTimeSum    float64
	waitSamples    int
}

// NewBase constructs the shared scheduler state. maxRetries defaults to 3
// (§4.2) when given as 0.
func NewBase(id string, logger hclog.Logger, decisionTimeJob, decisionTimeTask float64, maxRetries int) Base {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return Base{
		id:               id,
		logger:           logger.Named("scheduler." + id),
		decisionTimeJob:  decisionTimeJob,
		decisionTimeTask: decisionTimeTask,
		maxRetries:       maxRetries,
	}
}

func (b *Base) ID() string { return b.id }

func (b *Base) DecisionLatency(numTasks int) float64 {
	return b.decisionTimeJob + b.decisionTimeTask*float64(numTasks)
}

func (b *Base) MaxRetries() int { return b.maxRetries }

// Enqueue appends to the tail of a plain FIFO queue; PriorityScheduler and
// WeightedRoundRobinScheduler override ordering by embedding Base and
// replacing Dequeue.
func (b *Base) Enqueue(js *JobSubmission) {
	b.queue = append(b.queue, js)
}

func (b *Base) Dequeue() *JobSubmission {
	if len(b.queue) == 0 {
		return nil
	}
	js := b.queue[0]
	b.queue = b.queue[1:]
	return js
}

// Requeue puts a job back at the front of the queue so it is the next one
// retried, matching §4.2's retry-before-new-work intent.
func (b *Base) Requeue(js *JobSubmission) {
	b.queue = append([]*JobSubmission{js}, b.queue...)
}

func (b *Base) Len() int { return len(b.queue) }

func (b *Base) recordWait(js *JobSubmission, now float64) {
	b.waitTimeSum += now - js.EnqueuedAt
	b.waitSamples++
}

func (b *Base) recordCycle(latency float64, accepted, conflicts int, jobDone bool) {
	b.busyTime += latency
	b.tasksScheduled += accepted
	b.conflicts += conflicts
	if jobDone {
		b.jobsScheduled++
	}
}

func (b *Base) Stats() structs.SchedulerStats {
	var conflictRate float64
	if b.tasksScheduled+b.conflicts > 0 {
		conflictRate = float64(b.conflicts) / float64(b.tasksScheduled+b.conflicts)
	}
	var avgWait float64
	if b.waitSamples > 0 {
		avgWait = b.waitTimeSum / float64(b.waitSamples)
	}
	return structs.SchedulerStats{
		ID:             b.id,
		JobsScheduled:  b.jobsScheduled,
		TasksScheduled: b.tasksScheduled,
		Conflicts:      b.conflicts,
		ConflictRate:   conflictRate,
		BusyTime:       b.busyTime,
		AvgWaitTime:    avgWait,
	}
}

// HandleResult implements the common retry/exhaustion policy from §4.2
// and §7, shared by every scheduler except MapReduce (whose extras are
// best-effort and never retried). It removes successfully placed tasks
// from js.Pending, records stats, and decides whether to retry, finish,
// or fail the job.
func (b *Base) HandleResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	var started []string
	rejected := 0
	for _, o := range result.Outcomes {
		if o.Accepted {
			js.Pending.Remove(o.TaskID)
			started = append(started, o.TaskID)
		} else {
			rejected++
		}
	}

	jobDone := js.Pending.Empty()
	b.recordCycle(latency, len(started), rejected, jobDone)
	b.recordWait(js, now)

	if jobDone {
		return ResultAction{StartedTaskIDs: started, JobDone: true}
	}

	js.Retries++
	if js.Retries <= b.maxRetries {
		return ResultAction{
			StartedTaskIDs: started,
			ShouldRetry:    true,
			RetryAfter:     RetryBackoff(js.Retries - 1),
		}
	}

	if !js.ExtendedOnce {
		js.ExtendedOnce = true
		js.Retries = 0
		b.logger.Debug("retry budget exhausted, granting one-time extension", "job", js.Job.ID)
		return ResultAction{
			StartedTaskIDs: started,
			ShouldRetry:    true,
			RetryAfter:     RetryBackoff(0),
		}
	}

	return ResultAction{StartedTaskIDs: started, JobFailed: true}
}

// RetryBackoff computes exponential backoff in virtual time for the
// attempt'th retry (0-indexed), per §4.2: "retry up to max_retries with
// exponential backoff in virtual time."
func RetryBackoff(attempt int) float64 {
	base := 0.5 // seconds
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}
