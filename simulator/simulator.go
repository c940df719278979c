// Package simulator implements the deterministic discrete-event kernel
// that drives job arrivals, scheduler decision cycles, task completions,
// and machine failures over a shared cell.Cell, mirroring
// inference-sim/sim/cluster.ClusterSimulator's event-queue-driven run
// loop (§4.4, §5 "single-threaded simulation").
package simulator

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/cellsched/cellsched/cell"
	"github.com/cellsched/cellsched/metrics"
	"github.com/cellsched/cellsched/scheduler"
	"github.com/cellsched/cellsched/structs"
	"github.com/cellsched/cellsched/workload"
)

// pendingCommit is the transaction built during a scheduler's "start"
// phase, carried over to its "commit" phase decision-latency seconds
// later.
type pendingCommit struct {
	js          *scheduler.JobSubmission
	transaction *structs.Transaction
	latency     float64
}

// depWait tracks a placed-but-not-yet-running task that is waiting on
// one or more predecessors to complete (§9 open question: a task starts
// at max(scheduler_decision_time, predecessor_end_time)).
type depWait struct {
	remaining  int
	commitTime float64
	machineID  string
}

// Simulator owns the event queue and all run-scoped bookkeeping for one
// simulation.
type Simulator struct {
	logger   hclog.Logger
	cell     *cell.Cell
	registry *scheduler.Registry
	gen      *workload.Generator
	failures *failureInjector
	cfg      Config

	queue eventHeap
	seq   int64
	clock float64

	schedulerBusy   map[string]bool
	pendingByID     map[string]*pendingCommit // keyed by scheduler id; one in-flight decision per scheduler
	pendingRequeue  map[int64]*scheduler.JobSubmission
	pendingArrivals map[string]arrivalPayload

	taskEndTime map[string]float64
	depWaiting  map[string]*depWait

	// jobs retains every job record seen so far, so a machine failure can
	// rebuild a JobSubmission for re-queuing without the cell (which only
	// tracks tasks and machines) having to store jobs itself.
	jobs map[string]*structs.Job

	jobTraces     map[string]*structs.JobTrace
	completedJobs int
	failedJobs    int

	rec *metrics.Recorder
}

// SetRecorder attaches a metrics recorder; nil (the default) disables
// metrics emission entirely.
func (s *Simulator) SetRecorder(r *metrics.Recorder) { s.rec = r }

// New constructs a simulator wired to c, the scheduler registry, and the
// workload generator, ready to Run.
func New(logger hclog.Logger, c *cell.Cell, registry *scheduler.Registry, gen *workload.Generator, cfg Config) *Simulator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Simulator{
		logger:          logger.Named("simulator"),
		cell:            c,
		registry:        registry,
		gen:             gen,
		failures:        newFailureInjector(cfg),
		cfg:             cfg,
		schedulerBusy:   make(map[string]bool),
		pendingByID:     make(map[string]*pendingCommit),
		pendingRequeue:  make(map[int64]*scheduler.JobSubmission),
		pendingArrivals: make(map[string]arrivalPayload),
		taskEndTime:     make(map[string]float64),
		depWaiting:      make(map[string]*depWait),
		jobs:            make(map[string]*structs.Job),
		jobTraces:       make(map[string]*structs.JobTrace),
	}
}

func (s *Simulator) schedule(e *Event) {
	e.Seq = s.seq
	s.seq++
	heap.Push(&s.queue, e)
}

// Run drains the event queue until no event remains at or before
// cfg.Duration, then returns the accumulated results. An invariant
// violation anywhere in the loop is raised as a panic and recovered here,
// converted to a terminal error with diagnostics (§7).
func (s *Simulator) Run() (result *structs.Results, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(error); ok {
				err = fmt.Errorf("simulation aborted at t=%.6f: %w", s.clock, ie)
				return
			}
			err = fmt.Errorf("simulation aborted at t=%.6f: %v", s.clock, r)
		}
	}()

	s.primeFailureInjector()
	s.primeWorkload()

	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.Time > s.cfg.Duration {
			break
		}
		ev := heap.Pop(&s.queue).(*Event)
		s.clock = ev.Time
		s.handle(ev)
	}

	return s.buildResults(), nil
}

func (s *Simulator) handle(ev *Event) {
	switch ev.Type {
	case EventJobArrival:
		s.handleJobArrival(ev)
	case EventSchedulerActivation:
		s.handleActivation(ev)
	case EventTaskCompletion:
		s.handleTaskCompletion(ev)
	case EventMachineFailure:
		s.handleMachineFailure(ev)
	case EventMachineRecovery:
		s.handleMachineRecovery(ev)
	}
}

// --- workload / job arrival ---------------------------------------------

func (s *Simulator) primeWorkload() {
	if !s.gen.HasNext() {
		return
	}
	at, job, tasks := s.gen.Next()
	s.scheduleArrival(at, job, tasks)
}

func (s *Simulator) scheduleArrival(at float64, job *structs.Job, tasks map[string]*structs.Task) {
	s.jobTraces[job.ID] = &structs.JobTrace{JobID: job.ID, Type: job.Type, SubmitTime: at}
	s.jobs[job.ID] = job
	s.pendingArrivals[job.ID] = arrivalPayload{job: job, tasks: tasks}
	s.schedule(&Event{Time: at, Type: EventJobArrival, JobID: job.ID})
}

type arrivalPayload struct {
	job   *structs.Job
	tasks map[string]*structs.Task
}

func (s *Simulator) handleJobArrival(ev *Event) {
	payload := s.pendingArrivals[ev.JobID]
	delete(s.pendingArrivals, ev.JobID)

	for _, t := range payload.tasks {
		if err := s.cell.AddTask(t); err != nil {
			panic(fmt.Errorf("registering task %s: %w", t.ID, err))
		}
	}

	if s.gen.HasNext() {
		at, job, tasks := s.gen.Next()
		s.scheduleArrival(at, job, tasks)
	}

	sched := s.registry.RouteFor(payload.job.Type)
	if sched == nil {
		s.logger.Warn("no scheduler accepts job type, dropping", "job", payload.job.ID, "type", payload.job.Type)
		return
	}

	js := scheduler.NewJobSubmission(payload.job, payload.tasks, s.clock)
	sched.Enqueue(js)
	s.maybeActivate(sched)
}

// maybeActivate kicks off a scheduler's decision cycle if it is idle and
// has queued work (§4.2's "independent planners" loop).
func (s *Simulator) maybeActivate(sched scheduler.Scheduler) {
	if s.schedulerBusy[sched.ID()] || sched.Len() == 0 {
		return
	}
	s.schedulerBusy[sched.ID()] = true
	s.schedule(&Event{Time: s.clock, Type: EventSchedulerActivation, SchedulerID: sched.ID(), Phase: PhaseStart})
}

// --- scheduler activation: start / commit / requeue ---------------------

func (s *Simulator) handleActivation(ev *Event) {
	switch ev.Phase {
	case PhaseStart:
		s.handleActivationStart(ev)
	case PhaseCommit:
		s.handleActivationCommit(ev)
	case PhaseRequeue:
		s.handleActivationRequeue(ev)
	}
}

func (s *Simulator) handleActivationStart(ev *Event) {
	sched := s.registry.Get(ev.SchedulerID)
	js := sched.Dequeue()
	if js == nil {
		s.schedulerBusy[ev.SchedulerID] = false
		return
	}

	snap := s.cell.Snapshot()
	planStart := time.Now()
	plan := sched.Plan(snap, js)
	if s.rec != nil {
		s.rec.SchedulingLatency(ev.SchedulerID, planStart)
	}

	if len(plan.Infeasible) > 0 {
		s.logger.Warn("job has infeasible tasks, failing immediately",
			"job", js.Job.ID, "tasks", plan.Infeasible, "err", scheduler.ErrInfeasible)
		s.failJob(js.Job.ID)
		s.schedulerBusy[ev.SchedulerID] = false
		s.maybeActivate(sched)
		return
	}
	for _, extra := range plan.ExtraTasks {
		if err := s.cell.AddTask(extra); err != nil {
			panic(fmt.Errorf("registering mapreduce extra task %s: %w", extra.ID, err))
		}
	}

	latency := sched.DecisionLatency(len(plan.Transaction.Placements))
	s.pendingByID[ev.SchedulerID] = &pendingCommit{js: js, transaction: plan.Transaction, latency: latency}
	s.schedule(&Event{Time: s.clock + latency, Type: EventSchedulerActivation, SchedulerID: ev.SchedulerID, Phase: PhaseCommit})
}

func (s *Simulator) handleActivationCommit(ev *Event) {
	pending := s.pendingByID[ev.SchedulerID]
	delete(s.pendingByID, ev.SchedulerID)

	result, err := s.cell.Commit(pending.transaction)
	if err != nil {
		panic(fmt.Errorf("committing transaction from %s: %w", ev.SchedulerID, err))
	}
	if err := s.cell.CheckInvariants(uint64(s.seq)); err != nil {
		panic(err)
	}

	if s.rec != nil {
		accepted, rejected := 0, 0
		for _, o := range result.Outcomes {
			if o.Accepted {
				accepted++
			} else {
				rejected++
			}
		}
		s.rec.TransactionCommitted(ev.SchedulerID, accepted, rejected)
		s.rec.Utilization(s.cell.Utilization())
	}

	for _, o := range result.Outcomes {
		if o.Accepted {
			s.onTaskPlaced(o.TaskID, o.MachineID, s.clock)
		}
	}

	sched := s.registry.Get(ev.SchedulerID)
	action := sched.OnResult(pending.js, result, pending.latency, s.clock)

	if trace := s.jobTraces[pending.js.Job.ID]; trace != nil && trace.ScheduledAt == 0 && len(action.StartedTaskIDs) > 0 {
		trace.ScheduledAt = s.clock
	}

	switch {
	case action.JobDone:
		// Scheduling is done; the job itself is marked complete by
		// checkJobCompletion as its tasks' task_completion events land.
		s.schedulerBusy[ev.SchedulerID] = false
		s.maybeActivate(sched)
	case action.JobFailed:
		s.logger.Warn("job exhausted its retry budget, failing", "job", pending.js.Job.ID, "err", scheduler.ErrExhausted)
		s.failJob(pending.js.Job.ID)
		s.schedulerBusy[ev.SchedulerID] = false
		s.maybeActivate(sched)
	case action.ShouldRetry:
		s.schedulerBusy[ev.SchedulerID] = false
		retryEvent := &Event{Time: s.clock + action.RetryAfter, Type: EventSchedulerActivation, SchedulerID: ev.SchedulerID, Phase: PhaseRequeue}
		s.schedule(retryEvent)
		s.pendingRequeue[retryEvent.Seq] = pending.js
		s.maybeActivate(sched)
	default:
		s.schedulerBusy[ev.SchedulerID] = false
		s.maybeActivate(sched)
	}
}

func (s *Simulator) handleActivationRequeue(ev *Event) {
	js := s.pendingRequeue[ev.Seq]
	delete(s.pendingRequeue, ev.Seq)
	sched := s.registry.Get(ev.SchedulerID)
	sched.Requeue(js)
	s.maybeActivate(sched)
}

// --- dependency-gated task start / completion ---------------------------

func (s *Simulator) onTaskPlaced(taskID, machineID string, commitTime float64) {
	task := s.cell.GetTask(taskID)
	if task == nil {
		return
	}
	if task.Dependencies.Empty() {
		s.startTask(taskID, machineID, commitTime)
		return
	}

	remaining := 0
	maxEnd := 0.0
	for _, dep := range task.Dependencies.Slice() {
		if end, done := s.taskEndTime[dep]; done {
			if end > maxEnd {
				maxEnd = end
			}
			continue
		}
		remaining++
	}
	if remaining == 0 {
		s.startTask(taskID, machineID, math.Max(commitTime, maxEnd))
		return
	}
	s.depWaiting[taskID] = &depWait{remaining: remaining, commitTime: commitTime, machineID: machineID}
}

func (s *Simulator) startTask(taskID, machineID string, start float64) {
	if err := s.cell.SetRunning(taskID, start); err != nil {
		panic(fmt.Errorf("starting task %s: %w", taskID, err))
	}
	task := s.cell.GetTask(taskID)
	s.schedule(&Event{Time: start + task.Duration, Type: EventTaskCompletion, TaskID: taskID, MachineID: machineID, JobID: task.JobID})
}

func (s *Simulator) handleTaskCompletion(ev *Event) {
	task := s.cell.GetTask(ev.TaskID)
	if task == nil || task.State != structs.TaskRunning || task.StartTime+task.Duration != ev.Time {
		return // stale event: the task was released by a machine failure (and possibly placed and started again since)
	}

	s.taskEndTime[ev.TaskID] = s.clock
	if err := s.cell.Release(ev.TaskID, false, s.clock); err != nil {
		panic(fmt.Errorf("releasing task %s: %w", ev.TaskID, err))
	}

	for _, depID := range dependentsOf(s.cell, ev.JobID, ev.TaskID) {
		dw, ok := s.depWaiting[depID]
		if !ok {
			continue
		}
		dw.remaining--
		if s.clock > dw.commitTime {
			dw.commitTime = s.clock
		}
		if dw.remaining <= 0 {
			delete(s.depWaiting, depID)
			s.startTask(depID, dw.machineID, math.Max(dw.commitTime, s.clock))
		}
	}

	s.checkJobCompletion(ev.JobID)
}

// dependentsOf resolves which of jobID's tasks list taskID as a
// dependency, via each task's Dependencies set as stored in the cell.
func dependentsOf(c *cell.Cell, jobID, taskID string) []string {
	var out []string
	for _, t := range c.TasksForJob(jobID) {
		if t.Dependencies.Contains(taskID) {
			out = append(out, t.ID)
		}
	}
	return out
}

// checkJobCompletion marks a job trace completed once every one of its
// tasks has reached a terminal state (§2 "completed when all its tasks
// are completed"). Tasks released by a machine failure are reset to
// pending by requeueAffectedJobs before their job is re-routed, so they
// are never seen here in the failed state; if no scheduler accepts the
// job's type they simply stay pending and the job stays open. A job with
// any task in the failed state is counted as failed, never completed.
func (s *Simulator) checkJobCompletion(jobID string) {
	tasks := s.cell.TasksForJob(jobID)
	if len(tasks) == 0 {
		return
	}
	anyFailed := false
	for _, t := range tasks {
		switch t.State {
		case structs.TaskFailed:
			anyFailed = true
		case structs.TaskCompleted:
		default:
			return
		}
	}
	if anyFailed {
		s.failJob(jobID)
		return
	}

	trace := s.jobTraces[jobID]
	if trace == nil || trace.CompletedAt != 0 {
		return
	}
	trace.CompletedAt = s.clock
	s.completedJobs++
	if s.rec != nil {
		s.rec.JobOutcome(trace.Type, false)
	}
}

func (s *Simulator) failJob(jobID string) {
	if trace := s.jobTraces[jobID]; trace != nil && trace.CompletedAt == 0 {
		trace.Failed = true
		trace.CompletedAt = s.clock
		s.failedJobs++
		if s.rec != nil {
			s.rec.JobOutcome(trace.Type, true)
		}
	}
}

// --- machine failure / recovery ------------------------------------------

func (s *Simulator) primeFailureInjector() {
	if !s.failures.enabled() {
		return
	}
	n := len(s.cell.Snapshot().Machines)
	s.schedule(&Event{Time: s.failures.nextFailureGap(n), Type: EventMachineFailure})
}

func (s *Simulator) handleMachineFailure(ev *Event) {
	snap := s.cell.Snapshot()
	var healthy []string
	for id, m := range snap.Machines {
		if m.State == structs.MachineHealthy {
			healthy = append(healthy, id)
		}
	}
	sort.Strings(healthy) // map order is random; sort so the pick replays per seed

	if len(healthy) > 0 {
		idx := s.failures.pickHealthy(len(healthy))
		machineID := healthy[idx]
		affected, err := s.cell.FailMachine(machineID, s.clock)
		if err != nil {
			panic(fmt.Errorf("failing machine %s: %w", machineID, err))
		}
		s.logger.Debug("machine failed", "machine", machineID, "tasks_affected", len(affected))
		s.requeueAffectedJobs(affected)
		s.schedule(&Event{Time: s.clock + s.failures.nextRecoveryGap(), Type: EventMachineRecovery, MachineID: machineID})
	}

	s.schedule(&Event{Time: s.clock + s.failures.nextFailureGap(len(snap.Machines)), Type: EventMachineFailure})
}

// requeueAffectedJobs implements the machine-failure protocol's other
// half (§4.1, §4.4: "affected jobs are re-queued to the appropriate
// scheduler"). Every task FailMachine just released is reset from failed
// back to pending, and each distinct owning job is resubmitted to its
// scheduler covering only its still-incomplete tasks — tasks already
// completed, or still running on other machines, are left alone.
func (s *Simulator) requeueAffectedJobs(affectedTaskIDs []string) {
	jobIDs := set.New[string](len(affectedTaskIDs))
	for _, taskID := range affectedTaskIDs {
		if task := s.cell.GetTask(taskID); task != nil {
			jobIDs.Insert(task.JobID)
		}
	}

	for _, jobID := range jobIDs.Slice() {
		for _, t := range s.cell.TasksForJob(jobID) {
			if t.State != structs.TaskFailed {
				continue
			}
			if err := s.cell.ResetTask(t.ID); err != nil {
				panic(fmt.Errorf("resetting failed task %s: %w", t.ID, err))
			}
		}
		s.requeueJob(jobID)
	}
}

// requeueJob rebuilds a JobSubmission covering jobID's pending tasks and
// re-enqueues it at its owning scheduler, the same way handleJobArrival
// enqueues a job's first submission.
func (s *Simulator) requeueJob(jobID string) {
	job := s.jobs[jobID]
	if job == nil {
		return
	}

	tasks := make(map[string]*structs.Task)
	pending := set.New[string](0)
	for _, t := range s.cell.TasksForJob(jobID) {
		if t.State == structs.TaskPending {
			tasks[t.ID] = t
			pending.Insert(t.ID)
		}
	}
	if pending.Empty() {
		return
	}

	sched := s.registry.RouteFor(job.Type)
	if sched == nil {
		s.logger.Warn("no scheduler accepts job type, cannot re-queue after machine failure", "job", job.ID, "type", job.Type)
		return
	}

	js := &scheduler.JobSubmission{
		Job:        job,
		Tasks:      tasks,
		EnqueuedAt: s.clock,
		Pending:    pending,
	}
	sched.Enqueue(js)
	s.maybeActivate(sched)
}

func (s *Simulator) handleMachineRecovery(ev *Event) {
	if err := s.cell.RecoverMachine(ev.MachineID); err != nil {
		panic(fmt.Errorf("recovering machine %s: %w", ev.MachineID, err))
	}
}

// --- results --------------------------------------------------------------

func (s *Simulator) buildResults() *structs.Results {
	schedulers := make(map[string]structs.SchedulerStats)
	for _, sched := range s.registry.All() {
		schedulers[sched.ID()] = sched.Stats()
	}

	counters := s.cell.Counters()
	var conflictRate float64
	if counters.TotalTransactions > 0 {
		conflictRate = float64(counters.TotalConflicts) / float64(counters.TotalTransactions)
	}

	traces := make([]structs.JobTrace, 0, len(s.jobTraces))
	for _, t := range s.jobTraces {
		traces = append(traces, *t)
	}

	return &structs.Results{
		SimulationTime: s.clock,
		CompletedJobs:  s.completedJobs,
		FailedJobs:     s.failedJobs,
		Schedulers:     schedulers,
		Cell: structs.CellStats{
			TotalTransactions: counters.TotalTransactions,
			TotalCommits:      counters.TotalCommits,
			TotalConflicts:    counters.TotalConflicts,
			ConflictRate:      conflictRate,
			Utilization:       s.cell.Utilization(),
		},
		JobTraces: traces,
	}
}
