package scheduler

import (
	"container/heap"
	"math/rand/v2"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/cellsched/cellsched/structs"
)

// Generic decision latency for the simple policy variants. Build always
// uses these; a config entry's decision_time_job / decision_time_task
// values are not applied to any scheduler type.
const (
	SimpleDecisionTimeJob  = 0.05
	SimpleDecisionTimeTask = 0.005
)

// planBestEffort runs a plain placement pass over js's pending tasks using
// strategy, shared by every simple scheduler variant below.
func planBestEffort(id string, snap *structs.Snapshot, js *JobSubmission, strategy PlacementStrategy) PlanResult {
	ids := sortedMachineIDs(snap)
	ov := make(overlay)

	var placements []structs.Placement
	var infeasible []string
	for _, task := range pendingTasksInOrder(js) {
		machineID, ok := selectByStrategy(snap, ids, ov, task.Requirement, strategy)
		if !ok {
			if !feasibleAnywhere(snap, task.Requirement) {
				infeasible = append(infeasible, task.ID)
			}
			continue
		}
		ov.reserve(machineID, task.Requirement)
		placements = append(placements, structs.Placement{
			TaskID:             task.ID,
			MachineID:          machineID,
			ExpectedMachineVer: snap.Get(machineID).Version,
		})
	}

	mode := structs.ModeIncremental
	if js.Job.RequireGang {
		mode = structs.ModeGang
	}
	return PlanResult{
		Transaction: &structs.Transaction{SchedulerID: id, Mode: mode, Placements: placements},
		Infeasible:  infeasible,
	}
}

// --- PriorityScheduler ------------------------------------------------

// priorityQueue orders JobSubmissions by Job.Priority (higher first), with
// insertion sequence as the stable tie-break, via container/heap.
type priorityQueue struct {
	items   []*JobSubmission
	seq     []int64 // parallel slice: insertion sequence per item, for stable ties
	nextSeq int64
}

func (q *priorityQueue) Len() int { return len(q.items) }
func (q *priorityQueue) Less(i, j int) bool {
	if q.items[i].Job.Priority != q.items[j].Job.Priority {
		return q.items[i].Job.Priority > q.items[j].Job.Priority
	}
	return q.seq[i] < q.seq[j]
}
func (q *priorityQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.seq[i], q.seq[j] = q.seq[j], q.seq[i]
}
func (q *priorityQueue) Push(x any) {
	q.items = append(q.items, x.(*JobSubmission))
	q.seq = append(q.seq, q.nextSeq)
	q.nextSeq++
}
func (q *priorityQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	q.seq = q.seq[:n-1]
	return item
}

// PriorityScheduler dequeues the highest-priority job first instead of
// FIFO, per §9's polymorphic-scheduler variants.
type PriorityScheduler struct {
	Base
	strategy PlacementStrategy
	pq       priorityQueue
}

func NewPriorityScheduler(id string, logger hclog.Logger, strategy PlacementStrategy, maxRetries int) *PriorityScheduler {
	if strategy == "" {
		strategy = BestFit
	}
	return &PriorityScheduler{
		Base:     NewBase(id, logger, SimpleDecisionTimeJob, SimpleDecisionTimeTask, maxRetries),
		strategy: strategy,
	}
}

func (s *PriorityScheduler) Accepts(structs.JobType) bool { return true }

func (s *PriorityScheduler) Enqueue(js *JobSubmission) { heap.Push(&s.pq, js) }

func (s *PriorityScheduler) Dequeue() *JobSubmission {
	if s.pq.Len() == 0 {
		return nil
	}
	return heap.Pop(&s.pq).(*JobSubmission)
}

// Requeue re-enters the job at its normal priority rank rather than
// forcing it to the front, since priority (not recency) governs order
// here.
func (s *PriorityScheduler) Requeue(js *JobSubmission) { heap.Push(&s.pq, js) }

func (s *PriorityScheduler) Len() int { return s.pq.Len() }

func (s *PriorityScheduler) Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult {
	return planBestEffort(s.ID(), snap, js, s.strategy)
}

func (s *PriorityScheduler) OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	return s.HandleResult(js, result, latency, now)
}

// --- WeightedRoundRobinScheduler ---------------------------------------

// WeightedRoundRobinScheduler keeps one FIFO sub-queue per job type and
// serves them proportionally to configured weights rather than strict
// arrival order.
type WeightedRoundRobinScheduler struct {
	Base
	strategy PlacementStrategy
	weights  map[structs.JobType]int
	order    []structs.JobType // deterministic cycle order, fixed at construction
	queues   map[structs.JobType][]*JobSubmission
	credits  map[structs.JobType]int
	cursor   int
}

func NewWeightedRoundRobinScheduler(id string, logger hclog.Logger, strategy PlacementStrategy, weights map[structs.JobType]int, maxRetries int) *WeightedRoundRobinScheduler {
	if strategy == "" {
		strategy = BestFit
	}
	order := make([]structs.JobType, 0, len(weights))
	credits := make(map[structs.JobType]int, len(weights))
	for t, w := range weights {
		if w <= 0 {
			w = 1
		}
		order = append(order, t)
		credits[t] = w
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return &WeightedRoundRobinScheduler{
		Base:     NewBase(id, logger, SimpleDecisionTimeJob, SimpleDecisionTimeTask, maxRetries),
		strategy: strategy,
		weights:  weights,
		order:    order,
		queues:   make(map[structs.JobType][]*JobSubmission),
		credits:  credits,
	}
}

func (s *WeightedRoundRobinScheduler) Accepts(jobType structs.JobType) bool {
	_, ok := s.weights[jobType]
	return ok
}

func (s *WeightedRoundRobinScheduler) Enqueue(js *JobSubmission) {
	s.queues[js.Job.Type] = append(s.queues[js.Job.Type], js)
}

// Dequeue serves queues proportionally: it walks the fixed type cycle,
// spending one credit per non-empty queue it serves from, and refills all
// credits to their configured weight once every queue with remaining work
// has exhausted its credits for the round.
func (s *WeightedRoundRobinScheduler) Dequeue() *JobSubmission {
	if len(s.order) == 0 || s.Len() == 0 {
		return nil
	}
	for attempts := 0; attempts < 2*len(s.order); attempts++ {
		t := s.order[s.cursor%len(s.order)]
		s.cursor++
		q := s.queues[t]
		if len(q) == 0 {
			continue
		}
		if s.credits[t] <= 0 {
			continue
		}
		s.credits[t]--
		js := q[0]
		s.queues[t] = q[1:]
		return js
	}
	if s.allCreditsExhausted() {
		s.refillCredits()
		return s.Dequeue()
	}
	return nil
}

func (s *WeightedRoundRobinScheduler) allCreditsExhausted() bool {
	for _, t := range s.order {
		if len(s.queues[t]) > 0 && s.credits[t] > 0 {
			return false
		}
	}
	return true
}

func (s *WeightedRoundRobinScheduler) refillCredits() {
	for t, w := range s.weights {
		if w <= 0 {
			w = 1
		}
		s.credits[t] = w
	}
}

func (s *WeightedRoundRobinScheduler) Requeue(js *JobSubmission) {
	s.queues[js.Job.Type] = append([]*JobSubmission{js}, s.queues[js.Job.Type]...)
}

func (s *WeightedRoundRobinScheduler) Len() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

func (s *WeightedRoundRobinScheduler) Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult {
	return planBestEffort(s.ID(), snap, js, s.strategy)
}

func (s *WeightedRoundRobinScheduler) OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	return s.HandleResult(js, result, latency, now)
}

// --- FirstFitScheduler --------------------------------------------------

// FirstFitScheduler always places with first-fit, fixed to a low decision
// latency regardless of configured placement_strategy.
type FirstFitScheduler struct {
	Base
}

func NewFirstFitScheduler(id string, logger hclog.Logger, maxRetries int) *FirstFitScheduler {
	return &FirstFitScheduler{Base: NewBase(id, logger, BatchDecisionTimeJob, BatchDecisionTimeTask, maxRetries)}
}

func (s *FirstFitScheduler) Accepts(structs.JobType) bool { return true }

func (s *FirstFitScheduler) Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult {
	return planBestEffort(s.ID(), snap, js, FirstFit)
}

func (s *FirstFitScheduler) OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	return s.HandleResult(js, result, latency, now)
}

// --- RandomScheduler -----------------------------------------------------

// RandomScheduler picks a uniformly random feasible machine per task,
// drawing from a caller-supplied PRNG stream rather than the global
// math/rand source, preserving simulator-wide determinism (§9
// "Deterministic parallelism").
type RandomScheduler struct {
	Base
	rng *rand.Rand
}

func NewRandomScheduler(id string, logger hclog.Logger, rng *rand.Rand, maxRetries int) *RandomScheduler {
	return &RandomScheduler{
		Base: NewBase(id, logger, SimpleDecisionTimeJob, SimpleDecisionTimeTask, maxRetries),
		rng:  rng,
	}
}

func (s *RandomScheduler) Accepts(structs.JobType) bool { return true }

func (s *RandomScheduler) Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult {
	ids := sortedMachineIDs(snap)
	ov := make(overlay)

	var placements []structs.Placement
	var infeasible []string
	for _, task := range pendingTasksInOrder(js) {
		var feasible []string
		for _, id := range ids {
			if ov.remaining(snap, id).Fits(task.Requirement) {
				feasible = append(feasible, id)
			}
		}
		if len(feasible) == 0 {
			if !feasibleAnywhere(snap, task.Requirement) {
				infeasible = append(infeasible, task.ID)
			}
			continue
		}
		machineID := feasible[s.rng.IntN(len(feasible))]
		ov.reserve(machineID, task.Requirement)
		placements = append(placements, structs.Placement{
			TaskID:             task.ID,
			MachineID:          machineID,
			ExpectedMachineVer: snap.Get(machineID).Version,
		})
	}

	mode := structs.ModeIncremental
	if js.Job.RequireGang {
		mode = structs.ModeGang
	}
	return PlanResult{
		Transaction: &structs.Transaction{SchedulerID: s.ID(), Mode: mode, Placements: placements},
		Infeasible:  infeasible,
	}
}

func (s *RandomScheduler) OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	return s.HandleResult(js, result, latency, now)
}
