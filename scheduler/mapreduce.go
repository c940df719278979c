package scheduler

import (
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/cellsched/cellsched/structs"
)

// Default decision latency for the MapReduce scheduler (§4.2.3).
const (
	MapReduceDecisionTimeJob  = 0.2
	MapReduceDecisionTimeTask = 0.01
)

// MRPolicy selects how a MapReduce job's elastic target task count N' is
// computed from its base count N (§4.2.3).
type MRPolicy string

const (
	MaxParallelism  MRPolicy = "max_parallelism"
	GlobalCap       MRPolicy = "global_cap"
	RelativeJobSize MRPolicy = "relative_job_size"
)

// MapReduceScheduler opportunistically scales a job's map stage up to N'
// tasks before placing it, and tolerates conflicts on the extra tasks
// without retrying them.
type MapReduceScheduler struct {
	Base
	policy        MRPolicy
	hardCap       int     // max_parallelism's ceiling; 0 means unbounded
	utilThreshold float64 // global_cap's utilization gate, default 0.8
}

func NewMapReduceScheduler(id string, logger hclog.Logger, policy MRPolicy, hardCap int, utilThreshold float64, maxRetries int) *MapReduceScheduler {
	if policy == "" {
		policy = MaxParallelism
	}
	if utilThreshold <= 0 {
		utilThreshold = 0.8
	}
	return &MapReduceScheduler{
		Base:          NewBase(id, logger, MapReduceDecisionTimeJob, MapReduceDecisionTimeTask, maxRetries),
		policy:        policy,
		hardCap:       hardCap,
		utilThreshold: utilThreshold,
	}
}

func (s *MapReduceScheduler) Accepts(jobType structs.JobType) bool {
	return jobType == structs.JobMapReduce
}

// Plan scales the job's map stage, clones extra tasks from the base task
// template, then places every pending task (base and extra alike) with a
// plain best-fit pass, all in one incremental transaction.
func (s *MapReduceScheduler) Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult {
	stage1 := mapStageTasks(js)
	if len(stage1) == 0 {
		return PlanResult{Transaction: &structs.Transaction{SchedulerID: s.ID(), Mode: structs.ModeIncremental}}
	}
	template := stage1[0]

	ids := sortedMachineIDs(snap)
	ov := make(overlay)

	n := len(stage1)
	target := s.elasticTarget(snap, ov, template.Requirement, n)

	var extras []*structs.Task
	if js.ExtraTaskIDs == nil {
		js.ExtraTaskIDs = set.New[string](0)
	}
	for i := n; i < target; i++ {
		extra := structs.NewTask(structs.GenerateID(), js.Job.ID, template.Requirement, template.Duration)
		extras = append(extras, extra)
		js.Tasks[extra.ID] = extra
		js.Pending.Insert(extra.ID)
		js.ExtraTaskIDs.Insert(extra.ID)
		js.Job.Tasks = append(js.Job.Tasks, extra.ID)
	}

	var placements []structs.Placement
	var infeasible []string
	for _, task := range pendingTasksInOrder(js) {
		machineID, ok := selectByStrategy(snap, ids, ov, task.Requirement, BestFit)
		if !ok {
			if !feasibleAnywhere(snap, task.Requirement) && !js.ExtraTaskIDs.Contains(task.ID) {
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

	return PlanResult{
		Transaction: &structs.Transaction{
			SchedulerID: s.ID(),
			Mode:        structs.ModeIncremental,
			Placements:  placements,
		},
		ExtraTasks: extras,
		Infeasible: infeasible,
	}
}

// elasticTarget computes N' per the configured policy, never below n.
func (s *MapReduceScheduler) elasticTarget(snap *structs.Snapshot, ov overlay, req structs.Resources, n int) int {
	available := availableSlots(snap, ov, req)
	// Slots beyond the n the base tasks occupy are the only room for extras.
	spare := available - n
	if spare < 0 {
		spare = 0
	}

	var target int
	switch s.policy {
	case GlobalCap:
		if clusterUtilization(snap) < s.utilThreshold {
			target = n + spare
		} else {
			target = n
		}
	case RelativeJobSize:
		target = n + spare
		if cap := 4 * n; target > cap {
			target = cap
		}
	default: // MaxParallelism
		target = n + spare
		if s.hardCap > 0 && target > s.hardCap {
			target = s.hardCap
		}
	}

	if target < n {
		target = n
	}
	return target
}

func (s *MapReduceScheduler) OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	filtered := make([]structs.PlacementOutcome, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		if !o.Accepted && js.ExtraTaskIDs != nil && js.ExtraTaskIDs.Contains(o.TaskID) {
			js.Pending.Remove(o.TaskID) // best-effort: drop, never retry
			continue
		}
		filtered = append(filtered, o)
	}
	return s.HandleResult(js, &structs.TransactionResult{Outcomes: filtered, AppliedCount: result.AppliedCount}, latency, now)
}

// mapStageTasks returns js's pending tasks with no dependencies, in
// submission order: the map stage of a MapReduce DAG (or the whole task
// set, for a MapReduce job with no DAG structure).
func mapStageTasks(js *JobSubmission) []*structs.Task {
	var out []*structs.Task
	for _, task := range pendingTasksInOrder(js) {
		if task.Dependencies.Empty() {
			out = append(out, task)
		}
	}
	return out
}

// availableSlots estimates how many additional copies of req the cluster
// could still place right now, summed across every machine's remaining
// capacity on top of the overlay, using the binding resource dimension
// per machine.
func availableSlots(snap *structs.Snapshot, ov overlay, req structs.Resources) int {
	total := 0
	for id := range snap.Machines {
		rem := ov.remaining(snap, id)
		total += slotsOnMachine(rem, req)
	}
	return total
}

func slotsOnMachine(remaining, req structs.Resources) int {
	best := -1
	if req.CPUCores > 0 {
		best = minSlot(best, remaining.CPUCores/req.CPUCores)
	}
	if req.GPUCount > 0 {
		best = minSlot(best, remaining.GPUCount/req.GPUCount)
	}
	if req.MemoryGB > 0 {
		best = minSlot(best, int(remaining.MemoryGB/req.MemoryGB))
	}
	if best < 0 {
		return 0
	}
	return best
}

func minSlot(current, candidate int) int {
	if current < 0 || candidate < current {
		return candidate
	}
	return current
}

// clusterUtilization returns a coarse, CPU-weighted snapshot of cluster
// utilization for the global_cap policy's threshold gate.
func clusterUtilization(snap *structs.Snapshot) float64 {
	var capCPU, allocCPU float64
	for _, m := range snap.Machines {
		capCPU += float64(m.Capacity.CPUCores)
		allocCPU += float64(m.Allocated.CPUCores)
	}
	if capCPU == 0 {
		return 0
	}
	return allocCPU / capCPU
}
