package scheduler

import (
	"github.com/hashicorp/go-hclog"

	"github.com/cellsched/cellsched/structs"
)

// Default decision latency for the service scheduler (§4.2.2).
const (
	ServiceDecisionTimeJob  = 1.0
	ServiceDecisionTimeTask = 0.05
)

// Fixed scoring weights (§4.2.2), kept as named constants rather than
// magic numbers scattered through the scoring function.
const (
	cpuHeadroomWeight  = 100.0
	loadBalanceWeight  = -5.0
	domainDiversityNum = 20.0
	gpuBonus           = 50.0
)

// ServiceScheduler places one task at a time onto the highest-scoring
// feasible machine, breaking ties by lowest machine id for determinism
// (§4.2.2).
type ServiceScheduler struct {
	Base
}

func NewServiceScheduler(id string, logger hclog.Logger, maxRetries int) *ServiceScheduler {
	return &ServiceScheduler{
		Base: NewBase(id, logger, ServiceDecisionTimeJob, ServiceDecisionTimeTask, maxRetries),
	}
}

func (s *ServiceScheduler) Accepts(jobType structs.JobType) bool { return jobType == structs.JobService }

func (s *ServiceScheduler) Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult {
	ids := sortedMachineIDs(snap)
	ov := make(overlay)

	// domainPlacements and loadPlacements count this job's placements
	// made so far *in this planning pass*, layered on top of what the
	// snapshot already shows, so scoring spreads a multi-task job across
	// failure domains even within one transaction.
	domainPlacements := make(map[string]int)
	loadPlacements := make(map[string]int)
	machineHasJobTask := make(map[string]bool)

	for domain, count := range jobDomainCounts(snap, js.Job.ID) {
		domainPlacements[domain] = count
	}
	for id, has := range jobOnMachine(snap, js.Job.ID) {
		machineHasJobTask[id] = has
	}

	var placements []structs.Placement
	var infeasible []string

	for _, task := range pendingTasksInOrder(js) {
		best := ""
		bestScore := 0.0
		bestSet := false

		for _, id := range ids {
			m := snap.Get(id)
			if m.State == structs.MachineFailed {
				continue
			}
			if !ov.remaining(snap, id).Fits(task.Requirement) {
				continue
			}
			if js.Job.AntiAffinity && machineHasJobTask[id] {
				continue // hard constraint: score -infinity, i.e. never selectable
			}

			score := cpuHeadroomWeight * safeRatio(float64(ov.remaining(snap, id).CPUCores), float64(m.Capacity.CPUCores))
			load := m.Tasks.Size() + loadPlacements[id]
			score += loadBalanceWeight * float64(load)
			score += domainDiversityNum / float64(domainPlacements[m.FailureDomain]+1)
			if task.RequiresGPU() && m.Capacity.GPUCount > 0 {
				score += gpuBonus
			}

			if !bestSet || score > bestScore {
				bestSet = true
				bestScore = score
				best = id
			}
		}

		if !bestSet {
			if !feasibleAnywhere(snap, task.Requirement) {
				infeasible = append(infeasible, task.ID)
			}
			continue
		}

		m := snap.Get(best)
		ov.reserve(best, task.Requirement)
		loadPlacements[best]++
		domainPlacements[m.FailureDomain]++
		machineHasJobTask[best] = true

		placements = append(placements, structs.Placement{
			TaskID:             task.ID,
			MachineID:          best,
			ExpectedMachineVer: m.Version,
		})
	}

	mode := structs.ModeIncremental
	if js.Job.RequireGang {
		mode = structs.ModeGang
	}

	return PlanResult{
		Transaction: &structs.Transaction{
			SchedulerID: s.ID(),
			Mode:        mode,
			Placements:  placements,
		},
		Infeasible: infeasible,
	}
}

func (s *ServiceScheduler) OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	return s.HandleResult(js, result, latency, now)
}

func safeRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// jobDomainCounts returns, per failure domain, how many of jobID's tasks
// are already placed in the snapshot.
func jobDomainCounts(snap *structs.Snapshot, jobID string) map[string]int {
	counts := make(map[string]int)
	for _, m := range snap.Machines {
		n := tasksOfJobOnMachine(snap, m, jobID)
		if n > 0 {
			counts[m.FailureDomain] += n
		}
	}
	return counts
}

// jobOnMachine reports, per machine id, whether any of jobID's tasks are
// already placed there.
func jobOnMachine(snap *structs.Snapshot, jobID string) map[string]bool {
	out := make(map[string]bool)
	for id, m := range snap.Machines {
		out[id] = tasksOfJobOnMachine(snap, m, jobID) > 0
	}
	return out
}

// tasksOfJobOnMachine counts machine's placed tasks belonging to jobID,
// resolved through the snapshot's task records.
func tasksOfJobOnMachine(snap *structs.Snapshot, m *structs.Machine, jobID string) int {
	count := 0
	for _, taskID := range m.Tasks.Slice() {
		if t := snap.Tasks[taskID]; t != nil && t.JobID == jobID {
			count++
		}
	}
	return count
}
