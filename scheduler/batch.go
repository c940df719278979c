package scheduler

import (
	"github.com/hashicorp/go-hclog"

	"github.com/cellsched/cellsched/structs"
)

// Default decision latency for the batch scheduler's fast path (§4.2.1).
const (
	BatchDecisionTimeJob  = 0.010
	BatchDecisionTimeTask = 0.001
)

// BatchScheduler is the fast-path scheduler for batch jobs: first-fit,
// best-fit, or worst-fit placement with no per-task scoring.
type BatchScheduler struct {
	Base
	strategy PlacementStrategy
}

// NewBatchScheduler constructs a batch scheduler. strategy defaults to
// best-fit if empty, per §4.2.1.
func NewBatchScheduler(id string, logger hclog.Logger, strategy PlacementStrategy, maxRetries int) *BatchScheduler {
	if strategy == "" {
		strategy = BestFit
	}
	return &BatchScheduler{
		Base:     NewBase(id, logger, BatchDecisionTimeJob, BatchDecisionTimeTask, maxRetries),
		strategy: strategy,
	}
}

func (s *BatchScheduler) Accepts(jobType structs.JobType) bool { return jobType == structs.JobBatch }

func (s *BatchScheduler) Plan(snap *structs.Snapshot, js *JobSubmission) PlanResult {
	ids := sortedMachineIDs(snap)
	ov := make(overlay)

	var placements []structs.Placement
	var infeasible []string

	for _, task := range pendingTasksInOrder(js) {
		machineID, ok := selectByStrategy(snap, ids, ov, task.Requirement, s.strategy)
		if !ok {
			if !feasibleAnywhere(snap, task.Requirement) {
				infeasible = append(infeasible, task.ID)
			}
			// Otherwise: skip for this round and include what is
			// feasible, per §4.2 option (a) — the fast path never
			// abandons a whole job over one blocked task.
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
		Transaction: &structs.Transaction{
			SchedulerID: s.ID(),
			Mode:        mode,
			Placements:  placements,
		},
		Infeasible: infeasible,
	}
}

func (s *BatchScheduler) OnResult(js *JobSubmission, result *structs.TransactionResult, latency, now float64) ResultAction {
	return s.HandleResult(js, result, latency, now)
}
