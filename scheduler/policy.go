package scheduler

import (
	"sort"

	"github.com/cellsched/cellsched/structs"
)

// PlacementStrategy selects among first-fit, best-fit, and worst-fit for
// the batch scheduler (§4.2.1) and the simple policy variants; the
// mapreduce scheduler always uses best-fit, and the service scheduler uses
// its own scoring instead.
type PlacementStrategy string

const (
	FirstFit PlacementStrategy = "first_fit"
	BestFit  PlacementStrategy = "best_fit"
	WorstFit PlacementStrategy = "worst_fit"
)

// sortedMachineIDs returns a snapshot's machine ids in ascending order,
// the deterministic iteration order every policy below relies on so that
// tie-breaks ("lowest machine id") are reproducible.
func sortedMachineIDs(snap *structs.Snapshot) []string {
	ids := snap.MachineIDs()
	sort.Strings(ids)
	return ids
}

// feasibleAnywhere reports whether some machine's raw capacity (ignoring
// current load) could ever satisfy req. Used to detect §7's "infeasible
// job" condition: a requirement that no machine could ever fit, as
// opposed to one that merely doesn't fit right now.
func feasibleAnywhere(snap *structs.Snapshot, req structs.Resources) bool {
	for _, m := range snap.Machines {
		if m.Capacity.Fits(req) {
			return true
		}
	}
	return false
}

// overlay tracks, per machine, resources tentatively committed to
// placements already chosen earlier in the same planning pass — the
// "local tentative-allocation overlay" of §4.2.1, reused by every
// scheduler so a multi-task job never over-commits one machine within its
// own transaction.
type overlay map[string]structs.Resources

func (o overlay) remaining(snap *structs.Snapshot, machineID string) structs.Resources {
	m := snap.Get(machineID)
	return m.Remaining().Sub(o[machineID])
}

func (o overlay) reserve(machineID string, req structs.Resources) {
	o[machineID] = o[machineID].Add(req)
}

// selectByStrategy picks a feasible machine for req using the given
// placement strategy, breaking ties by lowest machine id.
func selectByStrategy(snap *structs.Snapshot, ids []string, o overlay, req structs.Resources, strategy PlacementStrategy) (string, bool) {
	switch strategy {
	case FirstFit:
		for _, id := range ids {
			if o.remaining(snap, id).Fits(req) {
				return id, true
			}
		}
		return "", false

	case WorstFit:
		best := ""
		var bestLeftover float64 = -1
		for _, id := range ids {
			rem := o.remaining(snap, id)
			if !rem.Fits(req) {
				continue
			}
			leftover := rem.Sub(req).Magnitude()
			if leftover > bestLeftover {
				bestLeftover = leftover
				best = id
			}
		}
		return best, best != ""

	default: // BestFit
		best := ""
		bestLeftover := -1.0
		for _, id := range ids {
			rem := o.remaining(snap, id)
			if !rem.Fits(req) {
				continue
			}
			leftover := rem.Sub(req).Magnitude()
			if best == "" || leftover < bestLeftover {
				bestLeftover = leftover
				best = id
			}
		}
		return best, best != ""
	}
}

// pendingTasksInOrder returns js's still-pending tasks, ordered as they
// were submitted in the job (not map iteration order), so a batch job's
// tasks are planned deterministically.
func pendingTasksInOrder(js *JobSubmission) []*structs.Task {
	var out []*structs.Task
	for _, id := range js.Job.Tasks {
		if js.Pending.Contains(id) {
			out = append(out, js.Tasks[id])
		}
	}
	return out
}
