package cell

import (
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"github.com/cellsched/cellsched/structs"
)

// validated is the intermediate per-placement verdict computed during the
// single validation pass, before mode resolution decides whether it is
// actually applied.
type validated struct {
	placement structs.Placement
	accepted  bool
	reason    structs.RejectionReason
}

// Commit validates and applies a transaction atomically with respect to
// other commits (spec §4.1). Validation and application happen inside one
// memdb write transaction, which memdb itself serializes against all
// other writers — this is the "single critical section" the spec
// requires, without an explicit lock in this package.
func (c *Cell) Commit(tx *structs.Transaction) (*structs.TransactionResult, error) {
	atomic.AddUint64(&c.totalTransactions, 1)

	txn := c.db.Txn(true)
	defer txn.Abort()

	// overlay tracks, per machine, the resources tentatively committed to
	// placements earlier in this same transaction — so a job with several
	// tasks targeting one machine cannot over-subscribe it within a
	// single incremental or gang transaction (§4.1 "fine-grained conflict
	// detection"; §4.2.1 describes the scheduler-side mirror of this).
	overlay := make(map[string]structs.Resources)
	seenTasks := make(map[string]bool)

	results := make([]validated, 0, len(tx.Placements))

	for _, p := range tx.Placements {
		v := validated{placement: p}

		machineRaw, err := txn.First("machines", "id", p.MachineID)
		if err != nil {
			return nil, err
		}
		if machineRaw == nil {
			v.reason = structs.RejectionMachineFailed
			results = append(results, v)
			continue
		}
		machine := machineRaw.(*structs.Machine)
		if machine.State == structs.MachineFailed {
			v.reason = structs.RejectionMachineFailed
			results = append(results, v)
			continue
		}

		if machine.Version != p.ExpectedMachineVer {
			v.reason = structs.RejectionVersionStale
			results = append(results, v)
			continue
		}

		taskRaw, err := txn.First("tasks", "id", p.TaskID)
		if err != nil {
			return nil, err
		}
		if taskRaw == nil || seenTasks[p.TaskID] {
			v.reason = structs.RejectionDuplicateTask
			results = append(results, v)
			continue
		}
		task := taskRaw.(*structs.Task)
		if task.MachineID != "" {
			v.reason = structs.RejectionDuplicateTask
			results = append(results, v)
			continue
		}

		used := overlay[p.MachineID]
		if !machine.Remaining().Sub(used).Fits(task.Requirement) {
			v.reason = structs.RejectionInsufficientResource
			results = append(results, v)
			continue
		}

		v.accepted = true
		overlay[p.MachineID] = used.Add(task.Requirement)
		seenTasks[p.TaskID] = true
		results = append(results, v)
	}

	anyRejected := false
	for _, v := range results {
		if !v.accepted {
			anyRejected = true
			break
		}
	}

	apply := tx.Mode != structs.ModeGang || !anyRejected

	outcomes := make([]structs.PlacementOutcome, 0, len(results))
	appliedCount := 0

	for _, v := range results {
		accepted := v.accepted && apply
		reason := v.reason
		if v.accepted && !apply {
			// Gang mode discarded an otherwise-valid placement because a
			// sibling placement in the same transaction failed; it carries
			// no rejection reason of its own, since the fault was not in
			// this placement.
			reason = structs.RejectionNone
		}

		if accepted {
			if err := c.applyPlacement(txn, v.placement); err != nil {
				return nil, err
			}
			appliedCount++
		}

		outcomes = append(outcomes, structs.PlacementOutcome{
			TaskID:    v.placement.TaskID,
			MachineID: v.placement.MachineID,
			Accepted:  accepted,
			Reason:    reasonOrNone(accepted, reason),
		})
	}

	if appliedCount > 0 {
		atomic.AddUint64(&c.cellVersion, 1)
	}

	rejectedCount := 0
	for _, o := range outcomes {
		if !o.Accepted {
			rejectedCount++
		}
	}
	atomic.AddUint64(&c.totalConflicts, uint64(rejectedCount))

	committedTransaction := (tx.Mode == structs.ModeGang && apply && len(tx.Placements) > 0) ||
		(tx.Mode == structs.ModeIncremental && appliedCount > 0)
	if committedTransaction {
		atomic.AddUint64(&c.totalCommits, 1)
	}

	txn.Commit()

	return &structs.TransactionResult{
		Outcomes:     outcomes,
		AppliedCount: appliedCount,
	}, nil
}

func reasonOrNone(accepted bool, reason structs.RejectionReason) structs.RejectionReason {
	if accepted {
		return structs.RejectionNone
	}
	return reason
}

// applyPlacement mutates the machine and task records for one accepted
// placement: adds the task to the machine, bumps allocation and version,
// and marks the task scheduled. Called once per accepted placement, in
// transaction order, so a machine touched by two placements in the same
// transaction sees its version bumped twice (spec §9 open question,
// resolved as per-placement bumps).
func (c *Cell) applyPlacement(txn *memdb.Txn, p structs.Placement) error {
	machineRaw, err := txn.First("machines", "id", p.MachineID)
	if err != nil {
		return err
	}
	machine := machineRaw.(*structs.Machine).Clone()

	taskRaw, err := txn.First("tasks", "id", p.TaskID)
	if err != nil {
		return err
	}
	task := taskRaw.(*structs.Task).Clone()

	machine.Allocated = machine.Allocated.Add(task.Requirement)
	machine.Tasks.Insert(task.ID)
	machine.Version++

	task.MachineID = machine.ID
	task.State = structs.TaskScheduled

	if err := txn.Insert("machines", machine); err != nil {
		return err
	}
	return txn.Insert("tasks", task)
}
