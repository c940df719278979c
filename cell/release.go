package cell

import (
	"github.com/hashicorp/go-multierror"

	"github.com/cellsched/cellsched/structs"
)

// Release implements the release protocol (§4.1): on task completion or
// failure, the cell removes the task from its machine's task set,
// subtracts its requirement from allocated, bumps the machine's version,
// clears the task's machine assignment, and sets its terminal state.
// Release is idempotent per task id: releasing an already-released task
// is a no-op.
func (c *Cell) Release(taskID string, failed bool, endTime float64) error {
	txn := c.db.Txn(true)
	defer txn.Abort()

	taskRaw, err := txn.First("tasks", "id", taskID)
	if err != nil {
		return err
	}
	if taskRaw == nil {
		return nil
	}
	task := taskRaw.(*structs.Task).Clone()

	if task.MachineID == "" {
		// Already released (or never scheduled); idempotent no-op.
		return nil
	}

	machineRaw, err := txn.First("machines", "id", task.MachineID)
	if err != nil {
		return err
	}
	if machineRaw != nil {
		machine := machineRaw.(*structs.Machine).Clone()
		machine.Allocated = machine.Allocated.Sub(task.Requirement)
		machine.Tasks.Remove(task.ID)
		machine.Version++
		if err := txn.Insert("machines", machine); err != nil {
			return err
		}
	}

	task.MachineID = ""
	task.EndTime = endTime
	if failed {
		task.State = structs.TaskFailed
	} else {
		task.State = structs.TaskCompleted
	}
	if err := txn.Insert("tasks", task); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// SetRunning transitions a scheduled task into the running state once its
// dependencies are satisfied and its start time has arrived (§3
// lifecycle). It does not touch machine accounting — the task was already
// accounted for at scheduling time.
func (c *Cell) SetRunning(taskID string, startTime float64) error {
	txn := c.db.Txn(true)
	defer txn.Abort()

	taskRaw, err := txn.First("tasks", "id", taskID)
	if err != nil || taskRaw == nil {
		return err
	}
	task := taskRaw.(*structs.Task).Clone()
	task.State = structs.TaskRunning
	task.StartTime = startTime
	if err := txn.Insert("tasks", task); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// FailMachine implements the machine-failure protocol (§4.1, §4.5): marks
// the machine failed, releases every task currently placed on it (marking
// each failed rather than completed), and bumps the machine's version one
// additional time for the state transition itself. Returns the ids of
// tasks that were running on the machine, so the caller (the simulator)
// can re-queue their parent jobs.
func (c *Cell) FailMachine(machineID string, now float64) ([]string, error) {
	machine := c.GetMachine(machineID)
	if machine == nil || machine.State == structs.MachineFailed {
		return nil, nil
	}

	affected := machine.Tasks.Slice()
	for _, taskID := range affected {
		if err := c.Release(taskID, true, now); err != nil {
			return nil, err
		}
	}

	txn := c.db.Txn(true)
	machineRaw, err := txn.First("machines", "id", machineID)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	if machineRaw == nil {
		txn.Abort()
		return affected, nil
	}
	m := machineRaw.(*structs.Machine).Clone()
	m.State = structs.MachineFailed
	m.Version++
	if err := txn.Insert("machines", m); err != nil {
		txn.Abort()
		return nil, err
	}
	txn.Commit()

	return affected, nil
}

// ResetTask reverts a failed task back to pending with no machine
// assignment, so the simulator can replan it after re-queuing its job to
// the owning scheduler (§4.1, §4.4: "affected jobs are re-queued to the
// appropriate scheduler"). A no-op for any task not currently failed.
func (c *Cell) ResetTask(taskID string) error {
	txn := c.db.Txn(true)
	defer txn.Abort()

	taskRaw, err := txn.First("tasks", "id", taskID)
	if err != nil || taskRaw == nil {
		return err
	}
	task := taskRaw.(*structs.Task).Clone()
	if task.State != structs.TaskFailed {
		return nil
	}
	task.State = structs.TaskPending
	task.StartTime = 0
	task.EndTime = 0
	if err := txn.Insert("tasks", task); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// RecoverMachine restores a failed machine to healthy, empty state. Per
// §9's resolved open question, recovery preserves the machine's version
// monotonically rather than resetting it — version is a conflict-
// detection counter, not a generation number, so there is no safety
// argument for rolling it back.
func (c *Cell) RecoverMachine(machineID string) error {
	txn := c.db.Txn(true)
	defer txn.Abort()

	machineRaw, err := txn.First("machines", "id", machineID)
	if err != nil || machineRaw == nil {
		return err
	}
	m := machineRaw.(*structs.Machine).Clone()
	if m.State != structs.MachineFailed {
		return nil
	}
	m.State = structs.MachineHealthy
	m.Allocated = structs.Resources{}
	m.Version++
	if err := txn.Insert("machines", m); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// checkMachineInvariants is a defensive assertion, reached through
// CheckInvariants from tests and from the simulator, to verify §8's invariants
// hold for a machine: allocation within capacity, and the sum of placed
// tasks' requirements equal to the recorded allocation.
func (c *Cell) checkMachineInvariants(m *structs.Machine, tasks []*structs.Task, seq uint64) error {
	if !m.Allocated.NonNegative() {
		return &InvariantError{MachineID: m.ID, Sequence: seq, Detail: "negative allocation"}
	}
	if !m.Allocated.LessEq(m.Capacity) {
		return &InvariantError{MachineID: m.ID, Sequence: seq, Detail: "allocation exceeds capacity"}
	}
	var sum structs.Resources
	for _, t := range tasks {
		if t.MachineID == m.ID {
			sum = sum.Add(t.Requirement)
		}
	}
	if !sum.Equal(m.Allocated) {
		return &InvariantError{MachineID: m.ID, Sequence: seq, Detail: "allocated does not match sum of placed task requirements"}
	}
	return nil
}

// CheckInvariants walks every machine and task and verifies §8's
// invariants all hold. Used by tests, and run by the simulator after every
// commit.
func (c *Cell) CheckInvariants(seq uint64) error {
	snap := c.Snapshot()

	allTasks := make([]*structs.Task, 0)
	txn := c.db.Txn(false)
	it, err := txn.Get("tasks", "id")
	if err == nil {
		for raw := it.Next(); raw != nil; raw = it.Next() {
			allTasks = append(allTasks, raw.(*structs.Task))
		}
	}
	txn.Abort()

	seen := make(map[string]string) // task id -> machine id, to catch double-placement
	var errs error
	for _, m := range snap.Machines {
		if err := c.checkMachineInvariants(m, allTasks, seq); err != nil {
			errs = appendErr(errs, err)
		}
		for _, taskID := range m.Tasks.Slice() {
			if prior, ok := seen[taskID]; ok && prior != m.ID {
				errs = appendErr(errs, &InvariantError{
					MachineID: m.ID, TaskID: taskID, Sequence: seq,
					Detail: "task appears in more than one machine's task set",
				})
			}
			seen[taskID] = m.ID
		}
	}
	return errs
}

func appendErr(errs error, err error) error {
	return multierror.Append(errs, err)
}
