package cell

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cellsched/cellsched/structs"
)

func newTestCell(t *testing.T) *Cell {
	t.Helper()
	c, err := New(nil)
	require.NoError(t, err)
	return c
}

func addMachine(t *testing.T, c *Cell, id string, capacity structs.Resources, domain string) {
	t.Helper()
	require.NoError(t, c.AddMachine(structs.NewMachine(id, "standard", capacity, domain)))
}

func addTask(t *testing.T, c *Cell, id, jobID string, req structs.Resources, duration float64) {
	t.Helper()
	require.NoError(t, c.AddTask(structs.NewTask(id, jobID, req, duration)))
}

// Scenario 1 (spec §8): single job, single machine, exact fit. Two
// placements in one transaction each bump the machine's version once.
func TestScenarioExactFitAndVersionBumpsPerPlacement(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 10)
	addTask(t, c, "t2", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 10)

	tx := &structs.Transaction{
		SchedulerID: "batch-1",
		Mode:        structs.ModeIncremental,
		Placements: []structs.Placement{
			{TaskID: "t1", MachineID: "m1", ExpectedMachineVer: 0},
			{TaskID: "t2", MachineID: "m1", ExpectedMachineVer: 0},
		},
	}

	result, err := c.Commit(tx)
	require.NoError(t, err)
	require.True(t, result.AllAccepted())
	require.Equal(t, 2, result.AppliedCount)

	m := c.GetMachine("m1")
	require.Equal(t, uint64(2), m.Version, "a 2-placement transaction bumps machine version once per placement")
	require.Equal(t, structs.Resources{CPUCores: 4, MemoryGB: 8}, m.Allocated, "exact fit leaves allocated == capacity")
	require.NoError(t, c.CheckInvariants(0))
}

// Scenario 2 (spec §8): two schedulers, one conflict.
func TestScenarioOCCConflict(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	addTask(t, c, "tA", "jobA", structs.Resources{CPUCores: 4, MemoryGB: 8}, 10)
	addTask(t, c, "tB", "jobB", structs.Resources{CPUCores: 4, MemoryGB: 8}, 10)

	// Both schedulers read the snapshot at version 0.
	txA := &structs.Transaction{
		SchedulerID: "A",
		Mode:        structs.ModeIncremental,
		Placements:  []structs.Placement{{TaskID: "tA", MachineID: "m1", ExpectedMachineVer: 0}},
	}
	resA, err := c.Commit(txA)
	require.NoError(t, err)
	require.True(t, resA.AllAccepted())

	txB := &structs.Transaction{
		SchedulerID: "B",
		Mode:        structs.ModeIncremental,
		Placements:  []structs.Placement{{TaskID: "tB", MachineID: "m1", ExpectedMachineVer: 0}},
	}
	resB, err := c.Commit(txB)
	require.NoError(t, err)
	require.False(t, resB.AllAccepted())
	require.Equal(t, structs.RejectionVersionStale, resB.Outcomes[0].Reason)

	// B retries with a fresh snapshot: machine is now full.
	snap := c.Snapshot()
	txB2 := &structs.Transaction{
		SchedulerID: "B",
		Mode:        structs.ModeIncremental,
		Placements:  []structs.Placement{{TaskID: "tB", MachineID: "m1", ExpectedMachineVer: snap.Get("m1").Version}},
	}
	resB2, err := c.Commit(txB2)
	require.NoError(t, err)
	require.False(t, resB2.AllAccepted())
	require.Equal(t, structs.RejectionInsufficientResource, resB2.Outcomes[0].Reason)
}

// Scenario 3 (spec §8): gang atomicity.
func TestScenarioGangAtomicity(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 2, MemoryGB: 4}, "rack-a")
	addMachine(t, c, "m2", structs.Resources{CPUCores: 2, MemoryGB: 4}, "rack-a")
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 10)
	addTask(t, c, "t2", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 10)
	addTask(t, c, "t3", "job1", structs.Resources{CPUCores: 4, MemoryGB: 4}, 10) // cannot fit anywhere

	tx := &structs.Transaction{
		SchedulerID: "svc-1",
		Mode:        structs.ModeGang,
		Placements: []structs.Placement{
			{TaskID: "t1", MachineID: "m1", ExpectedMachineVer: 0},
			{TaskID: "t2", MachineID: "m2", ExpectedMachineVer: 0},
			{TaskID: "t3", MachineID: "m1", ExpectedMachineVer: 0},
		},
	}
	result, err := c.Commit(tx)
	require.NoError(t, err)
	require.Equal(t, 0, result.AppliedCount)
	for _, o := range result.Outcomes {
		require.False(t, o.Accepted)
	}

	require.Equal(t, uint64(0), c.GetMachine("m1").Version)
	require.Equal(t, uint64(0), c.GetMachine("m2").Version)

	counters := c.Counters()
	require.Equal(t, 1, counters.TotalTransactions)
	require.Equal(t, 0, counters.TotalCommits)
}

func TestIncrementalPartialAcceptance(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 2, MemoryGB: 4}, "rack-a")
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 10)
	addTask(t, c, "t2", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 10)

	tx := &structs.Transaction{
		SchedulerID: "batch-1",
		Mode:        structs.ModeIncremental,
		Placements: []structs.Placement{
			{TaskID: "t1", MachineID: "m1", ExpectedMachineVer: 0},
			{TaskID: "t2", MachineID: "m1", ExpectedMachineVer: 0},
		},
	}
	result, err := c.Commit(tx)
	require.NoError(t, err)
	require.Equal(t, 1, result.AppliedCount)

	snap := c.Snapshot()
	require.Equal(t, uint64(1), snap.CellVersion, "cell_version increments once regardless of how many placements applied")
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 10)

	_, err := c.Commit(&structs.Transaction{
		Mode:       structs.ModeIncremental,
		Placements: []structs.Placement{{TaskID: "t1", MachineID: "m1", ExpectedMachineVer: 0}},
	})
	require.NoError(t, err)

	require.NoError(t, c.Release("t1", false, 10))
	vAfterFirst := c.GetMachine("m1").Version

	require.NoError(t, c.Release("t1", false, 10))
	require.Equal(t, vAfterFirst, c.GetMachine("m1").Version, "releasing an already-released task is a no-op")

	task := c.GetTask("t1")
	require.Equal(t, structs.TaskCompleted, task.State)
	require.Empty(t, task.MachineID)
}

func TestVersionStaleIsPerMachine(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	addMachine(t, c, "m2", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 1, MemoryGB: 1}, 10)
	addTask(t, c, "t2", "job1", structs.Resources{CPUCores: 1, MemoryGB: 1}, 10)

	// Bump m2's version with an unrelated commit.
	_, err := c.Commit(&structs.Transaction{
		Mode:       structs.ModeIncremental,
		Placements: []structs.Placement{{TaskID: "t2", MachineID: "m2", ExpectedMachineVer: 0}},
	})
	require.NoError(t, err)

	// A placement on m1 at its still-current version 0 must succeed.
	result, err := c.Commit(&structs.Transaction{
		Mode:       structs.ModeIncremental,
		Placements: []structs.Placement{{TaskID: "t1", MachineID: "m1", ExpectedMachineVer: 0}},
	})
	require.NoError(t, err)
	require.True(t, result.AllAccepted())
}

func TestMachineFailureReleasesTasksAndBumpsVersion(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 100)

	_, err := c.Commit(&structs.Transaction{
		Mode:       structs.ModeIncremental,
		Placements: []structs.Placement{{TaskID: "t1", MachineID: "m1", ExpectedMachineVer: 0}},
	})
	require.NoError(t, err)

	affected, err := c.FailMachine("m1", 50)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"t1"}, affected)

	task := c.GetTask("t1")
	require.Equal(t, structs.TaskFailed, task.State)
	require.Empty(t, task.MachineID)

	m := c.GetMachine("m1")
	require.Equal(t, structs.MachineFailed, m.State)
	require.True(t, m.Allocated.IsZero())

	// Failed machines reject any further placement attempt.
	addTask(t, c, "t2", "job1", structs.Resources{CPUCores: 1, MemoryGB: 1}, 10)
	result, err := c.Commit(&structs.Transaction{
		Mode:       structs.ModeIncremental,
		Placements: []structs.Placement{{TaskID: "t2", MachineID: "m1", ExpectedMachineVer: m.Version}},
	})
	require.NoError(t, err)
	require.Equal(t, structs.RejectionMachineFailed, result.Outcomes[0].Reason)
}

func TestRecoveryPreservesVersionMonotonically(t *testing.T) {
	c := newTestCell(t)
	addMachine(t, c, "m1", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 2, MemoryGB: 4}, 100)
	_, err := c.Commit(&structs.Transaction{
		Mode:       structs.ModeIncremental,
		Placements: []structs.Placement{{TaskID: "t1", MachineID: "m1", ExpectedMachineVer: 0}},
	})
	require.NoError(t, err)

	_, err = c.FailMachine("m1", 10)
	require.NoError(t, err)
	versionAfterFailure := c.GetMachine("m1").Version

	require.NoError(t, c.RecoverMachine("m1"))
	m := c.GetMachine("m1")
	require.Equal(t, structs.MachineHealthy, m.State)
	require.True(t, m.Allocated.IsZero())
	require.Greater(t, m.Version, versionAfterFailure, "recovery still bumps version")
}

func TestZeroMachinesInvariantHolds(t *testing.T) {
	c := newTestCell(t)
	addTask(t, c, "t1", "job1", structs.Resources{CPUCores: 1, MemoryGB: 1}, 10)
	result, err := c.Commit(&structs.Transaction{
		Mode:       structs.ModeIncremental,
		Placements: []structs.Placement{{TaskID: "t1", MachineID: "nonexistent", ExpectedMachineVer: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, structs.RejectionMachineFailed, result.Outcomes[0].Reason)
	require.NoError(t, c.CheckInvariants(0))
}
