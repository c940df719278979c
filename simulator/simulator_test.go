package simulator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cellsched/cellsched/cell"
	"github.com/cellsched/cellsched/scheduler"
	"github.com/cellsched/cellsched/structs"
	"github.com/cellsched/cellsched/workload"
)

func newTestCell(t *testing.T, machines ...*structs.Machine) *cell.Cell {
	t.Helper()
	c, err := cell.New(nil)
	require.NoError(t, err)
	for _, m := range machines {
		require.NoError(t, c.AddMachine(m))
	}
	return c
}

func TestSimulatorRunsJobsToCompletion(t *testing.T) {
	c := newTestCell(t,
		structs.NewMachine("m1", "standard", structs.Resources{CPUCores: 16, MemoryGB: 32}, "rack-a"),
		structs.NewMachine("m2", "standard", structs.Resources{CPUCores: 16, MemoryGB: 32}, "rack-a"),
	)

	batch, err := scheduler.Build(scheduler.Spec{ID: "batch-1", Type: "batch", MaxRetries: 3}, nil)
	require.NoError(t, err)
	service, err := scheduler.Build(scheduler.Spec{ID: "svc-1", Type: "service", MaxRetries: 3}, nil)
	require.NoError(t, err)
	registry := scheduler.NewRegistry([]scheduler.Scheduler{batch, service})

	cfg := workload.DefaultConfig(1)
	gen := workload.NewGenerator(cfg)

	sim := New(nil, c, registry, gen, Config{Duration: 500})
	result, err := sim.Run()
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Greater(t, result.CompletedJobs+result.FailedJobs, 0)
	require.Greater(t, result.Cell.TotalTransactions, 0)
}

func TestSimulatorMachineFailureAndRecoveryCycle(t *testing.T) {
	c := newTestCell(t,
		structs.NewMachine("m1", "standard", structs.Resources{CPUCores: 8, MemoryGB: 16}, "rack-a"),
		structs.NewMachine("m2", "standard", structs.Resources{CPUCores: 8, MemoryGB: 16}, "rack-a"),
	)

	batch, err := scheduler.Build(scheduler.Spec{ID: "batch-1", Type: "batch", MaxRetries: 5}, nil)
	require.NoError(t, err)
	registry := scheduler.NewRegistry([]scheduler.Scheduler{batch})

	cfg := workload.DefaultConfig(2)
	cfg.ServiceMeanInterarrival = 0
	gen := workload.NewGenerator(cfg)

	sim := New(nil, c, registry, gen, Config{
		Duration:     1000,
		FailureSeed:  9,
		FailureRate:  0.01,
		MeanDowntime: 20,
	})

	result, err := sim.Run()
	require.NoError(t, err)
	require.NotNil(t, result)
	// Scenario 5 (§8): a machine failure must not strand a job — every
	// task that lost its machine gets reset, re-queued, and replanned. Jobs
	// that arrived with enough of the run left to finish must reach a
	// terminal state; jobs arriving near the very end may legitimately
	// still be in flight when the clock runs out.
	for _, trace := range result.JobTraces {
		if trace.SubmitTime > 600 {
			continue
		}
		require.NotZero(t, trace.CompletedAt, "job %s never reached a terminal state after machine failures", trace.JobID)
	}
}

func TestSimulatorRequeuesJobAfterMachineFailure(t *testing.T) {
	c := newTestCell(t,
		structs.NewMachine("m0", "standard", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a"),
		structs.NewMachine("m1", "standard", structs.Resources{CPUCores: 4, MemoryGB: 8}, "rack-a"),
	)

	batch, err := scheduler.Build(scheduler.Spec{ID: "batch-1", Type: "batch", MaxRetries: 5}, nil)
	require.NoError(t, err)
	registry := scheduler.NewRegistry([]scheduler.Scheduler{batch})

	cfg := workload.DefaultConfig(7)
	cfg.ServiceMeanInterarrival = 0
	cfg.MapReduceMeanInterarrival = 0
	cfg.BatchMeanInterarrival = 20
	cfg.BatchTaskCountMean = 1
	cfg.BatchDurationMean = 5
	gen := workload.NewGenerator(cfg)

	// A high failure rate keeps machines churning throughout the run, so
	// any job whose task lands on a machine that later fails exercises the
	// re-queue path; a short mean task duration keeps jobs from still
	// being in flight when the run ends.
	sim := New(nil, c, registry, gen, Config{
		Duration:     300,
		FailureSeed:  3,
		FailureRate:  0.05,
		MeanDowntime: 3,
	})

	result, err := sim.Run()
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.JobTraces)
	for _, trace := range result.JobTraces {
		if trace.SubmitTime > 250 {
			continue
		}
		require.NotZero(t, trace.CompletedAt, "job %s never reached a terminal state", trace.JobID)
	}
	require.Greater(t, result.CompletedJobs+result.FailedJobs, 0)
}

func TestSimulatorMapReduceDAGGatesReduceOnAllMapTasks(t *testing.T) {
	c := newTestCell(t,
		structs.NewMachine("m1", "standard", structs.Resources{CPUCores: 32, MemoryGB: 64}, "rack-a"),
	)

	mr, err := scheduler.Build(scheduler.Spec{
		ID: "mr-1", Type: "mapreduce", MaxRetries: 3,
		MRPolicy: scheduler.GlobalCap, MRHardCap: 8, MRUtilThreshold: 0.9,
	}, nil)
	require.NoError(t, err)
	registry := scheduler.NewRegistry([]scheduler.Scheduler{mr})

	cfg := workload.DefaultConfig(3)
	cfg.BatchMeanInterarrival = 0
	cfg.ServiceMeanInterarrival = 0
	cfg.MapReduceMeanInterarrival = 5
	cfg.MapReduceTaskCountMean = 3
	cfg.MapReduceDAG = true

	gen := workload.NewGenerator(cfg)
	sim := New(nil, c, registry, gen, Config{Duration: 200})

	result, err := sim.Run()
	require.NoError(t, err)
	require.NotNil(t, result)
	for _, trace := range result.JobTraces {
		require.Equal(t, structs.JobMapReduce, trace.Type)
		// A task with dependencies may only have started once every task it
		// depends on had completed.
		for _, task := range c.TasksForJob(trace.JobID) {
			if task.Dependencies.Empty() {
				continue
			}
			if task.State != structs.TaskRunning && task.State != structs.TaskCompleted {
				continue
			}
			for _, depID := range task.Dependencies.Slice() {
				dep := c.GetTask(depID)
				require.NotNil(t, dep)
				require.Equal(t, structs.TaskCompleted, dep.State)
				require.GreaterOrEqual(t, task.StartTime, dep.EndTime)
			}
		}
	}
}

func TestSimulatorDeterministicForSameSeed(t *testing.T) {
	run := func() *structs.Results {
		c := newTestCell(t,
			structs.NewMachine("m1", "standard", structs.Resources{CPUCores: 16, MemoryGB: 32}, "rack-a"),
		)
		batch, err := scheduler.Build(scheduler.Spec{ID: "batch-1", Type: "batch", MaxRetries: 3}, nil)
		require.NoError(t, err)
		registry := scheduler.NewRegistry([]scheduler.Scheduler{batch})
		cfg := workload.DefaultConfig(42)
		cfg.ServiceMeanInterarrival = 0
		gen := workload.NewGenerator(cfg)
		sim := New(nil, c, registry, gen, Config{Duration: 300, FailureSeed: 42, FailureRate: 0.005, MeanDowntime: 15})
		result, err := sim.Run()
		require.NoError(t, err)
		return result
	}

	r1 := run()
	r2 := run()
	require.Equal(t, r1.CompletedJobs, r2.CompletedJobs)
	require.Equal(t, r1.FailedJobs, r2.FailedJobs)
	require.Equal(t, r1.SimulationTime, r2.SimulationTime)
}
