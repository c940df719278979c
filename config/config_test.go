package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const validHCL = `
duration = 3600

machine {
  id = "m1"
  type = "standard"
  cpu_cores = 16
  gpu_count = 0
  memory_gb = 32
  failure_domain = "rack-a"
}

scheduler {
  id = "batch-1"
  type = "batch"
  max_retries = 3
}

workload {
  seed = 1
  batch_mean_interarrival = 10
}

failure {
  seed = 1
  rate = 0.01
  mean_downtime = 30
}
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse(validHCL)
	require.NoError(t, err)
	require.Equal(t, 3600.0, cfg.Duration)
	require.Len(t, cfg.Machines, 1)
	require.Equal(t, "m1", cfg.Machines[0].ID)
	require.Len(t, cfg.Schedulers, 1)
}

func TestValidateRejectsMissingMachines(t *testing.T) {
	cfg := &Config{
		Duration:   100,
		Schedulers: []SchedulerConfig{{ID: "batch-1", Type: "batch"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one machine")
}

func TestValidateRejectsUnknownSchedulerType(t *testing.T) {
	cfg := &Config{
		Duration:   100,
		Machines:   []MachineConfig{{ID: "m1", CPUCores: 1, MemoryGB: 1}},
		Schedulers: []SchedulerConfig{{ID: "s1", Type: "nonsense"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown type")
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(ve.Errors.Errors), 3)
}

func TestValidateRejectsDuplicateMachineIDs(t *testing.T) {
	cfg := &Config{
		Duration: 100,
		Machines: []MachineConfig{
			{ID: "m1", CPUCores: 1, MemoryGB: 1},
			{ID: "m1", CPUCores: 1, MemoryGB: 1},
		},
		Schedulers: []SchedulerConfig{{ID: "s1", Type: "batch"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate machine id")
}

func TestBuildMachinesConvertsCorrectly(t *testing.T) {
	cfg, err := Parse(validHCL)
	require.NoError(t, err)
	machines := cfg.BuildMachines()
	require.Len(t, machines, 1)
	require.Equal(t, 16, machines[0].Capacity.CPUCores)
	require.Equal(t, "rack-a", machines[0].FailureDomain)
}

func TestBuildMachinesGeneratesHeterogeneousMixFromClusterBlock(t *testing.T) {
	cfg := &Config{
		Duration:   100,
		Cluster:    ClusterConfig{NumMachines: 20, Heterogeneous: true},
		Schedulers: []SchedulerConfig{{ID: "batch-1", Type: "batch"}},
	}
	require.NoError(t, cfg.Validate())

	machines := cfg.BuildMachines()
	require.Len(t, machines, 20)

	byType := make(map[string]int)
	for _, m := range machines {
		byType[m.Type]++
	}
	require.Equal(t, 10, byType["standard"])
	require.Equal(t, 6, byType["high-mem"])
	require.Equal(t, 3, byType["gpu"])
	require.Equal(t, 1, byType["tiny"])
}

func TestBuildMachinesGeneratesHomogeneousClusterByDefault(t *testing.T) {
	cfg := &Config{
		Duration:   100,
		Cluster:    ClusterConfig{NumMachines: 5},
		Schedulers: []SchedulerConfig{{ID: "batch-1", Type: "batch"}},
	}
	require.NoError(t, cfg.Validate())

	machines := cfg.BuildMachines()
	require.Len(t, machines, 5)
	for _, m := range machines {
		require.Equal(t, "standard", m.Type)
	}
}

func TestValidateRejectsBothMachinesAndClusterBlock(t *testing.T) {
	cfg := &Config{
		Duration:   100,
		Cluster:    ClusterConfig{NumMachines: 5},
		Machines:   []MachineConfig{{ID: "m1", CPUCores: 1, MemoryGB: 1}},
		Schedulers: []SchedulerConfig{{ID: "s1", Type: "batch"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "either explicit machine blocks or cluster.num_machines")
}
