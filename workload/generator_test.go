package workload

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cellsched/cellsched/structs"
)

func TestGeneratorIsDeterministicForASeed(t *testing.T) {
	cfg := DefaultConfig(42)
	g1 := NewGenerator(cfg)
	g2 := NewGenerator(cfg)

	for i := 0; i < 20; i++ {
		at1, j1, tasks1 := g1.Next()
		at2, j2, tasks2 := g2.Next()
		require.Equal(t, at1, at2)
		require.Equal(t, j1.Type, j2.Type)
		require.Equal(t, len(tasks1), len(tasks2))
	}
}

func TestGeneratorArrivalsAreNonDecreasing(t *testing.T) {
	g := NewGenerator(DefaultConfig(7))
	prev := -1.0
	for i := 0; i < 50; i++ {
		at, _, _ := g.Next()
		require.GreaterOrEqual(t, at, prev)
		prev = at
	}
}

func TestGeneratorRespectsJobTypeMixDisablesMapReduceByDefault(t *testing.T) {
	g := NewGenerator(DefaultConfig(1))
	for i := 0; i < 50; i++ {
		_, job, _ := g.Next()
		require.NotEqual(t, structs.JobMapReduce, job.Type, "MapReduce is off by default")
	}
}

func TestGeneratorMapReduceDAGStage2DependsOnAllStage1(t *testing.T) {
	cfg := DefaultConfig(3)
	cfg.MapReduceMeanInterarrival = 5
	cfg.MapReduceTaskCountMean = 4
	cfg.MapReduceDAG = true
	cfg.BatchMeanInterarrival = 0
	cfg.ServiceMeanInterarrival = 0

	g := NewGenerator(cfg)
	_, job, tasks := g.Next()
	require.Equal(t, structs.JobMapReduce, job.Type)

	var stage1, stage2 []*structs.Task
	for _, task := range tasks {
		if task.Dependencies.Empty() {
			stage1 = append(stage1, task)
		} else {
			stage2 = append(stage2, task)
		}
	}
	require.Len(t, stage2, 1, "exactly one reduce task")
	require.Equal(t, len(stage1), stage2[0].Dependencies.Size(), "reduce depends on every map task")
}

func TestGeneratorTaskCountAtLeastOne(t *testing.T) {
	cfg := DefaultConfig(9)
	cfg.BatchTaskCountMean = 0.01
	g := NewGenerator(cfg)
	for i := 0; i < 30; i++ {
		_, _, tasks := g.Next()
		require.GreaterOrEqual(t, len(tasks), 1)
	}
}

func TestGeneratorResourceRequirementsClamped(t *testing.T) {
	cfg := DefaultConfig(11)
	cfg.CPUMean = -10
	cfg.MemoryMean = -10
	g := NewGenerator(cfg)
	for i := 0; i < 30; i++ {
		_, _, tasks := g.Next()
		for _, task := range tasks {
			require.GreaterOrEqual(t, task.Requirement.CPUCores, 1)
			require.GreaterOrEqual(t, task.Requirement.MemoryGB, 0.5)
		}
	}
}
