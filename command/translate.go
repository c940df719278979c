package command

import (
	"math/rand/v2"

	"github.com/cellsched/cellsched/config"
	"github.com/cellsched/cellsched/scheduler"
	"github.com/cellsched/cellsched/structs"
	"github.com/cellsched/cellsched/workload"
)

// schedulerSpecFromConfig translates one parsed HCL scheduler block into
// the scheduler package's own Spec type, the boundary config.Config
// deliberately stays on the other side of (§6: "the core only depends on
// the parsed config.Config struct, never on HCL directly").
func schedulerSpecFromConfig(sc config.SchedulerConfig) scheduler.Spec {
	weights := make(map[structs.JobType]int, len(sc.Weights))
	for k, v := range sc.Weights {
		weights[structs.JobType(k)] = v
	}

	spec := scheduler.Spec{
		ID:                sc.ID,
		Type:              sc.Type,
		DecisionTimeJob:   sc.DecisionTimeJob,
		DecisionTimeTask:  sc.DecisionTimeTask,
		PlacementStrategy: scheduler.PlacementStrategy(sc.PlacementStrategy),
		MaxRetries:        sc.MaxRetries,
		RequireGang:       sc.RequireGang,
		MRPolicy:          scheduler.MRPolicy(sc.MRPolicy),
		MRHardCap:         sc.MRHardCap,
		MRUtilThreshold:   sc.MRUtilThreshold,
		Weights:           weights,
	}
	if sc.Type == "random" {
		spec.RNG = rand.New(rand.NewPCG(sc.RandomSeed, sc.RandomSeed^0xa5a5a5a5))
	}
	return spec
}

func workloadConfigFromConfig(wc config.WorkloadConfig) workload.Config {
	return workload.Config{
		Seed:                      wc.Seed,
		BatchMeanInterarrival:     wc.BatchMeanInterarrival,
		ServiceMeanInterarrival:   wc.ServiceMeanInterarrival,
		MapReduceMeanInterarrival: wc.MapReduceMeanInterarrival,
		BatchTaskCountMean:        wc.BatchTaskCountMean,
		ServiceTaskCountMean:      wc.ServiceTaskCountMean,
		MapReduceTaskCountMean:    wc.MapReduceTaskCountMean,
		BatchDurationMean:         wc.BatchDurationMean,
		ServiceDurationMean:       wc.ServiceDurationMean,
		CPUMean:                   wc.CPUMean,
		CPUStdDev:                 wc.CPUStdDev,
		MemoryMean:                wc.MemoryMean,
		MemoryStdDev:              wc.MemoryStdDev,
		BatchGPUFraction:          wc.BatchGPUFraction,
		ServiceGPUFraction:        wc.ServiceGPUFraction,
		MapReduceDAG:              wc.MapReduceDAG,
	}
}
