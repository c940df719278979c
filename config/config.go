// Package config loads a simulation's Configuration record from HCL,
// mirroring how nomad's agent loads and validates agent.hcl before
// anything else starts — parse into a plain struct, then fail fast with
// every validation error collected at once rather than one at a time.
package config

import (
	"fmt"
	"math"

	"github.com/hashicorp/hcl"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/cellsched/cellsched/structs"
)

// MachineConfig describes one machine to register with the cell at
// startup.
type MachineConfig struct {
	ID            string  `hcl:"id"`
	Type          string  `hcl:"type"`
	CPUCores      int     `hcl:"cpu_cores"`
	GPUCount      int     `hcl:"gpu_count"`
	MemoryGB      float64 `hcl:"memory_gb"`
	FailureDomain string  `hcl:"failure_domain"`
}

// ClusterConfig generates a machine pool from a count and a type-mix
// flag (§6) instead of naming each machine individually; an alternative
// to an explicit `machine` block list.
type ClusterConfig struct {
	NumMachines   int  `hcl:"num_machines"`
	Heterogeneous bool `hcl:"heterogeneous"`
}

// SchedulerConfig is one entry of the `scheduler` block, decoded into a
// scheduler.Spec by the caller (config intentionally stays independent of
// the scheduler package's RNG-bearing Spec type).
type SchedulerConfig struct {
	ID                string         `hcl:"id"`
	Type              string         `hcl:"type"`
	DecisionTimeJob   float64        `hcl:"decision_time_job"`
	DecisionTimeTask  float64        `hcl:"decision_time_task"`
	PlacementStrategy string         `hcl:"placement_strategy"`
	MaxRetries        int            `hcl:"max_retries"`
	RequireGang       bool           `hcl:"require_gang"`
	MRPolicy          string         `hcl:"mr_policy"`
	MRHardCap         int            `hcl:"mr_hard_cap"`
	MRUtilThreshold   float64        `hcl:"mr_util_threshold"`
	Weights           map[string]int `hcl:"weights"`
	RandomSeed        uint64         `hcl:"random_seed"`
}

// WorkloadConfig mirrors workload.Config's HCL-facing subset.
type WorkloadConfig struct {
	Seed                      uint64  `hcl:"seed"`
	BatchMeanInterarrival     float64 `hcl:"batch_mean_interarrival"`
	ServiceMeanInterarrival   float64 `hcl:"service_mean_interarrival"`
	MapReduceMeanInterarrival float64 `hcl:"mapreduce_mean_interarrival"`
	BatchTaskCountMean        float64 `hcl:"batch_task_count_mean"`
	ServiceTaskCountMean      float64 `hcl:"service_task_count_mean"`
	MapReduceTaskCountMean    float64 `hcl:"mapreduce_task_count_mean"`
	BatchDurationMean         float64 `hcl:"batch_duration_mean"`
	ServiceDurationMean       float64 `hcl:"service_duration_mean"`
	CPUMean                   float64 `hcl:"cpu_mean"`
	CPUStdDev                 float64 `hcl:"cpu_stddev"`
	MemoryMean                float64 `hcl:"memory_mean"`
	MemoryStdDev              float64 `hcl:"memory_stddev"`
	BatchGPUFraction          float64 `hcl:"batch_gpu_fraction"`
	ServiceGPUFraction        float64 `hcl:"service_gpu_fraction"`
	MapReduceDAG              bool    `hcl:"mapreduce_dag"`
}

// FailureConfig mirrors simulator.Config's failure-injection fields.
type FailureConfig struct {
	Seed         uint64  `hcl:"seed"`
	Rate         float64 `hcl:"rate"`
	MeanDowntime float64 `hcl:"mean_downtime"`
}

// Config is the top-level Configuration record (§6): cluster topology,
// scheduler roster, workload parameters, and run duration.
type Config struct {
	Duration   float64           `hcl:"duration"`
	Cluster    ClusterConfig     `hcl:"cluster"`
	Machines   []MachineConfig   `hcl:"machine"`
	Schedulers []SchedulerConfig `hcl:"scheduler"`
	Workload   WorkloadConfig    `hcl:"workload"`
	Failure    FailureConfig     `hcl:"failure"`
}

// ValidationError collects every structural problem found in a Config in
// one pass, the way nomad's agent config validation reports every bad
// field at once instead of stopping at the first one.
type ValidationError struct {
	Errors *multierror.Error
}

func (e *ValidationError) Error() string {
	return e.Errors.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Errors
}

// Parse decodes raw HCL text into a Config and validates it.
func Parse(raw string) (*Config, error) {
	var cfg Config
	if err := hcl.Decode(&cfg, raw); err != nil {
		return nil, fmt.Errorf("config: parse error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validSchedulerTypes = map[string]bool{
	"batch": true, "service": true, "mapreduce": true,
	"priority": true, "weighted_round_robin": true, "first_fit": true, "random": true,
}

// Validate checks the Config for structural problems that would fail at
// startup rather than partway through a run: missing ids, duplicate
// machine/scheduler ids, unknown scheduler types, non-positive duration.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Duration <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("duration must be positive, got %v", c.Duration))
	}
	switch {
	case len(c.Machines) == 0 && c.Cluster.NumMachines <= 0:
		errs = multierror.Append(errs, fmt.Errorf("at least one machine is required (explicit machine blocks or cluster.num_machines)"))
	case len(c.Machines) > 0 && c.Cluster.NumMachines > 0:
		errs = multierror.Append(errs, fmt.Errorf("specify either explicit machine blocks or cluster.num_machines, not both"))
	}
	if len(c.Schedulers) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("at least one scheduler is required"))
	}

	seenMachines := make(map[string]bool)
	for _, m := range c.Machines {
		if m.ID == "" {
			errs = multierror.Append(errs, fmt.Errorf("machine missing id"))
			continue
		}
		if seenMachines[m.ID] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate machine id %q", m.ID))
		}
		seenMachines[m.ID] = true
		if m.CPUCores <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("machine %q: cpu_cores must be positive", m.ID))
		}
		if m.MemoryGB <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("machine %q: memory_gb must be positive", m.ID))
		}
	}

	seenSchedulers := make(map[string]bool)
	for _, s := range c.Schedulers {
		if s.ID == "" {
			errs = multierror.Append(errs, fmt.Errorf("scheduler missing id"))
			continue
		}
		if seenSchedulers[s.ID] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate scheduler id %q", s.ID))
		}
		seenSchedulers[s.ID] = true
		if !validSchedulerTypes[s.Type] {
			errs = multierror.Append(errs, fmt.Errorf("scheduler %q: unknown type %q", s.ID, s.Type))
		}
		if s.Type == "random" && s.RandomSeed == 0 {
			errs = multierror.Append(errs, fmt.Errorf("scheduler %q: random scheduler requires a non-zero random_seed", s.ID))
		}
	}

	if errs != nil {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// BuildMachines converts the parsed machine entries to structs.Machine
// records, ready to register with a cell. When no explicit `machine`
// blocks are given, it generates cluster.num_machines machines instead
// (§6).
func (c *Config) BuildMachines() []*structs.Machine {
	if len(c.Machines) > 0 {
		out := make([]*structs.Machine, 0, len(c.Machines))
		for _, m := range c.Machines {
			capacity := structs.Resources{CPUCores: m.CPUCores, GPUCount: m.GPUCount, MemoryGB: m.MemoryGB}
			out = append(out, structs.NewMachine(m.ID, m.Type, capacity, m.FailureDomain))
		}
		return out
	}
	return generatedMachines(c.Cluster.NumMachines, c.Cluster.Heterogeneous)
}

// machineTypeMix is the §6 heterogeneous cluster's 50/30/15/5 type split:
// standard, high-memory, GPU, and tiny machines, in that order.
var machineTypeMix = []struct {
	name     string
	fraction float64
	capacity structs.Resources
}{
	{"standard", 0.50, structs.Resources{CPUCores: 16, MemoryGB: 32}},
	{"high-mem", 0.30, structs.Resources{CPUCores: 16, MemoryGB: 128}},
	{"gpu", 0.15, structs.Resources{CPUCores: 16, MemoryGB: 64, GPUCount: 4}},
	{"tiny", 0.05, structs.Resources{CPUCores: 4, MemoryGB: 8}},
}

const numGeneratedFailureDomains = 4

// generatedMachines builds n machines split across numGeneratedFailureDomains
// failure domains round-robin, either all in the standard profile or in
// machineTypeMix's 50/30/15/5 ratio when heterogeneous is true.
func generatedMachines(n int, heterogeneous bool) []*structs.Machine {
	domain := func(i int) string { return fmt.Sprintf("rack-%d", i%numGeneratedFailureDomains) }

	if !heterogeneous {
		out := make([]*structs.Machine, n)
		for i := 0; i < n; i++ {
			out[i] = structs.NewMachine(fmt.Sprintf("m%d", i), machineTypeMix[0].name, machineTypeMix[0].capacity, domain(i))
		}
		return out
	}

	counts := make([]int, len(machineTypeMix))
	assigned := 0
	for i := 0; i < len(machineTypeMix)-1; i++ {
		counts[i] = int(math.Round(machineTypeMix[i].fraction * float64(n)))
		assigned += counts[i]
	}
	counts[len(counts)-1] = n - assigned

	out := make([]*structs.Machine, 0, n)
	idx := 0
	for i, mt := range machineTypeMix {
		for j := 0; j < counts[i]; j++ {
			out = append(out, structs.NewMachine(fmt.Sprintf("m%d", idx), mt.name, mt.capacity, domain(idx)))
			idx++
		}
	}
	return out
}
