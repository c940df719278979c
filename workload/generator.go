// Package workload generates a deterministic sequence of (arrival_time,
// Job, Tasks) tuples from a seed, mirroring the "seed once, derive
// independent streams" shape of inference-sim's sim.PartitionedRNG so
// that every distribution draws from its own reproducible stream instead
// of one shared *rand.Rand (§4.3, §9 "Deterministic parallelism").
package workload

import (
	"math"
	"math/rand/v2"

	"github.com/cellsched/cellsched/structs"
)

// Config parameterizes the generator. Fields are used as given, with no
// fallback for zero values; DefaultConfig supplies the defaults spec.md
// §4.3 names in its examples.
type Config struct {
	Seed uint64

	// Mean inter-arrival time per job type, in virtual seconds. A
	// non-positive value disables that job type entirely (the default
	// for MapReduce, per §4.3 "MapReduce off by default").
	BatchMeanInterarrival     float64
	ServiceMeanInterarrival   float64
	MapReduceMeanInterarrival float64

	// Task-count log-normal parameters (sigma fixed, mean configurable),
	// truncated to >= 1 (§4.3).
	BatchTaskCountMean   float64
	ServiceTaskCountMean float64
	MapReduceTaskCountMean float64

	// Task duration log-normal means, in virtual seconds.
	BatchDurationMean   float64 // default ~5 min
	ServiceDurationMean float64 // default ~24 h

	// Resource requirement normal-distribution means; clamped to >= 1 cpu
	// core and >= 0.5 GB memory (§4.3).
	CPUMean, CPUStdDev       float64
	MemoryMean, MemoryStdDev float64

	// Fraction of tasks that demand GPU, per job type (§4.3: 10% batch, 5%
	// service, 1-2 GPUs).
	BatchGPUFraction   float64
	ServiceGPUFraction float64

	// MapReduceDAG builds a two-stage map/reduce DAG for MapReduce jobs
	// when true: stage-2 tasks depend on every stage-1 task (§4.3).
	MapReduceDAG bool
}

// DefaultConfig returns the distribution parameters implied by spec.md
// §4.3's own worked examples.
func DefaultConfig(seed uint64) Config {
	return Config{
		Seed:                   seed,
		BatchMeanInterarrival:  10,
		ServiceMeanInterarrival: 60,
		BatchTaskCountMean:     4,
		ServiceTaskCountMean:   2,
		MapReduceTaskCountMean: 4,
		BatchDurationMean:      300,
		ServiceDurationMean:    86400,
		CPUMean:                2,
		CPUStdDev:              1,
		MemoryMean:             4,
		MemoryStdDev:           2,
		BatchGPUFraction:       0.10,
		ServiceGPUFraction:     0.05,
	}
}

const logNormalSigma = 0.5

// Generator produces jobs in strict non-decreasing arrival-time order by
// merging one independent Poisson stream per active job type.
type Generator struct {
	cfg Config

	arrivalRNG   *rand.Rand
	taskCountRNG *rand.Rand
	durationRNG  *rand.Rand
	resourceRNG  *rand.Rand
	gpuRNG       *rand.Rand
	priorityRNG  *rand.Rand

	nextArrival map[structs.JobType]float64
}

// NewGenerator derives six independent PRNG streams from cfg.Seed (one
// per distribution concern) and primes the first arrival of every active
// job type.
func NewGenerator(cfg Config) *Generator {
	g := &Generator{
		cfg:          cfg,
		arrivalRNG:   streamFrom(cfg.Seed, 1),
		taskCountRNG: streamFrom(cfg.Seed, 2),
		durationRNG:  streamFrom(cfg.Seed, 3),
		resourceRNG:  streamFrom(cfg.Seed, 4),
		gpuRNG:       streamFrom(cfg.Seed, 5),
		priorityRNG:  streamFrom(cfg.Seed, 6),
		nextArrival:  make(map[structs.JobType]float64),
	}
	if cfg.BatchMeanInterarrival > 0 {
		g.nextArrival[structs.JobBatch] = exponential(g.arrivalRNG, cfg.BatchMeanInterarrival)
	}
	if cfg.ServiceMeanInterarrival > 0 {
		g.nextArrival[structs.JobService] = exponential(g.arrivalRNG, cfg.ServiceMeanInterarrival)
	}
	if cfg.MapReduceMeanInterarrival > 0 {
		g.nextArrival[structs.JobMapReduce] = exponential(g.arrivalRNG, cfg.MapReduceMeanInterarrival)
	}
	return g
}

// streamFrom derives an independent stream for concern index i from a
// single root seed, so every concern gets its own reproducible sequence
// without sharing state with the others.
func streamFrom(seed uint64, i uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, i))
}

// exponential samples an inter-arrival gap for a Poisson process with the
// given mean, via the standard -ln(U)/lambda construction (§4.3).
func exponential(r *rand.Rand, mean float64) float64 {
	u := r.Float64()
	for u == 0 {
		u = r.Float64()
	}
	lambda := 1.0 / mean
	return -math.Log(u) / lambda
}

// logNormal draws a value whose distribution has the given target mean,
// via the standard Box-Muller transform feeding rand.Rand.NormFloat64.
func logNormal(r *rand.Rand, mean float64) float64 {
	mu := math.Log(mean) - logNormalSigma*logNormalSigma/2
	return math.Exp(mu + logNormalSigma*r.NormFloat64())
}

// HasNext reports whether any configured job type stream is still active.
func (g *Generator) HasNext() bool { return len(g.nextArrival) > 0 }

// Next returns the next (arrival_time, Job, Tasks) tuple in arrival order,
// advancing the corresponding type's stream. Tasks is keyed by task id.
func (g *Generator) Next() (float64, *structs.Job, map[string]*structs.Task) {
	jobType, arrival := g.earliestType()
	mean := g.interarrivalMean(jobType)
	g.nextArrival[jobType] = arrival + exponential(g.arrivalRNG, mean)

	jobID := structs.GenerateID()
	priority := 1 + g.priorityRNG.IntN(10)
	job := structs.NewJob(jobID, jobType, priority, arrival)

	tasks := g.generateTasks(job)

	return arrival, job, tasks
}

func (g *Generator) earliestType() (structs.JobType, float64) {
	var best structs.JobType
	bestTime := math.Inf(1)
	for t, at := range g.nextArrival {
		if at < bestTime {
			bestTime = at
			best = t
		}
	}
	return best, bestTime
}

func (g *Generator) interarrivalMean(jobType structs.JobType) float64 {
	switch jobType {
	case structs.JobBatch:
		return g.cfg.BatchMeanInterarrival
	case structs.JobService:
		return g.cfg.ServiceMeanInterarrival
	default:
		return g.cfg.MapReduceMeanInterarrival
	}
}

func (g *Generator) generateTasks(job *structs.Job) map[string]*structs.Task {
	n := g.taskCount(job.Type)
	tasks := make(map[string]*structs.Task, n)

	if job.Type == structs.JobMapReduce && g.cfg.MapReduceDAG && n >= 2 {
		return g.generateMapReduceDAG(job, n)
	}

	for i := 0; i < n; i++ {
		t := g.newTask(job.ID, job.Type)
		tasks[t.ID] = t
		job.Tasks = append(job.Tasks, t.ID)
	}
	return tasks
}

// generateMapReduceDAG splits n tasks into a map stage and a single
// reduce task depending on every map task, per §4.3's "two stages (map
// then reduce)".
func (g *Generator) generateMapReduceDAG(job *structs.Job, n int) map[string]*structs.Task {
	mapCount := n - 1
	tasks := make(map[string]*structs.Task, n)
	var mapIDs []string
	for i := 0; i < mapCount; i++ {
		t := g.newTask(job.ID, structs.JobMapReduce)
		tasks[t.ID] = t
		mapIDs = append(mapIDs, t.ID)
	}
	reduce := g.newTask(job.ID, structs.JobMapReduce)
	for _, id := range mapIDs {
		reduce.Dependencies.Insert(id)
	}
	tasks[reduce.ID] = reduce
	job.Tasks = append(job.Tasks, mapIDs...)
	job.Tasks = append(job.Tasks, reduce.ID)
	job.Edges[reduce.ID] = mapIDs
	return tasks
}

func (g *Generator) taskCount(jobType structs.JobType) int {
	var mean float64
	switch jobType {
	case structs.JobBatch:
		mean = g.cfg.BatchTaskCountMean
	case structs.JobService:
		mean = g.cfg.ServiceTaskCountMean
	default:
		mean = g.cfg.MapReduceTaskCountMean
	}
	n := int(math.Round(logNormal(g.taskCountRNG, mean)))
	if n < 1 {
		n = 1
	}
	return n
}

func (g *Generator) newTask(jobID string, jobType structs.JobType) *structs.Task {
	id := structs.GenerateID()

	durationMean := g.cfg.BatchDurationMean
	gpuFraction := g.cfg.BatchGPUFraction
	allowTwoGPU := false
	if jobType == structs.JobService {
		durationMean = g.cfg.ServiceDurationMean
		gpuFraction = g.cfg.ServiceGPUFraction
		allowTwoGPU = true
	}

	duration := logNormal(g.durationRNG, durationMean)
	req := g.sampleResources(gpuFraction, allowTwoGPU)
	return structs.NewTask(id, jobID, req, duration)
}

// sampleResources draws a normal-distributed requirement clamped to the
// spec's minimums (>= 1 cpu core, >= 0.5 GB memory), with an independent
// Bernoulli draw for GPU demand: service tasks that draw a GPU get 1 or 2
// (§4.3), batch tasks always get exactly 1.
func (g *Generator) sampleResources(gpuFraction float64, allowTwoGPU bool) structs.Resources {
	cpu := g.cfg.CPUMean + g.cfg.CPUStdDev*g.resourceRNG.NormFloat64()
	if cpu < 1 {
		cpu = 1
	}
	mem := g.cfg.MemoryMean + g.cfg.MemoryStdDev*g.resourceRNG.NormFloat64()
	if mem < 0.5 {
		mem = 0.5
	}

	gpu := 0
	if gpuFraction > 0 && g.gpuRNG.Float64() < gpuFraction {
		gpu = 1
		if allowTwoGPU && g.gpuRNG.Float64() < 0.5 {
			gpu = 2
		}
	}

	return structs.Resources{CPUCores: int(math.Round(cpu)), MemoryGB: mem, GPUCount: gpu}
}
