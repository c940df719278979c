package scheduler

import (
	"fmt"
	"math/rand/v2"

	"github.com/hashicorp/go-hclog"

	"github.com/cellsched/cellsched/structs"
)

// Spec is the type-tag-plus-parameters a config entry resolves to one
// scheduler instance, dispatched through Registry rather than a type
// switch (§9 "Polymorphic schedulers... dispatch by tag").
type Spec struct {
	ID               string
	Type             string
	DecisionTimeJob  float64 // carried from config; Build does not apply it, every type uses its built-in default
	DecisionTimeTask float64 // carried from config; Build does not apply it either
	PlacementStrategy PlacementStrategy
	MaxRetries       int
	RequireGang      bool

	// MapReduce-only
	MRPolicy      MRPolicy
	MRHardCap     int
	MRUtilThreshold float64

	// WeightedRoundRobin-only
	Weights map[structs.JobType]int

	// Random-only: this scheduler's own PRNG stream, which the command
	// layer seeds from the config's random_seed.
	RNG *rand.Rand
}

// Build constructs the scheduler named by spec.Type. Unknown types return
// an error rather than panicking, since scheduler lists come from parsed
// configuration.
func Build(spec Spec, logger hclog.Logger) (Scheduler, error) {
	switch spec.Type {
	case "batch":
		return NewBatchScheduler(spec.ID, logger, spec.PlacementStrategy, spec.MaxRetries), nil
	case "service":
		return NewServiceScheduler(spec.ID, logger, spec.MaxRetries), nil
	case "mapreduce":
		return NewMapReduceScheduler(spec.ID, logger, spec.MRPolicy, spec.MRHardCap, spec.MRUtilThreshold, spec.MaxRetries), nil
	case "priority":
		return NewPriorityScheduler(spec.ID, logger, spec.PlacementStrategy, spec.MaxRetries), nil
	case "weighted_round_robin":
		return NewWeightedRoundRobinScheduler(spec.ID, logger, spec.PlacementStrategy, spec.Weights, spec.MaxRetries), nil
	case "first_fit":
		return NewFirstFitScheduler(spec.ID, logger, spec.MaxRetries), nil
	case "random":
		if spec.RNG == nil {
			return nil, fmt.Errorf("scheduler %q: random scheduler requires a seeded PRNG stream", spec.ID)
		}
		return NewRandomScheduler(spec.ID, logger, spec.RNG, spec.MaxRetries), nil
	default:
		return nil, fmt.Errorf("scheduler %q: unknown type %q", spec.ID, spec.Type)
	}
}

// Registry holds the live scheduler actors for one simulation run, in
// configured order, and routes a job to the first scheduler that accepts
// its type.
type Registry struct {
	schedulers []Scheduler
}

func NewRegistry(schedulers []Scheduler) *Registry {
	return &Registry{schedulers: schedulers}
}

func (r *Registry) All() []Scheduler { return r.schedulers }

// RouteFor returns the scheduler assigned to jobType, or nil if none
// accepts it.
func (r *Registry) RouteFor(jobType structs.JobType) Scheduler {
	for _, s := range r.schedulers {
		if s.Accepts(jobType) {
			return s
		}
	}
	return nil
}

func (r *Registry) Get(id string) Scheduler {
	for _, s := range r.schedulers {
		if s.ID() == id {
			return s
		}
	}
	return nil
}
