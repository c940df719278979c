package simulator

import (
	"math"
	"math/rand/v2"
)

// failureInjector schedules exponential inter-failure and inter-recovery
// events from its own PRNG streams, per §4.5 — never the workload
// generator's streams or ambient randomness, so a run replays identically
// for a given seed regardless of how many jobs the workload happens to
// produce.
type failureInjector struct {
	rate         float64
	meanDowntime float64
	clockRNG     *rand.Rand
	pickRNG      *rand.Rand
}

func newFailureInjector(cfg Config) *failureInjector {
	return &failureInjector{
		rate:         cfg.FailureRate,
		meanDowntime: cfg.MeanDowntime,
		clockRNG:     rand.New(rand.NewPCG(cfg.FailureSeed, 101)),
		pickRNG:      rand.New(rand.NewPCG(cfg.FailureSeed, 102)),
	}
}

func (f *failureInjector) enabled() bool { return f.rate > 0 }

// nextFailureGap samples the gap until the next failure across
// numMachines independent per-machine exponential clocks, each at rate
// f.rate — the minimum of N iid exponentials is itself exponential with
// rate N*lambda.
func (f *failureInjector) nextFailureGap(numMachines int) float64 {
	if numMachines <= 0 {
		return math.Inf(1)
	}
	mean := 1.0 / (f.rate * float64(numMachines))
	return exponentialGap(f.clockRNG, mean)
}

func (f *failureInjector) nextRecoveryGap() float64 {
	return exponentialGap(f.clockRNG, f.meanDowntime)
}

// pickHealthy selects a uniformly random index among n healthy
// machines, for reproducibility drawn from the injector's own stream
// (§4.5: "select a healthy machine uniformly at random... with the
// simulation's PRNG").
func (f *failureInjector) pickHealthy(n int) int {
	return f.pickRNG.IntN(n)
}

func exponentialGap(r *rand.Rand, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	u := r.Float64()
	for u == 0 {
		u = r.Float64()
	}
	return -math.Log(u) * mean
}
