package simulator

// Config parameterizes one simulation run: how long virtual time runs,
// and the failure injector's rates (§4.5).
type Config struct {
	Duration float64 // virtual seconds; the run stops once no event remains at or before this time

	// FailureSeed seeds the two independent PRNG streams the failure
	// injector uses (inter-failure/inter-recovery sampling, and
	// uniform-random healthy-machine selection) — never shared with the
	// workload generator's streams, so failure injection and workload
	// generation each replay independently of the other's draws.
	FailureSeed uint64

	// FailureRate is the per-machine exponential failure rate (§4.5); 0
	// disables failure injection entirely.
	FailureRate float64

	// MeanDowntime is the mean of the exponential recovery-downtime
	// distribution; every failure schedules a recovery after a sampled
	// downtime, and a non-positive mean makes that downtime 0 (the machine
	// recovers at the instant it failed).
	MeanDowntime float64
}
