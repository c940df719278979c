// Package metrics emits periodic counters and gauges for one simulation
// run, the same labeled-emission shape as nomad's per-hook metrics
// handler (client/allocrunner/hookstats): a small Recorder holding base
// labels, with Emit-style methods instead of callers building label
// slices inline everywhere.
package metrics

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics"

	"github.com/cellsched/cellsched/structs"
)

// Recorder wraps a go-metrics global sink with the labels common to every
// metric this run emits (currently just the run id, but structured so
// adding e.g. a scenario label later is a one-line change).
type Recorder struct {
	labels []gometrics.Label
}

// NewRecorder configures the process-global go-metrics sink (an in-memory
// sink by default, matching the teacher's test harness) and returns a
// Recorder for runID.
func NewRecorder(runID string) (*Recorder, error) {
	sink := gometrics.NewInmemSink(10*time.Second, time.Minute)
	if _, err := gometrics.NewGlobal(gometrics.DefaultConfig("cellsched"), sink); err != nil {
		return nil, err
	}
	return &Recorder{labels: []gometrics.Label{{Name: "run_id", Value: runID}}}, nil
}

// TransactionCommitted records one cell commit by adding its accepted and
// rejected placement counts to two counters labelled with the scheduler id.
func (r *Recorder) TransactionCommitted(schedulerID string, accepted, rejected int) {
	labels := append(r.labels[:len(r.labels):len(r.labels)], gometrics.Label{Name: "scheduler", Value: schedulerID})
	gometrics.IncrCounterWithLabels([]string{"cellsched", "placements", "accepted"}, float32(accepted), labels)
	gometrics.IncrCounterWithLabels([]string{"cellsched", "placements", "rejected"}, float32(rejected), labels)
}

// SchedulingLatency records the wall-clock time since start, keyed by
// scheduler id; the simulator calls it right after a scheduler's Plan.
func (r *Recorder) SchedulingLatency(schedulerID string, start time.Time) {
	labels := append(r.labels[:len(r.labels):len(r.labels)], gometrics.Label{Name: "scheduler", Value: schedulerID})
	gometrics.MeasureSinceWithLabels([]string{"cellsched", "scheduler", "activation"}, start, labels)
}

// Utilization publishes the cluster's current cpu/gpu/memory utilization
// gauges; the simulator calls it after every commit.
func (r *Recorder) Utilization(u structs.Utilization) {
	gometrics.SetGaugeWithLabels([]string{"cellsched", "utilization", "cpu"}, float32(u.CPU), r.labels)
	gometrics.SetGaugeWithLabels([]string{"cellsched", "utilization", "gpu"}, float32(u.GPU), r.labels)
	gometrics.SetGaugeWithLabels([]string{"cellsched", "utilization", "memory"}, float32(u.Memory), r.labels)
}

// JobOutcome increments a completed or failed job counter.
func (r *Recorder) JobOutcome(jobType structs.JobType, failed bool) {
	labels := append(r.labels[:len(r.labels):len(r.labels)], gometrics.Label{Name: "job_type", Value: string(jobType)})
	if failed {
		gometrics.IncrCounterWithLabels([]string{"cellsched", "jobs", "failed"}, 1, labels)
		return
	}
	gometrics.IncrCounterWithLabels([]string{"cellsched", "jobs", "completed"}, 1, labels)
}
