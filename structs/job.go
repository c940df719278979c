package structs

// JobType distinguishes the scheduler policy a job is routed to.
type JobType string

const (
	JobBatch     JobType = "batch"
	JobService   JobType = "service"
	JobMapReduce JobType = "mapreduce"
)

// Job groups an ordered set of tasks submitted together, optionally with
// DAG edges among them (used by MapReduce map/reduce staging).
type Job struct {
	ID         string
	Type       JobType
	Priority   int
	SubmitTime float64
	Tasks       []string            // task ids, in submission order
	Edges       map[string][]string // task id -> ids of tasks it depends on
	RequireGang bool
	// AntiAffinity forbids placing more than one of this job's tasks on
	// the same machine — the hard constraint the service scheduler's
	// scoring function treats as -infinity (§4.2.2).
	AntiAffinity bool
}

// NewJob constructs an empty job shell; tasks are appended by the caller.
func NewJob(id string, jobType JobType, priority int, submitTime float64) *Job {
	return &Job{
		ID:         id,
		Type:       jobType,
		Priority:   priority,
		SubmitTime: submitTime,
		Tasks:      nil,
		Edges:      make(map[string][]string),
	}
}

// Dependents returns, for stage-gated DAGs, the tasks that depend on
// taskID (the inverse of Edges). It is recomputed on demand rather than
// cached since job graphs are small and built once at workload generation
// time.
func (j *Job) Dependents(taskID string) []string {
	var out []string
	for task, deps := range j.Edges {
		for _, dep := range deps {
			if dep == taskID {
				out = append(out, task)
				break
			}
		}
	}
	return out
}
