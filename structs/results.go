package structs

// Utilization reports fractional cluster-wide resource usage in [0, 1]
// (or slightly above 1 only if an invariant has already been violated
// elsewhere — callers should treat that as a bug, not a valid reading).
type Utilization struct {
	CPU    float64 `json:"cpu"`
	GPU    float64 `json:"gpu"`
	Memory float64 `json:"memory"`
}

// SchedulerStats is the per-scheduler block of the results record.
type SchedulerStats struct {
	ID            string  `json:"id"`
	JobsScheduled int     `json:"jobs_scheduled"`
	TasksScheduled int    `json:"tasks_scheduled"`
	Conflicts     int     `json:"conflicts"`
	ConflictRate  float64 `json:"conflict_rate"`
	BusyTime      float64 `json:"busy_time"`
	AvgWaitTime   float64 `json:"avg_wait_time"`
}

// CellStats is the cell_state block of the results record.
type CellStats struct {
	TotalTransactions int         `json:"total_transactions"`
	TotalCommits      int         `json:"total_commits"`
	TotalConflicts    int         `json:"total_conflicts"`
	ConflictRate      float64     `json:"conflict_rate"`
	Utilization       Utilization `json:"utilization"`
}

// JobTrace is one optional per-job trace entry.
type JobTrace struct {
	JobID       string  `json:"job_id"`
	Type        JobType `json:"type"`
	SubmitTime  float64 `json:"submit_time"`
	ScheduledAt float64 `json:"scheduled_at,omitempty"`
	CompletedAt float64 `json:"completed_at,omitempty"`
	Failed      bool    `json:"failed"`
}

// Results is the structured record emitted at simulation end (§6). Its
// serialization format (JSON here) is a matter for the surrounding CLI in
// principle, but the core owns the shape of the record itself.
type Results struct {
	SimulationTime float64                   `json:"simulation_time"`
	CompletedJobs  int                       `json:"completed_jobs"`
	FailedJobs     int                       `json:"failed_jobs"`
	Schedulers     map[string]SchedulerStats `json:"schedulers"`
	Cell           CellStats                 `json:"cell_state"`
	JobTraces      []JobTrace                `json:"job_traces,omitempty"`
}
