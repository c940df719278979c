package scheduler

import "errors"

// ErrInfeasible marks a task no machine in the cluster could ever satisfy,
// regardless of current load — distinct from a transient placement
// rejection, which just needs a retry (§7).
var ErrInfeasible = errors.New("scheduler: task infeasible on any machine")

// ErrExhausted marks a job that used its retry budget (plus the one-time
// extension) without placing every task (§7).
var ErrExhausted = errors.New("scheduler: retry budget exhausted")
