package cell

import "fmt"

// InvariantError reports a resource-accounting or bookkeeping invariant
// that has been violated — always fatal, per §7 of the spec: the
// simulator aborts the run rather than attempting to continue on
// corrupted state.
type InvariantError struct {
	MachineID string
	TaskID    string
	Sequence  uint64 // event sequence number preceding the violation, for diagnosis
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("cell: invariant violation at seq %d (machine=%s task=%s): %s",
		e.Sequence, e.MachineID, e.TaskID, e.Detail)
}
