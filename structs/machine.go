package structs

import (
	"github.com/hashicorp/go-set/v3"
)

// MachineState is the lifecycle state of a machine.
type MachineState string

const (
	MachineHealthy MachineState = "healthy"
	MachineFailed  MachineState = "failed"
)

// Machine is the authoritative record for one cluster node. Capacity is
// immutable after creation; Allocated, Tasks, Version, and State mutate
// under the cell's OCC commit protocol.
type Machine struct {
	ID            string
	Type          string
	Capacity      Resources
	Allocated     Resources
	Tasks         *set.Set[string]
	Version       uint64
	FailureDomain string
	State         MachineState
}

// NewMachine constructs a healthy, empty machine at version 0.
func NewMachine(id, machineType string, capacity Resources, failureDomain string) *Machine {
	return &Machine{
		ID:            id,
		Type:          machineType,
		Capacity:      capacity,
		Allocated:     Resources{},
		Tasks:         set.New[string](0),
		Version:       0,
		FailureDomain: failureDomain,
		State:         MachineHealthy,
	}
}

// Remaining returns the machine's unallocated capacity.
func (m *Machine) Remaining() Resources {
	return m.Capacity.Sub(m.Allocated)
}

// Clone returns a deep, independent copy of m suitable for inclusion in a
// snapshot — mutations to the original after Clone must never be visible
// through the returned value.
func (m *Machine) Clone() *Machine {
	clone := *m
	clone.Tasks = m.Tasks.Copy()
	return &clone
}
