package structs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineCloneIsIndependent(t *testing.T) {
	m := NewMachine("m1", "standard", Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	m.Tasks.Insert("t1")

	clone := m.Clone()
	clone.Tasks.Insert("t2")

	require.True(t, m.Tasks.Contains("t1"))
	require.False(t, m.Tasks.Contains("t2"), "mutating the clone must not affect the original")
	require.Equal(t, uint64(0), m.Version)
}

func TestMachineRemaining(t *testing.T) {
	m := NewMachine("m1", "standard", Resources{CPUCores: 4, MemoryGB: 8}, "rack-a")
	m.Allocated = Resources{CPUCores: 1, MemoryGB: 2}
	require.Equal(t, Resources{CPUCores: 3, MemoryGB: 6}, m.Remaining())
}
