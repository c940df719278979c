package structs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestResourcesFits(t *testing.T) {
	capacity := Resources{CPUCores: 4, GPUCount: 0, MemoryGB: 8}

	require.True(t, capacity.Fits(Resources{CPUCores: 4, GPUCount: 0, MemoryGB: 8}), "exact fit must succeed")
	require.True(t, capacity.Fits(Resources{CPUCores: 2, GPUCount: 0, MemoryGB: 4}))
	require.False(t, capacity.Fits(Resources{CPUCores: 5, GPUCount: 0, MemoryGB: 1}))
	require.False(t, capacity.Fits(Resources{CPUCores: 1, GPUCount: 1, MemoryGB: 1}))
}

func TestResourcesArithmetic(t *testing.T) {
	a := Resources{CPUCores: 4, GPUCount: 1, MemoryGB: 8}
	b := Resources{CPUCores: 2, GPUCount: 0, MemoryGB: 4}

	require.Equal(t, Resources{CPUCores: 6, GPUCount: 1, MemoryGB: 12}, a.Add(b))
	require.Equal(t, Resources{CPUCores: 2, GPUCount: 1, MemoryGB: 4}, a.Sub(b))
	require.True(t, a.Sub(a).IsZero())
}

func TestResourcesMagnitudeOrdering(t *testing.T) {
	small := Resources{CPUCores: 1, MemoryGB: 1}
	large := Resources{CPUCores: 1, GPUCount: 1, MemoryGB: 1}
	require.Greater(t, large.Magnitude(), small.Magnitude(), "GPU leftover must weigh more than cpu/mem alone")
}

func TestResourcesRoundTripAddSubDiff(t *testing.T) {
	start := Resources{CPUCores: 4, GPUCount: 1, MemoryGB: 8}
	delta := Resources{CPUCores: 3, MemoryGB: 2}

	roundTripped := start.Add(delta).Sub(delta)
	if diff := cmp.Diff(start, roundTripped); diff != "" {
		t.Fatalf("Add then Sub did not round-trip (-want +got):\n%s", diff)
	}
}
