// Package structs holds the plain data types shared across the cell,
// scheduler, workload, and simulator packages. Types here carry no
// behavior beyond validation, comparison, and copying — the same shape as
// nomad/structs in the teacher codebase, where entities are dumb records
// manipulated by the server and scheduler logic rather than objects with
// business logic of their own.
package structs

import "fmt"

// Resources is a resource vector: (cpu cores, gpu count, memory in GB).
// Comparisons and arithmetic are component-wise.
type Resources struct {
	CPUCores int     `json:"cpu_cores"`
	GPUCount int     `json:"gpu_count"`
	MemoryGB float64 `json:"memory_gb"`
}

// Fits reports whether req can be satisfied by this vector treated as a
// capacity, i.e. every component of req is <= the corresponding component
// of capacity.
func (capacity Resources) Fits(req Resources) bool {
	return req.CPUCores <= capacity.CPUCores &&
		req.GPUCount <= capacity.GPUCount &&
		req.MemoryGB <= capacity.MemoryGB
}

// Add returns the component-wise sum of r and other.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPUCores: r.CPUCores + other.CPUCores,
		GPUCount: r.GPUCount + other.GPUCount,
		MemoryGB: r.MemoryGB + other.MemoryGB,
	}
}

// Sub returns the component-wise difference r - other.
func (r Resources) Sub(other Resources) Resources {
	return Resources{
		CPUCores: r.CPUCores - other.CPUCores,
		GPUCount: r.GPUCount - other.GPUCount,
		MemoryGB: r.MemoryGB - other.MemoryGB,
	}
}

// IsZero reports whether every component of r is zero.
func (r Resources) IsZero() bool {
	return r.CPUCores == 0 && r.GPUCount == 0 && r.MemoryGB == 0
}

// NonNegative reports whether every component of r is >= 0. Used at
// observable boundaries to catch accounting bugs before they corrupt a
// machine's allocated vector.
func (r Resources) NonNegative() bool {
	return r.CPUCores >= 0 && r.GPUCount >= 0 && r.MemoryGB >= 0
}

// LessEq reports whether r is component-wise <= other.
func (r Resources) LessEq(other Resources) bool {
	return r.CPUCores <= other.CPUCores && r.GPUCount <= other.GPUCount && r.MemoryGB <= other.MemoryGB
}

// Equal reports component-wise equality.
func (r Resources) Equal(other Resources) bool {
	return r.CPUCores == other.CPUCores && r.GPUCount == other.GPUCount && r.MemoryGB == other.MemoryGB
}

// Magnitude returns a scalar measure of r's size, used by the batch
// scheduler's best-fit/worst-fit policies to rank leftover capacity after a
// candidate placement. CPU and memory are weighted so neither dimension
// dominates by unit scale alone; GPU leftover counts heavily since GPU
// capacity is the scarcest resource in the default cluster mix.
func (r Resources) Magnitude() float64 {
	return float64(r.CPUCores) + r.MemoryGB/4 + float64(r.GPUCount)*16
}

func (r Resources) String() string {
	return fmt.Sprintf("cpu=%d gpu=%d mem=%.1fGB", r.CPUCores, r.GPUCount, r.MemoryGB)
}
