// Package cell implements the cluster-state authority: the single
// logical authority over machines and tasks, exposing consistent
// snapshot reads and transactional commits under optimistic concurrency
// control with per-machine versioning (spec §4.1).
package cell

import (
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"

	"github.com/cellsched/cellsched/structs"
)

// Cell is the authoritative registry of machines, jobs, and tasks. It is
// safe for concurrent use: snapshot reads never block on, or are blocked
// by, commits (memdb's read transactions observe an atomically published
// tree root), and commits are serialized through memdb's single-writer
// transaction.
type Cell struct {
	logger hclog.Logger
	db     *memdb.MemDB

	cellVersion uint64 // atomic

	totalTransactions uint64 // atomic
	totalCommits       uint64 // atomic
	totalConflicts     uint64 // atomic
}

// New constructs an empty cell.
func New(logger hclog.Logger) (*Cell, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	return &Cell{
		logger: logger.Named("cell"),
		db:     db,
	}, nil
}

// AddMachine registers a new machine at initialization. Machines are only
// ever added before the simulation starts; mid-run additions are not part
// of this spec's scope.
func (c *Cell) AddMachine(m *structs.Machine) error {
	txn := c.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("machines", m.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// AddTask registers a new task, created alongside its job by the workload
// generator. Tasks start in the pending state with no machine assignment.
func (c *Cell) AddTask(t *structs.Task) error {
	txn := c.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("tasks", t.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Snapshot returns a point-in-time, independent copy of every machine
// plus the current cell version. The copy is produced from a read-only
// memdb transaction, so it cannot observe a commit that starts after the
// snapshot begins.
func (c *Cell) Snapshot() *structs.Snapshot {
	txn := c.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get("machines", "id")
	if err != nil {
		panic(err) // schema is static and the index always exists; a lookup error here is a programming bug
	}

	machines := make(map[string]*structs.Machine)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		m := raw.(*structs.Machine)
		machines[m.ID] = m.Clone()
	}

	taskIt, err := txn.Get("tasks", "id")
	if err != nil {
		panic(err)
	}
	tasks := make(map[string]*structs.Task)
	for raw := taskIt.Next(); raw != nil; raw = taskIt.Next() {
		t := raw.(*structs.Task)
		tasks[t.ID] = t.Clone()
	}

	return &structs.Snapshot{
		Machines:    machines,
		Tasks:       tasks,
		CellVersion: atomic.LoadUint64(&c.cellVersion),
	}
}

// GetTask returns a copy of the task record for id, or nil if unknown.
func (c *Cell) GetTask(id string) *structs.Task {
	txn := c.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First("tasks", "id", id)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*structs.Task).Clone()
}

// GetMachine returns a copy of the machine record for id, or nil if unknown.
func (c *Cell) GetMachine(id string) *structs.Machine {
	txn := c.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First("machines", "id", id)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*structs.Machine).Clone()
}

// TasksForJob returns copies of every task belonging to jobID.
func (c *Cell) TasksForJob(jobID string) []*structs.Task {
	txn := c.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get("tasks", "job_id", jobID)
	if err != nil {
		return nil
	}
	var out []*structs.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*structs.Task).Clone())
	}
	return out
}

// Counters is a cheap atomic read of the cell's running totals, used for
// the cell_state block of the results record.
type Counters struct {
	TotalTransactions int
	TotalCommits      int
	TotalConflicts    int
}

func (c *Cell) Counters() Counters {
	return Counters{
		TotalTransactions: int(atomic.LoadUint64(&c.totalTransactions)),
		TotalCommits:      int(atomic.LoadUint64(&c.totalCommits)),
		TotalConflicts:    int(atomic.LoadUint64(&c.totalConflicts)),
	}
}

// Utilization computes current cluster-wide fractional usage across cpu,
// gpu, and memory.
func (c *Cell) Utilization() structs.Utilization {
	txn := c.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get("machines", "id")
	if err != nil {
		return structs.Utilization{}
	}

	var capCPU, capGPU, capMem float64
	var allocCPU, allocGPU, allocMem float64
	for raw := it.Next(); raw != nil; raw = it.Next() {
		m := raw.(*structs.Machine)
		capCPU += float64(m.Capacity.CPUCores)
		capGPU += float64(m.Capacity.GPUCount)
		capMem += m.Capacity.MemoryGB
		allocCPU += float64(m.Allocated.CPUCores)
		allocGPU += float64(m.Allocated.GPUCount)
		allocMem += m.Allocated.MemoryGB
	}

	u := structs.Utilization{}
	if capCPU > 0 {
		u.CPU = allocCPU / capCPU
	}
	if capGPU > 0 {
		u.GPU = allocGPU / capGPU
	}
	if capMem > 0 {
		u.Memory = allocMem / capMem
	}
	return u
}
