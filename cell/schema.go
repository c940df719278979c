package cell

import "github.com/hashicorp/go-memdb"

// schema defines the two memdb tables backing the cell: machines and
// tasks. Using go-memdb gives the cell its snapshot isolation for free —
// the underlying immutable radix tree publishes a new root atomically on
// commit, so a snapshot taken via a read-only transaction can never
// observe a torn write, and writers are serialized through memdb's own
// transaction lock without the cell needing a hand-rolled RWMutex.
func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"machines": {
				Name: "machines",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			"tasks": {
				Name: "tasks",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"job_id": {
						Name:    "job_id",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "JobID"},
					},
				},
			},
		},
	}
}
