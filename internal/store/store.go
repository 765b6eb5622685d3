package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Working memory
	SetMemory(ctx context.Context, owner, key string, value []byte) error
	GetMemory(ctx context.Context, owner, key string) (value []byte, found bool, err error)
	DeleteMemory(ctx context.Context, owner, key string) error
	ListMemoryKeys(ctx context.Context, owner string) ([]string, error)

	// Graph edges (append-only)
	AppendEdge(ctx context.Context, edge *Edge) error
	ListEdges(ctx context.Context, filter EdgeFilter) ([]*Edge, error)

	// Child instances
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, typeName, name string) (*Instance, bool, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)

	// Run records
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
