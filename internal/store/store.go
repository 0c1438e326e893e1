package store

import "context"

// Store defines the interface for persisted run records
type Store interface {
	// Run operations
	SaveRun(ctx context.Context, run *Run) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}
