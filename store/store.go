package store

import (
	"context"

	"github.com/xraph/docket/job"
)

// Store is the aggregate persistence interface implemented by every backend.
type Store interface {
	job.Store

	// Migrate creates or upgrades the backend schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
