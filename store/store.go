// Package store defines the aggregate persistence interface. The job and
// webhook packages each define their own store contract; a backend
// implements both. Backends: Memory, SQLite (bun) and Postgres (pgx).
package store

import (
	"context"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	webhook.Store

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
