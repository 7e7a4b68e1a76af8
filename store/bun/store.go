package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/webhook"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store     = (*Store)(nil)
	_ webhook.Store = (*Store)(nil)
	_ store.Store   = (*Store)(nil)
)

// Store is a Bun ORM implementation of store.Store.
type Store struct {
	db     *bun.DB
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store over db. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOwned is like New but Close also closes db.
func NewOwned(db *bun.DB, opts ...Option) *Store {
	s := New(db, opts...)
	s.owned = true
	return s
}

// OpenPostgres connects to PostgreSQL through Bun's pgdriver and returns a
// Store that owns the connection.
func OpenPostgres(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return NewOwned(bun.NewDB(sqldb, pgdialect.New()), opts...)
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*jobModel)(nil),
		(*deliveryModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("conductor/bun: create table: %w", err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*jobModel)(nil), "idx_conductor_jobs_status", []string{"status", "priority"}},
		{(*jobModel)(nil), "idx_conductor_jobs_created", []string{"created_at", "id"}},
		{(*deliveryModel)(nil), "idx_conductor_deliveries_due", []string{"status", "next_attempt_at"}},
		{(*deliveryModel)(nil), "idx_conductor_deliveries_job", []string{"job_id"}},
	}
	for _, idx := range indexes {
		_, err := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("conductor/bun: create index %s: %w", idx.name, err)
		}
	}

	s.logger.Debug("schema ready")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the Store owns it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
