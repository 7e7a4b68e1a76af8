package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaOutdated is returned by Ping when the database is behind the
// schema this build expects. Run Migrate to catch up.
var ErrSchemaOutdated = errors.New("conductor/postgres: schema outdated")

// migrationLockID keys the advisory lock that serializes Migrate across
// processes sharing a database.
const migrationLockID int64 = 0x636f6e64756374 // "conduct"

// migration is one embedded schema file named NNN_description.sql.
type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads migrations/*.sql from fsys ordered by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: read migrations: %w", err)
	}

	seen := make(map[int]string, len(entries))
	out := make([]migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		version, convErr := strconv.Atoi(prefix)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("conductor/postgres: migration %s: name must start with a positive version", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("conductor/postgres: migrations %s and %s share version %d", prev, name, version)
		}
		seen[version] = name

		data, readErr := fs.ReadFile(fsys, "migrations/"+name)
		if readErr != nil {
			return nil, fmt.Errorf("conductor/postgres: read migration %s: %w", name, readErr)
		}
		out = append(out, migration{version: version, name: name, sql: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// latestVersion is the highest embedded migration version.
func latestVersion() (int, error) {
	ms, err := loadMigrations(migrationsFS)
	if err != nil {
		return 0, err
	}
	if len(ms) == 0 {
		return 0, nil
	}
	return ms[len(ms)-1].version, nil
}

// Migrate applies every embedded migration newer than the recorded schema
// version. The whole run is one transaction under an advisory lock, so
// engines starting together against one database apply each file once.
func (s *Store) Migrate(ctx context.Context) error {
	ms, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conductor/postgres: begin migrate: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("conductor/postgres: migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conductor_schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("conductor/postgres: create migrations table: %w", err)
	}

	current, err := schemaVersion(ctx, tx)
	if err != nil {
		return err
	}

	for _, m := range ms {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("conductor/postgres: apply migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conductor_schema_migrations (version, name) VALUES ($1, $2)`,
			m.version, m.name,
		); err != nil {
			return fmt.Errorf("conductor/postgres: record migration %s: %w", m.name, err)
		}
		s.logger.Info("applied migration",
			slog.Int("version", m.version),
			slog.String("file", m.name),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conductor/postgres: commit migrate: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, or 0 on a
// database that was never migrated.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.pool)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func schemaVersion(ctx context.Context, q rowQuerier) (int, error) {
	var version int
	err := q.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM conductor_schema_migrations`).Scan(&version)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("conductor/postgres: schema version: %w", err)
	}
	return version, nil
}

// isUndefinedTable reports an undefined_table (42P01) error.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
