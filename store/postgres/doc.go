// Package postgres implements store.Store on PostgreSQL with pgx/v5. Status
// transitions are a single conditional UPDATE ... RETURNING, so concurrent
// claims across processes resolve to one winner without explicit locks.
//
// Schema files under migrations/ are named NNN_description.sql and applied
// in version order by Migrate, which records them in
// conductor_schema_migrations. Ping fails with ErrSchemaOutdated until the
// database reaches the newest embedded version.
package postgres
