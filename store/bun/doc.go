// Package bunstore implements store.Store on the Bun ORM. The schema is
// created from the Go models, so the same Store runs on any Bun dialect;
// the sqlite package and OpenPostgres are the two wired here.
//
// When built with New the caller owns the *bun.DB lifecycle and Close is a
// no-op:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	s.Migrate(ctx)
package bunstore
