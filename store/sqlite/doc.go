// Package sqlite provides a durable single-file Store. It opens the
// database with the pure-Go modernc driver, tunes it for a single writer
// and serves every operation through the bun store.
//
//	s, err := sqlite.Open(ctx, "conductor.db")
//	if err != nil { ... }
//	defer s.Close()
package sqlite
