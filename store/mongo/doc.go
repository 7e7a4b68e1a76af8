// Package mongo implements store.Store on MongoDB using the official
// mongo-driver. Jobs and deliveries live in two collections keyed by their
// TypeID; status compare-and-swap is a single FindOneAndUpdate filtered on
// the expected status.
//
//	s, err := mongo.Open(ctx, "mongodb://localhost:27017/conductor")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
//
// New wraps a caller-owned *mongo.Database instead; Close then leaves the
// client connected.
package mongo
