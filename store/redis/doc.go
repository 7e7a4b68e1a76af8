// Package redis implements store.Store on Redis. Jobs and deliveries are
// stored as Hashes. Creation order is kept in Sorted Sets, one for all
// records and one per status, priority and job, so filtered lists and counts
// are answered from the indexes. Status compare-and-swap runs as a Lua
// script so concurrent claims have exactly one winner.
//
// Usage:
//
//	s, err := redis.Open(ctx, "redis://localhost:6379/0")
//	if err != nil { ... }
//	defer s.Close()
//
// Or, with a caller-owned client:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//
// All keys of one store share a prefix, so several stores can share a
// database. The scripts touch several keys and are not Redis Cluster safe.
package redis
