// Package queue holds the in-memory priority lanes that feed the worker
// pool, plus submission admission control.
//
// The queue carries job IDs only. The job record always lives in the
// store; a worker that dequeues an ID must still win the Pending→Running
// compare-and-swap before executing it, so a stale or duplicate entry is
// harmless.
//
// # Lanes
//
// There is one FIFO lane per priority. [Queue.Dequeue] always serves the
// highest non-empty lane first; within a lane, order is first-in first-out.
// A continuous stream of High jobs can starve lower lanes.
//
// # Rehydration
//
// The queue is volatile. On startup [Rehydrate] refills it from every
// Pending job in the store, in creation order.
//
// # Admission
//
// [Admission] rejects submissions when a token-bucket rate
// (golang.org/x/time/rate) or a pending-depth cap is exceeded.
package queue
