package queue

import (
	"context"
	"sync"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Queue is a blocking multi-lane priority queue of job IDs. It is safe for
// concurrent use by any number of producers and consumers.
type Queue struct {
	mu     sync.Mutex
	lanes  map[job.Priority][]id.JobID
	wait   chan struct{}
	closed bool
	done   chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	lanes := make(map[job.Priority][]id.JobID, len(job.Priorities))
	for _, p := range job.Priorities {
		lanes[p] = nil
	}
	return &Queue{
		lanes: lanes,
		wait:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Enqueue appends jobID to the tail of the lane for p and wakes waiting
// consumers. Unknown priorities go to the Low lane.
func (q *Queue) Enqueue(jobID id.JobID, p job.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return conductor.ErrQueueClosed
	}
	if _, ok := q.lanes[p]; !ok {
		p = job.PriorityLow
	}
	q.lanes[p] = append(q.lanes[p], jobID)

	close(q.wait)
	q.wait = make(chan struct{})
	return nil
}

// Dequeue removes and returns the head of the highest non-empty lane,
// blocking until an entry is available, ctx is done, or the queue is
// closed. Once closed it returns ErrQueueClosed without draining.
func (q *Queue) Dequeue(ctx context.Context) (id.JobID, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return id.JobID{}, conductor.ErrQueueClosed
		}
		if jobID, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return jobID, nil
		}
		wait := q.wait
		q.mu.Unlock()

		select {
		case <-wait:
		case <-q.done:
		case <-ctx.Done():
			return id.JobID{}, ctx.Err()
		}
	}
}

// TryDequeue is the non-blocking form of Dequeue.
func (q *Queue) TryDequeue() (id.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return id.JobID{}, false
	}
	return q.popLocked()
}

func (q *Queue) popLocked() (id.JobID, bool) {
	for _, p := range job.Priorities {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		head := lane[0]
		lane[0] = id.JobID{}
		q.lanes[p] = lane[1:]
		return head, true
	}
	return id.JobID{}, false
}

// Close wakes every blocked consumer with ErrQueueClosed. Remaining entries
// are discarded; their jobs stay Pending in the store and are rehydrated on
// the next start. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for p := range q.lanes {
		q.lanes[p] = nil
	}
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of entries in the lane for p.
func (q *Queue) Len(p job.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[p])
}

// Depth returns the total number of entries across all lanes.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// Rehydrate enqueues every Pending job in s in creation order and returns
// how many were enqueued.
func Rehydrate(ctx context.Context, q *Queue, s job.Store) (int, error) {
	pending, err := s.ListJobs(ctx, job.Filter{Status: job.StatusPending})
	if err != nil {
		return 0, err
	}
	for i, j := range pending {
		if err := q.Enqueue(j.ID, j.Priority); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}
