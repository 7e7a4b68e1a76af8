package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/lifecycle"
	"github.com/xraph/conductor/queue"
)

// Pool manages a fixed set of worker goroutines. Each worker blocks on the
// queue, claims the job through the lifecycle manager and executes it, so
// at most concurrency jobs are Running at once.
type Pool struct {
	queue       *queue.Queue
	lifecycle   *lifecycle.Manager
	executor    *Executor
	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	stopCh     chan struct{}
	stopLoops  context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, lm *lifecycle.Manager, executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:       q,
		lifecycle:   lm,
		executor:    executor,
		concurrency: conductor.DefaultConfig().Concurrency,
		workerID:    id.NewWorkerID(),
		logger:      slog.Default(),
		activeJobs:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Concurrency returns the number of worker goroutines.
func (p *Pool) Concurrency() int { return p.concurrency }

// Active returns the number of jobs currently executing.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	loopCtx, cancel := context.WithCancel(context.Background())
	p.stopLoops = cancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop(loopCtx)
	}
	return nil
}

// Stop signals all workers to stop taking new jobs and waits for in-flight
// executions to finish. If ctx expires first, active jobs are cancelled and
// their attempts fail with the cancellation error.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	p.stopLoops()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
		return ctx.Err()
	}
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, conductor.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			continue
		}

		p.process(jobID)
	}
}

// process claims and executes one job. Claim failures are not retried: a
// conflict means the job was cancelled or already claimed, and any other
// error leaves the job Pending for re-hydration on the next start.
func (p *Pool) process(jobID id.JobID) {
	j, err := p.lifecycle.Claim(context.Background(), jobID)
	switch {
	case err == nil:
	case errors.Is(err, conductor.ErrConflict):
		p.logger.Debug("skipping job no longer pending", slog.String("job_id", jobID.String()))
		return
	case errors.Is(err, conductor.ErrJobNotFound):
		p.logger.Warn("dequeued unknown job", slog.String("job_id", jobID.String()))
		return
	default:
		p.logger.Error("claim failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)
	defer func() {
		p.untrackJob(j.ID.String())
		cancel()
	}()

	start := time.Now()
	result, execErr := p.executor.Execute(ctx, j)
	elapsed := time.Since(start)

	p.settle(j, result, execErr, elapsed)
}

// settle reports the attempt outcome. It uses a fresh context so results
// are persisted even when the attempt itself was cancelled.
func (p *Pool) settle(j *job.Job, result json.RawMessage, execErr error, elapsed time.Duration) {
	ctx := context.Background()

	var err error
	if execErr == nil {
		_, err = p.lifecycle.Complete(ctx, j, result, elapsed)
	} else {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("task_name", j.TaskName),
			slog.Int("attempt", j.Attempt),
			slog.String("error", execErr.Error()),
		)
		_, err = p.lifecycle.Fail(ctx, j, execErr)
	}

	if err != nil {
		// The job stays Running and is recovered on the next start.
		p.logger.Error("failed to record job outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
