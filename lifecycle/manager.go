// Package lifecycle owns the job state machine. The Manager is the only
// component that changes a job's status, and it does so exclusively through
// the store's compare-and-swap update, so concurrent claims and cancels
// always resolve to a single winner.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/queue"
)

// Notifier records a completion notification for a terminal job.
type Notifier interface {
	Notify(ctx context.Context, j *job.Job) error
}

// Manager validates and applies job status transitions.
type Manager struct {
	store      job.Store
	queue      *queue.Queue
	notifier   Notifier
	extensions *ext.Registry
	admission  *queue.Admission
	retry      backoff.Strategy
	logger     *slog.Logger

	maxAttempts int
	timeout     time.Duration

	closed   atomic.Bool
	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithExtensions sets the extension registry receiving lifecycle hooks.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.extensions = r }
}

// WithAdmission sets the submission admission controller.
func WithAdmission(a *queue.Admission) Option {
	return func(m *Manager) { m.admission = a }
}

// WithRetryBackoff sets the delay before a failed job is re-enqueued.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(m *Manager) { m.retry = s }
}

// WithDefaults sets the attempt budget and timeout applied to submissions
// that do not override them.
func WithDefaults(maxAttempts int, timeout time.Duration) Option {
	return func(m *Manager) {
		m.maxAttempts = maxAttempts
		m.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a lifecycle manager over s and q.
func NewManager(s job.Store, q *queue.Queue, opts ...Option) *Manager {
	cfg := conductor.DefaultConfig()
	m := &Manager{
		store:       s,
		queue:       q,
		retry:       backoff.None{},
		logger:      slog.Default(),
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.JobTimeout,
		timers:      make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extensions == nil {
		m.extensions = ext.NewRegistry(m.logger)
	}
	return m
}

// Submit validates sub, persists a Pending job and enqueues it. The job is
// durable before Submit returns. Validation failures return an error
// matching ErrValidation and never reach the store.
func (m *Manager) Submit(ctx context.Context, sub job.Submission) (*job.Job, error) {
	if m.closed.Load() {
		return nil, conductor.ErrShuttingDown
	}

	sub, err := sub.Normalize()
	if err != nil {
		return nil, err
	}
	if err := m.admission.Admit(m.queue.Depth()); err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:      conductor.NewEntity(),
		ID:          id.NewJobID(),
		TaskName:    sub.TaskName,
		Payload:     sub.Payload,
		Priority:    sub.Priority,
		Status:      job.StatusPending,
		Attempt:     1,
		MaxAttempts: m.maxAttempts,
		Timeout:     m.timeout,
	}
	if sub.MaxAttempts > 0 {
		j.MaxAttempts = sub.MaxAttempts
	}
	if t := sub.Timeout(); t > 0 {
		j.Timeout = t
	}

	if err := m.store.PutJob(ctx, j); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	// The job is durable from here on. A closed queue only delays it until
	// the next start re-hydrates Pending jobs.
	if err := m.queue.Enqueue(j.ID, j.Priority); err != nil {
		m.logger.Warn("job persisted but not enqueued",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("task_name", j.TaskName),
		slog.String("priority", string(j.Priority)),
	)
	m.extensions.EmitJobSubmitted(ctx, j)
	return j, nil
}

// Get returns the current job record.
func (m *Manager) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// Claim moves a job from Pending to Running. It returns an error matching
// ErrConflict when the job is no longer Pending.
func (m *Manager) Claim(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	now := time.Now().UTC()
	j, err := m.transition(ctx, jobID, job.StatusPending, job.StatusRunning, job.Update{At: now, StartedAt: &now})
	if err != nil {
		return nil, err
	}
	m.extensions.EmitJobStarted(ctx, j)
	return j, nil
}

// Complete moves a Running job to Completed with result.
func (m *Manager) Complete(ctx context.Context, j *job.Job, result json.RawMessage, elapsed time.Duration) (*job.Job, error) {
	now := time.Now().UTC()
	if result == nil {
		result = json.RawMessage(`null`)
	}
	noErr := ""
	done, err := m.transition(ctx, j.ID, job.StatusRunning, job.StatusCompleted, job.Update{
		At:          now,
		CompletedAt: &now,
		Result:      result,
		Error:       &noErr,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("job completed",
		slog.String("job_id", done.ID.String()),
		slog.String("task_name", done.TaskName),
		slog.Int("attempt", done.Attempt),
		slog.Duration("elapsed", elapsed),
	)
	m.extensions.EmitJobCompleted(ctx, done, elapsed)
	m.notify(ctx, done)
	return done, nil
}

// Fail records an execution error on a Running job. With attempts remaining
// the job returns to Pending with its attempt incremented and is re-enqueued
// after the retry delay; otherwise it moves to Failed.
func (m *Manager) Fail(ctx context.Context, j *job.Job, execErr error) (*job.Job, error) {
	next, err := m.settle(ctx, j, execErr)
	if err != nil {
		return nil, err
	}
	if next.Status == job.StatusPending {
		m.scheduleRetry(ctx, next, execErr)
	}
	return next, nil
}

// settle applies the retry-or-fail rule without re-enqueueing.
func (m *Manager) settle(ctx context.Context, j *job.Job, execErr error) (*job.Job, error) {
	now := time.Now().UTC()
	msg := execErr.Error()

	if j.Attempt < j.MaxAttempts {
		attempt := j.Attempt + 1
		return m.transition(ctx, j.ID, job.StatusRunning, job.StatusPending, job.Update{
			At:      now,
			Attempt: &attempt,
			Error:   &msg,
		})
	}

	failed, err := m.transition(ctx, j.ID, job.StatusRunning, job.StatusFailed, job.Update{
		At:          now,
		CompletedAt: &now,
		Error:       &msg,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Warn("job failed",
		slog.String("job_id", failed.ID.String()),
		slog.String("task_name", failed.TaskName),
		slog.Int("attempt", failed.Attempt),
		slog.Int("max_attempts", failed.MaxAttempts),
		slog.String("error", msg),
	)
	m.extensions.EmitJobFailed(ctx, failed, execErr)
	m.notify(ctx, failed)
	return failed, nil
}

func (m *Manager) scheduleRetry(ctx context.Context, j *job.Job, execErr error) {
	delay := m.retry.Delay(j.Attempt - 1)

	m.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("task_name", j.TaskName),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", execErr.Error()),
	)
	m.extensions.EmitJobRetrying(ctx, j, execErr, delay)

	if delay <= 0 {
		m.enqueue(j)
		return
	}

	key := j.ID.String()
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if m.closed.Load() {
		return
	}
	m.timers[key] = time.AfterFunc(delay, func() {
		m.timersMu.Lock()
		delete(m.timers, key)
		m.timersMu.Unlock()
		m.enqueue(j)
	})
}

func (m *Manager) enqueue(j *job.Job) {
	if err := m.queue.Enqueue(j.ID, j.Priority); err != nil && !errors.Is(err, conductor.ErrQueueClosed) {
		m.logger.Error("re-enqueue failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Cancel moves a Pending job to Cancelled. A job that is Running or
// terminal yields a *conductor.ConflictError carrying its actual status.
func (m *Manager) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	now := time.Now().UTC()
	j, err := m.transition(ctx, jobID, job.StatusPending, job.StatusCancelled, job.Update{At: now, CompletedAt: &now})
	if err != nil {
		return nil, err
	}

	m.logger.Info("job cancelled", slog.String("job_id", j.ID.String()))
	m.extensions.EmitJobCancelled(ctx, j)
	m.notify(ctx, j)
	return j, nil
}

// RecoverCrashed resolves every job left Running by an unclean shutdown
// using the same retry-or-fail rule as an execution error. Recovered jobs
// are not enqueued; queue re-hydration picks up the ones reset to Pending.
func (m *Manager) RecoverCrashed(ctx context.Context) (int, error) {
	running, err := m.store.ListJobs(ctx, job.Filter{Status: job.StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}

	recovered := 0
	for _, j := range running {
		next, err := m.settle(ctx, j, errInterrupted)
		if err != nil {
			if errors.Is(err, conductor.ErrConflict) {
				continue
			}
			return recovered, fmt.Errorf("recover job %s: %w", j.ID, err)
		}
		recovered++
		m.logger.Warn("recovered crashed job",
			slog.String("job_id", next.ID.String()),
			slog.String("status", string(next.Status)),
			slog.Int("attempt", next.Attempt),
		)
		m.extensions.EmitJobRecovered(ctx, next)
	}
	return recovered, nil
}

var errInterrupted = errors.New("execution interrupted by scheduler restart")

// Close rejects further submissions and cancels delayed retries. Jobs
// waiting on a cancelled retry stay Pending and are re-hydrated on the
// next start.
func (m *Manager) Close() {
	m.closed.Store(true)

	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) transition(ctx context.Context, jobID id.JobID, from, to job.Status, u job.Update) (*job.Job, error) {
	if !job.CanTransition(from, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s: %w", from, to, conductor.ErrConflict)
	}
	return m.store.UpdateStatus(ctx, jobID, from, to, u)
}

func (m *Manager) notify(ctx context.Context, j *job.Job) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, j); err != nil {
		m.logger.Error("failed to record webhook delivery",
			slog.String("job_id", j.ID.String()),
			slog.String("status", string(j.Status)),
			slog.String("error", err.Error()),
		)
	}
}
