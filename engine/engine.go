package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/lifecycle"
	mw "github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/queue"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/stream"
	"github.com/xraph/conductor/webhook"
	"github.com/xraph/conductor/worker"
)

const instrumentationName = "github.com/xraph/conductor"

// Engine owns every scheduler subsystem for one process.
type Engine struct {
	cfg        conductor.Config
	store      store.Store
	tasks      job.Executor
	logger     *slog.Logger
	extensions *ext.Registry
	queue      *queue.Queue
	lifecycle  *lifecycle.Manager
	notifier   *webhook.Notifier
	pool       *worker.Pool
	broker     *stream.Broker

	admission    queue.AdmissionConfig
	mws          []mw.Middleware
	pendingExts  []ext.Extension
	httpClient   *http.Client
	pollInterval time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration. Later options override
// individual fields.
func WithConfig(cfg conductor.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.cfg.Concurrency = n }
}

// WithMaxAttempts sets the default attempt budget for submissions.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.cfg.MaxAttempts = n }
}

// WithJobTimeout sets the default per-attempt timeout.
func WithJobTimeout(d time.Duration) Option {
	return func(e *Engine) { e.cfg.JobTimeout = d }
}

// WithRetryDelay sets the delay before a failed job is re-enqueued.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.cfg.RetryDelay = d }
}

// WithWebhookURL sets the completion webhook endpoint. Empty disables
// sending; deliveries are still recorded.
func WithWebhookURL(url string) Option {
	return func(e *Engine) { e.cfg.WebhookURL = url }
}

// WithWebhookMaxAttempts sets how many POSTs are made before a delivery is
// dead-lettered.
func WithWebhookMaxAttempts(n int) Option {
	return func(e *Engine) { e.cfg.WebhookMaxAttempts = n }
}

// WithWebhookBackoff shapes the exponential delivery backoff.
func WithWebhookBackoff(base, max time.Duration, jitter float64) Option {
	return func(e *Engine) {
		e.cfg.WebhookBaseDelay = base
		e.cfg.WebhookMaxDelay = max
		e.cfg.WebhookJitter = jitter
	}
}

// WithWebhookHTTPClient sets the HTTP client used for deliveries.
func WithWebhookHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// WithWebhookPollInterval sets how often the notifier scans for due
// deliveries when it has not been woken.
func WithWebhookPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithAdmission bounds submission rate and queue depth.
func WithAdmission(cfg queue.AdmissionConfig) Option {
	return func(e *Engine) { e.admission = cfg }
}

// WithExtension registers a lifecycle extension.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.pendingExts = append(e.pendingExts, x) }
}

// WithMiddleware adds middleware to the execution chain, inside the
// built-in recover, tracing, metrics, logging and timeout layers.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. If not set, the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New builds an Engine over s that executes jobs through tasks.
func New(s store.Store, tasks job.Executor, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, conductor.ErrNoStore
	}
	if tasks == nil {
		return nil, errors.New("conductor: no task executor configured")
	}

	e := &Engine{
		cfg:    conductor.DefaultConfig(),
		store:  s,
		tasks:  tasks,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := validate(e.cfg); err != nil {
		return nil, err
	}

	logger := e.logger
	e.extensions = ext.NewRegistry(logger)

	var tracer trace.Tracer
	var meter, obsMeter metric.Meter
	if e.tracerProvider != nil {
		tracer = e.tracerProvider.Tracer(instrumentationName)
	}
	if e.meterProvider != nil {
		meter = e.meterProvider.Meter(instrumentationName)
		obsMeter = e.meterProvider.Meter(instrumentationName + "/observability")
	}

	// Built-in extensions first so user hooks observe the same order.
	if obsMeter != nil {
		e.extensions.Register(observability.NewMetricsExtensionWithMeter(obsMeter))
	} else {
		e.extensions.Register(observability.NewMetricsExtension())
	}
	e.broker = stream.NewBroker(logger)
	e.extensions.Register(e.broker)
	for _, x := range e.pendingExts {
		e.extensions.Register(x)
	}

	notifierOpts := []webhook.Option{
		webhook.WithURL(e.cfg.WebhookURL),
		webhook.WithMaxAttempts(e.cfg.WebhookMaxAttempts),
		webhook.WithBackoff(backoff.Webhook(e.cfg.WebhookBaseDelay, e.cfg.WebhookMaxDelay, e.cfg.WebhookJitter)),
		webhook.WithTimeout(e.cfg.WebhookTimeout),
		webhook.WithObserver(e.extensions),
		webhook.WithLogger(logger),
	}
	if e.httpClient != nil {
		notifierOpts = append(notifierOpts, webhook.WithHTTPClient(e.httpClient))
	}
	if e.pollInterval > 0 {
		notifierOpts = append(notifierOpts, webhook.WithPollInterval(e.pollInterval))
	}
	if tracer != nil {
		notifierOpts = append(notifierOpts, webhook.WithTracer(tracer))
	}
	e.notifier = webhook.NewNotifier(s, notifierOpts...)

	e.queue = queue.New()
	e.lifecycle = lifecycle.NewManager(s, e.queue,
		lifecycle.WithNotifier(e.notifier),
		lifecycle.WithExtensions(e.extensions),
		lifecycle.WithAdmission(queue.NewAdmission(e.admission)),
		lifecycle.WithRetryBackoff(backoff.Retry(e.cfg.RetryDelay)),
		lifecycle.WithDefaults(e.cfg.MaxAttempts, e.cfg.JobTimeout),
		lifecycle.WithLogger(logger),
	)

	tracingMw := mw.Tracing()
	if tracer != nil {
		tracingMw = mw.TracingWithTracer(tracer)
	}
	metricsMw := mw.Metrics()
	if meter != nil {
		metricsMw = mw.MetricsWithMeter(meter)
	}

	// Default stack: recover → tracing → metrics → logging → annotate → timeout.
	chain := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Annotate(),
		mw.Timeout(e.cfg.JobTimeout, logger),
	}
	chain = append(chain, e.mws...)

	e.pool = worker.NewPool(e.queue, e.lifecycle, worker.NewExecutor(tasks, chain...),
		worker.WithPoolConcurrency(e.cfg.Concurrency),
		worker.WithPoolLogger(logger),
	)

	return e, nil
}

func validate(cfg conductor.Config) error {
	switch {
	case cfg.Concurrency < 1:
		return conductor.Invalid("concurrency", "must be at least 1")
	case cfg.MaxAttempts < 1:
		return conductor.Invalid("maxAttempts", "must be at least 1")
	case cfg.WebhookMaxAttempts < 1:
		return conductor.Invalid("webhook.maxAttempts", "must be at least 1")
	case cfg.WebhookJitter < 0 || cfg.WebhookJitter > 1:
		return conductor.Invalid("webhook.jitter", "must be within [0, 1]")
	}
	return nil
}

// Start brings the engine up: migrate, recover crashed jobs, re-hydrate the
// queue from Pending jobs, then start the notifier and the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return conductor.ErrShuttingDown
	}
	if e.started {
		return nil
	}

	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	recovered, err := e.lifecycle.RecoverCrashed(ctx)
	if err != nil {
		return fmt.Errorf("recover crashed jobs: %w", err)
	}

	requeued, err := queue.Rehydrate(ctx, e.queue, e.store)
	if err != nil {
		return fmt.Errorf("rehydrate queue: %w", err)
	}

	if err := e.notifier.Start(ctx); err != nil {
		return fmt.Errorf("start notifier: %w", err)
	}
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	e.started = true
	e.logger.Info("conductor engine started",
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Int("recovered", recovered),
		slog.Int("requeued", requeued),
		slog.Bool("webhook_enabled", e.notifier.Enabled()),
	)
	return nil
}

// Stop rejects new submissions, closes the queue and drains in-flight jobs
// and due deliveries until ctx expires. Jobs still queued stay Pending in
// the store and are re-hydrated by the next process.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	started := e.started
	e.mu.Unlock()

	e.logger.Info("conductor engine stopping")
	e.lifecycle.Close()
	e.queue.Close()

	var err error
	if started {
		poolDone := make(chan struct{})
		var g errgroup.Group
		g.Go(func() error {
			defer close(poolDone)
			return e.pool.Stop(ctx)
		})
		// Deliveries keep flowing while workers finish; the final drain
		// runs once no more terminal transitions can happen.
		g.Go(func() error {
			select {
			case <-poolDone:
			case <-ctx.Done():
			}
			return e.notifier.Stop(ctx)
		})
		err = g.Wait()
	}

	e.extensions.EmitShutdown(ctx)
	if err != nil {
		e.logger.Warn("conductor engine stopped with error", slog.String("error", err.Error()))
		return err
	}
	e.logger.Info("conductor engine stopped")
	return nil
}

// Submit validates and persists a new job, then enqueues it.
func (e *Engine) Submit(ctx context.Context, sub job.Submission) (*job.Job, error) {
	return e.lifecycle.Submit(ctx, sub)
}

// Get returns the current state of a job.
func (e *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.lifecycle.Get(ctx, jobID)
}

// List returns jobs matching f.
func (e *Engine) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	return e.store.ListJobs(ctx, f)
}

// Count returns the number of jobs matching f.
func (e *Engine) Count(ctx context.Context, f job.Filter) (int64, error) {
	return e.store.CountJobs(ctx, f)
}

// Cancel cancels a Pending job.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.lifecycle.Cancel(ctx, jobID)
}

// Deliveries returns webhook deliveries matching f.
func (e *Engine) Deliveries(ctx context.Context, f webhook.Filter) ([]*webhook.Delivery, error) {
	return e.store.ListDeliveries(ctx, f)
}

// Delivery returns a single webhook delivery.
func (e *Engine) Delivery(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	return e.store.GetDelivery(ctx, deliveryID)
}

// Replay resets a dead-lettered delivery so it is attempted again.
func (e *Engine) Replay(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	return e.notifier.Replay(ctx, deliveryID)
}

// Health reports whether the store is reachable.
func (e *Engine) Health(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Stats is a point-in-time snapshot of scheduler load.
type Stats struct {
	Jobs       map[job.Status]int64     `json:"jobs"`
	Deliveries map[webhook.Status]int64 `json:"deliveries"`
	Queue      map[job.Priority]int     `json:"queue"`
	Workers    WorkerStats              `json:"workers"`
	Stream     stream.BrokerStats       `json:"stream"`
}

// WorkerStats describes the worker pool.
type WorkerStats struct {
	ID          string `json:"id"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
}

// Stats counts jobs per status and deliveries per status and reports
// queue lane depths.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Jobs:       make(map[job.Status]int64, len(job.Statuses)),
		Deliveries: make(map[webhook.Status]int64, len(webhook.Statuses)),
		Queue:      make(map[job.Priority]int, len(job.Priorities)),
		Workers: WorkerStats{
			ID:          e.pool.WorkerID().String(),
			Concurrency: e.pool.Concurrency(),
			Active:      e.pool.Active(),
		},
		Stream: e.broker.Stats(),
	}

	for _, s := range job.Statuses {
		n, err := e.store.CountJobs(ctx, job.Filter{Status: s})
		if err != nil {
			return nil, fmt.Errorf("count %s jobs: %w", s, err)
		}
		st.Jobs[s] = n
	}
	for _, s := range webhook.Statuses {
		n, err := e.store.CountDeliveries(ctx, webhook.Filter{Status: s})
		if err != nil {
			return nil, fmt.Errorf("count %s deliveries: %w", s, err)
		}
		st.Deliveries[s] = n
	}
	for _, p := range job.Priorities {
		st.Queue[p] = e.queue.Len(p)
	}
	return st, nil
}

// Broker returns the event stream broker.
func (e *Engine) Broker() *stream.Broker { return e.broker }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Config returns the effective configuration.
func (e *Engine) Config() conductor.Config { return e.cfg }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }
