package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

const (
	// UserAgent is sent with every delivery.
	UserAgent = "conductor-webhook"

	HeaderDelivery       = "X-Conductor-Delivery"
	HeaderAttempt        = "X-Conductor-Attempt"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Notifier records a Delivery for every terminal job and POSTs it to the
// configured endpoint from a background loop.
type Notifier struct {
	store       Store
	url         string
	client      *http.Client
	strategy    backoff.Strategy
	maxAttempts int
	timeout     time.Duration
	interval    time.Duration
	batchSize   int
	parallelism int
	observer    Observer
	tracer      trace.Tracer
	logger      *slog.Logger

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithURL sets the endpoint. An empty URL disables sending; deliveries are
// still recorded and go out once a later run has a URL.
func WithURL(url string) Option {
	return func(n *Notifier) { n.url = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(n *Notifier) { n.strategy = s }
}

// WithMaxAttempts sets how many POSTs are made before dead-lettering.
func WithMaxAttempts(max int) Option {
	return func(n *Notifier) { n.maxAttempts = max }
}

// WithTimeout bounds a single POST.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// WithPollInterval sets how often the loop looks for due deliveries when
// it has not been woken.
func WithPollInterval(d time.Duration) Option {
	return func(n *Notifier) { n.interval = d }
}

// WithParallelism bounds concurrent POSTs.
func WithParallelism(p int) Option {
	return func(n *Notifier) { n.parallelism = p }
}

// WithObserver receives delivered and dead-lettered outcomes.
func WithObserver(o Observer) Option {
	return func(n *Notifier) { n.observer = o }
}

// WithTracer sets the tracer used for delivery spans.
func WithTracer(t trace.Tracer) Option {
	return func(n *Notifier) { n.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// NewNotifier creates a Notifier over s.
func NewNotifier(s Store, opts ...Option) *Notifier {
	cfg := conductor.DefaultConfig()
	n := &Notifier{
		store:       s,
		client:      http.DefaultClient,
		maxAttempts: cfg.WebhookMaxAttempts,
		timeout:     cfg.WebhookTimeout,
		strategy:    backoff.Webhook(cfg.WebhookBaseDelay, cfg.WebhookMaxDelay, cfg.WebhookJitter),
		interval:    time.Second,
		batchSize:   64,
		parallelism: 4,
		observer:    nopObserver{},
		tracer:      otel.Tracer("github.com/xraph/conductor/webhook"),
		logger:      slog.Default(),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.maxAttempts < 1 {
		n.maxAttempts = 1
	}
	if n.parallelism < 1 {
		n.parallelism = 1
	}
	return n
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Notify records a Pending delivery for the terminal job j and wakes the
// delivery loop. The record is durable before Notify returns.
func (n *Notifier) Notify(ctx context.Context, j *job.Job) error {
	if !j.Status.Terminal() {
		return fmt.Errorf("notify job %s in status %s: %w", j.ID, j.Status, conductor.ErrConflict)
	}

	d := &Delivery{
		Entity:        conductor.NewEntity(),
		ID:            id.NewDeliveryID(),
		JobID:         j.ID,
		JobAttempt:    j.Attempt,
		Status:        StatusPending,
		MaxAttempts:   n.maxAttempts,
		NextAttemptAt: time.Now().UTC(),
	}

	completedAt := d.CreatedAt
	if j.CompletedAt != nil {
		completedAt = *j.CompletedAt
	}
	body, err := json.Marshal(Event{
		DeliveryID:  d.ID.String(),
		JobID:       j.ID.String(),
		Attempt:     j.Attempt,
		TaskName:    j.TaskName,
		Priority:    string(j.Priority),
		Status:      string(j.Status),
		Payload:     j.Payload,
		Result:      j.Result,
		Error:       j.Error,
		CompletedAt: completedAt,
	})
	if err != nil {
		return fmt.Errorf("render webhook body: %w", err)
	}
	d.Body = body

	if err := n.store.CreateDelivery(ctx, d); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	n.Wake()
	return nil
}

// Wake prompts the loop to look for due deliveries now.
func (n *Notifier) Wake() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Replay resets a dead-lettered delivery to Pending with a fresh attempt
// budget. Other statuses yield a *conductor.ConflictError.
func (n *Notifier) Replay(ctx context.Context, deliveryID id.DeliveryID) (*Delivery, error) {
	d, err := n.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusDeadLettered {
		return nil, &conductor.ConflictError{
			ID:       deliveryID.String(),
			Expected: string(StatusDeadLettered),
			Actual:   string(d.Status),
		}
	}

	now := time.Now().UTC()
	d.Status = StatusPending
	d.Attempt = 0
	d.MaxAttempts = n.maxAttempts
	d.NextAttemptAt = now
	d.UpdatedAt = now
	if err := n.store.UpdateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("replay delivery: %w", err)
	}

	n.logger.Info("delivery replayed",
		slog.String("delivery_id", d.ID.String()),
		slog.String("job_id", d.JobID.String()),
	)
	n.Wake()
	return d, nil
}

// Start launches the delivery loop. With no URL configured it returns
// without starting anything.
func (n *Notifier) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}
	if !n.Enabled() {
		n.logger.Warn("webhook url not configured, deliveries will be recorded but not sent")
		return nil
	}
	n.running = true

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.stopCh = make(chan struct{})
	n.done = make(chan struct{})

	n.logger.Info("webhook notifier starting",
		slog.String("url", n.url),
		slog.Int("max_attempts", n.maxAttempts),
	)
	go n.loop(runCtx)
	return nil
}

// Stop ends the loop after draining deliveries that are already due. When
// ctx expires first, in-flight POSTs are cancelled and left Pending.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	close(n.stopCh)
	defer n.cancel()

	select {
	case <-n.done:
		n.logger.Info("webhook notifier stopped")
		return nil
	case <-ctx.Done():
		n.logger.Warn("webhook notifier drain timed out, cancelling in-flight deliveries")
		n.cancel()
		<-n.done
		return ctx.Err()
	}
}

func (n *Notifier) loop(ctx context.Context) {
	defer close(n.done)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		n.deliverDue(ctx)

		select {
		case <-n.stopCh:
			n.drain(ctx)
			return
		case <-n.wake:
		case <-ticker.C:
		}
	}
}

// drain keeps delivering until nothing is due or ctx is cancelled.
func (n *Notifier) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if n.deliverDue(ctx) == 0 {
			return
		}
	}
}

// deliverDue attempts one batch of due deliveries and returns its size.
func (n *Notifier) deliverDue(ctx context.Context) int {
	due, err := n.store.ListDueDeliveries(ctx, time.Now().UTC(), n.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			n.logger.Error("list due deliveries", slog.String("error", err.Error()))
		}
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.parallelism)
	for _, d := range due {
		g.Go(func() error {
			n.attempt(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return len(due)
}

// attempt makes one POST for d and persists the outcome.
func (n *Notifier) attempt(ctx context.Context, d *Delivery) {
	d.Attempt++

	ctx, span := n.tracer.Start(ctx, "conductor.webhook.deliver",
		trace.WithAttributes(
			attribute.String("conductor.delivery.id", d.ID.String()),
			attribute.String("conductor.job.id", d.JobID.String()),
			attribute.Int("conductor.delivery.attempt", d.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	code, sendErr := n.post(ctx, d)
	if ctx.Err() != nil {
		// Shutdown cancelled the POST; the attempt does not count.
		return
	}

	now := time.Now().UTC()
	d.UpdatedAt = now
	d.LastStatusCode = code

	switch {
	case sendErr == nil:
		d.Status = StatusDelivered
		d.LastError = ""
		d.DeliveredAt = &now
		span.SetStatus(codes.Ok, "")
	case d.Attempt >= d.MaxAttempts:
		d.Status = StatusDeadLettered
		d.LastError = sendErr.Error()
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, sendErr.Error())
	default:
		d.LastError = sendErr.Error()
		d.NextAttemptAt = now.Add(n.strategy.Delay(d.Attempt))
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, sendErr.Error())
	}

	if err := n.store.UpdateDelivery(ctx, d); err != nil {
		n.logger.Error("persist delivery outcome",
			slog.String("delivery_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	switch d.Status {
	case StatusDelivered:
		n.logger.Debug("webhook delivered",
			slog.String("delivery_id", d.ID.String()),
			slog.String("job_id", d.JobID.String()),
			slog.Int("attempt", d.Attempt),
		)
		n.observer.EmitDeliveryDelivered(ctx, d)
	case StatusDeadLettered:
		n.logger.Warn("webhook delivery dead-lettered",
			slog.String("delivery_id", d.ID.String()),
			slog.String("job_id", d.JobID.String()),
			slog.Int("attempts", d.Attempt),
			slog.String("error", d.LastError),
		)
		n.observer.EmitDeliveryDeadLettered(ctx, d)
	default:
		n.logger.Info("webhook delivery failed, will retry",
			slog.String("delivery_id", d.ID.String()),
			slog.Int("attempt", d.Attempt),
			slog.Int("max_attempts", d.MaxAttempts),
			slog.Time("next_attempt_at", d.NextAttemptAt),
			slog.String("error", d.LastError),
		)
	}
}

func (n *Notifier) post(ctx context.Context, d *Delivery) (int, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(d.Body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderDelivery, d.ID.String())
	req.Header.Set(HeaderAttempt, strconv.Itoa(d.Attempt))
	req.Header.Set(HeaderIdempotencyKey, d.IdempotencyKey())

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "webhook endpoint returned " + strconv.Itoa(e.Code) + " " + http.StatusText(e.Code)
}

// IsStatusError reports whether err is a non-2xx response.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
