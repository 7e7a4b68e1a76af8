package conductor

import "time"

// Config holds the scheduler tuning knobs shared by the engine and its
// subsystems.
type Config struct {
	// Concurrency is the number of worker goroutines in the pool.
	Concurrency int

	// MaxAttempts is the default number of execution attempts per job.
	MaxAttempts int

	// JobTimeout bounds a single execution attempt.
	JobTimeout time.Duration

	// RetryDelay is the initial delay before a failed job is re-enqueued.
	// Zero re-enqueues immediately.
	RetryDelay time.Duration

	// WebhookURL is the endpoint receiving completion events. Empty disables
	// delivery; deliveries are still recorded.
	WebhookURL string

	// WebhookMaxAttempts is the number of POST attempts before a delivery is
	// dead-lettered.
	WebhookMaxAttempts int

	// WebhookBaseDelay, WebhookMaxDelay and WebhookJitter shape the
	// exponential delivery backoff.
	WebhookBaseDelay time.Duration
	WebhookMaxDelay  time.Duration
	WebhookJitter    float64

	// WebhookTimeout bounds a single POST.
	WebhookTimeout time.Duration

	// ShutdownTimeout is the grace period for draining in-flight jobs and
	// pending deliveries.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		MaxAttempts:        3,
		JobTimeout:         5 * time.Minute,
		WebhookMaxAttempts: 8,
		WebhookBaseDelay:   time.Second,
		WebhookMaxDelay:    time.Minute,
		WebhookJitter:      0.2,
		WebhookTimeout:     10 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}
