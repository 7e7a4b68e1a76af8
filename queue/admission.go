package queue

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xraph/conductor"
)

// AdmissionConfig bounds how fast and how deep submissions may pile up.
// Zero values disable the corresponding check.
type AdmissionConfig struct {
	// Rate is the sustained submissions per second.
	Rate float64

	// Burst is the token-bucket burst. Defaults to 1 when Rate is set.
	Burst int

	// MaxPending caps the number of queued job IDs.
	MaxPending int
}

// Admission decides whether a new submission may be accepted. It is safe
// for concurrent use.
type Admission struct {
	limiter    *rate.Limiter
	maxPending int
}

// NewAdmission creates an admission controller from cfg.
func NewAdmission(cfg AdmissionConfig) *Admission {
	a := &Admission{maxPending: cfg.MaxPending}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return a
}

// Admit returns nil when a submission may proceed given the current queue
// depth, or an error wrapping ErrAdmissionDenied. A nil Admission admits
// everything.
func (a *Admission) Admit(depth int) error {
	if a == nil {
		return nil
	}
	if a.maxPending > 0 && depth >= a.maxPending {
		return fmt.Errorf("queue depth %d reached limit %d: %w", depth, a.maxPending, conductor.ErrAdmissionDenied)
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return fmt.Errorf("submission rate exceeded: %w", conductor.ErrAdmissionDenied)
	}
	return nil
}
