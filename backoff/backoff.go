// Package backoff computes retry delays for webhook deliveries and job
// retries. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry n (1-indexed: n=1 is the delay
// after the first failed attempt).
type Strategy interface {
	Delay(n int) time.Duration
}

// None never waits.
type None struct{}

// Delay returns zero.
func (None) Delay(int) time.Duration { return 0 }

// Constant always returns Interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each retry:
// min(Base * 2^(n-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates a capped exponential strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(n-1), capped at Max.
func (e *Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(e.Base) * math.Pow(2, float64(n-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Jitter spreads another strategy's delay uniformly across
// [d*(1-Fraction), d*(1+Fraction)].
type Jitter struct {
	Strategy Strategy
	Fraction float64

	// rand returns a value in [0, 1). Nil uses math/rand/v2.
	rand func() float64
}

// WithJitter wraps s with ±fraction jitter.
func WithJitter(s Strategy, fraction float64) *Jitter {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return &Jitter{Strategy: s, Fraction: fraction}
}

// Delay returns the jittered delay of the wrapped strategy.
func (j *Jitter) Delay(n int) time.Duration {
	d := j.Strategy.Delay(n)
	if j.Fraction == 0 || d <= 0 {
		return d
	}
	r := rand.Float64 //nolint:gosec // jitter does not need crypto rand
	if j.rand != nil {
		r = j.rand
	}
	factor := 1 - j.Fraction + 2*j.Fraction*r()
	return time.Duration(float64(d) * factor)
}

// Webhook returns the delivery strategy: exponential from base capped at
// maxDelay with ±fraction jitter.
func Webhook(base, maxDelay time.Duration, fraction float64) Strategy {
	return WithJitter(NewExponential(base, maxDelay), fraction)
}

// Retry returns the job retry strategy for a fixed delay. Zero means
// retries are re-enqueued immediately.
func Retry(delay time.Duration) Strategy {
	if delay <= 0 {
		return None{}
	}
	return NewConstant(delay)
}
