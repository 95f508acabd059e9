package services

import (
	"fmt"
	"math"
	"time"

	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
)

// RetryPolicy computes exponential backoff for failed publishes.
// The delay before retry n (1-based) is min(initial * multiplier^(n-1), max).
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterRatio  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   10,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		JitterRatio:  0.2,
	}
}

func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must be >= 0", domainerrors.ErrInvalidRetryPolicy)
	case p.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be > 0", domainerrors.ErrInvalidRetryPolicy)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay must be >= initial delay", domainerrors.ErrInvalidRetryPolicy)
	case p.Multiplier < 1 || math.IsNaN(p.Multiplier) || math.IsInf(p.Multiplier, 0):
		return fmt.Errorf("%w: multiplier must be >= 1", domainerrors.ErrInvalidRetryPolicy)
	case p.JitterRatio < 0 || p.JitterRatio > 1 || math.IsNaN(p.JitterRatio):
		return fmt.Errorf("%w: jitter ratio must be within [0,1]", domainerrors.ErrInvalidRetryPolicy)
	}
	return nil
}

// Backoff returns the undithered delay before retry attempt. Attempts below 1
// are treated as 1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Jitter spreads delay uniformly across delay ± JitterRatio*delay using
// sample in [0,1). The result stays within [0, MaxDelay].
func (p RetryPolicy) Jitter(delay time.Duration, sample float64) time.Duration {
	if p.JitterRatio == 0 || delay <= 0 {
		return delay
	}
	if sample < 0 {
		sample = 0
	}
	if sample >= 1 {
		sample = math.Nextafter(1, 0)
	}
	offset := (2*sample - 1) * p.JitterRatio * float64(delay)
	jittered := time.Duration(float64(delay) + offset)
	if jittered < 0 {
		return 0
	}
	if jittered > p.MaxDelay {
		return p.MaxDelay
	}
	return jittered
}

// Exhausted reports whether a row that has now failed retryCount times must
// be marked FAILED.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount > p.MaxRetries
}

// NextRetryAt schedules retry attempt relative to now.
func (p RetryPolicy) NextRetryAt(now time.Time, attempt int, sample float64) time.Time {
	return now.Add(p.Jitter(p.Backoff(attempt), sample))
}
