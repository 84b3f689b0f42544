package workflow

import (
	"math"
	"time"
)

// RetryPolicy controls how failed steps are rescheduled. Backoff grows
// exponentially from Initial by Multiplier per attempt and is capped at Max.
// MaxAttempts of zero retries forever.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultRetryPolicy retries indefinitely, starting at one minute and capping
// at six hours.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    time.Minute,
		Max:        6 * time.Hour,
		Multiplier: 2,
	}
}

// Backoff returns the delay before retry attempt n (1-indexed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.Initial) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 0)) {
		return p.Max
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether attempts has reached the configured limit.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
