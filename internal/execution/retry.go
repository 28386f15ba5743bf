package execution

import (
	"math"
	"time"
)

// BackoffStrategy returns the wait before retry number attempt (1-based).
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff waits Initial * Multiplier^(attempt-1), capped at Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (e ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(e.Initial) * math.Pow(mult, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	return time.Duration(d)
}

// ConstantBackoff waits the same duration before every retry.
type ConstantBackoff time.Duration

func (c ConstantBackoff) NextDelay(int) time.Duration { return time.Duration(c) }

// RetryPolicy bounds dispatch attempts per step. MaxAttempts counts the
// first try, so 1 disables retry.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = ConstantBackoff(0)
	}
	return p
}
