package engine

import (
	"time"

	"github.com/cenkalti/backoff"

	"github.com/roach88/spendsync/internal/ir"
)

// Retry defaults.
const (
	DefaultMaxRetries    = 5
	DefaultRetryDelay    = 30 * time.Second
	DefaultMaxRetryDelay = 10 * time.Minute
)

// RetryDecision is the outcome of one failed attempt.
// NextRetryAt is nil when Status is failed.
type RetryDecision struct {
	Status      ir.Status
	NextRetryAt *time.Time
}

// RetryPolicy decides what happens to an operation after a failed attempt.
//
// retryCount already includes the attempt that just failed. Implementations
// must be pure: the same inputs always give the same decision, apart from
// any jitter the policy is configured with.
type RetryPolicy interface {
	Next(retryCount, maxRetries int, now time.Time) RetryDecision
}

// ComputeNextRetry is the fixed-delay rule: failed once retryCount reaches
// maxRetries, otherwise retrying after delay.
func ComputeNextRetry(retryCount, maxRetries int, delay time.Duration, now time.Time) RetryDecision {
	if retryCount >= maxRetries {
		return RetryDecision{Status: ir.StatusFailed}
	}
	at := now.Add(delay)
	return RetryDecision{Status: ir.StatusRetrying, NextRetryAt: &at}
}

// FixedDelay retries after the same delay every time.
type FixedDelay struct {
	Delay time.Duration
}

// Next implements RetryPolicy.
func (p FixedDelay) Next(retryCount, maxRetries int, now time.Time) RetryDecision {
	return ComputeNextRetry(retryCount, maxRetries, p.Delay, now)
}

// ExponentialBackoff grows the delay geometrically between attempts.
//
// The n-th retry waits roughly Initial * Multiplier^(n-1), capped at Max and
// spread by Randomization (0 disables jitter).
type ExponentialBackoff struct {
	Initial       time.Duration
	Max           time.Duration
	Multiplier    float64
	Randomization float64
}

// NewExponentialBackoff returns a policy starting at initial and capped at max,
// doubling with 10% jitter.
func NewExponentialBackoff(initial, max time.Duration) ExponentialBackoff {
	return ExponentialBackoff{
		Initial:       initial,
		Max:           max,
		Multiplier:    2,
		Randomization: 0.1,
	}
}

// Next implements RetryPolicy.
func (p ExponentialBackoff) Next(retryCount, maxRetries int, now time.Time) RetryDecision {
	if retryCount >= maxRetries {
		return RetryDecision{Status: ir.StatusFailed}
	}
	at := now.Add(p.delay(retryCount))
	return RetryDecision{Status: ir.StatusRetrying, NextRetryAt: &at}
}

// delay replays the backoff sequence up to the given attempt.
func (p ExponentialBackoff) delay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Randomization
	b.MaxElapsedTime = 0 // the retry count bounds attempts, not elapsed time
	b.Reset()

	d := p.Initial
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
