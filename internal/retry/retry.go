// Package retry provides a bounded exponential-backoff retry loop. The
// engine uses it where giving up is not acceptable on first failure,
// most importantly for incident report writes: a report must eventually
// be written, even in degraded form, because it is the sole audit trail.
package retry

import (
	"context"
	"time"
)

// Policy controls the retry loop.
type Policy struct {
	MaxAttempts int
	InitDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultPolicy retries a handful of times over a few seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		InitDelay:   200 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}
}

// Do runs fn up to MaxAttempts times, sleeping between attempts with
// exponential backoff. It returns nil on the first success, the last
// error when attempts are exhausted, or the context error if ctx ends
// while waiting.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := policy.InitDelay

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if policy.Multiplier > 1 {
			delay = time.Duration(float64(delay) * policy.Multiplier)
		}
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}
