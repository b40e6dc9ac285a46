package shared

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FullJitterBackoff builds the retry schedule spec §4.1 mandates: exponential
// with base 1s, cap 16s, full jitter, at most maxAttempts tries. It wraps
// cenkalti/backoff/v4's ExponentialBackOff (already present as an indirect
// dependency of the teacher's REST client stack) rather than hand-rolling a
// scheduler.
func FullJitterBackoff(maxAttempts int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	// cenkalti draws each wait uniformly from [(1-f)*i, (1+f)*i]; with
	// f = 1 that is [0, 2i], so i starts at half the 1s base and is capped
	// at half of 16s, giving waits in [0, min(1s*2^n, 16s)].
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 8 * time.Second
	eb.Multiplier = 2
	eb.RandomizationFactor = 1.0 // full jitter: wait in [0, 2i]
	eb.MaxElapsedTime = 0        // bounded by WithMaxRetries below instead
	return backoff.WithMaxRetries(eb, uint64(maxAttempts-1))
}

// NextDelay reports the delay for attempt N (0-indexed) under full-jitter
// exponential backoff with the given base and cap, without mutating shared
// state. Used where callers need to compute a delay without driving a
// backoff.BackOff state machine (e.g. to log the planned wait).
func NextDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base * (1 << attempt)
	if d > cap || d <= 0 {
		d = cap
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// RetryWithContext drives fn through backoff b, stopping early on ctx
// cancellation. fn should return a permanent error wrapped via
// backoff.Permanent to stop retrying immediately.
func RetryWithContext(ctx context.Context, b backoff.BackOff, fn func() error) error {
	return backoff.Retry(fn, backoff.WithContext(b, ctx))
}
