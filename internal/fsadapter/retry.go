package fsadapter

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/zarniwp/cuba/internal/cuberr"
)

// RetryPolicy implements the exponential-backoff-with-jitter retry
// spec.md §4.7 requires for transient filesystem/network failures,
// capped at a fixed attempt count. Permanent errors (auth, not-found,
// non-retryable HTTP statuses) are never retried regardless of
// attempts remaining.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches spec.md §4.7's defaults: 5 attempts,
// doubling from 100ms, capped at 5s, with full jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Permanent marks an error as non-retryable regardless of how many
// attempts remain, e.g. auth failures or 4xx responses other than 429.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// IsPermanent reports whether err (or something it wraps) is marked
// non-retryable, including cuberr Auth/NotFound kinds.
func IsPermanent(err error) bool {
	var p *Permanent
	if errors.As(err, &p) {
		return true
	}
	switch cuberr.KindOf(err) {
	case cuberr.KindAuth, cuberr.KindNotFound:
		return true
	}
	return false
}

// Do runs op, retrying on transient failure per the policy. It stops
// early if ctx is cancelled or op returns a permanent error.
func (r RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return cuberr.New(cuberr.KindCancelled, err)
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := r.delayFor(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cuberr.New(cuberr.KindCancelled, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

// delayFor computes the jittered exponential backoff for the attempt
// that just failed, as a full-jitter delay in [0, cap].
func (r RetryPolicy) delayFor(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	backoff := base << uint(attempt-1)
	if backoff <= 0 || backoff > maxDelay {
		backoff = maxDelay
	}
	return time.Duration(rand.Int63n(int64(backoff) + 1))
}
