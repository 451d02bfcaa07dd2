package source

import (
	"context"
	"time"
)

// Default retry configuration values.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second
)

// Retrier runs an operation with bounded attempts and exponential backoff.
// It never sleeps past the request deadline.
type Retrier struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRetrier creates a Retrier; non-positive values fall back to defaults.
func NewRetrier(maxAttempts int, base, max time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = base
	}
	return &Retrier{
		MaxAttempts: maxAttempts,
		BackoffBase: base,
		BackoffMax:  max,
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

// WithClock replaces the sleeper and clock, for tests.
func (r *Retrier) WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *Retrier {
	cp := *r
	cp.now = now
	cp.sleep = sleep
	return &cp
}

// Backoff returns the wait before retry number n (1-based).
func (r *Retrier) Backoff(n int) time.Duration {
	d := r.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= r.BackoffMax {
			return r.BackoffMax
		}
	}
	return d
}

// Expired reports whether the deadline has passed.
func (r *Retrier) Expired(deadline time.Time) bool {
	return !deadline.IsZero() && !r.now().Before(deadline)
}

// Do runs op until it succeeds, fails permanently, runs out of attempts, or
// the next wait would cross the deadline. It returns the attempts made.
func (r *Retrier) Do(ctx context.Context, deadline time.Time, op func(ctx context.Context) error) (int, *FetchError) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, Timeout(err)
		}
		if r.Expired(deadline) {
			return attempts, Timeout(nil)
		}

		attempts++
		ferr := AsFetchError(op(ctx))
		if ferr == nil {
			return attempts, nil
		}
		if !ferr.Transient() || attempts >= r.MaxAttempts {
			return attempts, ferr
		}

		wait := r.Backoff(attempts)
		if ferr.Kind == KindRateLimited && ferr.RetryAfter > wait {
			wait = ferr.RetryAfter
		}
		if !deadline.IsZero() && !r.now().Add(wait).Before(deadline) {
			return attempts, Timeout(ferr)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return attempts, Timeout(err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
