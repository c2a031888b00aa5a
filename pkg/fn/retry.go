package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts bound a retry loop.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry suits short network calls: three attempts, jittered backoff.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// RetryIf runs f until it succeeds, shouldRetry(err) says stop, or the
// attempt budget is spent, sleeping an exponentially growing backoff
// between attempts. A nil shouldRetry retries every error; context
// cancellation wins over the sleep.
func RetryIf[T any](ctx context.Context, opts RetryOpts, shouldRetry func(error) bool, f func(context.Context) Result[T]) Result[T] {
	var last Result[T]
	base := opts.InitialWait

	for left := opts.MaxAttempts; left > 0; left-- {
		last = f(ctx)
		if last.IsOk() || left == 1 {
			return last
		}
		if shouldRetry != nil {
			if _, err := last.Unwrap(); !shouldRetry(err) {
				return last
			}
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(backoff(base, opts)):
		}

		base *= 2
		if base > opts.MaxWait {
			base = opts.MaxWait
		}
	}
	return last
}

// Retry is RetryIf with every error considered retryable.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	return RetryIf(ctx, opts, nil, f)
}

// backoff applies jitter and the MaxWait cap to one sleep.
func backoff(base time.Duration, opts RetryOpts) time.Duration {
	d := base
	if opts.Jitter {
		d = time.Duration(float64(base) * (0.5 + rand.Float64()))
	}
	if d > opts.MaxWait {
		d = opts.MaxWait
	}
	return d
}
