package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited reports a non-blocking acquire against an empty bucket.
var ErrRateLimited = errors.New("rate limited")

// LimiterOpts size a token bucket.
type LimiterOpts struct {
	// Rate is how many tokens drip in per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// DefaultLimiterOpts pace a client at one call per second with a small
// burst allowance.
var DefaultLimiterOpts = LimiterOpts{
	Rate:  1,
	Burst: 4,
}

// Limiter is a token bucket. It starts full, so a fresh limiter admits a
// burst before pacing kicks in.
type Limiter struct {
	mu     sync.Mutex
	opts   LimiterOpts
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewLimiter builds a full bucket. A zero Rate would never refill, so it
// falls back to the default; Burst is at least one.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Rate <= 0 {
		opts.Rate = DefaultLimiterOpts.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{
		opts:   opts,
		tokens: float64(opts.Burst),
		now:    time.Now,
	}
}

// take refills from elapsed time and takes one token if available. For an
// empty bucket it reports how long until the next token drips in.
func (l *Limiter) take() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() {
		l.tokens += now.Sub(l.last).Seconds() * l.opts.Rate
		if limit := float64(l.opts.Burst); l.tokens > limit {
			l.tokens = limit
		}
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	short := (1 - l.tokens) / l.opts.Rate
	return false, time.Duration(short * float64(time.Second))
}

// Allow takes a token without blocking.
func (l *Limiter) Allow() bool {
	ok, _ := l.take()
	return ok
}

// Wait blocks until it takes a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, wait := l.take()
		if ok {
			return nil
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Call runs f if a token is free and returns ErrRateLimited otherwise.
func (l *Limiter) Call(ctx context.Context, f func(context.Context) error) error {
	if !l.Allow() {
		return ErrRateLimited
	}
	return f(ctx)
}

// CallWait waits out the pacing, then runs f.
func (l *Limiter) CallWait(ctx context.Context, f func(context.Context) error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return f(ctx)
}
