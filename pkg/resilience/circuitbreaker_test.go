package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errProvider = errors.New("model overloaded")

func succeed(context.Context) error { return nil }

func failWith(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, failWith(errProvider))
	}
	if b.State() != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", 3, b.State())
	}

	// Tripped breaker rejects without invoking f.
	err := b.Call(ctx, succeed)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Call on open breaker = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	ctx := context.Background()

	// Two failures, then a success: the failure streak is gone.
	_ = b.Call(ctx, failWith(errProvider))
	_ = b.Call(ctx, failWith(errProvider))
	_ = b.Call(ctx, succeed)
	if b.State() != StateClosed {
		t.Fatalf("state after recovery = %v, want closed", b.State())
	}

	// A fresh streak has to reach the threshold again.
	_ = b.Call(ctx, failWith(errProvider))
	_ = b.Call(ctx, failWith(errProvider))
	if b.State() != StateClosed {
		t.Fatalf("state at two of three failures = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpen(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: 5 * time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, failWith(errProvider))
	_ = b.Call(ctx, failWith(errProvider))
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	now = now.Add(6 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state past timeout = %v, want half-open", b.State())
	}

	_ = b.Call(ctx, succeed)
	if b.State() != StateClosed {
		t.Fatalf("state after probe success = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenFailure(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: 5 * time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, failWith(errProvider))
	_ = b.Call(ctx, failWith(errProvider))
	now = now.Add(6 * time.Second)

	// One failed probe re-opens immediately.
	_ = b.Call(ctx, failWith(errProvider))
	if b.State() != StateOpen {
		t.Fatalf("state after probe failure = %v, want open", b.State())
	}
}

func TestBreakerHalfOpenMaxExceeded(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, failWith(errProvider))
	now = now.Add(2 * time.Second)

	// First probe is admitted and left in flight; a second concurrent probe
	// must be rejected.
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Call(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Call(ctx, succeed)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	if b.opts.FailThreshold != DefaultBreakerOpts.FailThreshold {
		t.Errorf("FailThreshold = %d, want %d", b.opts.FailThreshold, DefaultBreakerOpts.FailThreshold)
	}
	if b.opts.Timeout != DefaultBreakerOpts.Timeout {
		t.Errorf("Timeout = %v, want %v", b.opts.Timeout, DefaultBreakerOpts.Timeout)
	}
	if b.opts.HalfOpenMax != DefaultBreakerOpts.HalfOpenMax {
		t.Errorf("HalfOpenMax = %d, want %d", b.opts.HalfOpenMax, DefaultBreakerOpts.HalfOpenMax)
	}
}

func TestBreakerConcurrentAccess(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 100, Timeout: time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				_ = b.Call(ctx, succeed)
			} else {
				_ = b.Call(ctx, failWith(errProvider))
			}
		}(i)
	}
	wg.Wait()

	if b.State() != StateClosed {
		t.Fatalf("state under mixed load = %v, want closed", b.State())
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}
