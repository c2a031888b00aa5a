// Package resilience paces and guards the engine's outbound calls: a token
// bucket spreads them out, a circuit breaker stops hammering a backend that
// keeps failing. Both sit under the model provider clients.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen rejects calls while the breaker waits out a failing
// backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position in the closed/open/half-open cycle.
type State int

const (
	StateClosed   State = iota // calls pass, failures are counted
	StateOpen                  // calls rejected until Timeout elapses
	StateHalfOpen              // a bounded number of probes admitted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerOpts tune one breaker.
type BreakerOpts struct {
	// FailThreshold is the consecutive-failure count that trips the breaker.
	FailThreshold int
	// Timeout is how long a tripped breaker rejects before probing again.
	Timeout time.Duration
	// HalfOpenMax caps probes in flight while half-open.
	HalfOpenMax int
}

// DefaultBreakerOpts trip after five consecutive failures and probe again
// half a minute later.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker cuts a flapping dependency off after FailThreshold consecutive
// failures and lets a probe through once Timeout has passed. One probe
// success closes it again; a probe failure reopens it.
type Breaker struct {
	mu     sync.Mutex
	opts   BreakerOpts
	state  State
	fails  int       // consecutive failures while closed
	since  time.Time // when the breaker opened
	probes int       // probes admitted in the current half-open window
	now    func() time.Time
}

// NewBreaker builds a closed breaker. Zero or negative options fall back to
// the defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the breaker's position, moving open to half-open once the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position()
}

// position re-evaluates the open timeout. Callers hold mu.
func (b *Breaker) position() State {
	if b.state == StateOpen && b.now().Sub(b.since) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

// Call runs f unless the breaker rejects it, then settles the outcome into
// the failure count and state. The error from f passes through untouched.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.settle(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.position() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.fails = 0
		return
	}

	b.fails++
	if b.state == StateHalfOpen || b.fails >= b.opts.FailThreshold {
		b.state = StateOpen
		b.since = b.now()
		b.fails = 0
		b.probes = 0
	}
}
