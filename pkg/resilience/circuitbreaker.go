// Package resilience provides circuit breaker and rate limiter primitives for
// calls to external model and index services.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/selah-app/selah/pkg/fn"
)

// Circuit breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripping, reject calls
	StateHalfOpen              // allowing a trial call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// Name identifies the protected dependency in state-change callbacks.
	Name string
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of trial calls allowed in half-open state.
	HalfOpenMax int
	// IsFailure decides which errors count toward tripping. Nil counts all
	// errors except context cancellation by the caller.
	IsFailure func(error) bool
	// OnStateChange is invoked outside the lock after every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
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
	if opts.IsFailure == nil {
		opts.IsFailure = countsAsFailure
	}
	return &Breaker{opts: opts, now: time.Now}
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, tr := b.currentState()
	b.mu.Unlock()
	b.notify(tr)
	return st
}

type transition struct {
	from, to State
	changed  bool
}

// currentState returns state, transitioning open→half-open if timeout elapsed. Must hold mu.
func (b *Breaker) currentState() (State, transition) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenCount = 0
		return b.state, transition{from: StateOpen, to: StateHalfOpen, changed: true}
	}
	return b.state, transition{}
}

func (b *Breaker) notify(trs ...transition) {
	if b.opts.OnStateChange == nil {
		return
	}
	for _, tr := range trs {
		if tr.changed {
			b.opts.OnStateChange(b.opts.Name, tr.from, tr.to)
		}
	}
}

// admit reserves a slot for a call or reports that the circuit is open.
func (b *Breaker) admit() (transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, tr := b.currentState()
	switch st {
	case StateOpen:
		return tr, ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			return tr, ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	return tr, nil
}

// record folds the outcome of an admitted call into the breaker state.
func (b *Breaker) record(err error) transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	if b.opts.IsFailure(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	} else {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
	}
	return transition{from: from, to: b.state, changed: from != b.state}
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	tr, err := b.admit()
	b.notify(tr)
	if err != nil {
		return err
	}
	err = f(ctx)
	b.notify(b.record(err))
	return err
}

// CallResult is a generic version of Call that works with fn.Result.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	tr, err := b.admit()
	b.notify(tr)
	if err != nil {
		return fn.Err[T](err)
	}
	result := f(ctx)
	_, callErr := result.Unwrap()
	b.notify(b.record(callErr))
	return result
}

// BreakerStage wraps an fn.Stage with circuit breaker protection.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return CallResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
