// Package resilience provides a circuit breaker for calls to remote
// dependencies such as the PostgreSQL passage store.
//
// [Breaker] is a three-state breaker (closed → open → half-open). While open
// it rejects calls with [ErrOpen] so request handlers fail fast instead of
// piling up behind a dead database.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets one probe at a time through. Enough consecutive
	// successful probes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// Config tunes a [Breaker]. Zero fields take the defaults noted below.
type Config struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is the number of consecutive successful probes that
	// closes the breaker again. Default: 1.
	HalfOpenProbes int

	// IsFailure decides whether an error counts against the dependency.
	// Default: every error except context cancellation and deadline expiry
	// of the caller.
	IsFailure func(error) bool

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probes       int
	isFailure    func(error) bool
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probing   bool
	openedAt  time.Time
}

// New creates a [Breaker].
func New(cfg Config) *Breaker {
	b := &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probes:       cfg.HalfOpenProbes,
		isFailure:    cfg.IsFailure,
		now:          cfg.Now,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = 5
	}
	if b.resetTimeout <= 0 {
		b.resetTimeout = 30 * time.Second
	}
	if b.probes <= 0 {
		b.probes = 1
	}
	if b.isFailure == nil {
		b.isFailure = defaultIsFailure
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn unless the breaker is open. Errors from fn are returned
// unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		slog.Info("circuit breaker half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	failed := err != nil && b.isFailure(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if failed {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.probes {
			b.state = StateClosed
			b.failures = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}
		return
	}

	if b.state != StateClosed {
		// A call admitted before the breaker opened.
		return
	}
	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip()
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	from := b.state
	b.state = StateOpen
	b.openedAt = b.now()
	slog.Warn("circuit breaker opened", "name", b.name, "from", from.String(), "consecutive_failures", b.failures)
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probing = false
}
