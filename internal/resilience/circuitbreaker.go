// Package resilience keeps a turn alive when a remote model misbehaves.
//
// A [CircuitBreaker] stops calling a collaborator after repeated failures
// and probes it again once a cool-down has passed. [FallbackGroup] puts a
// breaker in front of each configured backend of one kind (transcriber,
// reply model, voice) and walks them in order. The typed wrappers
// [LLMFallback], [STTFallback] and [TTSFallback] satisfy the provider
// interfaces, so the pipeline never knows a group is in use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while a breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name identifies the protected backend in logs and callbacks.
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before probing. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax successful probes close the breaker again. Default 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend. The
	// default ignores context cancellation, which means the caller gave up
	// rather than the backend failing.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker is a closed/open/half-open breaker. Safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute calls fn unless the breaker is open. While half-open at most
// HalfOpenMax probes are in flight; extra callers get [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var change *transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		change = cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	var change *transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	failed := cb.cfg.IsFailure(err)
	switch {
	case probe && cb.state != StateHalfOpen:
		// Another probe already decided the outcome.
	case probe && failed:
		change = cb.moveTo(StateOpen)
	case probe && err != nil:
		cb.probes--
	case probe:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			change = cb.moveTo(StateClosed)
		}
	case failed:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			change = cb.moveTo(StateOpen)
		}
	case err == nil:
		cb.failures = 0
	}
}

type transition struct{ from, to State }

// moveTo switches state and resets counters. Call with cb.mu held.
func (cb *CircuitBreaker) moveTo(to State) *transition {
	t := &transition{from: cb.state, to: to}
	cb.state = to
	cb.probes, cb.successes = 0, 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	return t
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	log := slog.With("backend", cb.cfg.Name, "from", t.from.String(), "to", t.to.String())
	if t.to == StateOpen {
		log.Warn("circuit breaker opened", "failures", cb.cfg.MaxFailures)
	} else {
		log.Info("circuit breaker state changed")
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State reports the current mode. An open breaker whose cool-down has
// passed reports half-open; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var change *transition
	if cb.state != StateClosed {
		change = cb.moveTo(StateClosed)
	}
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(change)
}
