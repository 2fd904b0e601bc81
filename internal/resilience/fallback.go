package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is wrapped by [ExecuteWithResult] when no backend in a chain produced a result.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the template for the breaker placed in front of each
// backend. Its Name is overwritten with the backend's name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// EntryStatus is one backend's breaker state, as shown on the health endpoint.
type EntryStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type backend[T any] struct {
	name    string
	impl    T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered chain of interchangeable backends. The first
// one added is preferred. Register every backend before sharing the group.
type FallbackGroup[T any] struct {
	tmpl     CircuitBreakerConfig
	backends []backend[T]
}

// NewFallbackGroup starts a chain with primary at its head.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{tmpl: cfg.CircuitBreaker}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends impl to the end of the chain.
func (g *FallbackGroup[T]) AddFallback(name string, impl T) {
	cb := g.tmpl
	cb.Name = name
	g.backends = append(g.backends, backend[T]{name: name, impl: impl, breaker: NewCircuitBreaker(cb)})
}

// Primary is the head of the chain.
func (g *FallbackGroup[T]) Primary() T { return g.backends[0].impl }

// Len is the number of registered backends.
func (g *FallbackGroup[T]) Len() int { return len(g.backends) }

func (g *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(g.backends))
	for _, b := range g.backends {
		out = append(out, EntryStatus{Name: b.name, State: b.breaker.State().String()})
	}
	return out
}

// Execute is [ExecuteWithResult] for calls without a result.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(impl T) (struct{}, error) { return struct{}{}, fn(impl) })
	return err
}

// ExecuteWithResult walks the chain until fn succeeds on a backend. Backends
// whose breaker is open are passed over. A cancelled or expired context ends
// the walk with that error, because every later backend would see the same
// context. When the chain is exhausted the error wraps [ErrAllFailed]
// together with each backend's own error.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs = make([]error, 0, len(g.backends))
	)
	for i := range g.backends {
		b := &g.backends[i]
		var out R
		err := b.breaker.Execute(func() (err error) {
			out, err = fn(b.impl)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("served by fallback backend", "backend", b.name, "position", i)
			}
			return out, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("backend skipped, breaker open", "backend", b.name)
		default:
			slog.Warn("backend failed", "backend", b.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
