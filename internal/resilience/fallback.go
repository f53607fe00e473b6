package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry in a [FallbackGroup] could serve a
// call: every backend either failed or had an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig shapes the circuit breaker each group entry gets. The Name
// field of the breaker config is overwritten with the entry's own name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type guardedEntry[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered list of same-typed backends, each guarded
// by its own circuit breaker. A call walks the list in priority order; each
// backend's breaker decides admission, a rejected backend costs nothing, and
// the first success wins.
type FallbackGroup[T any] struct {
	entries []guardedEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup starts a group with primary as its only entry. Register
// lower-priority backends with [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends backend at the lowest priority, wrapped in a breaker
// named after it.
func (fg *FallbackGroup[T]) AddFallback(name string, backend T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, guardedEntry[T]{
		name:    name,
		backend: backend,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against the group for operations without a result value.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(backend T) (struct{}, error) {
		return struct{}{}, fn(backend)
	})
	return err
}

// ExecuteWithResult runs fn against the group. When every backend is down
// the caller gets the full picture: each backend's failure, labelled with
// its name, joined under [ErrAllFailed]. It is a free function because
// methods cannot introduce the result type parameter.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var failures []error
	for i := range fg.entries {
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback group skipping backend", "backend", entry.name)
		} else {
			slog.Warn("fallback group backend failed", "backend", entry.name, "error", err)
		}
		failures = append(failures, fmt.Errorf("%s: %w", entry.name, err))
	}

	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(failures...))
}
