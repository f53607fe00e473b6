// Package resilience provides the failure-shielding primitives the pipeline
// wraps around remote services: bounded exponential-backoff retry, a
// three-state circuit breaker, provider failover groups built from it, and a
// supervised reconnect loop for the upstream voice connection.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a [CircuitBreaker] operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout has elapsed since the last failure.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. One success
	// closes the breaker; one failure re-opens it.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields fall back to
// defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker open.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker rejects calls before probing
	// again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds concurrent probe calls in the half-open state.
	// Default 1.
	HalfOpenMax int
}

// CircuitBreaker guards one named downstream. It trips open after
// MaxFailures consecutive failures, rejects calls for ResetTimeout, then
// probes with up to HalfOpenMax in-flight calls until one succeeds.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu          sync.Mutex
	state       State
	failStreak  int
	lastFailure time.Time
	probes      int
}

// NewCircuitBreaker builds a breaker from cfg, substituting defaults for
// zero fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn unless the breaker rejects it. The wrapped operation is
// never invoked while the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.settle(probing, err)
	return err
}

// admit decides whether a call may proceed, performing the open→half-open
// transition when the reset timeout has elapsed. It reports whether the
// admitted call counts against the half-open probe budget.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		slog.Info("circuit breaker probing", "name", cb.name)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probing bool, callErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case callErr == nil && probing:
		// First successful probe heals the breaker completely.
		cb.state = StateClosed
		cb.failStreak = 0
		cb.probes = 0
		slog.Info("circuit breaker closed", "name", cb.name)

	case callErr == nil:
		cb.failStreak = 0

	case probing:
		cb.lastFailure = time.Now()
		cb.state = StateOpen
		cb.failStreak = cb.maxFailures
		slog.Warn("circuit breaker re-opened", "name", cb.name)

	default:
		cb.lastFailure = time.Now()
		cb.failStreak++
		if cb.failStreak >= cb.maxFailures && cb.state == StateClosed {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.failStreak)
		}
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports half-open even though the transition itself happens on the
// next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failStreak = 0
	cb.probes = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
