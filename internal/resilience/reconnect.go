package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pollInterval is the fixed cadence at which [Reconnector] checks
// IsConnected.
const pollInterval = 5 * time.Second

// ReconnectConfig configures a [Reconnector]'s backoff schedule once a
// disconnect has been observed.
type ReconnectConfig struct {
	// Connect (re-)establishes the underlying resource.
	Connect func(ctx context.Context) error

	// Disconnect tears the resource down. Called once from Stop.
	Disconnect func() error

	// IsConnected reports whether the resource is currently healthy. Polled
	// every 5 seconds by the monitor goroutine.
	IsConnected func() bool

	// MaxAttempts bounds one reconnect cycle. Default: 10.
	MaxAttempts int

	// BaseDelay is the first backoff delay. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Default: 120s.
	MaxDelay time.Duration

	// ExponentialBase is the backoff multiplier. Default: 2.
	ExponentialBase float64

	// Name labels log lines for this Reconnector.
	Name string
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 120 * time.Second
	}
	if c.ExponentialBase <= 0 {
		c.ExponentialBase = 2
	}
	return c
}

// Reconnector supervises a connect/disconnect/is-connected lifecycle. Start
// performs the initial connect and launches a monitor goroutine that polls
// IsConnected every 5 seconds; on a detected drop it runs an
// exponential-backoff reconnect loop. Stop cancels the monitor and
// disconnects exactly once, even under concurrent or repeated calls.
//
// Reconnector is safe for concurrent use.
type Reconnector struct {
	cfg ReconnectConfig

	done     chan struct{}
	stopOnce sync.Once
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectConfig) *Reconnector {
	cfg = cfg.withDefaults()
	return &Reconnector{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start connects and begins monitoring in a background goroutine.
func (r *Reconnector) Start(ctx context.Context) error {
	if err := r.cfg.Connect(ctx); err != nil {
		return err
	}
	go r.monitorLoop(ctx)
	return nil
}

// Stop halts monitoring and disconnects. Safe to call more than once,
// including on a Reconnector that was never started.
func (r *Reconnector) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.done)
		if r.cfg.Disconnect != nil {
			err = r.cfg.Disconnect()
		}
	})
	return err
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if !r.cfg.IsConnected() {
				slog.Warn("reconnector: disconnect detected", "name", r.cfg.Name)
				r.attemptReconnect(ctx)
			}
		}
	}
}

func (r *Reconnector) attemptReconnect(ctx context.Context) {
	delay := r.cfg.BaseDelay
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		if err := r.cfg.Connect(ctx); err == nil && r.cfg.IsConnected() {
			slog.Info("reconnector: reconnected",
				"name", r.cfg.Name, "attempt", attempt+1)
			return
		} else if err != nil {
			slog.Warn("reconnector: attempt failed",
				"name", r.cfg.Name,
				"attempt", attempt+1,
				"max_attempts", r.cfg.MaxAttempts,
				"error", err,
				"delay", delay,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * r.cfg.ExponentialBase)
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
	slog.Error("reconnector: failed to reconnect after max attempts",
		"name", r.cfg.Name, "max_attempts", r.cfg.MaxAttempts)
}
