package resilience

import (
	"context"
	"log/slog"
	"time"
)

// RetryConfig configures [Retry]'s exponential backoff schedule.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay. Default: 60s.
	MaxDelay time.Duration

	// ExponentialBase is the multiplier applied per retry. Default: 2.
	ExponentialBase float64

	// OnRetry, if set, is invoked with the zero-based attempt index and the
	// error that triggered the retry, before the backoff sleep.
	OnRetry func(attempt int, err error)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.ExponentialBase <= 0 {
		c.ExponentialBase = 2
	}
	return c
}

// Retry runs op until it succeeds or cfg.MaxAttempts is exhausted, sleeping
// between attempts for min(BaseDelay * ExponentialBase^attempt, MaxDelay).
// It returns ctx.Err() immediately if ctx is cancelled while waiting, and
// the last error from op if every attempt fails.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		slog.Warn("retry: attempt failed",
			"attempt", attempt+1,
			"max_attempts", cfg.MaxAttempts,
			"error", lastErr,
			"delay", delay,
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.ExponentialBase)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
