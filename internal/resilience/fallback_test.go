package resilience

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func twoBackendGroup(cbCfg CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: cbCfg})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroupOrdering(t *testing.T) {
	t.Run("primary healthy", func(t *testing.T) {
		var served string
		err := twoBackendGroup(CircuitBreakerConfig{MaxFailures: 3}).Execute(func(b string) error {
			served = b
			return nil
		})
		if err != nil || served != "primary" {
			t.Fatalf("served=%q err=%v, want primary served", served, err)
		}
	})

	t.Run("primary failing", func(t *testing.T) {
		var served string
		err := twoBackendGroup(CircuitBreakerConfig{MaxFailures: 3}).Execute(func(b string) error {
			if b == "primary" {
				return errBackend
			}
			served = b
			return nil
		})
		if err != nil || served != "secondary" {
			t.Fatalf("served=%q err=%v, want secondary served", served, err)
		}
	})
}

func TestFallbackGroupAllFail(t *testing.T) {
	err := twoBackendGroup(CircuitBreakerConfig{MaxFailures: 3}).Execute(func(string) error {
		return errBackend
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want the backend failure preserved in the chain", err)
	}
	// Every backend's failure is reported, labelled with its name.
	for _, name := range []string{"primary", "secondary"} {
		if !strings.Contains(err.Error(), name+": ") {
			t.Errorf("err %q does not name backend %s", err, name)
		}
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	fg := twoBackendGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	// Trip the primary's breaker; the secondary keeps the group succeeding.
	for range 2 {
		_ = fg.Execute(func(b string) error {
			if b == "primary" {
				return errBackend
			}
			return nil
		})
	}

	primaryCalls := 0
	var served string
	err := fg.Execute(func(b string) error {
		if b == "primary" {
			primaryCalls++
		}
		served = b
		return nil
	})
	if err != nil || served != "secondary" {
		t.Fatalf("served=%q err=%v, want secondary", served, err)
	}
	if primaryCalls != 0 {
		t.Errorf("open primary was invoked %d times", primaryCalls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	t.Run("primary result wins", func(t *testing.T) {
		got, err := ExecuteWithResult(fg, func(v int) (int, error) { return v * 2, nil })
		if err != nil || got != 20 {
			t.Fatalf("got=%d err=%v, want 20 from primary", got, err)
		}
	})

	t.Run("failover result", func(t *testing.T) {
		got, err := ExecuteWithResult(fg, func(v int) (int, error) {
			if v == 10 {
				return 0, errBackend
			}
			return v * 2, nil
		})
		if err != nil || got != 40 {
			t.Fatalf("got=%d err=%v, want 40 from fallback", got, err)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		_, err := ExecuteWithResult(fg, func(int) (int, error) { return 0, errBackend })
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}
