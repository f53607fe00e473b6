package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func probeReadyz(t *testing.T, h *Handler) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	return rec.Code, rep
}

func alwaysOK(_ context.Context) error { return nil }

func TestHealthzAlwaysOK(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q", rep.Status)
	}
}

func TestReadyzAggregatesProbes(t *testing.T) {
	t.Run("all pass", func(t *testing.T) {
		code, rep := probeReadyz(t, New(
			Checker{Name: "storage", Check: alwaysOK},
			Checker{Name: "voice_gateway", Check: alwaysOK},
		))
		if code != http.StatusOK || rep.Status != "ok" {
			t.Fatalf("code=%d status=%q, want 200 ok", code, rep.Status)
		}
		if rep.Checks["storage"] != "ok" || rep.Checks["voice_gateway"] != "ok" {
			t.Errorf("checks = %v", rep.Checks)
		}
	})

	t.Run("one fails", func(t *testing.T) {
		code, rep := probeReadyz(t, New(
			Checker{Name: "storage", Check: func(_ context.Context) error {
				return errors.New("connection refused")
			}},
			Checker{Name: "voice_gateway", Check: alwaysOK},
		))
		if code != http.StatusServiceUnavailable || rep.Status != "fail" {
			t.Fatalf("code=%d status=%q, want 503 fail", code, rep.Status)
		}
		if rep.Checks["storage"] != "fail: connection refused" {
			t.Errorf("storage = %q", rep.Checks["storage"])
		}
		if rep.Checks["voice_gateway"] != "ok" {
			t.Errorf("healthy probe was not reported alongside the failing one: %v", rep.Checks)
		}
	})

	t.Run("no probes registered", func(t *testing.T) {
		code, rep := probeReadyz(t, New())
		if code != http.StatusOK || rep.Status != "ok" {
			t.Fatalf("code=%d status=%q, want 200 ok", code, rep.Status)
		}
	})
}

func TestRegisterMountsBothRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "storage", Check: alwaysOK}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestReadyzPropagatesRequestCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
