// Package health serves the process liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// additionally runs every registered probe (storage reachable, voice gateway
// connected, ...) and answers 503 if any of them reports a problem. Bodies
// are JSON: {"status": "ok"|"fail", "checks": {name: outcome}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeDeadline bounds how long one readiness probe may run.
const probeDeadline = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when the dependency
// is usable and an error describing what is wrong otherwise; it must honour
// ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler answers the two probe endpoints. The probe set is fixed at
// construction; Handler itself carries no mutable state.
type Handler struct {
	probes []Checker
}

// New builds a Handler over the given probes. /readyz evaluates them in the
// order given.
func New(probes ...Checker) *Handler {
	return &Handler{probes: append([]Checker(nil), probes...)}
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe; it unconditionally reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe under its own deadline and reports 503 as soon as
// the aggregate contains a failure. Individual outcomes are always included
// so an operator can see which dependency is down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.probes))}
	code := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeDeadline)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			rep.Checks[p.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		rep.Checks[p.Name] = "ok"
	}

	respond(w, code, rep)
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func respond(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
