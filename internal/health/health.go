// Package health serves the liveness and readiness probes of the Parlo
// server.
//
// GET /healthz reports liveness and always answers 200: a process that can
// serve the request is alive. GET /readyz runs every registered [Check]
// against its dependency and answers 503 as soon as one fails. Both respond
// with a JSON body of the form:
//
//	{"status": "ok", "checks": {"postgres": "ok"}}
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Check probes one dependency of the server.
type Check struct {
	// Name labels the dependency in the /readyz response (e.g. "postgres").
	Name string

	// Probe returns nil when the dependency can serve traffic. It must
	// respect context cancellation.
	Probe func(ctx context.Context) error
}

// Handler answers the probe endpoints. The check set is fixed at
// construction; construct with [New] and mount with [Handler.Register].
type Handler struct {
	checks []Check
}

// New creates a Handler over the given dependency checks.
func New(checks ...Check) *Handler {
	return &Handler{checks: append([]Check(nil), checks...)}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

// probeReport is the JSON body of both probe endpoints.
type probeReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, probeReport{Status: "ok"})
}

// readyz runs all probes concurrently, each under its own timeout, and
// aggregates the outcomes. Any failed probe makes the whole response 503.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]string, len(h.checks))

	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			if err := c.Probe(ctx); err != nil {
				outcomes[i] = "fail: " + err.Error()
			} else {
				outcomes[i] = "ok"
			}
		}()
	}
	wg.Wait()

	report := probeReport{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for i, c := range h.checks {
		report.Checks[c.Name] = outcomes[i]
		if outcomes[i] != "ok" {
			report.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}
	writeReport(w, status, report)
}

func writeReport(w http.ResponseWriter, status int, report probeReport) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
