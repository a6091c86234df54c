package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mwolters/parlo/internal/health"
)

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, h *health.Handler, path string) (int, report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var rep report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return rec.Code, rep
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New(health.Check{
		Name:  "broken",
		Probe: func(context.Context) error { return errors.New("down") },
	})
	code, rep := get(t, h, "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz: got %d %+v", code, rep)
	}
}

func TestReadyz_AllPassing(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Check{Name: "postgres", Probe: func(context.Context) error { return nil }},
		health.Check{Name: "providers", Probe: func(context.Context) error { return nil }},
	)
	code, rep := get(t, h, "/readyz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Fatalf("readyz: got %d %+v", code, rep)
	}
	if rep.Checks["postgres"] != "ok" || rep.Checks["providers"] != "ok" {
		t.Errorf("checks: got %+v", rep.Checks)
	}
}

func TestReadyz_OneFailing(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Check{Name: "postgres", Probe: func(context.Context) error { return errors.New("connection refused") }},
		health.Check{Name: "providers", Probe: func(context.Context) error { return nil }},
	)
	code, rep := get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || rep.Status != "fail" {
		t.Fatalf("readyz: got %d %+v", code, rep)
	}
	if rep.Checks["postgres"] != "fail: connection refused" {
		t.Errorf("postgres check: got %q", rep.Checks["postgres"])
	}
	if rep.Checks["providers"] != "ok" {
		t.Errorf("providers check: got %q", rep.Checks["providers"])
	}
}

func TestReadyz_NoChecks(t *testing.T) {
	t.Parallel()

	code, rep := get(t, health.New(), "/readyz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("readyz with no checks: got %d %+v", code, rep)
	}
}

func TestReadyz_ProbeSeesCancellation(t *testing.T) {
	t.Parallel()

	probed := make(chan struct{}, 1)
	h := health.New(health.Check{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			probed <- struct{}{}
			if ctx.Done() == nil {
				return errors.New("probe context is not cancellable")
			}
			return nil
		},
	})
	code, _ := get(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("readyz: got %d", code)
	}
	<-probed
}
