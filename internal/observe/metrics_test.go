package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// harness pairs a Metrics instance with the manual reader its data can be
// pulled back out of.
type harness struct {
	t      *testing.T
	m      *Metrics
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &harness{t: t, m: m, reader: reader}
}

// snapshot collects everything recorded so far, keyed by instrument name.
func (h *harness) snapshot() map[string]metricdata.Metrics {
	h.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		h.t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			out[met.Name] = met
		}
	}
	return out
}

// histogramCount returns the sample count of the named histogram.
func histogramCount(t *testing.T, snap map[string]metricdata.Metrics, name string) uint64 {
	t.Helper()
	met, ok := snap[name]
	if !ok {
		t.Fatalf("instrument %q not recorded", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("instrument %q is not a populated histogram", name)
	}
	return hist.DataPoints[0].Count
}

// sumValue returns the value of the named int64 sum, optionally filtered by
// one string attribute.
func sumValue(t *testing.T, snap map[string]metricdata.Metrics, name, attrKey, attrVal string) int64 {
	t.Helper()
	met, ok := snap[name]
	if !ok {
		t.Fatalf("instrument %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("instrument %q is not a populated sum", name)
	}
	if attrKey == "" {
		return sum.DataPoints[0].Value
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(attrKey)); ok && v.AsString() == attrVal {
			return dp.Value
		}
	}
	t.Fatalf("instrument %q has no data point with %s=%s", name, attrKey, attrVal)
	return 0
}

func TestStageHistograms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stages := map[string]metric.Float64Histogram{
		"parlo.stt.duration":  h.m.STTDuration,
		"parlo.chat.duration": h.m.ChatDuration,
		"parlo.tts.duration":  h.m.TTSDuration,
		"parlo.turn.duration": h.m.TurnDuration,
	}
	for _, hist := range stages {
		hist.Record(ctx, 0.1)
		hist.Record(ctx, 0.9)
	}

	snap := h.snapshot()
	for name := range stages {
		if got := histogramCount(t, snap, name); got != 2 {
			t.Errorf("%s: sample count = %d, want 2", name, got)
		}
	}
}

func TestTurnCounterSplitsByStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.RecordTurn(ctx, "ok")
	h.m.RecordTurn(ctx, "ok")
	h.m.RecordTurn(ctx, "speech_recognition_failed")

	snap := h.snapshot()
	if got := sumValue(t, snap, "parlo.turns", "status", "ok"); got != 2 {
		t.Errorf("turns{status=ok} = %d, want 2", got)
	}
	if got := sumValue(t, snap, "parlo.turns", "status", "speech_recognition_failed"); got != 1 {
		t.Errorf("turns{status=speech_recognition_failed} = %d, want 1", got)
	}
}

func TestProviderErrorCounter(t *testing.T) {
	h := newHarness(t)
	h.m.RecordProviderError(context.Background(), "tts")

	if got := sumValue(t, h.snapshot(), "parlo.provider.errors", "stage", "tts"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestGaugesTrackUpAndDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.m.ActiveSessions.Add(ctx, 1)
	h.m.ActiveSessions.Add(ctx, 1)
	h.m.ActiveConnections.Add(ctx, 3)
	h.m.ActiveConnections.Add(ctx, -1)

	snap := h.snapshot()
	if got := sumValue(t, snap, "parlo.active_sessions", "", ""); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
	if got := sumValue(t, snap, "parlo.active_connections", "", ""); got != 2 {
		t.Errorf("active connections = %d, want 2", got)
	}
}

func TestHTTPRequestHistogram(t *testing.T) {
	h := newHarness(t)

	h.m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(Attr("method", "GET"), Attr("path", "/healthz")),
	)

	if got := histogramCount(t, h.snapshot(), "parlo.http.request.duration"); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
