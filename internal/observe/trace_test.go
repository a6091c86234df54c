package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanCtx returns a context carrying a live span recorded into an in-memory
// exporter.
func spanCtx(t *testing.T) (context.Context, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "test-span")
	t.Cleanup(func() { span.End() })
	return ctx, exp
}

// captureLog redirects the default slog logger into a buffer until the test
// ends.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationID_ReturnsTraceID(t *testing.T) {
	ctx, _ := spanCtx(t)

	cid := CorrelationID(ctx)
	if len(cid) != 32 || !isHex(cid) {
		t.Errorf("correlation ID = %q, want 32 lowercase hex characters", cid)
	}
}

func TestStartSpan_CreatesSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "turn.process")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan returned a context without a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "turn.process" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "turn.process")
	}
}

func TestLogger_IncludesTraceID(t *testing.T) {
	ctx, _ := spanCtx(t)
	buf := captureLog(t)

	Logger(ctx).Info("test message")

	out := buf.String()
	for _, key := range []string{"trace_id=", "span_id="} {
		if !strings.Contains(out, key) {
			t.Errorf("log output missing %s, got: %s", key, out)
		}
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("test message")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log output should not contain trace_id, got: %s", out)
	}
}
