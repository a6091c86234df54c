package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps an [http.Handler] with the observability surface every
// Parlo endpoint shares: it joins the W3C trace context from the incoming
// headers (starting a fresh trace when there is none), runs the request
// inside a server span, echoes the trace id back in the X-Correlation-ID
// header, times the request into [Metrics.HTTPRequestDuration], and logs a
// completion line.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &instrumentedHandler{next: next, metrics: m}
	}
}

type instrumentedHandler struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TraceContext
}

func (h *instrumentedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := h.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	h.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(ww, r.WithContext(ctx))

	elapsed := time.Since(start)
	h.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(Attr("method", r.Method), Attr("path", r.URL.Path)),
	)
	span.SetAttributes(semconv.HTTPResponseStatusCode(ww.status))

	slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", ww.status),
		slog.Duration("duration", elapsed),
	)
}

// statusWriter remembers the status code the downstream handler wrote so the
// middleware can attach it to the span and the log line.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
