// Package observe bundles the observability surface of the Parlo server:
// OpenTelemetry metric instruments, tracing helpers, and the HTTP middleware
// that wires both into request handling.
//
// All instruments go through the OpenTelemetry Metrics API and surface to
// Prometheus through the exporter bridge set up by [InitProvider]. Production
// code shares the process-wide [DefaultMetrics] instance; tests construct
// their own via [NewMetrics] with a manual-reader provider so collected data
// stays isolated per test.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parlo metrics.
const meterName = "github.com/mwolters/parlo"

// latencyBuckets holds histogram boundaries in seconds, spanning the 10 ms
// to 10 s range voice pipeline stages land in.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds every instrument the server records into. The OTel types are
// internally synchronized, so one Metrics value is shared freely across
// goroutines.
type Metrics struct {
	// STTDuration, ChatDuration and TTSDuration measure the latency of one
	// capability call each; TurnDuration measures a whole turn, audio in to
	// audio out.
	STTDuration  metric.Float64Histogram
	ChatDuration metric.Float64Histogram
	TTSDuration  metric.Float64Histogram
	TurnDuration metric.Float64Histogram

	// Turns counts finished turns, attributed by status ("ok" or a fault
	// code). ProviderErrors counts capability failures, attributed by stage
	// ("stt", "chat", "tts"). Prefer [Metrics.RecordTurn] and
	// [Metrics.RecordProviderError] over adding to these directly.
	Turns          metric.Int64Counter
	ProviderErrors metric.Int64Counter

	// ActiveSessions and ActiveConnections are live gauges over sessions in
	// the store and open streaming connections.
	ActiveSessions    metric.Int64UpDownCounter
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration measures request handling time, attributed by
	// method and path. Recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// instruments accumulates creation errors so NewMetrics can register its
// whole instrument set without an error check per call.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return g
}

func (b *instruments) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

// NewMetrics registers all Parlo instruments against mp and returns them.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}

	m := &Metrics{
		STTDuration:  b.latency("parlo.stt.duration", "Latency of speech recognition."),
		ChatDuration: b.latency("parlo.chat.duration", "Latency of chat completion."),
		TTSDuration:  b.latency("parlo.tts.duration", "Latency of speech synthesis."),
		TurnDuration: b.latency("parlo.turn.duration", "End-to-end turn latency from audio in to audio out."),

		Turns:          b.counter("parlo.turns", "Total processed turns by status."),
		ProviderErrors: b.counter("parlo.provider.errors", "Total capability failures by pipeline stage."),

		ActiveSessions:    b.gauge("parlo.active_sessions", "Number of live conversation sessions."),
		ActiveConnections: b.gauge("parlo.active_connections", "Number of open streaming connections."),

		HTTPRequestDuration: b.histogram("parlo.http.request.duration", "HTTP request latency by method and path."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared process-wide [Metrics], creating it
// against the global meter provider on first use. It panics if instrument
// registration fails, which the global provider never does.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr shortens [attribute.String] at metric call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn counts one finished turn with its outcome status, "ok" or a
// fault code.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordProviderError counts one capability failure for the given stage.
func (m *Metrics) RecordProviderError(ctx context.Context, stage string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
}
