// Package observe provides application-wide observability primitives for
// voiceintake: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voiceintake metrics.
const meterName = "github.com/MrWong99/voiceintake"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// SinkDuration tracks how long a record sink takes to persist a record.
	SinkDuration metric.Float64Histogram

	// --- Dialogue counters ---

	// Turns counts engine transitions. Use with attributes:
	//   attribute.String("slot", ...), attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// Rejections counts validator rejections. Use with attribute:
	//   attribute.String("slot", ...)
	Rejections metric.Int64Counter

	// Dialogues counts finished dialogues. Use with attributes:
	//   attribute.String("schema", ...), attribute.String("result", ...)
	Dialogues metric.Int64Counter

	// --- Collaborators ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SinkRecords counts record hand-offs. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	SinkRecords metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of calls with a live dialogue.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// matched route and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). A Twilio
// webhook times out after 15 s, so nothing beyond that is interesting.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("voiceintake.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SinkDuration, err = m.Float64Histogram("voiceintake.sink.duration",
		metric.WithDescription("Latency of persisting a completed record."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Dialogue counters.
	if met.Turns, err = m.Int64Counter("voiceintake.dialogue.turns",
		metric.WithDescription("Dialogue turns by slot and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Rejections, err = m.Int64Counter("voiceintake.dialogue.rejections",
		metric.WithDescription("Validator rejections by slot."),
	); err != nil {
		return nil, err
	}
	if met.Dialogues, err = m.Int64Counter("voiceintake.dialogue.finished",
		metric.WithDescription("Finished dialogues by schema and result."),
	); err != nil {
		return nil, err
	}

	// Collaborator counters.
	if met.ProviderRequests, err = m.Int64Counter("voiceintake.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voiceintake.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SinkRecords, err = m.Int64Counter("voiceintake.sink.records",
		metric.WithDescription("Completed records handed to a sink by sink and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voiceintake.active_calls",
		metric.WithDescription("Number of calls with a live dialogue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceintake.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn counts one dialogue transition.
func (m *Metrics) RecordTurn(ctx context.Context, slot, outcome string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("slot", slot),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordRejection counts one validator rejection.
func (m *Metrics) RecordRejection(ctx context.Context, slot string) {
	m.Rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("slot", slot)))
}

// RecordDialogue counts a finished dialogue. result is one of "complete",
// "abandoned", "gave_up" or "expired".
func (m *Metrics) RecordDialogue(ctx context.Context, schema, result string) {
	m.Dialogues.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("schema", schema),
			attribute.String("result", result),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSink counts one record hand-off to sink.
func (m *Metrics) RecordSink(ctx context.Context, sink, status string) {
	m.SinkRecords.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}
