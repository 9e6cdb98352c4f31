// Package observe provides application-wide observability primitives for
// recital: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// from the /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all recital metrics.
const meterName = "github.com/MrWong99/recital"

// Recitation update modes, used as the "mode" attribute.
const (
	ModeStateless = "stateless"
	ModeSession   = "session"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AlignDuration tracks batch alignment latency.
	AlignDuration metric.Float64Histogram

	// ReciteDuration tracks streaming matcher latency. Use with attribute:
	//   attribute.String("mode", ...)
	ReciteDuration metric.Float64Histogram

	// --- Quality ---

	// WER records the word error rate of every alignment.
	WER metric.Float64Histogram

	// --- Counters ---

	// Alignments counts batch alignments. Use with attribute:
	//   attribute.String("endpoint", ...)
	Alignments metric.Int64Counter

	// RecitationUpdates counts matcher passes. Use with attribute:
	//   attribute.String("mode", ...)
	RecitationUpdates metric.Int64Counter

	// TokensRevealed counts reference tokens newly revealed in practice
	// sessions.
	TokensRevealed metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// in-process alignment work, which usually finishes well below a
// millisecond.
var latencyBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1,
}

// werBuckets covers error rates, which exceed 1 when a hypothesis has many
// insertions.
var werBuckets = []float64{
	0, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AlignDuration, err = m.Float64Histogram("recital.align.duration",
		metric.WithDescription("Latency of batch token alignment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReciteDuration, err = m.Float64Histogram("recital.recite.duration",
		metric.WithDescription("Latency of one streaming recitation match pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WER, err = m.Float64Histogram("recital.wer",
		metric.WithDescription("Word error rate of aligned pairs."),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(werBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Alignments, err = m.Int64Counter("recital.alignments",
		metric.WithDescription("Total batch alignments by endpoint."),
	); err != nil {
		return nil, err
	}
	if met.RecitationUpdates, err = m.Int64Counter("recital.recitation.updates",
		metric.WithDescription("Total recitation match passes by mode."),
	); err != nil {
		return nil, err
	}
	if met.TokensRevealed, err = m.Int64Counter("recital.tokens.revealed",
		metric.WithDescription("Reference tokens newly revealed in practice sessions."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("recital.sessions.active",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("recital.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
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

// RecordAlignment records one batch alignment: its latency, its WER, and the
// alignment counter for endpoint.
func (m *Metrics) RecordAlignment(ctx context.Context, endpoint string, took time.Duration, wer float64) {
	m.AlignDuration.Record(ctx, took.Seconds())
	m.WER.Record(ctx, wer)
	m.Alignments.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordRecitation records one matcher pass in the given mode.
func (m *Metrics) RecordRecitation(ctx context.Context, mode string, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.ReciteDuration.Record(ctx, took.Seconds(), attrs)
	m.RecitationUpdates.Add(ctx, 1, attrs)
}

// RecordRevealed adds n newly revealed tokens. Non-positive n is ignored.
func (m *Metrics) RecordRevealed(ctx context.Context, n int) {
	if n > 0 {
		m.TokensRevealed.Add(ctx, int64(n))
	}
}
