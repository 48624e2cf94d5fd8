// Package observe provides the client runtime's observability primitives:
// OpenTelemetry metrics and the SDK provider bootstrap.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so the demo command can
// expose the standard scrape endpoint. A package-level default [Metrics]
// instance ([Default]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name for all Sonara client metrics.
const meterName = "github.com/sonara-ai/sonara-go"

// Metrics holds all OpenTelemetry metric instruments for the client runtime.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks the time from turn commit to playback finished.
	TurnDuration metric.Float64Histogram

	// HandshakeDuration tracks connect + authenticate + configure latency.
	HandshakeDuration metric.Float64Histogram

	// --- Counters ---

	// Requests counts transport requests. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Requests metric.Int64Counter

	// DecodeDrops counts audio batches dropped as undecodable.
	DecodeDrops metric.Int64Counter

	// Interruptions counts user barge-ins.
	Interruptions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("sonara.turn.duration",
		metric.WithDescription("Time from turn commit to playback finished."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("sonara.handshake.duration",
		metric.WithDescription("Session connect and handshake latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Requests, err = m.Int64Counter("sonara.requests",
		metric.WithDescription("Transport requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.DecodeDrops, err = m.Int64Counter("sonara.playback.decode_drops",
		metric.WithDescription("Audio batches dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("sonara.interruptions",
		metric.WithDescription("User barge-ins."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("sonara.sessions.active",
		metric.WithDescription("Live conversation sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordRequest increments the request counter with kind and status
// attributes.
func (m *Metrics) RecordRequest(ctx context.Context, kind, status string) {
	m.Requests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		))
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics instance built from the global
// meter provider. Instrument creation errors fall back to no-op instruments,
// so Default never fails.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
