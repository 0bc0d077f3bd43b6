// Package observe provides the chat server's observability primitives:
// OpenTelemetry metrics, a Prometheus exporter bridge and HTTP middleware.
//
// Tests should build their own [Metrics] with [NewMetrics] over a
// [sdkmetric.ManualReader] instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all audipro metrics.
const meterName = "github.com/nadzzz/audipro"

// Request outcomes used as the "status" attribute.
const (
	StatusOK          = "ok"
	StatusBadRequest  = "bad_request"
	StatusUnsupported = "unsupported"
	StatusError       = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the chat server.
type Metrics struct {
	// ChatRequests counts handled chat requests. Attributes:
	//   transport, kind (text|audio), status
	ChatRequests metric.Int64Counter

	// StageDuration tracks backend latency per pipeline stage. Attributes:
	//   backend, stage (transcribe|reply)
	StageDuration metric.Float64Histogram

	// BackendErrors counts failed backend calls. Attributes:
	//   backend, stage
	BackendErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path, status
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for LLM and
// transcription round trips.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChatRequests, err = m.Int64Counter("audipro.chat.requests",
		metric.WithDescription("Chat requests by transport, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("audipro.stage.duration",
		metric.WithDescription("Latency of interpreter stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("audipro.backend.errors",
		metric.WithDescription("Failed interpreter calls by backend and stage."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("audipro.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider]. Call it after [InitProvider].
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

// RecordRequest counts one handled chat request.
func (m *Metrics) RecordRequest(ctx context.Context, transport, kind, status string) {
	m.ChatRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordStage records the latency of one backend stage and counts it as an
// error when err is non-nil.
func (m *Metrics) RecordStage(ctx context.Context, backend, stage string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("stage", stage),
	)
	m.StageDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.BackendErrors.Add(ctx, 1, attrs)
	}
}
