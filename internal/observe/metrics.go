// Package observe ties together the assistant's telemetry: OpenTelemetry
// instruments ([Metrics]), session-aware spans and loggers ([StartSpan],
// [Logger]) and the HTTP [Middleware]. [InitProvider] bridges the metrics to
// Prometheus for /metrics. Tests should build their own [Metrics] with
// [NewMetrics] on a private MeterProvider.
package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxassist"

// Metrics holds the application's OpenTelemetry instruments. The
// instruments are safe for concurrent use. Attribute keys are noted per
// field; the Record helpers below set them.
type Metrics struct {
	ClassifyDuration metric.Float64Histogram // status
	LLMDuration      metric.Float64Histogram

	ProviderRequests    metric.Int64Counter // provider, kind, status
	ProviderErrors      metric.Int64Counter // provider, kind
	CacheLookups        metric.Int64Counter // scope (session|shared), result (hit|miss)
	Dispatches          metric.Int64Counter // type
	RecognitionRestarts metric.Int64Counter // reason

	// Utterances counts final transcripts by outcome: classified, cached,
	// duplicate, toggle or ignored.
	Utterances metric.Int64Counter

	// ActiveSessions is the number of running assistant sessions.
	ActiveSessions metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram // method, path (route pattern)
}

// latencyBuckets are histogram boundaries in seconds, sized for LLM
// round-trips.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// instruments creates instruments on one meter and keeps the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) keep(err error) {
	if in.err == nil && err != nil {
		in.err = err
	}
}

func (in *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.keep(err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.keep(err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.keep(err)
	return g
}

// NewMetrics creates every instrument on mp. It fails if any instrument
// cannot be created.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		ClassifyDuration: in.seconds("voxassist.classify.duration", "Latency of utterance classification.", latencyBuckets...),
		LLMDuration:      in.seconds("voxassist.llm.duration", "Latency of LLM completions.", latencyBuckets...),

		ProviderRequests:    in.counter("voxassist.provider.requests", "Provider API requests by provider, kind and status."),
		CacheLookups:        in.counter("voxassist.cache.lookups", "Command cache lookups by scope and result."),
		Dispatches:          in.counter("voxassist.dispatches", "URLs opened by command type."),
		RecognitionRestarts: in.counter("voxassist.recognition.restarts", "Scheduled recognition re-arms by reason."),
		Utterances:          in.counter("voxassist.utterances", "Finalised transcripts by outcome."),
		ProviderErrors:      in.counter("voxassist.provider.errors", "Provider errors by provider and kind."),

		ActiveSessions: in.gauge("voxassist.active_sessions", "Number of live voice sessions."),

		HTTPRequestDuration: in.seconds("voxassist.http.request.duration", "HTTP request latency by method and route."),
	}
	if in.err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", in.err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] bound to
// [otel.GetMeterProvider] at first use. Call [InitProvider] before it so the
// instruments reach the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// labels builds a measurement option from alternating keys and values.
func labels(kv ...string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(attrs...)
}

// RecordClassification records one classification with its latency.
func (m *Metrics) RecordClassification(ctx context.Context, d time.Duration, status string) {
	m.ClassifyDuration.Record(ctx, d.Seconds(), labels("status", status))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, labels("provider", provider, "kind", kind, "status", status))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, labels("provider", provider, "kind", kind))
}

// RecordCacheLookup records a cache hit or miss for scope.
func (m *Metrics) RecordCacheLookup(ctx context.Context, scope string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, labels("scope", scope, "result", result))
}

// RecordDispatch records an opened URL for a command type.
func (m *Metrics) RecordDispatch(ctx context.Context, commandType string) {
	m.Dispatches.Add(ctx, 1, labels("type", commandType))
}

// RecordRecognitionRestart records a scheduled re-arm.
func (m *Metrics) RecordRecognitionRestart(ctx context.Context, reason string) {
	m.RecognitionRestarts.Add(ctx, 1, labels("reason", reason))
}

// RecordUtterance records a final transcript outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, labels("outcome", outcome))
}
