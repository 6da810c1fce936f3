// Package observe provides the observability primitives used across feedbackd:
// OpenTelemetry metrics with a Prometheus bridge, tracing helpers, Sentry
// error reporting and the HTTP middleware that ties them together.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all feedbackd metrics.
const meterName = "github.com/MrWong99/feedbackd"

// Finalize outcomes recorded by [Metrics.RecordFinalize].
const (
	OutcomePersisted        = "persisted"
	OutcomeExtractionFailed = "extraction_failed"
	OutcomePersistFailed    = "persist_failed"
)

// Metrics holds all OpenTelemetry instruments for the application. All
// fields are safe for concurrent use.
type Metrics struct {
	// LLMDuration tracks model latency. Attribute: purpose (reply, empathy, extract).
	LLMDuration metric.Float64Histogram

	// FinalizeDuration tracks the extract+persist sequence end to end.
	FinalizeDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// CompletionChecks counts detector evaluations. Attribute: complete (true/false).
	CompletionChecks metric.Int64Counter

	// Finalizations counts fired finalize sequences by outcome.
	Finalizations metric.Int64Counter

	// FeedbackSaved counts persisted records by source (session, direct).
	FeedbackSaved metric.Int64Counter

	// ActiveSessions tracks the number of open interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bounds in seconds, sized for LLM round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("feedbackd.llm.duration",
		metric.WithDescription("Latency of LLM calls by purpose."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeDuration, err = m.Float64Histogram("feedbackd.finalize.duration",
		metric.WithDescription("Latency of the extract and persist sequence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("feedbackd.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("feedbackd.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CompletionChecks, err = m.Int64Counter("feedbackd.completion.checks",
		metric.WithDescription("Completion detector evaluations by result."),
	); err != nil {
		return nil, err
	}
	if met.Finalizations, err = m.Int64Counter("feedbackd.finalize.total",
		metric.WithDescription("Fired finalize sequences by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackSaved, err = m.Int64Counter("feedbackd.feedback.saved",
		metric.WithDescription("Persisted feedback records by source."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("feedbackd.active_sessions",
		metric.WithDescription("Number of open interview sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("feedbackd.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordLLM records the latency of one model call.
func (m *Metrics) RecordLLM(ctx context.Context, purpose string, d time.Duration) {
	m.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("purpose", purpose)),
	)
}

// RecordCompletionCheck counts one detector evaluation.
func (m *Metrics) RecordCompletionCheck(ctx context.Context, complete bool) {
	m.CompletionChecks.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("complete", complete)),
	)
}

// RecordFinalize counts one fired finalize sequence and its duration.
func (m *Metrics) RecordFinalize(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Finalizations.Add(ctx, 1, attrs)
	m.FinalizeDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFeedbackSaved counts one persisted record.
func (m *Metrics) RecordFeedbackSaved(ctx context.Context, source string) {
	m.FeedbackSaved.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
