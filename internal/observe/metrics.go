// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped from /metrics. Tests
// should use [NewMetrics] with their own [metric.MeterProvider] instead of
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every neulbom instrument.
const meterName = "github.com/cho1y0/neulbom"

// Metrics holds all metric instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks each turn stage. Attribute: stage.
	StageDuration metric.Float64Histogram

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks reply synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts finished turns. Attributes: mode, outcome.
	Turns metric.Int64Counter

	// FusionDegraded counts turns whose emotion decision is the fallback.
	FusionDegraded metric.Int64Counter

	// ReplyFallbacks counts replies replaced by the apology or the filler.
	// Attribute: reason.
	ReplyFallbacks metric.Int64Counter

	// StoreFailures counts failed persistence attempts.
	StoreFailures metric.Int64Counter

	// RiskTurns counts analysed turns by risk level. Attribute: level.
	RiskTurns metric.Int64Counter

	// ProviderErrors counts collaborator errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// backend, state.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks turns queued or running in the worker pool.
	ActiveJobs metric.Int64UpDownCounter

	// RetainedJobs reports the jobs held for polling, once a source is
	// attached with [Metrics.ObserveJobs]. Attribute: state.
	RetainedJobs metric.Int64ObservableGauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks request latency. Attributes: method,
	// route, status.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPRequests counts requests. Attributes: method, route, status.
	HTTPRequests metric.Int64Counter

	meter metric.Meter
}

// latencyBuckets are histogram boundaries in seconds. Turns include LLM
// calls that can run tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.StageDuration, err = hist("neulbom.turn.stage.duration", "Latency of each turn stage."); err != nil {
		return nil, err
	}
	if met.STTDuration, err = hist("neulbom.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = hist("neulbom.llm.duration", "Latency of reply generation."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = hist("neulbom.tts.duration", "Latency of reply synthesis."); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("neulbom.turns",
		metric.WithDescription("Finished turns by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.FusionDegraded, err = m.Int64Counter("neulbom.fusion.degraded",
		metric.WithDescription("Turns whose emotion decision fell back to unknown."),
	); err != nil {
		return nil, err
	}
	if met.ReplyFallbacks, err = m.Int64Counter("neulbom.reply.fallbacks",
		metric.WithDescription("Replies replaced by a fixed phrase, by reason."),
	); err != nil {
		return nil, err
	}
	if met.StoreFailures, err = m.Int64Counter("neulbom.store.failures",
		metric.WithDescription("Failed persistence attempts."),
	); err != nil {
		return nil, err
	}
	if met.RiskTurns, err = m.Int64Counter("neulbom.risk.turns",
		metric.WithDescription("Analysed turns by risk level."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("neulbom.provider.errors",
		metric.WithDescription("Collaborator errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("neulbom.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveJobs, err = m.Int64UpDownCounter("neulbom.active_jobs",
		metric.WithDescription("Turns queued or running in the worker pool."),
	); err != nil {
		return nil, err
	}

	if met.RetainedJobs, err = m.Int64ObservableGauge("neulbom.jobs.retained",
		metric.WithDescription("Jobs held for polling by state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("neulbom.http.request.duration",
		metric.WithDescription("HTTP request latency by route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequests, err = m.Int64Counter("neulbom.http.requests",
		metric.WithDescription("HTTP requests by route and status class."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records one stage latency in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(Attr("stage", stage)))
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, mode, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode), Attr("outcome", outcome)))
}

// RecordReplyFallback counts a replaced reply.
func (m *Metrics) RecordReplyFallback(ctx context.Context, reason string) {
	m.ReplyFallbacks.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordRisk counts an analysed turn at level.
func (m *Metrics) RecordRisk(ctx context.Context, level string) {
	m.RiskTurns.Add(ctx, 1, metric.WithAttributes(Attr("level", level)))
}

// RecordProviderError counts a collaborator error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordBreaker counts a breaker moving to state.
func (m *Metrics) RecordBreaker(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("backend", backend), Attr("state", state)),
	)
}

// ObserveJobs reports counts as [Metrics.RetainedJobs] on every collection.
// Unregister the returned registration when the source goes away.
func (m *Metrics) ObserveJobs(counts func() (active, done int)) (metric.Registration, error) {
	active := metric.WithAttributes(Attr("state", "active"))
	done := metric.WithAttributes(Attr("state", "done"))
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		a, d := counts()
		o.ObserveInt64(m.RetainedJobs, int64(a), active)
		o.ObserveInt64(m.RetainedJobs, int64(d), done)
		return nil
	}, m.RetainedJobs)
}
