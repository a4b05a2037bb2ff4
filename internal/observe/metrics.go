// Package observe provides application-wide observability primitives for
// the scheduler: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all scheduler metrics.
const meterName = "github.com/MrWong99/xlatesched"

// Metrics holds all OpenTelemetry metric instruments for the scheduler.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// JobDispatchDuration tracks time from CreateJob call to a node
	// accepting the reservation (selection + lock + reserve).
	JobDispatchDuration metric.Float64Histogram

	// JobEndToEndDuration tracks time from job creation to a terminal
	// status (completed or failed), across all failover attempts.
	JobEndToEndDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// JobsCreated counts CreateJob calls. Use with attribute:
	//   attribute.String("status", "ok"|"no_node"|"error")
	JobsCreated metric.Int64Counter

	// JobFailovers counts failover attempts. Use with attribute:
	//   attribute.String("reason", "pending_timeout"|"job_timeout"|"model_not_available"|"node_lost")
	JobFailovers metric.Int64Counter

	// JobsExhausted counts jobs that ran out of failover attempts.
	JobsExhausted metric.Int64Counter

	// NodeRegistrations counts node_register events. Use with attribute:
	//   attribute.String("status", "accepted"|"rejected_no_gpu")
	NodeRegistrations metric.Int64Counter

	// SessionFinalizes counts session-actor finalize events. Use with
	// attribute: attribute.String("reason", "manual"|"auto"|"max_duration"|"exception")
	SessionFinalizes metric.Int64Counter

	// --- Gauges ---

	// ActiveNodes tracks the number of node WebSocket connections currently
	// registered on this instance.
	ActiveNodes metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live session actors on this
	// instance.
	ActiveSessions metric.Int64UpDownCounter

	// PendingJobs tracks jobs in Pending/Assigned/Processing status.
	PendingJobs metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds), tuned for
// sub-second dispatch decisions up through multi-failover worst cases.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.JobDispatchDuration, err = m.Float64Histogram("xlatesched.job.dispatch.duration",
		metric.WithDescription("Latency from CreateJob to a node accepting the reservation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobEndToEndDuration, err = m.Float64Histogram("xlatesched.job.end_to_end.duration",
		metric.WithDescription("Latency from job creation to a terminal status, across all failover attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("xlatesched.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.JobsCreated, err = m.Int64Counter("xlatesched.jobs.created",
		metric.WithDescription("Total CreateJob calls by outcome."),
	); err != nil {
		return nil, err
	}
	if met.JobFailovers, err = m.Int64Counter("xlatesched.jobs.failovers",
		metric.WithDescription("Total failover attempts by reason."),
	); err != nil {
		return nil, err
	}
	if met.JobsExhausted, err = m.Int64Counter("xlatesched.jobs.exhausted",
		metric.WithDescription("Total jobs that exhausted their failover budget."),
	); err != nil {
		return nil, err
	}
	if met.NodeRegistrations, err = m.Int64Counter("xlatesched.nodes.registrations",
		metric.WithDescription("Total node_register events by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionFinalizes, err = m.Int64Counter("xlatesched.sessions.finalizes",
		metric.WithDescription("Total session-actor finalize events by reason."),
	); err != nil {
		return nil, err
	}

	if met.ActiveNodes, err = m.Int64UpDownCounter("xlatesched.nodes.active",
		metric.WithDescription("Number of node connections currently registered on this instance."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("xlatesched.sessions.active",
		metric.WithDescription("Number of live session actors on this instance."),
	); err != nil {
		return nil, err
	}
	if met.PendingJobs, err = m.Int64UpDownCounter("xlatesched.jobs.pending",
		metric.WithDescription("Number of jobs in a non-terminal status."),
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

// RecordJobCreated is a convenience method recording a CreateJob outcome.
func (m *Metrics) RecordJobCreated(ctx context.Context, status string) {
	m.JobsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordJobFailover is a convenience method recording a failover attempt.
func (m *Metrics) RecordJobFailover(ctx context.Context, reason string) {
	m.JobFailovers.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordNodeRegistration is a convenience method recording a node_register
// outcome.
func (m *Metrics) RecordNodeRegistration(ctx context.Context, status string) {
	m.NodeRegistrations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSessionFinalize is a convenience method recording a session actor
// finalize event.
func (m *Metrics) RecordSessionFinalize(ctx context.Context, reason string) {
	m.SessionFinalizes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
