package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Request Metrics
	requestDurationSeconds *prometheus.HistogramVec
	requestCounter         *prometheus.CounterVec

	// Tool Metrics
	toolDurationSeconds *prometheus.HistogramVec
	toolCounter         *prometheus.CounterVec

	// Guard Metrics
	guardRejectionCounter *prometheus.CounterVec

	// Catalog Cache Metrics
	cacheHitCounter  *prometheus.CounterVec
	cacheMissCounter *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		requestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentry_request_duration_seconds",
			Help:    "End-to-end duration of router invocations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"intent", "outcome"}),
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_request_total",
			Help: "Total number of router invocations by intent and outcome.",
		}, []string{"intent", "outcome"}),
		toolDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentry_tool_duration_seconds",
			Help:    "Duration of Tier 1 tool executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool", "outcome"}),
		toolCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_tool_total",
			Help: "Total number of Tier 1 tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		guardRejectionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_guard_rejection_total",
			Help: "Total ad-hoc query candidates rejected by the safety guard.",
		}, []string{"reason"}),
		cacheHitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_catalog_cache_hit_total",
			Help: "Total catalog definition cache hits.",
		}, []string{"batch"}),
		cacheMissCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_catalog_cache_miss_total",
			Help: "Total catalog definition cache misses.",
		}, []string{"batch"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.requestDurationSeconds)
	registry.MustRegister(r.requestCounter)
	registry.MustRegister(r.toolDurationSeconds)
	registry.MustRegister(r.toolCounter)
	registry.MustRegister(r.guardRejectionCounter)
	registry.MustRegister(r.cacheHitCounter)
	registry.MustRegister(r.cacheMissCounter)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

func outcomeLabel(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// RecordRequest records one completed router invocation.
func (r *PrometheusRecorder) RecordRequest(ctx context.Context, intent string, duration time.Duration, failed bool) {
	outcome := outcomeLabel(failed)
	r.requestCounter.WithLabelValues(intent, outcome).Inc()
	r.requestDurationSeconds.WithLabelValues(intent, outcome).Observe(duration.Seconds())
	logger.Debugf("Metrics: request intent=%s outcome=%s duration=%.3fs", intent, outcome, duration.Seconds())
}

// RecordToolCall records one Tier 1 tool execution.
func (r *PrometheusRecorder) RecordToolCall(ctx context.Context, tool string, duration time.Duration, failed bool) {
	outcome := outcomeLabel(failed)
	r.toolCounter.WithLabelValues(tool, outcome).Inc()
	r.toolDurationSeconds.WithLabelValues(tool, outcome).Observe(duration.Seconds())
}

// RecordGuardRejection records a Tier 2 candidate rejected by the guard.
func (r *PrometheusRecorder) RecordGuardRejection(ctx context.Context, reason string) {
	r.guardRejectionCounter.WithLabelValues(reason).Inc()
}

// RecordCacheHit records a catalog cache hit.
func (r *PrometheusRecorder) RecordCacheHit(ctx context.Context, name string) {
	r.cacheHitCounter.WithLabelValues(name).Inc()
}

// RecordCacheMiss records a catalog cache miss.
func (r *PrometheusRecorder) RecordCacheMiss(ctx context.Context, name string) {
	r.cacheMissCounter.WithLabelValues(name).Inc()
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
