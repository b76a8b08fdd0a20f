package metrics

import (
	"context"
	"time"
)

// MetricRecorder is an abstract interface for recording metrics related to
// query orchestration. It provides a standardized way to record request,
// tool, guard, and cache events so different backends (e.g., Prometheus)
// can be plugged in without touching the orchestration code.
type MetricRecorder interface {
	// RecordRequest records one completed router invocation.
	//
	// ctx: The context for the operation.
	// intent: The classified intent the request routed through.
	// duration: End-to-end handling time.
	// failed: Whether the terminal response described an error.
	RecordRequest(ctx context.Context, intent string, duration time.Duration, failed bool)

	// RecordToolCall records one Tier 1 tool execution.
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, failed bool)

	// RecordGuardRejection records a Tier 2 candidate rejected by the guard.
	RecordGuardRejection(ctx context.Context, reason string)

	// RecordCacheHit records a catalog cache hit for the given canonical name.
	RecordCacheHit(ctx context.Context, name string)

	// RecordCacheMiss records a catalog cache miss for the given canonical name.
	RecordCacheMiss(ctx context.Context, name string)
}

// Tracer is an abstract interface for distributed tracing of router state
// transitions. It enables visualization of the per-request state machine
// flow in systems like OpenTelemetry.
type Tracer interface {
	// StartSpan starts a span for one router state or tool execution.
	//
	// ctx: The parent context.
	// name: The span name (e.g., "router.CLASSIFY", "tools.get_batch_status").
	//
	// Returns: A context with the new span set, and a function to end the span.
	//          It is recommended to call the returned function in a defer statement.
	StartSpan(ctx context.Context, name string) (context.Context, func())

	// RecordError records an error in the current span.
	RecordError(ctx context.Context, component string, err error)
}
