package metrics

import (
	"context"
	"time"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordRequest does nothing.
func (r *NoOpMetricRecorder) RecordRequest(ctx context.Context, intent string, duration time.Duration, failed bool) {
}

// RecordToolCall does nothing.
func (r *NoOpMetricRecorder) RecordToolCall(ctx context.Context, tool string, duration time.Duration, failed bool) {
}

// RecordGuardRejection does nothing.
func (r *NoOpMetricRecorder) RecordGuardRejection(ctx context.Context, reason string) {}

// RecordCacheHit does nothing.
func (r *NoOpMetricRecorder) RecordCacheHit(ctx context.Context, name string) {}

// RecordCacheMiss does nothing.
func (r *NoOpMetricRecorder) RecordCacheMiss(ctx context.Context, name string) {}

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartSpan returns the context unchanged and a no-op end function.
func (t *NoOpTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, component string, err error) {}
