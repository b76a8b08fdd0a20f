package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	metrics "github.com/tigerroll/sentry/pkg/sentry/core/metrics"
)

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Span export is the host application's concern; without a configured SDK the
// global provider is a no-op and spans cost nothing.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer() metrics.Tracer {
	return &OpenTelemetryTracer{
		tracer: otel.Tracer("github.com/tigerroll/sentry"),
	}
}

// StartSpan starts a span for one router state or tool execution.
func (t *OpenTelemetryTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	spanCtx, span := t.tracer.Start(ctx, name)
	return spanCtx, func() { span.End() }
}

// RecordError records an error on the span carried by ctx, if any.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, component string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("component", component)))
	span.SetStatus(codes.Error, err.Error())
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
