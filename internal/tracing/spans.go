package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartReloadSpan creates a span covering one full Load() cycle for a
// module: open, allocate/apply, and publish.
func StartReloadSpan(ctx context.Context, module string, cycleID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "reload",
		trace.WithAttributes(
			attribute.String("reload.module", module),
			attribute.String("reload.cycle_id", cycleID),
		),
	)
}

// StartSegmentAllocateSpan creates a child span for a single segment's
// Allocate call.
func StartSegmentAllocateSpan(ctx context.Context, module string, segmentID uint32, path string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "segment.allocate",
		trace.WithAttributes(
			attribute.String("segment.module", module),
			attribute.Int64("segment.id", int64(segmentID)),
			attribute.String("segment.path", path),
		),
	)
}

// SetReloadAttributes adds outcome attributes to the current reload span.
func SetReloadAttributes(ctx context.Context, generation uint64, segmentsLoaded, segmentsFailed int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int64("reload.generation", int64(generation)),
		attribute.Int("reload.segments_loaded", segmentsLoaded),
		attribute.Int("reload.segments_failed", segmentsFailed),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
