package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	})
	return exporter
}

func TestStartReloadSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartReloadSpan(context.Background(), "urlprefs", "cycle-1")
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected valid span in context")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "reload" {
		t.Errorf("expected span name 'reload', got %q", spans[0].Name)
	}

	found := map[string]bool{}
	for _, attr := range spans[0].Attributes {
		found[string(attr.Key)] = true
	}
	if !found["reload.module"] || !found["reload.cycle_id"] {
		t.Error("expected reload.module and reload.cycle_id attributes")
	}
}

func TestStartSegmentAllocateSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartSegmentAllocateSpan(context.Background(), "urlprefs", 7, "/etc/urlprefs.d/user-7")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "segment.allocate" {
		t.Errorf("expected span name 'segment.allocate', got %q", spans[0].Name)
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	if attrs["segment.id"] != int64(7) {
		t.Errorf("expected segment.id 7, got %v", attrs["segment.id"])
	}
}

func TestSetReloadAttributes(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	SetReloadAttributes(ctx, 42, 3, 1)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	if attrs["reload.generation"] != int64(42) {
		t.Errorf("expected reload.generation 42, got %v", attrs["reload.generation"])
	}
	if attrs["reload.segments_loaded"] != int64(3) {
		t.Errorf("expected reload.segments_loaded 3, got %v", attrs["reload.segments_loaded"])
	}
	if attrs["reload.segments_failed"] != int64(1) {
		t.Errorf("expected reload.segments_failed 1, got %v", attrs["reload.segments_failed"])
	}
}

func TestRecordError_NilDoesNotPanic(t *testing.T) {
	RecordError(context.Background(), nil)
}

func TestRecordError_RecordsOnSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	RecordError(ctx, errors.New("test error"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected error event on span")
	}
}
