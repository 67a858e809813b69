package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
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

func TestStartRunSpan(t *testing.T) {
	exporter := newSpanRecorder(t)

	agentID, sessionID := uuid.NewString(), uuid.NewString()
	ctx, span := StartRunSpan(context.Background(), agentID, sessionID)

	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected valid span in context")
	}

	span.End()
	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "pipeline.run" {
		t.Errorf("expected span name 'pipeline.run', got %q", spans[0].Name)
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	if attrs["run.agent_id"] != agentID {
		t.Errorf("expected run.agent_id %q, got %v", agentID, attrs["run.agent_id"])
	}
	if attrs["run.session_id"] != sessionID {
		t.Errorf("expected run.session_id %q, got %v", sessionID, attrs["run.session_id"])
	}
}

func TestStartStageSpan(t *testing.T) {
	exporter := newSpanRecorder(t)

	_, span := StartStageSpan(context.Background(), "fetch-textures")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "stage.fetch-textures" {
		t.Errorf("expected span name 'stage.fetch-textures', got %q", spans[0].Name)
	}

	found := map[string]bool{}
	for _, attr := range spans[0].Attributes {
		found[string(attr.Key)] = true
	}
	if !found["stage.name"] {
		t.Error("expected stage.name attribute")
	}
}

func TestStartFetchSpan(t *testing.T) {
	exporter := newSpanRecorder(t)

	textureID := uuid.NewString()
	_, span := StartFetchSpan(context.Background(), "texture", textureID)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "fetch.texture" {
		t.Errorf("expected span name 'fetch.texture', got %q", spans[0].Name)
	}
	if spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("expected SpanKindClient, got %v", spans[0].SpanKind)
	}
}

func TestSetRunAttributes(t *testing.T) {
	exporter := newSpanRecorder(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	SetRunAttributes(ctx, 7, true)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}

	if attrs["run.serial"] != int64(7) {
		t.Errorf("expected run.serial 7, got %v", attrs["run.serial"])
	}
	if attrs["run.force_rebake"] != true {
		t.Errorf("expected run.force_rebake true, got %v", attrs["run.force_rebake"])
	}
}

func TestSetPublishAttributes(t *testing.T) {
	exporter := newSpanRecorder(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	SetPublishAttributes(ctx, 3, true, 2)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}

	if attrs["publish.serial"] != int64(3) {
		t.Errorf("expected publish.serial 3, got %v", attrs["publish.serial"])
	}
	if attrs["publish.partial"] != true {
		t.Errorf("expected publish.partial true, got %v", attrs["publish.partial"])
	}
	if attrs["publish.pending_layers"] != int64(2) {
		t.Errorf("expected publish.pending_layers 2, got %v", attrs["publish.pending_layers"])
	}
}

func TestRecordError_NilDoesNotPanic(t *testing.T) {
	RecordError(context.Background(), nil)
}

func TestRecordError_RecordsOnSpan(t *testing.T) {
	exporter := newSpanRecorder(t)

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
