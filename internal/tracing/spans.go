package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan creates the root span for one pipeline invocation.
func StartRunSpan(ctx context.Context, agentID, sessionID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.agent_id", agentID),
			attribute.String("run.session_id", sessionID),
		),
	)
}

// StartStageSpan creates a child span for a single stage execution.
func StartStageSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "stage."+name,
		trace.WithAttributes(attribute.String("stage.name", name)),
	)
}

// StartFetchSpan creates a child span for an outbound request to an
// external collaborator (asset fetcher, texture fetcher, baked uploader).
func StartFetchSpan(ctx context.Context, kind, id string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "fetch."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fetch.kind", kind),
			attribute.String("fetch.id", id),
		),
	)
}

// SetRunAttributes adds run-level attributes to the current span.
func SetRunAttributes(ctx context.Context, serial uint32, forceRebake bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int64("run.serial", int64(serial)),
		attribute.Bool("run.force_rebake", forceRebake),
	)
}

// SetPublishAttributes adds publish-outcome attributes to the current span.
func SetPublishAttributes(ctx context.Context, serial uint32, partial bool, pendingLayers int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int64("publish.serial", int64(serial)),
		attribute.Bool("publish.partial", partial),
		attribute.Int("publish.pending_layers", pendingLayers),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
