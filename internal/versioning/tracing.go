package versioning

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rtm/internal/model"
)

// Spans go to the global provider, a no-op unless the host installs one.
var tracer = otel.Tracer("rtm.versioning")

func startCommitSpan(ctx context.Context, req model.CommitRequest) (context.Context, trace.Span) {
	return tracer.Start(ctx, "versioning.Commit",
		trace.WithAttributes(
			attribute.String("rtm.version_id", req.VersionID),
			attribute.String("rtm.commit_mode", string(req.Mode)),
			attribute.Bool("rtm.all_or_nothing", req.AllOrNothing),
			attribute.Int("rtm.artifacts", len(req.Artifacts)),
			attribute.Int("rtm.trace_links", len(req.TraceLinks)),
		),
	)
}

func startDeltaSpan(ctx context.Context, baselineID, targetID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "versioning.Delta",
		trace.WithAttributes(
			attribute.String("rtm.baseline_id", baselineID),
			attribute.String("rtm.target_id", targetID),
		),
	)
}

func startResolveSpan(ctx context.Context, versionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "versioning.ResolveProject",
		trace.WithAttributes(attribute.String("rtm.version_id", versionID)),
	)
}

// endSpan records err, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func setCommitSpanResult(span trace.Span, result *model.CommitResult) {
	if result == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("rtm.accepted", len(result.Accepted)),
		attribute.Int("rtm.errors", len(result.Errors)),
	)
}
