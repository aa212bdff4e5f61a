package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sitekeeper"

// StartPassSpan starts a span for one reconciliation pass ("sync" or "timeout").
func StartPassSpan(ctx context.Context, pass string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reconcile."+pass,
		trace.WithAttributes(attribute.String("reconcile.pass", pass)),
	)
}

// StartJobSpan starts a span for reconciling one job under its tenant.
func StartJobSpan(ctx context.Context, op string, jobID, tenantID int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job."+op,
		trace.WithAttributes(
			attribute.Int64("job.id", jobID),
			attribute.Int64("tenant.id", tenantID),
		),
	)
}

// StartProviderSpan starts a span for a call to a generation provider.
func StartProviderSpan(ctx context.Context, provider, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("provider.name", provider)),
	)
}
