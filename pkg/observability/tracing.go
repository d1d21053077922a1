package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for meeting operations.
const TracerName = "penf-meetings"

// Span attribute keys
const (
	AttrMeetingID = "meeting_id"
	AttrPipeline  = "pipeline"
	AttrStage     = "stage"
	AttrErrorCode = "error_code"
	AttrRetryable = "retryable"
	AttrTruncated = "truncated"
	AttrDegraded  = "degraded"
	AttrCached    = "cached"
	AttrFallback  = "fallback"
)

// Span names
const (
	SpanProcessMeeting = "meetings.process"
	SpanDiarizeMeeting = "meetings.diarize"
)

// Tracer starts spans for the meeting pipelines.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerWithProvider(otel.GetTracerProvider())
}

// NewTracerWithProvider creates a tracer from provider.
func NewTracerWithProvider(provider trace.TracerProvider) *Tracer {
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

// StartPipelineSpan starts the root span for one pipeline run.
func (t *Tracer) StartPipelineSpan(ctx context.Context, name, meetingID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String(AttrMeetingID, meetingID)),
	)
}

// StartStageSpan starts a span named meetings.stage.<stage>.
func (t *Tracer) StartStageSpan(ctx context.Context, pipeline, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("meetings.stage.%s", stage),
		trace.WithAttributes(
			attribute.String(AttrPipeline, pipeline),
			attribute.String(AttrStage, stage),
		),
	)
}

// SetError records err on span with its classified code.
func SetError(span trace.Span, err error, code string, retryable bool) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	span.RecordError(err)
}

// SetSuccess marks span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace ID from the context.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
