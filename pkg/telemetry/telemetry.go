// Package telemetry wraps OpenTelemetry tracing for the coordinator's
// critical sections (lock acquisition, conversation waits, meeting turns)
// behind a small interface so call sites never import the otel SDK
// directly.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/agentmesh/coordinator"

// Tracer starts spans for coordinator operations. Uses OTEL option types so
// callers keep the standard span-configuration surface.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span is an in-flight trace span.
type Span interface {
	End()
	SetAttributes(attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code codes.Code, description string)
}

type tracer struct {
	t trace.Tracer
}

// New constructs a Tracer over the global OTEL TracerProvider. Configure the
// provider (OTLP exporter, sampler) before the coordinator starts handling
// traffic; with no provider configured this is otel's no-op tracer.
func New() Tracer {
	return &tracer{t: otel.Tracer(instrumentationName)}
}

func (t *tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.t.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// Span span names for the coordinator's traced critical sections, grounded
// on spec.md §4.1/§4.6/§4.8.
const (
	SpanAcquireSession  = "conversation.acquire_session"
	SpanSendAndWait     = "conversation.send_and_wait"
	SpanFastPath        = "conversation.fast_path"
	SpanWaitForResponse = "conversation.get_or_wait_for_response"
	SpanSpeak           = "meeting.speak"
	SpanOnFire          = "meeting.on_fire"
	SpanLockAcquire     = "lock.acquire"
)

// AgentAttr builds the standard agent-id attribute attached to coordinator
// spans.
func AgentAttr(key string, agentID string) attribute.KeyValue {
	return attribute.String(key, agentID)
}
