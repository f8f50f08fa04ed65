// Package telemetry defines the structured logging, metrics, and tracing
// contracts every package in this module logs and instruments through,
// plus the goa.design/clue-backed and no-op implementations. Nothing else
// under internal/ imports goa.design/clue or go.opentelemetry.io directly —
// callers there depend only on these interfaces; the composition root in
// cmd/agentrund imports both to set up logging and the tracer provider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logging contract. Every call takes a
// message followed by alternating key/value pairs, mirroring the
// teacher's slog-style idiom.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics is the metrics-recording contract.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer is the span-creation contract.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span is the per-span contract a Tracer hands back.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
