package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cho1y0/neulbom"

// Tracer returns the neulbom tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace id of the active span, or "" without one.
// Clients see it in the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

type turnKey struct{}

// turnInfo identifies the conversation turn a context belongs to.
type turnInfo struct {
	jobID     string
	sessionID string
}

// WithTurn tags ctx with a turn. [Logger] adds the ids to every record and
// the active span gets them as attributes.
func WithTurn(ctx context.Context, jobID, sessionID string) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("job_id", jobID),
		attribute.String("session_id", sessionID),
	)
	return context.WithValue(ctx, turnKey{}, turnInfo{jobID: jobID, sessionID: sessionID})
}

// TurnFromContext returns the ids set by [WithTurn].
func TurnFromContext(ctx context.Context) (jobID, sessionID string, ok bool) {
	ti, ok := ctx.Value(turnKey{}).(turnInfo)
	return ti.jobID, ti.sessionID, ok
}

// Logger returns the default logger with the trace and turn of ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if ti, ok := ctx.Value(turnKey{}).(turnInfo); ok {
		l = l.With(slog.String("job_id", ti.jobID), slog.String("session_id", ti.sessionID))
	}
	return l
}
