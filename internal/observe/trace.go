package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the voiceintake tracer.
const tracerName = "github.com/MrWong99/voiceintake"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type (
	callIDKey   struct{}
	callSinkKey struct{}
)

// WithCallID returns a context carrying the telephony call identifier. The
// identifier is also attached to the active span, if any, and reported to
// [Middleware] for its request log line.
func WithCallID(ctx context.Context, callID string) context.Context {
	if callID == "" {
		return ctx
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("call_id", callID))
	if p, ok := ctx.Value(callSinkKey{}).(*string); ok {
		*p = callID
	}
	return context.WithValue(ctx, callIDKey{}, callID)
}

func withCallSink(ctx context.Context, p *string) context.Context {
	return context.WithValue(ctx, callSinkKey{}, p)
}

// CallID returns the call identifier stored by [WithCallID], or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx, and call_id when one was stored with
// [WithCallID].
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := CallID(ctx); id != "" {
		l = l.With(slog.String("call_id", id))
	}
	return l
}
