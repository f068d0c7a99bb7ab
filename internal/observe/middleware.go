package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// quietPaths are polled by orchestrators and logged at debug level only.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// statusWriter remembers the first status code sent downstream.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status, w.wrote = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// route is the mux pattern that served req, without its method. Requests no
// pattern matched fall back to the raw path.
func route(req *http.Request) string {
	if req.Pattern == "" {
		return req.URL.Path
	}
	if _, rest, ok := strings.Cut(req.Pattern, " "); ok {
		return rest
	}
	return req.Pattern
}

// Middleware wraps a mux with one server span, one latency sample and one log
// line per request. Incoming W3C trace context is continued and the trace ID
// is echoed as X-Correlation-ID. Latency is labelled by matched route, so the
// per-file /audio/ paths share a series. A handler that tags its context with
// [WithCallID] gets the call ID on the span and on the request log line.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}

			var callID string
			req := r.WithContext(withCallSink(ctx, &callID))
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, req)

			elapsed := time.Since(start)
			rt := route(req)
			span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status), semconv.HTTPRoute(rt))
			if sw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(sw.status))
			}
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", rt),
					attribute.Int("status", sw.status),
				),
			)
			logRequest(ctx, r, sw.status, elapsed, cid, callID)
		})
	}
}

func logRequest(ctx context.Context, r *http.Request, status int, elapsed time.Duration, cid, callID string) {
	level := slog.LevelInfo
	switch {
	case quietPaths[r.URL.Path]:
		level = slog.LevelDebug
	case status >= http.StatusInternalServerError:
		level = slog.LevelWarn
	}
	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
	if cid != "" {
		attrs = append(attrs, slog.String("trace_id", cid))
	}
	if callID != "" {
		attrs = append(attrs, slog.String("call_id", callID))
	}
	slog.LogAttrs(ctx, level, "request completed", attrs...)
}
