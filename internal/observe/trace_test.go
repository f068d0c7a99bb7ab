package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs swaps the default logger for one writing to the returned buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()
	tp, _ := newTestTracerProvider(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := tp.Tracer("test").Start(context.Background(), "voice-webhook")
		cid := CorrelationID(ctx)
		span.End()

		if b, err := hex.DecodeString(cid); err != nil || len(b) != 16 {
			t.Fatalf("CorrelationID = %q, want 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "engine.advance")
	ctx = WithCallID(ctx, "CA42")
	span.End()

	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not start a recording span")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "engine.advance" {
		t.Fatalf("recorded spans = %v, want one engine.advance", spans)
	}
	var found bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == attribute.Key("call_id") && kv.Value.AsString() == "CA42" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing call_id=CA42", spans[0].Attributes)
	}
}

func TestLogger_Attributes(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	tests := []struct {
		name    string
		span    bool
		callID  string
		want    []string
		notWant []string
	}{
		{name: "bare", notWant: []string{"trace_id", "span_id", "call_id"}},
		{name: "span only", span: true, want: []string{"trace_id=", "span_id="}, notWant: []string{"call_id"}},
		{name: "call only", callID: "CA7", want: []string{"call_id=CA7"}, notWant: []string{"trace_id"}},
		{name: "span and call", span: true, callID: "CA8", want: []string{"trace_id=", "call_id=CA8"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tt.span {
				var span interface{ End() }
				ctx, span = startTestSpan(ctx, tp)
				defer span.End()
			}
			ctx = WithCallID(ctx, tt.callID)

			Logger(ctx).Info("slot filled")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}

func startTestSpan(ctx context.Context, tp *sdktrace.TracerProvider) (context.Context, interface{ End() }) {
	ctx, span := tp.Tracer("test").Start(ctx, "gather")
	return ctx, span
}

func TestWithCallID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if got := CallID(ctx); got != "" {
		t.Errorf("CallID(background) = %q, want empty", got)
	}
	if got := WithCallID(ctx, ""); got != ctx {
		t.Error("empty call ID should return ctx unchanged")
	}
	if got := CallID(WithCallID(ctx, "CA123")); got != "CA123" {
		t.Errorf("CallID = %q, want CA123", got)
	}

	var reported string
	_ = WithCallID(withCallSink(ctx, &reported), "CA9")
	if reported != "CA9" {
		t.Errorf("call sink = %q, want CA9", reported)
	}
}
