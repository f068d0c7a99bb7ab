package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareRig struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// newMiddlewareRig installs an in-memory tracer provider globally for the
// duration of the test. Tests using it must not run in parallel.
func newMiddlewareRig(t *testing.T) middlewareRig {
	t.Helper()

	m, reader := newTestMetrics(t)
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return middlewareRig{metrics: m, reader: reader, spans: exp}
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_Requests(t *testing.T) {
	const parentTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		method      string
		path        string
		traceparent string
		status      int
		callID      string
	}{
		{name: "voice webhook", method: http.MethodPost, path: "/twilio/voice", status: http.StatusOK, callID: "CA1"},
		{name: "gather with parent trace", method: http.MethodPost, path: "/twilio/gather",
			traceparent: "00-" + parentTrace + "-00f067aa0ba902b7-01", status: http.StatusOK, callID: "CA2"},
		{name: "missing audio", method: http.MethodGet, path: "/audio/nope.mp3", status: http.StatusNotFound},
		{name: "bad signature", method: http.MethodPost, path: "/twilio/status", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newMiddlewareRig(t)
			var seenCID string
			h := Middleware(rig.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenCID = CorrelationID(r.Context())
				WithCallID(r.Context(), tt.callID)
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if len(seenCID) != 32 {
				t.Fatalf("handler correlation ID = %q, want 32 hex chars", seenCID)
			}
			if tt.traceparent != "" && seenCID != parentTrace {
				t.Errorf("correlation ID = %q, want parent trace %q", seenCID, parentTrace)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seenCID {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seenCID)
			}

			spans := rig.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "HTTP " + tt.method + " " + tt.path; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != int64(tt.status) {
				t.Errorf("span status attribute = %v, want %d", v.AsInt64(), tt.status)
			}
			v, ok := spanAttr(spans[0], "call_id")
			if tt.callID == "" && ok {
				t.Errorf("unexpected call_id %q on span", v.AsString())
			}
			if tt.callID != "" && v.AsString() != tt.callID {
				t.Errorf("span call_id = %q, want %q", v.AsString(), tt.callID)
			}

			met := findMetric(collect(t, rig.reader), "voiceintake.http.request.duration")
			if met == nil {
				t.Fatal("request duration metric not recorded")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Fatalf("duration data points = %+v, want one sample", hist.DataPoints)
			}
			attrs := hist.DataPoints[0].Attributes
			rt, _ := attrs.Value("route")
			method, _ := attrs.Value("method")
			status, _ := attrs.Value("status")
			if rt.AsString() != tt.path || method.AsString() != tt.method || status.AsInt64() != int64(tt.status) {
				t.Errorf("duration attributes = %s %s %d, want %s %s %d",
					method.AsString(), rt.AsString(), status.AsInt64(), tt.method, tt.path, tt.status)
			}
		})
	}
}

func TestMiddleware_RequestLog(t *testing.T) {
	tests := []struct {
		path    string
		callID  string
		wantLog bool
	}{
		{path: "/twilio/voice", callID: "CA42", wantLog: true},
		{path: "/twilio/gather", wantLog: true},
		{path: "/healthz"},
		{path: "/readyz"},
		{path: "/metrics"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rig := newMiddlewareRig(t)
			buf := captureLogs(t)

			h := Middleware(rig.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				WithCallID(r.Context(), tt.callID)
				w.WriteHeader(http.StatusOK)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, tt.path, nil))

			out := buf.String()
			if !tt.wantLog {
				if out != "" {
					t.Errorf("health check logged at info: %s", out)
				}
				return
			}
			if !strings.Contains(out, "request completed") || !strings.Contains(out, "status=200") {
				t.Errorf("missing request log line: %s", out)
			}
			if hasCall := strings.Contains(out, "call_id="+tt.callID); tt.callID != "" && !hasCall {
				t.Errorf("request log missing call_id=%s: %s", tt.callID, out)
			}
			if tt.callID == "" && strings.Contains(out, "call_id") {
				t.Errorf("request log has call_id without a call: %s", out)
			}
		})
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	rig := newMiddlewareRig(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /audio/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ID3"))
	})
	mux.HandleFunc("POST /twilio/status", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})
	h := Middleware(rig.metrics)(mux)

	for _, file := range []string{"a1.mp3", "b2.mp3", "c3.mp3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/audio/"+file, nil))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/twilio/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}

	hist := findMetric(collect(t, rig.reader), "voiceintake.http.request.duration").Data.(metricdata.Histogram[float64])
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		rt, _ := dp.Attributes.Value("route")
		counts[rt.AsString()] += dp.Count
	}
	if len(counts) != 2 || counts["/audio/"] != 3 || counts["/twilio/status"] != 1 {
		t.Errorf("samples by route = %v, want /audio/:3 /twilio/status:1", counts)
	}

	for _, s := range rig.spans.GetSpans() {
		v, _ := spanAttr(s, "http.route")
		if s.Name == "HTTP POST /twilio/status" {
			if s.Status.Code != codes.Error {
				t.Errorf("5xx span status = %v, want error", s.Status.Code)
			}
			continue
		}
		if v.AsString() != "/audio/" {
			t.Errorf("span %s http.route = %q", s.Name, v.AsString())
		}
	}
}
