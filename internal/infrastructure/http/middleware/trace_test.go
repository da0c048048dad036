package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/apascualco/pairgate/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
)

var validTraceparent = regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2}$`)

type spanRecorder struct {
	mu    sync.Mutex
	spans []tracing.SpanData
}

func (r *spanRecorder) Export(_ context.Context, span tracing.SpanData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
}

func (r *spanRecorder) Shutdown(context.Context) error { return nil }

// traceRouter captures the span context the handler sees.
func traceRouter(exporter tracing.SpanExporter, seen *tracing.SpanContext) *gin.Engine {
	router := gin.New()
	router.Use(TraceMiddleware(NewW3CTraceProvider(), exporter))
	router.GET("/instances/:name", func(c *gin.Context) {
		sc, ok := tracing.SpanFromContext(c.Request.Context())
		if ok {
			*seen = sc
		}
		c.Status(http.StatusOK)
	})
	return router
}

func TestTraceMiddleware_NoTraceparent_StartsTrace(t *testing.T) {
	exporter := &spanRecorder{}
	var seen tracing.SpanContext

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/instances/abc", nil)
	traceRouter(exporter, &seen).ServeHTTP(w, req)

	if !seen.Valid() {
		t.Fatal("handler should see a span in the request context")
	}
	if got := w.Header().Get(HeaderTraceparent); got != seen.Traceparent() {
		t.Errorf("Traceparent = %q, want %q", got, seen.Traceparent())
	}
	if len(exporter.spans) != 1 {
		t.Fatalf("expected 1 exported span, got %d", len(exporter.spans))
	}
	span := exporter.spans[0]
	if span.ParentSpanID != "" {
		t.Errorf("root span should have no parent, got %s", span.ParentSpanID)
	}
	if span.Name != "GET /instances/:name" {
		t.Errorf("span name = %q", span.Name)
	}
	if span.Kind != tracing.SpanKindServer {
		t.Errorf("span kind = %v", span.Kind)
	}
	if span.Attributes["http.status_code"] != "200" {
		t.Errorf("status attribute = %q", span.Attributes["http.status_code"])
	}
}

func TestTraceMiddleware_ContinuesIncomingTrace(t *testing.T) {
	traceID := "abcdef1234567890abcdef1234567890"
	parentSpan := "1234567890abcdef"
	exporter := &spanRecorder{}
	var seen tracing.SpanContext

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/instances/abc", nil)
	req.Header.Set(HeaderTraceparent, "00-"+traceID+"-"+parentSpan+"-01")
	req.Header.Set(HeaderTracestate, "vendor1=value1")
	traceRouter(exporter, &seen).ServeHTTP(w, req)

	if seen.TraceID != traceID {
		t.Errorf("trace id = %s, want %s", seen.TraceID, traceID)
	}
	if seen.SpanID == parentSpan {
		t.Error("server span should get its own span id")
	}
	if exporter.spans[0].ParentSpanID != parentSpan {
		t.Errorf("parent span = %s, want %s", exporter.spans[0].ParentSpanID, parentSpan)
	}

	parts := strings.Split(w.Header().Get(HeaderTraceparent), "-")
	if len(parts) != 4 || parts[1] != traceID {
		t.Errorf("response traceparent should keep the trace id, got %v", parts)
	}
	if got := w.Header().Get(HeaderTracestate); got != "vendor1=value1" {
		t.Errorf("tracestate = %q", got)
	}
}

func TestTraceMiddleware_InvalidTraceparent(t *testing.T) {
	cases := []struct {
		name        string
		traceparent string
	}{
		{"wrong version", "01-abcdef1234567890abcdef1234567890-1234567890abcdef-01"},
		{"short trace id", "00-abcdef-1234567890abcdef-01"},
		{"not hex", "00-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz-1234567890abcdef-01"},
		{"zero trace id", "00-00000000000000000000000000000000-1234567890abcdef-01"},
		{"zero span id", "00-abcdef1234567890abcdef1234567890-0000000000000000-01"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exporter := &spanRecorder{}
			var seen tracing.SpanContext

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/instances/abc", nil)
			req.Header.Set(HeaderTraceparent, tc.traceparent)
			req.Header.Set(HeaderTracestate, "dropped=1")
			traceRouter(exporter, &seen).ServeHTTP(w, req)

			traceparent := w.Header().Get(HeaderTraceparent)
			if !validTraceparent.MatchString(traceparent) {
				t.Errorf("expected a fresh traceparent, got %q", traceparent)
			}
			if strings.Contains(traceparent, strings.Repeat("0", 32)) {
				t.Errorf("zero trace id leaked: %s", traceparent)
			}
			if exporter.spans[0].ParentSpanID != "" {
				t.Errorf("invalid parent should be ignored, got %s", exporter.spans[0].ParentSpanID)
			}
			if w.Header().Get(HeaderTracestate) != "" {
				t.Error("tracestate should not outlive an invalid traceparent")
			}
		})
	}
}
