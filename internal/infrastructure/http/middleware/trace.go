package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/apascualco/pairgate/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
)

const (
	ContextKeyTraceID = "trace_id"
	ContextKeySpanID  = "span_id"
)

type TraceProvider interface {
	// Extract returns the caller's span, or a zero SpanContext when none was sent.
	Extract(c *gin.Context) tracing.SpanContext
	Inject(c *gin.Context, sc tracing.SpanContext)
}

// TraceMiddleware opens a server span per request and stores it in the
// request context so outbound gateway calls become its children.
func TraceMiddleware(provider TraceProvider, exporter tracing.SpanExporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		parent := provider.Extract(c)
		sc := parent.Child()
		if sc.Flags == "" {
			sc.Flags = "01"
		}

		c.Set(ContextKeyTraceID, sc.TraceID)
		c.Set(ContextKeySpanID, sc.SpanID)
		c.Request = c.Request.WithContext(tracing.ContextWithSpan(c.Request.Context(), sc))

		provider.Inject(c, sc)

		c.Next()

		attrs := map[string]string{
			"http.method":      c.Request.Method,
			"http.url":         c.Request.URL.String(),
			"http.status_code": fmt.Sprintf("%d", c.Writer.Status()),
			"http.route":       c.FullPath(),
			"net.peer.ip":      c.ClientIP(),
		}
		if ownerID := OwnerID(c); ownerID != "" {
			attrs["owner.id"] = ownerID
		}

		exporter.Export(context.WithoutCancel(c.Request.Context()), tracing.SpanData{
			TraceID:      sc.TraceID,
			SpanID:       sc.SpanID,
			ParentSpanID: parent.SpanID,
			Name:         fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()),
			Kind:         tracing.SpanKindServer,
			StartTime:    start,
			EndTime:      time.Now(),
			StatusCode:   c.Writer.Status(),
			Attributes:   attrs,
		})
	}
}
