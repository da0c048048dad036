package middleware

import (
	"regexp"
	"strings"

	"github.com/apascualco/pairgate/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
)

const (
	HeaderTraceparent = "Traceparent"
	HeaderTracestate  = "Tracestate"
)

var traceparentRegex = regexp.MustCompile(`^00-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)

var zeroTraceID = strings.Repeat("0", 32)
var zeroSpanID = strings.Repeat("0", 16)

type W3CTraceProvider struct{}

func NewW3CTraceProvider() *W3CTraceProvider {
	return &W3CTraceProvider{}
}

func (w *W3CTraceProvider) Extract(c *gin.Context) tracing.SpanContext {
	var sc tracing.SpanContext

	if matches := traceparentRegex.FindStringSubmatch(c.GetHeader(HeaderTraceparent)); len(matches) == 4 {
		if matches[1] != zeroTraceID && matches[2] != zeroSpanID {
			sc.TraceID = matches[1]
			sc.SpanID = matches[2]
			sc.Flags = matches[3]
		}
	}

	// tracestate without a valid traceparent is meaningless
	if sc.TraceID != "" {
		sc.State = c.GetHeader(HeaderTracestate)
	}

	return sc
}

func (w *W3CTraceProvider) Inject(c *gin.Context, sc tracing.SpanContext) {
	c.Header(HeaderTraceparent, sc.Traceparent())

	if sc.State != "" {
		c.Header(HeaderTracestate, sc.State)
	}
}
