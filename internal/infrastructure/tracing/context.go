package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SpanContext identifies the active span carried through a request.
type SpanContext struct {
	TraceID string
	SpanID  string
	Flags   string
	State   string
}

func (sc SpanContext) Valid() bool {
	return len(sc.TraceID) == 32 && len(sc.SpanID) == 16
}

// Traceparent renders sc as a W3C traceparent header value.
func (sc SpanContext) Traceparent() string {
	flags := sc.Flags
	if flags == "" {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", sc.TraceID, sc.SpanID, flags)
}

// Child returns a span context in the same trace with a fresh span id.
func (sc SpanContext) Child() SpanContext {
	child := sc
	if child.TraceID == "" {
		child.TraceID = NewTraceID()
	}
	child.SpanID = NewSpanID()
	return child
}

type spanKey struct{}

func ContextWithSpan(ctx context.Context, sc SpanContext) context.Context {
	return context.WithValue(ctx, spanKey{}, sc)
}

func SpanFromContext(ctx context.Context) (SpanContext, bool) {
	sc, ok := ctx.Value(spanKey{}).(SpanContext)
	return sc, ok && sc.Valid()
}

func NewTraceID() string {
	return randomHex(16)
}

func NewSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
