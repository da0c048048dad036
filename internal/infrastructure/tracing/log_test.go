package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	exporter := NewLogExporter(logger)

	exporter.Export(context.Background(), clientSpan("gateway connect"))

	out := buf.String()
	assert.Contains(t, out, `msg="span gateway connect"`)
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "trace_id=abcdef1234567890abcdef1234567890")
	assert.Contains(t, out, "parent_span_id=fedcba0987654321")
	assert.Contains(t, out, "gateway.op=connect")
	assert.Contains(t, out, "kind=CLIENT")
}

func TestLogExporter_FailedSpanWarns(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewLogExporter(slog.New(slog.NewTextHandler(&buf, nil)))

	span := clientSpan("gateway create")
	span.StatusCode = 0
	span.Err = errors.New("connection refused")
	exporter.Export(context.Background(), span)

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `error="connection refused"`)
	assert.NoError(t, exporter.Shutdown(context.Background()))
}
