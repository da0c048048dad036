package tracing

import (
	"context"
	"log/slog"
	"sort"
)

// LogExporter writes finished spans to a slog logger. Meant for local runs
// without a collector.
type LogExporter struct {
	logger *slog.Logger
}

func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger.With("component", "tracing")}
}

func (e *LogExporter) Export(ctx context.Context, span SpanData) {
	attrs := []slog.Attr{
		slog.String("trace_id", span.TraceID),
		slog.String("span_id", span.SpanID),
		slog.String("kind", span.Kind.String()),
		slog.Duration("duration", span.EndTime.Sub(span.StartTime)),
	}
	if span.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", span.ParentSpanID))
	}
	if span.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status_code", span.StatusCode))
	}
	if span.Err != nil {
		attrs = append(attrs, slog.String("error", span.Err.Error()))
	}

	keys := make([]string, 0, len(span.Attributes))
	for k := range span.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, span.Attributes[k]))
	}

	level := slog.LevelDebug
	if span.Failed() {
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, "span "+span.Name, attrs...)
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }
