package tracing

import "context"

type NoopExporter struct{}

func (NoopExporter) Export(context.Context, SpanData) {}

func (NoopExporter) Shutdown(context.Context) error { return nil }
