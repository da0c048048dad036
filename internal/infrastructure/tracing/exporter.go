package tracing

import (
	"context"
	"log/slog"
	"time"

	"github.com/apascualco/pairgate/internal/infrastructure/config"
)

type SpanKind int

const (
	SpanKindServer SpanKind = iota
	SpanKindClient
	SpanKindInternal
)

func (k SpanKind) String() string {
	switch k {
	case SpanKindServer:
		return "SERVER"
	case SpanKindClient:
		return "CLIENT"
	case SpanKindInternal:
		return "INTERNAL"
	default:
		return "UNSPECIFIED"
	}
}

// SpanData is a finished span. StatusCode carries the HTTP status when the
// span wraps an HTTP exchange; Err marks spans that failed without one.
type SpanData struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Name         string
	Kind         SpanKind
	StartTime    time.Time
	EndTime      time.Time
	StatusCode   int
	Err          error
	Attributes   map[string]string
}

func (s SpanData) Failed() bool {
	return s.Err != nil || s.StatusCode >= 500
}

type SpanExporter interface {
	Export(ctx context.Context, span SpanData)
	Shutdown(ctx context.Context) error
}

// NewExporter picks the span sink named by TRACE_EXPORTER: otlp, log or noop.
func NewExporter(cfg *config.Config) SpanExporter {
	logger := slog.Default().With("exporter", cfg.TraceExporter)

	switch cfg.TraceExporter {
	case "otlp":
		if cfg.TraceOTLPEndpoint == "" {
			logger.Warn("TRACE_OTLP_ENDPOINT is empty, spans will be dropped")
			return NoopExporter{}
		}
		logger.Info("trace exporter enabled",
			slog.String("endpoint", cfg.TraceOTLPEndpoint),
			slog.String("service_name", cfg.TraceServiceName),
		)
		return NewOTLPExporter(cfg.TraceOTLPEndpoint, cfg.TraceServiceName)
	case "log":
		logger.Info("trace exporter enabled")
		return NewLogExporter(slog.Default())
	case "noop", "":
		return NoopExporter{}
	default:
		logger.Warn("unknown trace exporter, spans will be dropped")
		return NoopExporter{}
	}
}
