package tracing

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = 5 * time.Second

	instrumentationScope = "github.com/apascualco/pairgate"
)

// OTLPExporter ships spans to an OTLP/HTTP collector in protobuf batches.
// Export never blocks: spans are dropped when the queue is full.
type OTLPExporter struct {
	endpoint      string
	serviceName   string
	client        *http.Client
	batchSize     int
	flushInterval time.Duration
	queue         chan SpanData
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	logger        *slog.Logger
}

type OTLPOption func(*OTLPExporter)

func WithBatchSize(n int) OTLPOption {
	return func(e *OTLPExporter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) OTLPOption {
	return func(e *OTLPExporter) {
		if d > 0 {
			e.flushInterval = d
		}
	}
}

func WithQueueSize(n int) OTLPOption {
	return func(e *OTLPExporter) {
		if n > 0 {
			e.queue = make(chan SpanData, n)
		}
	}
}

func WithExporterLogger(logger *slog.Logger) OTLPOption {
	return func(e *OTLPExporter) {
		e.logger = logger
	}
}

func NewOTLPExporter(endpoint, serviceName string, opts ...OTLPOption) *OTLPExporter {
	e := &OTLPExporter{
		endpoint:      endpoint,
		serviceName:   serviceName,
		client:        &http.Client{Timeout: 10 * time.Second},
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		queue:         make(chan SpanData, defaultQueueSize),
		stop:          make(chan struct{}),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.run()
	return e
}

func (e *OTLPExporter) Export(_ context.Context, span SpanData) {
	select {
	case e.queue <- span:
	default:
		e.logger.Warn("otlp exporter: queue full, span dropped", "span", span.Name)
	}
}

// Shutdown flushes queued spans and waits for the sender to finish.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stop) })

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *OTLPExporter) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	pending := make([]SpanData, 0, e.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := e.send(pending); err != nil {
			e.logger.Error("otlp exporter: failed to send spans", "error", err, "count", len(pending))
		}
		pending = make([]SpanData, 0, e.batchSize)
	}
	add := func(span SpanData) {
		pending = append(pending, span)
		if len(pending) >= e.batchSize {
			flush()
		}
	}

	for {
		select {
		case span := <-e.queue:
			add(span)
		case <-ticker.C:
			flush()
		case <-e.stop:
			for {
				select {
				case span := <-e.queue:
					add(span)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (e *OTLPExporter) send(batch []SpanData) error {
	body, err := proto.Marshal(e.encode(batch))
	if err != nil {
		return fmt.Errorf("marshal traces: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.endpoint+"/v1/traces", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post traces: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector responded with status %d", resp.StatusCode)
	}
	return nil
}

func (e *OTLPExporter) encode(batch []SpanData) *tracepb.TracesData {
	spans := make([]*tracepb.Span, 0, len(batch))
	for _, s := range batch {
		spans = append(spans, toProtoSpan(s))
	}

	return &tracepb.TracesData{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{stringAttr("service.name", e.serviceName)},
			},
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{Name: instrumentationScope},
				Spans: spans,
			}},
		}},
	}
}

func toProtoSpan(s SpanData) *tracepb.Span {
	traceID, _ := hex.DecodeString(s.TraceID)
	spanID, _ := hex.DecodeString(s.SpanID)

	span := &tracepb.Span{
		TraceId:           traceID,
		SpanId:            spanID,
		Name:              s.Name,
		Kind:              protoKind(s.Kind),
		StartTimeUnixNano: uint64(s.StartTime.UnixNano()),
		EndTimeUnixNano:   uint64(s.EndTime.UnixNano()),
		Status:            &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK},
		Attributes:        protoAttributes(s.Attributes),
	}

	if s.ParentSpanID != "" {
		span.ParentSpanId, _ = hex.DecodeString(s.ParentSpanID)
	}
	if s.Failed() {
		span.Status.Code = tracepb.Status_STATUS_CODE_ERROR
		if s.Err != nil {
			span.Status.Message = s.Err.Error()
		}
	}
	return span
}

func protoKind(k SpanKind) tracepb.Span_SpanKind {
	switch k {
	case SpanKindServer:
		return tracepb.Span_SPAN_KIND_SERVER
	case SpanKindClient:
		return tracepb.Span_SPAN_KIND_CLIENT
	case SpanKindInternal:
		return tracepb.Span_SPAN_KIND_INTERNAL
	default:
		return tracepb.Span_SPAN_KIND_UNSPECIFIED
	}
}

// protoAttributes sorts by key so encoded spans are stable.
func protoAttributes(attrs map[string]string) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]*commonpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, stringAttr(k, attrs[k]))
	}
	return kvs
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}
