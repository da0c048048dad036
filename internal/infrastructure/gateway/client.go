package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/observability"
	"github.com/apascualco/pairgate/internal/infrastructure/tracing"
)

const (
	HeaderAPIKey      = "apikey"
	HeaderTraceparent = "traceparent"

	opConnectionState = "connection_state"
	opCreate          = "create"
	opConnect         = "connect"
	opLogout          = "logout"
	opRestart         = "restart"
	opFetchInstances  = "fetch_instances"

	maxErrorBody = 512
)

// Client talks to the messaging gateway's instance API. It holds no per-instance
// state; every method is a single HTTP round trip.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	exporter   tracing.SpanExporter
	metrics    observability.Recorder
	logger     *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithSpanExporter(exporter tracing.SpanExporter) Option {
	return func(c *Client) {
		c.exporter = exporter
	}
}

func WithMetrics(metrics observability.Recorder) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		exporter: tracing.NoopExporter{},
		metrics:  observability.Noop{},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

var _ domain.Gateway = (*Client)(nil)

func (c *Client) ConnectionState(ctx context.Context, name string) (domain.ConnectionState, error) {
	status, body, err := c.do(ctx, opConnectionState, name, http.MethodGet, "/instance/connectionState/"+url.PathEscape(name), nil)
	if err != nil {
		return domain.StateUnknown, err
	}

	if status == http.StatusNotFound {
		return domain.StateUnknown, fmt.Errorf("%w: %s", domain.ErrGatewayInstanceNotFound, name)
	}
	if !isSuccess(status) {
		return domain.StateUnknown, newGatewayError(opConnectionState, status, body)
	}

	var resp connectionStateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.StateUnknown, fmt.Errorf("failed to unmarshal connection state: %w", err)
	}

	return domain.ParseConnectionState(resp.rawState()), nil
}

// Exists reports whether the gateway knows the instance. A not-found reply is
// an answer, not an error.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.ConnectionState(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayInstanceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Create provisions a new instance. A 409 means the instance is already there
// and is reported through CreateResult.AlreadyExists.
func (c *Client) Create(ctx context.Context, name, phoneHint string) (*domain.CreateResult, error) {
	req := createRequest{
		InstanceName: name,
		Number:       phoneHint,
		QRCode:       true,
		Integration:  "WHATSAPP-BAILEYS",
	}

	status, body, err := c.do(ctx, opCreate, name, http.MethodPost, "/instance/create", req)
	if err != nil {
		return nil, err
	}

	if status == http.StatusConflict {
		c.logger.Debug("gateway instance already exists", "instance", name)
		return &domain.CreateResult{AlreadyExists: true}, nil
	}
	if !isSuccess(status) {
		return nil, newGatewayError(opCreate, status, body)
	}

	payload, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal create response: %w", err)
	}

	return &domain.CreateResult{Pairing: ExtractPairingInfo(payload)}, nil
}

func (c *Client) Connect(ctx context.Context, name string) (*domain.PairingInfo, error) {
	status, body, err := c.do(ctx, opConnect, name, http.MethodGet, "/instance/connect/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayInstanceNotFound, name)
	}
	if !isSuccess(status) {
		return nil, newGatewayError(opConnect, status, body)
	}

	payload, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal connect response: %w", err)
	}

	return ExtractPairingInfo(payload), nil
}

func (c *Client) Logout(ctx context.Context, name string) error {
	return c.expectSuccess(ctx, opLogout, name, http.MethodDelete, "/instance/logout/"+url.PathEscape(name))
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.expectSuccess(ctx, opRestart, name, http.MethodPut, "/instance/restart/"+url.PathEscape(name))
}

func (c *Client) FetchInstances(ctx context.Context) ([]domain.GatewayInstance, error) {
	status, body, err := c.do(ctx, opFetchInstances, "", http.MethodGet, "/instance/fetchInstances", nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, newGatewayError(opFetchInstances, status, body)
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instances: %w", err)
	}

	instances := make([]domain.GatewayInstance, 0, len(rows))
	for _, row := range rows {
		instances = append(instances, instanceFromRow(row))
	}
	return instances, nil
}

func (c *Client) expectSuccess(ctx context.Context, op, name, method, path string) error {
	status, body, err := c.do(ctx, op, name, method, path, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrGatewayInstanceNotFound, name)
	}
	if !isSuccess(status) {
		return newGatewayError(op, status, body)
	}
	return nil
}

// do performs one request and returns the raw status and body. Only transport
// failures are returned as errors; status interpretation is left to the caller.
func (c *Client) do(ctx context.Context, op, name, method, path string, in any) (int, []byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	parent, traced := tracing.SpanFromContext(ctx)
	span := parent.Child()
	req.Header.Set(HeaderTraceparent, span.Traceparent())

	start := time.Now()
	status, body, err := c.roundTrip(req)
	elapsed := time.Since(start)

	c.record(ctx, op, name, status, err, start, elapsed, span, parent, traced)

	if err != nil {
		return 0, nil, fmt.Errorf("gateway %s: %w", op, err)
	}
	return status, body, nil
}

func (c *Client) roundTrip(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) record(ctx context.Context, op, name string, status int, err error, start time.Time, elapsed time.Duration, span, parent tracing.SpanContext, traced bool) {
	outcome := observability.OutcomeSuccess
	if err != nil || status >= 500 {
		outcome = observability.OutcomeError
	}
	c.metrics.GatewayRequest(op, outcome, elapsed)

	attrs := map[string]string{"gateway.op": op}
	if name != "" {
		attrs["instance.name"] = name
	}
	if status != 0 {
		attrs["http.status_code"] = strconv.Itoa(status)
	}

	data := tracing.SpanData{
		TraceID:    span.TraceID,
		SpanID:     span.SpanID,
		Name:       "gateway " + op,
		Kind:       tracing.SpanKindClient,
		StartTime:  start,
		EndTime:    start.Add(elapsed),
		StatusCode: status,
		Err:        err,
		Attributes: attrs,
	}
	if traced {
		data.ParentSpanID = parent.SpanID
	}
	c.exporter.Export(ctx, data)

	if err != nil {
		c.logger.Warn("gateway request failed", "op", op, "instance", name, "elapsed", elapsed, "error", err)
		return
	}
	c.logger.Debug("gateway request", "op", op, "instance", name, "status", status, "elapsed", elapsed)
}

func decodeObject(body []byte) (map[string]any, error) {
	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func newGatewayError(op string, status int, body []byte) *domain.GatewayError {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &domain.GatewayError{Op: op, StatusCode: status, Body: text}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
