package client

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client calls the pairgate admin API on behalf of one owner.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authorize  func(req *http.Request) error

	maxRetries int
	backoff    time.Duration

	logger *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetry sets how often pairing calls are retried when the API answers with retry:true.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.authorize = func(req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		}
	}
}

// WithOwnerHeaders identifies the owner the way a server without JWT_PUBLIC_KEY expects.
func WithOwnerHeaders(ownerID, ownerName string) Option {
	return func(c *Client) {
		c.authorize = func(req *http.Request) error {
			req.Header.Set("X-Owner-ID", ownerID)
			if ownerName != "" {
				req.Header.Set("X-Owner-Name", ownerName)
			}
			return nil
		}
	}
}

// WithSigningKey mints a short-lived owner token per request. Meant for trusted
// backends that hold the auth service's private key.
func WithSigningKey(key *rsa.PrivateKey, issuer, ownerID, ownerName string) Option {
	return func(c *Client) {
		c.authorize = func(req *http.Request) error {
			now := time.Now()
			claims := jwt.MapClaims{
				"sub": ownerID,
				"iss": issuer,
				"iat": now.Unix(),
				"exp": now.Add(5 * time.Minute).Unix(),
			}
			if ownerName != "" {
				claims["name"] = ownerName
			}

			token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
			if err != nil {
				return fmt.Errorf("failed to sign owner token: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// pairing runs include settle delays on the server
			Timeout: 60 * time.Second,
		},
		authorize:  func(*http.Request) error { return nil },
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect starts pairing for phone. Gateway hiccups reported with retry:true are retried.
func (c *Client) Connect(ctx context.Context, req ConnectRequest) (*PairingResponse, error) {
	var resp PairingResponse
	err := c.retryWithBackoff(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/api/v1/instances/connect", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Regenerate(ctx context.Context, name string) (*PairingResponse, error) {
	var resp PairingResponse
	err := c.retryWithBackoff(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/api/v1/instances/"+url.PathEscape(name)+"/regenerate", nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) List(ctx context.Context) ([]Instance, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/instances", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

func (c *Client) Get(ctx context.Context, name string) (*InstanceResponse, error) {
	var resp InstanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/instances/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Pause(ctx context.Context, name string) (bool, error) {
	var resp pauseResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/instances/"+url.PathEscape(name)+"/pause", nil, &resp)
	return resp.Paused, err
}

func (c *Client) Resume(ctx context.Context, name string) (bool, error) {
	var resp pauseResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/instances/"+url.PathEscape(name)+"/pause", nil, &resp)
	return resp.Paused, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) retryWithBackoff(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return err
		}

		if attempt < c.maxRetries {
			c.logger.Warn("pairing call failed, retrying",
				"attempt", attempt+1,
				"max_retries", c.maxRetries,
				"backoff", backoff,
				"error", err,
			)

			select {
			case <-time.After(backoff):
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", c.maxRetries, lastErr)
}

// ParsePrivateKey reads a PKCS#8 or PKCS#1 RSA key for WithSigningKey.
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key")
		}
		return rsaKey, nil
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
