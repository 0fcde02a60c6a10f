// Package marketplace is the HTTP client for the target marketplace's
// category-attribute and listing endpoints.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/catalogbridge/internal/gate"
	"github.com/raphaelgruber/catalogbridge/internal/metrics"
	"github.com/raphaelgruber/catalogbridge/internal/models"
)

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed unchanged later.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// transportError wraps network failures that never produced a response.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Transient() bool { return true }

// TokenSource supplies the bearer token for each request. Refreshing it is
// the caller's concern.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never changes.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Client talks to the marketplace API.
type Client struct {
	baseURL        string
	tokens         TokenSource
	httpClient     *http.Client
	gate           *gate.Gate
	schemaTimeout  time.Duration
	publishTimeout time.Duration
	schemaRetries  int
	metrics        *metrics.Collector
	logger         *slog.Logger
}

// Option configures Client behavior.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithGate routes every call through g.
func WithGate(g *gate.Gate) Option {
	return func(c *Client) { c.gate = g }
}

// WithTimeouts sets the per-call timeouts for schema reads and publishes.
func WithTimeouts(schema, publish time.Duration) Option {
	return func(c *Client) {
		c.schemaTimeout = schema
		c.publishTimeout = publish
	}
}

// WithSchemaRetries sets how often a failed schema read is retried on 5xx
// or transport errors.
func WithSchemaRetries(n int) Option {
	return func(c *Client) { c.schemaRetries = n }
}

// WithMetrics records publish timings on mc.
func WithMetrics(mc *metrics.Collector) Option {
	return func(c *Client) { c.metrics = mc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		tokens:         tokens,
		httpClient:     &http.Client{},
		schemaTimeout:  20 * time.Second,
		publishTimeout: 45 * time.Second,
		schemaRetries:  2,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSchema implements schema.Fetcher via GET /categories/{id}/attributes.
func (c *Client) FetchSchema(ctx context.Context, categoryID string) (*models.AttributeSchema, error) {
	path := "/categories/" + url.PathEscape(categoryID) + "/attributes"

	var wire []wireAttribute
	var err error
	for attempt := 0; attempt <= c.schemaRetries; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, time.Duration(1<<(attempt-1))*250*time.Millisecond); werr != nil {
				return nil, werr
			}
		}
		err = c.call(ctx, c.schemaTimeout, http.MethodGet, path, nil, &wire)
		if err == nil || !isRetryable(err) {
			break
		}
		c.logger.Debug("schema fetch retry", "category_id", categoryID, "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch schema %s: %w", categoryID, err)
	}
	return schemaFromWire(categoryID, wire), nil
}

// Publish submits one listing for a set of targets via POST /listings and
// returns the per-target results.
func (c *Client) Publish(ctx context.Context, req models.ListingRequest) ([]models.TargetResult, error) {
	var resp publishResponse
	start := time.Now()
	if err := c.call(ctx, c.publishTimeout, http.MethodPost, "/listings", toWireListing(req), &resp); err != nil {
		c.metrics.RecordError(metrics.OpPublish)
		return nil, fmt.Errorf("publish %s: %w", req.CategoryID, err)
	}
	c.metrics.RecordTiming(metrics.OpPublish, time.Since(start))
	return resp.Results, nil
}

// call runs one request through the gate.
func (c *Client) call(ctx context.Context, timeout time.Duration, method, path string, body, dest any) error {
	do := func(ctx context.Context) error {
		return c.do(ctx, method, path, body, dest)
	}
	if c.gate == nil {
		if timeout <= 0 {
			return do(ctx)
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := do(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("marketplace: %w after %s", gate.ErrTimeout, timeout)
		}
		return err
	}
	return c.gate.DoWithTimeout(ctx, timeout, do)
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dest == nil {
			return nil
		}
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	bodyStr := string(data)
	if len(bodyStr) > 512 {
		bodyStr = bodyStr[:512]
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &gate.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After")), Err: apiErr}
	}
	return apiErr
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var te *transportError
	var ne net.Error
	return errors.As(err, &te) || errors.As(err, &ne) || errors.Is(err, gate.ErrTimeout)
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
