// Package canvas provides a resilient HTTP client for the Canvas LMS
// REST API: bounded retry with exponential backoff, automatic Link-header
// pagination, and structured error classification.
package canvas

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
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/edutools/mcp-canvas/instrumentation"
	"github.com/edutools/mcp-canvas/internal/util"
)

const (
	// DefaultMaxRetries bounds the retry loop for 429/5xx and network
	// failures.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the backoff base. Attempt n sleeps
	// base * 2^n before the next try.
	DefaultRetryDelay = 1 * time.Second

	// errorExcerptLimit truncates response bodies quoted in errors.
	errorExcerptLimit = 200
)

// ErrMaxRetriesExceeded is returned after every retry attempt for a
// retryable failure has been spent. It is distinct from the classified
// error of any single attempt; use errors.Is to detect it.
var ErrMaxRetriesExceeded = errors.New("canvas: max retries exceeded")

// APIError is a classified, non-retryable failure from the Canvas API.
// StatusCode is the upstream HTTP status, or 0 for network-level errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("canvas: network error: %s", e.Message)
	}
	return fmt.Sprintf("canvas: API error (%d): %s", e.StatusCode, e.Message)
}

// Params holds query parameters for a request. Array values expand to
// repeated key[]=value entries in slice order; nil values are skipped.
type Params map[string]any

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay overrides the backoff base.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithInstrumentation wires request metrics.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(c *Client) {
		if inst != nil {
			c.metrics = inst.Metrics()
		}
	}
}

// Client talks to a single Canvas instance on behalf of a single user
// token. It is safe for concurrent use; retry and pagination state is
// confined to each call.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
}

// NewClient creates a client for the given API token and Canvas domain
// (hostname only, e.g. "school.instructure.com").
func NewClient(token, domain string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("canvas: api token is required")
	}
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if domain == "" || strings.Contains(domain, "://") {
		return nil, fmt.Errorf("canvas: invalid domain %q", domain)
	}

	c := &Client{
		baseURL:    "https://" + domain + "/api/v1",
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request performs method on path (relative to /api/v1) and returns the
// raw JSON body. Array responses are concatenated across all pages. A nil
// result with a nil error means the upstream answered 204 No Content.
func (c *Client) Request(ctx context.Context, method, path string, params Params, body any) (json.RawMessage, error) {
	reqURL, err := c.buildURL(path, params)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("canvas: encode request body: %w", err)
		}
	}

	start := time.Now()
	data, status, err := c.doWithRetry(ctx, method, reqURL, payload)
	c.recordRequest(ctx, method, path, status, time.Since(start))
	return data, err
}

// doWithRetry is the bounded retry state machine: one explicit loop with
// an attempt counter, never recursion. Pagination happens inside a
// successful attempt and is itself retry-free.
func (c *Client) doWithRetry(ctx context.Context, method, reqURL string, payload []byte) (json.RawMessage, int, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.countRetry(ctx, method)
			if err := c.backoff(ctx, attempt-1); err != nil {
				return nil, lastStatus, err
			}
		}

		resp, err := c.send(ctx, method, reqURL, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, lastStatus, ctx.Err()
			}
			lastErr = &APIError{StatusCode: 0, Message: err.Error()}
			lastStatus = 0
			c.logger.Warn("Canvas request failed, will retry",
				"method", method, "attempt", attempt, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = classifyError(resp)
			lastStatus = resp.StatusCode
			resp.Body.Close()
			c.logger.Warn("Canvas returned retryable status",
				"method", method, "status", resp.StatusCode, "attempt", attempt)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := classifyError(resp)
			resp.Body.Close()
			return nil, resp.StatusCode, apiErr
		}

		if resp.StatusCode == http.StatusNoContent {
			resp.Body.Close()
			return nil, resp.StatusCode, nil
		}

		data, retryable, err := c.readBody(ctx, resp)
		if err != nil {
			// A truncated or unparsable body on a 2xx response is a
			// transport-level failure and gets retried like one.
			if retryable {
				lastErr = err
				lastStatus = resp.StatusCode
				c.logger.Warn("Canvas response body unusable, will retry",
					"method", method, "attempt", attempt, "error", err)
				continue
			}
			return nil, resp.StatusCode, err
		}
		return data, resp.StatusCode, nil
	}

	return nil, lastStatus, fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, c.maxRetries+1, lastErr)
}

func (c *Client) send(ctx context.Context, method, reqURL string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// readBody consumes a successful response, following the pagination chain
// when the body is a JSON array. Failures reading or parsing the first
// page are flagged retryable; pagination failures are not.
func (c *Client) readBody(ctx context.Context, resp *http.Response) (json.RawMessage, bool, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, &APIError{StatusCode: 0, Message: err.Error()}
	}

	if !isJSONArray(data) {
		return data, false, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, true, &APIError{StatusCode: 0, Message: fmt.Sprintf("parse response page: %v", err)}
	}

	nextURL := nextPageURL(resp.Header.Get("Link"))
	if nextURL == "" {
		return data, false, nil
	}

	combined, err := c.paginate(ctx, items, nextURL)
	return combined, false, err
}

// paginate follows rel="next" links, concatenating array pages in order.
// Follow-up pages get exactly one attempt each; a failure is a hard error
// for the whole request.
func (c *Client) paginate(ctx context.Context, items []json.RawMessage, nextURL string) (json.RawMessage, error) {
	for nextURL != "" {
		resp, err := c.send(ctx, http.MethodGet, nextURL, nil)
		if err != nil {
			return nil, &APIError{StatusCode: 0, Message: err.Error()}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := classifyError(resp)
			resp.Body.Close()
			return nil, apiErr
		}

		page, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &APIError{StatusCode: 0, Message: err.Error()}
		}

		var pageItems []json.RawMessage
		if err := json.Unmarshal(page, &pageItems); err != nil {
			return nil, fmt.Errorf("canvas: parse response page: %w", err)
		}
		items = append(items, pageItems...)

		nextURL = nextPageURL(resp.Header.Get("Link"))
	}

	return json.Marshal(items)
}

// backoff sleeps base * 2^exponent, honoring context cancellation.
func (c *Client) backoff(ctx context.Context, exponent int) error {
	delay := c.retryDelay << exponent
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) buildURL(path string, params Params) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("canvas: invalid path %q: %w", path, err)
	}

	if len(params) > 0 {
		q := u.Query()
		for key, value := range params {
			if value == nil {
				continue
			}
			switch v := value.(type) {
			case []string:
				for _, item := range v {
					q.Add(key+"[]", item)
				}
			case []int:
				for _, item := range v {
					q.Add(key+"[]", fmt.Sprint(item))
				}
			case []any:
				for _, item := range v {
					q.Add(key+"[]", fmt.Sprint(item))
				}
			default:
				q.Set(key, fmt.Sprint(v))
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// classifyError builds an APIError from a non-success response, quoting
// at most errorExcerptLimit characters of the body.
func classifyError(resp *http.Response) *APIError {
	message := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if body, err := io.ReadAll(io.LimitReader(resp.Body, errorExcerptLimit+1)); err == nil && len(body) > 0 {
		message = util.SafeTruncate(string(body), errorExcerptLimit)
		if len(body) > errorExcerptLimit {
			message += "..."
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// nextPageURL extracts the rel="next" target from a Link header, or ""
// when the chain ends.
func nextPageURL(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}
	for _, link := range strings.Split(linkHeader, ",") {
		if !strings.Contains(link, `rel="next"`) {
			continue
		}
		start := strings.Index(link, "<")
		end := strings.Index(link, ">")
		if start >= 0 && end > start {
			return link[start+1 : end]
		}
	}
	return ""
}

func isJSONArray(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func (c *Client) recordRequest(ctx context.Context, method, path string, status int, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(instrumentation.AttrCanvasMethod, method),
		attribute.String(instrumentation.AttrCanvasPath, path),
		attribute.Int(instrumentation.AttrCanvasStatus, status),
	)
	c.metrics.CanvasRequestsTotal.Add(ctx, 1, attrs)
	c.metrics.CanvasRequestDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

func (c *Client) countRetry(ctx context.Context, method string) {
	if c.metrics == nil {
		return
	}
	c.metrics.CanvasRetriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrCanvasMethod, method),
	))
}
