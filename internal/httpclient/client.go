// Package httpclient provides the HTTP client used for calls to external
// APIs, with per-request timeouts, User-Agent injection, request ids,
// optional rate limiting and an observation hook.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/soundbird/internal/errors"
)

const (
	// DefaultTimeout is applied when the request context has no deadline.
	DefaultTimeout = 30 * time.Second

	// RequestIDHeader carries a per-request uuid.
	RequestIDHeader = "X-Request-ID"

	defaultUserAgent       = "SoundBird"
	defaultMaxIdleConns    = 20
	defaultIdleConnTimeout = 90 * time.Second
	maxErrorBody           = 4 << 10
)

// Observer is called after every request with the target host, elapsed time
// and transport or status error.
type Observer func(host string, duration time.Duration, err error)

// Config holds configuration for creating a Client.
type Config struct {
	Timeout   time.Duration     // default per-request timeout
	UserAgent string            // sent when the request has none
	Headers   map[string]string // added to every request unless already set
	Limiter   *rate.Limiter     // optional request pacing
	Observer  Observer
	Transport http.RoundTripper // nil uses a tuned http.Transport
}

// Client wraps http.Client for external API calls. Safe for concurrent use.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
	headers   map[string]string
	limiter   *rate.Limiter
	observer  Observer
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// New creates a Client. A nil cfg uses defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          defaultMaxIdleConns,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	}
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		headers[k] = v
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		timeout:   c.Timeout,
		userAgent: c.UserAgent,
		headers:   headers,
		limiter:   c.Limiter,
		observer:  c.Observer,
	}
}

// HTTPClient returns the underlying client, for use with test transports.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends req. The context deadline, or the default timeout when ctx has
// none, bounds the whole exchange including reading the body; the caller
// must close the body before cancel-sensitive work completes.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.Newf("nil request").Component("httpclient").Category(errors.CategoryValidation).Build()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.networkError(err, req, "rate-limit-wait")
		}
	}

	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.observer != nil {
		c.observer(req.URL.Host, time.Since(start), err)
	}
	if err != nil {
		return nil, c.networkError(err, req, "do")
	}
	return resp, nil
}

// GetJSON sends a GET request to url and decodes a JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.doJSON(ctx, req, out)
}

// GetBody sends a GET request and returns the full body of a 2xx response.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, c.statusError(err, req)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.networkError(err, req, "read-body")
	}
	return body, nil
}

// PostJSON sends in as a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.doJSON(ctx, req, out)
}

func (c *Client) doJSON(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return c.statusError(err, req)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(fmt.Errorf("failed to decode response: %w", err)).
			Component("httpclient").
			Category(errors.CategoryIntegration).
			Context("url", req.URL.Redacted()).
			Build()
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

func (c *Client) statusError(err error, req *http.Request) error {
	return errors.New(err).
		Component("httpclient").
		Category(errors.CategoryIntegration).
		Context("url", req.URL.Redacted()).
		Context("request_id", req.Header.Get(RequestIDHeader)).
		Build()
}

func (c *Client) networkError(err error, req *http.Request, operation string) error {
	return errors.New(err).
		Component("httpclient").
		Category(errors.CategoryNetwork).
		Context("operation", operation).
		Context("url", req.URL.Redacted()).
		Build()
}

// Close closes idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
