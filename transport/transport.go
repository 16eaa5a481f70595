// Package transport executes the signed JSON HTTP calls the flow engine
// issues against the orchestration server. The engine only depends on the
// Executor interface, so tests and hosts can substitute their own client.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Executor performs the engine's HTTP calls. Implementations must be safe
// for concurrent use; all calls honor the supplied context.
type Executor interface {
	// Post sends a JSON body and returns the response body.
	Post(ctx context.Context, url string, body []byte) ([]byte, error)

	// Get fetches a URL (used for locale content, which is HTTP-cacheable).
	Get(ctx context.Context, url string) ([]byte, error)
}

// Error is a network or server-level failure: a non-2xx status, a timeout,
// or an I/O error. Status is zero when no response was received.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s returned status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transport: request to %s failed: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client is the default Executor backed by net/http.
type Client struct {
	httpClient *http.Client
	userAgent  string

	// acceptLanguage supplies the Accept-Language header value per request,
	// typically bound to the locale service's current language tag.
	acceptLanguage func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithUserAgent sets the User-Agent header for all requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithAcceptLanguage sets the provider for the Accept-Language header.
func WithAcceptLanguage(provider func() string) Option {
	return func(c *Client) { c.acceptLanguage = provider }
}

// NewClient creates a Client with a 30 second request timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "keyless-go",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends a JSON document and returns the raw response body.
// Responses are never cached: every step request must hit the server.
func (c *Client) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Cache-Control", "no-cache, no-store")
	c.setCommonHeaders(req)

	return c.do(req)
}

// Get fetches a URL. Unlike Post, responses may be served from an HTTP
// cache along the way; no Cache-Control override is set.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	c.setCommonHeaders(req)

	return c.do(req)
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.acceptLanguage != nil {
		if lang := c.acceptLanguage(); lang != "" {
			req.Header.Set("Accept-Language", lang)
		}
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	slog.Debug("transport: response",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
	)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: req.URL.String(), Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{URL: req.URL.String(), Status: resp.StatusCode}
	}
	return body, nil
}
