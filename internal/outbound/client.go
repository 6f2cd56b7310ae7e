package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/quotes-service/internal/config"
	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

const maxErrorBody = 4 << 10

// StatusError is returned by the JSON helpers for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Client calls the upstream gateway through the Forwarder.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	pool    *Pool
	breaker *BreakerTransport
	logger  observability.Logger
}

// Option is a functional option for the client.
type Option func(*clientOptions)

type clientOptions struct {
	logger    observability.Logger
	metrics   *Metrics
	transport http.RoundTripper
}

// WithLogger sets the logger for the client and its forwarder.
func WithLogger(logger observability.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics for the client.
func WithMetrics(metrics *Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = metrics
	}
}

// WithTransport replaces the pooled transport, for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// New builds the client stack: Forwarder, optional breaker, pooled transport.
func New(cfg *config.UpstreamConfig, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("upstream config is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base url %q", cfg.BaseURL)
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("upstream service name is required")
	}

	o := &clientOptions{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{baseURL: base, logger: o.logger}

	rt := o.transport
	if rt == nil {
		c.pool, err = NewPool(cfg)
		if err != nil {
			return nil, err
		}
		rt = c.pool.Transport()
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = NewBreakerTransport(rt, base.Host, cfg.CircuitBreaker, o.logger, o.metrics)
		rt = c.breaker
	}

	c.http = &http.Client{
		Transport: NewForwarder(rt, cfg.ServiceName,
			WithForwarderLogger(o.logger),
			WithForwarderMetrics(o.metrics),
		),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

// HTTPClient returns the underlying client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Pool returns the connection pool, or nil with a custom transport.
func (c *Client) Pool() *Pool {
	return c.pool
}

// NewRequest builds a request for ref resolved against the base URL. The
// request keeps the values of ctx, including the caller's token, but not
// its cancellation; the transport timeouts bound the call.
func (c *Client) NewRequest(ctx context.Context, method, ref string, body io.Reader) (*http.Request, error) {
	if strings.HasPrefix(ref, "//") {
		return nil, fmt.Errorf("upstream path %q must be relative", ref)
	}
	rel, err := url.Parse(strings.TrimPrefix(ref, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream path %q: %w", ref, err)
	}
	if rel.IsAbs() || rel.Host != "" {
		return nil, fmt.Errorf("upstream path %q must be relative", ref)
	}

	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return http.NewRequestWithContext(context.WithoutCancel(ctx), method, base.ResolveReference(rel).String(), body)
}

// NewPathRequest builds a request for the decoded path p under the base
// URL, with rawQuery passed through as is. p is cleaned so it cannot leave
// the base path, and it is escaped when the URL is encoded.
func (c *Client) NewPathRequest(ctx context.Context, method, p, rawQuery string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path.Clean("/"+p)
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return http.NewRequestWithContext(context.WithoutCancel(ctx), method, u.String(), body)
}

// Do sends req.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// GetJSON sends a GET to ref and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, ref string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, ref, http.NoBody)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

// PostJSON sends in as JSON to ref and decodes the response into out. A
// nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, ref string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	req, err := c.NewRequest(ctx, http.MethodPost, ref, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding upstream response: %w", err)
	}
	return nil
}

// BreakerState returns the circuit breaker state. ok is false when the
// breaker is disabled.
func (c *Client) BreakerState() (state gobreaker.State, ok bool) {
	if c.breaker == nil {
		return gobreaker.StateClosed, false
	}
	return c.breaker.State(), true
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
