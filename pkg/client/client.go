// Package client provides the HTTP layer for CDX index servers: request
// shaping, outcome classification, retries on transient failures and an
// optional response cache.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/cdx-client/pkg/cache"
	"github.com/Sternrassler/cdx-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version is reported in the default User-Agent.
const Version = "0.1.0"

// DefaultUserAgent identifies this client to index servers.
const DefaultUserAgent = "cdx-client/" + Version

// PageParam is the query parameter index servers use for page numbers.
// Its presence changes how a 400 response is read.
const PageParam = "page"

// Prometheus metrics for index requests.
var (
	cdxRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdx_requests_total",
		Help: "Total CDX requests by endpoint and status",
	}, []string{"endpoint", "status"})

	cdxRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdx_request_duration_seconds",
		Help:    "CDX request duration in seconds by endpoint, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	cdxErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdx_errors_total",
		Help: "Total CDX errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassInvalidQuery is a 400 on an unpaged request.
	ErrorClassInvalidQuery ErrorClass = "invalid_query"

	// ErrorClassClient represents other 4xx errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx errors that are not retried.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassUnavailable represents 502/503/504, which are retried.
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassNetwork represents connection-level failures, which are retried.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTransport represents any other transport failure.
	ErrorClassTransport ErrorClass = "transport"
)

// Response is a fully read index response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte

	// Cached is true when the response came from the cache.
	Cached bool
}

// Client issues GET requests against CDX index servers.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request
	UserAgent string

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry policy for transient failures
	Retry RetryPolicy

	// Cache is optional; when set, 200 responses are stored and served from Redis
	Cache *cache.Manager

	// Limiter is optional; when set, every attempt waits for a token
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns the default configuration: fixed 1s retries
// without a cap, no cache, no pacing.
func DefaultConfig() Config {
	return Config{
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryPolicy(),
	}
}

// New creates a new CDX client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "cdx-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:   cfg.Cache,
		limiter: cfg.Limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Fetch performs one logical GET of endpoint with params.
//
// Outcomes, in order:
//   - 400 without a page parameter: ErrInvalidQuery.
//   - 400 or 404: returned as a Response with a nil error. With a page
//     parameter 400 means the page number is past the last page; 404
//     means no captures matched.
//   - 502, 503, 504 and connection failures: retried per the RetryPolicy.
//   - any other non-2xx: *HTTPError.
//   - any other transport failure: *HTTPError wrapping the cause.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	params, err := prepareParams(params)
	if err != nil {
		return nil, err
	}

	label := endpointLabel(endpoint)
	startTime := time.Now()
	defer func() {
		cdxRequestDuration.WithLabelValues(label).Observe(time.Since(startTime).Seconds())
	}()

	cacheKey := cache.CacheKey{Endpoint: endpoint, QueryParams: params}
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().Str("endpoint", endpoint).Str("key", cacheKey.String()).Msg("Cache hit")
			cdxRequestsTotal.WithLabelValues(label, "cached").Inc()
			return &Response{
				URL:        endpoint,
				StatusCode: entry.StatusCode,
				Header:     entry.Headers,
				Body:       entry.Data,
				Cached:     true,
			}, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	var resp *Response
	err = retryWithBackoff(ctx, c.config.Retry, c.logger.With().Str("endpoint", endpoint).Logger(), func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &HTTPError{URL: endpoint, ErrorClass: ErrorClassTransport, Message: "rate limit wait", Err: err}
		}

		var attemptErr error
		resp, attemptErr = c.do(ctx, endpoint, label, params)
		return attemptErr
	})
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("CDX request failed")
		return nil, err
	}

	if c.cache != nil && resp.StatusCode == http.StatusOK {
		entry := cache.NewEntry(resp.StatusCode, resp.Header, resp.Body, c.cache.DefaultTTL())
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// do performs a single HTTP attempt and classifies its outcome.
func (c *Client) do(ctx context.Context, endpoint, label string, params url.Values) (*Response, error) {
	reqURL, err := buildURL(endpoint, params)
	if err != nil {
		return nil, &HTTPError{URL: endpoint, ErrorClass: ErrorClassTransport, Message: "build request url", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &HTTPError{URL: endpoint, ErrorClass: ErrorClassTransport, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", req.URL.RawQuery).
		Msg("Executing CDX request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		class := classifyTransportError(ctx, err)
		cdxErrorsTotal.WithLabelValues(string(class)).Inc()
		cdxRequestsTotal.WithLabelValues(label, "network_error").Inc()
		return nil, &HTTPError{URL: endpoint, ErrorClass: class, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		// A body cut short is a connection problem, same as a refused dial.
		class := classifyTransportError(ctx, err)
		cdxErrorsTotal.WithLabelValues(string(class)).Inc()
		cdxRequestsTotal.WithLabelValues(label, "network_error").Inc()
		return nil, &HTTPError{URL: endpoint, StatusCode: httpResp.StatusCode, ErrorClass: class, Message: "read body", Err: err}
	}

	cdxRequestsTotal.WithLabelValues(label, strconv.Itoa(httpResp.StatusCode)).Inc()

	class := classifyStatus(httpResp.StatusCode, params)
	if class == "" {
		if httpResp.StatusCode >= 400 {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Int("status", httpResp.StatusCode).
				Msg("Giving up on status, not an error")
		}
		return &Response{
			URL:        endpoint,
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       body,
		}, nil
	}

	cdxErrorsTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", httpResp.StatusCode).
		Str("error_class", string(class)).
		Msg("CDX request error")

	httpErr := &HTTPError{
		URL:        endpoint,
		StatusCode: httpResp.StatusCode,
		ErrorClass: class,
		Message:    httpResp.Status,
	}
	if class == ErrorClassInvalidQuery {
		httpErr.Message = "invalid url pattern"
		httpErr.Err = ErrInvalidQuery
	}
	return nil, httpErr
}

// classifyStatus returns "" for responses handed back to the caller and an
// error class for everything else.
func classifyStatus(statusCode int, params url.Values) ErrorClass {
	switch {
	case statusCode == http.StatusBadRequest && !params.Has(PageParam):
		return ErrorClassInvalidQuery
	case statusCode == http.StatusBadRequest, statusCode == http.StatusNotFound:
		return ""
	case statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return ErrorClassUnavailable
	case statusCode >= 200 && statusCode < 300:
		return ""
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// classifyTransportError separates connection-level failures, which are
// worth retrying, from everything else.
func classifyTransportError(ctx context.Context, err error) ErrorClass {
	if ctx.Err() != nil {
		return ErrorClassTransport
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return ErrorClassNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorClassNetwork
	}

	return ErrorClassTransport
}

// prepareParams copies params and applies the upstream's spelling rules:
// from_ts is sent as from, and limit must be an integer.
func prepareParams(params url.Values) (url.Values, error) {
	out := make(url.Values, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}

	if v, ok := out["from_ts"]; ok {
		out["from"] = v
		delete(out, "from_ts")
	}

	if out.Has("limit") {
		if _, err := strconv.Atoi(out.Get("limit")); err != nil {
			return nil, fmt.Errorf("limit must be an integer (got %q): %w", out.Get("limit"), err)
		}
	}

	return out, nil
}

// buildURL merges params into any query already present on endpoint.
func buildURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// endpointLabel keeps metric cardinality bounded to host and path.
func endpointLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "invalid"
	}
	return u.Host + u.Path
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}
