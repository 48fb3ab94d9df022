// Package api implements the HTTP client for the upstream pollen forecast
// service. The client performs exactly one request per call and classifies
// every failure into the typed errors of the pollen package; retry policy
// lives with the caller, not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pollenlabs/pollenwatch/internal/metrics"
	"github.com/pollenlabs/pollenwatch/pollen"
)

// DefaultBaseURL is the production endpoint for forecast lookups.
const DefaultBaseURL = "https://pollen.googleapis.com/v1/forecast:lookup"

const (
	// RefreshTimeout bounds a scheduled refresh request.
	RefreshTimeout = 10 * time.Second

	// ValidateTimeout bounds a credential validation request. More generous
	// than RefreshTimeout because validation runs interactively, once.
	ValidateTimeout = 15 * time.Second
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits shared by all sources polling the same upstream
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// NewHTTPClient returns an *http.Client tuned for periodic polling.
//
// The client carries no global timeout; timeouts are applied per request via
// context so validation and refresh calls can use different budgets while
// sharing one connection pool.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			MaxConnsPerHost:     defaultMaxConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
			DisableKeepAlives:   false,
		},
	}
}

// CloseIdleConnections releases pooled connections held by a client built
// with [NewHTTPClient]. Safe to call multiple times.
func CloseIdleConnections(hc *http.Client) {
	if hc == nil {
		return
	}
	if transport, ok := hc.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// Client calls the upstream forecast service on behalf of one source.
//
// Each call performs a single request. Failures come back as exactly one of
// the pollen error types, with API key and raw coordinates already redacted
// from every message, so results are safe to log and to hand to API
// consumers as-is.
type Client struct {
	hc       *http.Client
	baseURL  string
	apiKey   string
	referrer string
	logger   *slog.Logger
}

// Config carries the constructor parameters for [New].
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the upstream endpoint. Empty means [DefaultBaseURL].
	BaseURL string

	// Referrer is sent as the Referer header when non-empty, for API keys
	// restricted to specific HTTP referrers.
	Referrer string

	// HTTPClient is the underlying client, usually shared across sources.
	// Nil means a private client from [NewHTTPClient].
	HTTPClient *http.Client

	// Logger receives debug lines. Nil means slog.Default().
	Logger *slog.Logger
}

// New creates a [Client] for one source.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = NewHTTPClient()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		hc:       hc,
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		referrer: cfg.Referrer,
		logger:   logger,
	}
}

// Request identifies one forecast lookup.
type Request struct {
	// Latitude and Longitude locate the forecast. Serialized with six
	// decimal places, matching the precision the upstream expects.
	Latitude  float64
	Longitude float64

	// Days is the forecast horizon to request, 1..5.
	Days int

	// Language optionally localizes display names and advice. Empty omits
	// the parameter entirely.
	Language string

	// Timeout bounds this call. Zero means [RefreshTimeout].
	Timeout time.Duration
}

// Forecast performs one forecast lookup and decodes the payload.
//
// The response body is read exactly once and limited to 1MB. Status codes
// map onto the pollen error taxonomy:
//
//	401, 403      -> *pollen.AuthError, message extracted from the body
//	429           -> *pollen.RateLimitError, delay from Retry-After
//	5xx           -> *pollen.UnreachableError
//	other non-200 -> *pollen.MalformedError
//
// Transport failures and timeouts also yield *pollen.UnreachableError. When
// the surrounding context is canceled the bare context error is returned so
// callers can tell teardown apart from upstream trouble.
func (c *Client) Forecast(ctx context.Context, req Request) (*pollen.RawForecast, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = RefreshTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("location.latitude", strconv.FormatFloat(req.Latitude, 'f', 6, 64))
	q.Set("location.longitude", strconv.FormatFloat(req.Longitude, 'f', 6, 64))
	q.Set("days", strconv.Itoa(req.Days))
	if req.Language != "" {
		q.Set("languageCode", req.Language)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &pollen.ConfigError{Reason: "building request: " + redact(err.Error(), c.apiKey)}
	}
	if c.referrer != "" {
		httpReq.Header.Set("Referer", c.referrer)
	}

	c.logger.Debug("fetching forecast", "days", req.Days, "language_set", req.Language != "")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		metrics.UpstreamRequests.WithLabelValues("network").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &pollen.UnreachableError{Reason: "request timed out"}
		}
		return nil, &pollen.UnreachableError{Reason: redact(err.Error(), c.apiKey)}
	}
	defer func() { _ = resp.Body.Close() }()

	// read the body exactly once, with a size limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("network").Inc()
		return nil, &pollen.UnreachableError{Reason: "reading response: " + redact(err.Error(), c.apiKey)}
	}

	metrics.UpstreamRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &pollen.AuthError{Message: c.authMessage(body)}

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &pollen.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now),
		}

	case resp.StatusCode >= 500:
		return nil, &pollen.UnreachableError{Reason: fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode)}

	case resp.StatusCode != http.StatusOK:
		return nil, &pollen.MalformedError{Reason: fmt.Sprintf("unexpected HTTP %d", resp.StatusCode)}
	}

	var raw pollen.RawForecast
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &pollen.MalformedError{Reason: "response body is not valid JSON"}
	}
	if raw.DailyInfo == nil {
		return nil, &pollen.MalformedError{Reason: "response carries no dailyInfo"}
	}
	return &raw, nil
}

// parseRetryAfter interprets a Retry-After header value as a delay. Both
// header forms are supported: a number of seconds and an HTTP date. Returns
// zero when the header is absent or unusable; the caller picks the fallback.
func parseRetryAfter(value string, now func() time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now()); d > 0 {
			return d
		}
	}
	return 0
}

// statusClass buckets an HTTP status code for the upstream request counter.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
