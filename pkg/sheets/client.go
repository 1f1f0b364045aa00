// Package sheets provides the spreadsheet data transport: a primary call
// through the remote proxy, a direct API fallback, and table parsing.
// Calls run through the fetch orchestrator for caching and retries.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/dashboard-resilience/pkg/cache"
	"github.com/Sternrassler/dashboard-resilience/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for spreadsheet transport.
var (
	sheetsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_sheets_requests_total",
		Help: "Total spreadsheet requests by path and status",
	}, []string{"path", "status"})

	sheetsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_sheets_request_duration_seconds",
		Help:    "Spreadsheet request duration in seconds by path",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"path"})
)

const (
	// PathProxy labels the primary remote-proxy transport
	PathProxy = "proxy"

	// PathDirect labels the direct API fallback
	PathDirect = "direct"

	// DefaultAPIURL is the public spreadsheet API origin
	DefaultAPIURL = "https://sheets.googleapis.com"

	// maxErrorBody bounds how much of an error body is kept for logs
	maxErrorBody = 512

	// APIKeyHeader carries the API key on the direct path
	APIKeyHeader = "X-Goog-Api-Key"
)

// Config holds the client configuration.
type Config struct {
	// ProxyURL is the primary remote-proxy origin (REQUIRED)
	ProxyURL string

	// APIURL is the direct API origin for the fallback path
	APIURL string

	// APIKey enables the direct fallback; empty disables it
	APIKey string

	// UserAgent header sent on both paths
	UserAgent string

	// Timeout bounds a single HTTP call
	Timeout time.Duration

	// CacheTTL is the default lifetime of fetched tables
	CacheTTL time.Duration

	// MaxConcurrency bounds BatchGet fan-out
	MaxConcurrency int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(proxyURL, apiKey string) Config {
	return Config{
		ProxyURL:       proxyURL,
		APIURL:         DefaultAPIURL,
		APIKey:         apiKey,
		UserAgent:      "dashboard-resilience/0.1.0",
		Timeout:        10 * time.Second,
		CacheTTL:       5 * time.Minute,
		MaxConcurrency: 4,
	}
}

// Client fetches spreadsheet ranges.
type Client struct {
	httpClient   *http.Client
	orchestrator *fetch.Orchestrator
	config       Config
	logger       zerolog.Logger
}

// New creates a new spreadsheet client on top of orchestrator.
func New(cfg Config, orchestrator *fetch.Orchestrator) (*Client, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("fetch orchestrator is required")
	}
	if cfg.ProxyURL == "" {
		return nil, fmt.Errorf("%w: proxy url", ErrMissingConfig)
	}
	if cfg.APIKey != "" && cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	cfg.ProxyURL = strings.TrimRight(cfg.ProxyURL, "/")
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		orchestrator: orchestrator,
		config:       cfg,
		logger:       log.With().Str("component", "sheets-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// CacheKey returns the cache key for a spreadsheet range.
func CacheKey(spreadsheetID, rng string) string {
	return cache.Key{
		Resource: spreadsheetID,
		Params:   url.Values{"range": []string{rng}},
	}.String()
}

// GetOptions tunes a single GetTable call.
type GetOptions struct {
	// TTL overrides Config.CacheTTL
	TTL time.Duration

	// BypassCache forces a network fetch
	BypassCache bool
}

// GetTable returns the parsed range, served from cache when fresh.
func (c *Client) GetTable(ctx context.Context, spreadsheetID, rng string, opts GetOptions) (*Table, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id", ErrMissingConfig)
	}
	if rng == "" {
		return nil, fmt.Errorf("%w: range", ErrMissingConfig)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.config.CacheTTL
	}

	req := fetch.Request{
		Key:         CacheKey(spreadsheetID, rng),
		Primary:     c.Primary(spreadsheetID, rng),
		TTL:         ttl,
		Fallback:    c.Fallback(spreadsheetID, rng),
		BypassCache: opts.BypassCache,
	}

	return fetch.Fetch[*Table](ctx, c.orchestrator, req)
}

// Primary returns the remote-proxy call for a range.
func (c *Client) Primary(spreadsheetID, rng string) fetch.Call {
	u := fmt.Sprintf("%s/sheets/%s/values/%s",
		c.config.ProxyURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))

	return fetch.Typed(func(ctx context.Context) (*Table, error) {
		return c.get(ctx, PathProxy, u, nil)
	})
}

// Fallback returns the direct API call for a range, or nil when no API
// key is configured.
func (c *Client) Fallback(spreadsheetID, rng string) fetch.Call {
	if c.config.APIKey == "" {
		return nil
	}

	// The key travels in a header so request URLs stay safe to log
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		c.config.APIURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))
	header := http.Header{APIKeyHeader: []string{c.config.APIKey}}

	return fetch.Typed(func(ctx context.Context) (*Table, error) {
		return c.get(ctx, PathDirect, u, header)
	})
}

// get performs one HTTP call and maps the outcome onto the error taxonomy.
func (c *Client) get(ctx context.Context, path, u string, header http.Header) (*Table, error) {
	startTime := time.Now()
	defer func() {
		sheetsRequestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = redactURL(err)
		sheetsRequestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Warn().Err(err).Str("path", path).Msg("Spreadsheet request failed")
		return nil, &HTTPError{
			Path:    path,
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	sheetsRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		raw := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

		c.logger.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Spreadsheet request error")

		if fetch.IsRejectionStatus(resp.StatusCode) {
			return nil, fetch.NewRejection(resp.StatusCode, raw)
		}

		class := ErrorClassClient
		if resp.StatusCode >= 500 {
			class = ErrorClassServer
		}
		return nil, &HTTPError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
			Err:        raw,
		}
	}

	var vr ValueRange
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, &HTTPError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    "malformed values payload",
			Err:        err,
		}
	}

	table := ParseValueRange(vr)
	c.logger.Debug().
		Str("path", path).
		Str("range", table.Range).
		Int("rows", table.RowCount()).
		Msg("Fetched spreadsheet range")

	return table, nil
}

// redactURL drops the query string from a *url.Error.
func redactURL(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	if i := strings.IndexByte(uerr.URL, '?'); i >= 0 {
		return &url.Error{Op: uerr.Op, URL: uerr.URL[:i], Err: uerr.Err}
	}
	return err
}
