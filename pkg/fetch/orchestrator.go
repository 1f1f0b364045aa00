// Package fetch produces values for logical resources while minimizing
// redundant network calls. It composes the TTL cache, the retry
// orchestrator and a two-path (primary, fallback) call strategy.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/dashboard-resilience/pkg/cache"
	"github.com/Sternrassler/dashboard-resilience/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_fetch_requests_total",
		Help: "Total fetch requests by outcome",
	}, []string{"outcome"}) // cache_hit, primary, fallback, error

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_fetch_duration_seconds",
		Help:    "Fetch duration in seconds by outcome",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})
)

const (
	// DefaultMaxRows bounds RowCounter results when Config.MaxRows is unset.
	DefaultMaxRows = 10000

	// DefaultLoadTimeout bounds a shared load when Config.LoadTimeout is unset.
	DefaultLoadTimeout = time.Minute
)

// Call produces a value for a resource over one transport.
type Call func(ctx context.Context) (any, error)

// Typed adapts a typed call to Call.
func Typed[T any](fn func(ctx context.Context) (T, error)) Call {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

// RowCounter is implemented by tabular values subject to the row bound.
type RowCounter interface {
	RowCount() int
}

// Request describes one resource fetch.
type Request struct {
	// Key is the cache key of the logical resource (required)
	Key string

	// Primary is tried first, with retries (required)
	Primary Call

	// Fallback is tried once after Primary is exhausted (optional)
	Fallback Call

	// TTL is the cache lifetime of a successful result (required, > 0)
	TTL time.Duration

	// BypassCache skips the cache read; the result is still cached
	BypassCache bool
}

func (r Request) validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	if r.Primary == nil {
		return fmt.Errorf("%w: primary call is required", ErrInvalidRequest)
	}
	if r.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive (got %v)", ErrInvalidRequest, r.TTL)
	}
	return nil
}

// Config holds the orchestrator configuration.
type Config struct {
	// Cache receives successful results (required)
	Cache *cache.Store

	// Retry wraps the primary call
	Retry retry.Config

	// MaxRows bounds RowCounter results
	MaxRows int

	// LoadTimeout bounds a load shared by concurrent callers. The shared
	// load does not inherit any single caller's cancellation.
	LoadTimeout time.Duration

	// Logger overrides the component logger
	Logger *zerolog.Logger
}

// DefaultConfig returns a default configuration around store.
func DefaultConfig(store *cache.Store) Config {
	cfg := Config{
		Cache:   store,
		Retry:       retry.DefaultConfig(),
		MaxRows:     DefaultMaxRows,
		LoadTimeout: DefaultLoadTimeout,
	}
	cfg.Retry.Operation = "fetch_primary"
	return cfg
}

// Orchestrator is the fetch entry point shared by data-fetching callers.
type Orchestrator struct {
	cache       *cache.Store
	retry       retry.Config
	maxRows     int
	loadTimeout time.Duration
	group       singleflight.Group
	logger      zerolog.Logger
}

// New creates a new fetch orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}

	logger := log.With().Str("component", "fetch-orchestrator").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = &logger
	}

	return &Orchestrator{
		cache:       cfg.Cache,
		retry:       cfg.Retry,
		maxRows:     cfg.MaxRows,
		loadTimeout: cfg.LoadTimeout,
		logger:      logger,
	}, nil
}

// FetchResource returns the value for req.Key:
//
//  1. A fresh cache entry short-circuits all network activity.
//  2. Otherwise Primary runs under the retry policy.
//  3. If Primary fails, Fallback runs once without retries.
//  4. If both fail, the fallback's error is returned.
//  5. A successful result from either path is cached under Key with TTL.
//
// Concurrent cache misses for the same key share a single load. The shared
// load runs detached from the callers' contexts under Config.LoadTimeout;
// a caller whose ctx ends stops waiting without affecting the others.
func (o *Orchestrator) FetchResource(ctx context.Context, req Request) (any, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.BypassCache {
		return o.load(ctx, req)
	}

	if v, ok := o.cache.Get(req.Key); ok {
		fetchRequestsTotal.WithLabelValues("cache_hit").Inc()
		o.logger.Debug().Str("key", req.Key).Bool("cache_hit", true).Msg("Served from cache")
		return v, nil
	}

	ch := o.group.DoChan(req.Key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.loadTimeout)
		defer cancel()
		return o.load(lctx, req)
	})

	select {
	case <-ctx.Done():
		o.logger.Debug().Str("key", req.Key).Msg("Caller left before shared load finished")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			o.logger.Debug().Str("key", req.Key).Msg("Shared in-flight load")
		}
		return res.Val, res.Err
	}
}

// load runs the primary/fallback sequence and caches a terminal success.
func (o *Orchestrator) load(ctx context.Context, req Request) (any, error) {
	start := time.Now()

	v, primaryErr := retry.DoValue(ctx, o.retry, func(ctx context.Context) (any, error) {
		v, err := req.Primary(ctx)
		if err != nil {
			return nil, err
		}
		if err := o.checkRows(v); err != nil {
			return nil, retry.Permanent(err)
		}
		return v, nil
	})
	if primaryErr == nil {
		o.store(req, v, "primary", start)
		return v, nil
	}

	if req.Fallback == nil || ctx.Err() != nil {
		o.fail(req, primaryErr, start)
		return nil, primaryErr
	}

	o.logger.Warn().
		Err(primaryErr).
		Str("key", req.Key).
		Msg("Primary path failed, trying fallback")

	v, fallbackErr := req.Fallback(ctx)
	if fallbackErr == nil {
		fallbackErr = o.checkRows(v)
	}
	if fallbackErr != nil {
		o.fail(req, fallbackErr, start)
		return nil, fallbackErr
	}

	o.store(req, v, "fallback", start)
	return v, nil
}

func (o *Orchestrator) checkRows(v any) error {
	rc, ok := v.(RowCounter)
	if !ok {
		return nil
	}
	if n := rc.RowCount(); n > o.maxRows {
		return fmt.Errorf("%w: %d rows (max %d)", ErrTooManyRows, n, o.maxRows)
	}
	return nil
}

func (o *Orchestrator) store(req Request, v any, outcome string, start time.Time) {
	o.cache.Set(req.Key, v, req.TTL)

	fetchRequestsTotal.WithLabelValues(outcome).Inc()
	fetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	o.logger.Debug().
		Str("key", req.Key).
		Str("path", outcome).
		Dur("ttl", req.TTL).
		Msg("Cached fetch result")
}

func (o *Orchestrator) fail(req Request, err error, start time.Time) {
	fetchRequestsTotal.WithLabelValues("error").Inc()
	fetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())

	o.logger.Error().
		Err(err).
		Str("key", req.Key).
		Msg("Fetch failed on all paths")
}

// Invalidate removes key from the cache. Missing keys are a no-op.
func (o *Orchestrator) Invalidate(key string) {
	o.cache.Delete(key)
}

// Clear empties the cache.
func (o *Orchestrator) Clear() {
	o.cache.Clear()
}

// Size returns the number of cached entries.
func (o *Orchestrator) Size() int {
	return o.cache.Size()
}

// Fetch is FetchResource with a typed result.
func Fetch[T any](ctx context.Context, o *Orchestrator, req Request) (T, error) {
	var zero T

	v, err := o.FetchResource(ctx, req)
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: value for %q is %T", ErrUnexpectedType, req.Key, v)
	}
	return t, nil
}
