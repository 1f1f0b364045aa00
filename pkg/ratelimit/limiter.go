package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_rate_limit_allowed_total",
		Help: "Total number of requests allowed by the fixed-window limiter",
	})

	rateLimitDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_rate_limit_denied_total",
		Help: "Total number of requests denied by the fixed-window limiter",
	})

	rateLimitIdentifiers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_rate_limit_identifiers",
		Help: "Number of identifiers with a tracked window",
	})
)

// Limiter is a fixed-window request counter keyed by identifier.
//
// Each identifier costs one Window of memory and each check is O(1).
// Because the counter resets at discrete boundaries, a client can get up
// to 2x maxRequests through around a boundary. Windows are never deleted;
// the map grows with the number of distinct identifiers seen.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*Window
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a new fixed-window limiter.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*Window),
		now:     time.Now,
		logger:  log.With().Str("component", "rate-limiter").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckLimit counts a request for identifier and reports whether it fits
// within maxRequests for the current window. Once the window has elapsed
// it resets to a count of 1 with a fresh ResetAt. A maxRequests of zero
// or less admits nothing.
func (l *Limiter) CheckLimit(identifier string, maxRequests int, window time.Duration) bool {
	if maxRequests <= 0 {
		rateLimitDeniedTotal.Inc()
		return false
	}
	if identifier == "" {
		identifier = AnonymousIdentifier
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok {
		w = &Window{}
		w.reset(now, window)
		l.windows[identifier] = w
		rateLimitIdentifiers.Set(float64(len(l.windows)))
		rateLimitAllowedTotal.Inc()
		return true
	}

	if w.Expired(now) {
		w.reset(now, window)
		rateLimitAllowedTotal.Inc()
		return true
	}

	if w.Count >= maxRequests {
		rateLimitDeniedTotal.Inc()
		l.logger.Debug().
			Str("identifier", identifier).
			Int("count", w.Count).
			Int("max_requests", maxRequests).
			Dur("reset_in", w.TimeUntilReset(now)).
			Msg("Rate limit exceeded")
		return false
	}

	w.Count++
	rateLimitAllowedTotal.Inc()
	return true
}

// Window returns a snapshot of the identifier's current window.
func (l *Limiter) Window(identifier string) (Window, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
