// Package router is an offline-capable caching layer at the HTTP
// transport boundary. A Router wraps a network RoundTripper, classifies
// each request by URL and serves it with a cache-first, network-first or
// stale-while-revalidate strategy over versioned partitions.
//
// # Lifecycle
//
//	r, _ := router.New(router.Config{App: "dashboard", Version: 3, Origin: upstream, Manifest: []string{"/", "/assets/app.js"}})
//	_ = r.Dispatch(ctx, router.Event{Kind: router.EventInstall})  // precache static
//	_ = r.Dispatch(ctx, router.Event{Kind: router.EventActivate}) // purge old versions
//	client := &http.Client{Transport: r}
//
//	_ = r.Dispatch(ctx, router.MessageEvent(router.MessageCleanCache))
//
// Until the router is Active every request is passed straight through.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultNetworkTimeout bounds every network call made by a strategy
	DefaultNetworkTimeout = 10 * time.Second

	// DefaultRetention is the age after which CLEAN_CACHE drops dynamic entries
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultRefreshRate admits background revalidations per second
	DefaultRefreshRate = 5

	// DefaultRefreshBurst is the revalidation burst size
	DefaultRefreshBurst = 10
)

// HeaderSource reports where a routed response came from.
const HeaderSource = "X-Cache-Source"

// Source values for HeaderSource.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceOffline = "offline"
)

var (
	// ErrNotIntercepted means the request belongs on the network transport
	ErrNotIntercepted = errors.New("request not intercepted")

	// ErrInvalidConfig is returned by New
	ErrInvalidConfig = errors.New("invalid router config")
)

// Config configures a Router.
type Config struct {
	// App prefixes partition names: <App>-static-v<Version>
	App     string
	Version int

	// Origin resolves relative manifest entries, e.g. "http://app:3000"
	Origin string

	// Manifest lists the URLs precached into the static partition
	Manifest []string

	// APIPattern additionally marks URLs as API resources
	APIPattern *regexp.Regexp

	// Rules overrides DefaultRules
	Rules []Rule

	// Transport is the network. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// Store defaults to a MemoryStore
	Store PartitionStore

	NetworkTimeout time.Duration
	Retention      time.Duration

	// RefreshRate and RefreshBurst throttle background revalidation
	RefreshRate  rate.Limit
	RefreshBurst int

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Router is an http.RoundTripper with a managed partition lifecycle.
type Router struct {
	cfg       Config
	transport http.RoundTripper
	store     PartitionStore
	rules     []Rule
	manifest  []string
	refresh   *rate.Limiter
	now       func() time.Time
	logger    zerolog.Logger

	// lifecycle serializes Dispatch
	lifecycle sync.Mutex

	mu    sync.RWMutex
	state State

	inflight sync.WaitGroup
}

// New validates cfg and creates a Router in the Installing state.
func New(cfg Config) (*Router, error) {
	cfg.App = strings.TrimSpace(cfg.App)
	if cfg.App == "" {
		return nil, fmt.Errorf("%w: app name is required", ErrInvalidConfig)
	}
	if cfg.Version < 1 {
		return nil, fmt.Errorf("%w: version must be >= 1 (got %d)", ErrInvalidConfig, cfg.Version)
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = DefaultNetworkTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = DefaultRefreshRate
	}
	if cfg.RefreshBurst <= 0 {
		cfg.RefreshBurst = DefaultRefreshBurst
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	manifest, err := resolveManifest(cfg.Origin, cfg.Manifest)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(manifest))
	for _, u := range manifest {
		set[u] = true
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules(set, cfg.APIPattern)
	}

	logger := log.With().Str("component", "cache-router").Str("app", cfg.App).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	r := &Router{
		cfg:       cfg,
		transport: cfg.Transport,
		store:     cfg.Store,
		rules:     rules,
		manifest:  manifest,
		refresh:   rate.NewLimiter(cfg.RefreshRate, cfg.RefreshBurst),
		now:       cfg.Now,
		logger:    logger,
		state:     Installing,
	}
	routerState.WithLabelValues(cfg.App).Set(float64(Installing))
	return r, nil
}

func resolveManifest(origin string, entries []string) ([]string, error) {
	var base *url.URL
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid origin %q", ErrInvalidConfig, origin)
		}
		base = u
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		u, err := url.Parse(strings.TrimSpace(e))
		if err != nil {
			return nil, fmt.Errorf("%w: manifest entry %q: %v", ErrInvalidConfig, e, err)
		}
		if !u.IsAbs() {
			if base == nil {
				return nil, fmt.Errorf("%w: relative manifest entry %q needs an origin", ErrInvalidConfig, e)
			}
			u = base.ResolveReference(u)
		}
		u.Fragment = ""
		out = append(out, u.String())
	}
	return out, nil
}

// StaticName is the current static partition name.
func (r *Router) StaticName() string {
	return fmt.Sprintf("%s-static-v%d", r.cfg.App, r.cfg.Version)
}

// DynamicName is the current dynamic partition name.
func (r *Router) DynamicName() string {
	return fmt.Sprintf("%s-dynamic-v%d", r.cfg.App, r.cfg.Version)
}

// State returns the current lifecycle state.
func (r *Router) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Router) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()

	if prev != s {
		routerState.WithLabelValues(r.cfg.App).Set(float64(s))
		r.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("Router state changed")
	}
}

// Dispatch feeds ev through Transition and runs the resulting effects.
// Install runs to Installed (or stays Installing on precache failure);
// Activate and SKIP_WAITING run to Active.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	next, effects := Transition(r.State(), ev)
	r.setState(next)

	for _, eff := range effects {
		switch eff {
		case EffectPrecache:
			if err := r.precache(ctx); err != nil {
				s, _ := Transition(r.State(), Event{Kind: EventInstallFailed})
				r.setState(s)
				return fmt.Errorf("install %s: %w", r.StaticName(), err)
			}
			s, _ := Transition(r.State(), Event{Kind: EventInstallSucceeded})
			r.setState(s)

		case EffectPurgeStalePartitions:
			if err := r.purgeStale(); err != nil {
				return fmt.Errorf("activate: %w", err)
			}
			s, _ := Transition(r.State(), Event{Kind: EventActivationDone})
			r.setState(s)

		case EffectSweepDynamic:
			if _, err := r.SweepDynamic(); err != nil {
				return fmt.Errorf("clean cache: %w", err)
			}
		}
	}
	return nil
}

// precache fetches every manifest URL and stores them only if all succeed.
func (r *Router) precache(ctx context.Context) error {
	snaps := make([]*CachedResponse, 0, len(r.manifest))
	for _, u := range r.manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("build request %s: %w", u, err)
		}
		snap, err := r.fetch(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", u, err)
		}
		if !isSuccess(snap.StatusCode) {
			return fmt.Errorf("precache %s: status %d", u, snap.StatusCode)
		}
		snaps = append(snaps, snap)
	}

	p, err := r.store.Open(r.StaticName())
	if err != nil {
		return fmt.Errorf("open %s: %w", r.StaticName(), err)
	}
	for _, s := range snaps {
		if err := p.Put(s.Method+" "+s.URL, s); err != nil {
			return fmt.Errorf("store %s: %w", s.URL, err)
		}
	}

	r.logger.Info().Int("entries", len(snaps)).Str("partition", r.StaticName()).Msg("Static manifest precached")
	return nil
}

// purgeStale deletes every <app>- partition except the current two.
func (r *Router) purgeStale() error {
	names, err := r.store.Names()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	keep := map[string]bool{r.StaticName(): true, r.DynamicName(): true}
	prefix := r.cfg.App + "-"
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) || keep[n] {
			continue
		}
		if err := r.store.Delete(n); err != nil {
			return fmt.Errorf("delete partition %s: %w", n, err)
		}
		partitionsPurgedTotal.Inc()
		r.logger.Info().Str("partition", n).Msg("Deleted stale partition")
	}
	return nil
}

// SweepDynamic removes dynamic entries whose origin time is older than
// the retention window and returns how many were removed.
func (r *Router) SweepDynamic() (int, error) {
	p, err := r.store.Open(r.DynamicName())
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", r.DynamicName(), err)
	}
	keys, err := p.Keys()
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", r.DynamicName(), err)
	}

	now := r.now()
	removed := 0
	for _, k := range keys {
		c, ok, err := p.Get(k)
		if err != nil || !ok {
			continue
		}
		if now.Sub(c.OriginTime()) > r.cfg.Retention {
			if err := p.Delete(k); err != nil {
				return removed, fmt.Errorf("delete %s: %w", k, err)
			}
			removed++
		}
	}

	sweptEntriesTotal.Add(float64(removed))
	r.logger.Info().Int("removed", removed).Int("scanned", len(keys)).Msg("Swept dynamic partition")
	return removed, nil
}

// RoundTrip implements http.RoundTripper.
func (r *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.intercept(req)
	if errors.Is(err, ErrNotIntercepted) {
		return r.transport.RoundTrip(req)
	}
	return resp, err
}

func (r *Router) intercept(req *http.Request) (*http.Response, error) {
	_, effects := Transition(r.State(), Event{Kind: EventFetch})
	if len(effects) == 0 || effects[0] != EffectIntercept {
		return nil, ErrNotIntercepted
	}

	rule := Classify(r.rules, req)
	switch rule.Strategy {
	case CacheFirst:
		return r.cacheFirst(req)
	case NetworkFirst:
		return r.networkFirst(req)
	case StaleWhileRevalidate:
		return r.staleWhileRevalidate(req)
	default:
		return nil, ErrNotIntercepted
	}
}

// Wait blocks until in-flight background revalidations finish.
func (r *Router) Wait() {
	r.inflight.Wait()
}
