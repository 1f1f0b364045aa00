package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/dashboard-resilience/pkg/admission"
	"github.com/Sternrassler/dashboard-resilience/pkg/cache"
	"github.com/Sternrassler/dashboard-resilience/pkg/config"
	"github.com/Sternrassler/dashboard-resilience/pkg/fetch"
	"github.com/Sternrassler/dashboard-resilience/pkg/logging"
	"github.com/Sternrassler/dashboard-resilience/pkg/ratelimit"
	"github.com/Sternrassler/dashboard-resilience/pkg/retry"
	"github.com/Sternrassler/dashboard-resilience/pkg/router"
	"github.com/Sternrassler/dashboard-resilience/pkg/sheets"
)

// app holds the wired components behind the HTTP routes.
type app struct {
	cfg          *config.Config
	store        *cache.Store
	orchestrator *fetch.Orchestrator
	sheets       *sheets.Client
	admitter     *admission.Admitter
	policy       admission.Policy
	router       *router.Router
	proxy        *httputil.ReverseProxy
	redis        *redis.Client
	logger       zerolog.Logger

	// routerInstall overrides the install retry policy (tests)
	routerInstall retry.Config
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.NewLogger("gateway")

	store := cache.NewStore(cache.Options{
		MaxEntries:    cfg.CacheMaxEntries,
		SweepInterval: cfg.CacheSweepInterval,
	})
	store.StartJanitor(ctx)

	fcfg := fetch.DefaultConfig(store)
	fcfg.Retry = cfg.RetryConfig()
	fcfg.MaxRows = cfg.MaxRows
	orch, err := fetch.New(fcfg)
	if err != nil {
		return nil, fmt.Errorf("fetch orchestrator: %w", err)
	}

	scfg := sheets.DefaultConfig(cfg.SheetsProxyURL, cfg.SheetsAPIKey)
	scfg.APIURL = cfg.SheetsAPIURL
	scfg.Timeout = cfg.SheetsTimeout
	scfg.CacheTTL = cfg.CacheTTL
	scfg.MaxConcurrency = cfg.SheetsMaxConcurrency
	sc, err := sheets.New(scfg, orch)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	a := &app{
		cfg:          cfg,
		store:        store,
		orchestrator: orch,
		sheets:       sc,
		policy:       cfg.AdmissionPolicy(),
		logger:       logger,
		routerInstall: retry.Config{
			MaxAttempts: 5,
			BaseDelay:   2 * time.Second,
			Mode:        retry.Linear,
			Operation:   "router_install",
		},
	}

	var sink admission.AuditSink = admission.NewLogSink(logging.NewLogger("admission-audit"))
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis audit sink")
		sink = admission.MultiSink{sink, admission.NewRedisSink(a.redis)}
	}
	a.admitter = admission.NewAdmitter(ratelimit.NewLimiter(), admission.WithSink(sink))

	if cfg.AppUpstream != "" {
		if err := a.setupRouter(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) setupRouter() error {
	target, err := url.Parse(a.cfg.AppUpstream)
	if err != nil {
		return fmt.Errorf("app upstream: %w", err)
	}

	r, err := router.New(router.Config{
		App:        a.cfg.RouterApp,
		Version:    a.cfg.RouterVersion,
		Origin:     a.cfg.AppUpstream,
		Manifest:   a.cfg.RouterManifest,
		APIPattern: a.cfg.APIPattern(),
		Transport:  http.DefaultTransport,
	})
	if err != nil {
		return fmt.Errorf("cache router: %w", err)
	}
	a.router = r

	a.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: r,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			a.logger.Warn().Err(err).Str("path", req.URL.Path).Msg("App upstream unavailable")
			http.Error(w, "app upstream unavailable", http.StatusBadGateway)
		},
	}
	return nil
}

// startRouter installs and activates the cache router, retrying each step.
func (a *app) startRouter(ctx context.Context) error {
	err := retry.Do(ctx, a.routerInstall, func(ctx context.Context) error {
		return a.router.Dispatch(ctx, router.Event{Kind: router.EventInstall})
	})
	if err != nil {
		return err
	}
	return retry.Do(ctx, a.routerInstall, func(ctx context.Context) error {
		return a.router.Dispatch(ctx, router.Event{Kind: router.EventActivate})
	})
}

// Close releases the Redis connection and waits for background revalidations.
func (a *app) Close() {
	if a.router != nil {
		a.router.Wait()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
