// Package config loads gateway configuration from DASHBOARD_* environment
// variables and an optional YAML policy file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Sternrassler/dashboard-resilience/pkg/admission"
	"github.com/Sternrassler/dashboard-resilience/pkg/logging"
	"github.com/Sternrassler/dashboard-resilience/pkg/retry"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete gateway configuration.
type Config struct {
	ListenAddr      string        `env:"DASHBOARD_LISTEN_ADDR"      envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"DASHBOARD_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// AppUpstream is the dashboard frontend served under /app/ through the cache router
	AppUpstream string `env:"DASHBOARD_APP_UPSTREAM"`

	SheetsProxyURL       string        `env:"DASHBOARD_SHEETS_PROXY_URL"`
	SheetsAPIURL         string        `env:"DASHBOARD_SHEETS_API_URL"         envDefault:"https://sheets.googleapis.com"`
	SheetsAPIKey         string        `env:"DASHBOARD_SHEETS_API_KEY"`
	SheetsTimeout        time.Duration `env:"DASHBOARD_SHEETS_TIMEOUT"         envDefault:"10s"`
	SheetsMaxConcurrency int           `env:"DASHBOARD_SHEETS_MAX_CONCURRENCY" envDefault:"4"`

	CacheTTL           time.Duration `env:"DASHBOARD_CACHE_TTL"            envDefault:"5m"`
	CacheMaxEntries    int           `env:"DASHBOARD_CACHE_MAX_ENTRIES"    envDefault:"1000"`
	CacheSweepInterval time.Duration `env:"DASHBOARD_CACHE_SWEEP_INTERVAL" envDefault:"1m"`

	RetryMaxAttempts int           `env:"DASHBOARD_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"DASHBOARD_RETRY_BASE_DELAY"   envDefault:"1s"`
	RetryMode        string        `env:"DASHBOARD_RETRY_MODE"         envDefault:"linear"`
	MaxRows          int           `env:"DASHBOARD_MAX_ROWS"           envDefault:"10000"`

	RateLimitMax       int           `env:"DASHBOARD_RATE_LIMIT_MAX"      envDefault:"100"`
	RateLimitWindow    time.Duration `env:"DASHBOARD_RATE_LIMIT_WINDOW"   envDefault:"1m"`
	RequireAuth        bool          `env:"DASHBOARD_REQUIRE_AUTH"`
	AllowedOrigins     []string      `env:"DASHBOARD_ALLOWED_ORIGINS"     envSeparator:","`
	TrustXForwardedFor bool          `env:"DASHBOARD_TRUST_XFF"`
	UserHeader         string        `env:"DASHBOARD_USER_HEADER"`

	RedisAddr     string `env:"DASHBOARD_REDIS_ADDR"`
	RedisPassword string `env:"DASHBOARD_REDIS_PASSWORD"`
	RedisDB       int    `env:"DASHBOARD_REDIS_DB"`

	RouterApp      string   `env:"DASHBOARD_ROUTER_APP"      envDefault:"dashboard"`
	RouterVersion  int      `env:"DASHBOARD_ROUTER_VERSION"  envDefault:"1"`
	RouterManifest []string `env:"DASHBOARD_ROUTER_MANIFEST" envSeparator:","`
	RouterAPIRegex string   `env:"DASHBOARD_ROUTER_API_PATTERN"`

	LogLevel  string `env:"DASHBOARD_LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"DASHBOARD_LOG_PRETTY"`

	PolicyFile string `env:"DASHBOARD_POLICY_FILE"`

	// Crawler and automation overrides, only settable from the policy file
	CrawlerAllowList   []string
	AutomationDenyList []string
}

// Load parses the environment, applies the policy file if one is
// configured and validates the result.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom is Load over an explicit variable map (tests).
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.PolicyFile != "" {
		p, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		p.Apply(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.ListenAddr) == "" {
		add("listen address is required")
	}
	if c.SheetsProxyURL == "" {
		add("DASHBOARD_SHEETS_PROXY_URL is required")
	} else if !validURL(c.SheetsProxyURL) {
		add("invalid sheets proxy URL %q", c.SheetsProxyURL)
	}
	if c.SheetsAPIKey != "" && !validURL(c.SheetsAPIURL) {
		add("invalid sheets API URL %q", c.SheetsAPIURL)
	}
	if c.AppUpstream != "" && !validURL(c.AppUpstream) {
		add("invalid app upstream %q", c.AppUpstream)
	}
	if c.CacheTTL <= 0 {
		add("cache TTL must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		add("retry max attempts must be >= 1 (got %d)", c.RetryMaxAttempts)
	}
	switch retry.Mode(strings.ToLower(c.RetryMode)) {
	case retry.Linear, retry.Exponential:
	default:
		add("unknown retry mode %q", c.RetryMode)
	}
	if c.MaxRows < 1 {
		add("max rows must be >= 1 (got %d)", c.MaxRows)
	}
	if c.RateLimitMax > 0 && c.RateLimitWindow <= 0 {
		add("rate limit window must be positive")
	}
	if c.RouterVersion < 1 {
		add("router version must be >= 1 (got %d)", c.RouterVersion)
	}
	if c.RouterAPIRegex != "" {
		if _, err := regexp.Compile(c.RouterAPIRegex); err != nil {
			add("router API pattern: %v", err)
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("%v", err)
	}

	return errors.Join(errs...)
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// AdmissionPolicy builds the policy applied to /api/ routes.
func (c *Config) AdmissionPolicy() admission.Policy {
	return admission.Policy{
		MaxRequests:        c.RateLimitMax,
		Window:             c.RateLimitWindow,
		RequireAuth:        c.RequireAuth,
		AllowedOrigins:     c.AllowedOrigins,
		CrawlerAllowList:   c.CrawlerAllowList,
		AutomationDenyList: c.AutomationDenyList,
	}
}

// RetryConfig builds the primary-path retry configuration.
func (c *Config) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = c.RetryMaxAttempts
	rc.BaseDelay = c.RetryBaseDelay
	rc.Mode = retry.Mode(strings.ToLower(c.RetryMode))
	rc.Operation = "fetch_primary"
	return rc
}

// APIPattern compiles RouterAPIRegex; nil when unset.
func (c *Config) APIPattern() *regexp.Regexp {
	if c.RouterAPIRegex == "" {
		return nil
	}
	return regexp.MustCompile(c.RouterAPIRegex)
}

// LoggingConfig maps the log settings onto logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level, _ = logging.ParseLevel(c.LogLevel)
	lc.Pretty = c.LogPretty
	return lc
}
