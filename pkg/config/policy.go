package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML document referenced by DASHBOARD_POLICY_FILE.
// Set fields override the environment.
//
//	admission:
//	  max_requests: 60
//	  window: 1m
//	  require_auth: true
//	  allowed_origins: ["https://*.example.com"]
//	router:
//	  version: 4
//	  manifest: ["/", "/static/js/main.js"]
type PolicyFile struct {
	Admission AdmissionSection `yaml:"admission"`
	Router    RouterSection    `yaml:"router"`
}

// AdmissionSection overrides the admission policy.
type AdmissionSection struct {
	MaxRequests    *int           `yaml:"max_requests"`
	Window         *time.Duration `yaml:"window"`
	RequireAuth    *bool          `yaml:"require_auth"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	Crawlers       []string       `yaml:"crawlers"`
	Automation     []string       `yaml:"automation"`
}

// RouterSection overrides the cache router settings.
type RouterSection struct {
	App        string   `yaml:"app"`
	Version    *int     `yaml:"version"`
	Manifest   []string `yaml:"manifest"`
	APIPattern string   `yaml:"api_pattern"`
}

// LoadPolicyFile reads and decodes path.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a policy document. Unknown keys are rejected.
func ParsePolicy(data []byte) (*PolicyFile, error) {
	var p PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and means no overrides
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse policy: %v", ErrInvalid, err)
	}
	return &p, nil
}

// Apply copies the set fields onto cfg.
func (p *PolicyFile) Apply(cfg *Config) {
	a := p.Admission
	if a.MaxRequests != nil {
		cfg.RateLimitMax = *a.MaxRequests
	}
	if a.Window != nil {
		cfg.RateLimitWindow = *a.Window
	}
	if a.RequireAuth != nil {
		cfg.RequireAuth = *a.RequireAuth
	}
	if a.AllowedOrigins != nil {
		cfg.AllowedOrigins = a.AllowedOrigins
	}
	if a.Crawlers != nil {
		cfg.CrawlerAllowList = a.Crawlers
	}
	if a.Automation != nil {
		cfg.AutomationDenyList = a.Automation
	}

	r := p.Router
	if r.App != "" {
		cfg.RouterApp = r.App
	}
	if r.Version != nil {
		cfg.RouterVersion = *r.Version
	}
	if r.Manifest != nil {
		cfg.RouterManifest = r.Manifest
	}
	if r.APIPattern != "" {
		cfg.RouterAPIRegex = r.APIPattern
	}
}
