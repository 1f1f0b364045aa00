package router

import (
	"net/http"
	"path"
	"regexp"
	"strings"
)

// Strategy selects how an intercepted request is served.
type Strategy int

const (
	Passthrough Strategy = iota
	CacheFirst
	NetworkFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache_first"
	case NetworkFirst:
		return "network_first"
	case StaleWhileRevalidate:
		return "stale_while_revalidate"
	default:
		return "passthrough"
	}
}

// Rule pairs a predicate with a strategy.
type Rule struct {
	Name     string
	Match    func(req *http.Request) bool
	Strategy Strategy
}

// Classify returns the first rule matching req. Requests no rule matches
// are passed through.
func Classify(rules []Rule, req *http.Request) Rule {
	for _, r := range rules {
		if r.Match != nil && r.Match(req) {
			return r
		}
	}
	return Rule{Name: "unmatched", Strategy: Passthrough}
}

var (
	staticMarkers = []string{"/assets/", "/icons/", "/static/"}

	staticExtensions = map[string]bool{
		".js": true, ".mjs": true, ".css": true, ".map": true,
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
		".svg": true, ".ico": true, ".webp": true, ".avif": true,
		".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
		".webmanifest": true,
	}
)

// NotInterceptable matches non-http(s) and non-GET requests.
func NotInterceptable(req *http.Request) bool {
	if req.URL == nil {
		return true
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https":
	default:
		return true
	}
	return req.Method != "" && req.Method != http.MethodGet
}

// StaticAsset matches manifest members, asset path markers and static
// file extensions.
func StaticAsset(manifest map[string]bool) func(*http.Request) bool {
	return func(req *http.Request) bool {
		if manifest[canonicalURL(req)] {
			return true
		}
		p := req.URL.Path
		for _, m := range staticMarkers {
			if strings.Contains(p, m) {
				return true
			}
		}
		return staticExtensions[strings.ToLower(path.Ext(p))]
	}
}

// APIResource matches the /api/ prefix or pattern, when non-nil.
func APIResource(pattern *regexp.Regexp) func(*http.Request) bool {
	return func(req *http.Request) bool {
		if strings.HasPrefix(req.URL.Path, "/api/") {
			return true
		}
		return pattern != nil && pattern.MatchString(req.URL.String())
	}
}

// IsNavigation reports whether req is a page navigation.
func IsNavigation(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	return (req.Method == "" || req.Method == http.MethodGet) &&
		strings.Contains(req.Header.Get("Accept"), "text/html")
}

// DefaultRules returns the standard ordering: passthrough, static,
// api, everything else.
func DefaultRules(manifest map[string]bool, apiPattern *regexp.Regexp) []Rule {
	return []Rule{
		{Name: "passthrough", Match: NotInterceptable, Strategy: Passthrough},
		{Name: "static", Match: StaticAsset(manifest), Strategy: CacheFirst},
		{Name: "api", Match: APIResource(apiPattern), Strategy: NetworkFirst},
		{Name: "default", Match: func(*http.Request) bool { return true }, Strategy: StaleWhileRevalidate},
	}
}
