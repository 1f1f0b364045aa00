package admission

import (
	"context"
	"strings"
	"time"
)

// Denial reasons.
const (
	ReasonRateLimited        = "rate limited"
	ReasonInvalidCredentials = "invalid credentials"
	ReasonOriginNotAllowed   = "origin not allowed"
	ReasonAutomatedClient    = "automated client"
	ReasonCustomDenied       = "request rejected"
)

// Check names the stage that produced a decision.
type Check string

const (
	CheckNone      Check = ""
	CheckRate      Check = "rate"
	CheckAuth      Check = "auth"
	CheckOrigin    Check = "origin"
	CheckUserAgent Check = "user_agent"
	CheckCustom    Check = "custom"
)

// Custom is a caller-supplied predicate. A false result denies with reason.
type Custom func(ctx context.Context, rc RequestContext) (ok bool, reason string)

// Policy configures one admission decision.
type Policy struct {
	// MaxRequests per Window for one identifier; <= 0 disables the rate check
	MaxRequests int
	Window      time.Duration

	// RequireAuth enables the credential shape check
	RequireAuth bool

	// AllowedOrigins enables the origin and user-agent checks when non-empty.
	// Patterns are exact origins, "*" or wildcards like "https://*.example.com".
	AllowedOrigins []string

	// CrawlerAllowList overrides DefaultCrawlers
	CrawlerAllowList []string

	// AutomationDenyList overrides DefaultAutomationSignatures
	AutomationDenyList []string

	// Custom runs last
	Custom Custom
}

// DefaultPolicy returns 100 requests per minute with no other checks.
func DefaultPolicy() Policy {
	return Policy{
		MaxRequests: 100,
		Window:      time.Minute,
	}
}

// MatchOrigin reports whether origin matches pattern.
func MatchOrigin(pattern, origin string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	origin = strings.ToLower(strings.TrimSpace(origin))

	if pattern == "" || origin == "" {
		return false
	}
	if pattern == "*" {
		return true
	}

	i := strings.Index(pattern, "*")
	if i < 0 {
		return pattern == origin
	}

	prefix, suffix := pattern[:i], pattern[i+1:]
	if len(origin) <= len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	// Wildcard covers host labels only
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.ContainsAny(middle, "/:")
}

func (p Policy) originAllowed(origin string) bool {
	for _, pattern := range p.AllowedOrigins {
		if MatchOrigin(pattern, origin) {
			return true
		}
	}
	return false
}
