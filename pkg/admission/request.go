// Package admission gates requests before they reach the fetch
// orchestrator: rate, credential shape, origin/user-agent and custom
// checks, with an audit entry for every decision.
package admission

import (
	"strings"
	"unicode"

	"github.com/Sternrassler/dashboard-resilience/pkg/ratelimit"
)

// Field length caps applied during sanitization.
const (
	maxFieldLen     = 512
	maxUserAgentLen = 1024
)

// RequestContext is the caller-declared identity of a request.
type RequestContext struct {
	ClientIP   string
	UserID     string
	Credential string
	Origin     string
	UserAgent  string
	Method     string
	Path       string
}

// Sanitized returns a copy with whitespace trimmed, control characters
// removed and fields capped. The credential is not truncated so that
// its length check sees the real value.
func (rc RequestContext) Sanitized() RequestContext {
	return RequestContext{
		ClientIP:   clean(rc.ClientIP, maxFieldLen),
		UserID:     clean(rc.UserID, maxFieldLen),
		Credential: clean(rc.Credential, 0),
		Origin:     strings.ToLower(clean(rc.Origin, maxFieldLen)),
		UserAgent:  clean(rc.UserAgent, maxUserAgentLen),
		Method:     strings.ToUpper(clean(rc.Method, 16)),
		Path:       clean(rc.Path, maxFieldLen),
	}
}

// Identifier returns the rate-limit key: user id, else client IP, else anonymous.
func (rc RequestContext) Identifier() string {
	switch {
	case rc.UserID != "":
		return rc.UserID
	case rc.ClientIP != "":
		return rc.ClientIP
	default:
		return ratelimit.AnonymousIdentifier
	}
}

// clean trims, strips control runes and caps s at max runes (0 = no cap).
func clean(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if max > 0 {
		if r := []rune(s); len(r) > max {
			s = string(r[:max])
		}
	}
	return s
}
