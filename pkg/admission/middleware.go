package admission

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// KeyFunc derives the client identifier of a request.
type KeyFunc func(r *http.Request) string

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	// UserHeader carries an authenticated user id, e.g. "X-User-ID"
	UserHeader string

	// TrustXForwardedFor uses the first X-Forwarded-For hop as client IP
	TrustXForwardedFor bool

	// KeyFn overrides client IP extraction
	KeyFn KeyFunc
}

type contextKey struct{}

// FromContext returns the decision stored by Middleware.
func FromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(contextKey{}).(Decision)
	return d, ok
}

// ClientIP returns the X-Forwarded-For client when trusted, else the
// RemoteAddr host.
func ClientIP(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
}

// RequestContextFrom extracts a RequestContext from r.
func RequestContextFrom(r *http.Request, opts MiddlewareOptions) RequestContext {
	keyFn := opts.KeyFn
	if keyFn == nil {
		keyFn = ClientIP(opts.TrustXForwardedFor)
	}

	rc := RequestContext{
		ClientIP:   keyFn(r),
		Credential: r.Header.Get("Authorization"),
		Origin:     r.Header.Get("Origin"),
		UserAgent:  r.UserAgent(),
		Method:     r.Method,
		Path:       r.URL.Path,
	}
	if opts.UserHeader != "" {
		rc.UserID = r.Header.Get(opts.UserHeader)
	}
	return rc
}

// StatusFor maps a denial to an HTTP status.
func StatusFor(d Decision) int {
	switch d.Check {
	case CheckRate:
		return http.StatusTooManyRequests
	case CheckAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// Middleware admits each request against policy before calling next.
func Middleware(a *Admitter, policy Policy, opts MiddlewareOptions) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec := a.Admit(r.Context(), RequestContextFrom(r, opts), policy)
			if !dec.Allowed {
				status := StatusFor(dec)
				switch status {
				case http.StatusTooManyRequests:
					w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
				case http.StatusUnauthorized:
					w.Header().Set("WWW-Authenticate", "Bearer")
				}
				http.Error(w, dec.Reason, status)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, dec)))
		})
	}
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
