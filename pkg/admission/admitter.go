package admission

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/dashboard-resilience/pkg/ratelimit"
)

// Decision is the outcome of Admit.
type Decision struct {
	Allowed bool
	Reason  string

	// Check is the stage that denied, empty when allowed
	Check Check

	// RetryAfter is set for rate denials
	RetryAfter time.Duration
}

// Admitter evaluates policies against request contexts.
type Admitter struct {
	limiter *ratelimit.Limiter
	sink    AuditSink
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures an Admitter.
type Option func(*Admitter)

// WithSink replaces the default LogSink.
func WithSink(sink AuditSink) Option {
	return func(a *Admitter) {
		if sink != nil {
			a.sink = sink
		}
	}
}

// WithClock overrides the audit timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Admitter) { a.now = now }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Admitter) { a.logger = logger }
}

// NewAdmitter creates an Admitter over limiter.
// Panics if limiter is nil.
func NewAdmitter(limiter *ratelimit.Limiter, opts ...Option) *Admitter {
	if limiter == nil {
		panic("admission: limiter must not be nil")
	}

	a := &Admitter{
		limiter: limiter,
		now:     time.Now,
		logger:  log.With().Str("component", "admission").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sink == nil {
		a.sink = NewLogSink(a.logger)
	}
	return a
}

// Admit runs the policy's checks in order (rate, auth, origin and user
// agent, custom) and stops at the first failure. Every decision is audited.
func (a *Admitter) Admit(ctx context.Context, rc RequestContext, p Policy) Decision {
	rc = rc.Sanitized()
	id := rc.Identifier()

	dec := a.evaluate(ctx, id, rc, p)

	result := "allow"
	if !dec.Allowed {
		result = "deny"
	}
	check := string(dec.Check)
	if check == "" {
		check = "none"
	}
	admissionDecisionsTotal.WithLabelValues(result, check).Inc()

	entry := AuditEntry{
		Identifier: id,
		Decision:   result,
		Reason:     dec.Reason,
		Check:      dec.Check,
		Method:     rc.Method,
		Path:       rc.Path,
		Timestamp:  a.now(),
	}
	if err := a.sink.Record(ctx, entry); err != nil {
		auditSinkErrorsTotal.Inc()
		a.logger.Warn().Err(err).Str("identifier", id).Msg("Failed to record audit entry")
	}

	return dec
}

func (a *Admitter) evaluate(ctx context.Context, id string, rc RequestContext, p Policy) Decision {
	if p.MaxRequests > 0 && p.Window > 0 {
		if !a.limiter.CheckLimit(id, p.MaxRequests, p.Window) {
			d := deny(CheckRate, ReasonRateLimited)
			if w, ok := a.limiter.Window(id); ok {
				d.RetryAfter = w.TimeUntilReset(a.now())
			}
			return d
		}
	}

	if p.RequireAuth && !ValidCredential(rc.Credential) {
		return deny(CheckAuth, ReasonInvalidCredentials)
	}

	if len(p.AllowedOrigins) > 0 {
		if !p.originAllowed(rc.Origin) {
			return deny(CheckOrigin, ReasonOriginNotAllowed)
		}
		if !ClassifyUserAgent(rc.UserAgent, p.CrawlerAllowList, p.AutomationDenyList) {
			return deny(CheckUserAgent, ReasonAutomatedClient)
		}
	}

	if p.Custom != nil {
		if ok, reason := p.Custom(ctx, rc); !ok {
			if reason == "" {
				reason = ReasonCustomDenied
			}
			return deny(CheckCustom, reason)
		}
	}

	return Decision{Allowed: true}
}

func deny(check Check, reason string) Decision {
	return Decision{Allowed: false, Reason: reason, Check: check}
}
