package admission

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// AuditEntry records one admission decision.
type AuditEntry struct {
	Identifier string
	Decision   string // "allow" or "deny"
	Reason     string
	Check      Check
	Method     string
	Path       string
	Timestamp  time.Time
}

// Allowed reports whether the entry records a grant.
func (e AuditEntry) Allowed() bool {
	return e.Decision == "allow"
}

// AuditSink persists audit entries. Errors are logged by the Admitter and
// never fail the request.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// LogSink writes audit entries to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record logs grants at debug and denials at info.
func (s *LogSink) Record(_ context.Context, e AuditEntry) error {
	ev := s.logger.Debug()
	if !e.Allowed() {
		ev = s.logger.Info()
	}
	ev.Str("identifier", e.Identifier).
		Str("decision", e.Decision).
		Str("reason", e.Reason).
		Str("check", string(e.Check)).
		Str("method", e.Method).
		Str("path", e.Path).
		Time("timestamp", e.Timestamp).
		Msg("Admission decision")
	return nil
}

// MultiSink fans an entry out to every sink and joins their errors.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, e AuditEntry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
