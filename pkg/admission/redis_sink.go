package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//
//	{prefix}:total              allowed / denied
//	{prefix}:minute:YYYYMMDDhhmm allowed / denied (expires after TTL)
//	{prefix}:reason             "<check>:<reason>" counters for denials
//	{prefix}:route              "<METHOD> <path>:<allowed|denied>"
//	{prefix}:id:<identifier>    allowed / denied (optional, expires after TTL)
const DefaultRedisPrefix = "dashboard:admission"

// RedisSink aggregates audit entries into Redis hash counters.
type RedisSink struct {
	rdb redis.UniversalClient

	prefix string
	ttl    time.Duration

	// minuteBuckets toggles the per-minute time series
	minuteBuckets bool
	trackIDs      bool
}

// RedisSinkOption configures a RedisSink.
type RedisSinkOption func(*RedisSink)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisSinkOption {
	return func(s *RedisSink) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithRedisTTL sets the expiry of bucket and identifier keys.
// The total hash never expires.
func WithRedisTTL(d time.Duration) RedisSinkOption {
	return func(s *RedisSink) { s.ttl = d }
}

// WithMinuteBuckets toggles the per-minute series.
func WithMinuteBuckets(enabled bool) RedisSinkOption {
	return func(s *RedisSink) { s.minuteBuckets = enabled }
}

// WithIdentifierTracking records per-identifier counters. Watch the
// key cardinality when enabling it.
func WithIdentifierTracking(enabled bool) RedisSinkOption {
	return func(s *RedisSink) { s.trackIDs = enabled }
}

// NewRedisSink creates a RedisSink over rdb.
func NewRedisSink(rdb redis.UniversalClient, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{
		rdb:           rdb,
		prefix:        DefaultRedisPrefix,
		ttl:           24 * time.Hour,
		minuteBuckets: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinuteKey returns the bucket key for t.
func (s *RedisSink) MinuteKey(t time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, t.UTC().Format("200601021504"))
}

// TotalKey returns the cumulative counter key.
func (s *RedisSink) TotalKey() string {
	return s.prefix + ":total"
}

// Record implements AuditSink with a single pipelined round trip.
func (s *RedisSink) Record(ctx context.Context, e AuditEntry) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if e.Allowed() {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.TotalKey(), field, 1)

	if s.minuteBuckets {
		key := s.MinuteKey(at)
		pipe.HIncrBy(ctx, key, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	if !e.Allowed() && e.Reason != "" {
		pipe.HIncrBy(ctx, s.prefix+":reason", string(e.Check)+":"+e.Reason, 1)
	}

	if route := strings.TrimSpace(e.Method + " " + e.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackIDs && e.Identifier != "" {
		key := s.prefix + ":id:" + e.Identifier
		pipe.HIncrBy(ctx, key, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}
