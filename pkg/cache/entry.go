package cache

import (
	"time"
)

// Entry represents a cached value for a logical resource.
type Entry struct {
	// Key identifies the resource (URL or composite key)
	Key string

	// Value is the opaque cached payload
	Value any

	// StoredAt is when the entry was inserted
	StoredAt time.Time

	// TTL is how long the entry stays fresh after StoredAt
	TTL time.Duration
}

// Expired reports whether the entry is stale at now.
// An entry is stale once now - StoredAt exceeds its TTL.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// ExpiresAt returns the instant after which the entry is stale.
func (e *Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Remaining returns the time left until expiration.
// Returns 0 if already expired.
func (e *Entry) Remaining(now time.Time) time.Duration {
	ttl := e.ExpiresAt().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
