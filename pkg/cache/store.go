package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxEntries caps the store when Options.MaxEntries is unset
	DefaultMaxEntries = 1000

	// DefaultSweepInterval is the janitor period when Options.SweepInterval is unset
	DefaultSweepInterval = time.Minute
)

// Options configures a Store.
type Options struct {
	// MaxEntries is the capacity before oldest-inserted eviction kicks in
	MaxEntries int

	// SweepInterval is how often the janitor removes expired entries
	SweepInterval time.Duration

	// Now overrides the clock (tests)
	Now func() time.Time

	// Logger overrides the component logger
	Logger *zerolog.Logger
}

// Store is an in-memory key/value cache with per-entry TTL and
// insertion-ordered eviction. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	// order holds *Entry values; front is the oldest insertion
	order *list.List

	maxEntries    int
	sweepInterval time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

// NewStore creates a new TTL store.
func NewStore(opts Options) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := log.With().Str("component", "ttl-cache").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Store{
		entries:       make(map[string]*list.Element),
		order:         list.New(),
		maxEntries:    opts.MaxEntries,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		logger:        logger,
	}
}

// Set inserts or overwrites an entry. Inserting a new key into a full
// store first evicts the single oldest-inserted entry. Overwriting keeps
// the key's original insertion position.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		ent := el.Value.(*Entry)
		ent.Value = value
		ent.StoredAt = now
		ent.TTL = ttl
		return
	}

	if len(s.entries) >= s.maxEntries {
		if oldest := s.order.Front(); oldest != nil {
			evicted := s.removeElement(oldest)
			CacheEvictions.WithLabelValues("capacity").Inc()
			s.logger.Debug().
				Str("key", evicted.Key).
				Int("max_entries", s.maxEntries).
				Msg("Evicted oldest entry")
		}
	}

	el := s.order.PushBack(&Entry{
		Key:      key,
		Value:    value,
		StoredAt: now,
		TTL:      ttl,
	})
	s.entries[key] = el
	CacheEntries.Set(float64(len(s.entries)))
}

// Get returns the value for key if present and fresh.
// An expired entry is deleted and reported as absent.
func (s *Store) Get(key string) (any, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		CacheMisses.Inc()
		return nil, false
	}

	ent := el.Value.(*Entry)
	if ent.Expired(now) {
		s.removeElement(el)
		CacheEvictions.WithLabelValues("expired").Inc()
		CacheMisses.Inc()
		s.logger.Debug().Str("key", key).Msg("Expired entry removed on read")
		return nil, false
	}

	CacheHits.Inc()
	return ent.Value, true
}

// Peek returns a copy of the entry for key without expiry side effects.
func (s *Store) Peek(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *el.Value.(*Entry), true
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeElement(el)
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.order.Init()
	CacheEntries.Set(0)
}

// Size returns the current entry count, including stale entries not yet swept.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes all expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Entry).Expired(now) {
			s.removeElement(el)
			removed++
		}
		el = next
	}

	if removed > 0 {
		CacheEvictions.WithLabelValues("sweep").Add(float64(removed))
		s.logger.Debug().Int("removed", removed).Msg("Swept expired entries")
	}
	return removed
}

// StartJanitor runs Sweep every SweepInterval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context) {
	t := time.NewTicker(s.sweepInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

// removeElement must be called with mu held.
func (s *Store) removeElement(el *list.Element) *Entry {
	ent := s.order.Remove(el).(*Entry)
	delete(s.entries, ent.Key)
	CacheEntries.Set(float64(len(s.entries)))
	return ent
}
