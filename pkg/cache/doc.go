// Package cache provides the in-memory TTL cache used by the fetch orchestrator.
//
// The store implements the following behavior:
//
// - Per-entry TTL; a stale entry is never returned by Get
// - Lazy expiry on read plus an optional periodic janitor sweep
// - Capacity bound with oldest-inserted-first eviction
// - Deterministic composite keys for spreadsheet ranges
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewStore(cache.Options{MaxEntries: 500})
//	store.StartJanitor(ctx)
//
//	key := cache.Key{
//		Resource: "1AbCdEf",
//		Params:   url.Values{"range": []string{"Sales!A1:F"}},
//	}.String()
//
//	if v, ok := store.Get(key); ok {
//		// Fresh hit
//	}
//
//	store.Set(key, table, 5*time.Minute)
//
// # Invalidation
//
//	store.Delete(key) // no-op if absent
//	store.Clear()     // no-op if empty
//
// # Metrics
//
//   - dashboard_cache_hits_total - Fresh reads
//   - dashboard_cache_misses_total - Absent or expired reads
//   - dashboard_cache_evictions_total{reason} - capacity, expired, sweep
//   - dashboard_cache_entries - Current entry count
//
// A Store is an explicit instance; construct one per process or per tenant
// and pass it to the components that share it.
package cache
