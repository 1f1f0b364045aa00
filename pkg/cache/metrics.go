package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh reads
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_cache_hits_total",
			Help: "Total number of TTL cache hits",
		},
	)

	// CacheMisses tracks reads of absent or expired keys
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_cache_misses_total",
			Help: "Total number of TTL cache misses",
		},
	)

	// CacheEvictions tracks removals by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_cache_evictions_total",
			Help: "Total number of TTL cache evictions by reason",
		},
		[]string{"reason"}, // "capacity", "expired", "sweep"
	)

	// CacheEntries tracks the current entry count
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboard_cache_entries",
			Help: "Current number of entries in the TTL cache",
		},
	)
)
