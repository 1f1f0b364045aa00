// Package metrics exposes the Prometheus registry shared by the gateway.
// Metrics are defined next to the code that records them (cache, ratelimit,
// retry, fetch, admission, router, sheets) and registered via promauto.
//
// Cache Metrics (pkg/cache):
//   - dashboard_cache_hits_total (Counter): Fresh reads
//   - dashboard_cache_misses_total (Counter): Absent or expired reads
//   - dashboard_cache_evictions_total{reason} (Counter): capacity, expired, sweep
//   - dashboard_cache_entries (Gauge): Current entry count
//
// Rate Limit Metrics (pkg/ratelimit):
//   - dashboard_rate_limit_allowed_total (Counter)
//   - dashboard_rate_limit_denied_total (Counter)
//   - dashboard_rate_limit_identifiers (Gauge): Tracked identifiers
//
// Retry Metrics (pkg/retry):
//   - dashboard_retries_total{operation} (Counter)
//   - dashboard_retry_backoff_seconds{operation} (Histogram)
//   - dashboard_retry_exhausted_total{operation} (Counter)
//
// Fetch Metrics (pkg/fetch):
//   - dashboard_fetch_requests_total{outcome} (Counter): cache_hit, primary, fallback, error
//   - dashboard_fetch_duration_seconds{outcome} (Histogram)
//
// Admission Metrics (pkg/admission):
//   - dashboard_admission_decisions_total{result, check} (Counter)
//   - dashboard_admission_audit_errors_total (Counter)
//
// Router Metrics (pkg/router):
//   - dashboard_router_intercepts_total{strategy, source} (Counter)
//   - dashboard_router_refreshes_total{outcome} (Counter)
//   - dashboard_router_partitions_purged_total (Counter)
//   - dashboard_router_swept_entries_total (Counter)
//   - dashboard_router_state{app} (Gauge)
//
// Spreadsheet Metrics (pkg/sheets):
//   - dashboard_sheets_requests_total{path, status} (Counter): path is proxy or direct
//   - dashboard_sheets_request_duration_seconds{path} (Histogram)
//
// Example Prometheus Queries:
//
//	# Cache Hit Rate
//	sum(rate(dashboard_cache_hits_total[5m])) /
//	(sum(rate(dashboard_cache_hits_total[5m])) + sum(rate(dashboard_cache_misses_total[5m])))
//
//	# Share of fetches served by the fallback path
//	rate(dashboard_fetch_requests_total{outcome="fallback"}[5m]) / rate(dashboard_fetch_requests_total[5m])
//
//	# Offline placeholders served
//	sum by (strategy) (rate(dashboard_router_intercepts_total{source="offline"}[5m]))
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Gatherer is read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}
