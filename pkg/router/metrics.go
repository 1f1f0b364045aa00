package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	interceptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_router_intercepts_total",
		Help: "Total number of intercepted requests by strategy and source",
	}, []string{"strategy", "source"}) // source: cache, network, offline, error

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_router_refreshes_total",
		Help: "Total number of background revalidations by outcome",
	}, []string{"outcome"}) // stored, skipped, failed, throttled

	partitionsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_router_partitions_purged_total",
		Help: "Total number of stale partitions deleted on activation",
	})

	sweptEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_router_swept_entries_total",
		Help: "Total number of dynamic entries removed by the age sweep",
	})

	routerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dashboard_router_state",
		Help: "Current lifecycle state (0 installing, 1 installed, 2 activating, 3 active)",
	}, []string{"app"})
)
