package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query cache Prometheus metrics.
var (
	QueryCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_lookups_total",
			Help:      "Query cache lookups by tier and result",
		},
		[]string{"tier", "result"}, // tier: "tier1" / "tier2"; result: "hit" / "miss" / "error"
	)

	QueryCacheWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_write_failures_total",
			Help:      "Failed asynchronous tier-2 upserts",
		},
	)

	QueryCacheSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_swept_total",
			Help:      "Expired tier-2 rows deleted by the sweeper",
		},
	)

	QueryCacheInvalidatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_invalidated_total",
			Help:      "Tier-2 rows removed by explicit invalidation",
		},
		[]string{"scope"}, // "product" / "all"
	)
)

var cacheMetricsRegistered bool

// RegisterCacheMetrics registers query cache metrics. Must be called once from main.
func RegisterCacheMetrics() {
	if cacheMetricsRegistered {
		return
	}
	prometheus.MustRegister(QueryCacheLookupsTotal)
	prometheus.MustRegister(QueryCacheWriteFailuresTotal)
	prometheus.MustRegister(QueryCacheSweptTotal)
	prometheus.MustRegister(QueryCacheInvalidatedTotal)
	cacheMetricsRegistered = true
}
