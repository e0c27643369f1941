package metrics

import "github.com/prometheus/client_golang/prometheus"

// Monitoring facade gauges.
var (
	CacheHitRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hit_rate",
			Help:      "Query cache hit rate since start (0..1)",
		},
	)

	PoolUtilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_utilization",
			Help:      "Acquired connections over pool max (0..1)",
		},
	)

	EmbeddingCoverage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedding_coverage",
			Help:      "Share of products with an embedding (0..1)",
		},
	)

	ActiveAlerts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "1 when the named alert is firing",
		},
		[]string{"alert"},
	)
)

var monitorMetricsRegistered bool

// RegisterMonitorMetrics registers monitoring gauges. Must be called once from main.
func RegisterMonitorMetrics() {
	if monitorMetricsRegistered {
		return
	}
	prometheus.MustRegister(CacheHitRate)
	prometheus.MustRegister(PoolUtilization)
	prometheus.MustRegister(EmbeddingCoverage)
	prometheus.MustRegister(ActiveAlerts)
	monitorMetricsRegistered = true
}
