package metrics

import "github.com/prometheus/client_golang/prometheus"

// Connection pool Prometheus metrics.
var (
	PoolAcquireDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_acquire_duration_seconds",
			Help:      "Time spent waiting for a pooled connection",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	PoolAcquireErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_acquire_errors_total",
			Help:      "Failed connection acquisitions",
		},
		[]string{"reason"}, // "timeout" / "not_initialized" / "driver"
	)

	PoolRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_retries_total",
			Help:      "Retried pool operations",
		},
	)

	PoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_connections",
			Help:      "Pool connection counts by state",
		},
		[]string{"state"}, // "acquired" / "idle" / "total" / "waiting" / "max"
	)
)

var poolMetricsRegistered bool

// RegisterPoolMetrics registers connection pool metrics. Must be called once from main.
func RegisterPoolMetrics() {
	if poolMetricsRegistered {
		return
	}
	prometheus.MustRegister(PoolAcquireDuration)
	prometheus.MustRegister(PoolAcquireErrorsTotal)
	prometheus.MustRegister(PoolRetriesTotal)
	prometheus.MustRegister(PoolConnections)
	poolMetricsRegistered = true
}
