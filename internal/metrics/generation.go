package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recommendation generation Prometheus metrics.
var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Model calls by model and outcome",
		},
		[]string{"model", "status"}, // status: "ok" / "error" / "parse_error" / "breaker_open"
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "End-to-end recommendation generation latency",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)

	GenerationFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_fallbacks_total",
			Help:      "Requests served by the fallback model",
		},
	)

	GenerationRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	GenerationCostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_cost_usd_total",
			Help:      "Accumulated generation cost in USD",
		},
		[]string{"model"},
	)

	GenerationBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_circuit_breaker_state",
			Help:      "Circuit breaker state per model (0=closed, 1=half-open, 2=open)",
		},
		[]string{"model"},
	)
)

var generationMetricsRegistered bool

// RegisterGenerationMetrics registers generation metrics. Must be called once from main.
func RegisterGenerationMetrics() {
	if generationMetricsRegistered {
		return
	}
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(GenerationFallbacksTotal)
	prometheus.MustRegister(GenerationRateLimitedTotal)
	prometheus.MustRegister(GenerationCostUSDTotal)
	prometheus.MustRegister(GenerationBreakerState)
	generationMetricsRegistered = true
}
