// Package observability provides Prometheus metrics, HTTP middleware, and
// the outcome sink for monitoring the atelier service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atelier-dev/atelier/pkg/resilience"
)

// GenerationBuckets defines histogram buckets suited for generation backend
// latencies, ranging from 100ms to 120s.
var GenerationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// CostBuckets defines histogram buckets for per-request cost in USD.
var CostBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

var (
	// RequestsTotal counts orchestrated requests by capability and terminal status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_requests_total",
			Help: "Orchestrated generation requests",
		},
		[]string{"capability", "status"},
	)

	// RequestDuration records end-to-end orchestration duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_request_duration_seconds",
			Help:    "Orchestration duration",
			Buckets: GenerationBuckets,
		},
		[]string{"capability"},
	)

	// RequestCost records the committed cost per successful request in USD.
	RequestCost = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atelier_request_cost_usd",
			Help:    "Committed cost per successful request",
			Buckets: CostBuckets,
		},
	)

	// CacheEvents counts response cache activity by event (hit, miss, store, error).
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_cache_events_total",
			Help: "Response cache events",
		},
		[]string{"event"},
	)

	// BudgetRejections counts admissions denied by the budget ledger per scope.
	BudgetRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_budget_rejections_total",
			Help: "Budget admission denials",
		},
		[]string{"scope"},
	)

	// ProviderAttempts counts candidate attempts by provider and terminal reason.
	ProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_provider_attempts_total",
			Help: "Provider candidate attempts",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency records per-candidate latency in seconds, retries included.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_provider_latency_seconds",
			Help:    "Provider candidate latency",
			Buckets: GenerationBuckets,
		},
		[]string{"provider"},
	)

	// BreakerState reports the current circuit state per (capability, provider):
	// 0 closed, 1 half_open, 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atelier_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half_open, 2 open)",
		},
		[]string{"capability", "provider"},
	)

	// BreakerTransitions counts observed circuit state changes by target state.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"capability", "provider", "to"},
	)

	// PolicyReloads counts policy reload attempts by result (applied, rejected).
	PolicyReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_policy_reloads_total",
			Help: "Policy reload attempts",
		},
		[]string{"result"},
	)

	// PolicySnapshotVersion reports the version of the active policy snapshot.
	PolicySnapshotVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_policy_snapshot_version",
			Help: "Active policy snapshot version",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration records HTTP request duration in seconds by method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: GenerationBuckets,
		},
		[]string{"method"},
	)

	// HTTPInflight tracks the number of requests currently being served.
	HTTPInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_http_inflight_requests",
			Help: "In-flight HTTP requests",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RequestCost,
		CacheEvents,
		BudgetRejections,
		ProviderAttempts,
		ProviderLatency,
		BreakerState,
		BreakerTransitions,
		PolicyReloads,
		PolicySnapshotVersion,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPInflight,
		RateLimitRejectedTotal,
	)
}

// stateValue maps a breaker state onto the BreakerState gauge scale.
func stateValue(s resilience.State) float64 {
	switch s {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}
