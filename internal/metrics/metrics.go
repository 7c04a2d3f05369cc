package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postcard_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postcard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postcard_admission_decisions_total",
			Help: "Admission decisions by outcome (allowed, rate_limited, quota_exhausted, brake).",
		},
		[]string{"outcome"},
	)

	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postcard_rate_limit_denied_total",
			Help: "Rate-limit denials by blocking dimension.",
		},
		[]string{"dimension"},
	)

	LockRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postcard_lock_acquire_retries_total",
			Help: "Lock acquisition attempts that found the lock held.",
		},
	)

	LockFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postcard_lock_acquire_failures_total",
			Help: "Lock acquisitions abandoned after exhausting retries.",
		},
	)

	QuotaConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postcard_quota_version_conflicts_total",
			Help: "Optimistic quota updates rejected on a version mismatch.",
		},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postcard_requests_in_flight",
			Help: "Requests currently being handled by this instance.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdmissionDecisionsTotal,
		RateLimitDeniedTotal,
		LockRetriesTotal,
		LockFailuresTotal,
		QuotaConflictsTotal,
		RequestsInFlight,
	)
}
