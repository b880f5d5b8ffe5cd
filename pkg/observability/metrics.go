// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the chronicle gate.
package observability

import "github.com/prometheus/client_golang/prometheus"

// RequestBuckets defines histogram buckets for request latencies. Requests
// are dominated by one directory lookup and one signature check, so the
// range is 1ms to 5s.
var RequestBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronicle_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RequestBuckets,
		},
		[]string{"method", "route"},
	)

	// InFlightRequests tracks the number of requests currently being served.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronicle_requests_in_flight",
			Help: "Requests in flight",
		},
	)

	// GateDecisionsTotal counts signature gate outcomes. outcome is "accepted"
	// or the rejection kind.
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_gate_decisions_total",
			Help: "Signature gate decisions",
		},
		[]string{"scope", "outcome"},
	)

	// DirectoryLookupsTotal counts client directory lookups by result
	// (cache_hit, found, not_found, error).
	DirectoryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_directory_lookups_total",
			Help: "Client directory lookups",
		},
		[]string{"result"},
	)

	// ResponsesSignedTotal counts responses signed with the server key.
	ResponsesSignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_responses_signed_total",
			Help: "Responses signed by the server",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InFlightRequests,
		GateDecisionsTotal,
		DirectoryLookupsTotal,
		ResponsesSignedTotal,
	)
}
