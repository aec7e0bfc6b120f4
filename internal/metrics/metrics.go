// Package metrics holds the gateway's process-wide Prometheus
// instrumentation for invocation outcomes and descriptor refreshes. The
// per-endpoint breaker transition counter lives alongside the breaker
// itself (internal/breaker) since it is keyed by endpoint at construction.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the gateway's shared instrumentation surface.
type Metrics struct {
	InvocationsTotal    *prometheus.CounterVec
	InvocationDuration  *prometheus.HistogramVec
	DescriptorRefreshes *prometheus.CounterVec
}

// New registers and returns the gateway's metrics against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		InvocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grpc_gateway",
			Name:      "invocations_total",
			Help:      "Total number of invoke() calls by service, method, and outcome status code.",
		}, []string{"service", "method", "status_code"}),

		InvocationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grpc_gateway",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of invoke() calls.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service", "method"}),

		DescriptorRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grpc_gateway",
			Name:      "descriptor_refreshes_total",
			Help:      "Total descriptor cache refreshes by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
	}
}
