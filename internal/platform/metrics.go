package platform

import (
	"ticketing/internal/bus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the collectors exposed on /metrics.
type Metrics struct {
	Registry *prometheus.Registry
	Bus      *bus.Metrics

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics registers the process, Go runtime, bus and HTTP collectors on a
// fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		Bus:      bus.NewMetrics(reg),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketing",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed, labeled by method and route.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketing",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of request durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration)
	return m
}
