package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Entity metrics
	TenantsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_tenants_total",
			Help: "Total number of tenants",
		},
	)

	WorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_workers_total",
			Help: "Total number of workers across all tenants",
		},
	)

	TemplatesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_templates_total",
			Help: "Total number of templates",
		},
	)

	HostnamesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_hostnames_total",
			Help: "Total number of claimed hostnames",
		},
	)

	// Build metrics
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_builds_total",
			Help: "Total number of bundle builds by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_build_duration_seconds",
			Help:    "Bundle build duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Stub metrics
	StubLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_stub_loads_total",
			Help: "Total number of stub loads by result (hit, cold)",
		},
		[]string{"result"},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_dispatches_total",
			Help: "Total number of worker dispatches by outcome",
		},
		[]string{"outcome"},
	)

	// Sweep metrics
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_sweeps_total",
			Help: "Total number of garbage collection sweeps",
		},
	)

	SweepDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_sweep_deleted_total",
			Help: "Total number of records removed by sweeps, by kind",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Event metrics
	EventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_events_published_total",
			Help: "Total number of platform events published",
		},
	)

	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_event_subscribers",
			Help: "Number of active event stream subscribers",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TenantsTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(TemplatesTotal)
	prometheus.MustRegister(HostnamesTotal)
	prometheus.MustRegister(BuildsTotal)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(StubLoadsTotal)
	prometheus.MustRegister(DispatchesTotal)
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(SweepDeletedTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventSubscribers)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
