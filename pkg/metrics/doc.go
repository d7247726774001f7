/*
Package metrics provides Prometheus metrics, health checking, and timing
helpers for the control plane.

All metrics are registered on the default registry at package init and
exposed through Handler() for scraping. Entity gauges are refreshed by a
Collector polling the store; counters and histograms are incremented inline
by the packages doing the work.

# Metric Categories

	Entities:  tenants, workers, templates, claimed hostnames (gauges)
	Builds:    build count by result (hit/miss/error), build duration
	Stubs:     stub loads by result (hit/cold), dispatch outcomes
	Sweeps:    sweep count, records removed by kind
	API:       request count by method and status, request duration
	Events:    published events, active stream subscribers

# Usage

	// Serve metrics and health
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())

	// Record a timed operation
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BuildDuration)

	// Keep entity gauges fresh
	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

# Health Checking

Components report health with SetComponent; GetReadiness requires every
critical component (storage, api) healthy before the server advertises
ready. HealthHandler, ReadyHandler, and LivenessHandler serve the standard
endpoints with 503 on failure.

# Thread Safety

The health registry is mutex-guarded and Prometheus metric types are safe
for concurrent use; everything here may be called from any goroutine.
*/
package metrics
