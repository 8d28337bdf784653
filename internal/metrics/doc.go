// Package metrics defines the Prometheus metrics exported by the pipeline:
// resize timings and outcomes, strategy selection counts, result cache
// occupancy, worker pool state, and native accelerator health.
//
// Metrics are registered via promauto at package init. Serving them is the
// binary's responsibility (see the METRICS_ENABLED / METRICS_PORT settings).
package metrics
