package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	ResizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_pipeline_resize_duration_seconds",
			Help:    "End-to-end duration of a resize pipeline run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ResizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_pipeline_resize_total",
			Help: "Total number of resize pipeline runs",
		},
		[]string{"status"}, // "ok", "error", "rejected"
	)

	StrategySelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_pipeline_strategy_selected_total",
			Help: "Downscale strategy chosen per resize",
		},
		[]string{"strategy"},
	)

	CompressionRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_pipeline_compression_ratio",
			Help:    "Original size divided by processed size",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	EncodeIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_pipeline_encode_iterations",
			Help:    "Quality search iterations per output encode",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)

	PreviewStages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_preview_stages_total",
			Help: "Total number of preview stages emitted",
		},
	)
)

// Cache metrics
var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_cache_evictions_total",
			Help: "Total number of result cache evictions",
		},
	)

	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_pipeline_cache_bytes",
			Help: "Total bytes currently held by the result cache",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_pipeline_cache_entries",
			Help: "Number of entries currently in the result cache",
		},
	)
)

// Worker pool metrics
var (
	PoolWorkersReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_pipeline_pool_workers_ready",
			Help: "Number of worker handles currently ready",
		},
	)

	PoolWorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_pipeline_pool_workers_busy",
			Help: "Number of worker handles currently processing a task",
		},
	)

	PoolQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_pipeline_pool_queue_depth",
			Help: "Number of tasks waiting in the dispatch queue",
		},
	)

	TaskTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_task_timeouts_total",
			Help: "Total number of tasks settled with a timeout error",
		},
	)

	WorkerCrashes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_worker_crashes_total",
			Help: "Total number of worker handles lost to an unrecoverable fault",
		},
	)

	LocalFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_local_fallbacks_total",
			Help: "Total number of resizes executed on the caller's goroutine",
		},
	)
)

// Native accelerator metrics
var (
	AccelLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_pipeline_accel_loads_total",
			Help: "Native accelerator module load attempts",
		},
		[]string{"status"}, // "ok", "error", "timeout"
	)

	AccelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_pipeline_accel_calls_total",
			Help: "Native accelerator resize calls",
		},
		[]string{"status"}, // "ok", "error"
	)

	AccelMemoryGrowFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_accel_memory_grow_failures_total",
			Help: "Linear memory growth failures during accelerated resizes",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_pipeline_memory_usage_ratio",
			Help: "Current heap usage as a fraction of the configured limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_pipeline_memory_paused",
			Help: "Whether processing is paused due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_pipeline_memory_gc_pauses_total",
			Help: "Forced garbage collections triggered by memory pressure",
		},
	)
)
