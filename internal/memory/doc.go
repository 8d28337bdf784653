// Package memory keeps the pipeline from being OOM-killed when decoding
// large images in a memory-constrained container.
//
// # Overview
//
// Decoding a 48-megapixel source allocates close to 200 MB in a single
// step, and several downscale tasks can be in flight at once. Unlike
// GOMAXPROCS, which Go detects from cgroup CPU limits automatically,
// GOMEMLIMIT must be configured explicitly, so without help the runtime
// has no idea how close it is to the container limit.
//
// This package provides:
//   - [ConfigureFromEnv] to derive GOMEMLIMIT from the container memory
//     limit, reserving headroom for cgo (vips), wasm linear memory, and
//     goroutine stacks
//   - [Monitor], a sampling monitor that pauses new decodes above a
//     critical watermark and shrinks scheduler dispatch above a high
//     watermark
//
// # Environment Variables
//
//   - GOMEMLIMIT: Standard Go environment variable. If set, takes
//     precedence over all other configuration.
//   - MEMORY_LIMIT: Container memory limit in bytes, typically injected
//     via the Kubernetes Downward API.
//   - MEMORY_RATIO: Fraction of MEMORY_LIMIT to give the Go heap, as a
//     decimal in (0.0, 1.0]. Default 0.85. Lower it when the vips path
//     is enabled, since vips allocates outside the Go heap.
//
// # Usage
//
// Call [ConfigureFromEnv] first thing in main, then hand a started
// [Monitor] to the pipeline:
//
//	memory.ConfigureFromEnv()
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
// The pipeline calls monitor.WaitIfPaused() before every decode; the
// scheduler consults monitor.ShouldThrottle() when sizing a dispatch
// batch. GOMEMLIMIT is a soft limit, so pausing before the allocation
// (rather than reacting after) is what actually prevents the spike.
package memory
