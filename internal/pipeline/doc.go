// Package pipeline orchestrates a full downscale run: validate, plan,
// pick a strategy, resample (on a pool worker or locally), search the
// encode quality toward the output byte budget, and cache the result.
//
// A Pipeline is an explicit context object: it owns its cache, worker
// pool, encoder, and optional memory monitor, and nothing in this package
// is process-global. Tests construct as many independent pipelines as
// they like.
//
// Fault policy: validation failures abort before any allocation; resource
// and worker faults are absorbed by falling back to a software engine on
// the caller's goroutine; only encode failures (or cancellation) surface
// to the caller. Caching is best-effort and never blocks a result.
package pipeline
