// Package engine implements the downscale strategy selector and the
// resampling engines behind it.
//
// Four paths exist, chosen in order by Select:
//
//   - Native: the sandboxed accelerator module handles very large images
//     in one high-quality pass (see the accel package).
//   - HostResize: libvips decode-time shrinking for large images when the
//     accelerator is not loaded.
//   - Direct: a single Lanczos pass for small scale factors.
//   - MultiStep: repeated halving for large scale factors, bounding both
//     aliasing and peak intermediate memory.
//
// Chunked is a fifth, explicitly opt-in path for sources so large that a
// full-resolution intermediate buffer cannot be allocated at all.
//
// Every engine takes a source pixel buffer it must not mutate and returns a
// buffer of exactly the requested size.
package engine
