// Package preview generates the progressive preview ladder: tiny ≈100px,
// small ≈400px, medium ≈800px longest edge, emitted in order so a display
// can paint coarse results while the full-quality resize is still running.
// Generation runs on the caller's goroutine; it is cheap enough not to
// need the worker pool.
package preview
