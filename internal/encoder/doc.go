// Package encoder wraps the host codecs behind a small Encoder interface
// and implements the output optimizer: a bounded binary search over encode
// quality that lands the output blob near a target byte budget.
//
// WebP is the preferred format; JPEG is the universal fallback. Pick
// confirms availability and never returns an unusable encoder.
package encoder
