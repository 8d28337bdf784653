// Package cache implements the result cache: an LRU of encoded output blobs
// keyed by a 32-bit FNV-1a hash of the source identity and requested bounds,
// bounded by both entry count and total bytes.
package cache
