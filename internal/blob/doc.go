// Package blob provides scope-guard handles for encoded output blobs.
//
// Every externally visible blob (final results and preview stages) is
// wrapped in a Handle whose ownership transfers to the receiver. The
// process-wide Outstanding counter exists so tests can assert that no exit
// path leaks a handle.
package blob
