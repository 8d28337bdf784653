// Package accel bridges to an optional sandboxed resize module executed
// with wazero.
//
// The module exposes a single export, resize_rgba(srcPtr, srcW, srcH,
// dstPtr, dstW, dstH), over one growable linear memory. The bridge copies
// pixel data into a bump-allocated arena window, invokes the export, and
// copies the result back out. The arena resets at every call, so no
// allocation survives between calls and nothing is individually freed.
//
// Everything here is best-effort: load failures and memory growth refusals
// leave the caller on the software engines.
package accel
