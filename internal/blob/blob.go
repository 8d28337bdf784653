package blob

import (
	"sync"
	"sync/atomic"
)

// outstanding counts live handles across the process. Tests use it to prove
// that every pipeline exit path, including failures, releases what it
// allocated.
var outstanding atomic.Int64

// Handle wraps an encoded output blob. Ownership transfers to whoever holds
// the handle; the holder must call Release exactly once when done. Release
// is idempotent, so deferring it alongside an explicit consume is safe.
type Handle struct {
	mu       sync.Mutex
	data     []byte
	released bool
}

// New wraps data in a tracked handle.
func New(data []byte) *Handle {
	outstanding.Add(1)
	return &Handle{data: data}
}

// Bytes returns the underlying blob. Returns nil after Release.
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.data
}

// Len returns the blob size in bytes, 0 after Release.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return 0
	}
	return len(h.data)
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Release drops the blob reference. Safe to call more than once; only the
// first call has any effect.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.data = nil
	outstanding.Add(-1)
}

// Detach consumes the handle, returning the blob and releasing the tracking
// entry in one step. The returned slice is the caller's to keep.
func (h *Handle) Detach() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	data := h.data
	h.released = true
	h.data = nil
	outstanding.Add(-1)
	return data
}

// Outstanding returns the number of live handles in the process.
func Outstanding() int64 {
	return outstanding.Load()
}
