package accel

import (
	"fmt"

	"image-pipeline/internal/metrics"
)

const wasmPageSize = 65536

// Memory is the minimal linear-memory surface the arena needs. Satisfied by
// wazero's api.Memory; tests use an in-process fake.
type Memory interface {
	// Size returns the current memory size in bytes.
	Size() uint32
	// Grow extends memory by deltaPages pages, returning the previous size
	// in pages and false if growth is refused.
	Grow(deltaPages uint32) (uint32, bool)
}

// Arena is a bump allocator over a module's linear memory. It only moves an
// offset forward; Reset rewinds to the base at the start of every call, so
// allocations from one call never survive into the next and nothing is ever
// individually freed.
type Arena struct {
	mem  Memory
	base uint32
	off  uint32
}

// NewArena creates an arena whose allocations start at base, typically the
// end of the module's initial memory.
func NewArena(mem Memory, base uint32) *Arena {
	return &Arena{mem: mem, base: base, off: base}
}

// Reset rewinds the arena to its base offset. Called at the start of every
// accelerated resize.
func (a *Arena) Reset() {
	a.off = a.base
}

// Used returns the bytes allocated since the last Reset.
func (a *Arena) Used() uint32 {
	return a.off - a.base
}

// Alloc reserves n bytes and returns their offset, growing the module
// memory when needed. Offsets are 4-byte aligned for RGBA pixel data.
// Growth failure is a recoverable condition: the caller falls back to a
// software engine.
func (a *Arena) Alloc(n uint32) (uint32, error) {
	// Align the current offset up to 4 bytes.
	off := (a.off + 3) &^ 3

	end := uint64(off) + uint64(n)
	if end > uint64(^uint32(0)) {
		return 0, fmt.Errorf("arena: allocation of %d bytes overflows address space", n)
	}

	if have := uint64(a.mem.Size()); end > have {
		needPages := uint32((end - have + wasmPageSize - 1) / wasmPageSize)
		if _, ok := a.mem.Grow(needPages); !ok {
			metrics.AccelMemoryGrowFailures.Inc()
			return 0, fmt.Errorf("arena: memory grow by %d pages refused: %w", needPages, ErrMemoryGrow)
		}
	}

	a.off = uint32(end)
	return off, nil
}
