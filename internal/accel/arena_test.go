package accel

import (
	"context"
	"errors"
	"testing"
)

// fakeMemory implements Memory with a growth cap.
type fakeMemory struct {
	sizeBytes uint32
	maxPages  uint32
	grows     int
}

func (m *fakeMemory) Size() uint32 { return m.sizeBytes }

func (m *fakeMemory) Grow(deltaPages uint32) (uint32, bool) {
	curPages := m.sizeBytes / wasmPageSize
	if curPages+deltaPages > m.maxPages {
		return 0, false
	}
	m.grows++
	m.sizeBytes += deltaPages * wasmPageSize
	return curPages, true
}

func TestArenaAllocAndReset(t *testing.T) {
	mem := &fakeMemory{sizeBytes: 2 * wasmPageSize, maxPages: 16}
	a := NewArena(mem, wasmPageSize)

	p1, err := a.Alloc(100)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != wasmPageSize {
		t.Errorf("first alloc at %d, want base %d", p1, wasmPageSize)
	}

	p2, err := a.Alloc(50)
	if err != nil {
		t.Fatal(err)
	}
	if p2 <= p1 {
		t.Errorf("bump allocator went backwards: %d after %d", p2, p1)
	}
	if p2%4 != 0 {
		t.Errorf("alloc offset %d not 4-byte aligned", p2)
	}

	// Reset rewinds to base: the next allocation reuses the same window.
	a.Reset()
	if a.Used() != 0 {
		t.Errorf("Used() = %d after Reset, want 0", a.Used())
	}
	p3, err := a.Alloc(10)
	if err != nil {
		t.Fatal(err)
	}
	if p3 != p1 {
		t.Errorf("post-reset alloc at %d, want %d", p3, p1)
	}
}

func TestArenaGrowsMemory(t *testing.T) {
	mem := &fakeMemory{sizeBytes: wasmPageSize, maxPages: 64}
	a := NewArena(mem, wasmPageSize)

	// Larger than current memory; must trigger growth.
	if _, err := a.Alloc(5 * wasmPageSize); err != nil {
		t.Fatal(err)
	}
	if mem.grows != 1 {
		t.Errorf("grows = %d, want 1", mem.grows)
	}
	if mem.sizeBytes < 6*wasmPageSize {
		t.Errorf("memory size %d too small after growth", mem.sizeBytes)
	}
}

func TestArenaGrowFailureIsRecoverable(t *testing.T) {
	mem := &fakeMemory{sizeBytes: wasmPageSize, maxPages: 2}
	a := NewArena(mem, wasmPageSize)

	_, err := a.Alloc(10 * wasmPageSize)
	if err == nil {
		t.Fatal("expected growth refusal")
	}
	if !errors.Is(err, ErrMemoryGrow) {
		t.Errorf("error %v should wrap ErrMemoryGrow", err)
	}

	// The arena is still usable for allocations that fit.
	if _, err := a.Alloc(100); err != nil {
		t.Errorf("small alloc after refused growth failed: %v", err)
	}
}

func TestBridgeStateMachine(t *testing.T) {
	b := NewBridge("")
	if b.Configured() {
		t.Error("empty path should not count as configured")
	}
	if b.State() != StateUnloaded {
		t.Errorf("State() = %s, want unloaded", b.State())
	}
	if b.Ready() {
		t.Error("unloaded bridge should not be ready")
	}

	// Loading without a module path fails without changing to Failed:
	// nothing was attempted.
	if err := b.Load(context.Background()); err == nil {
		t.Error("Load with no module configured should error")
	}

	// A missing file is a real failed attempt.
	b2 := NewBridge("/nonexistent/resize.wasm")
	if !b2.Configured() {
		t.Error("bridge with path should be configured")
	}
	if err := b2.Load(context.Background()); err == nil {
		t.Error("Load of missing file should error")
	}
	if b2.State() != StateFailed {
		t.Errorf("State() = %s after failed load, want failed", b2.State())
	}
	// Subsequent loads keep failing fast.
	if err := b2.Load(context.Background()); err == nil {
		t.Error("Load after failure should error")
	}
}

func TestBridgeResizeRequiresLoad(t *testing.T) {
	b := NewBridge("whatever.wasm")
	_, err := b.Resize(context.Background(), nil, 10, 10)
	if !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Resize on unloaded bridge = %v, want ErrNotLoaded", err)
	}
}
