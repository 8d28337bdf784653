package accel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"image-pipeline/internal/logging"
	"image-pipeline/internal/metrics"

	"github.com/cespare/xxhash/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// State tracks the accelerator module lifecycle.
type State int32

const (
	// StateUnloaded means no load has been attempted yet.
	StateUnloaded State = iota
	// StateLoading means a load is in flight.
	StateLoading
	// StateLoaded means the module is instantiated and callable.
	StateLoaded
	// StateFailed means the load failed; the bridge stays unusable.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

var (
	// ErrMemoryGrow signals that linear memory could not grow to fit an
	// allocation. Recoverable: fall back to a software engine.
	ErrMemoryGrow = errors.New("linear memory growth failed")

	// ErrNotLoaded signals a resize call against an unloaded bridge.
	ErrNotLoaded = errors.New("accelerator module not loaded")
)

// resizeExport is the single exported function the pipeline requires:
// resize_rgba(srcPtr, srcW, srcH, dstPtr, dstW, dstH) -> i32 status.
const resizeExport = "resize_rgba"

// statusMessage maps the module's i32 status codes to readable errors.
var statusMessage = map[int32]string{
	1: "null pointer",
	2: "invalid size or dimensions",
	3: "overflow in size calculation",
	4: "memory error",
	5: "pointer alignment error",
	6: "memory regions overlap",
}

// Bridge runs the sandboxed resize module. One Bridge owns one module
// instance and its linear memory; calls are serialized, and a per-call
// arena window means no state leaks between calls.
type Bridge struct {
	mu         sync.Mutex
	state      State
	modulePath string

	runtime wazero.Runtime
	module  api.Module
	mem     api.Memory
	resize  api.Function
	arena   *Arena
}

// NewBridge creates an unloaded bridge for the module at path. An empty
// path disables the accelerator entirely.
func NewBridge(modulePath string) *Bridge {
	return &Bridge{modulePath: modulePath}
}

// Configured reports whether a module location was provided.
func (b *Bridge) Configured() bool {
	return b.modulePath != ""
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ready reports whether the bridge can serve resize calls.
func (b *Bridge) Ready() bool {
	return b.State() == StateLoaded
}

// Load compiles and instantiates the module. Idempotent: a loaded bridge
// returns nil immediately, a failed one returns its original error class.
// Loading is expected to be triggered lazily, only once an image crosses
// the large-image threshold.
func (b *Bridge) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateLoaded:
		return nil
	case StateFailed:
		return fmt.Errorf("accelerator previously failed to load")
	}
	if b.modulePath == "" {
		return fmt.Errorf("no accelerator module configured")
	}

	b.state = StateLoading
	if err := b.loadLocked(ctx); err != nil {
		b.state = StateFailed
		metrics.AccelLoads.WithLabelValues("error").Inc()
		logging.Warn("accel: load failed: %v", err)
		return err
	}
	b.state = StateLoaded
	metrics.AccelLoads.WithLabelValues("ok").Inc()
	return nil
}

func (b *Bridge) loadLocked(ctx context.Context) error {
	body, err := os.ReadFile(b.modulePath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	r := wazero.NewRuntime(ctx)
	mod, err := r.InstantiateWithConfig(ctx, body, wazero.NewModuleConfig())
	if err != nil {
		_ = r.Close(ctx)
		return fmt.Errorf("instantiate module: %w", err)
	}

	resize := mod.ExportedFunction(resizeExport)
	if resize == nil {
		_ = r.Close(ctx)
		return fmt.Errorf("module does not export %s", resizeExport)
	}
	mem := mod.Memory()
	if mem == nil {
		_ = r.Close(ctx)
		return fmt.Errorf("module does not export linear memory")
	}

	b.runtime = r
	b.module = mod
	b.mem = mem
	b.resize = resize
	// Allocations start past the module's own initial memory.
	b.arena = NewArena(mem, mem.Size())

	logging.Info("accel: loaded %s (%d bytes, xxh64 %016x)",
		b.modulePath, len(body), xxhash.Sum64(body))
	return nil
}

// Resize runs the accelerated resample. The source buffer is copied into a
// freshly bump-allocated window of module memory, the export is invoked,
// and the result is copied back out; the window is discarded by the next
// call's Reset. Failures here are recoverable: the caller falls through to
// a software engine.
func (b *Bridge) Resize(ctx context.Context, src *image.NRGBA, dstW, dstH int) (*image.NRGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateLoaded {
		return nil, ErrNotLoaded
	}
	srcW, srcH := src.Rect.Dx(), src.Rect.Dy()
	if srcW < 1 || srcH < 1 || dstW < 1 || dstH < 1 {
		return nil, fmt.Errorf("accel: invalid dimensions %dx%d -> %dx%d", srcW, srcH, dstW, dstH)
	}

	pix := src.Pix
	if src.Stride != srcW*4 {
		pix = compactPixels(src)
	}

	// Clean allocation window for this call.
	b.arena.Reset()

	srcLen := uint32(srcW * srcH * 4)
	dstLen := uint32(dstW * dstH * 4)

	srcPtr, err := b.arena.Alloc(srcLen)
	if err != nil {
		metrics.AccelCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	dstPtr, err := b.arena.Alloc(dstLen)
	if err != nil {
		metrics.AccelCalls.WithLabelValues("error").Inc()
		return nil, err
	}

	if !b.mem.Write(srcPtr, pix) {
		metrics.AccelCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("accel: write of %d bytes at %d failed", srcLen, srcPtr)
	}

	results, err := b.resize.Call(ctx,
		uint64(srcPtr), uint64(srcW), uint64(srcH),
		uint64(dstPtr), uint64(dstW), uint64(dstH),
	)
	if err != nil {
		metrics.AccelCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("accel: %s trapped: %w", resizeExport, err)
	}
	if code := int32(api.DecodeI32(results[0])); code != 0 {
		metrics.AccelCalls.WithLabelValues("error").Inc()
		msg := statusMessage[code]
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("accel: %s returned %d: %s", resizeExport, code, msg)
	}

	out, ok := b.mem.Read(dstPtr, dstLen)
	if !ok {
		metrics.AccelCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("accel: read of %d bytes at %d failed", dstLen, dstPtr)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	copy(dst.Pix, out)
	metrics.AccelCalls.WithLabelValues("ok").Inc()
	return dst, nil
}

// Close releases the runtime and module. The bridge returns to Unloaded
// and may be loaded again.
func (b *Bridge) Close(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runtime != nil {
		_ = b.runtime.Close(ctx)
		b.runtime = nil
		b.module = nil
		b.mem = nil
		b.resize = nil
		b.arena = nil
	}
	b.state = StateUnloaded
}

// compactPixels copies a sub-image's rows into a contiguous RGBA buffer.
func compactPixels(src *image.NRGBA) []byte {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		copy(out[y*w*4:], row)
	}
	return out
}
