package pipeline

import (
	"context"
	"fmt"
	"image"

	"image-pipeline/internal/accel"
	"image-pipeline/internal/engine"
	"image-pipeline/internal/logging"
	"image-pipeline/internal/scheduler"
	"image-pipeline/internal/startup"
)

// resizeWorker backs one pool handle. Each worker owns a private
// accelerator bridge, so a module instance is never shared across
// goroutines.
type resizeWorker struct {
	idx    int
	bridge *accel.Bridge
}

// DefaultWorkerFactory builds the production workers: software engines
// plus an optional per-worker accelerator bridge.
func DefaultWorkerFactory(cfg *startup.Config) scheduler.Factory {
	return func(i int) scheduler.Worker {
		return &resizeWorker{idx: i, bridge: accel.NewBridge(cfg.AccelModule)}
	}
}

// Init is the readiness handshake. The software engines are pure Go and
// need no warmup; the accelerator loads lazily later, on demand.
func (w *resizeWorker) Init(context.Context) error {
	return nil
}

func (w *resizeWorker) Resize(t *scheduler.Task, progress func(int)) (*image.NRGBA, error) {
	if t.Strategy == engine.StrategyNative {
		if w.bridge.Ready() {
			img, err := w.bridge.Resize(context.Background(), t.Src, t.DstW, t.DstH)
			if err == nil {
				if progress != nil {
					progress(100)
				}
				return img, nil
			}
			logging.Warn("Worker %d: accelerated resize failed, using multi-step: %v", w.idx, err)
		}
		return engine.Downscale(engine.StrategyMultiStep, t.Src, t.DstW, t.DstH, progress)
	}
	return engine.Downscale(t.Strategy, t.Src, t.DstW, t.DstH, progress)
}

func (w *resizeWorker) LoadAccelerator(ctx context.Context) error {
	if !w.bridge.Configured() {
		return fmt.Errorf("no accelerator module configured")
	}
	return w.bridge.Load(ctx)
}

func (w *resizeWorker) Close() {
	w.bridge.Close(context.Background())
}
