package scheduler

import (
	"context"
	"fmt"
	"image"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Worker is one isolated execution context. The pool owns the lifecycle:
// Init is called once before any task, LoadAccelerator only on request,
// Close exactly once on teardown. Implementations do not need to be safe
// for concurrent use; the pool serializes calls per worker.
type Worker interface {
	Init(ctx context.Context) error
	Resize(t *Task, progress func(percent int)) (*image.NRGBA, error)
	LoadAccelerator(ctx context.Context) error
	Close()
}

// Factory creates the Worker backing handle index i.
type Factory func(i int) Worker

// PoolSize returns the number of worker handles to spawn: half the
// available parallelism, clamped to [1,4]. Resize work is CPU-bound and
// the caller's own goroutine also needs headroom.
//
// Can be overridden with the RESIZE_WORKERS environment variable.
func PoolSize() int {
	if override := os.Getenv("RESIZE_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if count > 8 {
				return 8
			}
			return count
		}
	}

	// GOMAXPROCS is automatically set to the container CPU limit in Go 1.19+
	workers := runtime.GOMAXPROCS(0) / 2
	if workers < 1 {
		workers = 1
	}
	if workers > 4 {
		workers = 4
	}
	return workers
}

// MaxBusy returns the concurrency cap applied on top of the pool size:
// at most two thirds of available parallelism runs resize tasks at once,
// even when the pool is larger.
func MaxBusy() int {
	busy := 2 * runtime.GOMAXPROCS(0) / 3
	if busy < 1 {
		busy = 1
	}
	return busy
}

// handle is the scheduler's view of one worker. All fields are owned by
// the scheduler goroutine.
type handle struct {
	idx    int
	worker Worker
	taskCh chan *Task
	loadCh chan context.Context
	quit   chan struct{}

	ready       bool
	torn        bool
	accelLoaded bool
	current     int64 // id of the assigned task, 0 when idle
	stale       bool  // still grinding through an abandoned computation
	initTimer   *time.Timer
}

func (h *handle) free() bool {
	return h.ready && !h.torn && !h.stale && h.current == 0
}

// runWorker is the worker goroutine: one init handshake, then a serve
// loop over the private task channel.
func (p *Pool) runWorker(h *handle) {
	defer p.wg.Done()
	defer h.worker.Close()

	initCtx, cancel := context.WithTimeout(context.Background(), p.cfg.InitTimeout)
	err := h.worker.Init(initCtx)
	cancel()
	if err != nil {
		p.post(message{kind: msgInitFailed, worker: h.idx, err: err})
		return
	}
	p.post(message{kind: msgReady, worker: h.idx})

	for {
		select {
		case <-h.quit:
			return
		case ctx := <-h.loadCh:
			err := h.worker.LoadAccelerator(ctx)
			p.post(message{kind: msgAccelLoaded, worker: h.idx, err: err})
		case t := <-h.taskCh:
			p.runTask(h, t)
		}
	}
}

func (p *Pool) runTask(h *handle, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			p.post(message{kind: msgCrash, worker: h.idx, id: t.id,
				err: fmt.Errorf("worker %d panicked: %v", h.idx, r)})
		}
	}()

	img, err := h.worker.Resize(t, func(percent int) {
		p.post(message{kind: msgProgress, worker: h.idx, id: t.id, percent: percent})
	})
	if err != nil {
		p.post(message{kind: msgError, worker: h.idx, id: t.id, err: err})
		return
	}
	p.post(message{kind: msgComplete, worker: h.idx, id: t.id, img: img})
}
