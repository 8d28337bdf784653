package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"image-pipeline/internal/logging"
	"image-pipeline/internal/metrics"
)

var (
	// ErrNoWorkers means no worker handle is ready and none can become
	// ready. The caller runs the task on its own goroutine instead.
	ErrNoWorkers = errors.New("no ready workers")

	// ErrPoolClosed means the pool was shut down.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrTaskTimeout means the task exceeded its per-task deadline.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrWorkerCrash means the worker running the task faulted.
	ErrWorkerCrash = errors.New("worker crashed")
)

// Config controls pool construction. Zero values fall back to PoolSize,
// MaxBusy and the default timeouts.
type Config struct {
	Workers     int
	MaxBusy     int
	InitTimeout time.Duration
	TaskTimeout time.Duration

	// Factory builds the worker behind each handle. Required.
	Factory Factory

	// Throttled, if set, is consulted during dispatch; while it reports
	// true at most one task runs at a time.
	Throttled func() bool
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = PoolSize()
	}
	if c.MaxBusy <= 0 {
		c.MaxBusy = MaxBusy()
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 10 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
}

type msgKind int

const (
	msgSubmit msgKind = iota
	msgReady
	msgInitFailed
	msgInitTimeout
	msgProgress
	msgComplete
	msgError
	msgCrash
	msgTaskTimeout
	msgLoadAccel
	msgAccelLoaded
)

type message struct {
	kind    msgKind
	worker  int
	id      int64
	percent int
	img     *image.NRGBA
	err     error
	task    *Task
	ctx     context.Context
	ack     *accelWait
}

type accelWait struct {
	remaining int
	loaded    atomic.Int32
	done      chan struct{}
}

// Pool schedules resize tasks over a fixed set of worker handles. Tasks
// queue FIFO; each dispatch pass assigns min(queued, free handles, free
// concurrency slots) tasks, each with a fresh id and its own timeout.
// All pool state is owned by a single scheduler goroutine; callers talk
// to it through messages only.
type Pool struct {
	cfg Config

	events   chan message
	quit     chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup

	// Owned by the scheduler goroutine.
	handles  []*handle
	queue    []*Task
	inFlight map[int64]*Task
	busy     int
	accelAck *accelWait

	nextID      atomic.Int64
	readyCount  atomic.Int32
	pendingInit atomic.Int32
	closed      atomic.Bool

	firstReady     chan struct{}
	firstReadyOnce sync.Once
	initSettled    chan struct{}
}

// NewPool spawns the worker handles and starts the scheduler goroutine.
// Handles initialize in the background; use WaitReady to block until the
// pool is usable.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("scheduler: Config.Factory is required")
	}
	cfg.applyDefaults()

	p := &Pool{
		cfg:         cfg,
		events:      make(chan message, 256),
		quit:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		handles:     make([]*handle, cfg.Workers),
		inFlight:    make(map[int64]*Task),
		firstReady:  make(chan struct{}),
		initSettled: make(chan struct{}),
	}
	p.pendingInit.Store(int32(cfg.Workers))

	for i := range p.handles {
		h := &handle{
			idx:    i,
			worker: cfg.Factory(i),
			taskCh: make(chan *Task, 1),
			loadCh: make(chan context.Context, 1),
			quit:   make(chan struct{}),
		}
		p.handles[i] = h
		idx := i
		h.initTimer = time.AfterFunc(cfg.InitTimeout, func() {
			p.post(message{kind: msgInitTimeout, worker: idx})
		})
		p.wg.Add(1)
		go p.runWorker(h)
	}

	go p.loop()

	logging.Info("Worker pool started: %d workers, max %d busy, task timeout %v",
		cfg.Workers, cfg.MaxBusy, cfg.TaskTimeout)
	return p, nil
}

// post delivers a message to the scheduler goroutine, dropping it if the
// pool is shutting down.
func (p *Pool) post(m message) {
	select {
	case p.events <- m:
	case <-p.quit:
	}
}

// ReadyWorkers returns the number of handles currently ready.
func (p *Pool) ReadyWorkers() int {
	return int(p.readyCount.Load())
}

// WaitReady blocks until at least one handle is ready, every handle has
// failed (ErrNoWorkers), or ctx expires.
func (p *Pool) WaitReady(ctx context.Context) error {
	select {
	case <-p.firstReady:
		return nil
	case <-p.initSettled:
		if p.readyCount.Load() == 0 {
			return ErrNoWorkers
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit moves the task into the pool. The task's source buffer belongs
// to the pool from here on. Returns ErrNoWorkers when no handle is ready
// and none is still initializing; the caller should run the task locally.
func (p *Pool) Submit(t *Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.readyCount.Load() == 0 && p.pendingInit.Load() == 0 {
		return ErrNoWorkers
	}

	t.id = p.nextID.Add(1)
	t.done = make(chan result, 1)

	select {
	case p.events <- message{kind: msgSubmit, task: t}:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	}
}

// LoadAccelerator asks every ready handle to load the native module and
// waits for the group to report or ctx to expire, whichever comes first.
// Returns the number of ready handles holding the module, counting loads
// from earlier rounds; once every worker has it, further calls return the
// full count without doing any work.
func (p *Pool) LoadAccelerator(ctx context.Context) int {
	if p.closed.Load() {
		return 0
	}
	ack := &accelWait{done: make(chan struct{})}
	select {
	case p.events <- message{kind: msgLoadAccel, ctx: ctx, ack: ack}:
	case <-p.quit:
		return 0
	}
	select {
	case <-ack.done:
	case <-ctx.Done():
	case <-p.quit:
	}
	return int(ack.loaded.Load())
}

// Close tears down the pool: queued and in-flight tasks settle with
// ErrPoolClosed (workers mid-resize finish their current computation
// first, and its result is discarded).
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.quit)
	<-p.loopDone
	p.wg.Wait()
}

func (p *Pool) loop() {
	defer close(p.loopDone)
	for {
		select {
		case <-p.quit:
			p.shutdown()
			return
		case m := <-p.events:
			p.handleMessage(m)
		}
	}
}

func (p *Pool) handleMessage(m message) {
	switch m.kind {
	case msgSubmit:
		p.queue = append(p.queue, m.task)
		p.dispatch()

	case msgReady:
		h := p.handles[m.worker]
		if h.torn {
			return
		}
		h.initTimer.Stop()
		h.ready = true
		p.readyCount.Add(1)
		metrics.PoolWorkersReady.Inc()
		p.firstReadyOnce.Do(func() { close(p.firstReady) })
		p.decPendingInit()
		logging.Debug("Worker %d ready", m.worker)
		p.dispatch()

	case msgInitFailed:
		h := p.handles[m.worker]
		if h.torn || h.ready {
			return
		}
		h.initTimer.Stop()
		p.teardown(h)
		p.decPendingInit()
		logging.Warn("Worker %d failed to initialize: %v", m.worker, m.err)
		p.rejectQueueIfDead()

	case msgInitTimeout:
		h := p.handles[m.worker]
		if h.torn || h.ready {
			return
		}
		p.teardown(h)
		p.decPendingInit()
		logging.Warn("Worker %d did not become ready within %v, removed", m.worker, p.cfg.InitTimeout)
		p.rejectQueueIfDead()

	case msgProgress:
		if t, ok := p.inFlight[m.id]; ok && t.OnProgress != nil {
			t.OnProgress(m.percent)
		}

	case msgComplete, msgError:
		h := p.handles[m.worker]
		if h.current == m.id {
			h.current = 0
		} else {
			// A previously timed-out computation finally finished.
			h.stale = false
		}
		t, ok := p.inFlight[m.id]
		if !ok {
			logging.Debug("Discarding stale settlement for task %d", m.id)
			p.dispatch()
			return
		}
		delete(p.inFlight, m.id)
		p.busy--
		if m.kind == msgError {
			p.settle(t, nil, m.err)
		} else {
			p.settle(t, m.img, nil)
		}
		p.dispatch()

	case msgCrash:
		h := p.handles[m.worker]
		metrics.WorkerCrashes.Inc()
		logging.Error("Worker %d crashed: %v", m.worker, m.err)
		if t, ok := p.inFlight[m.id]; ok {
			delete(p.inFlight, m.id)
			p.busy--
			p.settle(t, nil, fmt.Errorf("%w: %v", ErrWorkerCrash, m.err))
		}
		h.current = 0
		h.stale = false
		p.teardown(h)
		p.dispatch()
		p.rejectQueueIfDead()

	case msgTaskTimeout:
		t, ok := p.inFlight[m.id]
		if !ok {
			return // settled just before the timer fired
		}
		delete(p.inFlight, m.id)
		p.busy--
		metrics.TaskTimeouts.Inc()
		h := p.handles[t.worker]
		if h.current == m.id {
			// The worker is still grinding; keep the handle out of
			// dispatch until the abandoned computation surfaces.
			h.current = 0
			h.stale = true
		}
		logging.Warn("Task %d timed out after %v on worker %d", m.id, p.cfg.TaskTimeout, t.worker)
		p.settle(t, nil, fmt.Errorf("%w after %v", ErrTaskTimeout, p.cfg.TaskTimeout))
		p.dispatch()

	case msgLoadAccel:
		// Handles that loaded in an earlier round count toward this one;
		// the caller needs the total, not the delta.
		already := 0
		for _, h := range p.handles {
			if h.ready && !h.torn && h.accelLoaded {
				already++
			}
		}
		m.ack.loaded.Add(int32(already))
		if p.accelAck != nil {
			// A load round is already running; report what is loaded now.
			close(m.ack.done)
			return
		}
		sent := 0
		for _, h := range p.handles {
			if h.ready && !h.torn && !h.accelLoaded {
				select {
				case h.loadCh <- m.ctx:
					sent++
				default:
				}
			}
		}
		m.ack.remaining = sent
		if sent == 0 {
			close(m.ack.done)
			return
		}
		p.accelAck = m.ack

	case msgAccelLoaded:
		h := p.handles[m.worker]
		if m.err == nil {
			h.accelLoaded = true
		} else {
			logging.Warn("Worker %d accelerator load failed: %v", m.worker, m.err)
		}
		if ack := p.accelAck; ack != nil {
			if m.err == nil {
				ack.loaded.Add(1)
			}
			ack.remaining--
			if ack.remaining == 0 {
				close(ack.done)
				p.accelAck = nil
			}
		}
	}
}

// dispatch assigns min(queued, free handles, free slots) tasks, FIFO.
func (p *Pool) dispatch() {
	for len(p.queue) > 0 && p.busy < p.cfg.MaxBusy {
		if p.cfg.Throttled != nil && p.busy > 0 && p.cfg.Throttled() {
			break
		}
		h := p.freeHandle()
		if h == nil {
			break
		}

		t := p.queue[0]
		p.queue = p.queue[1:]

		t.worker = h.idx
		h.current = t.id
		p.inFlight[t.id] = t
		p.busy++
		id := t.id
		t.timer = time.AfterFunc(p.cfg.TaskTimeout, func() {
			p.post(message{kind: msgTaskTimeout, id: id})
		})
		h.taskCh <- t
	}
	metrics.PoolQueueDepth.Set(float64(len(p.queue)))
	metrics.PoolWorkersBusy.Set(float64(p.busy))
}

func (p *Pool) freeHandle() *handle {
	for _, h := range p.handles {
		if h.free() {
			return h
		}
	}
	return nil
}

func (p *Pool) settle(t *Task, img *image.NRGBA, err error) {
	if t.settled {
		return
	}
	t.settled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.done <- result{img: img, err: err}
}

func (p *Pool) teardown(h *handle) {
	if h.torn {
		return
	}
	h.torn = true
	if h.ready {
		h.ready = false
		p.readyCount.Add(-1)
		metrics.PoolWorkersReady.Dec()
	}
	close(h.quit)
}

// rejectQueueIfDead settles every queued task with ErrNoWorkers once no
// handle is ready and none can still become ready. Tasks submitted during
// initialization would otherwise wait forever.
func (p *Pool) rejectQueueIfDead() {
	if p.readyCount.Load() != 0 || p.pendingInit.Load() != 0 {
		return
	}
	for _, t := range p.queue {
		p.settle(t, nil, ErrNoWorkers)
	}
	p.queue = nil
	metrics.PoolQueueDepth.Set(0)
}

func (p *Pool) decPendingInit() {
	if p.pendingInit.Add(-1) == 0 {
		close(p.initSettled)
	}
}

func (p *Pool) shutdown() {
	for _, h := range p.handles {
		if !h.torn {
			h.torn = true
			close(h.quit)
		}
	}
	for _, t := range p.queue {
		p.settle(t, nil, ErrPoolClosed)
	}
	p.queue = nil
	for id, t := range p.inFlight {
		delete(p.inFlight, id)
		p.settle(t, nil, ErrPoolClosed)
	}
	p.busy = 0
	metrics.PoolQueueDepth.Set(0)
	metrics.PoolWorkersBusy.Set(0)
}
