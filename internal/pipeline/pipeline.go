package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"

	"image-pipeline/internal/blob"
	"image-pipeline/internal/cache"
	"image-pipeline/internal/encoder"
	"image-pipeline/internal/engine"
	"image-pipeline/internal/logging"
	"image-pipeline/internal/memory"
	"image-pipeline/internal/metrics"
	"image-pipeline/internal/planner"
	"image-pipeline/internal/preview"
	"image-pipeline/internal/scheduler"
	"image-pipeline/internal/startup"
)

// Source is one input image: raw encoded bytes plus the identity used for
// cache keying.
type Source struct {
	Filename string
	Data     []byte
	ModTime  time.Time
}

// Options controls a single Process call.
type Options struct {
	MaxWidth  int
	MaxHeight int

	// Display geometry; folded into the bounds so the output never exceeds
	// what the observer's screen can show. Zero values are ignored.
	DisplayWidth  int
	DisplayHeight int
	PixelRatio    float64

	// TargetBytes overrides the configured output byte budget. 0 uses the
	// configured default; negative disables the budget search.
	TargetBytes int64

	// Chunked opts in to the tiled software engine.
	Chunked bool

	// OnPreview, if set, receives the progressive preview ladder before
	// the full resize runs.
	OnPreview preview.Emit

	// OnProgress, if set, receives resize progress percentages.
	OnProgress func(percent int)
}

// Result is the outcome of one pipeline run. The caller owns Blob and
// must Release it.
type Result struct {
	Blob   *blob.Handle
	Format string

	Width  int
	Height int

	OriginalWidth  int
	OriginalHeight int
	OriginalSize   int64
	ProcessedSize  int64

	CompressionRatio float64
	ProcessingTime   time.Duration

	FromCache  bool
	UsedWorker bool
	Strategy   engine.Strategy
}

// Pipeline is the explicit context object tying the components together:
// config, cache, worker pool, encoder, memory monitor. Construct one per
// process (or per test) and pass it around; there is no package-level
// shared state.
type Pipeline struct {
	cfg     *startup.Config
	cache   *cache.Cache
	pool    *scheduler.Pool
	monitor *memory.Monitor
	enc     encoder.Encoder

	inFlight atomic.Bool
}

// New builds a pipeline from cfg. monitor may be nil (no memory
// backpressure). factory may be nil, which selects the production
// workers; tests inject their own.
func New(cfg *startup.Config, monitor *memory.Monitor, factory scheduler.Factory) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: nil config")
	}
	if factory == nil {
		factory = DefaultWorkerFactory(cfg)
	}

	var throttled func() bool
	if monitor != nil {
		throttled = monitor.ShouldThrottle
	}
	pool, err := scheduler.NewPool(scheduler.Config{
		InitTimeout: cfg.WorkerInitTimeout,
		TaskTimeout: cfg.TaskTimeout,
		Factory:     factory,
		Throttled:   throttled,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		cache:   cache.New(cfg.CacheMaxEntries, cfg.CacheMaxBytes),
		pool:    pool,
		monitor: monitor,
		enc:     encoder.Pick(cfg.OutputFormat),
	}, nil
}

// Close shuts down the worker pool. The cache is dropped with it.
func (p *Pipeline) Close() {
	p.pool.Close()
	p.cache.Clear()
}

// Process validates, plans, downscales, and re-encodes one source image.
// Exactly one operation runs at a time per Pipeline; a concurrent call
// returns ErrBusy. The in-flight flag is cleared on every exit path.
func (p *Pipeline) Process(ctx context.Context, src Source, opts Options) (*Result, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.inFlight.Store(false)

	started := time.Now()
	res, err := p.process(ctx, src, opts, started)
	if err != nil {
		metrics.ResizeTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ResizeTotal.WithLabelValues("ok").Inc()
	metrics.ResizeDuration.Observe(time.Since(started).Seconds())
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, src Source, opts Options, started time.Time) (*Result, error) {
	// Validation happens before any expensive allocation.
	if len(src.Data) == 0 {
		return nil, &ValidationError{Reason: "empty source"}
	}
	if int64(len(src.Data)) > p.cfg.MaxFileSize {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"file size %d exceeds limit %d", len(src.Data), p.cfg.MaxFileSize)}
	}
	header, _, err := image.DecodeConfig(bytes.NewReader(src.Data))
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("undecodable source: %v", err)}
	}
	srcSize := planner.Size{Width: header.Width, Height: header.Height}
	if srcSize.Pixels() > p.cfg.MaxPixels {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"resolution %dx%d (%d pixels) exceeds limit %d",
			header.Width, header.Height, srcSize.Pixels(), p.cfg.MaxPixels)}
	}

	bounds := planner.EffectiveBounds(opts.MaxWidth, opts.MaxHeight,
		opts.DisplayWidth, opts.DisplayHeight, opts.PixelRatio)

	key := cache.Key(src.Filename, int64(len(src.Data)), src.ModTime, bounds.MaxWidth, bounds.MaxHeight)
	if entry := p.cache.Get(key); entry != nil {
		logging.Debug("Cache hit for %s (%s)", src.Filename, key)
		return &Result{
			Blob:             blob.New(entry.Blob),
			Format:           p.enc.Format(),
			Width:            entry.Meta.Width,
			Height:           entry.Meta.Height,
			OriginalWidth:    entry.Meta.OriginalWidth,
			OriginalHeight:   entry.Meta.OriginalHeight,
			OriginalSize:     entry.Meta.OriginalSize,
			ProcessedSize:    entry.Meta.ProcessedSize,
			CompressionRatio: entry.Meta.CompressionRatio,
			ProcessingTime:   time.Since(started),
			FromCache:        true,
			Strategy:         strategyFromName(entry.Meta.Strategy),
		}, nil
	}

	// Gate the decode: it is the single largest allocation of the run.
	if p.monitor != nil && !p.monitor.WaitIfPaused() {
		return nil, &ResourceError{Op: "decode", Err: fmt.Errorf("memory monitor stopped")}
	}

	target := planner.Plan(srcSize, bounds)

	// Ask ready workers to load the accelerator only once the image is
	// big enough to benefit; wait briefly and proceed with whoever made it.
	accelReady := false
	if p.cfg.AccelModule != "" && srcSize.Pixels() >= engine.LargeImagePixels {
		loadCtx, cancel := context.WithTimeout(ctx, p.cfg.AccelLoadTimeout)
		loaded := p.pool.LoadAccelerator(loadCtx)
		cancel()
		accelReady = loaded > 0
		logging.Debug("Accelerator loaded on %d workers", loaded)
	}

	sel := engine.Select(engine.SelectInput{
		SrcWidth:      srcSize.Width,
		SrcHeight:     srcSize.Height,
		DstWidth:      target.Width,
		DstHeight:     target.Height,
		AccelReady:    accelReady,
		HostAvailable: hostAvailable(),
		Chunked:       opts.Chunked,
	})
	metrics.StrategySelected.WithLabelValues(sel.String()).Inc()
	logging.Debug("Plan %dx%d -> %dx%d, strategy %s",
		srcSize.Width, srcSize.Height, target.Width, target.Height, sel)

	img, usedWorker, err := p.render(ctx, src, opts, sel, target)
	if err != nil {
		return nil, err
	}

	budget := opts.TargetBytes
	switch {
	case budget == 0:
		budget = p.cfg.TargetBytes
	case budget < 0:
		budget = 0
	}
	encoded, err := encoder.EncodeToBudget(img, budget, p.enc)
	if err != nil {
		return nil, &EncodeError{Format: p.enc.Format(), Err: err}
	}

	ratio := float64(len(encoded.Data)) / float64(len(src.Data))
	metrics.CompressionRatio.Observe(ratio)

	meta := cache.Metadata{
		Width:            target.Width,
		Height:           target.Height,
		OriginalWidth:    srcSize.Width,
		OriginalHeight:   srcSize.Height,
		OriginalSize:     int64(len(src.Data)),
		ProcessedSize:    int64(len(encoded.Data)),
		CompressionRatio: ratio,
		Strategy:         sel.String(),
	}
	// Best effort; the cache never blocks the result.
	p.cache.Set(key, encoded.Data, meta)

	return &Result{
		Blob:             blob.New(encoded.Data),
		Format:           p.enc.Format(),
		Width:            target.Width,
		Height:           target.Height,
		OriginalWidth:    srcSize.Width,
		OriginalHeight:   srcSize.Height,
		OriginalSize:     meta.OriginalSize,
		ProcessedSize:    meta.ProcessedSize,
		CompressionRatio: ratio,
		ProcessingTime:   time.Since(started),
		UsedWorker:       usedWorker,
		Strategy:         sel,
	}, nil
}

// Indirection over the libvips primitive so tests can script the host
// resize path without a vips build.
var (
	hostResize    = engine.HostResize
	hostAvailable = engine.HostResizeAvailable
)

// emitPreviews runs the progressive ladder over img. Only cancellation
// aborts the run; any other preview failure is logged and swallowed, the
// final result matters more than its previews.
func (p *Pipeline) emitPreviews(ctx context.Context, img *image.NRGBA, opts Options) error {
	if opts.OnPreview == nil {
		return nil
	}
	if err := preview.Generate(ctx, img, opts.OnPreview); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn("Preview generation failed: %v", err)
	}
	return nil
}

// render produces the target-size pixel buffer, routing through the host
// resize, the worker pool, or the caller's goroutine as the strategy and
// pool health dictate.
func (p *Pipeline) render(ctx context.Context, src Source, opts Options, sel engine.Strategy, target planner.Size) (*image.NRGBA, bool, error) {
	if sel == engine.StrategyHostResize {
		img, err := hostResize(src.Data, target.Width, target.Height)
		if err == nil {
			// The full-resolution source is never decoded on this path,
			// so the preview ladder runs off the resized buffer instead.
			if perr := p.emitPreviews(ctx, img, opts); perr != nil {
				return nil, false, perr
			}
			if opts.OnProgress != nil {
				opts.OnProgress(100)
			}
			return img, false, nil
		}
		// Recoverable: drop to the software path below.
		logging.Warn("Host resize failed, using software engines: %v", err)
		metrics.LocalFallbacks.Inc()
		sel = engine.StrategyMultiStep
	}

	decoded, err := p.decode(src)
	if err != nil {
		return nil, false, err
	}

	if perr := p.emitPreviews(ctx, decoded, opts); perr != nil {
		return nil, false, perr
	}

	task := &scheduler.Task{
		Src:        decoded,
		DstW:       target.Width,
		DstH:       target.Height,
		Strategy:   sel,
		OnProgress: opts.OnProgress,
	}
	if err := p.pool.Submit(task); err != nil {
		if !errors.Is(err, scheduler.ErrNoWorkers) && !errors.Is(err, scheduler.ErrPoolClosed) {
			return nil, false, &WorkerFault{Err: err}
		}
		logging.Debug("Pool unavailable (%v), resizing locally", err)
		img, lerr := p.renderLocal(decoded, sel, target, opts.OnProgress)
		return img, false, lerr
	}

	// The decoded buffer moved into the pool with the task; from here on
	// only the result comes back.
	img, werr := task.Wait(ctx)
	if werr == nil {
		return img, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	fault := &WorkerFault{Err: werr}
	logging.Warn("Falling back to local execution: %v", fault)
	metrics.LocalFallbacks.Inc()

	// The moved buffer is gone; decode a fresh copy for the local run.
	decoded, err = p.decode(src)
	if err != nil {
		return nil, false, err
	}
	img, lerr := p.renderLocal(decoded, sel, target, opts.OnProgress)
	return img, false, lerr
}

func (p *Pipeline) decode(src Source) (*image.NRGBA, error) {
	decoded, err := imaging.Decode(bytes.NewReader(src.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("corrupt source: %v", err)}
	}
	return imaging.Clone(decoded), nil
}

func (p *Pipeline) renderLocal(src *image.NRGBA, sel engine.Strategy, target planner.Size, progress engine.Progress) (*image.NRGBA, error) {
	img, err := engine.Downscale(localStrategy(sel), src, target.Width, target.Height, progress)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// localStrategy maps pool-only strategies onto their software equivalent
// for execution on the caller's goroutine.
func localStrategy(s engine.Strategy) engine.Strategy {
	switch s {
	case engine.StrategyNative, engine.StrategyHostResize:
		return engine.StrategyMultiStep
	default:
		return s
	}
}

func strategyFromName(name string) engine.Strategy {
	for _, s := range []engine.Strategy{
		engine.StrategyNative, engine.StrategyHostResize, engine.StrategyDirect,
		engine.StrategyMultiStep, engine.StrategyChunked,
	} {
		if s.String() == name {
			return s
		}
	}
	return engine.StrategyDirect
}
