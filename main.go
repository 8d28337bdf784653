package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"image-pipeline/internal/blob"
	"image-pipeline/internal/engine"
	"image-pipeline/internal/logging"
	"image-pipeline/internal/memory"
	"image-pipeline/internal/pipeline"
	"image-pipeline/internal/preview"
	"image-pipeline/internal/startup"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Configure GOMEMLIMIT before any significant allocation.
	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	var (
		inPath        = flag.String("in", "", "input image file (required)")
		outPath       = flag.String("out", "", "output file (default: <in>_<WxH>.<format>)")
		maxWidth      = flag.Int("max-width", 3840, "maximum output width")
		maxHeight     = flag.Int("max-height", 2160, "maximum output height")
		displayWidth  = flag.Int("display-width", 0, "observer display width (0 = ignore)")
		displayHeight = flag.Int("display-height", 0, "observer display height (0 = ignore)")
		pixelRatio    = flag.Float64("pixel-ratio", 1.0, "observer device pixel ratio")
		targetBytes   = flag.Int64("target-bytes", 0, "output byte budget (0 = configured default, <0 = off)")
		chunked       = flag.Bool("chunked", false, "use the tiled engine")
		previewDir    = flag.String("previews", "", "directory to write progressive previews into")
	)
	flag.Parse()

	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()
	defer monitor.Stop()

	if err := engine.InitHostResize(); err != nil {
		logging.Warn("Host resize unavailable: %v", err)
	}
	defer engine.ShutdownHostResize()

	if config.MetricsEnabled {
		go serveMetrics(config.MetricsPort)
	}

	pipe, err := pipeline.New(config, monitor, nil)
	if err != nil {
		startup.LogFatal("Failed to build pipeline: %v", err)
	}
	defer pipe.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, pipe, *inPath, *outPath, pipeline.Options{
		MaxWidth:      *maxWidth,
		MaxHeight:     *maxHeight,
		DisplayWidth:  *displayWidth,
		DisplayHeight: *displayHeight,
		PixelRatio:    *pixelRatio,
		TargetBytes:   *targetBytes,
		Chunked:       *chunked,
	}, *previewDir); err != nil {
		startup.LogFatal("%v", err)
	}
}

func run(ctx context.Context, pipe *pipeline.Pipeline, inPath, outPath string, opts pipeline.Options, previewDir string) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	info, err := os.Stat(inPath)
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}

	if previewDir != "" {
		if err := os.MkdirAll(previewDir, 0o755); err != nil {
			return fmt.Errorf("create preview directory: %w", err)
		}
		base := strings.TrimSuffix(filepath.Base(inPath), filepath.Ext(inPath))
		opts.OnPreview = func(stage preview.Stage, h *blob.Handle, w, ht int) {
			name := filepath.Join(previewDir, fmt.Sprintf("%s_%s_%dx%d.jpg", base, stage.Name, w, ht))
			if werr := os.WriteFile(name, h.Bytes(), 0o644); werr != nil {
				logging.Warn("Failed to write preview %s: %v", name, werr)
			} else {
				logging.Info("Preview %-6s %4dx%-4d -> %s", stage.Name, w, ht, name)
			}
			h.Release()
		}
	}

	lastLogged := -1
	opts.OnProgress = func(percent int) {
		if percent >= lastLogged+25 || percent == 100 {
			lastLogged = percent
			logging.Debug("Resize progress: %d%%", percent)
		}
	}

	started := time.Now()
	res, err := pipe.Process(ctx, pipeline.Source{
		Filename: filepath.Base(inPath),
		Data:     data,
		ModTime:  info.ModTime(),
	}, opts)
	if err != nil {
		return err
	}

	if outPath == "" {
		ext := "." + res.Format
		if res.Format == "jpeg" {
			ext = ".jpg"
		}
		base := strings.TrimSuffix(inPath, filepath.Ext(inPath))
		outPath = fmt.Sprintf("%s_%dx%d%s", base, res.Width, res.Height, ext)
	}
	if err := os.WriteFile(outPath, res.Blob.Detach(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("  %s %dx%d (%d bytes)", inPath, res.OriginalWidth, res.OriginalHeight, res.OriginalSize)
	logging.Info("  -> %s %dx%d (%d bytes, %.1f%% of original)",
		outPath, res.Width, res.Height, res.ProcessedSize, res.CompressionRatio*100)
	logging.Info("  strategy=%s worker=%v cached=%v in %s (total %s)",
		res.Strategy, res.UsedWorker, res.FromCache, res.ProcessingTime, time.Since(started))
	return nil
}

func serveMetrics(port string) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logging.Info("Metrics listening on :%s/metrics", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("Metrics server error: %v", err)
	}
}
