package startup

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"image-pipeline/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all pipeline configuration
type Config struct {
	// Input validation limits
	MaxFileSize int64
	MaxPixels   int

	// Result cache bounds
	CacheMaxBytes   int64
	CacheMaxEntries int

	// Worker pool
	WorkerInitTimeout time.Duration
	TaskTimeout       time.Duration

	// Native accelerator
	AccelModule      string
	AccelLoadTimeout time.Duration

	// Output
	OutputFormat string
	TargetBytes  int64

	// Observability
	MetricsEnabled bool
	MetricsPort    string
}

// DefaultConfig returns the built-in defaults without reading the
// environment. Tests construct pipelines from this.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize:       50 * 1024 * 1024,
		MaxPixels:         80_000_000,
		CacheMaxBytes:     100 * 1024 * 1024,
		CacheMaxEntries:   50,
		WorkerInitTimeout: 10 * time.Second,
		TaskTimeout:       60 * time.Second,
		AccelLoadTimeout:  3 * time.Second,
		OutputFormat:      "webp",
		TargetBytes:       500 * 1024,
		MetricsEnabled:    false,
		MetricsPort:       "9090",
	}
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	cfg := DefaultConfig()
	cfg.MaxFileSize = getEnvBytes("MAX_FILE_SIZE", cfg.MaxFileSize)
	cfg.MaxPixels = getEnvInt("MAX_PIXELS", cfg.MaxPixels)
	cfg.CacheMaxBytes = getEnvBytes("CACHE_MAX_BYTES", cfg.CacheMaxBytes)
	cfg.CacheMaxEntries = getEnvInt("CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.WorkerInitTimeout = getEnvDuration("WORKER_INIT_TIMEOUT", cfg.WorkerInitTimeout)
	cfg.TaskTimeout = getEnvDuration("TASK_TIMEOUT", cfg.TaskTimeout)
	cfg.AccelModule = getEnv("ACCEL_MODULE", "")
	cfg.AccelLoadTimeout = getEnvDuration("ACCEL_LOAD_TIMEOUT", cfg.AccelLoadTimeout)
	cfg.OutputFormat = getEnv("OUTPUT_FORMAT", cfg.OutputFormat)
	cfg.TargetBytes = getEnvBytes("TARGET_BYTES", cfg.TargetBytes)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)

	logging.Info("  MAX_FILE_SIZE:       %d", cfg.MaxFileSize)
	logging.Info("  MAX_PIXELS:          %d", cfg.MaxPixels)
	logging.Info("  CACHE_MAX_BYTES:     %d", cfg.CacheMaxBytes)
	logging.Info("  CACHE_MAX_ENTRIES:   %d", cfg.CacheMaxEntries)
	logging.Info("  WORKER_INIT_TIMEOUT: %s", cfg.WorkerInitTimeout)
	logging.Info("  TASK_TIMEOUT:        %s", cfg.TaskTimeout)
	logging.Info("  ACCEL_MODULE:        %s", orNone(cfg.AccelModule))
	logging.Info("  ACCEL_LOAD_TIMEOUT:  %s", cfg.AccelLoadTimeout)
	logging.Info("  OUTPUT_FORMAT:       %s", cfg.OutputFormat)
	logging.Info("  TARGET_BYTES:        %d", cfg.TargetBytes)
	logging.Info("  METRICS_ENABLED:     %v", cfg.MetricsEnabled)
	logging.Info("  METRICS_PORT:        %s", cfg.MetricsPort)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration bounds
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("MAX_PIXELS must be positive, got %d", c.MaxPixels)
	}
	if c.CacheMaxEntries < 0 || c.CacheMaxBytes < 0 {
		return fmt.Errorf("cache bounds must not be negative")
	}
	if c.OutputFormat != "webp" && c.OutputFormat != "jpeg" {
		return fmt.Errorf("OUTPUT_FORMAT must be webp or jpeg, got %q", c.OutputFormat)
	}
	return nil
}

func printBanner() {
	logging.Printf("image-pipeline %s (%s) built %s with %s",
		Version, Commit, BuildTime, GoVersion)
	logging.Printf("  %s/%s, GOMAXPROCS=%d", runtime.GOOS, runtime.GOARCH, runtime.GOMAXPROCS(0))
}

// LogFatal logs a fatal startup error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBytes(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logging.Warn("  Invalid %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
