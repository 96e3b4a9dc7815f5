// Package config provides configuration types and defaults for mandelgather.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/mandelgather/internal/emitter"
	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/pool"
	"github.com/zjrosen/mandelgather/internal/orchestration/tracing"
)

// Config holds all configuration options for mandelgather.
type Config struct {
	Width    int            `mapstructure:"width"`
	Height   int            `mapstructure:"height"`
	MaxIters int            `mapstructure:"max_iters"`
	Region   fractal.Region `mapstructure:"region"`

	Workers       int           `mapstructure:"workers"`        // total ranks including the coordinator
	Transport     string        `mapstructure:"transport"`      // "local" (default) or "process"
	Gather        string        `mapstructure:"gather"`         // "collective" (default) or "p2p"
	Barrier       bool          `mapstructure:"barrier"`        // hold timing until every rank is ready
	ProgressSteps int           `mapstructure:"progress_steps"` // progress reports per rank, 0 disables
	GatherTimeout time.Duration `mapstructure:"gather_timeout"` // 0 waits forever

	Output  OutputConfig   `mapstructure:"output"`
	Tracing tracing.Config `mapstructure:"tracing"`
	Store   StoreConfig    `mapstructure:"store"`
	Serve   ServeConfig    `mapstructure:"serve"`
	Log     LogConfig      `mapstructure:"log"`

	Flags map[string]bool `mapstructure:"flags"`
}

// OutputConfig controls where and how the finished grid is written.
type OutputConfig struct {
	Path    string `mapstructure:"path"`
	Format  string `mapstructure:"format"`  // ppm, ppm-ascii or png; empty guesses from Path
	Palette string `mapstructure:"palette"` // classic (default) or grayscale
	Flip    bool   `mapstructure:"flip"`    // write the bottom row first
}

// StoreConfig locates the run ledger.
type StoreConfig struct {
	// Path is the SQLite database file.
	// Default: ~/.config/mandelgather/runs.db
	Path string `mapstructure:"path"`
}

// ServeConfig holds settings for the HTTP render endpoint.
type ServeConfig struct {
	Addr     string        `mapstructure:"addr"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// MaxPixels caps W*H for a single request.
	MaxPixels int `mapstructure:"max_pixels"`
}

// LogConfig holds debug log settings. Logging is off unless --debug is set.
type LogConfig struct {
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"`
}

// Params returns the kernel parameters the config describes.
func (c Config) Params() fractal.Params {
	return fractal.Params{
		Width:    c.Width,
		Height:   c.Height,
		MaxIters: c.MaxIters,
		Region:   c.Region,
	}
}

// EmitterOptions resolves the output section into encoder options.
func (c Config) EmitterOptions() (emitter.Options, error) {
	format := emitter.FormatForPath(c.Output.Path)
	if c.Output.Format != "" {
		f, err := emitter.ParseFormat(c.Output.Format)
		if err != nil {
			return emitter.Options{}, err
		}
		format = f
	}
	return emitter.Options{
		Format:  format,
		Palette: emitter.PaletteByName(c.Output.Palette, c.MaxIters),
		Flip:    c.Output.Flip,
	}, nil
}

// DefaultConfigDir returns ~/.config/mandelgather, or empty if the home
// directory is unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mandelgather")
}

// DefaultStorePath returns the default run ledger location.
func DefaultStorePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "runs.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Defaults returns the default configuration.
func Defaults() Config {
	p := fractal.Defaults()
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Width:         p.Width,
		Height:        p.Height,
		MaxIters:      p.MaxIters,
		Region:        p.Region,
		Workers:       4,
		Transport:     string(pool.BackendLocal),
		Gather:        string(gather.ModeCollective),
		Barrier:       true,
		ProgressSteps: 20,
		GatherTimeout: 2 * time.Minute,
		Output: OutputConfig{
			Path:    "mandelbrot.ppm",
			Palette: "classic",
		},
		Tracing: tc,
		Store: StoreConfig{
			Path: DefaultStorePath(),
		},
		Serve: ServeConfig{
			Addr:      "127.0.0.1:8080",
			CacheTTL:  10 * time.Minute,
			MaxPixels: 4096 * 4096,
		},
		Log: LogConfig{
			Path:  "debug.log",
			Level: "debug",
		},
		Flags: map[string]bool{},
	}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if err := ValidateRun(c); err != nil {
		return err
	}
	if err := ValidateOutput(c.Output); err != nil {
		return err
	}
	if err := ValidateServe(c.Serve); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateRun checks the worker, transport and gather settings.
func ValidateRun(c Config) error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := pool.ParseBackend(c.Transport); err != nil {
		return err
	}
	if _, err := gather.ParseMode(c.Gather); err != nil {
		return err
	}
	if c.ProgressSteps < 0 {
		return fmt.Errorf("progress_steps must not be negative, got %d", c.ProgressSteps)
	}
	if c.GatherTimeout < 0 {
		return fmt.Errorf("gather_timeout must not be negative, got %s", c.GatherTimeout)
	}
	return nil
}

// ValidateOutput checks the output section. An empty path is allowed for
// commands that never write an image.
func ValidateOutput(out OutputConfig) error {
	if out.Format != "" {
		if _, err := emitter.ParseFormat(out.Format); err != nil {
			return fmt.Errorf("output.format: %w", err)
		}
	}
	switch out.Palette {
	case "", "classic", "grayscale", "gray":
	default:
		return fmt.Errorf("output.palette must be \"classic\" or \"grayscale\", got %q", out.Palette)
	}
	return nil
}

// ValidateServe checks the serve section.
func ValidateServe(s ServeConfig) error {
	if s.CacheTTL < 0 {
		return fmt.Errorf("serve.cache_ttl must not be negative, got %s", s.CacheTTL)
	}
	if s.MaxPixels < 0 {
		return fmt.Errorf("serve.max_pixels must not be negative, got %d", s.MaxPixels)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return errors.New("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return errors.New("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# mandelgather configuration

# Image size and iteration bound
width: 800
height: 600
max_iters: 1000

# Rectangle of the complex plane mapped onto the image
# (rewritten by 'mandelgather config save-region')
region:
  min_real: -2.0
  max_real: 1.0
  min_imag: -1.5
  max_imag: 1.5

# Total ranks including the coordinator (rank 0 computes too)
workers: 4

# Where worker ranks run: "local" (goroutines) or "process" (subprocesses)
transport: local

# How results are collected: "collective" (all ranks at once) or "p2p" (rank order)
gather: collective

# Hold the clock until every rank has reported ready
barrier: true

# Progress reports per rank (0 disables)
progress_steps: 20

# Give up on missing results after this long (0 waits forever)
gather_timeout: 2m

output:
  path: mandelbrot.ppm
  # format: png        # ppm (default), ppm-ascii or png; guessed from path when unset
  palette: classic     # classic or grayscale
  flip: false          # write the bottom row first

# Run ledger used by 'mandelgather runs'
# store:
#   path: ~/.config/mandelgather/runs.db

# HTTP endpoint for 'mandelgather serve'
serve:
  addr: 127.0.0.1:8080
  cache_ttl: 10m
  max_pixels: 16777216

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/mandelgather/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# Feature flags
# flags:
#   run-ledger: true     # record every render in the ledger
#   serve-cache: true    # cache rendered images in 'serve'
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
