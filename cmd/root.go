package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zjrosen/mandelgather/internal/config"
	"github.com/zjrosen/mandelgather/internal/flags"
	"github.com/zjrosen/mandelgather/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

const (
	debugEnv = "MANDELGATHER_DEBUG"
	logEnv   = "MANDELGATHER_LOG"

	localConfigPath = ".mandelgather/config.yaml"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	features  *flags.Registry
	closeLog  = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "mandelgather",
	Short: "Render the Mandelbrot set across parallel worker ranks",
	Long: `Render the Mandelbrot set with a static row partition across worker ranks.
Rank 0 coordinates: it distributes the parameters, computes its own rows and
gathers every other rank's buffer into one deterministic image.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .mandelgather/config.yaml, then ~/.config/mandelgather/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write a debug log (also enabled by "+debugEnv+")")
}

// flagKeys maps command flags to the config keys they override.
var flagKeys = map[string]string{
	"width":          "width",
	"height":         "height",
	"max-iters":      "max_iters",
	"workers":        "workers",
	"transport":      "transport",
	"gather":         "gather",
	"barrier":        "barrier",
	"progress-steps": "progress_steps",
	"timeout":        "gather_timeout",
	"output":         "output.path",
	"format":         "output.format",
	"palette":        "output.palette",
	"flip":           "output.flip",
	"addr":           "serve.addr",
	"store":          "store.path",
}

// setup loads the config, binds the running command's flags over it and
// starts debug logging.
func setup(cmd *cobra.Command, _ []string) error {
	if err := bindFlags(viper.GetViper(), cmd.Flags()); err != nil {
		return err
	}
	if err := initConfig(); err != nil {
		return err
	}
	if err := initLogging(); err != nil {
		return err
	}
	features = flags.New(cfg.Flags)
	log.Debug(log.CatConfig, "Config loaded", "file", viper.ConfigFileUsed(), "command", cmd.Name())
	return nil
}

// bindFlags binds every known flag the command defines. Commands share
// flag names, so binding happens per invocation rather than in init.
func bindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if f := flagSet.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding --%s: %w", name, err)
			}
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("width", d.Width)
	v.SetDefault("height", d.Height)
	v.SetDefault("max_iters", d.MaxIters)
	v.SetDefault("region.min_real", d.Region.MinReal)
	v.SetDefault("region.max_real", d.Region.MaxReal)
	v.SetDefault("region.min_imag", d.Region.MinImag)
	v.SetDefault("region.max_imag", d.Region.MaxImag)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("gather", d.Gather)
	v.SetDefault("barrier", d.Barrier)
	v.SetDefault("progress_steps", d.ProgressSteps)
	v.SetDefault("gather_timeout", d.GatherTimeout)
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.palette", d.Output.Palette)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("serve.cache_ttl", d.Serve.CacheTTL)
	v.SetDefault("serve.max_pixels", d.Serve.MaxPixels)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
}

func initConfig() error {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .mandelgather/config.yaml (current directory)
		// 2. ~/.config/mandelgather/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			if dir := config.DefaultConfigDir(); dir != "" {
				viper.AddConfigPath(dir)
			}
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading config: %w", err)
		}
		// No config file found - create a default at --config or .mandelgather/config.yaml
		defaultPath := localConfigPath
		if cfgFile != "" {
			defaultPath = cfgFile
		}
		if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
			viper.SetConfigFile(defaultPath)
			_ = viper.ReadInConfig()
		}
		// If write fails, just continue with defaults (no config file)
	}

	loaded, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// loadConfig decodes v and validates the result.
func loadConfig(v *viper.Viper) (config.Config, error) {
	var c config.Config
	if err := v.Unmarshal(&c); err != nil {
		return config.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func debugEnabled() bool {
	return os.Getenv(debugEnv) != "" || debugFlag
}

func initLogging() error {
	if !debugEnabled() {
		return nil
	}
	logPath := os.Getenv(logEnv)
	if logPath == "" {
		logPath = cfg.Log.Path
	}
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	cleanup, err := log.InitWithTeaLog(logPath, "mandelgather")
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	closeLog = cleanup
	log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
	log.Info(log.CatConfig, "mandelgather starting", "version", version, "debug", true, "logPath", logPath)
	return nil
}

// configPath is where config edits are written.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return localConfigPath
}

// Execute runs the root command
func Execute() error {
	defer func() { closeLog() }()
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
