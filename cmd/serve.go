package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/mandelgather/internal/cachemanager"
	"github.com/zjrosen/mandelgather/internal/config"
	"github.com/zjrosen/mandelgather/internal/emitter"
	"github.com/zjrosen/mandelgather/internal/flags"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/tracing"
	"github.com/zjrosen/mandelgather/internal/serve"
	"github.com/zjrosen/mandelgather/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rendered images over HTTP",
	Long: `Start an HTTP server that renders the set on request.

  GET /render?width=&height=&max_iters=&min_real=&max_real=&min_imag=&max_imag=
             &workers=&palette=&format=&flip=
  GET /stats
  GET /health

Omitted query parameters fall back to the config file, which is watched and
reloaded on change. Rendered images are cached by parameter digest.

Examples:
  mandelgather serve
  mandelgather serve --addr 127.0.0.1:9000
  curl -o view.png 'http://127.0.0.1:8080/render?max_iters=2000&workers=8'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", config.Defaults().Serve.Addr, "address to listen on")
	rootCmd.AddCommand(serveCmd)
}

// serveDefaults derives request defaults from c. Region, size and palette
// come from the render settings; the output path is ignored.
func serveDefaults(c config.Config) serve.Defaults {
	format := emitter.FormatPNG
	if c.Output.Format != "" {
		if f, err := emitter.ParseFormat(c.Output.Format); err == nil {
			format = f
		}
	}
	return serve.Defaults{
		Params:    c.Params(),
		Workers:   min(c.Workers, c.Height),
		Palette:   c.Output.Palette,
		Format:    format,
		MaxPixels: c.Serve.MaxPixels,
		CacheTTL:  c.Serve.CacheTTL,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer shutdownTracing(provider)

	mode, err := gather.ParseMode(cfg.Gather)
	if err != nil {
		return err
	}

	hc := serve.HandlerConfig{
		Renderer: serve.CoordinatorRenderer{
			GatherMode: mode,
			Timeout:    cfg.GatherTimeout,
			Tracer:     provider.Tracer(),
		},
		Defaults: serveDefaults(cfg),
	}
	if features.Enabled(flags.FlagServeCache) {
		hc.Cache = cachemanager.NewInMemoryCacheManager[string, serve.Image]("serve", cfg.Serve.CacheTTL, cachemanager.DefaultCleanupInterval)
	}
	handler := serve.NewHandler(hc)

	server, err := serve.NewServer(serve.ServerConfig{Addr: cfg.Serve.Addr, Handler: handler})
	if err != nil {
		return err
	}

	stopWatch := watchConfig(handler)
	defer stopWatch()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("Serving renders on http://%s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error(log.CatServe, "Error stopping server", "error", err)
	}
	return nil
}

// watchConfig reloads the handler defaults whenever the config file changes.
// It returns a stop function; without a config file it does nothing.
func watchConfig(handler *serve.Handler) func() {
	path := viper.ConfigFileUsed()
	if path == "" {
		return func() {}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		log.Warn(log.CatWatcher, "Config reload disabled", "path", path, "error", err)
		return func() {}
	}

	w, err := watcher.New(watcher.DefaultConfig(abs))
	if err != nil {
		log.Warn(log.CatWatcher, "Config reload disabled", "path", abs, "error", err)
		return func() {}
	}
	onChange, err := w.Start()
	if err != nil {
		_ = w.Stop()
		log.Warn(log.CatWatcher, "Config reload disabled", "path", abs, "error", err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-onChange:
				if !ok {
					return
				}
				reloadServeDefaults(handler, viper.GetViper())
			}
		}
	}()
	return func() {
		close(done)
		_ = w.Stop()
	}
}

// reloadServeDefaults re-reads the config file. An invalid file keeps the
// current defaults.
func reloadServeDefaults(handler *serve.Handler, v *viper.Viper) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn(log.CatWatcher, "Config reload failed", "error", err)
		return
	}
	c, err := loadConfig(v)
	if err != nil {
		log.Warn(log.CatWatcher, "Config reload rejected", "error", err)
		return
	}
	handler.SetDefaults(serveDefaults(c))
	log.Info(log.CatWatcher, "Config reloaded", "path", v.ConfigFileUsed())
}
