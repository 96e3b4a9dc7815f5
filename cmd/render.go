package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zjrosen/mandelgather/internal/config"
	"github.com/zjrosen/mandelgather/internal/emitter"
	"github.com/zjrosen/mandelgather/internal/flags"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/infrastructure/sqlite"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/coordinator"
	"github.com/zjrosen/mandelgather/internal/orchestration/pool"
	"github.com/zjrosen/mandelgather/internal/orchestration/tracing"
	"github.com/zjrosen/mandelgather/internal/runs/domain"
	"github.com/zjrosen/mandelgather/internal/ui/progress"
	"github.com/zjrosen/mandelgather/internal/ui/report"
)

var (
	renderTUI      bool
	renderLoseRank int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the set to an image file",
	Long: `Render the set across --workers ranks and write the gathered grid to --output.

Rank 0 computes its own rows and gathers the rest. With --transport process
every other rank runs as a subprocess of this binary; with the default local
transport they are goroutines. The image is only written if every rank's
buffer arrived intact.

Examples:
  mandelgather render --workers 8 --output set.png
  mandelgather render --region=-0.75,-0.73,0.1,0.12 --max-iters 5000
  mandelgather render --transport process --gather p2p --progress
  mandelgather render --workers 4 --simulate-loss 2    # fails, writes nothing`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	d := config.Defaults()
	f := renderCmd.Flags()
	addParamFlags(f)
	addRunFlags(f)
	f.StringP("output", "o", d.Output.Path, "output image path")
	f.String("format", "", "output format: ppm, ppm-ascii or png (default: from the output extension)")
	f.String("palette", d.Output.Palette, "palette: classic or grayscale")
	f.Bool("flip", false, "write the bottom row first")
	f.BoolVarP(&renderTUI, "progress", "p", false, "show live per-rank progress")
	f.IntVar(&renderLoseRank, "simulate-loss", coordinator.NoLoss, "drop this worker rank's result in transit")
	rootCmd.AddCommand(renderCmd)
}

// addParamFlags registers the kernel parameter flags shared by commands.
func addParamFlags(f *pflag.FlagSet) {
	d := config.Defaults()
	f.Int("width", d.Width, "image width in pixels")
	f.Int("height", d.Height, "image height in pixels")
	f.Int("max-iters", d.MaxIters, "iteration cap per pixel")
	f.String("region", "", "complex-plane region as min_real,max_real,min_imag,max_imag")
}

// addRunFlags registers the distribution flags shared by commands.
func addRunFlags(f *pflag.FlagSet) {
	d := config.Defaults()
	f.IntP("workers", "w", d.Workers, "total ranks including the coordinator")
	f.String("transport", d.Transport, "where worker ranks run: local or process")
	f.String("gather", d.Gather, "aggregation: collective or p2p")
	f.Bool("barrier", d.Barrier, "hold timing until every rank is ready")
	f.Int("progress-steps", d.ProgressSteps, "progress reports per rank (0 disables)")
	f.Duration("timeout", d.GatherTimeout, "fail if results have not all arrived by then (0 waits forever)")
}

// applyRegion overrides c.Region with the command's --region flag when given.
func applyRegion(cmd *cobra.Command, c *config.Config) error {
	region, err := cmd.Flags().GetString("region")
	if err != nil || region == "" {
		return nil
	}
	r, err := parseRegion(region)
	if err != nil {
		return err
	}
	c.Region = r
	return c.Params().Validate()
}

func runRender(cmd *cobra.Command, _ []string) error {
	if err := applyRegion(cmd, &cfg); err != nil {
		return err
	}
	if cfg.Output.Path == "" {
		return fmt.Errorf("an output path is required")
	}
	opts, err := cfg.EmitterOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer shutdownTracing(provider)

	coordCfg, err := coordinatorConfig(cfg, provider)
	if err != nil {
		return err
	}
	coordCfg.SimulateLoss = renderLoseRank
	coordCfg.Emitter = &emitter.File{Path: cfg.Output.Path, Options: opts}

	coord, err := coordinator.New(coordCfg)
	if err != nil {
		return err
	}

	ledger := openLedger(cfg)
	defer ledger.close()
	run := domain.NewRun(coord.RunID(), cfg.Params(), cfg.Workers, cfg.Transport, cfg.Gather)
	ledger.save(run)

	var rep *coordinator.Report
	if renderTUI {
		rep, err = runWithProgress(ctx, coord)
	} else {
		rep, err = coord.Run(ctx)
	}

	if rep != nil {
		if err != nil {
			run.Fail(rep.Metrics.Elapsed, rep.Checksum, err)
		} else {
			run.Complete(rep.Metrics.Elapsed, rep.Checksum, cfg.Output.Path)
		}
		ledger.save(run)

		output := ""
		if err == nil {
			output = cfg.Output.Path
		}
		fmt.Fprint(cmd.OutOrStdout(), report.Render(rep, output))
	}
	return err
}

// coordinatorConfig builds a coordinator config from c. Params, pool and
// gather settings come straight from the validated config.
func coordinatorConfig(c config.Config, provider *tracing.Provider) (coordinator.Config, error) {
	backend, err := pool.ParseBackend(c.Transport)
	if err != nil {
		return coordinator.Config{}, err
	}
	mode, err := gather.ParseMode(c.Gather)
	if err != nil {
		return coordinator.Config{}, err
	}

	cc := coordinator.Config{
		Params:        c.Params(),
		WorkerCount:   c.Workers,
		Backend:       backend,
		GatherMode:    mode,
		Barrier:       c.Barrier,
		ProgressSteps: c.ProgressSteps,
		GatherTimeout: c.GatherTimeout,
		SimulateLoss:  coordinator.NoLoss,
		Tracer:        provider.Tracer(),
	}
	if backend == pool.BackendProcess {
		cc.WorkerArgs = []string{pool.WorkerCommand}
		if provider.Enabled() && c.Tracing.Exporter == "file" {
			cc.WorkerArgs = append(cc.WorkerArgs, "--trace-file", c.Tracing.FilePath)
		}
		if debugEnabled() {
			cc.WorkerEnv = []string{debugEnv + "=1"}
		}
	}
	return cc, nil
}

// runWithProgress drives coord under the live progress view. The coordinator
// keeps running until it returns, even if the view exits first.
func runWithProgress(ctx context.Context, coord *coordinator.Coordinator) (*coordinator.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := progress.New(ctx, progress.Config{
		RunID:       coord.RunID(),
		Params:      cfg.Params(),
		WorkerCount: cfg.Workers,
		Workers:     coord.Workers(),
		Runs:        coord.Events(),
		Journal:     coord.Journal().Bus(),
		TailLogs:    debugEnabled(),
		Cancel:      cancel,
	})
	p := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	type outcome struct {
		report *coordinator.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		rep, err := coord.Run(ctx)
		done <- outcome{rep, err}
		p.Send(progress.DoneMsg{Report: rep, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		log.Debug(log.CatConfig, "Progress view exited", "error", err)
		cancel()
	}
	res := <-done
	return res.report, res.err
}

func shutdownTracing(p *tracing.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		log.Warn(log.CatTrace, "Tracing shutdown", "error", err)
	}
}

// runLedger records runs when the run-ledger flag is on. A ledger that cannot
// be opened or written never fails the render.
type runLedger struct {
	db   *sqlite.DB
	repo domain.RunRepository
}

func openLedger(c config.Config) *runLedger {
	if !features.Enabled(flags.FlagRunLedger) || c.Store.Path == "" {
		return &runLedger{}
	}
	db, err := sqlite.NewDB(c.Store.Path)
	if err != nil {
		log.Warn(log.CatStore, "Run ledger unavailable", "path", c.Store.Path, "error", err)
		return &runLedger{}
	}
	return &runLedger{db: db, repo: db.RunRepository()}
}

func (l *runLedger) save(run *domain.Run) {
	if l.repo == nil {
		return
	}
	if err := l.repo.Save(run); err != nil {
		log.Warn(log.CatStore, "Recording run failed", "run", run.GUID(), "error", err)
	}
}

func (l *runLedger) close() {
	if l.db != nil {
		_ = l.db.Close()
	}
}
