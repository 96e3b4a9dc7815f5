package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/pool"
	"github.com/zjrosen/mandelgather/internal/orchestration/tracing"
	"github.com/zjrosen/mandelgather/internal/orchestration/transport"
	"github.com/zjrosen/mandelgather/internal/orchestration/worker"
)

var (
	workerRank      int
	workerTraceFile string
)

// workerCmd is what the process transport spawns for ranks 1..N-1. It speaks
// the envelope protocol on stdin/stdout and never reads a config file: every
// parameter arrives from the coordinator.
var workerCmd = &cobra.Command{
	Use:    pool.WorkerCommand,
	Short:  "Run one worker rank over stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	// Overrides the root hook so no config is loaded or written.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerRank, "rank", 0, "rank assigned by the coordinator (for log lines)")
	workerCmd.Flags().StringVar(&workerTraceFile, "trace-file", "", "append spans to this JSONL file")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	if debugEnabled() {
		// stderr is relayed line by line into the coordinator's log.
		log.InitWriter(os.Stderr, fmt.Sprintf("rank=%d", workerRank))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []worker.Option
	if workerTraceFile != "" {
		provider, err := tracing.NewProvider(tracing.Config{
			Enabled:     true,
			Exporter:    "file",
			FilePath:    workerTraceFile,
			SampleRate:  1.0,
			ServiceName: "mandelgather-worker",
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer shutdownTracing(provider)
		opts = append(opts, worker.WithTracer(provider.Tracer()))
	}

	link := transport.NewStream(os.Stdin, os.Stdout)
	defer func() { _ = link.Close() }()

	res, err := worker.Run(ctx, link, opts...)
	if err != nil {
		log.ErrorErr(log.CatWorker, "Rank failed", err, "rank", workerRank)
		return err
	}
	log.Debug(log.CatWorker, "Rank finished", "rank", res.Rank, "rows", res.Range.Len(), "elapsed", res.ComputeTime)
	return nil
}
