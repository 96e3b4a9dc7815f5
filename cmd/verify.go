package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/mandelgather/internal/compute"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/orchestration/coordinator"
	"github.com/zjrosen/mandelgather/internal/orchestration/tracing"
	"github.com/zjrosen/mandelgather/internal/ui/styles"
	"github.com/zjrosen/mandelgather/internal/verify"
)

// errMismatch is returned when a parallel grid differs from the sequential one.
var errMismatch = errors.New("parallel grid differs from sequential grid")

var verifySweep bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the parallel render matches a single-worker render",
	Long: `Compute the grid once on a single rank and once across --workers ranks, then
compare them pixel by pixel. Differing rows are printed as a line diff.

With --sweep every worker count from 1 to --workers is checked.

Examples:
  mandelgather verify --width 64 --height 48 --workers 7
  mandelgather verify --sweep --workers 16 --gather p2p --transport process`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	f := verifyCmd.Flags()
	addParamFlags(f)
	addRunFlags(f)
	f.BoolVar(&verifySweep, "sweep", false, "check every worker count from 1 to --workers")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	if err := applyRegion(cmd, &cfg); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	p := cfg.Params()

	began := time.Now()
	want := compute.Sequential(p)
	wantGrid := &gather.Grid{Width: p.Width, Height: p.Height, Pixels: want}
	fmt.Fprintf(out, "%s %s in %s, checksum %s\n",
		styles.LabelStyle.Render("sequential"), p.String(), time.Since(began).Round(time.Millisecond), wantGrid.Checksum())

	counts := []int{cfg.Workers}
	if verifySweep {
		counts = counts[:0]
		for n := 1; n <= cfg.Workers && n <= p.Height; n++ {
			counts = append(counts, n)
		}
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer shutdownTracing(provider)

	failed := 0
	for _, n := range counts {
		c := cfg
		c.Workers = n
		cc, err := coordinatorConfig(c, provider)
		if err != nil {
			return err
		}
		coord, err := coordinator.New(cc)
		if err != nil {
			return err
		}
		rep, err := coord.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("%d workers: %w", n, err)
		}

		res, err := verify.Compare(want, rep.Grid.Pixels, p.Width)
		if err != nil {
			return err
		}
		label := fmt.Sprintf("%d workers (%s, %s)", n, cc.Backend, cc.GatherMode)
		if res.Equal() {
			fmt.Fprintf(out, "%s %s in %s\n", styles.SuccessStyle.Render("match   "), label, rep.Metrics.FormatElapsed())
			continue
		}
		failed++
		fmt.Fprintf(out, "%s %s: %d rows differ\n%s", styles.ErrorStyle.Render("MISMATCH"), label, len(res.Rows), res.Diff)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d runs", errMismatch, failed, len(counts))
	}
	return nil
}
