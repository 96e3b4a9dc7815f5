package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/mandelgather/internal/config"
	"github.com/zjrosen/mandelgather/internal/infrastructure/sqlite"
	"github.com/zjrosen/mandelgather/internal/runs/domain"
	"github.com/zjrosen/mandelgather/internal/ui/report"
)

var (
	runsState  string
	runsDigest string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded renders",
	Long: `List renders recorded in the run ledger, newest first.

Examples:
  mandelgather runs
  mandelgather runs --state failed
  mandelgather runs --limit 5
  mandelgather runs rm 3f2a9c1e-...`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

var runsRmCmd = &cobra.Command{
	Use:   "rm GUID...",
	Short: "Delete runs from the ledger",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRunsRm,
}

func init() {
	runsCmd.PersistentFlags().String("store", config.Defaults().Store.Path, "run ledger database")
	runsCmd.Flags().StringVar(&runsState, "state", "", "only runs in this state: running, completed or failed")
	runsCmd.Flags().StringVar(&runsDigest, "digest", "", "only runs with this params digest")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list (0 lists all)")
	runsCmd.AddCommand(runsRmCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRunRepository() (*sqlite.DB, error) {
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("no run ledger configured (store.path)")
	}
	return sqlite.NewDB(cfg.Store.Path)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	filter := domain.ListFilter{Digest: runsDigest, Limit: runsLimit}
	if runsState != "" {
		state := domain.RunState(runsState)
		if !state.IsValid() {
			return fmt.Errorf("unknown state %q", runsState)
		}
		filter.State = state
	}

	db, err := openRunRepository()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	list, err := db.RunRepository().List(filter)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Runs(list))
	return nil
}

func runRunsRm(cmd *cobra.Command, args []string) error {
	db, err := openRunRepository()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	repo := db.RunRepository()
	for _, guid := range args {
		if err := repo.Delete(guid); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", guid)
	}
	return nil
}
