package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/testmaster/testmaster/internal/store"
)

var (
	runsScript string
	runsUnit   int
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored per-unit runs",
	Long: `List the per-unit runs saved in the local database, newest first.

Examples:
  testmaster runs
  testmaster runs --script smoke --unit 2 --limit 10`,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsScript, "script", "", "only runs of this script")
	runsCmd.Flags().IntVar(&runsUnit, "unit", 0, "only runs of this unit index")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter := store.RunFilter{ScriptName: runsScript, UnitIndex: runsUnit, Limit: runsLimit}
	return withStore(cfg, func(s *store.SQLiteStore) error {
		return listRuns(cmd.Context(), s, filter, cmd.OutOrStdout())
	})
}

func listRuns(ctx context.Context, s store.Store, filter store.RunFilter, out io.Writer) error {
	runs, err := s.ListRuns(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs yet.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Runs are saved per unit when a test session completes.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCRIPT\tUNIT\tSERIAL\tOPERATOR\tROWS\tCREATED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			run.ID,
			run.ScriptName,
			run.UnitIndex,
			orDash(run.Serial),
			orDash(run.OperatorName),
			run.RowCount,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
