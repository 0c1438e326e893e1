package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/testmaster/testmaster/internal/history"
)

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history <file>",
	Short: "Show a saved historical record",
	Long: `Reconstruct and show an exported per-unit record.

The record is rejected as a whole when a test's outcome cannot be
determined.

Examples:
  testmaster history smoke_SN1_20260101_120000_alex_unit1.json
  testmaster history unit1.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print the reconstructed view as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	view, err := loadHistory(data)
	if err != nil {
		return err
	}
	if historyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	return printHistory(cmd.OutOrStdout(), view)
}

func loadHistory(data []byte) (history.View, error) {
	rec, err := history.Decode(data)
	if err != nil {
		return history.View{}, fmt.Errorf("invalid record: %w", err)
	}
	view, err := history.Reconstruct(rec)
	if err != nil {
		return history.View{}, fmt.Errorf("cannot reconstruct record: %w", err)
	}
	return view, nil
}

func printHistory(out io.Writer, view history.View) error {
	m := view.Metadata
	headerColor.Fprintf(out, "%s unit %d\n", m.ScriptName, m.UnitIndex)
	fmt.Fprintf(out, "Serial:   %s\n", m.Serial)
	fmt.Fprintf(out, "Operator: %s\n", m.OperatorName)
	fmt.Fprintf(out, "Date:     %s\n", m.DateTime)
	if m.Comments != "" {
		fmt.Fprintf(out, "Comments: %s\n", m.Comments)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEST\tTYPE\tRESULT\tEXPECTED\tUNIT\tPASS")
	for _, r := range view.Results {
		result := formatValue(r.Result)
		if len(r.Series) > 0 {
			result = fmt.Sprintf("%d point(s)", len(r.Series))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TestName, r.ResultType, result, formatValue(r.ExpectedRange), r.ResultUnit, formatPass(r.Pass))
	}
	return w.Flush()
}

func formatValue(v ldvalue.Value) string {
	switch v.Type() {
	case ldvalue.NullType:
		return "-"
	case ldvalue.StringType:
		return v.StringValue()
	default:
		return v.JSONString()
	}
}
