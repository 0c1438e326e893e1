package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/session"
	"github.com/testmaster/testmaster/internal/stats"
)

var (
	runUnits    int
	runOperator string
	runSerials  []string
	runTests    []string
	runNoInput  bool
)

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Run a script against a server and follow the results",
	Long: `Load a script on the server, start it on the selected units and follow
the live results until the run completes. Ctrl+C stops the run.

Missing values are prompted for unless --no-input is set.

Examples:
  testmaster run
  testmaster run smoke --units 2 --operator alex --serial SN1 --serial SN2
  testmaster run smoke --tests Power/Voltage --no-input`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runUnits, "units", "u", 0, "number of units to test")
	runCmd.Flags().StringVar(&runOperator, "operator", "", "operator name")
	runCmd.Flags().StringSliceVar(&runSerials, "serial", nil, "device serial per unit, in unit order")
	runCmd.Flags().StringSliceVar(&runTests, "tests", nil, "tests or groups to run (default all)")
	runCmd.Flags().BoolVar(&runNoInput, "no-input", false, "never prompt")
	rootCmd.AddCommand(runCmd)
}

type runOptions struct {
	Script   string
	Units    int
	Operator string
	Serials  []string
	Tests    []string
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := newClient(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{Units: runUnits, Operator: runOperator, Serials: runSerials, Tests: runTests}
	if len(args) > 0 {
		opts.Script = args[0]
	}

	if opts.Script == "" {
		if runNoInput {
			return fmt.Errorf("a script name is required with --no-input")
		}
		names, err := c.ListScripts(ctx)
		if err != nil {
			return err
		}
		if opts.Script, err = promptScript(names); err != nil {
			return err
		}
	}

	cat, err := c.FetchCatalog(ctx, opts.Script)
	if err != nil {
		return err
	}
	if !runNoInput {
		if err := promptDetails(&opts, cat.MultiUnitSupportedNumber); err != nil {
			return err
		}
	}

	src, err := c.Stream(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = runSession(ctx, c, src, opts, cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runSession drives one run through backend and prints every finished test as frames
// arrive from src. Cancelling ctx stops the run.
func runSession(ctx context.Context, backend session.Backend, src session.EventSource, opts runOptions, out io.Writer) (ledger.Ledger, error) {
	sess := session.New(backend, session.Options{})
	if err := sess.LoadScript(ctx, opts.Script); err != nil {
		return ledger.Ledger{}, err
	}
	if len(opts.Tests) > 0 {
		if err := sess.Select(opts.Tests); err != nil {
			return ledger.Ledger{}, err
		}
	}
	units := opts.Units
	if units == 0 {
		units = 1
	}
	if err := sess.SetUnitCount(units); err != nil {
		return ledger.Ledger{}, err
	}
	if err := sess.SetDetails(session.Details{Serials: opts.Serials, OperatorName: opts.Operator}); err != nil {
		return ledger.Ledger{}, err
	}
	if err := sess.Start(ctx); err != nil {
		return ledger.Ledger{}, err
	}
	fmt.Fprintf(out, "Running %s on %d unit(s)...\n\n", opts.Script, units)

	printed := make(map[ledger.Key]bool)
	for !sess.State().Complete {
		select {
		case <-ctx.Done():
			if err := sess.Stop(context.Background()); err != nil {
				fmt.Fprintf(out, "failed to stop run: %v\n", err)
			}
			fmt.Fprintln(out, "Stopped.")
			return sess.Ledger(), ctx.Err()
		case f, ok := <-src.Frames():
			if !ok {
				return sess.Ledger(), fmt.Errorf("connection closed before the run completed")
			}
			sess.Deliver(f)
			printEnded(out, sess.Ledger(), printed)
		}
	}

	l := sess.Ledger()
	fmt.Fprintln(out)
	printSummary(out, l)
	if n := len(sess.Failures()); n > 0 {
		fmt.Fprintf(out, "\n%s\n", progressColor.Sprintf("%d event(s) could not be applied", n))
	}
	return l, nil
}

func printEnded(out io.Writer, l ledger.Ledger, printed map[ledger.Key]bool) {
	for _, unit := range l.Units() {
		for _, e := range l.Unit(unit) {
			key := ledger.Key{Unit: unit, TestName: e.TestName}
			if !e.Ended || printed[key] {
				continue
			}
			printed[key] = true
			fmt.Fprintf(out, "  unit %d  %-30s %s\n", unit, e.TestName, formatPass(e.Status))
		}
	}
}

func printSummary(out io.Writer, l ledger.Ledger) {
	yields := stats.Summarize(l)
	if len(yields) == 0 {
		fmt.Fprintln(out, "No results.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEST\tPASSED\tFAILED\tOPEN\tYIELD\t95% CI")
	for _, y := range yields {
		rate, ci := "-", "-"
		if y.Decided() > 0 {
			rate = fmt.Sprintf("%.0f%%", y.Rate*100)
			ci = fmt.Sprintf("%.0f%% - %.0f%%", y.Lower*100, y.Upper*100)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n", y.TestName, y.Passed, y.Failed, y.InProgress, rate, ci)
	}
	w.Flush()
}

func promptScript(names []string) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("the server has no scripts")
	}
	prompt := promptui.Select{
		Label: "Script",
		Items: names,
		Size:  10,
	}
	_, name, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", err
	}
	return name, nil
}

// promptDetails asks for every value not already given as a flag.
func promptDetails(opts *runOptions, maxUnits int) error {
	if maxUnits < 1 {
		maxUnits = 1
	}
	if opts.Units == 0 && maxUnits > 1 {
		prompt := promptui.Prompt{
			Label:    fmt.Sprintf("Units (1-%d)", maxUnits),
			Default:  "1",
			Validate: unitCountValidator(maxUnits),
		}
		v, err := runPrompt(prompt)
		if err != nil {
			return err
		}
		opts.Units, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	if opts.Units == 0 {
		opts.Units = 1
	}

	if opts.Operator == "" {
		v, err := runPrompt(promptui.Prompt{Label: "Operator"})
		if err != nil {
			return err
		}
		opts.Operator = strings.TrimSpace(v)
	}

	for i := len(opts.Serials); i < opts.Units; i++ {
		v, err := runPrompt(promptui.Prompt{Label: fmt.Sprintf("Serial for unit %d", i+1)})
		if err != nil {
			return err
		}
		opts.Serials = append(opts.Serials, strings.TrimSpace(v))
	}
	return nil
}

func unitCountValidator(max int) promptui.ValidateFunc {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("enter a number")
		}
		if n < 1 || n > max {
			return fmt.Errorf("must be between 1 and %d", max)
		}
		return nil
	}
}

func runPrompt(p promptui.Prompt) (string, error) {
	v, err := p.Run()
	if err == promptui.ErrInterrupt {
		os.Exit(0)
	}
	return v, err
}
