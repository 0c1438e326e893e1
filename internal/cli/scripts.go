package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/testmaster/testmaster/internal/catalog"
	"github.com/testmaster/testmaster/internal/script"
)

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "List local test scripts",
	Long:  `List the scripts in the scripts directory with their unit limit and test count.`,
	RunE:  runScripts,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog <script>",
	Short: "Show the test tree of a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalog,
}

func init() {
	rootCmd.AddCommand(scriptsCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runScripts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return listScripts(script.NewRegistry(cfg.ScriptsDir), cmd.OutOrStdout())
}

func listScripts(reg *script.Registry, out io.Writer) error {
	names, err := reg.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(out, "No scripts in %s.\n", reg.Dir())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMAX UNITS\tTESTS")
	for _, name := range names {
		s, err := reg.Get(name)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t%s\n", name, failColor.Sprint("invalid"))
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Name, s.MultiUnitSupportedNumber, len(s.Tree().Leaves()))
	}
	return w.Flush()
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := script.NewRegistry(cfg.ScriptsDir).Get(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	headerColor.Fprintf(out, "%s", s.Name)
	fmt.Fprintf(out, " (up to %d units)\n", s.MultiUnitSupportedNumber)
	printTree(out, s.Tree().Roots(), 1)
	return nil
}

func printTree(out io.Writer, nodes []*catalog.Node, depth int) {
	for _, n := range nodes {
		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth), n.Label)
		printTree(out, n.Children, depth+1)
	}
}
