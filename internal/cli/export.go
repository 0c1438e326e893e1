package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/testmaster/testmaster/internal/history"
	"github.com/testmaster/testmaster/internal/server"
	"github.com/testmaster/testmaster/internal/store"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a stored run as a historical record",
	Long: `Export one unit's stored run in the historical record format accepted by
'testmaster history' and the upload endpoint.

Without --output the record is written to stdout. When --output names a
directory the file gets the standard script_serial_time_operator_unitN.json name.

Examples:
  testmaster export 3f2c... > unit1.json
  testmaster export 3f2c... --output ./results`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file or directory")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withStore(cfg, func(s *store.SQLiteStore) error {
		path, err := exportRun(cmd.Context(), s, args[0], exportOutput, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if path != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
		}
		return nil
	})
}

// exportRun writes run id to out, or to a file when output is set. It returns the file written.
func exportRun(ctx context.Context, s store.Store, id, output string, out io.Writer) (string, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("run '%s' not found", id)
		}
		return "", fmt.Errorf("failed to get run: %w", err)
	}
	rec, err := history.FromRun(run)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	data = append(data, '\n')

	if output == "" {
		_, err := out.Write(data)
		return "", err
	}

	path := output
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		path = filepath.Join(output, server.ExportFilename(run))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
