package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/testmaster/testmaster/internal/journal"
	"github.com/testmaster/testmaster/internal/metrics"
	"github.com/testmaster/testmaster/internal/script"
	"github.com/testmaster/testmaster/internal/server"
	"github.com/testmaster/testmaster/internal/session"
	"github.com/testmaster/testmaster/internal/store"
)

var (
	port        int
	unitMode    string
	journalDir  string
	journalSync bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the testmaster HTTP server.

The server provides:
  - Script catalog and start/stop endpoints for the executor
  - Websocket push channel at /ws
  - Session API under /api/session
  - Stored per-unit runs under /api/runs
  - Prometheus metrics at /metrics

Example:
  testmaster serve --port 5000 --scripts ./test_scripts`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&unitMode, "unit-mode", "", "unit selection mode: count or subset")
	serveCmd.Flags().StringVar(&journalDir, "journal", "", "live event journal directory (default from config)")
	serveCmd.Flags().BoolVar(&journalSync, "journal-sync", false, "fsync the journal on every event")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}
	if unitMode != "" {
		cfg.UnitMode = unitMode
	}
	if journalDir != "" {
		cfg.JournalDir = journalDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := session.ParseUnitMode(cfg.UnitMode)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	// Open database
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	j, err := journal.Open(cfg.JournalDir, journal.Options{Sync: journalSync})
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	srv := server.New(server.Options{
		Store:     s,
		Scripts:   script.NewRegistry(cfg.ScriptsDir),
		Journal:   j,
		Logger:    logger,
		Metrics:   metrics.NewMetrics(),
		UnitMode:  mode,
		Port:      cfg.Port,
		TokenFile: cfg.TokenPath(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Restore(ctx); err != nil {
		logger.Warn("journal replay failed", "err", err)
	}
	return srv.Start(ctx)
}
