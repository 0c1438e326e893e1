// Package cli holds the testmaster cobra commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/testmaster/testmaster/internal/config"
	"github.com/testmaster/testmaster/internal/logging"
)

var (
	configPath string
	dbPath     string
	scriptsDir string
	logLevel   string
	serverURL  string
	token      string
)

var rootCmd = &cobra.Command{
	Use:   "testmaster",
	Short: "testmaster - multi-unit test session runner",
	Long: `testmaster runs scripted hardware tests across several units at once,
streams their results live and keeps one record per unit for later review.

Running without a subcommand starts the server (same as 'testmaster serve').`,
	SilenceUsage: true,
	RunE:         runServe, // Default action is to start server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnvOrDefault("TM_CONFIG", ""), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default from config)")
	rootCmd.PersistentFlags().StringVar(&scriptsDir, "scripts", "", "test script directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("TM_SERVER", "http://localhost:5000"), "server URL for remote commands")
	rootCmd.PersistentFlags().StringVar(&token, "token", getEnvOrDefault("TM_TOKEN", ""), "server token (default read from the token file)")
}

// loadConfig layers the config file, the environment and any flags set on the command line.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if scriptsDir != "" {
		cfg.ScriptsDir = scriptsDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *logging.Logger {
	logger := logging.New(cfg.Logging())
	logging.SetDefault(logger)
	return logger
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
