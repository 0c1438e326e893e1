// Package config loads server settings from defaults, an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/testmaster/testmaster/internal/logging"
)

// Unit selection modes.
const (
	UnitModeCount  = "count"
	UnitModeSubset = "subset"
)

type Config struct {
	Port       int    `yaml:"port"`
	ScriptsDir string `yaml:"scripts_dir"`
	DBPath     string `yaml:"db_path"`
	JournalDir string `yaml:"journal_dir"`
	TokenFile  string `yaml:"token_file"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	UnitMode   string `yaml:"unit_mode"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:       5000,
		ScriptsDir: "./test_scripts",
		DBPath:     "./testmaster.db",
		JournalDir: "./testmaster-journal",
		LogLevel:   "info",
		LogFormat:  "text",
		UnitMode:   UnitModeCount,
	}
}

// Load applies, in order, the defaults, the YAML file at path (skipped when path is empty)
// and TM_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.ScriptsDir = getEnvOrDefault("TM_SCRIPTS_DIR", c.ScriptsDir)
	c.DBPath = getEnvOrDefault("TM_DB_PATH", c.DBPath)
	c.JournalDir = getEnvOrDefault("TM_JOURNAL_DIR", c.JournalDir)
	c.TokenFile = getEnvOrDefault("TM_TOKEN_FILE", c.TokenFile)
	c.LogLevel = getEnvOrDefault("TM_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("TM_LOG_FORMAT", c.LogFormat)
	c.UnitMode = getEnvOrDefault("TM_UNIT_MODE", c.UnitMode)
	if p := os.Getenv("TM_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			c.Port = parsed
		}
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.UnitMode != UnitModeCount && c.UnitMode != UnitModeSubset {
		return fmt.Errorf("invalid unit mode %q: must be %q or %q", c.UnitMode, UnitModeCount, UnitModeSubset)
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		return err
	}
	if c.ScriptsDir == "" {
		return fmt.Errorf("scripts directory is required")
	}
	return nil
}

// TokenPath returns the token file location, defaulting to a dotfile next to the database.
func (c Config) TokenPath() string {
	if c.TokenFile != "" {
		return c.TokenFile
	}
	return filepath.Join(filepath.Dir(c.DBPath), ".testmaster-token")
}

// Logging returns the logger settings carried by c.
func (c Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.LogLevel
	lc.Format = c.LogFormat
	return lc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
