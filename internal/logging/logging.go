// Package logging wraps charmbracelet/log with the component loggers used across testmaster.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json, logfmt
	Output io.Writer
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: os.Stderr}
}

// Logger is a key/value structured logger.
type Logger struct {
	*log.Logger
}

// New builds a Logger. Unknown levels fall back to info, unknown formats to text.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}

	l := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter(cfg.Format),
	})
	return &Logger{Logger: l}
}

// Discard returns a logger that drops everything; tests use it.
func Discard() *Logger {
	return New(Config{Level: "error", Output: io.Discard})
}

// WithComponent returns a child logger whose lines are prefixed with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.WithPrefix(name)}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...)}
}

// ValidateFormat reports whether format is one New understands.
func ValidateFormat(format string) error {
	switch format {
	case "", "text", "json", "logfmt":
		return nil
	}
	return fmt.Errorf("unknown log format %q", format)
}

func formatter(format string) log.Formatter {
	switch format {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

var defaultLogger = New(DefaultConfig())

// Default returns the process-wide logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}
