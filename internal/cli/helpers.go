package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/testmaster/testmaster/internal/client"
	"github.com/testmaster/testmaster/internal/config"
	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/store"
)

var (
	passColor     = color.New(color.FgGreen, color.Bold)
	failColor     = color.New(color.FgRed, color.Bold)
	progressColor = color.New(color.FgYellow)
	headerColor   = color.New(color.Bold)
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(cfg config.Config, fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// newClient connects to --server. Without --token the token file written by a local
// server is used.
func newClient(cfg config.Config) *client.Client {
	tok := token
	if tok == "" {
		if data, err := os.ReadFile(cfg.TokenPath()); err == nil {
			tok = strings.TrimSpace(string(data))
		}
	}
	return client.New(serverURL, tok, newLogger(cfg))
}

func formatPass(p ledger.Pass) string {
	switch p {
	case ledger.PassTrue:
		return passColor.Sprint("PASS")
	case ledger.PassFalse:
		return failColor.Sprint("FAIL")
	default:
		return progressColor.Sprint("IN PROGRESS")
	}
}
