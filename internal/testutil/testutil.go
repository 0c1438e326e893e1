package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/testmaster/testmaster/internal/store"
)

// SetupTestStore creates a test database and returns the store.
// Uses t.TempDir() for automatic cleanup on test completion.
func SetupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := tmpDir + "/test.db"

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// WriteScripts writes each name -> YAML body pair as <name>.yaml into a fresh temp
// directory and returns its path.
func WriteScripts(t *testing.T, scripts map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
			t.Fatalf("failed to write script %s: %v", name, err)
		}
	}
	return dir
}

// SmokeScript is a small two-group script used across package tests.
const SmokeScript = `
multi_unit_supported_number: 3
tests:
  Power:
    Voltage:
      steps:
        - {message type: new test, result type: number, expected range: [3.1, 3.5], result unit: V}
        - {message type: update, result: 3.3, pass: "true"}
        - {message type: test end, result: 3.3, pass: "true"}
    Current:
      steps:
        - {message type: new test, result type: number, expected range: [0, 1], result unit: A}
        - {message type: test end, result: 1.4, pass: false}
  Radio:
    Sweep:
      steps:
        - {message type: new test, result type: vector, expected range: [[0, 2], [0, 10]], result unit: [s, dBm]}
        - {message type: update, result: [1, 2]}
        - {message type: update, result: [2, 4]}
        - {message type: test end, pass: true}
`
