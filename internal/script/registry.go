package script

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
)

// ErrNotFound is returned when no script file matches a name.
var ErrNotFound = tmerrors.New(tmerrors.KindNotFound, "script not found")

var extensions = []string{".yaml", ".yml"}

// Registry serves scripts from a directory. Files are read on every call so edits show up
// without a restart.
type Registry struct {
	dir string
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the scripts directory.
func (r *Registry) Dir() string {
	return r.dir
}

// List returns the sorted names of every script in the directory. A missing directory
// yields an empty list.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scripts dir: %w", err)
	}

	seen := make(map[string]bool)
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !slices.Contains(extensions, ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get loads and parses the named script.
func (r *Registry) Get(name string) (*Script, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, tmerrors.Attr(ErrNotFound, "script", name)
	}

	for _, ext := range extensions {
		data, err := os.ReadFile(filepath.Join(r.dir, name+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read script %s: %w", name, err)
		}
		return Parse(name, data)
	}
	return nil, tmerrors.Attr(ErrNotFound, "script", name)
}
