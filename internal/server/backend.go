package server

import (
	"context"

	"github.com/testmaster/testmaster/internal/runner"
	"github.com/testmaster/testmaster/internal/script"
	"github.com/testmaster/testmaster/internal/session"
)

// LocalBackend serves the session from the script registry and the in-process runner.
type LocalBackend struct {
	scripts *script.Registry
	runner  *runner.Runner
}

func NewLocalBackend(scripts *script.Registry, r *runner.Runner) *LocalBackend {
	return &LocalBackend{scripts: scripts, runner: r}
}

func (b *LocalBackend) ListScripts(ctx context.Context) ([]string, error) {
	return b.scripts.List()
}

func (b *LocalBackend) FetchCatalog(ctx context.Context, name string) (session.Catalog, error) {
	s, err := b.scripts.Get(name)
	if err != nil {
		return session.Catalog{}, err
	}
	return session.Catalog{Tests: s.Catalog(), MultiUnitSupportedNumber: s.MultiUnitSupportedNumber}, nil
}

func (b *LocalBackend) Start(ctx context.Context, req session.StartRequest) error {
	return b.runner.Start(ctx, req)
}

func (b *LocalBackend) Stop(ctx context.Context) error {
	return b.runner.Stop(ctx)
}
