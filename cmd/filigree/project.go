package main

import (
	"context"
	"fmt"
	"os"

	"github.com/filigree-dev/filigree/internal/configfile"
	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/storage/sqlite"
	"github.com/filigree-dev/filigree/internal/summary"
	"github.com/filigree-dev/filigree/internal/templates"
)

// project bundles everything a command needs after discovery: the open
// engine, the snapshot generator, and the project paths.
type project struct {
	Dir      string // the .filigree directory
	Config   *configfile.Config
	Engine   *engine.Engine
	Snapshot *summary.Generator

	store interface{ Close() error }
}

// openProject discovers the enclosing project and opens its database.
// Callers must Close.
func openProject(ctx context.Context) (*project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	dir, err := configfile.Discover(cwd)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("no %s directory found; run 'filigree init' first", configfile.DirName)
	}
	cfg, err := configfile.Load(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%s exists but has no config; re-run 'filigree init'", dir)
	}

	registry, err := templates.New(dir, cfg.EnabledPacks)
	if err != nil {
		return nil, fmt.Errorf("loading workflow templates: %w", err)
	}

	store, err := sqlite.New(ctx, configfile.DatabasePath(dir))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	eng := engine.New(store, registry, cfg.Prefix)
	return &project{
		Dir:      dir,
		Config:   cfg,
		Engine:   eng,
		Snapshot: summary.New(eng, configfile.SummaryPath(dir)),
		store:    store,
	}, nil
}

func (p *project) Close() {
	if p.store != nil {
		_ = p.store.Close()
	}
}

// refresh regenerates the snapshot document after a successful mutation.
// Failures log and never fail the command.
func (p *project) refresh(ctx context.Context) {
	p.Snapshot.RefreshQuiet(ctx)
}

// withProject wraps a command body with project open/close.
func withProject(ctx context.Context, fn func(*project) error) error {
	proj, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer proj.Close()
	return fn(proj)
}
