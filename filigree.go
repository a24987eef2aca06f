// Package filigree provides a minimal public API for embedding the tracker
// in Go programs. Orchestrators that want the full surface should drive the
// tool-call protocol instead; this package exports just enough to open a
// project database and call the engine directly.
package filigree

import (
	"context"
	"fmt"

	"github.com/filigree-dev/filigree/internal/configfile"
	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/storage/sqlite"
	"github.com/filigree-dev/filigree/internal/templates"
	"github.com/filigree-dev/filigree/internal/types"
)

// Core types for working with issues
type (
	Issue        = types.Issue
	IssueFilter  = types.IssueFilter
	WorkFilter   = types.WorkFilter
	BlockedIssue = types.BlockedIssue
	Statistics   = types.Statistics
	Engine       = engine.Engine
)

// Status categories
const (
	CategoryOpen = types.CategoryOpen
	CategoryWIP  = types.CategoryWIP
	CategoryDone = types.CategoryDone
)

// Project is an open filigree project
type Project struct {
	Engine *Engine

	dir   string
	store interface{ Close() error }
}

// Open discovers the project enclosing startDir and opens its database.
// Callers must Close.
func Open(ctx context.Context, startDir string) (*Project, error) {
	dir, err := configfile.Discover(startDir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("no %s directory under %s", configfile.DirName, startDir)
	}
	cfg, err := configfile.Load(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%s is not initialized", dir)
	}
	registry, err := templates.New(dir, cfg.EnabledPacks)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.New(ctx, configfile.DatabasePath(dir))
	if err != nil {
		return nil, err
	}
	return &Project{
		Engine: engine.New(store, registry, cfg.Prefix),
		dir:    dir,
		store:  store,
	}, nil
}

// Dir returns the project's .filigree directory
func (p *Project) Dir() string { return p.dir }

// Close releases the database handle
func (p *Project) Close() error { return p.store.Close() }
