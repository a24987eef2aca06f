// Package engine implements the workflow semantics on top of storage: issue
// lifecycle against the template registry, the claim protocol, the
// dependency graph, plans, batches, undo, and file intelligence.
package engine

import (
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/templates"
)

// Engine is the single entry point every boundary adapter talks to. All
// methods are safe for concurrent use; the database serializes writers.
type Engine struct {
	store    storage.Storage
	registry *templates.Registry
	prefix   string
}

// New wires an engine over a storage backend and template registry
func New(store storage.Storage, registry *templates.Registry, prefix string) *Engine {
	return &Engine{store: store, registry: registry, prefix: prefix}
}

// Registry exposes the template registry for introspection surfaces
func (e *Engine) Registry() *templates.Registry {
	return e.registry
}

// Prefix returns the project's id prefix
func (e *Engine) Prefix() string {
	return e.prefix
}

// Store exposes the backing storage for maintenance commands
func (e *Engine) Store() storage.Storage {
	return e.store
}
