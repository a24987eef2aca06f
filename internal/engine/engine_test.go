package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/storage/sqlite"
	"github.com/filigree-dev/filigree/internal/templates"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := templates.NewBuiltin()
	require.NoError(t, err)

	return New(store, registry, "demo")
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }
