package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

// newTestStore opens a throwaway file-backed store under t.TempDir. File
// backing (not :memory:) keeps tests on the same WAL path as production.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return store
}

// makeTestIssue builds a minimal valid open issue with a fresh id
func makeTestIssue(title string) *types.Issue {
	return &types.Issue{
		ID:        idgen.New("test"),
		Title:     title,
		Status:    "open",
		Category:  types.CategoryOpen,
		Priority:  types.DefaultPriority,
		IssueType: types.DefaultIssueType,
	}
}

// mustCreate inserts an issue or fails the test
func mustCreate(t *testing.T, store *Store, issue *types.Issue) {
	t.Helper()
	if err := store.CreateIssue(context.Background(), issue, "tester"); err != nil {
		t.Fatalf("failed to create issue %s: %v", issue.ID, err)
	}
}

// mustClose marks an issue done, the way the engine would
func mustClose(t *testing.T, store *Store, id string) {
	t.Helper()
	now := idgen.Now()
	err := store.UpdateIssue(context.Background(), id, map[string]any{
		"status":          "closed",
		"status_category": string(types.CategoryDone),
		"closed_at":       now,
	}, []*types.Event{{
		IssueID:   id,
		EventType: types.EventClosed,
		Actor:     "tester",
		CreatedAt: now,
	}})
	if err != nil {
		t.Fatalf("failed to close issue %s: %v", id, err)
	}
}
