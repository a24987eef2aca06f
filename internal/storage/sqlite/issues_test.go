package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

func TestCreateAndGetIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("Add retry logic")
	issue.Description = "Wrap the fetch in a backoff loop"
	issue.Fields = map[string]any{"component": "sync"}
	mustCreate(t, store, issue)

	got, err := store.GetIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got.Title != issue.Title {
		t.Errorf("title = %q, want %q", got.Title, issue.Title)
	}
	if got.Category != types.CategoryOpen {
		t.Errorf("category = %q, want open", got.Category)
	}
	if got.Fields["component"] != "sync" {
		t.Errorf("fields = %v, want component=sync", got.Fields)
	}
	if got.ClosedAt != nil {
		t.Errorf("new issue has closed_at %v", got.ClosedAt)
	}

	events, err := store.GetIssueEvents(ctx, issue.ID, 0)
	if err != nil {
		t.Fatalf("GetIssueEvents: %v", err)
	}
	if len(events) != 1 || events[0].EventType != types.EventCreated {
		t.Errorf("events = %+v, want single created event", events)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetIssue(context.Background(), "test-0000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateIssueIDCollision(t *testing.T) {
	store := newTestStore(t)

	issue := makeTestIssue("first")
	mustCreate(t, store, issue)

	dup := makeTestIssue("second")
	dup.ID = issue.ID
	err := store.CreateIssue(context.Background(), dup, "tester")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateIssueAppliesColumnsAndEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("rename me")
	mustCreate(t, store, issue)

	oldTitle, newTitle := issue.Title, "renamed"
	err := store.UpdateIssue(ctx, issue.ID, map[string]any{
		"title":    newTitle,
		"priority": 1,
	}, []*types.Event{
		{EventType: types.EventTitleChanged, Actor: "tester", OldValue: &oldTitle, NewValue: &newTitle},
	})
	if err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}

	got, err := store.GetIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got.Title != newTitle || got.Priority != 1 {
		t.Errorf("got title=%q priority=%d", got.Title, got.Priority)
	}
	if !got.UpdatedAt.After(issue.CreatedAt) {
		t.Errorf("updated_at %v not after created_at %v", got.UpdatedAt, issue.CreatedAt)
	}

	events, err := store.GetIssueEvents(ctx, issue.ID, 0)
	if err != nil {
		t.Fatalf("GetIssueEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != types.EventTitleChanged {
		t.Errorf("newest event = %s, want title_changed", events[0].EventType)
	}
}

func TestUpdateIssueUnknownColumn(t *testing.T) {
	store := newTestStore(t)
	issue := makeTestIssue("guard")
	mustCreate(t, store, issue)

	err := store.UpdateIssue(context.Background(), issue.ID,
		map[string]any{"id": "test-hijack"}, nil)
	if err == nil {
		t.Fatal("expected error updating disallowed column")
	}
}

func TestUpdateMissingIssue(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateIssue(context.Background(), "test-ffffffffff",
		map[string]any{"priority": 0}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListIssuesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bug := makeTestIssue("crash on save")
	bug.IssueType = "bug"
	bug.Priority = 0
	mustCreate(t, store, bug)

	task := makeTestIssue("tidy docs")
	task.Assignee = "agent-7"
	mustCreate(t, store, task)

	closed := makeTestIssue("shipped")
	mustCreate(t, store, closed)
	mustClose(t, store, closed.ID)

	byType, err := store.ListIssues(ctx, types.IssueFilter{IssueType: "bug"})
	if err != nil {
		t.Fatalf("ListIssues by type: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != bug.ID {
		t.Errorf("by type = %v, want just %s", ids(byType), bug.ID)
	}

	assignee := "agent-7"
	byAssignee, err := store.ListIssues(ctx, types.IssueFilter{Assignee: &assignee})
	if err != nil {
		t.Fatalf("ListIssues by assignee: %v", err)
	}
	if len(byAssignee) != 1 || byAssignee[0].ID != task.ID {
		t.Errorf("by assignee = %v, want just %s", ids(byAssignee), task.ID)
	}

	done, err := store.ListIssues(ctx, types.IssueFilter{Category: types.CategoryDone})
	if err != nil {
		t.Fatalf("ListIssues by category: %v", err)
	}
	if len(done) != 1 || done[0].ID != closed.ID {
		t.Errorf("done = %v, want just %s", ids(done), closed.ID)
	}
	if done[0].ClosedAt == nil {
		t.Error("closed issue missing closed_at")
	}
}

func TestSearchIssues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hit := makeTestIssue("fix the parser regression")
	hit.Description = "tokenizer drops trailing newline"
	mustCreate(t, store, hit)
	mustCreate(t, store, makeTestIssue("unrelated chore"))

	results, err := store.SearchIssues(ctx, "tokenizer", types.IssueFilter{})
	if err != nil {
		t.Fatalf("SearchIssues: %v", err)
	}
	if len(results) != 1 || results[0].ID != hit.ID {
		t.Errorf("search = %v, want just %s", ids(results), hit.ID)
	}

	// Operator characters must be treated as literal text, not FTS syntax.
	if _, err := store.SearchIssues(ctx, `"unbalanced - NEAR(`, types.IssueFilter{}); err != nil {
		t.Errorf("search with operator characters: %v", err)
	}
}

func TestGetStatistics(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, makeTestIssue("one"))
	second := makeTestIssue("two")
	mustCreate(t, store, second)
	mustClose(t, store, second.ID)

	stats, err := store.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.ByCategory["open"] != 1 || stats.ByCategory["done"] != 1 {
		t.Errorf("by category = %v", stats.ByCategory)
	}
	if stats.Ready != 1 {
		t.Errorf("ready = %d, want 1", stats.Ready)
	}
}

func ids(issues []*types.Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.ID
	}
	return out
}

func TestMonotonicTimestamps(t *testing.T) {
	prev := idgen.Now()
	for i := 0; i < 100; i++ {
		next := idgen.Now()
		if !next.After(prev) {
			t.Fatalf("timestamp %v not after %v", next, prev)
		}
		prev = next
	}
}
