package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/filigree-dev/filigree/internal/types"
)

func TestClaimIssue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("claim me")
	mustCreate(t, store, issue)

	claimed, err := store.ClaimIssue(ctx, issue.ID, "agent-1", "agent-1")
	if err != nil {
		t.Fatalf("ClaimIssue: %v", err)
	}
	if claimed.Assignee != "agent-1" {
		t.Errorf("assignee = %q, want agent-1", claimed.Assignee)
	}
	// A claim marks ownership only; the issue stays where it was.
	if claimed.Status != issue.Status || claimed.Category != types.CategoryOpen {
		t.Errorf("claimed = %s/%s, want %s/open", claimed.Status, claimed.Category, issue.Status)
	}
}

func TestClaimIsIdempotentForHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("mine already")
	mustCreate(t, store, issue)

	if _, err := store.ClaimIssue(ctx, issue.ID, "agent-1", "agent-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	claimed, err := store.ClaimIssue(ctx, issue.ID, "agent-1", "agent-1")
	if err != nil {
		t.Fatalf("re-claim by holder: %v", err)
	}
	if claimed.Assignee != "agent-1" {
		t.Errorf("assignee = %q, want agent-1", claimed.Assignee)
	}
}

func TestClaimConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("contested")
	mustCreate(t, store, issue)

	if _, err := store.ClaimIssue(ctx, issue.ID, "agent-1", "agent-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// The issue is still open, so the second claimant loses on the assignee
	// guard, not the category guard.
	_, err := store.ClaimIssue(ctx, issue.ID, "agent-2", "agent-2")
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("second claim err = %v, want ErrAlreadyClaimed", err)
	}

	closed := makeTestIssue("already done")
	mustCreate(t, store, closed)
	mustClose(t, store, closed.ID)
	_, err = store.ClaimIssue(ctx, closed.ID, "agent-1", "agent-1")
	if !errors.Is(err, ErrNotOpen) {
		t.Errorf("claim closed err = %v, want ErrNotOpen", err)
	}
}

func TestClaimRace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("raced")
	mustCreate(t, store, issue)

	const claimers = 8
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assignee := string(rune('a' + n))
			_, errs[n] = store.ClaimIssue(ctx, issue.ID, assignee, assignee)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrAlreadyClaimed) {
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestReleaseClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("release me")
	mustCreate(t, store, issue)
	if _, err := store.ClaimIssue(ctx, issue.ID, "agent-1", "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	released, err := store.ReleaseClaim(ctx, issue.ID, "agent-1")
	if err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	if released.Assignee != "" {
		t.Errorf("assignee = %q, want empty", released.Assignee)
	}
	if released.Status != issue.Status {
		t.Errorf("status = %s, want %s untouched", released.Status, issue.Status)
	}

	// Releasing twice fails: nobody holds the issue anymore.
	_, err = store.ReleaseClaim(ctx, issue.ID, "agent-1")
	if !errors.Is(err, ErrNoAssignee) {
		t.Errorf("second release err = %v, want ErrNoAssignee", err)
	}
}

func TestClaimRecordsEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	issue := makeTestIssue("audited")
	mustCreate(t, store, issue)
	if _, err := store.ClaimIssue(ctx, issue.ID, "agent-1", "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.ReleaseClaim(ctx, issue.ID, "agent-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	events, err := store.GetIssueEvents(ctx, issue.ID, 0)
	if err != nil {
		t.Fatalf("GetIssueEvents: %v", err)
	}
	var sawClaimed, sawReleased bool
	for _, ev := range events {
		switch ev.EventType {
		case types.EventClaimed:
			sawClaimed = true
			// The pre-claim assignee is recorded so undo can restore it.
			if ev.OldValue == nil || *ev.OldValue != "" {
				t.Errorf("claimed event old_value = %v, want empty string", ev.OldValue)
			}
			if ev.NewValue == nil || *ev.NewValue != "agent-1" {
				t.Errorf("claimed event new_value = %v, want agent-1", ev.NewValue)
			}
		case types.EventReleased:
			sawReleased = true
			if ev.OldValue == nil || *ev.OldValue != "agent-1" {
				t.Errorf("released event old_value = %v, want agent-1", ev.OldValue)
			}
		}
	}
	if !sawClaimed || !sawReleased {
		t.Errorf("events missing claim lifecycle: claimed=%v released=%v", sawClaimed, sawReleased)
	}
}
