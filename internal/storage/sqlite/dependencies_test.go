package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/filigree-dev/filigree/internal/types"
)

func addDep(t *testing.T, store *Store, issueID, dependsOnID string) {
	t.Helper()
	err := store.AddDependency(context.Background(),
		&types.Dependency{IssueID: issueID, DependsOnID: dependsOnID}, "tester")
	if err != nil {
		t.Fatalf("AddDependency %s -> %s: %v", issueID, dependsOnID, err)
	}
}

func TestAddDependencyCycleDetection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b, c := makeTestIssue("a"), makeTestIssue("b"), makeTestIssue("c")
	for _, issue := range []*types.Issue{a, b, c} {
		mustCreate(t, store, issue)
	}

	addDep(t, store, a.ID, b.ID)
	addDep(t, store, b.ID, c.ID)

	// c -> a would close the loop a -> b -> c -> a.
	err := store.AddDependency(ctx, &types.Dependency{IssueID: c.ID, DependsOnID: a.ID}, "tester")
	if !errors.Is(err, ErrCycle) {
		t.Errorf("err = %v, want ErrCycle", err)
	}

	// Self-dependency is the one-node cycle.
	err = store.AddDependency(ctx, &types.Dependency{IssueID: a.ID, DependsOnID: a.ID}, "tester")
	if !errors.Is(err, ErrCycle) {
		t.Errorf("self-dep err = %v, want ErrCycle", err)
	}
}

func TestAddDependencyDuplicateAndMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b := makeTestIssue("a"), makeTestIssue("b")
	mustCreate(t, store, a)
	mustCreate(t, store, b)
	addDep(t, store, a.ID, b.ID)

	err := store.AddDependency(ctx, &types.Dependency{IssueID: a.ID, DependsOnID: b.ID}, "tester")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate err = %v, want ErrConflict", err)
	}

	err = store.AddDependency(ctx, &types.Dependency{IssueID: a.ID, DependsOnID: "test-ffffffffff"}, "tester")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing target err = %v, want ErrNotFound", err)
	}
}

func TestReadyWorkExcludesBlocked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	free := makeTestIssue("free")
	blocked := makeTestIssue("blocked")
	blocker := makeTestIssue("blocker")
	taken := makeTestIssue("taken")
	taken.Assignee = "agent-1"
	for _, issue := range []*types.Issue{free, blocked, blocker, taken} {
		mustCreate(t, store, issue)
	}
	addDep(t, store, blocked.ID, blocker.ID)

	// An assigned issue is still ready: readiness is about blockers, not
	// ownership.
	ready, err := store.GetReadyWork(ctx, types.WorkFilter{})
	if err != nil {
		t.Fatalf("GetReadyWork: %v", err)
	}
	got := ids(ready)
	want := map[string]bool{free.ID: true, blocker.ID: true, taken.ID: true}
	if len(got) != 3 {
		t.Fatalf("ready = %v, want %s, %s and %s", got, free.ID, blocker.ID, taken.ID)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("ready includes %s, want only %v", id, want)
		}
	}
}

func TestReadyWorkAssigneeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	free := makeTestIssue("free")
	mine := makeTestIssue("mine")
	mine.Assignee = "agent-1"
	theirs := makeTestIssue("theirs")
	theirs.Assignee = "agent-2"
	for _, issue := range []*types.Issue{free, mine, theirs} {
		mustCreate(t, store, issue)
	}

	assignee := "agent-1"
	ready, err := store.GetReadyWork(ctx, types.WorkFilter{Assignee: &assignee})
	if err != nil {
		t.Fatalf("GetReadyWork: %v", err)
	}
	got := ids(ready)
	want := map[string]bool{free.ID: true, mine.ID: true}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] {
		t.Errorf("ready = %v, want %s and %s", got, free.ID, mine.ID)
	}
}

func TestReadyWorkDerivedFromLiveGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blocked := makeTestIssue("waits")
	blocker := makeTestIssue("gate")
	mustCreate(t, store, blocked)
	mustCreate(t, store, blocker)
	addDep(t, store, blocked.ID, blocker.ID)

	mustClose(t, store, blocker.ID)

	ready, err := store.GetReadyWork(ctx, types.WorkFilter{})
	if err != nil {
		t.Fatalf("GetReadyWork: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != blocked.ID {
		t.Errorf("ready = %v, want just %s after blocker closed", ids(ready), blocked.ID)
	}
}

func TestReadyWorkPriorityOrder(t *testing.T) {
	store := newTestStore(t)

	low := makeTestIssue("low")
	low.Priority = 3
	urgent := makeTestIssue("urgent")
	urgent.Priority = 0
	mustCreate(t, store, low)
	mustCreate(t, store, urgent)

	ready, err := store.GetReadyWork(context.Background(), types.WorkFilter{})
	if err != nil {
		t.Fatalf("GetReadyWork: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != urgent.ID {
		t.Errorf("ready order = %v, want %s first", ids(ready), urgent.ID)
	}
}

func TestGetBlockedIssues(t *testing.T) {
	store := newTestStore(t)

	blocked := makeTestIssue("stuck")
	b1 := makeTestIssue("gate one")
	b2 := makeTestIssue("gate two")
	for _, issue := range []*types.Issue{blocked, b1, b2} {
		mustCreate(t, store, issue)
	}
	addDep(t, store, blocked.ID, b1.ID)
	addDep(t, store, blocked.ID, b2.ID)

	// A done issue with open blockers is past blocking and must not appear.
	finished := makeTestIssue("already done")
	mustCreate(t, store, finished)
	addDep(t, store, finished.ID, b1.ID)
	mustClose(t, store, finished.ID)

	out, err := store.GetBlockedIssues(context.Background())
	if err != nil {
		t.Fatalf("GetBlockedIssues: %v", err)
	}
	if len(out) != 1 || out[0].ID != blocked.ID {
		t.Fatalf("blocked = %+v, want just %s", out, blocked.ID)
	}
	if out[0].BlockedByCount != 2 {
		t.Errorf("blocked_by_count = %d, want 2", out[0].BlockedByCount)
	}
}

func TestGetNewlyUnblockedByClose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	waiting := makeTestIssue("waiting")
	gate := makeTestIssue("gate")
	stillStuck := makeTestIssue("still stuck")
	other := makeTestIssue("other gate")
	for _, issue := range []*types.Issue{waiting, gate, stillStuck, other} {
		mustCreate(t, store, issue)
	}
	addDep(t, store, waiting.ID, gate.ID)
	addDep(t, store, stillStuck.ID, gate.ID)
	addDep(t, store, stillStuck.ID, other.ID)

	mustClose(t, store, gate.ID)

	unblocked, err := store.GetNewlyUnblockedByClose(ctx, gate.ID)
	if err != nil {
		t.Fatalf("GetNewlyUnblockedByClose: %v", err)
	}
	if len(unblocked) != 1 || unblocked[0].ID != waiting.ID {
		t.Errorf("unblocked = %v, want just %s", ids(unblocked), waiting.ID)
	}
}

func TestRemoveDependency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b := makeTestIssue("a"), makeTestIssue("b")
	mustCreate(t, store, a)
	mustCreate(t, store, b)
	addDep(t, store, a.ID, b.ID)

	if err := store.RemoveDependency(ctx, a.ID, b.ID, "tester"); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}

	// Removing an edge that is already gone succeeds: the caller's goal is
	// the edge's absence.
	if err := store.RemoveDependency(ctx, a.ID, b.ID, "tester"); err != nil {
		t.Errorf("second remove err = %v, want nil", err)
	}

	deps, err := store.GetDependencies(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetDependencies: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("deps = %v, want none", ids(deps))
	}
}
