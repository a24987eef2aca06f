package engine

import (
	"context"

	"github.com/filigree-dev/filigree/internal/types"
)

// AddDependency records "issueID is blocked by dependsOnID". The storage
// layer rejects edges that would create a cycle; that surfaces here as
// would_create_cycle.
func (e *Engine) AddDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	if issueID == dependsOnID {
		return E(CodeWouldCreateCycle, "issue %s cannot depend on itself", issueID)
	}
	dep := &types.Dependency{
		IssueID:     issueID,
		DependsOnID: dependsOnID,
		Type:        types.DepBlocks,
		CreatedBy:   actor,
	}
	return wrap(e.store.AddDependency(ctx, dep, actor), "add dependency")
}

// RemoveDependency deletes a blocking edge
func (e *Engine) RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	return wrap(e.store.RemoveDependency(ctx, issueID, dependsOnID, actor), "remove dependency")
}

// GetDependencies lists the issues blocking issueID
func (e *Engine) GetDependencies(ctx context.Context, issueID string) ([]*types.Issue, error) {
	if _, err := e.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	deps, err := e.store.GetDependencies(ctx, issueID)
	if err != nil {
		return nil, wrap(err, "get dependencies")
	}
	return deps, nil
}

// GetDependents lists the issues blocked by issueID
func (e *Engine) GetDependents(ctx context.Context, issueID string) ([]*types.Issue, error) {
	if _, err := e.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	deps, err := e.store.GetDependents(ctx, issueID)
	if err != nil {
		return nil, wrap(err, "get dependents")
	}
	return deps, nil
}

// GetReadyWork lists open-category, unblocked, unassigned issues ordered by
// priority then age. Readiness is always derived from the live graph.
func (e *Engine) GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error) {
	issues, err := e.store.GetReadyWork(ctx, filter)
	if err != nil {
		return nil, wrap(err, "ready work")
	}
	return issues, nil
}

// GetBlockedIssues lists non-done issues with at least one non-done blocker
func (e *Engine) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	issues, err := e.store.GetBlockedIssues(ctx)
	if err != nil {
		return nil, wrap(err, "blocked issues")
	}
	return issues, nil
}

// GetCriticalPath finds the longest dependency chain over non-done issues.
// Chains of equal length tie-break on total priority weight (lower numbers
// are more urgent, so the smaller sum wins). The graph is acyclic by
// construction, so a DFS with memoization suffices.
func (e *Engine) GetCriticalPath(ctx context.Context) (*types.CriticalPath, error) {
	records, err := e.store.GetAllDependencyRecords(ctx)
	if err != nil {
		return nil, wrap(err, "dependency records")
	}

	// Only non-done issues participate; a done blocker no longer blocks.
	alive := make(map[string]int) // id -> priority
	for _, category := range []types.Category{types.CategoryOpen, types.CategoryWIP} {
		issues, err := e.store.ListIssues(ctx, types.IssueFilter{Category: category})
		if err != nil {
			return nil, wrap(err, "list issues")
		}
		for _, issue := range issues {
			alive[issue.ID] = issue.Priority
		}
	}

	// blockedBy[a] = issues a depends on; the chain runs blocker-first.
	blockedBy := make(map[string][]string)
	for _, dep := range records {
		if _, ok := alive[dep.IssueID]; !ok {
			continue
		}
		if _, ok := alive[dep.DependsOnID]; !ok {
			continue
		}
		blockedBy[dep.IssueID] = append(blockedBy[dep.IssueID], dep.DependsOnID)
	}

	type chain struct {
		ids    []string
		weight int
	}
	memo := make(map[string]chain)

	var longest func(id string) chain
	longest = func(id string) chain {
		if c, ok := memo[id]; ok {
			return c
		}
		best := chain{ids: []string{id}, weight: alive[id]}
		for _, blocker := range blockedBy[id] {
			sub := longest(blocker)
			candidate := chain{
				ids:    append(append([]string{}, sub.ids...), id),
				weight: sub.weight + alive[id],
			}
			if len(candidate.ids) > len(best.ids) ||
				(len(candidate.ids) == len(best.ids) && candidate.weight < best.weight) {
				best = candidate
			}
		}
		memo[id] = best
		return best
	}

	var overall chain
	for id := range alive {
		c := longest(id)
		if len(c.ids) > len(overall.ids) ||
			(len(c.ids) == len(overall.ids) && c.weight < overall.weight) {
			overall = c
		}
	}
	if len(overall.ids) < 2 {
		return &types.CriticalPath{IssueIDs: nil, Length: 0}, nil
	}
	return &types.CriticalPath{IssueIDs: overall.ids, Length: len(overall.ids)}, nil
}
