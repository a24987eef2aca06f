package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/filigree-dev/filigree/internal/types"
)

// Claim atomically assigns an open-category issue to an agent. The status is
// left alone: a claim marks ownership, and the agent decides separately when
// work actually starts. Exactly one of N concurrent claimants wins; the rest
// get already_claimed (someone else holds it) or invalid (not in the open
// category). Claiming an issue you already hold is a no-op success.
func (e *Engine) Claim(ctx context.Context, id, assignee, actor string) (*types.Issue, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, E(CodeValidation, "assignee is required")
	}

	issue, err := e.store.ClaimIssue(ctx, id, assignee, actor)
	if err != nil {
		return nil, wrap(err, "claim issue")
	}
	return issue, nil
}

// Release drops an issue's claim, clearing the assignee and nothing else, so
// other agents can pick it up.
func (e *Engine) Release(ctx context.Context, id, actor string) (*types.Issue, error) {
	issue, err := e.store.ReleaseClaim(ctx, id, actor)
	if err != nil {
		return nil, wrap(err, "release claim")
	}
	return issue, nil
}

// ClaimNextResult reports what was claimed and why it was chosen
type ClaimNextResult struct {
	Issue  *types.Issue `json:"issue"`
	Reason string       `json:"reason"`
}

// ClaimNext claims the highest-priority ready issue matching the filter.
// Candidates are restricted to issues unassigned or already held by this
// agent. Candidates another agent grabs between the ready query and the
// claim are skipped, not errors; nil result means nothing is ready.
func (e *Engine) ClaimNext(ctx context.Context, assignee string, filter types.WorkFilter, actor string) (*ClaimNextResult, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil, E(CodeValidation, "assignee is required")
	}

	if filter.Limit == 0 {
		filter.Limit = 10
	}
	if filter.Assignee == nil {
		filter.Assignee = &assignee
	}
	candidates, err := e.store.GetReadyWork(ctx, filter)
	if err != nil {
		return nil, wrap(err, "ready work")
	}

	for i, candidate := range candidates {
		issue, err := e.Claim(ctx, candidate.ID, assignee, actor)
		if err != nil {
			if code := CodeOf(err); code == CodeAlreadyClaimed || code == CodeInvalid {
				continue
			}
			return nil, err
		}
		reason := fmt.Sprintf("priority %d %s, ready with no open blockers",
			issue.Priority, issue.IssueType)
		if i > 0 {
			reason += fmt.Sprintf(", after skipping %d candidate(s) claimed elsewhere", i)
		}
		return &ClaimNextResult{Issue: issue, Reason: reason}, nil
	}
	return nil, nil
}
