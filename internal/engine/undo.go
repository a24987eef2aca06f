package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

// UndoResult describes the event that was inverted
type UndoResult struct {
	Event   *types.Event `json:"event"`
	Applied string       `json:"applied"`
	Issue   *types.Issue `json:"issue,omitempty"`
}

// UndoLast inverts the most recent reversible event on an issue. Lifecycle
// events outside the reversible set (created, closed, released, dependency
// edits) are skipped; closes are undone with reopen, not undo.
func (e *Engine) UndoLast(ctx context.Context, issueID, actor string) (*UndoResult, error) {
	if _, err := e.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}

	events, err := e.store.GetIssueEvents(ctx, issueID, 100)
	if err != nil {
		return nil, wrap(err, "get events")
	}

	var target *types.Event
	for _, ev := range events {
		if types.ReversibleEvents[ev.EventType] {
			target = ev
			break
		}
	}
	if target == nil {
		return nil, E(CodeInvalid, "issue %s has no reversible event to undo", issueID)
	}

	applied, err := e.invertEvent(ctx, target, actor)
	if err != nil {
		return nil, err
	}

	issue, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	return &UndoResult{Event: target, Applied: applied, Issue: issue}, nil
}

func (e *Engine) invertEvent(ctx context.Context, ev *types.Event, actor string) (string, error) {
	old := strOr(ev.OldValue)
	current := strOr(ev.NewValue)

	switch ev.EventType {
	case types.EventStatusChanged:
		return fmt.Sprintf("status restored to %q", old),
			e.restoreStatus(ctx, ev.IssueID, old, actor)

	case types.EventTitleChanged:
		_, _, err := e.UpdateIssue(ctx, ev.IssueID, UpdateRequest{Title: &old}, actor)
		return fmt.Sprintf("title restored to %q", old), err

	case types.EventPriorityChanged:
		p, err := strconv.Atoi(old)
		if err != nil {
			return "", E(CodeInternal, "event %d has malformed priority %q", ev.ID, old)
		}
		_, _, err = e.UpdateIssue(ctx, ev.IssueID, UpdateRequest{Priority: &p}, actor)
		return fmt.Sprintf("priority restored to %d", p), err

	case types.EventAssigneeChanged:
		_, _, err := e.UpdateIssue(ctx, ev.IssueID, UpdateRequest{Assignee: &old}, actor)
		return fmt.Sprintf("assignee restored to %q", old), err

	case types.EventClaimed:
		// The claim event recorded the prior holder; put them back. Most
		// claims come from an unassigned issue, so this usually clears it.
		_, _, err := e.UpdateIssue(ctx, ev.IssueID, UpdateRequest{Assignee: &old}, actor)
		return fmt.Sprintf("assignee restored to %q", old), err

	case types.EventCommentAdded:
		id, err := strconv.ParseInt(current, 10, 64)
		if err != nil {
			return "", E(CodeInternal, "event %d has malformed comment id %q", ev.ID, current)
		}
		if err := e.store.DeleteComment(ctx, id); err != nil {
			return "", wrap(err, "delete comment")
		}
		return fmt.Sprintf("comment %d removed", id), nil

	case types.EventLabelAdded:
		if err := e.store.RemoveLabel(ctx, ev.IssueID, current, actor); err != nil {
			return "", wrap(err, "remove label")
		}
		return fmt.Sprintf("label %q removed", current), nil
	}
	return "", E(CodeInvalid, "event type %s is not reversible", ev.EventType)
}

// restoreStatus writes the prior status directly, bypassing transition gates:
// the edge was legal when taken, and templates do not always declare the
// reverse edge.
func (e *Engine) restoreStatus(ctx context.Context, issueID, status, actor string) error {
	current, err := e.GetIssue(ctx, issueID)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	category := e.registry.CategoryOf(current.IssueType, status)

	updates := map[string]any{
		"status":          status,
		"status_category": string(category),
	}
	now := idgen.Now()
	switch {
	case category == types.CategoryDone && current.Category != types.CategoryDone:
		updates["closed_at"] = now
	case category != types.CategoryDone && current.Category == types.CategoryDone:
		updates["closed_at"] = nil
	}

	oldStatus := current.Status
	newStatus := status
	ev := &types.Event{
		IssueID:   issueID,
		EventType: types.EventStatusChanged,
		Actor:     actor,
		OldValue:  &oldStatus,
		NewValue:  &newStatus,
		CreatedAt: now,
	}
	return wrap(e.store.UpdateIssue(ctx, issueID, updates, []*types.Event{ev}), "restore status")
}

func strOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
