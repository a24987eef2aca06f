package sqlite

import (
	"context"
	"fmt"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// ClaimIssue atomically assigns an open-category issue to assignee. Status is
// untouched: a claim is ownership, not progress. The guard is a conditional
// UPDATE keyed on status category and current assignee; zero rows affected
// means somebody else holds the issue or it left the open category, and the
// pre-image read inside the same transaction tells us which.
func (s *Store) ClaimIssue(ctx context.Context, id, assignee, actor string) (*types.Issue, error) {
	var claimed *types.Issue
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		t := tx.(*txStorage)

		// BEGIN IMMEDIATE holds the write lock, so this pre-image cannot
		// race another claimant.
		prev, err := getIssue(ctx, t.conn, id)
		if err != nil {
			return err
		}

		now := idgen.Now()
		res, err := t.conn.ExecContext(ctx, `
			UPDATE issues
			SET assignee = ?, updated_at = ?
			WHERE id = ? AND status_category = 'open' AND (assignee = '' OR assignee = ?)
		`, assignee, now, id, assignee)
		if err != nil {
			return wrapDBErrorf(err, "claim issue %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			if prev.Category != types.CategoryOpen {
				return fmt.Errorf("claim issue %s (status %s): %w", id, prev.Status, ErrNotOpen)
			}
			return fmt.Errorf("claim issue %s (held by %s): %w", id, prev.Assignee, ErrAlreadyClaimed)
		}

		if err := recordEvent(ctx, t.conn, &types.Event{
			IssueID:   id,
			EventType: types.EventClaimed,
			Actor:     actor,
			OldValue:  &prev.Assignee,
			NewValue:  &assignee,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		claimed, err = getIssue(ctx, t.conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseClaim clears the assignee and nothing else; the issue keeps whatever
// state it is in. Releasing an unassigned issue is an error.
func (s *Store) ReleaseClaim(ctx context.Context, id, actor string) (*types.Issue, error) {
	var released *types.Issue
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		t := tx.(*txStorage)

		prev, err := getIssue(ctx, t.conn, id)
		if err != nil {
			return err
		}
		if prev.Assignee == "" {
			return fmt.Errorf("release issue %s: %w", id, ErrNoAssignee)
		}

		now := idgen.Now()
		if _, err := t.conn.ExecContext(ctx, `
			UPDATE issues SET assignee = '', updated_at = ? WHERE id = ?
		`, now, id); err != nil {
			return wrapDBErrorf(err, "release issue %s", id)
		}

		if err := recordEvent(ctx, t.conn, &types.Event{
			IssueID:   id,
			EventType: types.EventReleased,
			Actor:     actor,
			OldValue:  &prev.Assignee,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		released, err = getIssue(ctx, t.conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}
