package sqlite

import (
	"context"
	"fmt"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// getLabels lists an issue's labels in sorted order
func getLabels(ctx context.Context, q querier, issueID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT label FROM labels WHERE issue_id = ? ORDER BY label`, issueID)
	if err != nil {
		return nil, wrapDBError("get labels", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, wrapDBError("scan label", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// attachLabels populates Labels for a batch of issues in one query
func (s *Store) attachLabels(ctx context.Context, issues []*types.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	byID := make(map[string]*types.Issue, len(issues))
	placeholders := make([]byte, 0, len(issues)*2)
	args := make([]any, 0, len(issues))
	for i, issue := range issues {
		byID[issue.ID] = issue
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, issue.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT issue_id, label FROM labels WHERE issue_id IN (`+string(placeholders)+`) ORDER BY label`,
		args...)
	if err != nil {
		return wrapDBError("attach labels", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var issueID, label string
		if err := rows.Scan(&issueID, &label); err != nil {
			return wrapDBError("scan label", err)
		}
		if issue := byID[issueID]; issue != nil {
			issue.Labels = append(issue.Labels, label)
		}
	}
	return rows.Err()
}

// addLabel attaches a label to an issue. Adding an existing label is a no-op
// and records no event.
func addLabel(ctx context.Context, q querier, issueID, label, actor string) error {
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM issues WHERE id = ?)`, issueID).Scan(&exists); err != nil {
		return wrapDBErrorf(err, "check issue %s", issueID)
	}
	if !exists {
		return fmt.Errorf("issue %s: %w", issueID, ErrNotFound)
	}

	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, issueID, label)
	if err != nil {
		return wrapDBError("add label", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return nil
	}

	return recordEvent(ctx, q, &types.Event{
		IssueID:   issueID,
		EventType: types.EventLabelAdded,
		Actor:     actor,
		NewValue:  &label,
		CreatedAt: idgen.Now(),
	})
}

// AddLabel attaches a label inside its own transaction
func (s *Store) AddLabel(ctx context.Context, issueID, label, actor string) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.AddLabel(ctx, issueID, label, actor)
	})
}

// RemoveLabel detaches a label. Removing an absent label is a no-op.
func (s *Store) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		t := tx.(*txStorage)
		res, err := t.conn.ExecContext(ctx,
			`DELETE FROM labels WHERE issue_id = ? AND label = ?`, issueID, label)
		if err != nil {
			return wrapDBError("remove label", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		return recordEvent(ctx, t.conn, &types.Event{
			IssueID:   issueID,
			EventType: types.EventLabelRemoved,
			Actor:     actor,
			OldValue:  &label,
			CreatedAt: idgen.Now(),
		})
	})
}

// GetLabels lists an issue's labels
func (s *Store) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	return getLabels(ctx, s.db, issueID)
}
