package sqlite

import (
	"context"
	"fmt"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// addComment appends a comment and its event
func addComment(ctx context.Context, q querier, issueID, author, text string) (*types.Comment, error) {
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM issues WHERE id = ?)`, issueID).Scan(&exists); err != nil {
		return nil, wrapDBErrorf(err, "check issue %s", issueID)
	}
	if !exists {
		return nil, fmt.Errorf("issue %s: %w", issueID, ErrNotFound)
	}

	now := idgen.Now()
	res, err := q.ExecContext(ctx,
		`INSERT INTO comments (issue_id, author, text, created_at) VALUES (?, ?, ?, ?)`,
		issueID, author, text, now)
	if err != nil {
		return nil, wrapDBError("add comment", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get comment id: %w", err)
	}

	commentID := fmt.Sprintf("%d", id)
	if err := recordEvent(ctx, q, &types.Event{
		IssueID:   issueID,
		EventType: types.EventCommentAdded,
		Actor:     author,
		NewValue:  &commentID,
		Comment:   &text,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	return &types.Comment{
		ID:        id,
		IssueID:   issueID,
		Author:    author,
		Text:      text,
		CreatedAt: now,
	}, nil
}

// AddComment appends a comment to an issue
func (s *Store) AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	var comment *types.Comment
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		comment, err = tx.AddComment(ctx, issueID, author, text)
		return err
	})
	return comment, err
}

// DeleteComment removes a comment by id. Only undo uses this; comments are
// otherwise append-only.
func (s *Store) DeleteComment(ctx context.Context, commentID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, commentID)
	if err != nil {
		return wrapDBError("delete comment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("delete comment", err)
	}
	if n == 0 {
		return fmt.Errorf("comment %d: %w", commentID, ErrNotFound)
	}
	return nil
}

// GetComments lists an issue's comments oldest first
func (s *Store) GetComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, author, text, created_at
		FROM comments WHERE issue_id = ? ORDER BY id
	`, issueID)
	if err != nil {
		return nil, wrapDBError("get comments", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*types.Comment
	for rows.Next() {
		var c types.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, wrapDBError("scan comment", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
