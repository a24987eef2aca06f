package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

// recordEvent appends one audit record. The taxonomy is closed: unknown
// event types are rejected rather than stored.
func recordEvent(ctx context.Context, q querier, ev *types.Event) error {
	if !ev.EventType.IsValid() {
		return fmt.Errorf("invalid event type %q", ev.EventType)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = idgen.Now()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (issue_id, event_type, actor, old_value, new_value, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.IssueID, string(ev.EventType), ev.Actor, ev.OldValue, ev.NewValue, ev.Comment, ev.CreatedAt)
	if err != nil {
		return wrapDBError("record event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// RecordEvent appends one audit record
func (s *Store) RecordEvent(ctx context.Context, ev *types.Event) error {
	return recordEvent(ctx, s.db, ev)
}

const eventColumns = `id, issue_id, event_type, actor, old_value, new_value, comment, created_at`

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var ev types.Event
		var eventType string
		if err := rows.Scan(&ev.ID, &ev.IssueID, &eventType, &ev.Actor,
			&ev.OldValue, &ev.NewValue, &ev.Comment, &ev.CreatedAt); err != nil {
			return nil, wrapDBError("scan event", err)
		}
		ev.EventType = types.EventType(eventType)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// GetIssueEvents returns an issue's history, newest first
func (s *Store) GetIssueEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE issue_id = ? ORDER BY id DESC`
	args := []any{issueID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// GetEventsSince returns events created strictly after the cursor, oldest
// first. Commit timestamps are strictly monotonic, so paging by the last
// returned created_at never skips or repeats.
func (s *Store) GetEventsSince(ctx context.Context, since time.Time, limit int) ([]*types.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE created_at > ? ORDER BY created_at ASC, id ASC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// GetRecentEvents returns the newest events across all issues
func (s *Store) GetRecentEvents(ctx context.Context, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT ?`, limit)
}

// CompactEvents trims each issue's history to its newest keepPerIssue rows
// and returns the number deleted. Creation events are always kept.
func (s *Store) CompactEvents(ctx context.Context, keepPerIssue int) (int64, error) {
	if keepPerIssue <= 0 {
		keepPerIssue = 20
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE event_type != 'created'
		  AND id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY issue_id ORDER BY id DESC) AS rn
				FROM events
			) WHERE rn <= ?
		  )
	`, keepPerIssue)
	if err != nil {
		return 0, wrapDBError("compact events", err)
	}
	return res.RowsAffected()
}
