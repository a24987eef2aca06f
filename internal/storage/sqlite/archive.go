package sqlite

import (
	"context"
	"time"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// ArchiveClosed exports every done-category issue closed before the cutoff,
// then deletes it and its dependent rows. The export and the delete run in
// one transaction: either the caller gets every bundle and the rows are gone,
// or nothing changes.
func (s *Store) ArchiveClosed(ctx context.Context, before time.Time, actor string) ([]*types.ArchiveBundle, error) {
	var bundles []*types.ArchiveBundle

	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		t := tx.(*txStorage)

		rows, err := t.conn.QueryContext(ctx, `
			SELECT `+issueColumns+` FROM issues
			WHERE status_category = 'done' AND closed_at < ?
			ORDER BY closed_at ASC
		`, before)
		if err != nil {
			return wrapDBError("select archivable issues", err)
		}
		var issues []*types.Issue
		for rows.Next() {
			issue, err := scanIssue(rows.Scan)
			if err != nil {
				_ = rows.Close()
				return wrapDBError("scan archivable issue", err)
			}
			issues = append(issues, issue)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return wrapDBError("read archivable issues", err)
		}
		if err := rows.Close(); err != nil {
			return wrapDBError("close archivable rows", err)
		}

		for _, issue := range issues {
			bundle := &types.ArchiveBundle{Issue: issue}

			if bundle.Labels, err = getLabels(ctx, t.conn, issue.ID); err != nil {
				return err
			}
			issue.Labels = bundle.Labels

			if bundle.Comments, err = queryCommentsConn(ctx, t.conn, issue.ID); err != nil {
				return err
			}
			if bundle.Events, err = queryEventsConn(ctx, t.conn, issue.ID); err != nil {
				return err
			}
			if bundle.Dependencies, err = queryDepsConn(ctx, t.conn, issue.ID); err != nil {
				return err
			}
			if bundle.Associations, err = queryAssocsConn(ctx, t.conn, issue.ID); err != nil {
				return err
			}
			bundles = append(bundles, bundle)
		}

		// Delete in dependency order; foreign keys cascade labels, comments
		// and associations, but events carry no FK and need explicit cleanup.
		now := idgen.Now()
		for _, issue := range issues {
			if _, err := t.conn.ExecContext(ctx,
				`DELETE FROM events WHERE issue_id = ?`, issue.ID); err != nil {
				return wrapDBErrorf(err, "delete events for %s", issue.ID)
			}
			if _, err := t.conn.ExecContext(ctx,
				`DELETE FROM dependencies WHERE issue_id = ? OR depends_on_id = ?`,
				issue.ID, issue.ID); err != nil {
				return wrapDBErrorf(err, "delete dependencies for %s", issue.ID)
			}
			if _, err := t.conn.ExecContext(ctx,
				`DELETE FROM issues WHERE id = ?`, issue.ID); err != nil {
				return wrapDBErrorf(err, "delete issue %s", issue.ID)
			}
			if err := recordEvent(ctx, t.conn, &types.Event{
				IssueID:   issue.ID,
				EventType: types.EventArchived,
				Actor:     actor,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundles, nil
}

func queryCommentsConn(ctx context.Context, q querier, issueID string) ([]*types.Comment, error) {
	rows, err := q.QueryContext(ctx, `
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

func queryEventsConn(ctx context.Context, q querier, issueID string) ([]*types.Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE issue_id = ? ORDER BY id`, issueID)
	if err != nil {
		return nil, wrapDBError("get events", err)
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

func queryDepsConn(ctx context.Context, q querier, issueID string) ([]*types.Dependency, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by
		FROM dependencies WHERE issue_id = ? OR depends_on_id = ?
	`, issueID, issueID)
	if err != nil {
		return nil, wrapDBError("get dependencies", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []*types.Dependency
	for rows.Next() {
		var d types.Dependency
		if err := rows.Scan(&d.IssueID, &d.DependsOnID, &d.Type, &d.CreatedAt, &d.CreatedBy); err != nil {
			return nil, wrapDBError("scan dependency", err)
		}
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}

func queryAssocsConn(ctx context.Context, q querier, issueID string) ([]*types.FileAssociation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, file_id, issue_id, assoc_type, created_at
		FROM file_associations WHERE issue_id = ? ORDER BY id
	`, issueID)
	if err != nil {
		return nil, wrapDBError("get associations", err)
	}
	defer func() { _ = rows.Close() }()

	var assocs []*types.FileAssociation
	for rows.Next() {
		var a types.FileAssociation
		if err := rows.Scan(&a.ID, &a.FileID, &a.IssueID, &a.AssocType, &a.CreatedAt); err != nil {
			return nil, wrapDBError("scan association", err)
		}
		assocs = append(assocs, &a)
	}
	return assocs, rows.Err()
}
