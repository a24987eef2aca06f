package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

const issueColumns = `id, title, description, notes, status, status_category,
	priority, issue_type, parent_id, assignee, fields,
	created_at, updated_at, closed_at`

// scanIssue reads one issues row from a scannable source
func scanIssue(scan func(dest ...any) error) (*types.Issue, error) {
	var issue types.Issue
	var parentID sql.NullString
	var fieldsJSON string
	var closedAt sql.NullTime
	var category string

	err := scan(
		&issue.ID, &issue.Title, &issue.Description, &issue.Notes,
		&issue.Status, &category, &issue.Priority, &issue.IssueType,
		&parentID, &issue.Assignee, &fieldsJSON,
		&issue.CreatedAt, &issue.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	issue.Category = types.Category(category)
	if parentID.Valid {
		issue.ParentID = parentID.String
	}
	if closedAt.Valid {
		t := closedAt.Time
		issue.ClosedAt = &t
	}
	fields, err := unmarshalMap(fieldsJSON)
	if err != nil {
		return nil, fmt.Errorf("issue %s: %w", issue.ID, err)
	}
	issue.Fields = fields
	return &issue, nil
}

// createIssue inserts an issue and its creation event. A primary-key clash
// surfaces as ErrConflict so the caller can re-mint a longer id.
func createIssue(ctx context.Context, q querier, issue *types.Issue, actor string) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := idgen.Now()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = issue.CreatedAt

	fieldsJSON, err := marshalMap(issue.Fields)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO issues (
			id, title, description, notes, status, status_category,
			priority, issue_type, parent_id, assignee, fields,
			created_at, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		issue.ID, issue.Title, issue.Description, issue.Notes,
		issue.Status, string(issue.Category), issue.Priority, issue.IssueType,
		nullable(issue.ParentID), issue.Assignee, fieldsJSON,
		issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("issue id %s: %w", issue.ID, ErrConflict)
		}
		return wrapDBError("insert issue", err)
	}

	return recordEvent(ctx, q, &types.Event{
		IssueID:   issue.ID,
		EventType: types.EventCreated,
		Actor:     actor,
		NewValue:  &issue.Title,
		CreatedAt: issue.CreatedAt,
	})
}

// getIssue fetches one issue with its labels
func getIssue(ctx context.Context, q querier, id string) (*types.Issue, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := scanIssue(row.Scan)
	if err != nil {
		return nil, wrapDBErrorf(err, "get issue %s", id)
	}

	labels, err := getLabels(ctx, q, id)
	if err != nil {
		return nil, err
	}
	issue.Labels = labels
	return issue, nil
}

// allowedUpdateFields whitelists column names updateIssue will interpolate
var allowedUpdateFields = map[string]bool{
	"title":           true,
	"description":     true,
	"notes":           true,
	"status":          true,
	"status_category": true,
	"priority":        true,
	"assignee":        true,
	"parent_id":       true,
	"fields":          true,
	"closed_at":       true,
}

// updateIssue applies column updates and appends events in the same
// transaction scope. The caller computed both against the pre-image, so a
// lost update cannot slip an inconsistent event stream past us.
func updateIssue(ctx context.Context, q querier, id string, updates map[string]any, events []*types.Event) error {
	if len(updates) == 0 && len(events) == 0 {
		return nil
	}

	setClauses := []string{"updated_at = ?"}
	args := []any{idgen.Now()}
	for key, value := range updates {
		if !allowedUpdateFields[key] {
			return fmt.Errorf("invalid field for update: %s", key)
		}
		switch key {
		case "fields":
			m, ok := value.(map[string]any)
			if !ok && value != nil {
				return fmt.Errorf("fields update must be a map, got %T", value)
			}
			encoded, err := marshalMap(m)
			if err != nil {
				return err
			}
			value = encoded
		case "parent_id":
			if s, ok := value.(string); ok {
				value = nullable(s)
			}
		}
		setClauses = append(setClauses, key+" = ?")
		args = append(args, value)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE issues SET %s WHERE id = ?", strings.Join(setClauses, ", ")) // #nosec G201 - column names validated above
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBErrorf(err, "update issue %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update issue %s: %w", id, ErrNotFound)
	}

	for _, ev := range events {
		if ev.IssueID == "" {
			ev.IssueID = id
		}
		if err := recordEvent(ctx, q, ev); err != nil {
			return err
		}
	}
	return nil
}

// CreateIssue inserts an issue and its creation event in one transaction
func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.CreateIssue(ctx, issue, actor)
	})
}

// GetIssue retrieves an issue by ID
func (s *Store) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	return getIssue(ctx, s.db, id)
}

// UpdateIssue applies engine-computed column updates and events atomically
func (s *Store) UpdateIssue(ctx context.Context, id string, updates map[string]any, events []*types.Event) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.UpdateIssue(ctx, id, updates, events)
	})
}

// ListIssues returns issues matching the filter, newest first
func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		conds = append(conds, "status_category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.IssueType != "" {
		conds = append(conds, "issue_type = ?")
		args = append(args, filter.IssueType)
	}
	if filter.Assignee != nil {
		conds = append(conds, "assignee = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.Priority != nil {
		conds = append(conds, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, filter.ParentID)
	}
	if filter.Label != "" {
		conds = append(conds, "id IN (SELECT issue_id FROM labels WHERE label = ?)")
		args = append(args, filter.Label)
	}

	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	return s.queryIssues(ctx, query, args...)
}

// SearchIssues runs a full-text query over titles, descriptions and notes,
// then applies the same structured filter as ListIssues.
func (s *Store) SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error) {
	conds := []string{"i.rowid IN (SELECT rowid FROM issues_fts WHERE issues_fts MATCH ?)"}
	args := []any{ftsQuote(query)}

	if filter.Status != "" {
		conds = append(conds, "i.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		conds = append(conds, "i.status_category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.IssueType != "" {
		conds = append(conds, "i.issue_type = ?")
		args = append(args, filter.IssueType)
	}
	if filter.Assignee != nil {
		conds = append(conds, "i.assignee = ?")
		args = append(args, *filter.Assignee)
	}

	q := `SELECT ` + prefixColumns("i") + `
		FROM issues i WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY i.updated_at DESC`
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryIssues(ctx, q, args...)
}

// ftsQuote wraps each term in double quotes so user input with FTS5 operator
// characters (-, *, NEAR) is treated literally.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

// GetStaleIssues returns non-done issues without recent updates
func (s *Store) GetStaleIssues(ctx context.Context, filter types.StaleFilter) ([]*types.Issue, error) {
	days := filter.Days
	if days <= 0 {
		days = 30
	}
	cutoff := idgen.Now().Add(-time.Duration(days) * 24 * time.Hour)

	conds := []string{"status_category != 'done'", "updated_at < ?"}
	args := []any{cutoff}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + issueColumns + ` FROM issues WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY updated_at ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryIssues(ctx, query, args...)
}

// GetStatistics summarizes the project in one round of queries
func (s *Store) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{
		ByCategory: make(map[string]int),
		ByType:     make(map[string]int),
		ByPriority: make(map[int]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status_category, issue_type, priority, COUNT(*)
		FROM issues
		GROUP BY status_category, issue_type, priority
	`)
	if err != nil {
		return nil, wrapDBError("get statistics", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var category, issueType string
		var priority, count int
		if err := rows.Scan(&category, &issueType, &priority, &count); err != nil {
			return nil, wrapDBError("scan statistics", err)
		}
		stats.Total += count
		stats.ByCategory[category] += count
		stats.ByType[issueType] += count
		stats.ByPriority[priority] += count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("read statistics", err)
	}

	ready, err := s.GetReadyWork(ctx, types.WorkFilter{})
	if err != nil {
		return nil, err
	}
	stats.Ready = len(ready)

	blocked, err := s.GetBlockedIssues(ctx)
	if err != nil {
		return nil, err
	}
	stats.Blocked = len(blocked)

	return stats, nil
}

// queryIssues runs a SELECT over issueColumns and scans the result set
func (s *Store) queryIssues(ctx context.Context, query string, args ...any) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query issues", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, wrapDBError("scan issue", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("read issues", err)
	}

	if err := s.attachLabels(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}
