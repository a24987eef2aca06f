package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// addDependency inserts a blocking edge after proving it closes no cycle.
// The reachability walk and the insert run under the same write lock, so a
// concurrent insert cannot sneak a cycle in between.
func addDependency(ctx context.Context, q querier, dep *types.Dependency, actor string) error {
	if dep.IssueID == dep.DependsOnID {
		return fmt.Errorf("issue %s cannot depend on itself: %w", dep.IssueID, ErrCycle)
	}
	if dep.Type == "" {
		dep.Type = types.DepBlocks
	}

	for _, id := range []string{dep.IssueID, dep.DependsOnID} {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM issues WHERE id = ?)`, id).Scan(&exists); err != nil {
			return wrapDBErrorf(err, "check issue %s", id)
		}
		if !exists {
			return fmt.Errorf("issue %s: %w", id, ErrNotFound)
		}
	}

	// Cycle iff the new blocker can already reach the blocked issue.
	var cycleExists bool
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE paths AS (
			SELECT issue_id, depends_on_id, 1 AS depth
			FROM dependencies
			WHERE issue_id = ?

			UNION ALL

			SELECT d.issue_id, d.depends_on_id, p.depth + 1
			FROM dependencies d
			JOIN paths p ON d.issue_id = p.depends_on_id
			WHERE p.depth < 100
		)
		SELECT EXISTS(SELECT 1 FROM paths WHERE depends_on_id = ?)
	`, dep.DependsOnID, dep.IssueID).Scan(&cycleExists)
	if err != nil {
		return wrapDBError("check for cycles", err)
	}
	if cycleExists {
		return fmt.Errorf("%s -> %s: %w", dep.IssueID, dep.DependsOnID, ErrCycle)
	}

	now := idgen.Now()
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = now
	}
	if dep.CreatedBy == "" {
		dep.CreatedBy = actor
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO dependencies (issue_id, depends_on_id, type, created_at, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, dep.IssueID, dep.DependsOnID, dep.Type, dep.CreatedAt, dep.CreatedBy); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("dependency %s -> %s already exists: %w", dep.IssueID, dep.DependsOnID, ErrConflict)
		}
		return wrapDBError("add dependency", err)
	}

	detail := dep.DependsOnID
	return recordEvent(ctx, q, &types.Event{
		IssueID:   dep.IssueID,
		EventType: types.EventDependencyAdded,
		Actor:     actor,
		NewValue:  &detail,
		CreatedAt: now,
	})
}

// AddDependency inserts a blocking edge with cycle detection
func (s *Store) AddDependency(ctx context.Context, dep *types.Dependency, actor string) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.AddDependency(ctx, dep, actor)
	})
}

// RemoveDependency deletes a blocking edge. Removing an absent edge is a
// no-op: the caller wanted the edge gone, and it is.
func (s *Store) RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		t := tx.(*txStorage)
		res, err := t.conn.ExecContext(ctx,
			`DELETE FROM dependencies WHERE issue_id = ? AND depends_on_id = ?`,
			issueID, dependsOnID)
		if err != nil {
			return wrapDBError("remove dependency", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		detail := dependsOnID
		return recordEvent(ctx, t.conn, &types.Event{
			IssueID:   issueID,
			EventType: types.EventDependencyRemoved,
			Actor:     actor,
			OldValue:  &detail,
			CreatedAt: idgen.Now(),
		})
	})
}

// GetDependencies returns the issues that block issueID
func (s *Store) GetDependencies(ctx context.Context, issueID string) ([]*types.Issue, error) {
	return s.queryIssues(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE id IN (SELECT depends_on_id FROM dependencies WHERE issue_id = ?)
		ORDER BY id
	`, issueID)
}

// GetDependents returns the issues blocked by issueID
func (s *Store) GetDependents(ctx context.Context, issueID string) ([]*types.Issue, error) {
	return s.queryIssues(ctx, `
		SELECT `+issueColumns+` FROM issues
		WHERE id IN (SELECT issue_id FROM dependencies WHERE depends_on_id = ?)
		ORDER BY id
	`, issueID)
}

// GetAllDependencyRecords returns every edge, for in-memory graph work
// (critical path) where per-edge queries would be quadratic.
func (s *Store) GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by
		FROM dependencies
	`)
	if err != nil {
		return nil, wrapDBError("get dependency records", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []*types.Dependency
	for rows.Next() {
		var d types.Dependency
		if err := rows.Scan(&d.IssueID, &d.DependsOnID, &d.Type, &d.CreatedAt, &d.CreatedBy); err != nil {
			return nil, wrapDBError("scan dependency record", err)
		}
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}

// GetReadyWork returns open-category issues whose blockers are all done.
// Readiness is always computed from the live graph, never cached.
func (s *Store) GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error) {
	conds := []string{
		"i.status_category = 'open'",
		`NOT EXISTS (
			SELECT 1 FROM dependencies d
			JOIN issues b ON b.id = d.depends_on_id
			WHERE d.issue_id = i.id AND b.status_category != 'done'
		)`,
	}
	var args []any

	// No assignee filter by default: an assigned but still-open issue is
	// ready work. Claim-driven callers opt in via filter.Assignee.
	if filter.Assignee != nil {
		conds = append(conds, "(i.assignee = '' OR i.assignee = ?)")
		args = append(args, *filter.Assignee)
	}
	if filter.IssueType != "" {
		conds = append(conds, "i.issue_type = ?")
		args = append(args, filter.IssueType)
	}
	if filter.PriorityMin != nil {
		conds = append(conds, "i.priority >= ?")
		args = append(args, *filter.PriorityMin)
	}
	if filter.PriorityMax != nil {
		conds = append(conds, "i.priority <= ?")
		args = append(args, *filter.PriorityMax)
	}

	query := `SELECT ` + prefixColumns("i") + ` FROM issues i
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY i.priority ASC, i.created_at ASC, i.id`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryIssues(ctx, query, args...)
}

// GetBlockedIssues returns open-category issues with at least one non-done
// blocker. Working and done issues are past the point where blockers gate them.
func (s *Store) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("i")+`,
		       GROUP_CONCAT(b.id) AS blockers
		FROM issues i
		JOIN dependencies d ON d.issue_id = i.id
		JOIN issues b ON b.id = d.depends_on_id AND b.status_category != 'done'
		WHERE i.status_category = 'open'
		GROUP BY i.id
		ORDER BY i.priority ASC, i.created_at ASC
	`)
	if err != nil {
		return nil, wrapDBError("get blocked issues", err)
	}
	defer func() { _ = rows.Close() }()

	var blocked []*types.BlockedIssue
	for rows.Next() {
		var blockers string
		issue, err := scanIssueExtra(rows.Scan, &blockers)
		if err != nil {
			return nil, wrapDBError("scan blocked issue", err)
		}
		ids := strings.Split(blockers, ",")
		blocked = append(blocked, &types.BlockedIssue{
			Issue:          *issue,
			BlockedBy:      ids,
			BlockedByCount: len(ids),
		})
	}
	return blocked, rows.Err()
}

// GetNewlyUnblockedByClose returns open-category dependents of closedID that
// have no remaining non-done blockers. Called right after a close so the
// caller can surface unblocked work to agents.
func (s *Store) GetNewlyUnblockedByClose(ctx context.Context, closedID string) ([]*types.Issue, error) {
	return s.queryIssues(ctx, `
		SELECT `+prefixColumns("i")+` FROM issues i
		WHERE i.status_category = 'open'
		  AND i.id IN (SELECT issue_id FROM dependencies WHERE depends_on_id = ?)
		  AND NOT EXISTS (
			SELECT 1 FROM dependencies d
			JOIN issues b ON b.id = d.depends_on_id
			WHERE d.issue_id = i.id AND b.status_category != 'done'
		  )
		ORDER BY i.priority ASC, i.created_at ASC
	`, closedID)
}

// prefixColumns qualifies issueColumns with a table alias for joined queries
func prefixColumns(alias string) string {
	cols := strings.Split(issueColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanIssueExtra scans an issues row followed by extra trailing columns
func scanIssueExtra(scan func(dest ...any) error, extra ...any) (*types.Issue, error) {
	return scanIssue(func(dest ...any) error {
		return scan(append(dest, extra...)...)
	})
}
