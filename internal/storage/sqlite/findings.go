package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

const findingColumns = `id, file_id, scan_source, rule_id, severity, status,
	message, suggestion, line_start, line_end, scan_run_id,
	first_seen, last_seen_at, seen_count, metadata`

func scanFinding(scan func(dest ...any) error) (*types.Finding, error) {
	var f types.Finding
	var metadataJSON string
	if err := scan(&f.ID, &f.FileID, &f.ScanSource, &f.RuleID, &f.Severity,
		&f.Status, &f.Message, &f.Suggestion, &f.LineStart, &f.LineEnd,
		&f.ScanRunID, &f.FirstSeen, &f.LastSeenAt, &f.SeenCount, &metadataJSON); err != nil {
		return nil, err
	}
	metadata, err := unmarshalMap(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", f.ID, err)
	}
	f.Metadata = metadata
	return &f, nil
}

// UpsertFinding inserts a finding or refreshes the row sharing its identity
// tuple (file, source, rule, line_start). A refreshed finding keeps its
// triage status unless it was marked fixed or had rotated out of the latest
// scan; a scanner re-reporting either means it is back, so it reopens.
// Returns created=true for a brand-new row. Each upsert leaves a
// finding_created or finding_updated entry on the file's timeline.
func (s *Store) UpsertFinding(ctx context.Context, finding *types.Finding) (bool, error) {
	now := idgen.Now()
	if finding.FirstSeen.IsZero() {
		finding.FirstSeen = now
	}
	finding.LastSeenAt = now
	if finding.SeenCount == 0 {
		finding.SeenCount = 1
	}
	if finding.Status == "" {
		finding.Status = types.FindingOpen
	}
	metadataJSON, err := marshalMap(finding.Metadata)
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_findings (
			id, file_id, scan_source, rule_id, severity, status,
			message, suggestion, line_start, line_end, scan_run_id,
			first_seen, last_seen_at, seen_count, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id, scan_source, rule_id, COALESCE(line_start, -1))
		DO UPDATE SET
			severity = excluded.severity,
			message = excluded.message,
			suggestion = excluded.suggestion,
			line_end = excluded.line_end,
			scan_run_id = excluded.scan_run_id,
			last_seen_at = excluded.last_seen_at,
			seen_count = scan_findings.seen_count + 1,
			metadata = excluded.metadata,
			status = CASE WHEN scan_findings.status IN ('unseen_in_latest', 'fixed')
			              THEN 'open' ELSE scan_findings.status END
	`,
		finding.ID, finding.FileID, finding.ScanSource, finding.RuleID,
		finding.Severity, finding.Status, finding.Message, finding.Suggestion,
		finding.LineStart, finding.LineEnd, finding.ScanRunID,
		finding.FirstSeen, finding.LastSeenAt, finding.SeenCount, metadataJSON,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("finding for file %s: %w", finding.FileID, ErrNotFound)
		}
		return false, wrapDBError("upsert finding", err)
	}

	// The upsert may have landed on an existing row under a different id;
	// re-read by identity so the caller sees the canonical record.
	row := s.db.QueryRowContext(ctx, `
		SELECT `+findingColumns+` FROM scan_findings
		WHERE file_id = ? AND scan_source = ? AND rule_id = ?
		  AND COALESCE(line_start, -1) = COALESCE(?, -1)
	`, finding.FileID, finding.ScanSource, finding.RuleID, finding.LineStart)
	stored, err := scanFinding(row.Scan)
	if err != nil {
		return false, wrapDBError("read back finding", err)
	}
	created := stored.ID == finding.ID && stored.SeenCount == 1
	*finding = *stored

	eventType := "finding_updated"
	if created {
		eventType = "finding_created"
	}
	detail := fmt.Sprintf("%s/%s: %s", stored.ScanSource, stored.RuleID, stored.Message)
	if err := s.RecordFileEvent(ctx, stored.FileID, eventType, detail); err != nil {
		return created, err
	}
	return created, nil
}

// GetFindings lists a file's findings, active first, newest within status
func (s *Store) GetFindings(ctx context.Context, fileID string) ([]*types.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+findingColumns+` FROM scan_findings
		WHERE file_id = ?
		ORDER BY status IN ('fixed', 'false_positive'), last_seen_at DESC, id
	`, fileID)
	if err != nil {
		return nil, wrapDBError("get findings", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []*types.Finding
	for rows.Next() {
		f, err := scanFinding(rows.Scan)
		if err != nil {
			return nil, wrapDBError("scan finding", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// UpdateFindingStatus moves a finding through triage
func (s *Store) UpdateFindingStatus(ctx context.Context, findingID, status string) (*types.Finding, error) {
	if !types.ValidFindingStatus(status) {
		return nil, fmt.Errorf("invalid finding status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_findings SET status = ? WHERE id = ?`, status, findingID)
	if err != nil {
		return nil, wrapDBErrorf(err, "update finding %s", findingID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("finding %s: %w", findingID, ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+findingColumns+` FROM scan_findings WHERE id = ?`, findingID)
	f, err := scanFinding(row.Scan)
	if err != nil {
		return nil, wrapDBErrorf(err, "get finding %s", findingID)
	}
	return f, nil
}

// MarkStaleFindings flags active findings of scanSource that the given run
// did not report. Terminal findings keep their triage outcome.
func (s *Store) MarkStaleFindings(ctx context.Context, scanSource, scanRunID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_findings
		SET status = 'unseen_in_latest'
		WHERE scan_source = ?
		  AND scan_run_id != ?
		  AND status NOT IN ('fixed', 'false_positive', 'unseen_in_latest')
	`, scanSource, scanRunID)
	if err != nil {
		return 0, wrapDBError("mark stale findings", err)
	}
	return res.RowsAffected()
}

// DeleteUnseenFindingsBefore garbage-collects unseen_in_latest findings whose
// last sighting predates the cutoff.
func (s *Store) DeleteUnseenFindingsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scan_findings
		WHERE status = 'unseen_in_latest' AND last_seen_at < ?
	`, before)
	if err != nil {
		return 0, wrapDBError("delete unseen findings", err)
	}
	return res.RowsAffected()
}
