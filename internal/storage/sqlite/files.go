package sqlite

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

const fileColumns = `id, path, language, file_type, first_seen, updated_at, metadata`

func scanFile(scan func(dest ...any) error) (*types.FileRecord, error) {
	var f types.FileRecord
	var metadataJSON string
	if err := scan(&f.ID, &f.Path, &f.Language, &f.FileType,
		&f.FirstSeen, &f.UpdatedAt, &metadataJSON); err != nil {
		return nil, err
	}
	metadata, err := unmarshalMap(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", f.ID, err)
	}
	f.Metadata = metadata
	return &f, nil
}

// UpsertFileRecord registers a file by path or refreshes its metadata.
// Returns changed=false when the stored record is semantically identical, so
// re-registration is a cheap no-op. Equality is over parsed metadata, not the
// serialized JSON: key order and whitespace do not count as changes.
func (s *Store) UpsertFileRecord(ctx context.Context, file *types.FileRecord) (bool, error) {
	existing, err := s.GetFileByPath(ctx, file.Path)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
		existing = nil
	}

	now := idgen.Now()
	if existing == nil {
		if file.ID == "" {
			return false, fmt.Errorf("file record for %s has no id", file.Path)
		}
		file.FirstSeen = now
		file.UpdatedAt = now
		metadataJSON, err := marshalMap(file.Metadata)
		if err != nil {
			return false, err
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO files (id, path, language, file_type, first_seen, updated_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, file.ID, file.Path, file.Language, file.FileType, file.FirstSeen, file.UpdatedAt, metadataJSON); err != nil {
			if isUniqueViolation(err) {
				return false, fmt.Errorf("file path %s: %w", file.Path, ErrConflict)
			}
			return false, wrapDBError("insert file", err)
		}
		return true, nil
	}

	file.ID = existing.ID
	file.FirstSeen = existing.FirstSeen
	if existing.Language == file.Language &&
		existing.FileType == file.FileType &&
		reflect.DeepEqual(existing.Metadata, file.Metadata) {
		file.UpdatedAt = existing.UpdatedAt
		return false, nil
	}

	metadataJSON, err := marshalMap(file.Metadata)
	if err != nil {
		return false, err
	}
	file.UpdatedAt = now
	if _, err := s.db.ExecContext(ctx, `
		UPDATE files SET language = ?, file_type = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, file.Language, file.FileType, metadataJSON, file.UpdatedAt, file.ID); err != nil {
		return false, wrapDBError("update file", err)
	}
	return true, nil
}

// GetFile fetches a file record by id
func (s *Store) GetFile(ctx context.Context, fileID string) (*types.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, fileID)
	f, err := scanFile(row.Scan)
	if err != nil {
		return nil, wrapDBErrorf(err, "get file %s", fileID)
	}
	return f, nil
}

// GetFileByPath fetches a file record by canonical path
func (s *Store) GetFileByPath(ctx context.Context, path string) (*types.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	f, err := scanFile(row.Scan)
	if err != nil {
		return nil, wrapDBErrorf(err, "get file by path %s", path)
	}
	return f, nil
}

// AddFileAssociation links a file to an issue. The insert is idempotent on
// the full (file, issue, type) tuple; created=false means it already existed.
func (s *Store) AddFileAssociation(ctx context.Context, assoc *types.FileAssociation) (bool, error) {
	if assoc.CreatedAt.IsZero() {
		assoc.CreatedAt = idgen.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO file_associations (file_id, issue_id, assoc_type, created_at)
		VALUES (?, ?, ?, ?)
	`, assoc.FileID, assoc.IssueID, assoc.AssocType, assoc.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("association %s -> %s: %w", assoc.FileID, assoc.IssueID, ErrNotFound)
		}
		return false, wrapDBError("add file association", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		assoc.ID = id
	}
	if err := s.RecordFileEvent(ctx, assoc.FileID, "association_created",
		assoc.AssocType+" "+assoc.IssueID); err != nil {
		return true, err
	}
	return true, nil
}

// GetFileAssociations lists a file's issue links
func (s *Store) GetFileAssociations(ctx context.Context, fileID string) ([]*types.FileAssociation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, issue_id, assoc_type, created_at
		FROM file_associations WHERE file_id = ? ORDER BY id
	`, fileID)
	if err != nil {
		return nil, wrapDBError("get file associations", err)
	}
	defer func() { _ = rows.Close() }()

	var assocs []*types.FileAssociation
	for rows.Next() {
		var a types.FileAssociation
		if err := rows.Scan(&a.ID, &a.FileID, &a.IssueID, &a.AssocType, &a.CreatedAt); err != nil {
			return nil, wrapDBError("scan file association", err)
		}
		assocs = append(assocs, &a)
	}
	return assocs, rows.Err()
}

// RecordFileEvent appends a metadata-change record for a file
func (s *Store) RecordFileEvent(ctx context.Context, fileID, eventType, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_events (file_id, event_type, detail, created_at)
		VALUES (?, ?, ?, ?)
	`, fileID, eventType, detail, idgen.Now())
	return wrapDBError("record file event", err)
}

// GetFileTimeline reads the file's event log newest first. Finding and
// association events collapse to their stream kind so callers can filter on
// 'finding' or 'association' without knowing the underlying event names.
func (s *Store) GetFileTimeline(ctx context.Context, fileID, kind string, limit, offset int) ([]*types.TimelineEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT kind, detail, created_at FROM (
			SELECT CASE
			         WHEN event_type IN ('finding_created', 'finding_updated') THEN 'finding'
			         WHEN event_type = 'association_created' THEN 'association'
			         ELSE event_type
			       END AS kind,
			       detail, created_at
			FROM file_events WHERE file_id = ?
		)`
	args := []any{fileID}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get file timeline", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.TimelineEntry
	for rows.Next() {
		var e types.TimelineEntry
		if err := rows.Scan(&e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, wrapDBError("scan timeline entry", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ListFilesPaginated returns file summaries matching the filter, with active
// finding counts and a total for paging.
func (s *Store) ListFilesPaginated(ctx context.Context, filter types.FileFilter, sort types.FileSort, limit, offset int) ([]*types.FileSummary, *types.Page, error) {
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []any
	if filter.Language != "" {
		conds = append(conds, "f.language = ?")
		args = append(args, filter.Language)
	}
	if filter.PathPrefix != "" {
		conds = append(conds, "f.path LIKE ? ESCAPE '\\'")
		args = append(args, likePrefix(filter.PathPrefix))
	}
	if filter.HasSeverity != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM scan_findings sf WHERE sf.file_id = f.id
			  AND sf.severity = ? AND sf.status NOT IN ('fixed', 'false_positive')
		)`)
		args = append(args, filter.HasSeverity)
	}
	if filter.ScanSource != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM scan_findings sf WHERE sf.file_id = f.id AND sf.scan_source = ?
		)`)
		args = append(args, filter.ScanSource)
	}
	if filter.MinFindings > 0 {
		conds = append(conds, `(
			SELECT COUNT(*) FROM scan_findings sf WHERE sf.file_id = f.id
			  AND sf.status NOT IN ('fixed', 'false_positive')
		) >= ?`)
		args = append(args, filter.MinFindings)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files f`+where, args...).Scan(&total); err != nil {
		return nil, nil, wrapDBError("count files", err)
	}

	orderBy := "f.path ASC"
	dir := "ASC"
	if strings.EqualFold(sort.Direction, "desc") {
		dir = "DESC"
	}
	switch sort.Field {
	case "updated_at":
		orderBy = "f.updated_at " + dir
	case "findings":
		orderBy = "weight " + dir + ", f.path ASC"
	case "", "path":
		orderBy = "f.path " + dir
	}

	query := `
		SELECT ` + prefixedFileColumns() + `,
		       COALESCE(SUM(CASE WHEN sf.severity = 'critical' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sf.severity = 'high' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sf.severity = 'medium' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sf.severity = 'low' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sf.severity = 'info' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sf.severity = 'critical' THEN 4
		                         WHEN sf.severity = 'high' THEN 3
		                         WHEN sf.severity = 'medium' THEN 2
		                         WHEN sf.severity = 'low' THEN 1 ELSE 0 END), 0) AS weight,
		       (SELECT COUNT(*) FROM file_associations fa WHERE fa.file_id = f.id)
		FROM files f
		LEFT JOIN scan_findings sf ON sf.file_id = f.id
		     AND sf.status NOT IN ('fixed', 'false_positive')
		` + where + `
		GROUP BY f.id
		ORDER BY ` + orderBy + `
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	summaries, err := s.queryFileSummaries(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	return summaries, &types.Page{Limit: limit, Offset: offset, Total: total}, nil
}

// GetFileHotspots ranks files by severity-weighted active finding count
func (s *Store) GetFileHotspots(ctx context.Context, limit int) ([]*types.FileSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryFileSummaries(ctx, `
		SELECT `+prefixedFileColumns()+`,
		       SUM(CASE WHEN sf.severity = 'critical' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN sf.severity = 'high' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN sf.severity = 'medium' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN sf.severity = 'low' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN sf.severity = 'info' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN sf.severity = 'critical' THEN 4
		                WHEN sf.severity = 'high' THEN 3
		                WHEN sf.severity = 'medium' THEN 2
		                WHEN sf.severity = 'low' THEN 1 ELSE 0 END) AS weight,
		       (SELECT COUNT(*) FROM file_associations fa WHERE fa.file_id = f.id)
		FROM files f
		JOIN scan_findings sf ON sf.file_id = f.id
		     AND sf.status NOT IN ('fixed', 'false_positive')
		GROUP BY f.id
		HAVING weight > 0
		ORDER BY weight DESC, f.path ASC
		LIMIT ?
	`, limit)
}

func (s *Store) queryFileSummaries(ctx context.Context, query string, args ...any) ([]*types.FileSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query file summaries", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*types.FileSummary
	for rows.Next() {
		var sum types.FileSummary
		var metadataJSON string
		var weight int
		if err := rows.Scan(
			&sum.File.ID, &sum.File.Path, &sum.File.Language, &sum.File.FileType,
			&sum.File.FirstSeen, &sum.File.UpdatedAt, &metadataJSON,
			&sum.Findings.Critical, &sum.Findings.High, &sum.Findings.Medium,
			&sum.Findings.Low, &sum.Findings.Info, &weight,
			&sum.AssociationsCount,
		); err != nil {
			return nil, wrapDBError("scan file summary", err)
		}
		metadata, err := unmarshalMap(metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", sum.File.ID, err)
		}
		sum.File.Metadata = metadata
		sum.Findings.Total = sum.Findings.Critical + sum.Findings.High +
			sum.Findings.Medium + sum.Findings.Low + sum.Findings.Info
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

func prefixedFileColumns() string {
	cols := strings.Split(fileColumns, ",")
	for i, c := range cols {
		cols[i] = "f." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// likePrefix escapes LIKE metacharacters and appends the wildcard
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
