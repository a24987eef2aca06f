package engine

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/types"
)

// canonicalPath normalizes a file path to project-relative form. Absolute
// paths, paths escaping the project root, and empty paths are rejected.
func canonicalPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", E(CodeInvalidPath, "path is required")
	}
	if strings.HasPrefix(p, "/") || pathHasDrive(p) {
		return "", E(CodeInvalidPath, "path %q must be project-relative, not absolute", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", E(CodeInvalidPath, "path %q escapes the project root", p)
	}
	if clean == "." {
		return "", E(CodeInvalidPath, "path %q does not name a file", p)
	}
	return clean, nil
}

func pathHasDrive(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		(('a' <= p[0] && p[0] <= 'z') || ('A' <= p[0] && p[0] <= 'Z'))
}

// RegisterFile upserts a file record by canonical path. Only actual changes
// touch the row; a no-op call emits no event.
func (e *Engine) RegisterFile(ctx context.Context, filePath, language, fileType string, metadata map[string]any) (*types.FileRecord, error) {
	clean, err := canonicalPath(filePath)
	if err != nil {
		return nil, err
	}

	file := &types.FileRecord{
		ID:       idgen.NewFileID(e.prefix),
		Path:     clean,
		Language: language,
		FileType: fileType,
		Metadata: metadata,
	}
	changed, err := e.store.UpsertFileRecord(ctx, file)
	if err != nil {
		return nil, wrap(err, "register file")
	}
	if changed {
		detail := fmt.Sprintf("path=%s language=%s file_type=%s", clean, language, fileType)
		if err := e.store.RecordFileEvent(ctx, file.ID, types.TimelineFileMetadata, detail); err != nil {
			return nil, wrap(err, "record file event")
		}
	}
	return file, nil
}

// GetFileByPath looks a file up by canonical path
func (e *Engine) GetFileByPath(ctx context.Context, filePath string) (*types.FileRecord, error) {
	clean, err := canonicalPath(filePath)
	if err != nil {
		return nil, err
	}
	file, err := e.store.GetFileByPath(ctx, clean)
	if err != nil {
		return nil, wrap(err, "get file")
	}
	return file, nil
}

// ScanResult summarizes one ingest run
type ScanResult struct {
	ScanRunID string `json:"scan_run_id"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
}

// ProcessScanResults ingests a scanner's findings. Files are registered as
// needed and findings are deduplicated on (file, source, rule, line). Ingest
// never marks anything stale: partial scans are common, so the caller decides
// when a run was complete enough to invoke CleanStaleFindings with its id.
func (e *Engine) ProcessScanResults(ctx context.Context, scanSource string, findings []types.IncomingFinding, actor string) (*ScanResult, error) {
	scanSource = strings.TrimSpace(scanSource)
	if scanSource == "" {
		return nil, E(CodeValidation, "scan_source is required")
	}
	for i, f := range findings {
		if strings.TrimSpace(f.RuleID) == "" {
			return nil, E(CodeValidation, "finding %d: rule_id is required", i)
		}
		if !types.ValidSeverity(f.Severity) {
			return nil, E(CodeValidation, "finding %d: unknown severity %q", i, f.Severity)
		}
		if _, err := canonicalPath(f.Path); err != nil {
			return nil, E(CodeValidation, "finding %d: %v", i, err)
		}
	}

	result := &ScanResult{ScanRunID: uuid.NewString()}
	for _, incoming := range findings {
		// Register only unknown paths; ingest must not clobber language or
		// metadata set by an explicit register_file.
		file, err := e.GetFileByPath(ctx, incoming.Path)
		if err != nil {
			if CodeOf(err) != CodeNotFound {
				return nil, err
			}
			file, err = e.RegisterFile(ctx, incoming.Path, "", "", nil)
			if err != nil {
				return nil, err
			}
		}

		finding := &types.Finding{
			ID:         idgen.NewFindingID(e.prefix),
			FileID:     file.ID,
			ScanSource: scanSource,
			RuleID:     incoming.RuleID,
			Severity:   incoming.Severity,
			Status:     types.FindingOpen,
			Message:    incoming.Message,
			Suggestion: incoming.Suggestion,
			LineStart:  incoming.LineStart,
			LineEnd:    incoming.LineEnd,
			ScanRunID:  result.ScanRunID,
			Metadata:   incoming.Metadata,
		}
		created, err := e.store.UpsertFinding(ctx, finding)
		if err != nil {
			return nil, wrap(err, "upsert finding")
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	return result, nil
}

// CleanStaleFindings marks findings from a source that did not appear in the
// given run as unseen_in_latest
func (e *Engine) CleanStaleFindings(ctx context.Context, scanSource, scanRunID string) (int64, error) {
	if strings.TrimSpace(scanSource) == "" || strings.TrimSpace(scanRunID) == "" {
		return 0, E(CodeValidation, "scan_source and scan_run_id are required")
	}
	n, err := e.store.MarkStaleFindings(ctx, scanSource, scanRunID)
	if err != nil {
		return 0, wrap(err, "mark stale findings")
	}
	return n, nil
}

// unseenGraceDays is how long an unseen_in_latest finding survives before
// garbage collection removes it.
const unseenGraceDays = 7

// CollectUnseenFindings deletes unseen_in_latest findings whose last sighting
// is past the grace period
func (e *Engine) CollectUnseenFindings(ctx context.Context) (int64, error) {
	cutoff := idgen.Now().AddDate(0, 0, -unseenGraceDays)
	n, err := e.store.DeleteUnseenFindingsBefore(ctx, cutoff)
	if err != nil {
		return 0, wrap(err, "collect unseen findings")
	}
	return n, nil
}

// UpdateFindingStatus moves a finding within the closed status set
func (e *Engine) UpdateFindingStatus(ctx context.Context, findingID, status string) (*types.Finding, error) {
	if !types.ValidFindingStatus(status) {
		return nil, E(CodeValidation, "unknown finding status %q", status)
	}
	finding, err := e.store.UpdateFindingStatus(ctx, findingID, status)
	if err != nil {
		return nil, wrap(err, "update finding status")
	}
	return finding, nil
}

// GetFindings lists a file's findings, active first
func (e *Engine) GetFindings(ctx context.Context, fileID string) ([]*types.Finding, error) {
	findings, err := e.store.GetFindings(ctx, fileID)
	if err != nil {
		return nil, wrap(err, "get findings")
	}
	return findings, nil
}

// AddFileAssociation links a file to an issue, idempotent on the full tuple
func (e *Engine) AddFileAssociation(ctx context.Context, fileID, issueID, assocType string) (*types.FileAssociation, bool, error) {
	if !types.ValidAssocType(assocType) {
		return nil, false, E(CodeValidation, "unknown association type %q", assocType)
	}
	assoc := &types.FileAssociation{FileID: fileID, IssueID: issueID, AssocType: assocType}
	created, err := e.store.AddFileAssociation(ctx, assoc)
	if err != nil {
		return nil, false, wrap(err, "add file association")
	}
	return assoc, created, nil
}

// GetFileAssociations lists a file's issue links
func (e *Engine) GetFileAssociations(ctx context.Context, fileID string) ([]*types.FileAssociation, error) {
	assocs, err := e.store.GetFileAssociations(ctx, fileID)
	if err != nil {
		return nil, wrap(err, "get file associations")
	}
	return assocs, nil
}

// GetFileTimeline reads a file's event log newest first, with finding and
// association events normalized to their stream kind. An unknown kind filter
// yields an empty result, not an error.
func (e *Engine) GetFileTimeline(ctx context.Context, fileID, kind string, limit, offset int) ([]*types.TimelineEntry, error) {
	switch kind {
	case "", types.TimelineFinding, types.TimelineAssociation, types.TimelineFileMetadata:
	default:
		return nil, nil
	}
	entries, err := e.store.GetFileTimeline(ctx, fileID, kind, limit, offset)
	if err != nil {
		return nil, wrap(err, "get file timeline")
	}
	return entries, nil
}

// ListFiles pages file summaries with severity counts
func (e *Engine) ListFiles(ctx context.Context, filter types.FileFilter, sort types.FileSort, limit, offset int) ([]*types.FileSummary, *types.Page, error) {
	if filter.HasSeverity != "" && !types.ValidSeverity(filter.HasSeverity) {
		return nil, nil, E(CodeValidation, "unknown severity %q", filter.HasSeverity)
	}
	summaries, page, err := e.store.ListFilesPaginated(ctx, filter, sort, limit, offset)
	if err != nil {
		return nil, nil, wrap(err, "list files")
	}
	return summaries, page, nil
}

// GetFileHotspots ranks files by weighted active-finding count
func (e *Engine) GetFileHotspots(ctx context.Context, limit int) ([]*types.FileSummary, error) {
	hotspots, err := e.store.GetFileHotspots(ctx, limit)
	if err != nil {
		return nil, wrap(err, "file hotspots")
	}
	return hotspots, nil
}
