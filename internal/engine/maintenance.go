package engine

import (
	"context"
	"time"

	"github.com/filigree-dev/filigree/internal/types"
)

// ArchiveClosed exports and removes issues closed before the cutoff, with all
// their comments, labels, events, dependencies, and file associations. The
// returned bundles are everything the caller needs to write an export file.
func (e *Engine) ArchiveClosed(ctx context.Context, before time.Time, actor string) ([]*types.ArchiveBundle, error) {
	if before.IsZero() {
		return nil, E(CodeValidation, "cutoff time is required")
	}
	bundles, err := e.store.ArchiveClosed(ctx, before, actor)
	if err != nil {
		return nil, wrap(err, "archive closed")
	}
	return bundles, nil
}

// CompactEvents trims per-issue history to the newest N rows
func (e *Engine) CompactEvents(ctx context.Context, keepPerIssue int) (int64, error) {
	n, err := e.store.CompactEvents(ctx, keepPerIssue)
	if err != nil {
		return 0, wrap(err, "compact events")
	}
	return n, nil
}

// GetRecentEvents returns the newest events across all issues
func (e *Engine) GetRecentEvents(ctx context.Context, limit int) ([]*types.Event, error) {
	events, err := e.store.GetRecentEvents(ctx, limit)
	if err != nil {
		return nil, wrap(err, "recent events")
	}
	return events, nil
}
