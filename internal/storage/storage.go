// Package storage defines the interface between the workflow engines and the
// backing store. The only production backend is SQLite (package sqlite); the
// interface exists so engine tests and future backends are not welded to it.
package storage

import (
	"context"
	"time"

	"github.com/filigree-dev/filigree/internal/types"
)

// Transaction exposes the subset of Storage that may run inside one database
// transaction. Batch mutations and plan creation use it for all-or-nothing
// semantics; the callback either commits everything or nothing.
type Transaction interface {
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	UpdateIssue(ctx context.Context, id string, updates map[string]any, events []*types.Event) error
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error)
	AddLabel(ctx context.Context, issueID, label, actor string) error
	RecordEvent(ctx context.Context, ev *types.Event) error
	// Savepoint runs fn inside a nested savepoint. On error the savepoint
	// rolls back and the error is returned, but the enclosing transaction
	// stays open; batch callers use this for per-item failure isolation.
	Savepoint(ctx context.Context, name string, fn func() error) error
}

// Storage is the contract every backend fulfils. All mutating methods wrap
// their work in a transaction; none holds locks across calls.
type Storage interface {
	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error)
	SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error)
	GetStaleIssues(ctx context.Context, filter types.StaleFilter) ([]*types.Issue, error)
	// UpdateIssue applies column updates and appends the given events in one
	// transaction. The engine computes both; storage only validates shape.
	UpdateIssue(ctx context.Context, id string, updates map[string]any, events []*types.Event) error
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Claim protocol. ClaimIssue is a single conditional UPDATE of assignee
	// keyed on status category and current assignee; status never changes.
	// It returns ErrAlreadyClaimed or ErrNotOpen on conflict, diagnosed from
	// a pre-image read. ReleaseClaim clears the assignee and nothing else.
	ClaimIssue(ctx context.Context, id, assignee, actor string) (*types.Issue, error)
	ReleaseClaim(ctx context.Context, id, actor string) (*types.Issue, error)

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) error
	RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) error
	GetDependencies(ctx context.Context, issueID string) ([]*types.Issue, error)
	GetDependents(ctx context.Context, issueID string) ([]*types.Issue, error)
	GetAllDependencyRecords(ctx context.Context) ([]*types.Dependency, error)
	GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error)
	GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error)
	GetNewlyUnblockedByClose(ctx context.Context, closedID string) ([]*types.Issue, error)

	// Labels
	AddLabel(ctx context.Context, issueID, label, actor string) error
	RemoveLabel(ctx context.Context, issueID, label, actor string) error
	GetLabels(ctx context.Context, issueID string) ([]string, error)

	// Comments
	AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error)
	GetComments(ctx context.Context, issueID string) ([]*types.Comment, error)
	// DeleteComment exists for undo; comments are otherwise append-only.
	DeleteComment(ctx context.Context, commentID int64) error

	// Events
	RecordEvent(ctx context.Context, ev *types.Event) error
	GetIssueEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error)
	GetEventsSince(ctx context.Context, since time.Time, limit int) ([]*types.Event, error)
	GetRecentEvents(ctx context.Context, limit int) ([]*types.Event, error)
	CompactEvents(ctx context.Context, keepPerIssue int) (int64, error)

	// Files and findings
	UpsertFileRecord(ctx context.Context, file *types.FileRecord) (changed bool, err error)
	GetFile(ctx context.Context, fileID string) (*types.FileRecord, error)
	GetFileByPath(ctx context.Context, path string) (*types.FileRecord, error)
	UpsertFinding(ctx context.Context, finding *types.Finding) (created bool, err error)
	GetFindings(ctx context.Context, fileID string) ([]*types.Finding, error)
	UpdateFindingStatus(ctx context.Context, findingID, status string) (*types.Finding, error)
	MarkStaleFindings(ctx context.Context, scanSource, scanRunID string) (int64, error)
	DeleteUnseenFindingsBefore(ctx context.Context, before time.Time) (int64, error)
	AddFileAssociation(ctx context.Context, assoc *types.FileAssociation) (created bool, err error)
	GetFileAssociations(ctx context.Context, fileID string) ([]*types.FileAssociation, error)
	RecordFileEvent(ctx context.Context, fileID, eventType, detail string) error
	// GetFileTimeline reads the file's event log newest first, normalizing
	// finding and association events to their stream kind. A non-empty kind
	// restricts to that stream.
	GetFileTimeline(ctx context.Context, fileID, kind string, limit, offset int) ([]*types.TimelineEntry, error)
	ListFilesPaginated(ctx context.Context, filter types.FileFilter, sort types.FileSort, limit, offset int) ([]*types.FileSummary, *types.Page, error)
	GetFileHotspots(ctx context.Context, limit int) ([]*types.FileSummary, error)

	// Archive
	ArchiveClosed(ctx context.Context, before time.Time, actor string) ([]*types.ArchiveBundle, error)

	// Project-scoped key/value state (import hashes, scan bookkeeping)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
	Path() string
}
