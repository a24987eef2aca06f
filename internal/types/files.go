package types

import "time"

// FileRecord tracks a repository file by canonical project-relative path
type FileRecord struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Language  string         `json:"language,omitempty"`
	FileType  string         `json:"file_type,omitempty"`
	FirstSeen time.Time      `json:"first_seen"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Finding severity levels
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// ValidSeverity checks membership in the closed severity set
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Finding status values
const (
	FindingOpen          = "open"
	FindingAcknowledged  = "acknowledged"
	FindingUnseen        = "unseen_in_latest"
	FindingFixed         = "fixed"
	FindingFalsePositive = "false_positive"
)

// ValidFindingStatus checks membership in the closed finding-status set
func ValidFindingStatus(s string) bool {
	switch s {
	case FindingOpen, FindingAcknowledged, FindingUnseen, FindingFixed, FindingFalsePositive:
		return true
	}
	return false
}

// TerminalFindingStatus reports whether a finding status is terminal.
// Non-terminal ("active") findings count toward file summaries and hotspots.
func TerminalFindingStatus(s string) bool {
	return s == FindingFixed || s == FindingFalsePositive
}

// Finding is a defect discovered in a file by a scan source.
// At most one finding exists per (file_id, scan_source, rule_id, line_start);
// re-ingesting the same tuple updates the row in place.
type Finding struct {
	ID         string         `json:"id"`
	FileID     string         `json:"file_id"`
	ScanSource string         `json:"scan_source"`
	RuleID     string         `json:"rule_id"`
	Severity   string         `json:"severity"`
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	LineStart  *int           `json:"line_start,omitempty"`
	LineEnd    *int           `json:"line_end,omitempty"`
	ScanRunID  string         `json:"scan_run_id,omitempty"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeenAt time.Time      `json:"last_seen_at"`
	SeenCount  int            `json:"seen_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IncomingFinding is one entry in a scan-results payload
type IncomingFinding struct {
	Path       string         `json:"path"`
	RuleID     string         `json:"rule_id"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	LineStart  *int           `json:"line_start,omitempty"`
	LineEnd    *int           `json:"line_end,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Association types between files and issues
const (
	AssocBugIn       = "bug_in"
	AssocTaskFor     = "task_for"
	AssocScanFinding = "scan_finding"
	AssocMentionedIn = "mentioned_in"
)

// ValidAssocType checks membership in the closed association-type set
func ValidAssocType(s string) bool {
	switch s {
	case AssocBugIn, AssocTaskFor, AssocScanFinding, AssocMentionedIn:
		return true
	}
	return false
}

// FileAssociation links a file to an issue. Inserts are idempotent on the
// full (file_id, issue_id, assoc_type) tuple.
type FileAssociation struct {
	ID        int64     `json:"id"`
	FileID    string    `json:"file_id"`
	IssueID   string    `json:"issue_id"`
	AssocType string    `json:"assoc_type"`
	CreatedAt time.Time `json:"created_at"`
}

// FileEvent is a lightweight metadata-change record for a file
type FileEvent struct {
	ID        int64     `json:"id"`
	FileID    string    `json:"file_id"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// File timeline entry kinds
const (
	TimelineFinding      = "finding"
	TimelineAssociation  = "association"
	TimelineFileMetadata = "file_metadata_update"
)

// TimelineEntry is one row of a merged file timeline
type TimelineEntry struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// SeverityCounts tallies active findings per severity for one file
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

/// Weight ranks a file for hotspot queries: critical*4 + high*3 + medium*2 + low.
func (c SeverityCounts) Weight() int {
	return c.Critical*4 + c.High*3 + c.Medium*2 + c.Low
}

// FileSummary pairs a file with its finding counts for list queries
type FileSummary struct {
	File              FileRecord     `json:"file"`
	Findings          SeverityCounts `json:"findings"`
	AssociationsCount int            `json:"associations_count"`
}

// FileFilter narrows paginated file listings
type FileFilter struct {
	Language    string
	PathPrefix  string
	MinFindings int
	HasSeverity string
	ScanSource  string
}

// FileSort orders paginated file listings
type FileSort struct {
	Field     string // "path", "updated_at", "findings"
	Direction string // "asc" or "desc"
}

// Page is the pagination envelope for list queries
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}
