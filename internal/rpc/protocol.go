// Package rpc implements the tool-call surface: newline-delimited JSON
// requests with a JSON argument object per operation, dispatched to the
// engine. Agent frameworks speak this protocol directly; the CLI's
// tool-serve command exposes it on stdio or a unix socket.
package rpc

import (
	"encoding/json"
)

// Operation names. The set is closed; unknown operations are a
// validation_error, never a crash.
const (
	OpPing = "ping"

	// Issues
	OpCreate  = "create_issue"
	OpGet     = "get_issue"
	OpUpdate  = "update_issue"
	OpClose   = "close_issue"
	OpReopen  = "reopen_issue"
	OpList    = "list_issues"
	OpSearch  = "search_issues"
	OpStale   = "stale_issues"
	OpStats   = "get_statistics"
	OpBatch   = "batch"
	OpUndo    = "undo_last"
	OpComment = "add_comment"
	OpHistory = "get_comments"

	// Labels
	OpLabelAdd    = "add_label"
	OpLabelRemove = "remove_label"

	// Claims
	OpClaim     = "claim_issue"
	OpClaimNext = "claim_next"
	OpRelease   = "release_claim"

	// Dependencies
	OpDepAdd       = "add_dependency"
	OpDepRemove    = "remove_dependency"
	OpDeps         = "get_dependencies"
	OpDependents   = "get_dependents"
	OpReady        = "ready_work"
	OpBlocked      = "blocked_issues"
	OpCriticalPath = "critical_path"

	// Plans
	OpPlanCreate = "create_plan"
	OpPlanGet    = "get_plan"

	// Files and findings
	OpFileRegister  = "register_file"
	OpFileGet       = "get_file"
	OpScanIngest    = "process_scan_results"
	OpCleanStale    = "clean_stale_findings"
	OpFindingStatus = "update_finding_status"
	OpFindings      = "get_findings"
	OpFileAssociate = "add_file_association"
	OpFileTimeline  = "get_file_timeline"
	OpFilesList     = "list_files"
	OpFileHotspots  = "get_file_hotspots"

	// Events and analytics
	OpEvents      = "get_events"
	OpEventsSince = "get_events_since"
	OpRecent      = "get_recent_events"
	OpFlowMetrics = "get_flow_metrics"

	// Maintenance
	OpArchive = "archive_closed"
	OpCompact = "compact_events"

	// Template introspection
	OpListTypes        = "list_types"
	OpTypeInfo         = "get_type_info"
	OpValidTransitions = "get_valid_transitions"
	OpExplainState     = "explain_state"
	OpWorkflowGuide    = "get_workflow_guide"
	OpWorkflowStates   = "get_workflow_states"
)

// Request is one tool call
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Response is the reply envelope. Code carries the error taxonomy value on
// failure so clients branch on codes, not message strings.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// CreateArgs are the arguments for create_issue. Priority is raw so the
// boundary can reject floats and bools instead of silently truncating.
type CreateArgs struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	IssueType   string          `json:"issue_type,omitempty"`
	Priority    json.RawMessage `json:"priority,omitempty"`
	Parent      string          `json:"parent,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	Fields      map[string]any  `json:"fields,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
}

// UpdateArgs are the arguments for update_issue
type UpdateArgs struct {
	ID          string          `json:"id"`
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Notes       *string         `json:"notes,omitempty"`
	Status      *string         `json:"status,omitempty"`
	Priority    json.RawMessage `json:"priority,omitempty"`
	Parent      *string         `json:"parent,omitempty"`
	Assignee    *string         `json:"assignee,omitempty"`
	Fields      map[string]any  `json:"fields,omitempty"`
	// SkipTransitionCheck applies a status change without consulting the
	// type's transition graph
	SkipTransitionCheck bool `json:"skip_transition_check,omitempty"`
}

// IDArgs covers every operation keyed by a single id
type IDArgs struct {
	ID string `json:"id"`
}

// CloseArgs are the arguments for close_issue
type CloseArgs struct {
	ID      string `json:"id"`
	Comment string `json:"comment,omitempty"`
}

// ListArgs are the arguments for list_issues and search_issues
type ListArgs struct {
	Query     string          `json:"query,omitempty"` // search only
	Status    string          `json:"status,omitempty"`
	Category  string          `json:"category,omitempty"`
	IssueType string          `json:"issue_type,omitempty"`
	Assignee  *string         `json:"assignee,omitempty"`
	Priority  json.RawMessage `json:"priority,omitempty"`
	Parent    string          `json:"parent,omitempty"`
	Label     string          `json:"label,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// StaleArgs are the arguments for stale_issues
type StaleArgs struct {
	Days   int    `json:"days,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ClaimArgs are the arguments for claim_issue and claim_next
type ClaimArgs struct {
	ID          string          `json:"id,omitempty"` // claim_issue only
	Assignee    string          `json:"assignee"`
	IssueType   string          `json:"issue_type,omitempty"`
	PriorityMin json.RawMessage `json:"priority_min,omitempty"`
	PriorityMax json.RawMessage `json:"priority_max,omitempty"`
	Limit       int             `json:"limit,omitempty"`
}

// DepArgs are the arguments for dependency edge operations
type DepArgs struct {
	ID        string `json:"id"`
	DependsOn string `json:"depends_on"`
}

// LabelArgs are the arguments for label operations
type LabelArgs struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CommentArgs are the arguments for add_comment
type CommentArgs struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ScanArgs are the arguments for process_scan_results
type ScanArgs struct {
	ScanSource string            `json:"scan_source"`
	Findings   []IncomingFinding `json:"findings"`
}

// CleanStaleArgs are the arguments for clean_stale_findings
type CleanStaleArgs struct {
	ScanSource string `json:"scan_source"`
	ScanRunID  string `json:"scan_run_id"`
}

// IncomingFinding mirrors types.IncomingFinding at the wire boundary
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

// FileRegisterArgs are the arguments for register_file
type FileRegisterArgs struct {
	Path     string         `json:"path"`
	Language string         `json:"language,omitempty"`
	FileType string         `json:"file_type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileAssociateArgs are the arguments for add_file_association
type FileAssociateArgs struct {
	FileID    string `json:"file_id"`
	IssueID   string `json:"issue_id"`
	AssocType string `json:"assoc_type"`
}

// FileTimelineArgs are the arguments for get_file_timeline
type FileTimelineArgs struct {
	FileID    string `json:"file_id"`
	EventType string `json:"event_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// FilesListArgs are the arguments for list_files
type FilesListArgs struct {
	Language    string `json:"language,omitempty"`
	PathPrefix  string `json:"path_prefix,omitempty"`
	MinFindings int    `json:"min_findings,omitempty"`
	HasSeverity string `json:"has_severity,omitempty"`
	ScanSource  string `json:"scan_source,omitempty"`
	Sort        string `json:"sort,omitempty"`
	Direction   string `json:"direction,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// FindingStatusArgs are the arguments for update_finding_status
type FindingStatusArgs struct {
	FindingID string `json:"finding_id"`
	Status    string `json:"status"`
}

// EventsArgs are the arguments for event queries
type EventsArgs struct {
	ID    string `json:"id,omitempty"`    // get_events
	Since string `json:"since,omitempty"` // get_events_since, cursor format
	Limit int    `json:"limit,omitempty"`
}

// ArchiveArgs are the arguments for archive_closed
type ArchiveArgs struct {
	Before string `json:"before"` // cursor-format timestamp or expression
}

// CompactArgs are the arguments for compact_events
type CompactArgs struct {
	KeepPerIssue int `json:"keep_per_issue,omitempty"`
}

// TypeArgs are the arguments for template introspection
type TypeArgs struct {
	IssueType string         `json:"issue_type"`
	State     string         `json:"state,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LimitArgs covers operations taking only a limit
type LimitArgs struct {
	Limit int `json:"limit,omitempty"`
}
