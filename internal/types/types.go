// Package types defines core data structures for the filigree issue tracker.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Category is the universal classification of a workflow state. Every state
// declared by a template maps to exactly one category, which lets cross-type
// queries (ready work, vitals, analytics) classify issues without knowing
// their state names.
type Category string

// State categories
const (
	CategoryOpen Category = "open"
	CategoryWIP  Category = "wip"
	CategoryDone Category = "done"
)

// IsValid checks if the category value is valid
func (c Category) IsValid() bool {
	switch c {
	case CategoryOpen, CategoryWIP, CategoryDone:
		return true
	}
	return false
}

// InferCategory maps a state name to a category when the owning template is
// unknown (tolerance for data written by older or foreign tools).
func InferCategory(state string) Category {
	switch strings.ToLower(state) {
	case "closed", "done", "completed":
		return CategoryDone
	}
	return CategoryOpen
}

// Issue represents a unit of work
type Issue struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Status      string         `json:"status"`
	Priority    int            `json:"priority"` // No omitempty: 0 is valid (highest)
	IssueType   string         `json:"issue_type"`
	ParentID    string         `json:"parent_id,omitempty"`
	Assignee    string         `json:"assignee,omitempty"` // Empty means unassigned
	Fields      map[string]any `json:"fields,omitempty"`   // Type-scoped domain data, persisted as JSON
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	Labels      []string       `json:"labels,omitempty"` // Populated on reads, not authoritative

	// Category of Status at read time, resolved against the template registry.
	// Not persisted.
	Category Category `json:"category,omitempty"`
}

// MaxTitleLength bounds issue titles at the storage layer.
const MaxTitleLength = 500

// Validate checks structural invariants that hold regardless of the template
// registry. Status-vs-type validity is enforced by the engine, which owns the
// registry.
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > MaxTitleLength {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLength, len(i.Title))
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if i.IssueType == "" {
		return fmt.Errorf("issue type is required")
	}
	if i.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// DefaultPriority is assigned when a creator does not specify one.
const DefaultPriority = 2

// DefaultIssueType is assigned when a creator does not specify one.
const DefaultIssueType = "task"

// Dependency represents a directed blocking edge: IssueID is blocked by
// DependsOnID until DependsOnID reaches a done-category state.
type Dependency struct {
	IssueID     string    `json:"issue_id"`
	DependsOnID string    `json:"depends_on_id"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// DepBlocks is the default (and currently only) dependency type.
const DepBlocks = "blocks"

// Comment is an ordered per-issue discussion entry
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReservedLabelPrefixes are label names the engine refuses to attach; they
// are reserved for derived presentation (e.g. status badges).
var ReservedLabelPrefixes = []string{"status:"}

// IsReservedLabel reports whether a label name collides with a reserved prefix.
func IsReservedLabel(label string) bool {
	for _, p := range ReservedLabelPrefixes {
		if strings.HasPrefix(label, p) {
			return true
		}
	}
	return false
}

// IssueFilter narrows list queries
type IssueFilter struct {
	Status    string
	Category  Category
	IssueType string
	Assignee  *string
	Priority  *int
	ParentID  string
	Label     string
	Limit     int
	Offset    int
}

// WorkFilter narrows ready-work queries
type WorkFilter struct {
	IssueType   string
	PriorityMin *int
	PriorityMax *int
	Assignee    *string
	Limit       int
}

// BlockedIssue is an issue plus the blockers keeping it out of the ready set
type BlockedIssue struct {
	Issue
	BlockedBy      []string `json:"blocked_by"`
	BlockedByCount int      `json:"blocked_by_count"`
}

// CriticalPath is the longest dependency chain over non-done issues
type CriticalPath struct {
	IssueIDs []string `json:"issue_ids"`
	Length   int      `json:"length"`
}

// Statistics summarizes the project for dashboards and the snapshot document
type Statistics struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByType     map[string]int `json:"by_type"`
	ByPriority map[int]int    `json:"by_priority"`
	Ready      int            `json:"ready"`
	Blocked    int            `json:"blocked"`
}

// StaleFilter selects issues without recent updates
type StaleFilter struct {
	Days   int
	Status string
	Limit  int
}
