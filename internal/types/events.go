package types

import "time"

// EventType identifies an entry in the append-only audit log. The set is
// closed: storage rejects types outside this taxonomy.
type EventType string

// Event type taxonomy
const (
	EventCreated            EventType = "created"
	EventStatusChanged      EventType = "status_changed"
	EventPriorityChanged    EventType = "priority_changed"
	EventTitleChanged       EventType = "title_changed"
	EventAssigneeChanged    EventType = "assignee_changed"
	EventDescriptionChanged EventType = "description_changed"
	EventNotesChanged       EventType = "notes_changed"
	EventParentChanged      EventType = "parent_changed"
	EventFieldsChanged      EventType = "fields_changed"
	EventClaimed            EventType = "claimed"
	EventReleased           EventType = "released"
	EventCommentAdded       EventType = "comment_added"
	EventLabelAdded         EventType = "label_added"
	EventLabelRemoved       EventType = "label_removed"
	EventDependencyAdded    EventType = "dependency_added"
	EventDependencyRemoved  EventType = "dependency_removed"
	EventClosed             EventType = "closed"
	EventReopened           EventType = "reopened"
	EventArchived           EventType = "archived"
	EventFindingCreated     EventType = "finding_created"
	EventFindingUpdated     EventType = "finding_updated"
	EventAssociationCreated EventType = "association_created"
	EventFileMetadataUpdate EventType = "file_metadata_update"
)

// IsValid checks membership in the closed taxonomy
func (t EventType) IsValid() bool {
	switch t {
	case EventCreated, EventStatusChanged, EventPriorityChanged, EventTitleChanged,
		EventAssigneeChanged, EventDescriptionChanged, EventNotesChanged,
		EventParentChanged, EventFieldsChanged, EventClaimed, EventReleased,
		EventCommentAdded, EventLabelAdded, EventLabelRemoved,
		EventDependencyAdded, EventDependencyRemoved, EventClosed, EventReopened,
		EventArchived, EventFindingCreated, EventFindingUpdated,
		EventAssociationCreated, EventFileMetadataUpdate:
		return true
	}
	return false
}

// ReversibleEvents are the event types undo_last may invert. EventReleased is
// deliberately absent: restoring a released claim would silently re-assign
// work to an agent that explicitly walked away.
var ReversibleEvents = map[EventType]bool{
	EventStatusChanged:   true,
	EventPriorityChanged: true,
	EventTitleChanged:    true,
	EventAssigneeChanged: true,
	EventClaimed:         true,
	EventCommentAdded:    true,
	EventLabelAdded:      true,
}

// Event is an append-only audit record. Rows are never updated; the only
// deletions are bulk truncation (compact) and archive of closed issues.
type Event struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
