package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage/sqlite"
	"github.com/filigree-dev/filigree/internal/types"
)

// CreateRequest carries the caller-supplied fields for a new issue
type CreateRequest struct {
	Title       string
	Description string
	Notes       string
	IssueType   string
	Priority    *int
	ParentID    string
	Assignee    string
	Fields      map[string]any
	Labels      []string
}

// CreateIssue validates the request against the registry, mints an id, and
// inserts the issue in its type's initial state. A short-id collision is
// retried once with a long id. Returned warnings are advisory (unknown type,
// undeclared fields); the create itself succeeded.
func (e *Engine) CreateIssue(ctx context.Context, req CreateRequest, actor string) (*types.Issue, []string, error) {
	var warnings []string

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, nil, E(CodeValidation, "title is required")
	}
	if len(req.Title) > types.MaxTitleLength {
		return nil, nil, E(CodeValidation, "title must be %d characters or less (got %d)",
			types.MaxTitleLength, len(req.Title))
	}

	priority := types.DefaultPriority
	if req.Priority != nil {
		if *req.Priority < 0 || *req.Priority > 4 {
			return nil, nil, E(CodeValidation, "priority must be between 0 and 4 (got %d)", *req.Priority)
		}
		priority = *req.Priority
	}

	issueType := req.IssueType
	if issueType == "" {
		issueType = types.DefaultIssueType
	}
	tpl, known := e.registry.Get(issueType)
	if !known {
		warnings = append(warnings, fmt.Sprintf(
			"type %q is not declared by any enabled pack; using the %s workflow", issueType, tpl.Type))
	}

	if fieldWarnings, err := e.checkFields(tpl, req.Fields); err != nil {
		return nil, nil, err
	} else {
		warnings = append(warnings, fieldWarnings...)
	}

	for _, label := range req.Labels {
		if types.IsReservedLabel(label) {
			return nil, nil, E(CodeValidation, "label %q uses a reserved prefix", label)
		}
	}

	if req.ParentID != "" {
		if _, err := e.store.GetIssue(ctx, req.ParentID); err != nil {
			if errors.Is(err, sqlite.ErrNotFound) {
				return nil, nil, E(CodeNotFound, "parent issue %s not found", req.ParentID)
			}
			return nil, nil, wrap(err, "check parent")
		}
	}

	issue := &types.Issue{
		ID:          idgen.New(e.prefix),
		Title:       req.Title,
		Description: req.Description,
		Notes:       req.Notes,
		Status:      tpl.InitialState,
		Category:    tpl.StateCategory(tpl.InitialState),
		Priority:    priority,
		IssueType:   issueType,
		ParentID:    req.ParentID,
		Assignee:    req.Assignee,
		Fields:      req.Fields,
	}

	err := e.store.CreateIssue(ctx, issue, actor)
	if errors.Is(err, sqlite.ErrConflict) {
		issue.ID = idgen.Long(e.prefix)
		err = e.store.CreateIssue(ctx, issue, actor)
	}
	if err != nil {
		return nil, nil, wrap(err, "create issue")
	}

	for _, label := range req.Labels {
		if err := e.store.AddLabel(ctx, issue.ID, label, actor); err != nil {
			return nil, nil, wrap(err, "add label")
		}
		issue.Labels = append(issue.Labels, label)
	}

	return issue, warnings, nil
}

// GetIssue fetches an issue with its category resolved
func (e *Engine) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	if err := idgen.ValidateID(id, e.prefix); err != nil {
		return nil, E(CodeValidation, "%v", err)
	}
	issue, err := e.store.GetIssue(ctx, id)
	if err != nil {
		return nil, wrap(err, "get issue")
	}
	return issue, nil
}

// UpdateRequest carries the caller's changes; nil pointers mean "leave as is"
type UpdateRequest struct {
	Title       *string
	Description *string
	Notes       *string
	Status      *string
	Priority    *int
	ParentID    *string
	Assignee    *string
	Fields      map[string]any // Merged into existing fields; nil values delete keys
	// SkipTransitionCheck applies a status change without consulting the
	// type's transition graph. Close and reopen use it: those moves are
	// always legal regardless of what the template declares.
	SkipTransitionCheck bool
}

// UpdateIssue applies the changes, enforcing the template's transition rules
// when the status moves. Events are computed per changed field and written
// atomically with the columns.
func (e *Engine) UpdateIssue(ctx context.Context, id string, req UpdateRequest, actor string) (*types.Issue, []string, error) {
	current, err := e.GetIssue(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	updates, events, warnings, err := e.prepareUpdate(ctx, e.store, current, req, actor)
	if err != nil {
		return nil, nil, err
	}
	if len(updates) == 0 {
		return current, warnings, nil
	}

	if err := e.store.UpdateIssue(ctx, id, updates, events); err != nil {
		return nil, nil, wrap(err, "update issue")
	}

	updated, err := e.GetIssue(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, warnings, nil
}

// issueGetter abstracts over Storage and Transaction for existence checks,
// so staged updates see rows written earlier in the same transaction.
type issueGetter interface {
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
}

// prepareUpdate diffs the request against the current row and stages column
// updates plus the matching events. Shared by the direct update path and the
// atomic batch path.
func (e *Engine) prepareUpdate(ctx context.Context, src issueGetter, current *types.Issue, req UpdateRequest, actor string) (map[string]any, []*types.Event, []string, error) {
	id := current.ID
	var warnings []string
	updates := make(map[string]any)
	var events []*types.Event
	now := idgen.Now()

	mkEvent := func(evType types.EventType, oldV, newV string) {
		events = append(events, &types.Event{
			IssueID:   id,
			EventType: evType,
			Actor:     actor,
			OldValue:  &oldV,
			NewValue:  &newV,
			CreatedAt: now,
		})
	}

	if req.Title != nil && *req.Title != current.Title {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, nil, nil, E(CodeValidation, "title is required")
		}
		if len(*req.Title) > types.MaxTitleLength {
			return nil, nil, nil, E(CodeValidation, "title must be %d characters or less", types.MaxTitleLength)
		}
		updates["title"] = *req.Title
		mkEvent(types.EventTitleChanged, current.Title, *req.Title)
	}
	if req.Description != nil && *req.Description != current.Description {
		updates["description"] = *req.Description
		mkEvent(types.EventDescriptionChanged, current.Description, *req.Description)
	}
	if req.Notes != nil && *req.Notes != current.Notes {
		updates["notes"] = *req.Notes
		mkEvent(types.EventNotesChanged, current.Notes, *req.Notes)
	}
	if req.Priority != nil && *req.Priority != current.Priority {
		if *req.Priority < 0 || *req.Priority > 4 {
			return nil, nil, nil, E(CodeValidation, "priority must be between 0 and 4 (got %d)", *req.Priority)
		}
		updates["priority"] = *req.Priority
		mkEvent(types.EventPriorityChanged,
			fmt.Sprintf("%d", current.Priority), fmt.Sprintf("%d", *req.Priority))
	}
	if req.Assignee != nil && *req.Assignee != current.Assignee {
		updates["assignee"] = *req.Assignee
		mkEvent(types.EventAssigneeChanged, current.Assignee, *req.Assignee)
	}
	if req.ParentID != nil && *req.ParentID != current.ParentID {
		if *req.ParentID != "" {
			if *req.ParentID == id {
				return nil, nil, nil, E(CodeValidation, "issue cannot be its own parent")
			}
			if _, err := src.GetIssue(ctx, *req.ParentID); err != nil {
				if errors.Is(err, sqlite.ErrNotFound) {
					return nil, nil, nil, E(CodeNotFound, "parent issue %s not found", *req.ParentID)
				}
				return nil, nil, nil, wrap(err, "check parent")
			}
		}
		updates["parent_id"] = *req.ParentID
		mkEvent(types.EventParentChanged, current.ParentID, *req.ParentID)
	}

	mergedFields := current.Fields
	if req.Fields != nil {
		tpl, _ := e.registry.Get(current.IssueType)
		merged := make(map[string]any, len(current.Fields)+len(req.Fields))
		for k, v := range current.Fields {
			merged[k] = v
		}
		for k, v := range req.Fields {
			if v == nil {
				delete(merged, k)
			} else {
				merged[k] = v
			}
		}
		if fieldWarnings, err := e.checkFields(tpl, merged); err != nil {
			return nil, nil, nil, err
		} else {
			warnings = append(warnings, fieldWarnings...)
		}
		updates["fields"] = merged
		mergedFields = merged
		mkEvent(types.EventFieldsChanged, "", "")
	}

	if req.Status != nil && *req.Status != current.Status {
		transitionWarnings, err := e.applyTransition(current, *req.Status, mergedFields,
			updates, &events, actor, now, req.SkipTransitionCheck)
		if err != nil {
			return nil, nil, nil, err
		}
		warnings = append(warnings, transitionWarnings...)
	}

	return updates, events, warnings, nil
}

// applyTransition validates a status change against the registry and stages
// the status, category, closed_at columns plus the lifecycle event. Unknown
// types get the change applied with a warning instead of validation: the pack
// that declared them may simply not be enabled here, and blocking the move
// would strand their issues.
func (e *Engine) applyTransition(current *types.Issue, newStatus string, fields map[string]any,
	updates map[string]any, events *[]*types.Event, actor string, now time.Time, skipCheck bool) ([]string, error) {

	var warnings []string
	_, known := e.registry.Get(current.IssueType)
	switch {
	case skipCheck:
	case !known:
		warnings = append(warnings, fmt.Sprintf(
			"type %q is not declared by any enabled pack; transition not validated", current.IssueType))
	default:
		check := e.registry.CheckTransition(current.IssueType, current.Status, newStatus, fields)
		if !check.Declared {
			return nil, E(CodeInvalidTransition,
				"no transition from %q to %q for type %s", current.Status, newStatus, current.IssueType).
				WithDetails(map[string]any{
					"valid_transitions": e.registry.ValidTransitions(current.IssueType, current.Status, fields),
				})
		}
		if !check.Allowed {
			return nil, E(CodeInvalidTransition,
				"transition %q -> %q requires fields: %s",
				current.Status, newStatus, strings.Join(check.MissingFields, ", ")).
				WithDetails(map[string]any{
					"missing_fields":    check.MissingFields,
					"valid_transitions": e.registry.ValidTransitions(current.IssueType, current.Status, fields),
				})
		}
		if check.Advisory {
			warnings = append(warnings, fmt.Sprintf(
				"transition %q -> %q is missing suggested fields: %s",
				current.Status, newStatus, strings.Join(check.MissingFields, ", ")))
		}
	}

	oldCategory := e.registry.CategoryOf(current.IssueType, current.Status)
	newCategory := e.registry.CategoryOf(current.IssueType, newStatus)

	updates["status"] = newStatus
	updates["status_category"] = string(newCategory)

	// closed_at tracks the done category exactly: set on entry, cleared on
	// exit, untouched otherwise.
	evType := types.EventStatusChanged
	switch {
	case newCategory == types.CategoryDone && oldCategory != types.CategoryDone:
		updates["closed_at"] = now
		evType = types.EventClosed
	case newCategory != types.CategoryDone && oldCategory == types.CategoryDone:
		updates["closed_at"] = nil
		evType = types.EventReopened
	}

	oldStatus := current.Status
	*events = append(*events, &types.Event{
		IssueID:   current.ID,
		EventType: evType,
		Actor:     actor,
		OldValue:  &oldStatus,
		NewValue:  &newStatus,
		CreatedAt: now,
	})
	return warnings, nil
}

// CloseResult pairs the closed issue with the work it unblocked
type CloseResult struct {
	Issue     *types.Issue   `json:"issue"`
	Unblocked []*types.Issue `json:"unblocked,omitempty"`
}

// CloseIssue transitions an issue to its type's terminal state and reports
// which dependents became ready.
func (e *Engine) CloseIssue(ctx context.Context, id, comment, actor string) (*CloseResult, []string, error) {
	current, err := e.GetIssue(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if current.Category == types.CategoryDone {
		return nil, nil, E(CodeInvalid, "issue %s is already in a done state (%s)", id, current.Status)
	}

	terminal, err := e.registry.TerminalState(current.IssueType)
	if err != nil {
		return nil, nil, E(CodeInternal, "%v", err)
	}

	issue, warnings, err := e.UpdateIssue(ctx, id,
		UpdateRequest{Status: &terminal, SkipTransitionCheck: true}, actor)
	if err != nil {
		return nil, nil, err
	}

	if comment != "" {
		if _, err := e.AddComment(ctx, id, actor, comment); err != nil {
			return nil, nil, err
		}
	}

	unblocked, err := e.store.GetNewlyUnblockedByClose(ctx, id)
	if err != nil {
		return nil, nil, wrap(err, "check unblocked")
	}
	return &CloseResult{Issue: issue, Unblocked: unblocked}, warnings, nil
}

// ReopenIssue moves a done issue back to its type's initial state
func (e *Engine) ReopenIssue(ctx context.Context, id, actor string) (*types.Issue, []string, error) {
	current, err := e.GetIssue(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if current.Category != types.CategoryDone {
		return nil, nil, E(CodeInvalid, "issue %s is not in a done state (%s)", id, current.Status)
	}
	initial := e.registry.InitialState(current.IssueType)
	return e.UpdateIssue(ctx, id,
		UpdateRequest{Status: &initial, SkipTransitionCheck: true}, actor)
}

// ListIssues lists issues with categories resolved
func (e *Engine) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	issues, err := e.store.ListIssues(ctx, filter)
	if err != nil {
		return nil, wrap(err, "list issues")
	}
	return issues, nil
}

// SearchIssues runs full-text search over title, description, notes
func (e *Engine) SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error) {
	if strings.TrimSpace(query) == "" {
		return nil, E(CodeValidation, "search query is required")
	}
	issues, err := e.store.SearchIssues(ctx, query, filter)
	if err != nil {
		return nil, wrap(err, "search issues")
	}
	return issues, nil
}

// GetStaleIssues lists non-done issues without recent updates
func (e *Engine) GetStaleIssues(ctx context.Context, filter types.StaleFilter) ([]*types.Issue, error) {
	issues, err := e.store.GetStaleIssues(ctx, filter)
	if err != nil {
		return nil, wrap(err, "stale issues")
	}
	return issues, nil
}

// AddComment appends a comment to an issue
func (e *Engine) AddComment(ctx context.Context, issueID, author, text string) (*types.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, E(CodeValidation, "comment text is required")
	}
	comment, err := e.store.AddComment(ctx, issueID, author, text)
	if err != nil {
		return nil, wrap(err, "add comment")
	}
	return comment, nil
}

// GetComments lists an issue's comments
func (e *Engine) GetComments(ctx context.Context, issueID string) ([]*types.Comment, error) {
	comments, err := e.store.GetComments(ctx, issueID)
	if err != nil {
		return nil, wrap(err, "get comments")
	}
	return comments, nil
}

// AddLabel attaches a label, rejecting reserved prefixes
func (e *Engine) AddLabel(ctx context.Context, issueID, label, actor string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return E(CodeValidation, "label is required")
	}
	if types.IsReservedLabel(label) {
		return E(CodeValidation, "label %q uses a reserved prefix", label)
	}
	return wrap(e.store.AddLabel(ctx, issueID, label, actor), "add label")
}

// RemoveLabel detaches a label
func (e *Engine) RemoveLabel(ctx context.Context, issueID, label, actor string) error {
	return wrap(e.store.RemoveLabel(ctx, issueID, label, actor), "remove label")
}

// GetEvents returns an issue's audit history
func (e *Engine) GetEvents(ctx context.Context, issueID string, limit int) ([]*types.Event, error) {
	events, err := e.store.GetIssueEvents(ctx, issueID, limit)
	if err != nil {
		return nil, wrap(err, "get events")
	}
	return events, nil
}

// GetEventsSince pages the global change feed by commit-timestamp cursor
func (e *Engine) GetEventsSince(ctx context.Context, since time.Time, limit int) ([]*types.Event, error) {
	events, err := e.store.GetEventsSince(ctx, since, limit)
	if err != nil {
		return nil, wrap(err, "get events since")
	}
	return events, nil
}

// checkFields type-checks declared fields and warns about undeclared ones.
// Declared fields are enforced (enum membership, scalar kind); undeclared
// fields pass with a warning so agents can carry ad-hoc data.
func (e *Engine) checkFields(tpl *types.Template, fields map[string]any) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	specs := make(map[string]types.FieldSpec, len(tpl.FieldSchema))
	for _, f := range tpl.FieldSchema {
		specs[f.Name] = f
	}

	var warnings []string
	for name, value := range fields {
		spec, declared := specs[name]
		if !declared {
			warnings = append(warnings, fmt.Sprintf("field %q is not declared by type %s", name, tpl.Type))
			continue
		}
		if err := checkFieldValue(spec, value); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

func checkFieldValue(spec types.FieldSpec, value any) error {
	switch spec.Type {
	case types.FieldText, types.FieldDate:
		if _, ok := value.(string); !ok {
			return E(CodeValidation, "field %q must be a string", spec.Name)
		}
	case types.FieldNumber:
		switch value.(type) {
		case int, int64, float64:
		default:
			return E(CodeValidation, "field %q must be a number", spec.Name)
		}
	case types.FieldEnum:
		s, ok := value.(string)
		if !ok {
			return E(CodeValidation, "field %q must be a string", spec.Name)
		}
		for _, v := range spec.EnumValues {
			if v == s {
				return nil
			}
		}
		return E(CodeValidation, "field %q must be one of: %s",
			spec.Name, strings.Join(spec.EnumValues, ", "))
	case types.FieldList:
		if _, ok := value.([]any); !ok {
			if _, ok := value.([]string); !ok {
				return E(CodeValidation, "field %q must be a list", spec.Name)
			}
		}
	}
	return nil
}
