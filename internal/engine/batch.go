package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// Batch operation names
const (
	BatchCreate = "create"
	BatchUpdate = "update"
	BatchClose  = "close"
)

// BatchItem is one mutation in a batch request
type BatchItem struct {
	Op      string         `json:"op"`
	ID      string         `json:"id,omitempty"`      // update, close
	Create  *CreateRequest `json:"create,omitempty"`  // create
	Update  *UpdateRequest `json:"update,omitempty"`  // update
	Comment string         `json:"comment,omitempty"` // close
}

// BatchItemResult reports one item's outcome. In best-effort mode failed
// items carry Err while the rest proceed; in atomic mode the first failure
// aborts the whole batch.
type BatchItemResult struct {
	Index    int          `json:"index"`
	Issue    *types.Issue `json:"issue,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Err      *Error       `json:"error,omitempty"`
}

// Batch applies a sequence of mutations inside one transaction. With
// atomic=false each item runs under its own savepoint: a failing item rolls
// back to its savepoint and is reported per item, while the surviving items
// commit together. With atomic=true the first failure rolls the whole batch
// back; the returned error is the failing item's, wrapped with its index.
func (e *Engine) Batch(ctx context.Context, items []BatchItem, atomic bool, actor string) ([]BatchItemResult, error) {
	if len(items) == 0 {
		return nil, E(CodeValidation, "batch requires at least one item")
	}
	for i, item := range items {
		if err := validateBatchItem(item); err != nil {
			var typed *Error
			errors.As(err, &typed)
			return nil, E(typed.Code, "item %d: %s", i, typed.Message)
		}
	}

	if atomic {
		return e.batchAtomic(ctx, items, actor)
	}

	results := make([]BatchItemResult, len(items))
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for i, item := range items {
			err := tx.Savepoint(ctx, fmt.Sprintf("batch_item_%d", i), func() error {
				issue, warnings, err := e.applyBatchItemTx(ctx, tx, item, actor)
				if err != nil {
					return err
				}
				results[i] = BatchItemResult{Index: i, Issue: issue, Warnings: warnings}
				return nil
			})
			if err != nil {
				var typed *Error
				if !errors.As(err, &typed) {
					typed = &Error{Code: CodeInternal, Message: err.Error()}
				}
				results[i] = BatchItemResult{Index: i, Err: typed}
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "batch")
	}
	return results, nil
}

func validateBatchItem(item BatchItem) error {
	switch item.Op {
	case BatchCreate:
		if item.Create == nil {
			return E(CodeValidation, "create op requires a create body")
		}
	case BatchUpdate:
		if item.ID == "" || item.Update == nil {
			return E(CodeValidation, "update op requires id and update body")
		}
	case BatchClose:
		if item.ID == "" {
			return E(CodeValidation, "close op requires id")
		}
	default:
		return E(CodeValidation, "unknown op %q (want create, update, or close)", item.Op)
	}
	return nil
}

func (e *Engine) batchAtomic(ctx context.Context, items []BatchItem, actor string) ([]BatchItemResult, error) {
	results := make([]BatchItemResult, len(items))

	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for i, item := range items {
			issue, warnings, err := e.applyBatchItemTx(ctx, tx, item, actor)
			if err != nil {
				var typed *Error
				if !errors.As(err, &typed) {
					typed = &Error{Code: CodeInternal, Message: err.Error()}
				}
				return E(typed.Code, "item %d: %s", i, typed.Message).WithDetails(typed.Details)
			}
			results[i] = BatchItemResult{Index: i, Issue: issue, Warnings: warnings}
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "atomic batch")
	}
	return results, nil
}

// applyBatchItemTx dispatches one item using transaction-scoped primitives so
// commit boundaries stay under the caller's control.
func (e *Engine) applyBatchItemTx(ctx context.Context, tx storage.Transaction, item BatchItem, actor string) (*types.Issue, []string, error) {
	switch item.Op {
	case BatchCreate:
		return e.createIssueTx(ctx, tx, *item.Create, actor)
	case BatchUpdate:
		return e.updateIssueTx(ctx, tx, item.ID, *item.Update, actor)
	case BatchClose:
		current, err := tx.GetIssue(ctx, item.ID)
		if err != nil {
			return nil, nil, wrap(err, "get issue")
		}
		if current.Category == types.CategoryDone {
			return nil, nil, E(CodeInvalid, "issue %s is already in a done state (%s)", item.ID, current.Status)
		}
		terminal, err := e.registry.TerminalState(current.IssueType)
		if err != nil {
			return nil, nil, E(CodeInternal, "%v", err)
		}
		issue, warnings, err := e.updateIssueTx(ctx, tx, item.ID,
			UpdateRequest{Status: &terminal, SkipTransitionCheck: true}, actor)
		if err != nil {
			return nil, nil, err
		}
		if item.Comment != "" {
			if _, err := tx.AddComment(ctx, item.ID, actor, item.Comment); err != nil {
				return nil, nil, wrap(err, "add comment")
			}
		}
		return issue, warnings, nil
	}
	return nil, nil, E(CodeValidation, "unknown op %q", item.Op)
}

func (e *Engine) createIssueTx(ctx context.Context, tx storage.Transaction, req CreateRequest, actor string) (*types.Issue, []string, error) {
	issue, warnings, err := e.buildIssue(ctx, tx, req)
	if err != nil {
		return nil, nil, err
	}
	for _, label := range req.Labels {
		if types.IsReservedLabel(label) {
			return nil, nil, E(CodeValidation, "label %q uses a reserved prefix", label)
		}
	}
	if err := tx.CreateIssue(ctx, issue, actor); err != nil {
		return nil, nil, wrap(err, "create issue")
	}
	for _, label := range req.Labels {
		if err := tx.AddLabel(ctx, issue.ID, label, actor); err != nil {
			return nil, nil, wrap(err, "add label")
		}
		issue.Labels = append(issue.Labels, label)
	}
	return issue, warnings, nil
}

// buildIssue runs create validation against a transaction view and returns
// the populated row without inserting it.
func (e *Engine) buildIssue(ctx context.Context, tx storage.Transaction, req CreateRequest) (*types.Issue, []string, error) {
	var warnings []string
	if strings.TrimSpace(req.Title) == "" {
		return nil, nil, E(CodeValidation, "title is required")
	}
	if len(req.Title) > types.MaxTitleLength {
		return nil, nil, E(CodeValidation, "title must be %d characters or less", types.MaxTitleLength)
	}
	if req.Priority != nil && (*req.Priority < 0 || *req.Priority > 4) {
		return nil, nil, E(CodeValidation, "priority must be between 0 and 4 (got %d)", *req.Priority)
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
	if req.ParentID != "" {
		if _, err := tx.GetIssue(ctx, req.ParentID); err != nil {
			return nil, nil, wrap(err, "check parent")
		}
	}

	return &types.Issue{
		ID:          idgen.New(e.prefix),
		Title:       req.Title,
		Description: req.Description,
		Notes:       req.Notes,
		Status:      tpl.InitialState,
		Category:    tpl.StateCategory(tpl.InitialState),
		Priority:    priorityOrDefault(req.Priority),
		IssueType:   issueType,
		ParentID:    req.ParentID,
		Assignee:    req.Assignee,
		Fields:      req.Fields,
	}, warnings, nil
}

func (e *Engine) updateIssueTx(ctx context.Context, tx storage.Transaction, id string, req UpdateRequest, actor string) (*types.Issue, []string, error) {
	current, err := tx.GetIssue(ctx, id)
	if err != nil {
		return nil, nil, wrap(err, "get issue")
	}
	updates, events, warnings, err := e.prepareUpdate(ctx, tx, current, req, actor)
	if err != nil {
		return nil, nil, err
	}
	if len(updates) == 0 {
		return current, warnings, nil
	}
	if err := tx.UpdateIssue(ctx, id, updates, events); err != nil {
		return nil, nil, wrap(err, "update issue")
	}
	updated, err := tx.GetIssue(ctx, id)
	if err != nil {
		return nil, nil, wrap(err, "get issue")
	}
	return updated, warnings, nil
}

func priorityOrDefault(p *int) int {
	if p == nil {
		return types.DefaultPriority
	}
	return *p
}
