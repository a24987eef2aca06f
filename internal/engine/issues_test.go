package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/types"
)

func TestCreateIssueDefaults(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	issue, warnings, err := e.CreateIssue(ctx, CreateRequest{Title: "First task"}, "alice")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, strings.HasPrefix(issue.ID, "demo-"))
	assert.Equal(t, "task", issue.IssueType)
	assert.Equal(t, "open", issue.Status)
	assert.Equal(t, types.CategoryOpen, issue.Category)
	assert.Equal(t, types.DefaultPriority, issue.Priority)
}

func TestCreateIssueValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, _, err := e.CreateIssue(ctx, CreateRequest{Title: "   "}, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, _, err = e.CreateIssue(ctx, CreateRequest{Title: "x", Priority: intp(9)}, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, _, err = e.CreateIssue(ctx, CreateRequest{Title: "x", ParentID: "demo-ffffffffff"}, "alice")
	assert.Equal(t, CodeNotFound, CodeOf(err))

	_, _, err = e.CreateIssue(ctx, CreateRequest{Title: "x", Labels: []string{"status:open"}}, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestCreateIssueUnknownTypeWarns(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	issue, warnings, err := e.CreateIssue(ctx, CreateRequest{Title: "odd", IssueType: "mystery"}, "alice")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "mystery")
	// The type is preserved even though the workflow falls back to task.
	assert.Equal(t, "mystery", issue.IssueType)
	assert.Equal(t, "open", issue.Status)
}

func TestCreateIssueFieldSchema(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Declared enum fields are enforced.
	_, _, err := e.CreateIssue(ctx, CreateRequest{
		Title: "bad severity", IssueType: "bug",
		Fields: map[string]any{"severity": "catastrophic"},
	}, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))

	// Undeclared fields pass with a warning.
	_, warnings, err := e.CreateIssue(ctx, CreateRequest{
		Title: "extra field", IssueType: "bug",
		Fields: map[string]any{"customer": "acme"},
	}, "alice")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "customer")
}

func TestUpdateIssueTransitionEnforced(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	bug, _, err := e.CreateIssue(ctx, CreateRequest{Title: "crash", IssueType: "bug"}, "alice")
	require.NoError(t, err)

	// triage -> confirmed requires severity, hard.
	_, _, err = e.UpdateIssue(ctx, bug.ID, UpdateRequest{Status: strp("confirmed")}, "alice")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Contains(t, typed.Details, "missing_fields")
	assert.Contains(t, typed.Details, "valid_transitions")

	// Supplying the field in the same update satisfies the gate.
	updated, warnings, err := e.UpdateIssue(ctx, bug.ID, UpdateRequest{
		Status: strp("confirmed"),
		Fields: map[string]any{"severity": "high"},
	}, "alice")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "confirmed", updated.Status)
	assert.Equal(t, types.CategoryOpen, updated.Category)
}

func TestUpdateIssueUndeclaredTransition(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task, _, err := e.CreateIssue(ctx, CreateRequest{Title: "t"}, "alice")
	require.NoError(t, err)

	_, _, err = e.UpdateIssue(ctx, task.ID, UpdateRequest{Status: strp("nirvana")}, "alice")
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
}

func TestUpdateIssueSkipTransitionCheck(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task, _, err := e.CreateIssue(ctx, CreateRequest{Title: "t"}, "alice")
	require.NoError(t, err)

	// open -> closed is not a declared task edge, but the caller opts out
	// of the graph.
	updated, warnings, err := e.UpdateIssue(ctx, task.ID, UpdateRequest{
		Status: strp("closed"), SkipTransitionCheck: true,
	}, "alice")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "closed", updated.Status)
	assert.Equal(t, types.CategoryDone, updated.Category)
}

func TestUnknownTypeTransitionWarnsAndApplies(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	issue, _, err := e.CreateIssue(ctx, CreateRequest{Title: "odd", IssueType: "mystery"}, "alice")
	require.NoError(t, err)

	// "shipping" is declared by no enabled pack, and neither is the type.
	// Tolerated, not validated.
	updated, warnings, err := e.UpdateIssue(ctx, issue.ID, UpdateRequest{Status: strp("shipping")}, "alice")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "not validated")
	assert.Equal(t, "shipping", updated.Status)
}

func TestUpdateIssueSoftGateWarns(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	bug, _, err := e.CreateIssue(ctx, CreateRequest{Title: "minor", IssueType: "bug"}, "alice")
	require.NoError(t, err)

	updated, warnings, err := e.UpdateIssue(ctx, bug.ID, UpdateRequest{Status: strp("fixed")}, "alice")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "resolution")
	assert.Equal(t, types.CategoryDone, updated.Category)
	assert.NotNil(t, updated.ClosedAt)
}

func TestUpdateIssueNoopReturnsCurrent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task, _, err := e.CreateIssue(ctx, CreateRequest{Title: "same"}, "alice")
	require.NoError(t, err)

	same, _, err := e.UpdateIssue(ctx, task.ID, UpdateRequest{Title: strp("same")}, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.UpdatedAt, same.UpdatedAt)

	events, err := e.GetEvents(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventCreated, events[0].EventType)
}

func TestCloseAndReopen(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task, _, err := e.CreateIssue(ctx, CreateRequest{Title: "finish me"}, "alice")
	require.NoError(t, err)

	result, _, err := e.CloseIssue(ctx, task.ID, "all done", "alice")
	require.NoError(t, err)
	assert.Equal(t, "closed", result.Issue.Status)
	assert.NotNil(t, result.Issue.ClosedAt)

	comments, err := e.GetComments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "all done", comments[0].Text)

	// Closing again is invalid.
	_, _, err = e.CloseIssue(ctx, task.ID, "", "alice")
	assert.Equal(t, CodeInvalid, CodeOf(err))

	reopened, _, err := e.ReopenIssue(ctx, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "open", reopened.Status)
	assert.Nil(t, reopened.ClosedAt)

	// Reopening a non-done issue is invalid.
	_, _, err = e.ReopenIssue(ctx, task.ID, "alice")
	assert.Equal(t, CodeInvalid, CodeOf(err))
}

func TestCloseReportsUnblocked(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	blocker, _, err := e.CreateIssue(ctx, CreateRequest{Title: "blocker"}, "alice")
	require.NoError(t, err)
	blocked, _, err := e.CreateIssue(ctx, CreateRequest{Title: "blocked"}, "alice")
	require.NoError(t, err)
	require.NoError(t, e.AddDependency(ctx, blocked.ID, blocker.ID, "alice"))

	result, _, err := e.CloseIssue(ctx, blocker.ID, "", "alice")
	require.NoError(t, err)
	require.Len(t, result.Unblocked, 1)
	assert.Equal(t, blocked.ID, result.Unblocked[0].ID)
}

func TestGetIssueRejectsMalformedID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.GetIssue(ctx, "not-a-real-id!")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = e.GetIssue(ctx, "demo-1234567890")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}
