package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/types"
)

func TestBatchBestEffort(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	existing, _, err := e.CreateIssue(ctx, CreateRequest{Title: "existing"}, "alice")
	require.NoError(t, err)

	results, err := e.Batch(ctx, []BatchItem{
		{Op: BatchCreate, Create: &CreateRequest{Title: "new one"}},
		{Op: BatchUpdate, ID: "demo-ffffffffff", Update: &UpdateRequest{Priority: intp(1)}},
		{Op: BatchClose, ID: existing.ID},
	}, false, "alice")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Nil(t, results[0].Err)
	assert.NotNil(t, results[0].Issue)

	require.NotNil(t, results[1].Err)
	assert.Equal(t, CodeNotFound, results[1].Err.Code)

	assert.Nil(t, results[2].Err)
	assert.Equal(t, types.CategoryDone, results[2].Issue.Category)
}

func TestBatchAtomicRollsBack(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Batch(ctx, []BatchItem{
		{Op: BatchCreate, Create: &CreateRequest{Title: "phantom"}},
		{Op: BatchUpdate, ID: "demo-ffffffffff", Update: &UpdateRequest{Priority: intp(1)}},
	}, true, "alice")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Contains(t, err.Error(), "item 1")

	// The create from item 0 must not be visible.
	issues, err := e.ListIssues(ctx, types.IssueFilter{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestBatchAtomicCommits(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	target, _, err := e.CreateIssue(ctx, CreateRequest{Title: "target"}, "alice")
	require.NoError(t, err)

	results, err := e.Batch(ctx, []BatchItem{
		{Op: BatchCreate, Create: &CreateRequest{Title: "sibling"}},
		{Op: BatchUpdate, ID: target.ID, Update: &UpdateRequest{Priority: intp(0)}},
		{Op: BatchClose, ID: target.ID, Comment: "done in batch"},
	}, true, "alice")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[1].Issue.Priority)
	assert.Equal(t, types.CategoryDone, results[2].Issue.Category)

	comments, err := e.GetComments(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "done in batch", comments[0].Text)
}

func TestBatchCreateWithLabels(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	results, err := e.Batch(ctx, []BatchItem{
		{Op: BatchCreate, Create: &CreateRequest{Title: "tagged", Labels: []string{"backend", "urgent"}}},
		{Op: BatchCreate, Create: &CreateRequest{Title: "bad", Labels: []string{"status:open"}}},
	}, false, "alice")
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Nil(t, results[0].Err)
	assert.ElementsMatch(t, []string{"backend", "urgent"}, results[0].Issue.Labels)

	// The reserved label fails its own item without dragging down the first.
	require.NotNil(t, results[1].Err)
	assert.Equal(t, CodeValidation, results[1].Err.Code)

	issue, err := e.GetIssue(ctx, results[0].Issue.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"backend", "urgent"}, issue.Labels)
}

func TestBatchCloseFromGatedState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// A bug in triage has no declared edge to its terminal state, and the
	// triage exit is hard-gated on severity. Closing ignores both.
	bug, _, err := e.CreateIssue(ctx, CreateRequest{Title: "wontfix", IssueType: "bug"}, "alice")
	require.NoError(t, err)

	results, err := e.Batch(ctx, []BatchItem{
		{Op: BatchClose, ID: bug.ID, Comment: "not worth chasing"},
	}, false, "alice")
	require.NoError(t, err)
	require.Nil(t, results[0].Err)
	assert.Equal(t, types.CategoryDone, results[0].Issue.Category)
}

func TestBatchRejectsMalformedItems(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Batch(ctx, nil, false, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = e.Batch(ctx, []BatchItem{{Op: "destroy"}}, false, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = e.Batch(ctx, []BatchItem{{Op: BatchUpdate, ID: ""}}, false, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))
}
