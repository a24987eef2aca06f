package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/storage/sqlite"
	"github.com/filigree-dev/filigree/internal/templates"
	"github.com/filigree-dev/filigree/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	registry, err := templates.NewBuiltin()
	require.NoError(t, err)
	return NewServer(engine.New(store, registry, "demo"), nil)
}

func call(t *testing.T, s *Server, op string, args any) Response {
	t.Helper()
	req := Request{Operation: op, Actor: "test-agent"}
	if args != nil {
		raw, err := json.Marshal(args)
		require.NoError(t, err)
		req.Args = raw
	}
	return s.Handle(context.Background(), req)
}

func decodeData(t *testing.T, resp Response, into any) {
	t.Helper()
	require.True(t, resp.Success, "error: %s (%s)", resp.Error, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Data, into))
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(context.Background(), Request{Operation: OpPing})
	require.True(t, resp.Success)
	var data map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "demo", data["prefix"])
}

func TestCreateClaimCloseRoundTrip(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, OpCreate, map[string]any{"title": "Wire the adapter", "priority": 1})
	var issue types.Issue
	decodeData(t, resp, &issue)
	assert.Equal(t, "open", issue.Status)
	assert.Equal(t, 1, issue.Priority)

	resp = call(t, s, OpClaim, map[string]any{"id": issue.ID, "assignee": "worker-1"})
	var claimed types.Issue
	decodeData(t, resp, &claimed)
	assert.Equal(t, "open", claimed.Status, "claiming assigns without advancing the workflow")
	assert.Equal(t, "worker-1", claimed.Assignee)

	resp = call(t, s, OpClose, map[string]any{"id": issue.ID, "comment": "done"})
	var closed engine.CloseResult
	decodeData(t, resp, &closed)
	assert.Equal(t, types.CategoryDone, closed.Issue.Category)

	resp = call(t, s, OpHistory, map[string]any{"id": issue.ID})
	var comments []*types.Comment
	decodeData(t, resp, &comments)
	require.Len(t, comments, 1)
	assert.Equal(t, "done", comments[0].Text)
}

func TestUpdateSkipTransitionCheck(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, OpCreate, map[string]any{"title": "x"})
	var issue types.Issue
	decodeData(t, resp, &issue)

	// open -> closed is not a declared task edge; the flag carries through.
	resp = call(t, s, OpUpdate, map[string]any{"id": issue.ID, "status": "closed"})
	assert.False(t, resp.Success)
	assert.Equal(t, engine.CodeInvalidTransition, resp.Code)

	resp = call(t, s, OpUpdate, map[string]any{
		"id": issue.ID, "status": "closed", "skip_transition_check": true,
	})
	var updated types.Issue
	decodeData(t, resp, &updated)
	assert.Equal(t, "closed", updated.Status)
	assert.Equal(t, types.CategoryDone, updated.Category)
}

func TestScanIngestAndCleanStale(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, OpScanIngest, map[string]any{
		"scan_source": "ruff",
		"findings": []map[string]any{
			{"path": "a.py", "rule_id": "E1", "severity": "low", "message": "m"},
			{"path": "a.py", "rule_id": "E2", "severity": "high", "message": "n"},
		},
	})
	var ingest engine.ScanResult
	decodeData(t, resp, &ingest)
	assert.Equal(t, 2, ingest.Created)

	// A narrower follow-up run leaves the missing finding untouched until the
	// caller vouches for the run's completeness.
	resp = call(t, s, OpScanIngest, map[string]any{
		"scan_source": "ruff",
		"findings": []map[string]any{
			{"path": "a.py", "rule_id": "E1", "severity": "low", "message": "m"},
		},
	})
	decodeData(t, resp, &ingest)
	assert.Equal(t, 1, ingest.Updated)

	resp = call(t, s, OpCleanStale, map[string]any{
		"scan_source": "ruff", "scan_run_id": ingest.ScanRunID,
	})
	var cleaned map[string]int64
	decodeData(t, resp, &cleaned)
	assert.Equal(t, int64(1), cleaned["stale"])
}

func TestHandleRejectsBadPriority(t *testing.T) {
	s := newTestServer(t)
	for name, priority := range map[string]string{
		"float":  "1.5",
		"bool":   "true",
		"string": `"2"`,
	} {
		req := Request{
			Operation: OpCreate,
			Actor:     "test-agent",
			Args:      json.RawMessage(`{"title":"x","priority":` + priority + `}`),
		}
		resp := s.Handle(context.Background(), req)
		assert.False(t, resp.Success, name)
		assert.Equal(t, engine.CodeValidation, resp.Code, name)
	}
}

func TestHandleRejectsBadActor(t *testing.T) {
	s := newTestServer(t)
	for name, actor := range map[string]string{
		"empty":   "",
		"control": "agent\x01",
	} {
		resp := s.Handle(context.Background(), Request{
			Operation: OpStats,
			Actor:     actor,
		})
		assert.False(t, resp.Success, name)
		assert.Equal(t, engine.CodeValidation, resp.Code, name)
	}
}

func TestHandleUnknownOperation(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, "destroy_everything", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, engine.CodeValidation, resp.Code)
	assert.Contains(t, resp.Error, "destroy_everything")
}

func TestHandleErrorCodes(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, OpGet, map[string]any{"id": "demo-ffffffffff"})
	assert.False(t, resp.Success)
	assert.Equal(t, engine.CodeNotFound, resp.Code)

	resp = call(t, s, OpGet, map[string]any{"id": "!!bogus"})
	assert.False(t, resp.Success)
	assert.Equal(t, engine.CodeValidation, resp.Code)
}

func TestHandleEchoesRequestID(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(context.Background(), Request{Operation: OpPing, RequestID: "req-42"})
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestHandleMalformedArgs(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(context.Background(), Request{
		Operation: OpCreate,
		Actor:     "test-agent",
		Args:      json.RawMessage(`{"title": [1,2,3]}`),
	})
	assert.False(t, resp.Success)
	assert.Equal(t, engine.CodeValidation, resp.Code)
}

func TestTemplateIntrospection(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, OpListTypes, nil)
	var names []string
	decodeData(t, resp, &names)
	assert.Contains(t, names, "task")
	assert.Contains(t, names, "bug")

	resp = call(t, s, OpValidTransitions, map[string]any{"issue_type": "task", "state": "open"})
	var transitions []types.ValidTransition
	decodeData(t, resp, &transitions)
	require.NotEmpty(t, transitions)
	targets := make([]string, 0, len(transitions))
	for _, tr := range transitions {
		targets = append(targets, tr.To)
	}
	assert.Contains(t, targets, "in_progress")

	resp = call(t, s, OpWorkflowStates, map[string]any{"issue_type": "task"})
	var states struct {
		InitialState string        `json:"initial_state"`
		States       []types.State `json:"states"`
	}
	decodeData(t, resp, &states)
	assert.Equal(t, "open", states.InitialState)
}

func TestServeStream(t *testing.T) {
	s := newTestServer(t)

	var in bytes.Buffer
	enc := json.NewEncoder(&in)
	require.NoError(t, enc.Encode(Request{Operation: OpPing, RequestID: "a"}))
	require.NoError(t, enc.Encode(Request{
		Operation: OpCreate,
		Actor:     "stream-agent",
		RequestID: "b",
		Args:      json.RawMessage(`{"title":"streamed issue"}`),
	}))

	var out bytes.Buffer
	require.NoError(t, s.ServeStream(context.Background(), &in, &out))

	dec := json.NewDecoder(&out)
	var first, second Response
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.True(t, first.Success)
	assert.Equal(t, "a", first.RequestID)
	assert.True(t, second.Success)
	assert.Equal(t, "b", second.RequestID)

	var issue types.Issue
	require.NoError(t, json.Unmarshal(second.Data, &issue))
	assert.Equal(t, "streamed issue", issue.Title)
}
