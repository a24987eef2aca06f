package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/storage/sqlite"
	"github.com/filigree-dev/filigree/internal/templates"
	"github.com/filigree-dev/filigree/internal/types"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	registry, err := templates.NewBuiltin()
	require.NoError(t, err)
	handler, err := NewHandler(HandlerConfig{
		Engine: engine.New(store, registry, "demo"),
	})
	require.NoError(t, err)
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(into))
}

func TestHealthAndIndex(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Filigree</title>")

	rec = doJSON(t, handler, http.MethodGet, "/static/app.css", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestIssueLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/issues", map[string]any{
		"title":    "Ship the dashboard",
		"priority": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created issueResult
	decodeInto(t, rec, &created)
	require.True(t, strings.HasPrefix(created.Issue.ID, "demo-"))

	rec = doJSON(t, handler, http.MethodGet, "/api/issues/"+created.Issue.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/issues/"+created.Issue.ID+"/claim",
		map[string]any{"assignee": "worker-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var claimed types.Issue
	decodeInto(t, rec, &claimed)
	assert.Equal(t, "worker-1", claimed.Assignee)
	assert.Equal(t, "open", claimed.Status, "a claim assigns without moving the workflow")

	rec = doJSON(t, handler, http.MethodPost, "/api/issues/"+created.Issue.ID+"/close",
		map[string]any{"comment": "shipped"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/issues/"+created.Issue.ID+"/comments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var comments []*types.Comment
	decodeInto(t, rec, &comments)
	require.Len(t, comments, 1)
	assert.Equal(t, "shipped", comments[0].Text)
}

func TestErrorStatusMapping(t *testing.T) {
	handler := newTestHandler(t)

	// Validation failure: empty title.
	rec := doJSON(t, handler, http.MethodPost, "/api/issues", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeInto(t, rec, &body)
	assert.Equal(t, engine.CodeValidation, body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)

	// Missing resource.
	rec = doJSON(t, handler, http.MethodGet, "/api/issues/demo-ffffffffff", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	decodeInto(t, rec, &body)
	assert.Equal(t, engine.CodeNotFound, body.Error.Code)

	// Workflow violation: undeclared transition.
	rec = doJSON(t, handler, http.MethodPost, "/api/issues", map[string]any{"title": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	var created issueResult
	decodeInto(t, rec, &created)
	rec = doJSON(t, handler, http.MethodPatch, "/api/issues/"+created.Issue.ID,
		map[string]any{"status": "nonexistent_state"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	decodeInto(t, rec, &body)
	assert.Equal(t, engine.CodeInvalidTransition, body.Error.Code)
}

func TestAuthWrapper(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	registry, err := templates.NewBuiltin()
	require.NoError(t, err)

	handler, err := NewHandler(HandlerConfig{
		Engine:      engine.New(store, registry, "demo"),
		RequireAuth: true,
		AuthToken:   "sekrit",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = NewHandler(HandlerConfig{
		Engine:      engine.New(store, registry, "demo"),
		RequireAuth: true,
	})
	assert.Error(t, err)
}

func TestDetermineAccess(t *testing.T) {
	auth, err := DetermineAccess("127.0.0.1:8080", false)
	require.NoError(t, err)
	assert.False(t, auth)

	auth, err = DetermineAccess("localhost:8080", false)
	require.NoError(t, err)
	assert.False(t, auth)

	_, err = DetermineAccess("0.0.0.0:8080", false)
	assert.Error(t, err)

	auth, err = DetermineAccess("0.0.0.0:8080", true)
	require.NoError(t, err)
	assert.True(t, auth)

	_, err = DetermineAccess("no-port", false)
	assert.Error(t, err)
}
