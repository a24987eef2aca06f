package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/storage/sqlite"
)

func TestErrorJSONShape(t *testing.T) {
	// Batch results embed the typed error directly, so its wire shape is
	// part of the protocol: lowercase keys, details omitted when empty.
	raw, err := json.Marshal(E(CodeNotFound, "issue %s not found", "demo-1"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, CodeNotFound, decoded["code"])
	assert.Equal(t, "issue demo-1 not found", decoded["message"])
	assert.NotContains(t, decoded, "details")

	raw, err = json.Marshal(E(CodeInvalidTransition, "no edge").
		WithDetails(map[string]any{"missing_fields": []string{"severity"}}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "details")
}

func TestErrorPreservesCause(t *testing.T) {
	err := wrap(sqlite.ErrNotFound, "get issue")
	assert.True(t, errors.Is(err, sqlite.ErrNotFound))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}
