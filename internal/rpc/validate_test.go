package rpc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/engine"
)

func TestValidateActor(t *testing.T) {
	got, err := validateActor("  agent-7  ")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", got)

	for name, actor := range map[string]string{
		"empty":      "",
		"whitespace": "   ",
		"too long":   strings.Repeat("x", 129),
		"control":    "agent\x00one",
		"newline":    "agent\ntwo",
		"format":     "agent​three",
	} {
		_, err := validateActor(actor)
		assert.Error(t, err, name)
		assert.Equal(t, engine.CodeValidation, engine.CodeOf(err), name)
	}

	got, err = validateActor(strings.Repeat("x", 128))
	require.NoError(t, err)
	assert.Len(t, got, 128)
}

func TestParsePriority(t *testing.T) {
	p, err := parsePriority(nil, "priority")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parsePriority(json.RawMessage("null"), "priority")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = parsePriority(json.RawMessage("3"), "priority")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, *p)

	for name, raw := range map[string]string{
		"float":         "1.5",
		"bool":          "true",
		"string":        `"2"`,
		"negative":      "-1",
		"out of range":  "9",
		"exponent":      "1e0",
		"leading zeroX": "0x2",
	} {
		_, err := parsePriority(json.RawMessage(raw), "priority")
		assert.Error(t, err, name)
		assert.Equal(t, engine.CodeValidation, engine.CodeOf(err), name)
	}
}
