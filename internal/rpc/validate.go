package rpc

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"

	"github.com/filigree-dev/filigree/internal/engine"
)

const maxActorLen = 128

// validateActor enforces the boundary rules on actor names: non-empty after
// trimming, at most 128 characters, and no control or format runes.
func validateActor(actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", engine.E(engine.CodeValidation, "actor is required")
	}
	if len(actor) > maxActorLen {
		return "", engine.E(engine.CodeValidation, "actor must be %d characters or less", maxActorLen)
	}
	for _, r := range actor {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return "", engine.E(engine.CodeValidation, "actor contains control or format characters")
		}
	}
	return actor, nil
}

// parsePriority decodes a raw JSON priority. Only integer literals in [0,4]
// pass; floats, bools, and strings are rejected rather than coerced.
func parsePriority(raw []byte, field string) (*int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return nil, engine.E(engine.CodeValidation, "%s must be an integer between 0 and 4", field)
	}
	if n < 0 || n > 4 {
		return nil, engine.E(engine.CodeValidation, "%s must be between 0 and 4 (got %d)", field, n)
	}
	return &n, nil
}
