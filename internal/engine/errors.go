package engine

import (
	"errors"
	"fmt"

	"github.com/filigree-dev/filigree/internal/storage/sqlite"
)

// Error codes returned across every boundary (CLI exit mapping, tool-call
// responses, HTTP statuses). The set is closed; adapters translate codes,
// never message strings.
const (
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodeInvalid           = "invalid"
	CodeInvalidTransition = "invalid_transition"
	CodeInvalidPath       = "invalid_path"
	CodeAlreadyClaimed    = "already_claimed"
	CodeWouldCreateCycle  = "would_create_cycle"
	CodeConflict          = "conflict"
	CodeInternal          = "internal"
)

// Error is the engine's typed error. Details carries structured hints such
// as valid_transitions; adapters serialize it verbatim.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// E builds a typed error
func E(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured hints
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// wrap converts storage errors to the typed taxonomy. Unrecognized errors
// become internal: agents retry those, not fix their request.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error(), cause: err}
	case errors.Is(err, sqlite.ErrCycle):
		return &Error{Code: CodeWouldCreateCycle, Message: err.Error(), cause: err}
	case errors.Is(err, sqlite.ErrAlreadyClaimed):
		return &Error{Code: CodeAlreadyClaimed, Message: err.Error(), cause: err}
	case errors.Is(err, sqlite.ErrNotOpen):
		return &Error{Code: CodeInvalid, Message: err.Error(), cause: err}
	case errors.Is(err, sqlite.ErrNoAssignee):
		return &Error{Code: CodeInvalid, Message: err.Error(), cause: err}
	case errors.Is(err, sqlite.ErrConflict):
		return &Error{Code: CodeConflict, Message: err.Error(), cause: err}
	}
	return &Error{Code: CodeInternal, Message: fmt.Sprintf("%s: %v", op, err), cause: err}
}

// CodeOf extracts the taxonomy code from any error
func CodeOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return CodeInternal
}
