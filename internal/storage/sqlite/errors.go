package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common database conditions
var (
	// ErrNotFound indicates the requested resource was not found in the database
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation or conflicting state
	ErrConflict = errors.New("conflict")

	// ErrCycle indicates a dependency edge would close a cycle
	ErrCycle = errors.New("dependency cycle detected")

	// ErrAlreadyClaimed indicates the issue is assigned to someone else
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrNotOpen indicates a claim was attempted on a non-open issue
	ErrNotOpen = errors.New("issue is not in an open state")

	// ErrNoAssignee indicates a release was attempted on an unassigned issue
	ErrNoAssignee = errors.New("issue has no assignee")
)

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to ErrNotFound for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
// The driver surfaces these as plain errors, so we match the message the way
// sqlite renders it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// isForeignKeyViolation reports whether err is a foreign-key failure
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
