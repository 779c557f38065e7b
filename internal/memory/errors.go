package memory

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure. Kinds are stable across the
// MCP and REST surfaces; messages are for humans.
type Kind string

const (
	// KindValidation covers invariant violations: missing project_id on
	// project scope, oversized core content, empty content, unknown
	// enum values, out-of-range thresholds.
	KindValidation Kind = "validation_error"

	// KindNotFound covers operations on unknown memory IDs.
	KindNotFound Kind = "not_found"

	// KindMigrationConflict covers tier moves the destination rejects.
	KindMigrationConflict Kind = "migration_conflict"

	// KindIndex covers FTS or semantic index failures. These are
	// recovered locally and should never reach a caller.
	KindIndex Kind = "index_error"

	// KindStorage covers database-level failures: locked, corrupt,
	// out of space. The failing operation is rolled back.
	KindStorage Kind = "storage_error"
)

// Error carries a taxonomy kind alongside the message and cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not-found error for an ID.
func NewNotFoundError(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("memory not found: %s", id)}
}

// NewStorageError wraps a database failure.
func NewStorageError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrKind returns the taxonomy kind of err, or "" when err carries none.
func ErrKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return ErrKind(err) == kind
}
