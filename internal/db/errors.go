package db

import "fmt"

// ValidationError reports a malformed bulk registration payload. The whole
// batch is rejected; nothing is partially inserted.
type ValidationError struct {
	Index int
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("feature at index %d missing required field %q", e.Index, e.Field)
}

// ConflictError reports a status-transition precondition violation. It
// indicates a caller bug and is never retried internally.
type ConflictError struct {
	ID     int64
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("feature %d: %s", e.ID, e.Reason)
}
