package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is the sentinel for input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is the sentinel for concurrent writes to the same scope.
	ErrConflict = errors.New("conflict")
	// ErrUpstream is the sentinel for calendar provider failures.
	ErrUpstream = errors.New("upstream calendar provider error")
)

// ValidationError rejects an operation before any state change. The caller
// can retry with corrected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a concurrent rule write detected at commit time for
// one (child, calendar source) scope.
type ConflictError struct {
	ChildID          string
	CalendarSourceID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%v: concurrent mapping write for child %s source %s",
		ErrConflict, e.ChildID, e.CalendarSourceID)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// UpstreamImportError marks a calendar source whose import batch was aborted.
// Previously imported events for the source are left untouched.
type UpstreamImportError struct {
	CalendarSourceID string
	Err              error
}

func (e UpstreamImportError) Error() string {
	return fmt.Sprintf("%v: source %s: %v", ErrUpstream, e.CalendarSourceID, e.Err)
}

func (e UpstreamImportError) Unwrap() error { return ErrUpstream }
