package emr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed input or a missing required reference.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError reports a pipeline state change outside the
// allowed forward path.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// ImmutableRecordError reports an attempted mutation of a finalized or
// appended record.
type ImmutableRecordError struct {
	Record string
	ID     string
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("%s %s is immutable", e.Record, e.ID)
}

// PermissionError reports an RBAC denial. Deny is always surfaced as this
// type, never as a silent no-op.
type PermissionError struct {
	Action string
	Role   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Record string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Record, e.ID)
}

// AlreadySupersededError reports a correction attempt against an event
// that was already corrected.
type AlreadySupersededError struct {
	EventID string
}

func (e *AlreadySupersededError) Error() string {
	return fmt.Sprintf("event %s is already superseded", e.EventID)
}

// ConcurrentModificationError reports a lost version check-and-set race.
// The caller is expected to re-read and retry.
type ConcurrentModificationError struct {
	Record string
	ID     string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Record, e.ID)
}

// HTTPStatus maps a domain error to the HTTP status the API surfaces.
// Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		transition *InvalidTransitionError
		immutable  *ImmutableRecordError
		permission *PermissionError
		notFound   *NotFoundError
		superseded *AlreadySupersededError
		conflict   *ConcurrentModificationError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &permission):
		return http.StatusForbidden
	case errors.As(err, &transition),
		errors.As(err, &immutable),
		errors.As(err, &superseded),
		errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
