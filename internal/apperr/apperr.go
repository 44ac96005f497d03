// Package apperr defines the error taxonomy shared by the matching,
// reservation and dispatch core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide how to surface it.
type Kind string

const (
	// KindValidation marks malformed coordinates or enum values.
	KindValidation Kind = "VALIDATION"

	// KindNotFound marks an unknown hospital, emergency or unit id.
	KindNotFound Kind = "NOT_FOUND"

	// KindNoAvailableResource marks the absence of a free bed or ambulance.
	// Callers report it as a degraded success, never as a hard failure.
	KindNoAvailableResource Kind = "NO_AVAILABLE_RESOURCE"

	// KindReservationConflict marks a lost race on a capacity counter.
	// It is retried against the next candidate and never surfaced.
	KindReservationConflict Kind = "RESERVATION_CONFLICT"

	// KindInvalidStateTransition marks a rejected lifecycle transition.
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"

	// KindExternalService marks geocoding or notification failures.
	KindExternalService Kind = "EXTERNAL_SERVICE"
)

// Error is the concrete error type returned by the core packages.
type Error struct {
	Kind    Kind
	Message string
	// Details carries structured context such as a fallback contact.
	Details any
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

// Validation returns a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error for the given entity and id.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// NoAvailableResource returns a KindNoAvailableResource error.
func NoAvailableResource(message string, details any) *Error {
	return &Error{Kind: KindNoAvailableResource, Message: message, Details: details}
}

// ReservationConflict returns a KindReservationConflict error.
func ReservationConflict(hospitalID string, err error) *Error {
	return &Error{
		Kind:    KindReservationConflict,
		Message: fmt.Sprintf("capacity of hospital %q changed concurrently", hospitalID),
		Err:     err,
	}
}

// InvalidTransition returns a KindInvalidStateTransition error.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidStateTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// External wraps a collaborator failure as KindExternalService.
func External(service string, err error) *Error {
	return &Error{Kind: KindExternalService, Message: service + " call failed", Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailsOf returns the Details of the first *Error in err's chain.
func DetailsOf(err error) any {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}
