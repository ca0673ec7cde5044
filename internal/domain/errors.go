package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Lookup errors
	ErrBookingNotFound = errors.New("booking not found")
	ErrIntentNotFound  = errors.New("payment intent not found")
	ErrForbidden       = errors.New("booking does not belong to caller")

	// Reconciliation taxonomy
	ErrValidation          = errors.New("validation failed")
	ErrTransientGateway    = errors.New("transient gateway error")
	ErrPermanentGateway    = errors.New("permanent gateway error")
	ErrConsistencyAnomaly  = errors.New("consistency anomaly")
	ErrConcurrencyConflict = errors.New("concurrent modification")
	ErrInvalidTransition   = errors.New("invalid booking transition")

	// Persistence errors
	ErrBookingAlreadyExists = errors.New("booking already exists")
	ErrIntentAlreadyExists  = errors.New("payment intent already exists")
	ErrDuplicateEvent       = errors.New("webhook event already processed")
)

// ValidationError names the offending field
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

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError is returned by Transition for an event the current
// state does not accept.
type InvalidTransitionError struct {
	From  BookingStatus
	Event EventKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s to booking in state %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// AnomalyError reports a local/gateway inconsistency. It always carries the
// Anomaly record that was filed for manual review.
type AnomalyError struct {
	Anomaly *Anomaly
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("consistency anomaly (%s) on booking %s: %s", e.Anomaly.Kind, e.Anomaly.BookingID, e.Anomaly.Detail)
}

func (e *AnomalyError) Unwrap() error { return ErrConsistencyAnomaly }

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrBookingNotFound) || errors.Is(err, ErrIntentNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflictError checks if the error means the request lost a race or hit
// a state that no longer accepts it
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrBookingAlreadyExists)
}

// IsRetryable reports whether the caller may retry the same request
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientGateway) || errors.Is(err, ErrConcurrencyConflict)
}
