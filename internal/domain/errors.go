package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Billing error taxonomy. The webhook handler classifies these into the HTTP
// acknowledgement the provider sees: reject (retryable by the provider),
// acknowledge-and-drop (redelivery would not help), or transient (redelivery
// is the remedy).
var (
	// ErrSignatureMismatch: the body was not signed with our secret.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")

	// ErrMalformedPayload: the envelope lacks the fields every event carries.
	// Redelivery sends the same bytes, so this is permanently invalid.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnsupportedEventType: valid envelope, event type outside the closed
	// set this engine models. Acknowledged so the provider stops retrying.
	ErrUnsupportedEventType = errors.New("unsupported event type")

	// ErrMissingUserBinding: no user id in the checkout custom metadata for an
	// event type that requires one.
	ErrMissingUserBinding = errors.New("missing user binding in event metadata")

	// ErrUnknownSubject: a subscription event for a subject we never created.
	// Redelivery cannot create the missing prior state.
	ErrUnknownSubject = errors.New("unknown subscription subject")

	// ErrUnknownPlan: the variant id maps to no configured plan. Grants zero
	// credits, never a guessed amount.
	ErrUnknownPlan = errors.New("unknown plan variant")

	// ErrDuplicateEvent: the idempotency ledger already holds this event id.
	ErrDuplicateEvent = errors.New("event already processed")

	// ErrStaleEvent: the event is older than state already applied for its
	// subject. Acknowledged as a no-op; arrival order never wins over event
	// time.
	ErrStaleEvent = errors.New("stale event for subject")

	// ErrPersistenceConflict: the transaction lost a concurrency race and may
	// succeed on retry with a fresh state snapshot.
	ErrPersistenceConflict = errors.New("persistence conflict")
)
