package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness. Details carries
// structured context (counts, conflicting programs, prior statuses) so the
// presentation layer can render a precise message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Eligibility errors returned by the enrollment checks.
var (
	ErrProgramNotFound   = New("PROGRAM_NOT_FOUND", http.StatusNotFound, "program not found or not open for enrollment")
	ErrAlreadyEnrolled   = New("ALREADY_ENROLLED", http.StatusConflict, "student already enrolled in program")
	ErrProgramEnded      = New("PROGRAM_ENDED", http.StatusUnprocessableEntity, "program has already ended")
	ErrProgramInProgress = New("PROGRAM_IN_PROGRESS", http.StatusUnprocessableEntity, "program has already started")
	ErrProgramFull       = New("PROGRAM_FULL", http.StatusConflict, "program has no remaining slots")
	ErrScheduleConflict  = New("SCHEDULE_CONFLICT", http.StatusConflict, "program schedule conflicts with current enrollments")
)

// Payment errors returned by the installment state machine.
var (
	ErrMissingReference  = New("MISSING_REFERENCE", http.StatusBadRequest, "payment reference number is required")
	ErrMissingProof      = New("MISSING_PROOF", http.StatusBadRequest, "payment proof attachment is required")
	ErrSequenceLocked    = New("SEQUENCE_LOCKED", http.StatusPreconditionFailed, "previous installment must be validated first")
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "payment state does not allow this action")
	ErrAlreadyValidated  = New("ALREADY_VALIDATED", http.StatusConflict, "payment has already been validated")
	ErrCapacityRace      = New("CAPACITY_RACE", http.StatusConflict, "enrollment could not be completed due to concurrent demand")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying structured details.
func WithDetails(err *Error, message string, details any) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	clone.Details = details
	return &clone
}

// Is reports whether err carries the same code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
