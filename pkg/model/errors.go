package model

import (
	"errors"
	"fmt"
)

// Core error conditions. Queue conditions are expected results on the
// heartbeat path; callers treat them as "nothing to send".
var (
	ErrEmptyQueue         = errors.New("queue is empty")
	ErrUnknownHost        = errors.New("unknown host")
	ErrUnknownJob         = errors.New("unknown job")
	ErrIllegalTransition  = errors.New("illegal job transition")
	ErrAlreadyTerminal    = errors.New("job already terminal")
	ErrHostDecommissioned = errors.New("host decommissioned")
	ErrUnknownCommand     = errors.New("unknown command")
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrGone         ErrorCode = "GONE"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the clusterq API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewConflictError creates a CONFLICT APIError from a rejected transition.
func NewConflictError(err error) *APIError {
	return &APIError{Code: ErrConflict, Message: err.Error()}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// IllegalTransitionError is returned when an event is not valid from the
// job's current state. The job is left unchanged.
type IllegalTransitionError struct {
	JobID  JobID
	State  JobState
	Event  JobEventType
	Detail string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("illegal transition for job %s: %s in state %s", e.JobID, e.Event, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is reports ErrIllegalTransition so callers can use errors.Is.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// AlreadyTerminalError is returned when an event targets a job that has
// already reached a terminal state and the event is not an identical
// re-delivery of that terminal outcome.
type AlreadyTerminalError struct {
	JobID JobID
	State JobState
	Event JobEventType
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("job %s already %s, rejecting %s", e.JobID, e.State, e.Event)
}

// Is reports ErrAlreadyTerminal so callers can use errors.Is.
func (e *AlreadyTerminalError) Is(target error) bool {
	return target == ErrAlreadyTerminal
}
