package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a callcoach error code.
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"        // 400
	ErrUnauthorized         ErrorCode = "UNAUTHORIZED"           // 401
	ErrNotFound             ErrorCode = "NOT_FOUND"              // 404
	ErrConflict             ErrorCode = "CONFLICT"               // 409
	ErrUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE" // 415
	ErrCancelled            ErrorCode = "CANCELLED"              // 499
	ErrProcessingFailed     ErrorCode = "PROCESSING_FAILED"      // 500
	ErrInternal             ErrorCode = "INTERNAL"               // 500
	ErrBackendError         ErrorCode = "BACKEND_ERROR"          // 502
	ErrTimeout              ErrorCode = "TIMEOUT"                // 504
)

// StatusClientClosedRequest is the non-standard status used for cancelled operations.
const StatusClientClosedRequest = 499

// CoachError represents a structured error with code, status, and details.
type CoachError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CoachError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for malformed input.
func NewInvalidRequest(msg string) *CoachError {
	return &CoachError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error for identity failures.
func NewUnauthorized(msg string) *CoachError {
	if msg == "" {
		msg = "access proof rejected"
	}
	return &CoachError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an unknown record or operation.
func NewNotFound(kind, identifier string) *CoachError {
	return &CoachError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error, used when processing is already in flight.
func NewConflict(msg string) *CoachError {
	return &CoachError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewUnsupportedMediaType creates a 415 error for a content type outside the allowed set.
func NewUnsupportedMediaType(contentType string, allowed []string) *CoachError {
	return &CoachError{
		Code:    ErrUnsupportedMediaType,
		Status:  415,
		Message: fmt.Sprintf("unsupported content type: %q", contentType),
		Details: map[string]any{"content_type": contentType, "allowed": allowed},
	}
}

// NewCancelled creates an error for an operation aborted by its caller.
func NewCancelled(operationID string) *CoachError {
	return &CoachError{
		Code:    ErrCancelled,
		Status:  StatusClientClosedRequest,
		Message: fmt.Sprintf("operation cancelled: %s", operationID),
		Details: map[string]any{"operation_id": operationID},
	}
}

// NewProcessingFailed creates a 500 error for a failed upload to ingestion handoff.
func NewProcessingFailed(msg string) *CoachError {
	return &CoachError{
		Code:    ErrProcessingFailed,
		Status:  500,
		Message: msg,
	}
}

// NewBackendError creates a 502 error for a failure reported by the transcription backend.
func NewBackendError(msg string) *CoachError {
	return &CoachError{
		Code:    ErrBackendError,
		Status:  502,
		Message: msg,
	}
}

// NewTimeout creates a 504 error when the polling ceiling is reached.
func NewTimeout(attempts int) *CoachError {
	return &CoachError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("transcription did not finish after %d polls", attempts),
		Details: map[string]any{"attempts": attempts},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CoachError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CoachError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is (or wraps) a CoachError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CoachError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As returns the CoachError carried by err, or an internal error wrapping it.
func As(err error) *CoachError {
	var cErr *CoachError
	if stderrors.As(err, &cErr) {
		return cErr
	}
	return NewInternal(err)
}
