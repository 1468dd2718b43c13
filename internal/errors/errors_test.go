package errors

import (
	"fmt"
	"testing"
)

func TestCoachError_Error(t *testing.T) {
	err := &CoachError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "ingestion not found",
	}

	expected := "NOT_FOUND: ingestion not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestConstructors_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *CoachError
		code   ErrorCode
		status int
	}{
		{"invalid request", NewInvalidRequest("owner_id is required"), ErrInvalidRequest, 400},
		{"unauthorized", NewUnauthorized(""), ErrUnauthorized, 401},
		{"not found", NewNotFound("operation", "op-1"), ErrNotFound, 404},
		{"conflict", NewConflict("already transcribing"), ErrConflict, 409},
		{"unsupported media", NewUnsupportedMediaType("text/plain", []string{"audio/mpeg"}), ErrUnsupportedMediaType, 415},
		{"cancelled", NewCancelled("op-1"), ErrCancelled, 499},
		{"processing failed", NewProcessingFailed("enqueue failed"), ErrProcessingFailed, 500},
		{"backend error", NewBackendError("job failed"), ErrBackendError, 502},
		{"timeout", NewTimeout(60), ErrTimeout, 504},
		{"internal", NewInternal(fmt.Errorf("boom")), ErrInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
		})
	}
}

func TestNewUnauthorized_DefaultMessage(t *testing.T) {
	err := NewUnauthorized("")
	if err.Message != "access proof rejected" {
		t.Errorf("Message = %q, want default", err.Message)
	}
}

func TestNewNotFound_Details(t *testing.T) {
	err := NewNotFound("analysis", "01ABC")
	if err.Details["identifier"] != "01ABC" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01ABC")
	}
	if err.Details["kind"] != "analysis" {
		t.Errorf("Details[kind] = %v, want %q", err.Details["kind"], "analysis")
	}
}

func TestNewInternal_NilError(t *testing.T) {
	err := NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	err := NewTimeout(60)

	if !Is(err, ErrTimeout) {
		t.Error("Is(err, ErrTimeout) = false, want true")
	}
	if Is(err, ErrBackendError) {
		t.Error("Is(err, ErrBackendError) = true, want false")
	}
	if Is(fmt.Errorf("plain"), ErrTimeout) {
		t.Error("Is(plain error) = true, want false")
	}

	wrapped := fmt.Errorf("poll: %w", err)
	if !Is(wrapped, ErrTimeout) {
		t.Error("Is(wrapped, ErrTimeout) = false, want true")
	}
}

func TestAs(t *testing.T) {
	if got := As(NewConflict("x")); got.Code != ErrConflict {
		t.Errorf("As(conflict).Code = %q", got.Code)
	}
	if got := As(fmt.Errorf("disk full")); got.Code != ErrInternal || got.Message != "disk full" {
		t.Errorf("As(plain) = %+v, want internal with message", got)
	}
}
