// Package transcribe talks to the speech-to-text backend.
package transcribe

import "context"

// Status is the backend-reported job state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether polling can stop.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// JobStatus is one poll result. Text is set only when Status is completed;
// Reason only when it is error.
type JobStatus struct {
	Status Status `json:"status"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Backend submits media for transcription and reports job progress.
type Backend interface {
	Submit(ctx context.Context, objectURL, language string) (jobHandle string, err error)
	PollStatus(ctx context.Context, jobHandle string) (JobStatus, error)
}
