package analysis

import "fmt"

// Status is the ingestion pipeline state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusUploaded     Status = "uploaded"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusAnalyzing    Status = "analyzing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// statusOrder positions each non-failed status in the forward chain.
var statusOrder = map[Status]int{
	StatusPending:      0,
	StatusUploaded:     1,
	StatusTranscribing: 2,
	StatusTranscribed:  3,
	StatusAnalyzing:    4,
	StatusCompleted:    5,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := statusOrder[st]; ok || st == StatusFailed {
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from → to is a legal single step.
// Steps move exactly one position forward; failed is reachable from any
// non-terminal state.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fi, ok := statusOrder[from]
	if !ok {
		return false
	}
	ti, ok := statusOrder[to]
	if !ok {
		return false
	}
	return ti == fi+1
}

// ActiveStatuses lists the non-terminal statuses whose source objects are protected from sweeps.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusUploaded, StatusTranscribing, StatusTranscribed, StatusAnalyzing}
}

// FailureReason is the reason code persisted with a failed ingestion.
type FailureReason string

const (
	ReasonCancelled        FailureReason = "CANCELLED"
	ReasonBackendError     FailureReason = "BACKEND_ERROR"
	ReasonTimeout          FailureReason = "TIMEOUT"
	ReasonProcessingFailed FailureReason = "PROCESSING_FAILED"
	ReasonAnalysisFailed   FailureReason = "ANALYSIS_FAILED"
)
