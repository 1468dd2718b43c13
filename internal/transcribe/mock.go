package transcribe

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Mock is a local Backend that finishes each job after a fixed number of polls.
// The transcript is derived from the object name so distinct uploads do not
// collapse into one analysis.
type Mock struct {
	// PollsUntilDone is how many polls report processing before completion.
	PollsUntilDone int

	mu   sync.Mutex
	jobs map[string]*mockJob
}

type mockJob struct {
	object string
	polls  int
}

// NewMock creates a mock backend.
func NewMock(pollsUntilDone int) *Mock {
	return &Mock{PollsUntilDone: pollsUntilDone, jobs: make(map[string]*mockJob)}
}

func (m *Mock) Submit(_ context.Context, objectURL, _ string) (string, error) {
	name := objectURL
	if u, err := url.Parse(objectURL); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}

	handle := "mock-" + ulid.Make().String()
	m.mu.Lock()
	m.jobs[handle] = &mockJob{object: name}
	m.mu.Unlock()
	return handle, nil
}

func (m *Mock) PollStatus(_ context.Context, jobHandle string) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobHandle]
	if !ok {
		return JobStatus{Status: StatusError, Reason: "unknown job " + jobHandle}, nil
	}
	job.polls++
	if job.polls <= m.PollsUntilDone {
		return JobStatus{Status: StatusProcessing}, nil
	}
	delete(m.jobs, jobHandle)
	return JobStatus{
		Status: StatusCompleted,
		Text:   fmt.Sprintf("MOCK TRANSCRIPT (%s): Rep opens the call, asks about current tooling, handles a pricing objection and books a follow-up.", job.object),
	}, nil
}
