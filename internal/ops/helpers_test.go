package ops

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/logger"
	"github.com/hpungsan/callcoach/internal/transcribe"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func testLog() *logrus.Entry {
	return logger.Discard().Entry
}

func strPtr(s string) *string { return &s }

func scores(opening, discovery, objection, closing float64) analysis.StructuredAnalysis {
	return analysis.StructuredAnalysis{
		Scores: analysis.SubScores{
			Opening:           opening,
			Discovery:         discovery,
			ObjectionHandling: objection,
			Closing:           closing,
		},
		Strengths:    []string{"rapport"},
		Improvements: []string{"discovery depth"},
		Summary:      "fine",
	}
}

// insertLegacyAnalysis stores a record without a content hash, as written
// before hashing existed.
func insertLegacyAnalysis(t *testing.T, database *sql.DB, id, owner, text string, createdAt int64) {
	t.Helper()
	s := scores(5, 5, 5, 5)
	rec := &analysis.AnalysisRecord{
		ID:             id,
		OwnerID:        owner,
		TranscriptText: text,
		Score:          s.Scores.Total(),
		ScoreCategory:  analysis.CategoryFor(s.Scores.Total()),
		Structured:     s,
		DuplicateOfIDs: []string{},
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	require.NoError(t, db.InsertAnalysis(context.Background(), database, rec))
}

// scriptedBackend returns its poll results in order; after the script runs
// out it keeps reporting processing.
type scriptedBackend struct {
	mu        sync.Mutex
	script    []transcribe.JobStatus
	pollErrs  map[int]error
	submitErr error
	onPoll    func(n int)

	submits int
	polls   int
}

func (b *scriptedBackend) Submit(_ context.Context, _, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.submits++
	return fmt.Sprintf("job-%d", b.submits), nil
}

func (b *scriptedBackend) PollStatus(_ context.Context, _ string) (transcribe.JobStatus, error) {
	b.mu.Lock()
	b.polls++
	n := b.polls
	hook := b.onPoll
	b.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := b.pollErrs[n]; err != nil {
		return transcribe.JobStatus{}, err
	}
	if n <= len(b.script) {
		return b.script[n-1], nil
	}
	return transcribe.JobStatus{Status: transcribe.StatusProcessing}, nil
}

func (b *scriptedBackend) pollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func processing(n int) []transcribe.JobStatus {
	out := make([]transcribe.JobStatus, n)
	for i := range out {
		out[i] = transcribe.JobStatus{Status: transcribe.StatusProcessing}
	}
	return out
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string, string) (analysis.StructuredAnalysis, error) {
	return analysis.StructuredAnalysis{}, fmt.Errorf("model unavailable")
}

// recordingQueue captures enqueued ids and can be told to fail.
type recordingQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}
