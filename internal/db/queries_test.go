package db

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/errors"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func strPtr(s string) *string { return &s }

func newIngestion(id, owner string, status analysis.Status) *analysis.IngestionRecord {
	return &analysis.IngestionRecord{
		ID:              id,
		OwnerID:         owner,
		SourceObjectRef: "recordings/" + owner + "/" + id + "-call.mp3",
		OperationID:     "op-" + id,
		Status:          status,
		CallType:        "discovery",
		ContentType:     "audio/mpeg",
		CreatedAt:       1000,
		UpdatedAt:       1000,
	}
}

func newAnalysis(id, owner, text string, createdAt int64, hashed bool) *analysis.AnalysisRecord {
	a := &analysis.AnalysisRecord{
		ID:             id,
		OwnerID:        owner,
		TranscriptText: text,
		Score:          24,
		ScoreCategory:  analysis.CategoryFor(24),
		Structured: analysis.StructuredAnalysis{
			Scores:  analysis.SubScores{Opening: 6, Discovery: 6, ObjectionHandling: 6, Closing: 6},
			Summary: "solid",
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if hashed {
		a.ContentHash = strPtr(analysis.ContentHash(text))
	}
	return a
}

func TestInsertIngestion_RoundTrip(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	rec := newIngestion("01A", "U1", analysis.StatusPending)
	require.NoError(t, InsertIngestion(ctx, database, rec))

	got, err := GetIngestion(ctx, database, "01A")
	require.NoError(t, err)
	require.Equal(t, rec.SourceObjectRef, got.SourceObjectRef)
	require.Equal(t, analysis.StatusPending, got.Status)
	require.Nil(t, got.JobHandle)
	require.Nil(t, got.AnalysisID)

	byRef, err := GetIngestionBySourceRef(ctx, database, rec.SourceObjectRef)
	require.NoError(t, err)
	require.Equal(t, "01A", byRef.ID)

	byOp, err := GetIngestionByOperation(ctx, database, "op-01A")
	require.NoError(t, err)
	require.Equal(t, "01A", byOp.ID)
}

func TestInsertIngestion_DuplicateSourceRef(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	rec := newIngestion("01A", "U1", analysis.StatusPending)
	require.NoError(t, InsertIngestion(ctx, database, rec))

	dup := newIngestion("01B", "U1", analysis.StatusUploaded)
	dup.SourceObjectRef = rec.SourceObjectRef
	require.ErrorIs(t, InsertIngestion(ctx, database, dup), ErrUniqueConstraint)
}

func TestGetIngestion_NotFound(t *testing.T) {
	database := setupTestDB(t)

	_, err := GetIngestion(context.Background(), database, "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTransitionIngestion(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	require.NoError(t, InsertIngestion(ctx, database, newIngestion("01A", "U1", analysis.StatusUploaded)))

	err := TransitionIngestion(ctx, database, "01A", analysis.StatusUploaded, analysis.StatusTranscribing,
		IngestionPatch{JobHandle: strPtr("job-7")})
	require.NoError(t, err)

	got, err := GetIngestion(ctx, database, "01A")
	require.NoError(t, err)
	require.Equal(t, analysis.StatusTranscribing, got.Status)
	require.Equal(t, "job-7", *got.JobHandle)

	// Stale expected status loses the compare-and-swap
	err = TransitionIngestion(ctx, database, "01A", analysis.StatusUploaded, analysis.StatusTranscribing, IngestionPatch{})
	require.True(t, errors.Is(err, errors.ErrConflict))

	// Skipping a step is rejected before touching the row
	err = TransitionIngestion(ctx, database, "01A", analysis.StatusTranscribing, analysis.StatusCompleted, IngestionPatch{})
	require.True(t, errors.Is(err, errors.ErrConflict))

	err = TransitionIngestion(ctx, database, "nope", analysis.StatusPending, analysis.StatusUploaded, IngestionPatch{})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTransitionIngestion_OnlyOneWinner(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	require.NoError(t, InsertIngestion(ctx, database, newIngestion("01A", "U1", analysis.StatusPending)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := TransitionIngestion(ctx, database, "01A", analysis.StatusPending, analysis.StatusUploaded, IngestionPatch{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestFailIngestion(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	require.NoError(t, InsertIngestion(ctx, database, newIngestion("01A", "U1", analysis.StatusTranscribing)))

	changed, err := FailIngestion(ctx, database, "01A", analysis.ReasonCancelled, "operation cancelled")
	require.NoError(t, err)
	require.True(t, changed)

	got, err := GetIngestion(ctx, database, "01A")
	require.NoError(t, err)
	require.Equal(t, analysis.StatusFailed, got.Status)
	require.Equal(t, analysis.ReasonCancelled, got.FailureReason)

	// Terminal records are left alone
	changed, err = FailIngestion(ctx, database, "01A", analysis.ReasonTimeout, "")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestActiveSourceRefs(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	active := newIngestion("01A", "U1", analysis.StatusTranscribing)
	done := newIngestion("01B", "U1", analysis.StatusCompleted)
	failed := newIngestion("01C", "U1", analysis.StatusFailed)
	for _, r := range []*analysis.IngestionRecord{active, done, failed} {
		require.NoError(t, InsertIngestion(ctx, database, r))
	}

	refs, err := ActiveSourceRefs(ctx, database, 0)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{active.SourceObjectRef: true}, refs)

	ok, err := IsActiveSourceRef(ctx, database, active.SourceObjectRef, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = IsActiveSourceRef(ctx, database, done.SourceObjectRef, 0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = IsActiveSourceRef(ctx, database, "recordings/U9/unknown.mp3", 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPendingCutoff(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	stale := newIngestion("01A", "U1", analysis.StatusPending)
	stale.CreatedAt = 1_000
	fresh := newIngestion("01B", "U1", analysis.StatusPending)
	fresh.CreatedAt = 5_000
	for _, r := range []*analysis.IngestionRecord{stale, fresh} {
		require.NoError(t, InsertIngestion(ctx, database, r))
	}

	refs, err := ActiveSourceRefs(ctx, database, 0)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	refs, err = ActiveSourceRefs(ctx, database, 2_000)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{fresh.SourceObjectRef: true}, refs)

	ok, err := IsActiveSourceRef(ctx, database, stale.SourceObjectRef, 2_000)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := ExpirePendingIngestions(ctx, database, 2_000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := GetIngestion(ctx, database, stale.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusFailed, got.Status)
	require.Equal(t, analysis.ReasonProcessingFailed, got.FailureReason)

	got, err = GetIngestion(ctx, database, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusPending, got.Status)
}

func TestInsertAnalysis_OwnerHashUnique(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A1", "U1", "hello", 1, true)))
	require.ErrorIs(t, InsertAnalysis(ctx, database, newAnalysis("A2", "U1", "hello", 2, true)), ErrUniqueConstraint)

	// Same text for a different owner is fine
	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("B1", "U2", "hello", 3, true)))

	// Unhashed rows are outside the constraint
	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A3", "U1", "hello", 4, false)))
	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A4", "U1", "hello", 5, false)))
}

func TestGetAnalysis_RoundTrip(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	a := newAnalysis("A1", "U1", "hello", 1, true)
	a.DuplicateOfIDs = []string{"A0"}
	a.IngestionID = strPtr("01A")
	a.Structured.Strengths = []string{"rapport"}
	require.NoError(t, InsertAnalysis(ctx, database, a))

	got, err := GetAnalysis(ctx, database, "A1")
	require.NoError(t, err)
	require.Equal(t, []string{"A0"}, got.DuplicateOfIDs)
	require.Equal(t, "01A", *got.IngestionID)
	require.Equal(t, a.Structured, got.Structured)
	require.Equal(t, analysis.ContentHash("hello"), *got.ContentHash)

	_, err = GetAnalysis(ctx, database, "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestListAnalyses_Ordering(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A2", "U1", "two", 20, true)))
	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A1", "U1", "one", 10, true)))
	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A3", "U1", "three", 20, false)))
	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("B1", "U2", "one", 5, true)))

	recent, err := ListRecentAnalyses(ctx, database, "U1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "A3", recent[0].ID)
	require.Equal(t, "A2", recent[1].ID)

	all, err := ListOwnerAnalyses(ctx, database, "U1")
	require.NoError(t, err)
	require.Equal(t, []string{"A1", "A2", "A3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	byHash, err := ListAnalysesByHash(ctx, database, "U1", analysis.ContentHash("one"))
	require.NoError(t, err)
	require.Len(t, byHash, 1)
	require.Equal(t, "A1", byHash[0].ID)

	owners, err := OwnersWithUnhashedAnalyses(ctx, database)
	require.NoError(t, err)
	require.Equal(t, []string{"U1"}, owners)
}

func TestSetAnalysisMergeAndDelete(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A1", "U1", "same", 1, false)))
	require.NoError(t, InsertAnalysis(ctx, database, newAnalysis("A2", "U1", "same", 2, false)))

	deleted, err := DeleteAnalyses(ctx, database, []string{"A2"})
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	hash := analysis.ContentHash("same")
	require.NoError(t, SetAnalysisMerge(ctx, database, "A1", &hash, []string{"A2"}))

	got, err := GetAnalysis(ctx, database, "A1")
	require.NoError(t, err)
	require.Equal(t, hash, *got.ContentHash)
	require.Equal(t, []string{"A2"}, got.DuplicateOfIDs)

	n, err := CountAnalyses(ctx, database, "U1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	err = SetAnalysisMerge(ctx, database, "A2", &hash, nil)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRepointIngestions(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	rec := newIngestion("01A", "U1", analysis.StatusCompleted)
	rec.AnalysisID = strPtr("A2")
	require.NoError(t, InsertIngestion(ctx, database, rec))

	require.NoError(t, RepointIngestions(ctx, database, []string{"A2", "A3"}, "A1"))

	got, err := GetIngestion(ctx, database, "01A")
	require.NoError(t, err)
	require.Equal(t, "A1", *got.AnalysisID)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)

	sentinel := errors.NewInvalidRequest("boom")
	err := WithTx(ctx, database, func(tx *sql.Tx) error {
		require.NoError(t, InsertAnalysis(ctx, tx, newAnalysis("A1", "U1", "x", 1, true)))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	n, err := CountAnalyses(ctx, database, "U1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
