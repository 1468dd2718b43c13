package ops

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
)

func TestReconcile_SameTranscriptTwice(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	first, err := Reconcile(ctx, database, ReconcileInput{
		OwnerID:    "U1",
		Transcript: "Hello world",
		Structured: scores(5, 6, 7, 8),
	})
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.Equal(t, analysis.ContentHash("Hello world"), *first.Record.ContentHash)
	require.Equal(t, 26, first.Record.Score)
	require.Equal(t, analysis.CategoryProficient, first.Record.ScoreCategory)

	secondID := newID()
	second, err := Reconcile(ctx, database, ReconcileInput{
		OwnerID:    "U1",
		Transcript: "Hello world",
		Structured: scores(1, 1, 1, 1),
		ID:         secondID,
	})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Record.ID, second.Record.ID)
	require.Equal(t, []string{secondID}, second.Record.DuplicateOfIDs)

	// The canonical record keeps its own analysis.
	require.Equal(t, 26, second.Record.Score)

	n, err := db.CountAnalyses(ctx, database, "U1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReconcile_DistinctTranscriptsAndOwners(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	for _, in := range []ReconcileInput{
		{OwnerID: "U1", Transcript: "alpha"},
		{OwnerID: "U1", Transcript: "beta"},
		{OwnerID: "U1", Transcript: ""},
		{OwnerID: "U2", Transcript: "alpha"},
	} {
		in.Structured = scores(5, 5, 5, 5)
		out, err := Reconcile(ctx, database, in)
		require.NoError(t, err)
		require.False(t, out.Duplicate, "owner %s transcript %q", in.OwnerID, in.Transcript)
	}

	n, err := db.CountAnalyses(ctx, database, "U1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestReconcile_EmptyTranscriptsCollapse(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := Reconcile(ctx, database, ReconcileInput{OwnerID: "U1", Transcript: "", Structured: scores(1, 1, 1, 1)})
		require.NoError(t, err)
	}
	n, err := db.CountAnalyses(ctx, database, "U1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReconcile_Validation(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := Reconcile(ctx, database, ReconcileInput{Transcript: "x", Structured: scores(1, 1, 1, 1)})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Reconcile(ctx, database, ReconcileInput{OwnerID: "U1", Transcript: "x", Structured: scores(11, 1, 1, 1)})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestReconcile_ReplaySameIDIsNoop(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	in := ReconcileInput{OwnerID: "U1", Transcript: "t", Structured: scores(2, 2, 2, 2), ID: "01FIXED", CreatedAt: 100}
	_, err := Reconcile(ctx, database, in)
	require.NoError(t, err)

	out, err := Reconcile(ctx, database, in)
	require.NoError(t, err)
	require.True(t, out.Duplicate)
	require.Equal(t, "01FIXED", out.Record.ID)
	require.Empty(t, out.Record.DuplicateOfIDs)
}

func TestReconcile_ConcurrentSameTranscript(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Reconcile(ctx, database, ReconcileInput{
				OwnerID:    "U1",
				Transcript: "same words",
				Structured: scores(4, 4, 4, 4),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := db.ListOwnerAnalyses(ctx, database, "U1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].DuplicateOfIDs, workers-1)
}

func TestReconcile_PermutationsElectSameCanonical(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	inputs := []ReconcileInput{
		{ID: "01A", CreatedAt: 300},
		{ID: "01B", CreatedAt: 100},
		{ID: "01C", CreatedAt: 200},
		{ID: "01D", CreatedAt: 100},
	}
	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}

	for i, order := range orders {
		owner := fmt.Sprintf("owner-%d", i)
		for _, idx := range order {
			in := inputs[idx]
			in.OwnerID = owner
			in.ID = in.ID + "-" + owner
			in.Transcript = "shared transcript"
			in.Structured = scores(3, 3, 3, 3)
			_, err := Reconcile(ctx, database, in)
			require.NoError(t, err)
		}

		records, err := db.ListOwnerAnalyses(ctx, database, owner)
		require.NoError(t, err)
		require.Len(t, records, 1, "order %v", order)

		// Ties on CreatedAt fall to the lower id.
		require.Equal(t, "01B-"+owner, records[0].ID, "order %v", order)
		require.Equal(t, []string{"01A-" + owner, "01C-" + owner, "01D-" + owner}, records[0].DuplicateOfIDs)
	}
}

func TestReconcile_RepointsIngestionOfAbsorbedRecord(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	// A later-arriving record with an earlier timestamp takes over.
	ing := &analysis.IngestionRecord{
		ID:              "ing-1",
		OwnerID:         "U1",
		SourceObjectRef: "recordings/U1/ing-1-call.mp3",
		OperationID:     "op-1",
		Status:          analysis.StatusCompleted,
		AnalysisID:      strPtr("01LATE"),
		CreatedAt:       1,
		UpdatedAt:       1,
	}
	require.NoError(t, db.InsertIngestion(ctx, database, ing))

	_, err := Reconcile(ctx, database, ReconcileInput{
		OwnerID: "U1", Transcript: "x", Structured: scores(1, 1, 1, 1),
		ID: "01LATE", CreatedAt: 500, IngestionID: strPtr("ing-1"),
	})
	require.NoError(t, err)

	out, err := Reconcile(ctx, database, ReconcileInput{
		OwnerID: "U1", Transcript: "x", Structured: scores(2, 2, 2, 2),
		ID: "01EARLY", CreatedAt: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "01EARLY", out.Record.ID)
	require.Equal(t, []string{"01LATE"}, out.Record.DuplicateOfIDs)

	got, err := db.GetIngestion(ctx, database, "ing-1")
	require.NoError(t, err)
	require.Equal(t, "01EARLY", *got.AnalysisID)
	require.Equal(t, analysis.ContentHash("x"), *got.ContentHash)

	_, err = db.GetAnalysis(ctx, database, "01LATE")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
