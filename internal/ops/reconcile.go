package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sort"
	"strings"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
)

// reconcileAttempts bounds retries when another writer wins the (owner, hash) index.
const reconcileAttempts = 3

// ReconcileInput is a freshly produced analysis to persist.
type ReconcileInput struct {
	OwnerID     string
	IngestionID *string
	CallType    string
	Transcript  string
	Structured  analysis.StructuredAnalysis

	// ID and CreatedAt are assigned when empty. Fixing them makes the
	// canonical choice reproducible.
	ID        string
	CreatedAt int64
}

// ReconcileOutput is the canonical record after the merge.
type ReconcileOutput struct {
	Record *analysis.AnalysisRecord `json:"record"`

	// Duplicate is set when the transcript matched an existing record.
	Duplicate bool `json:"duplicate"`
}

// Reconcile persists a proposed analysis, keeping exactly one canonical record
// per (owner, content hash). Among same-hash records the earliest created, then
// lowest id, is canonical; the others are absorbed into its DuplicateOfIDs and
// deleted.
func Reconcile(ctx context.Context, database *sql.DB, input ReconcileInput) (*ReconcileOutput, error) {
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	if input.OwnerID == "" {
		return nil, errors.NewInvalidRequest("owner_id is required")
	}
	if err := input.Structured.Scores.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	proposed := newAnalysisRecord(input)

	release := reconcileLocks.lock(input.OwnerID)
	defer release()

	var out *ReconcileOutput
	var err error
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		err = db.WithTx(ctx, database, func(tx *sql.Tx) error {
			res, txErr := reconcileTx(ctx, tx, proposed)
			out = res
			return txErr
		})
		if !stderrors.Is(err, db.ErrUniqueConstraint) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newAnalysisRecord(input ReconcileInput) *analysis.AnalysisRecord {
	id := input.ID
	if id == "" {
		id = newID()
	}
	createdAt := input.CreatedAt
	if createdAt == 0 {
		createdAt = nowMillis()
	}
	hash := analysis.ContentHash(input.Transcript)
	score := input.Structured.Scores.Total()

	structured := input.Structured
	if structured.Strengths == nil {
		structured.Strengths = []string{}
	}
	if structured.Improvements == nil {
		structured.Improvements = []string{}
	}

	return &analysis.AnalysisRecord{
		ID:             id,
		OwnerID:        input.OwnerID,
		CallType:       strings.TrimSpace(input.CallType),
		IngestionID:    cleanOptionalString(input.IngestionID),
		TranscriptText: input.Transcript,
		ContentHash:    &hash,
		Score:          score,
		ScoreCategory:  analysis.CategoryFor(score),
		Structured:     structured,
		DuplicateOfIDs: []string{},
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func reconcileTx(ctx context.Context, tx *sql.Tx, template *analysis.AnalysisRecord) (*ReconcileOutput, error) {
	// Work on a copy so a retried attempt starts clean.
	proposed := new(analysis.AnalysisRecord)
	*proposed = *template
	proposed.DuplicateOfIDs = []string{}

	existing, err := db.ListAnalysesByHash(ctx, tx, proposed.OwnerID, *proposed.ContentHash)
	if err != nil {
		return nil, err
	}

	if len(existing) == 0 {
		if err := db.InsertAnalysis(ctx, tx, proposed); err != nil {
			return nil, err
		}
		if err := linkIngestion(ctx, tx, proposed); err != nil {
			return nil, err
		}
		return &ReconcileOutput{Record: proposed}, nil
	}

	// Replaying the same record id is a no-op.
	for _, e := range existing {
		if e.ID == proposed.ID {
			return &ReconcileOutput{Record: e, Duplicate: true}, nil
		}
	}

	group := append(existing, proposed)
	canonical, absorbed := electCanonical(group)
	merged := mergeDuplicateIDs(canonical, group)

	// Absorbed rows go first so the (owner, hash) index never sees two rows.
	var deleteIDs []string
	for _, a := range absorbed {
		if a != proposed {
			deleteIDs = append(deleteIDs, a.ID)
		}
	}
	if _, err := db.DeleteAnalyses(ctx, tx, deleteIDs); err != nil {
		return nil, err
	}

	if canonical == proposed {
		proposed.DuplicateOfIDs = merged
		if err := db.InsertAnalysis(ctx, tx, proposed); err != nil {
			return nil, err
		}
	} else {
		if err := db.SetAnalysisMerge(ctx, tx, canonical.ID, canonical.ContentHash, merged); err != nil {
			return nil, err
		}
		canonical.DuplicateOfIDs = merged
	}

	if err := db.RepointIngestions(ctx, tx, deleteIDs, canonical.ID); err != nil {
		return nil, err
	}
	if err := linkIngestion(ctx, tx, canonical); err != nil {
		return nil, err
	}

	record, err := db.GetAnalysis(ctx, tx, canonical.ID)
	if err != nil {
		return nil, err
	}
	return &ReconcileOutput{Record: record, Duplicate: true}, nil
}

// linkIngestion stamps the hash on ingestions that reference the record.
func linkIngestion(ctx context.Context, tx *sql.Tx, rec *analysis.AnalysisRecord) error {
	if rec.ContentHash == nil {
		return nil
	}
	return db.SetIngestionHashes(ctx, tx, rec.ID, *rec.ContentHash)
}

// electCanonical picks the minimum record by (CreatedAt, ID) and returns the rest.
func electCanonical(group []*analysis.AnalysisRecord) (*analysis.AnalysisRecord, []*analysis.AnalysisRecord) {
	canonical := group[0]
	for _, a := range group[1:] {
		if a.Before(canonical) {
			canonical = a
		}
	}
	absorbed := make([]*analysis.AnalysisRecord, 0, len(group)-1)
	for _, a := range group {
		if a != canonical {
			absorbed = append(absorbed, a)
		}
	}
	return canonical, absorbed
}

// mergeDuplicateIDs unions every member's absorbed ids plus the members
// themselves, minus the canonical id, sorted.
func mergeDuplicateIDs(canonical *analysis.AnalysisRecord, group []*analysis.AnalysisRecord) []string {
	set := make(map[string]struct{})
	for _, a := range group {
		for _, id := range a.DuplicateOfIDs {
			set[id] = struct{}{}
		}
		set[a.ID] = struct{}{}
	}
	delete(set, canonical.ID)

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
