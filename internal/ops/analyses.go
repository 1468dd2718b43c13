package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
)

// StatusInput contains parameters for GetIngestionStatus.
type StatusInput struct {
	IngestionID string
	// OwnerID restricts the lookup to the caller. Empty skips the check.
	OwnerID string
}

// GetIngestionStatus returns an ingestion record including its failure reason.
// Records of other owners are reported as not found.
func GetIngestionStatus(ctx context.Context, database *sql.DB, input StatusInput) (*analysis.IngestionRecord, error) {
	id := strings.TrimSpace(input.IngestionID)
	if id == "" {
		return nil, errors.NewInvalidRequest("ingestion id is required")
	}
	rec, err := db.GetIngestion(ctx, database, id)
	if err != nil {
		return nil, err
	}
	if input.OwnerID != "" && rec.OwnerID != input.OwnerID {
		return nil, errors.NewNotFound("ingestion", id)
	}
	return rec, nil
}

// CancelInput contains parameters for CancelOperation.
type CancelInput struct {
	OperationID string
	OwnerID     string
}

// CancelOutput reports whether a live operation was signalled.
type CancelOutput struct {
	OperationID string `json:"operation_id"`
	Cancelled   bool   `json:"cancelled"`
}

// CancelOperation signals the registered operation. An id that is not
// registered but belongs to a known ingestion (already finished, or never
// started in this process) yields cancelled=false. Only ids unknown to both
// the registry and the store are NotFound.
func CancelOperation(ctx context.Context, database *sql.DB, registry *cancel.Registry, input CancelInput) (*CancelOutput, error) {
	opID := strings.TrimSpace(input.OperationID)
	if opID == "" {
		return nil, errors.NewInvalidRequest("operation id is required")
	}

	if op, ok := registry.Lookup(opID); ok && ownedBy(op.OwnerID, input.OwnerID) {
		return &CancelOutput{OperationID: opID, Cancelled: registry.Cancel(opID)}, nil
	}

	rec, err := db.GetIngestionByOperation(ctx, database, opID)
	if err != nil {
		return nil, err
	}
	if !ownedBy(rec.OwnerID, input.OwnerID) {
		return nil, errors.NewNotFound("operation", opID)
	}
	return &CancelOutput{OperationID: opID}, nil
}

func ownedBy(recordOwner, caller string) bool {
	return caller == "" || recordOwner == caller
}

// GetAnalysisInput contains parameters for GetAnalysis.
type GetAnalysisInput struct {
	ID      string
	OwnerID string
}

// GetAnalysis loads one analysis. Records of other owners are reported as not found.
func GetAnalysis(ctx context.Context, database *sql.DB, input GetAnalysisInput) (*analysis.AnalysisRecord, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("analysis id is required")
	}
	rec, err := db.GetAnalysis(ctx, database, id)
	if err != nil {
		return nil, err
	}
	if !ownedBy(rec.OwnerID, input.OwnerID) {
		return nil, errors.NewNotFound("analysis", id)
	}
	return rec, nil
}

// SubmitInput is a directly submitted analysis with no ingestion behind it.
type SubmitInput struct {
	OwnerID    string                      `json:"-"`
	CallType   string                      `json:"call_type"`
	Transcript string                      `json:"transcript"`
	Structured analysis.StructuredAnalysis `json:"structured_analysis"`
}

// SubmitAnalysis reconciles a direct submission against the owner's records.
func SubmitAnalysis(ctx context.Context, database *sql.DB, input SubmitInput) (*ReconcileOutput, error) {
	if strings.TrimSpace(input.Transcript) == "" {
		return nil, errors.NewInvalidRequest("transcript is required")
	}
	return Reconcile(ctx, database, ReconcileInput{
		OwnerID:    input.OwnerID,
		CallType:   input.CallType,
		Transcript: input.Transcript,
		Structured: input.Structured,
	})
}

// ListIngestionsInput contains parameters for ListIngestions.
type ListIngestionsInput struct {
	OwnerID string
	Limit   int
}

// ListIngestions returns an owner's most recent ingestions.
func ListIngestions(ctx context.Context, database *sql.DB, input ListIngestionsInput) ([]*analysis.IngestionRecord, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, errors.NewInvalidRequest("owner_id is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultProgressionLimit
	}
	if limit > MaxProgressionLimit {
		limit = MaxProgressionLimit
	}
	return db.ListIngestionsByOwner(ctx, database, input.OwnerID, limit)
}
