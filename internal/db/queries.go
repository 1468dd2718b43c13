package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.CoachError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

const ingestionColumns = `
	id, owner_id, source_object_ref, operation_id, status,
	failure_reason, failure_detail, call_type, original_filename, content_type,
	job_handle, analysis_id, content_hash, created_at, updated_at
`

// InsertIngestion stores a new ingestion record.
func InsertIngestion(ctx context.Context, q Querier, r *analysis.IngestionRecord) error {
	query := `INSERT INTO ingestions (` + ingestionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		r.ID, r.OwnerID, r.SourceObjectRef, r.OperationID, string(r.Status),
		toNullString(string(r.FailureReason)), toNullString(r.FailureDetail),
		toNullString(r.CallType), toNullString(r.OriginalFilename), toNullString(r.ContentType),
		ptrToNull(r.JobHandle), ptrToNull(r.AnalysisID), ptrToNull(r.ContentHash),
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetIngestion retrieves an ingestion by id.
func GetIngestion(ctx context.Context, q Querier, id string) (*analysis.IngestionRecord, error) {
	return getIngestionWhere(ctx, q, "id = ?", id, "ingestion", id)
}

// GetIngestionBySourceRef retrieves the ingestion that owns an object path.
func GetIngestionBySourceRef(ctx context.Context, q Querier, ref string) (*analysis.IngestionRecord, error) {
	return getIngestionWhere(ctx, q, "source_object_ref = ?", ref, "ingestion", ref)
}

// GetIngestionByOperation retrieves the ingestion associated with an operation id.
func GetIngestionByOperation(ctx context.Context, q Querier, operationID string) (*analysis.IngestionRecord, error) {
	return getIngestionWhere(ctx, q, "operation_id = ?", operationID, "operation", operationID)
}

func getIngestionWhere(ctx context.Context, q Querier, where, arg, kind, identifier string) (*analysis.IngestionRecord, error) {
	query := `SELECT ` + ingestionColumns + ` FROM ingestions WHERE ` + where
	r, err := scanIngestion(q.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(kind, identifier)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// IngestionPatch carries optional columns written alongside a status change.
// Nil fields are left untouched.
type IngestionPatch struct {
	JobHandle     *string
	AnalysisID    *string
	ContentHash   *string
	FailureReason *analysis.FailureReason
	FailureDetail *string
}

// TransitionIngestion moves a record from one status to the next with a
// compare-and-swap on the current status. Returns NotFound when the id is
// unknown and Conflict when the record is no longer in `from`.
func TransitionIngestion(ctx context.Context, q Querier, id string, from, to analysis.Status, patch IngestionPatch) error {
	if !analysis.CanTransition(from, to) {
		return errors.NewConflict("illegal transition " + string(from) + " -> " + string(to))
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), time.Now().UnixMilli()}
	sets, args = appendPatch(sets, args, patch)
	args = append(args, id, string(from))

	query := `UPDATE ingestions SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		current, err := GetIngestion(ctx, q, id)
		if err != nil {
			return err
		}
		return errors.NewConflict("ingestion " + id + " is " + string(current.Status) + ", expected " + string(from))
	}
	return nil
}

// FailIngestion marks a non-terminal ingestion as failed. A record that is
// already terminal is left alone and reported via the returned bool.
func FailIngestion(ctx context.Context, q Querier, id string, reason analysis.FailureReason, detail string) (bool, error) {
	query := `
		UPDATE ingestions
		SET status = ?, failure_reason = ?, failure_detail = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`
	result, err := q.ExecContext(ctx, query,
		string(analysis.StatusFailed), string(reason), toNullString(detail), time.Now().UnixMilli(),
		id, string(analysis.StatusCompleted), string(analysis.StatusFailed),
	)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rows > 0, nil
}

// RepointIngestions moves analysis references from absorbed records to the canonical one.
func RepointIngestions(ctx context.Context, q Querier, fromAnalysisIDs []string, toAnalysisID string) error {
	if len(fromAnalysisIDs) == 0 {
		return nil
	}
	args := []any{toAnalysisID, time.Now().UnixMilli()}
	for _, id := range fromAnalysisIDs {
		args = append(args, id)
	}
	query := `UPDATE ingestions SET analysis_id = ?, updated_at = ? WHERE analysis_id IN (` + placeholders(len(fromAnalysisIDs)) + `)`
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// SetIngestionJobHandle stores the backend job handle of a transcribing record.
func SetIngestionJobHandle(ctx context.Context, q Querier, id, jobHandle string) error {
	result, err := q.ExecContext(ctx, `
		UPDATE ingestions SET job_handle = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, jobHandle, time.Now().UnixMilli(), id, string(analysis.StatusTranscribing))
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewConflict("ingestion " + id + " is not transcribing")
	}
	return nil
}

// SetIngestionHashes patches the content hash onto every ingestion that points
// at analysisID. Terminal records accept this metadata patch.
func SetIngestionHashes(ctx context.Context, q Querier, analysisID, hash string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE ingestions SET content_hash = ?, updated_at = ?
		WHERE analysis_id = ? AND (content_hash IS NULL OR content_hash != ?)
	`, hash, time.Now().UnixMilli(), analysisID, hash)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ActiveSourceRefs returns the object paths of every non-terminal ingestion.
// These objects must not be swept. Pending records created before
// pendingCutoff (unix millis) have an expired upload credential and do not
// count; pass 0 to count every pending record.
func ActiveSourceRefs(ctx context.Context, q Querier, pendingCutoff int64) (map[string]bool, error) {
	statuses := analysis.ActiveStatuses()
	args := make([]any, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, string(analysis.StatusPending), pendingCutoff)

	query := `SELECT source_object_ref FROM ingestions
		WHERE status IN (` + placeholders(len(statuses)) + `)
		AND NOT (status = ? AND created_at < ?)`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, errors.NewInternal(err)
		}
		refs[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return refs, nil
}

// IsActiveSourceRef reports whether a non-terminal ingestion references the
// object path, with the same pending cutoff as ActiveSourceRefs.
func IsActiveSourceRef(ctx context.Context, q Querier, ref string, pendingCutoff int64) (bool, error) {
	r, err := GetIngestionBySourceRef(ctx, q, ref)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if r.Status == analysis.StatusPending && r.CreatedAt < pendingCutoff {
		return false, nil
	}
	return !r.IsTerminal(), nil
}

// ExpirePendingIngestions fails pending records created before cutoff (unix
// millis). Their upload credential can no longer complete, so the reserved
// object path is released.
func ExpirePendingIngestions(ctx context.Context, q Querier, cutoff int64) (int, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE ingestions
		SET status = ?, failure_reason = ?, failure_detail = ?, updated_at = ?
		WHERE status = ? AND created_at < ?
	`, string(analysis.StatusFailed), string(analysis.ReasonProcessingFailed), "upload credential expired",
		time.Now().UnixMilli(), string(analysis.StatusPending), cutoff)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// ListIngestionsByOwner returns an owner's ingestions newest first.
func ListIngestionsByOwner(ctx context.Context, q Querier, ownerID string, limit int) ([]*analysis.IngestionRecord, error) {
	query := `SELECT ` + ingestionColumns + ` FROM ingestions WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := q.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*analysis.IngestionRecord
	for rows.Next() {
		r, err := scanIngestion(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// ListIngestionsByStatus returns every ingestion in one of the given statuses, oldest first.
func ListIngestionsByStatus(ctx context.Context, q Querier, statuses ...analysis.Status) ([]*analysis.IngestionRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	query := `SELECT ` + ingestionColumns + ` FROM ingestions WHERE status IN (` + placeholders(len(statuses)) + `) ORDER BY created_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*analysis.IngestionRecord
	for rows.Next() {
		r, err := scanIngestion(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func appendPatch(sets []string, args []any, p IngestionPatch) ([]string, []any) {
	if p.JobHandle != nil {
		sets = append(sets, "job_handle = ?")
		args = append(args, *p.JobHandle)
	}
	if p.AnalysisID != nil {
		sets = append(sets, "analysis_id = ?")
		args = append(args, *p.AnalysisID)
	}
	if p.ContentHash != nil {
		sets = append(sets, "content_hash = ?")
		args = append(args, *p.ContentHash)
	}
	if p.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, string(*p.FailureReason))
	}
	if p.FailureDetail != nil {
		sets = append(sets, "failure_detail = ?")
		args = append(args, *p.FailureDetail)
	}
	return sets, args
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIngestion(s rowScanner) (*analysis.IngestionRecord, error) {
	var r analysis.IngestionRecord
	var status string
	var failureReason, failureDetail, callType, filename, contentType sql.NullString
	var jobHandle, analysisID, contentHash sql.NullString

	err := s.Scan(
		&r.ID, &r.OwnerID, &r.SourceObjectRef, &r.OperationID, &status,
		&failureReason, &failureDetail, &callType, &filename, &contentType,
		&jobHandle, &analysisID, &contentHash, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = analysis.Status(status)
	r.FailureReason = analysis.FailureReason(failureReason.String)
	r.FailureDetail = failureDetail.String
	r.CallType = callType.String
	r.OriginalFilename = filename.String
	r.ContentType = contentType.String
	r.JobHandle = fromNullString(jobHandle)
	r.AnalysisID = fromNullString(analysisID)
	r.ContentHash = fromNullString(contentHash)

	return &r, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// toNullString converts an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ptrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
