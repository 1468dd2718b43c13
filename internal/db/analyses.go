package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/errors"
)

const analysisColumns = `
	id, owner_id, call_type, ingestion_id, transcript_text, content_hash,
	score, score_category, analysis_json, duplicate_of_json, created_at, updated_at
`

// InsertAnalysis stores a new analysis. Returns ErrUniqueConstraint when the
// owner already has a record with the same content hash.
func InsertAnalysis(ctx context.Context, q Querier, a *analysis.AnalysisRecord) error {
	structured, err := json.Marshal(a.Structured)
	if err != nil {
		return errors.NewInternal(err)
	}
	dupJSON, err := encodeDuplicates(a.DuplicateOfIDs)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `INSERT INTO analyses (` + analysisColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = q.ExecContext(ctx, query,
		a.ID, a.OwnerID, toNullString(a.CallType), ptrToNull(a.IngestionID), a.TranscriptText,
		ptrToNull(a.ContentHash), a.Score, string(a.ScoreCategory), string(structured), dupJSON,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetAnalysis retrieves an analysis by id.
func GetAnalysis(ctx context.Context, q Querier, id string) (*analysis.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = ?`
	a, err := scanAnalysis(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("analysis", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// ListAnalysesByHash returns an owner's records with the given hash in canonical order.
func ListAnalysesByHash(ctx context.Context, q Querier, ownerID, hash string) ([]*analysis.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses
		WHERE owner_id = ? AND content_hash = ?
		ORDER BY created_at ASC, id ASC`
	return queryAnalyses(ctx, q, query, ownerID, hash)
}

// ListRecentAnalyses returns an owner's records newest first.
func ListRecentAnalyses(ctx context.Context, q Querier, ownerID string, limit int) ([]*analysis.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	return queryAnalyses(ctx, q, query, ownerID, limit)
}

// ListOwnerAnalyses returns every record of an owner in canonical order.
func ListOwnerAnalyses(ctx context.Context, q Querier, ownerID string) ([]*analysis.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses
		WHERE owner_id = ?
		ORDER BY created_at ASC, id ASC`
	return queryAnalyses(ctx, q, query, ownerID)
}

// OwnersWithUnhashedAnalyses lists owners that still have records without a content hash.
func OwnersWithUnhashedAnalyses(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT owner_id FROM analyses
		WHERE content_hash IS NULL
		ORDER BY owner_id
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, errors.NewInternal(err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return owners, nil
}

// CountAnalyses returns the number of records an owner has.
func CountAnalyses(ctx context.Context, q Querier, ownerID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses WHERE owner_id = ?`, ownerID).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// SetAnalysisMerge writes the content hash and absorbed ids of a canonical record.
func SetAnalysisMerge(ctx context.Context, q Querier, id string, hash *string, duplicateOfIDs []string) error {
	dupJSON, err := encodeDuplicates(duplicateOfIDs)
	if err != nil {
		return errors.NewInternal(err)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE analyses SET content_hash = ?, duplicate_of_json = ?, updated_at = ?
		WHERE id = ?
	`, ptrToNull(hash), dupJSON, time.Now().UnixMilli(), id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewNotFound("analysis", id)
	}
	return nil
}

// DeleteAnalyses hard-deletes records by id and returns how many were removed.
func DeleteAnalyses(ctx context.Context, q Querier, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	result, err := q.ExecContext(ctx, `DELETE FROM analyses WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(rows), nil
}

func queryAnalyses(ctx context.Context, q Querier, query string, args ...any) ([]*analysis.AnalysisRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*analysis.AnalysisRecord
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func scanAnalysis(s rowScanner) (*analysis.AnalysisRecord, error) {
	var a analysis.AnalysisRecord
	var callType, ingestionID, contentHash, dupJSON sql.NullString
	var category, structured string

	err := s.Scan(
		&a.ID, &a.OwnerID, &callType, &ingestionID, &a.TranscriptText, &contentHash,
		&a.Score, &category, &structured, &dupJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CallType = callType.String
	a.IngestionID = fromNullString(ingestionID)
	a.ContentHash = fromNullString(contentHash)
	a.ScoreCategory = analysis.ScoreCategory(category)

	if err := json.Unmarshal([]byte(structured), &a.Structured); err != nil {
		return nil, err
	}
	a.DuplicateOfIDs = []string{}
	if dupJSON.Valid && dupJSON.String != "" {
		if err := json.Unmarshal([]byte(dupJSON.String), &a.DuplicateOfIDs); err != nil {
			return nil, err
		}
	}

	return &a, nil
}

func encodeDuplicates(ids []string) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
