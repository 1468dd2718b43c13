package analysis

// IngestionRecord tracks one uploaded recording through the pipeline.
type IngestionRecord struct {
	// ID is a ULID generated when the upload credential is issued
	ID string `json:"id"`

	// OwnerID references the account that owns the recording
	OwnerID string `json:"owner_id"`

	// SourceObjectRef is the object-store path of the media object
	SourceObjectRef string `json:"source_object_ref"`

	// OperationID is the cancellation handle key for the transcription run
	OperationID string `json:"operation_id"`

	Status        Status        `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	FailureDetail string        `json:"failure_detail,omitempty"`

	// CallType is the free-text classification tag supplied by the uploader
	CallType         string `json:"call_type,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	ContentType      string `json:"content_type,omitempty"`

	// JobHandle is the transcription backend's job id (nullable)
	JobHandle *string `json:"job_handle,omitempty"`

	// AnalysisID points to the canonical analysis once completed (nullable)
	AnalysisID *string `json:"analysis_id,omitempty"`

	// ContentHash is the transcript hash, patched after completion or by backfill (nullable)
	ContentHash *string `json:"content_hash,omitempty"`

	// CreatedAt and UpdatedAt are Unix milliseconds
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// IsTerminal reports whether the record reached completed or failed.
func (r *IngestionRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// AnalysisRecord is one finished analysis. Among records of one owner sharing a
// ContentHash only the canonical one survives.
type AnalysisRecord struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	CallType string `json:"call_type,omitempty"`

	// IngestionID is nil for analyses submitted directly
	IngestionID *string `json:"ingestion_id,omitempty"`

	TranscriptText string `json:"transcript_text"`

	// ContentHash is the hex SHA-256 of TranscriptText, nil until backfilled
	ContentHash *string `json:"content_hash,omitempty"`

	Score         int           `json:"score"`
	ScoreCategory ScoreCategory `json:"score_category"`

	Structured StructuredAnalysis `json:"structured_analysis"`

	// DuplicateOfIDs lists the ids this record absorbed, sorted
	DuplicateOfIDs []string `json:"duplicate_of_ids"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// AnalysisSummary is the compact view returned by list operations.
type AnalysisSummary struct {
	ID            string        `json:"id"`
	IngestionID   *string       `json:"ingestion_id,omitempty"`
	CallType      string        `json:"call_type,omitempty"`
	Score         int           `json:"score"`
	ScoreCategory ScoreCategory `json:"score_category"`
	Scores        SubScores     `json:"scores"`
	CreatedAt     int64         `json:"created_at"`
}

// Summary returns the compact view of the record.
func (a *AnalysisRecord) Summary() AnalysisSummary {
	return AnalysisSummary{
		ID:            a.ID,
		IngestionID:   a.IngestionID,
		CallType:      a.CallType,
		Score:         a.Score,
		ScoreCategory: a.ScoreCategory,
		Scores:        a.Structured.Scores,
		CreatedAt:     a.CreatedAt,
	}
}

// Before reports whether a precedes b in canonical order:
// earliest CreatedAt first, lowest ID on ties.
func (a *AnalysisRecord) Before(b *AnalysisRecord) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
