// Package export writes an owner's canonical analyses to an xlsx workbook.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
)

const sheet = "Analyses"

var headers = []string{
	"Created",
	"Analysis ID",
	"Ingestion ID",
	"Call Type",
	"Score",
	"Category",
	"Opening",
	"Discovery",
	"Objection Handling",
	"Closing",
	"Duplicates Absorbed",
	"Summary",
}

// Input contains parameters for Analyses.
type Input struct {
	OwnerID string
	Path    string
}

// Output reports the written file.
type Output struct {
	Path    string `json:"path"`
	OwnerID string `json:"owner_id"`
	Rows    int    `json:"rows"`
	Bytes   int    `json:"bytes"`
}

// Analyses writes one row per canonical analysis of the owner, oldest first,
// to a file directly inside one of allowedDirs.
func Analyses(ctx context.Context, database *sql.DB, allowedDirs []string, input Input) (*Output, error) {
	owner := strings.TrimSpace(input.OwnerID)
	if owner == "" {
		return nil, errors.NewInvalidRequest("owner is required")
	}
	if err := ValidatePath(input.Path, allowedDirs); err != nil {
		return nil, err
	}

	records, err := db.ListOwnerAnalyses(ctx, database, owner)
	if err != nil {
		return nil, err
	}

	data, err := Workbook(records)
	if err != nil {
		return nil, err
	}

	f, err := openFileNoFollow(input.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, errors.NewInternal(fmt.Errorf("write export: %w", err))
	}
	if err := f.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("close export: %w", err))
	}

	return &Output{Path: input.Path, OwnerID: owner, Rows: len(records), Bytes: len(data)}, nil
}

// Workbook renders records into xlsx bytes.
func Workbook(records []*analysis.AnalysisRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, errors.NewInternal(err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range records {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		ingestion := ""
		if r.IngestionID != nil {
			ingestion = *r.IngestionID
		}
		s := r.Structured.Scores

		write(1, time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339))
		write(2, r.ID)
		write(3, ingestion)
		write(4, r.CallType)
		write(5, r.Score)
		write(6, string(r.ScoreCategory))
		write(7, s.Opening)
		write(8, s.Discovery)
		write(9, s.ObjectionHandling)
		write(10, s.Closing)
		write(11, len(r.DuplicateOfIDs))
		write(12, r.Structured.Summary)
	}

	_ = f.SetColWidth(sheet, "A", "A", 22)
	_ = f.SetColWidth(sheet, "B", "C", 28)
	_ = f.SetColWidth(sheet, "D", "D", 16)
	_ = f.SetColWidth(sheet, "E", "K", 12)
	_ = f.SetColWidth(sheet, "L", "L", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("xlsx write: %w", err))
	}
	return buf.Bytes(), nil
}
