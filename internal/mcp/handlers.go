package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/errors"
	"github.com/hpungsan/callcoach/internal/export"
	"github.com/hpungsan/callcoach/internal/logger"
	"github.com/hpungsan/callcoach/internal/ops"
)

// Deps are the collaborators the tools call into. The stdio transport is a
// local operator surface, so owners are taken from the arguments.
type Deps struct {
	DB       *sql.DB
	Config   *config.Config
	Registry *cancel.Registry
	Sweeper  *ops.Sweeper
	Log      *logger.Logger

	// BaseDir anchors the default export directory.
	BaseDir string
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{Deps: d}
}

// Request types for each tool

// IngestionStatusRequest represents the arguments for ingestion_status.
type IngestionStatusRequest struct {
	IngestionID string `json:"ingestion_id"`
}

// IngestionListRequest represents the arguments for ingestion_list.
type IngestionListRequest struct {
	OwnerID string `json:"owner_id"`
	Limit   int    `json:"limit,omitempty"`
}

// CancelRequest represents the arguments for operation_cancel.
type CancelRequest struct {
	OperationID string `json:"operation_id"`
}

// AnalysisGetRequest represents the arguments for analysis_get.
type AnalysisGetRequest struct {
	ID string `json:"id"`
}

// AnalysisSubmitRequest represents the arguments for analysis_submit.
type AnalysisSubmitRequest struct {
	OwnerID    string                      `json:"owner_id"`
	CallType   string                      `json:"call_type,omitempty"`
	Transcript string                      `json:"transcript"`
	Structured analysis.StructuredAnalysis `json:"structured_analysis"`
}

// ProgressionRequest represents the arguments for analysis_progression.
type ProgressionRequest struct {
	OwnerID string `json:"owner_id"`
	Limit   int    `json:"limit,omitempty"`
}

// ExportRequest represents the arguments for analysis_export.
type ExportRequest struct {
	OwnerID string `json:"owner_id"`
	Path    string `json:"path,omitempty"`
}

// SweepRequest represents the arguments for storage_sweep.
type SweepRequest struct {
	MaxAgeHours float64 `json:"max_age_hours"`
	DryRun      *bool   `json:"dry_run,omitempty"`
	OwnerScope  string  `json:"owner_scope,omitempty"`
}

// Handler implementations

// HandleIngestionStatus handles the ingestion_status tool call.
func (h *Handlers) HandleIngestionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IngestionStatusRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.GetIngestionStatus(ctx, h.DB, ops.StatusInput{IngestionID: input.IngestionID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleIngestionList handles the ingestion_list tool call.
func (h *Handlers) HandleIngestionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IngestionListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ListIngestions(ctx, h.DB, ops.ListIngestionsInput{OwnerID: input.OwnerID, Limit: input.Limit})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"ingestions": result})
}

// HandleCancel handles the operation_cancel tool call.
func (h *Handlers) HandleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CancelRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.CancelOperation(ctx, h.DB, h.Registry, ops.CancelInput{OperationID: input.OperationID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAnalysisGet handles the analysis_get tool call.
func (h *Handlers) HandleAnalysisGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnalysisGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.GetAnalysis(ctx, h.DB, ops.GetAnalysisInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAnalysisSubmit handles the analysis_submit tool call.
func (h *Handlers) HandleAnalysisSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnalysisSubmitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.SubmitAnalysis(ctx, h.DB, ops.SubmitInput{
		OwnerID:    input.OwnerID,
		CallType:   input.CallType,
		Transcript: input.Transcript,
		Structured: input.Structured,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleProgression handles the analysis_progression tool call.
func (h *Handlers) HandleProgression(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProgressionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ComputeProgression(ctx, h.DB, h.Config.TrendNoiseThreshold, ops.ProgressionInput{
		OwnerID: input.OwnerID,
		Limit:   input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleBackfill handles the analysis_backfill tool call.
func (h *Handlers) HandleBackfill(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Backfill(ctx, h.DB, h.Log.Entry)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the analysis_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	path := strings.TrimSpace(input.Path)
	if path == "" && strings.TrimSpace(input.OwnerID) != "" {
		dir := export.DefaultDir(h.BaseDir)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errorResult(errors.NewInternal(err)), nil
		}
		path = filepath.Join(dir, input.OwnerID+"-analyses.xlsx")
	}
	result, err := export.Analyses(ctx, h.DB, export.AllowedDirs(h.BaseDir, h.Config.ExportDirs), export.Input{
		OwnerID: input.OwnerID,
		Path:    path,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSweep handles the storage_sweep tool call.
func (h *Handlers) HandleSweep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SweepRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	dryRun := true
	if input.DryRun != nil {
		dryRun = *input.DryRun
	}
	result, err := h.Sweeper.Sweep(ctx, ops.SweepInput{
		MaxAgeHours: input.MaxAgeHours,
		DryRun:      dryRun,
		OwnerScope:  input.OwnerScope,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStats handles the storage_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.Sweeper.Stats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr := errors.As(err); cErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": cErr.Message,
			"status":  cErr.Status,
		}
		if cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
