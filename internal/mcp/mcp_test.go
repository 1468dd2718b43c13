package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/export"
	"github.com/hpungsan/callcoach/internal/logger"
	"github.com/hpungsan/callcoach/internal/objectstore"
	"github.com/hpungsan/callcoach/internal/ops"
)

type fixture struct {
	h     *Handlers
	store *objectstore.Memory
}

// testSetup creates a temporary database, store and handlers for testing.
func testSetup(t *testing.T) *fixture {
	t.Helper()

	baseDir := t.TempDir()
	database, err := db.Init(baseDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	log := logger.Discard()
	store := objectstore.NewMemory("bucket", cfg.ObjectPrefix)

	return &fixture{
		h: NewHandlers(Deps{
			DB:       database,
			Config:   cfg,
			Registry: cancel.NewRegistry(8),
			Sweeper:  ops.NewSweeper(database, cfg, store, log.Entry),
			Log:      log,
			BaseDir:  baseDir,
		}),
		store: store,
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func errorCodeOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("failed to parse error payload: %v", err)
	}
	return payload.Error.Code
}

func submitArgs(owner, transcript string) map[string]any {
	return map[string]any{
		"owner_id":   owner,
		"call_type":  "discovery",
		"transcript": transcript,
		"structured_analysis": map[string]any{
			"scores":  map[string]any{"opening": 5, "discovery": 6, "objection_handling": 4, "closing": 5},
			"summary": "Good questions.",
		},
	}
}

func TestHandleAnalysisSubmit(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
		duplicate bool
	}{
		{
			name: "submit valid analysis",
			args: submitArgs("alice", "hello there"),
		},
		{
			name:      "same transcript merges",
			args:      submitArgs("alice", "hello there"),
			duplicate: true,
		},
		{
			name: "same transcript other owner",
			args: submitArgs("bob", "hello there"),
		},
		{
			name:      "missing transcript",
			args:      submitArgs("alice", ""),
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "missing owner",
			args:      submitArgs("", "hello there"),
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "unknown argument",
			args:      map[string]any{"owner_id": "alice", "transcript": "x", "workspace": "w"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.h.HandleAnalysisSubmit(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantError {
				if !result.IsError {
					t.Fatalf("expected error result, got %s", resultText(t, result))
				}
				if code := errorCodeOf(t, result); code != tt.errorCode {
					t.Errorf("error code = %q, want %q", code, tt.errorCode)
				}
				return
			}
			if result.IsError {
				t.Fatalf("unexpected error result: %s", resultText(t, result))
			}
			var out ops.ReconcileOutput
			if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
				t.Fatalf("failed to parse output: %v", err)
			}
			if out.Duplicate != tt.duplicate {
				t.Errorf("duplicate = %v, want %v", out.Duplicate, tt.duplicate)
			}
			if out.Record.Score != 20 {
				t.Errorf("score = %d, want 20", out.Record.Score)
			}
		})
	}
}

func TestHandleAnalysisGetAndProgression(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()

	result, _ := f.h.HandleAnalysisSubmit(ctx, makeRequest(submitArgs("alice", "first call")))
	var submitted ops.ReconcileOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &submitted); err != nil {
		t.Fatalf("failed to parse submit output: %v", err)
	}

	result, err := f.h.HandleAnalysisGet(ctx, makeRequest(map[string]any{"id": submitted.Record.ID}))
	if err != nil || result.IsError {
		t.Fatalf("analysis_get failed: %v %s", err, resultText(t, result))
	}
	var rec analysis.AnalysisRecord
	if err := json.Unmarshal([]byte(resultText(t, result)), &rec); err != nil {
		t.Fatalf("failed to parse analysis: %v", err)
	}
	if rec.TranscriptText != "first call" {
		t.Errorf("transcript = %q", rec.TranscriptText)
	}

	result, _ = f.h.HandleAnalysisGet(ctx, makeRequest(map[string]any{"id": "missing"}))
	if !result.IsError || errorCodeOf(t, result) != "NOT_FOUND" {
		t.Errorf("missing analysis: %s", resultText(t, result))
	}

	result, _ = f.h.HandleProgression(ctx, makeRequest(map[string]any{"owner_id": "alice", "limit": 5}))
	if result.IsError {
		t.Fatalf("progression failed: %s", resultText(t, result))
	}
	var prog ops.ProgressionOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &prog); err != nil {
		t.Fatalf("failed to parse progression: %v", err)
	}
	if len(prog.Analyses) != 1 || prog.Progression == nil || prog.Progression.Summary.Count != 1 {
		t.Errorf("progression = %s", resultText(t, result))
	}
}

func TestHandleIngestionAndCancel(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	if err := db.InsertIngestion(ctx, f.h.DB, &analysis.IngestionRecord{
		ID:              "ing-1",
		OwnerID:         "alice",
		SourceObjectRef: "recordings/alice/ing-1-call.mp3",
		OperationID:     "op-1",
		Status:          analysis.StatusUploaded,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		t.Fatalf("insert ingestion: %v", err)
	}

	result, _ := f.h.HandleIngestionStatus(ctx, makeRequest(map[string]any{"ingestion_id": "ing-1"}))
	if result.IsError {
		t.Fatalf("status failed: %s", resultText(t, result))
	}

	result, _ = f.h.HandleIngestionList(ctx, makeRequest(map[string]any{"owner_id": "alice"}))
	var list struct {
		Ingestions []analysis.IngestionRecord `json:"ingestions"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &list); err != nil {
		t.Fatalf("failed to parse list: %v", err)
	}
	if len(list.Ingestions) != 1 || list.Ingestions[0].ID != "ing-1" {
		t.Errorf("list = %s", resultText(t, result))
	}

	// Known but not running.
	result, _ = f.h.HandleCancel(ctx, makeRequest(map[string]any{"operation_id": "op-1"}))
	var out ops.CancelOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse cancel: %v", err)
	}
	if out.Cancelled {
		t.Error("cancelled = true for an idle operation")
	}

	// Running.
	opCtx, stop := context.WithCancel(ctx)
	defer stop()
	if err := f.h.Registry.Register("op-1", "alice", stop); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, _ = f.h.HandleCancel(ctx, makeRequest(map[string]any{"operation_id": "op-1"}))
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse cancel: %v", err)
	}
	if !out.Cancelled || opCtx.Err() == nil {
		t.Error("running operation was not cancelled")
	}

	result, _ = f.h.HandleCancel(ctx, makeRequest(map[string]any{"operation_id": "nope"}))
	if !result.IsError || errorCodeOf(t, result) != "NOT_FOUND" {
		t.Errorf("unknown operation: %s", resultText(t, result))
	}
}

func TestHandleSweepDefaultsToDryRun(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	f.store.Put("recordings/alice/old.mp3", 100, time.Now().Add(-72*time.Hour), "audio/mpeg", nil)

	result, _ := f.h.HandleSweep(ctx, makeRequest(map[string]any{"max_age_hours": 24}))
	if result.IsError {
		t.Fatalf("sweep failed: %s", resultText(t, result))
	}
	var out ops.SweepOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse sweep: %v", err)
	}
	if !out.DryRun || len(out.Candidates) != 1 || !f.store.Exists("recordings/alice/old.mp3") {
		t.Errorf("dry run = %s", resultText(t, result))
	}

	result, _ = f.h.HandleSweep(ctx, makeRequest(map[string]any{"max_age_hours": 24, "dry_run": false}))
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse sweep: %v", err)
	}
	if out.DeletedCount != 1 || f.store.Exists("recordings/alice/old.mp3") {
		t.Errorf("sweep = %s", resultText(t, result))
	}

	result, _ = f.h.HandleSweep(ctx, makeRequest(map[string]any{"max_age_hours": -1}))
	if !result.IsError || errorCodeOf(t, result) != "INVALID_REQUEST" {
		t.Errorf("negative age: %s", resultText(t, result))
	}

	result, _ = f.h.HandleStats(ctx, makeRequest(nil))
	var stats ops.StatsOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &stats); err != nil {
		t.Fatalf("failed to parse stats: %v", err)
	}
	if stats.TotalObjects != 0 {
		t.Errorf("total objects = %d after sweep", stats.TotalObjects)
	}
}

func TestHandleExport(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	if err := os.MkdirAll(export.DefaultDir(f.h.BaseDir), 0o700); err != nil {
		t.Fatal(err)
	}
	f.h.HandleAnalysisSubmit(ctx, makeRequest(submitArgs("alice", "exported call")))

	result, _ := f.h.HandleExport(ctx, makeRequest(map[string]any{"owner_id": "alice"}))
	if result.IsError {
		t.Fatalf("export failed: %s", resultText(t, result))
	}
	var out export.Output
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse export: %v", err)
	}
	if out.Rows != 1 || filepath.Base(out.Path) != "alice-analyses.xlsx" {
		t.Errorf("export = %s", resultText(t, result))
	}

	outside := filepath.Join(t.TempDir(), "x.xlsx")
	result, _ = f.h.HandleExport(ctx, makeRequest(map[string]any{"owner_id": "alice", "path": outside}))
	if !result.IsError || errorCodeOf(t, result) != "INVALID_REQUEST" {
		t.Errorf("export outside allowed dirs: %s", resultText(t, result))
	}
}

func TestErrorResultHidesInternalDetails(t *testing.T) {
	result := errorResult(os.ErrPermission)
	if !result.IsError {
		t.Fatal("IsError = false")
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Error.Code != "INTERNAL" || payload.Error.Message != "an internal error occurred" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEnabledTools(t *testing.T) {
	all := AllToolNames()
	if len(all) != len(toolRegistry) || !slices.IsSorted(all) {
		t.Fatalf("AllToolNames = %v", all)
	}

	enabled := enabledTools([]string{"storage_sweep", "analysis_backfill"})
	if len(enabled) != len(all)-2 {
		t.Errorf("enabled = %v", enabled)
	}
	if slices.Contains(enabled, "storage_sweep") || slices.Contains(enabled, "analysis_backfill") {
		t.Errorf("disabled tool still enabled: %v", enabled)
	}

	unknown := ValidateDisabledTools([]string{"storage_stats", "storage_purge"})
	if len(unknown) != 1 || unknown[0] != "storage_purge" {
		t.Errorf("unknown = %v", unknown)
	}
}
