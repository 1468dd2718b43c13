package mcp

import "github.com/mark3labs/mcp-go/mcp"

var ingestionStatusToolDef = mcp.NewTool("ingestion_status",
	mcp.WithDescription("Get an ingestion's status, operation id and failure reason."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("ingestion_id", mcp.Required(), mcp.Description("Ingestion id")),
)

var ingestionListToolDef = mcp.NewTool("ingestion_list",
	mcp.WithDescription("List an owner's most recent ingestions, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner id")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 10, max 100)")),
)

var operationCancelToolDef = mcp.NewTool("operation_cancel",
	mcp.WithDescription("Cancel a running transcription operation. Returns cancelled=false when the operation is known but not running."),
	mcp.WithString("operation_id", mcp.Required(), mcp.Description("Operation id returned with the upload credential")),
)

var analysisGetToolDef = mcp.NewTool("analysis_get",
	mcp.WithDescription("Fetch one call analysis with its transcript and scores."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Analysis id")),
)

var analysisSubmitToolDef = mcp.NewTool("analysis_submit",
	mcp.WithDescription("Submit an analysis directly. Identical transcripts for the same owner are merged into one record."),
	mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner id")),
	mcp.WithString("transcript", mcp.Required(), mcp.Description("Transcript text")),
	mcp.WithString("call_type", mcp.Description("Call type, e.g. discovery or demo")),
	mcp.WithObject("structured_analysis", mcp.Required(),
		mcp.Description("Scores (opening, discovery, objection_handling, closing), strengths, improvements and summary")),
)

var analysisProgressionToolDef = mcp.NewTool("analysis_progression",
	mcp.WithDescription("Compute an owner's score trend over their most recent analyses."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner id")),
	mcp.WithNumber("limit", mcp.Description("Analyses to consider (default 10, max 100)")),
)

var analysisBackfillToolDef = mcp.NewTool("analysis_backfill",
	mcp.WithDescription("Hash analyses created before content hashing and merge their duplicates. Safe to re-run."),
	mcp.WithIdempotentHintAnnotation(true),
)

var analysisExportToolDef = mcp.NewTool("analysis_export",
	mcp.WithDescription("Write an owner's analyses to an .xlsx workbook in an allowed export directory."),
	mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner id")),
	mcp.WithString("path", mcp.Description("Output .xlsx path (default: exports dir, <owner>-analyses.xlsx)")),
)

var storageSweepToolDef = mcp.NewTool("storage_sweep",
	mcp.WithDescription("Delete stored recordings older than max_age_hours that no live ingestion references. Previews unless dry_run is false."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithNumber("max_age_hours", mcp.Required(), mcp.Description("Minimum object age in hours; 0 selects everything")),
	mcp.WithBoolean("dry_run", mcp.Description("Preview only (default true)"), mcp.DefaultBool(true)),
	mcp.WithString("owner_scope", mcp.Description("Restrict to one owner")),
)

var storageStatsToolDef = mcp.NewTool("storage_stats",
	mcp.WithDescription("Summarize stored objects per owner and by age."),
	mcp.WithReadOnlyHintAnnotation(true),
)
