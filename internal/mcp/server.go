package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"ingestion_status": {
		def:     ingestionStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIngestionStatus },
	},
	"ingestion_list": {
		def:     ingestionListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIngestionList },
	},
	"operation_cancel": {
		def:     operationCancelToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCancel },
	},
	"analysis_get": {
		def:     analysisGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisGet },
	},
	"analysis_submit": {
		def:     analysisSubmitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisSubmit },
	},
	"analysis_progression": {
		def:     analysisProgressionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProgression },
	},
	"analysis_backfill": {
		def:     analysisBackfillToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackfill },
	},
	"analysis_export": {
		def:     analysisExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"storage_sweep": {
		def:     storageSweepToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSweep },
	},
	"storage_stats": {
		def:     storageStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// enabledTools returns the registered tool names minus the disabled ones, sorted.
func enabledTools(disabledNames []string) []string {
	disabled := make(map[string]bool, len(disabledNames))
	for _, name := range disabledNames {
		disabled[name] = true
	}
	names := make([]string, 0, len(toolRegistry))
	for _, name := range AllToolNames() {
		if !disabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// NewServer creates an MCP server with the callcoach tools registered,
// excluding those listed in DisabledTools.
func NewServer(d Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"callcoach",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(d)
	for _, name := range enabledTools(d.Config.DisabledTools) {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport.
func Run(d Deps, version string) error {
	return server.ServeStdio(NewServer(d, version))
}
