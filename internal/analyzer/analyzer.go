// Package analyzer turns a transcript into a structured coaching analysis.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hpungsan/callcoach/internal/analysis"
)

// Analyzer scores one transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, callType string) (analysis.StructuredAnalysis, error)
}

// analysisSchema is the contract model output must satisfy before it is reconciled.
var analysisSchema = map[string]any{
	"type":     "object",
	"required": []string{"scores", "strengths", "improvements", "summary"},
	"properties": map[string]any{
		"scores": map[string]any{
			"type":                 "object",
			"required":             analysis.CategoryNames,
			"additionalProperties": false,
			"properties": map[string]any{
				"opening":            subScoreSchema,
				"discovery":          subScoreSchema,
				"objection_handling": subScoreSchema,
				"closing":            subScoreSchema,
			},
		},
		"strengths":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"improvements": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"summary":      map[string]any{"type": "string"},
	},
}

var subScoreSchema = map[string]any{
	"type":    "number",
	"minimum": 0,
	"maximum": analysis.MaxSubScore,
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(analysisSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("analysis.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("analysis.json")
	})
	return compiledSchema, compileErr
}

// Parse validates raw model output against the analysis schema and decodes it.
// Markdown code fences around the JSON are tolerated.
func Parse(data []byte) (analysis.StructuredAnalysis, error) {
	var out analysis.StructuredAnalysis

	data = stripFences(data)
	s, err := schema()
	if err != nil {
		return out, err
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return out, fmt.Errorf("unmarshal analysis: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return out, fmt.Errorf("analysis does not match schema: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode analysis: %w", err)
	}
	if err := out.Scores.Validate(); err != nil {
		return out, err
	}
	if out.Strengths == nil {
		out.Strengths = []string{}
	}
	if out.Improvements == nil {
		out.Improvements = []string{}
	}
	return out, nil
}

func stripFences(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}
