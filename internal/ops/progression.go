package ops

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/hpungsan/callcoach/internal/analysis"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/errors"
)

// Trend classifies the latest analysis against the ones before it.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// ProgressionInput contains parameters for ComputeProgression.
type ProgressionInput struct {
	OwnerID string
	Limit   int // default: 10, max: 100
}

// ProgressionSummary aggregates the returned analyses.
type ProgressionSummary struct {
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
	BestScore    int     `json:"best_score"`
	WorstScore   int     `json:"worst_score"`
}

// Progression is the computed trend view.
type Progression struct {
	Trend          Trend              `json:"trend"`
	Delta          float64            `json:"delta"`
	CategoryTrends map[string]Trend   `json:"category_trends"`
	CategoryDeltas map[string]float64 `json:"category_deltas"`
	Summary        ProgressionSummary `json:"summary"`
}

// ProgressionOutput is nil-progression when the owner has no analyses.
type ProgressionOutput struct {
	Analyses    []analysis.AnalysisSummary `json:"analyses"`
	Progression *Progression               `json:"progression"`
}

// ComputeProgression reads the owner's most recent analyses, newest first, and
// derives the summary and trend. It never writes.
func ComputeProgression(ctx context.Context, database *sql.DB, threshold float64, input ProgressionInput) (*ProgressionOutput, error) {
	owner := strings.TrimSpace(input.OwnerID)
	if owner == "" {
		return nil, errors.NewInvalidRequest("owner is required")
	}
	if input.Limit < 0 {
		return nil, errors.NewInvalidRequest("limit must not be negative")
	}

	limit := input.Limit
	if limit == 0 {
		limit = DefaultProgressionLimit
	}
	if limit > MaxProgressionLimit {
		limit = MaxProgressionLimit
	}

	records, err := db.ListRecentAnalyses(ctx, database, owner, limit)
	if err != nil {
		return nil, err
	}

	out := &ProgressionOutput{Analyses: make([]analysis.AnalysisSummary, 0, len(records))}
	for _, r := range records {
		out.Analyses = append(out.Analyses, r.Summary())
	}
	if len(records) == 0 {
		return out, nil
	}

	out.Progression = progressionOf(records, threshold)
	return out, nil
}

// progressionOf expects records newest first and non-empty.
func progressionOf(records []*analysis.AnalysisRecord, threshold float64) *Progression {
	p := &Progression{
		Trend:          TrendStable,
		CategoryTrends: make(map[string]Trend, len(analysis.CategoryNames)),
		CategoryDeltas: make(map[string]float64, len(analysis.CategoryNames)),
		Summary:        summarize(records),
	}

	latest := records[0].Structured.Scores.Categories()
	rest := records[1:]

	for _, name := range analysis.CategoryNames {
		p.CategoryTrends[name] = TrendStable
		p.CategoryDeltas[name] = 0
	}
	if len(rest) == 0 {
		return p
	}

	means := make(map[string]float64, len(analysis.CategoryNames))
	for _, r := range rest {
		for name, v := range r.Structured.Scores.Categories() {
			means[name] += v
		}
	}

	var total float64
	for _, name := range analysis.CategoryNames {
		mean := means[name] / float64(len(rest))
		delta := round2(latest[name] - mean)
		p.CategoryDeltas[name] = delta
		p.CategoryTrends[name] = classify(delta, threshold)
		total += latest[name] - mean
	}

	p.Delta = round2(total / float64(len(analysis.CategoryNames)))
	p.Trend = classify(p.Delta, threshold)
	return p
}

func summarize(records []*analysis.AnalysisRecord) ProgressionSummary {
	s := ProgressionSummary{
		Count:      len(records),
		BestScore:  records[0].Score,
		WorstScore: records[0].Score,
	}
	var sum int
	for _, r := range records {
		sum += r.Score
		if r.Score > s.BestScore {
			s.BestScore = r.Score
		}
		if r.Score < s.WorstScore {
			s.WorstScore = r.Score
		}
	}
	s.AverageScore = round2(float64(sum) / float64(len(records)))
	return s
}

// classify returns stable for |delta| below the noise threshold.
func classify(delta, threshold float64) Trend {
	switch {
	case math.Abs(delta) < threshold:
		return TrendStable
	case delta > 0:
		return TrendImproving
	default:
		return TrendDeclining
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
