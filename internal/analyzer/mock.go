package analyzer

import (
	"context"
	"crypto/sha256"

	"github.com/hpungsan/callcoach/internal/analysis"
)

// Mock derives stable scores from the transcript bytes. Same text, same scores.
type Mock struct{}

func (Mock) Analyze(_ context.Context, transcript, _ string) (analysis.StructuredAnalysis, error) {
	sum := sha256.Sum256([]byte(transcript))
	score := func(b byte) float64 { return float64(3 + int(b)%8) }

	return analysis.StructuredAnalysis{
		Scores: analysis.SubScores{
			Opening:           score(sum[0]),
			Discovery:         score(sum[1]),
			ObjectionHandling: score(sum[2]),
			Closing:           score(sum[3]),
		},
		Strengths:    []string{"Clear agenda at the start of the call"},
		Improvements: []string{"Ask more open questions during discovery"},
		Summary:      "**Mock analysis.** Scores are derived from the transcript text.",
	}, nil
}
