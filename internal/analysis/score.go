package analysis

import "fmt"

// MaxSubScore is the ceiling of each category sub-score.
const MaxSubScore = 10

// MaxScore is the ceiling of the total score (four categories).
const MaxScore = 4 * MaxSubScore

// SubScores is the category-defining scoring breakdown.
type SubScores struct {
	Opening           float64 `json:"opening"`
	Discovery         float64 `json:"discovery"`
	ObjectionHandling float64 `json:"objection_handling"`
	Closing           float64 `json:"closing"`
}

// Categories returns the sub-scores keyed by category name.
func (s SubScores) Categories() map[string]float64 {
	return map[string]float64{
		"opening":            s.Opening,
		"discovery":          s.Discovery,
		"objection_handling": s.ObjectionHandling,
		"closing":            s.Closing,
	}
}

// Total sums the sub-scores, rounded to the nearest integer.
func (s SubScores) Total() int {
	sum := s.Opening + s.Discovery + s.ObjectionHandling + s.Closing
	return int(sum + 0.5)
}

// Validate checks every sub-score is within 0..MaxSubScore.
func (s SubScores) Validate() error {
	for name, v := range s.Categories() {
		if v < 0 || v > MaxSubScore {
			return fmt.Errorf("score %s out of range: %v", name, v)
		}
	}
	return nil
}

// CategoryNames is the fixed order used for reports and exports.
var CategoryNames = []string{"opening", "discovery", "objection_handling", "closing"}

// StructuredAnalysis is the coaching payload produced by the analyzer.
type StructuredAnalysis struct {
	Scores       SubScores `json:"scores"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"improvements"`
	Summary      string    `json:"summary"`
}

// ScoreCategory is the band derived from the total score.
type ScoreCategory string

const (
	CategoryNeedsWork  ScoreCategory = "needs_work"
	CategoryDeveloping ScoreCategory = "developing"
	CategoryProficient ScoreCategory = "proficient"
	CategoryExcellent  ScoreCategory = "excellent"
)

// CategoryFor maps a 0–40 score onto its band.
func CategoryFor(score int) ScoreCategory {
	switch {
	case score <= 15:
		return CategoryNeedsWork
	case score <= 25:
		return CategoryDeveloping
	case score <= 33:
		return CategoryProficient
	default:
		return CategoryExcellent
	}
}
