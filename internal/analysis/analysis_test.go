package analysis

import "testing"

func TestContentHash(t *testing.T) {
	// Known SHA-256 vectors
	tests := []struct {
		input string
		want  string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"Hello world", "64ec88ca00b268e5ba1a35678a1b5316d212f4f366b2477232534a8aeca37f3c"},
	}

	for _, tt := range tests {
		if got := ContentHash(tt.input); got != tt.want {
			t.Errorf("ContentHash(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}

	if EmptyTranscriptHash == ContentHash(" ") {
		t.Error("empty transcript must not collide with whitespace transcript")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusUploaded, true},
		{StatusUploaded, StatusTranscribing, true},
		{StatusTranscribing, StatusTranscribed, true},
		{StatusTranscribed, StatusAnalyzing, true},
		{StatusAnalyzing, StatusCompleted, true},
		{StatusUploaded, StatusTranscribed, false},  // skips a step
		{StatusTranscribing, StatusUploaded, false}, // backwards
		{StatusPending, StatusFailed, true},
		{StatusAnalyzing, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusUploaded, false},
		{StatusCompleted, StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("transcribing"); err != nil {
		t.Errorf("ParseStatus(transcribing) error = %v", err)
	}
	if _, err := ParseStatus("failed"); err != nil {
		t.Errorf("ParseStatus(failed) error = %v", err)
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Error("ParseStatus(done) expected error")
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		score int
		want  ScoreCategory
	}{
		{0, CategoryNeedsWork},
		{15, CategoryNeedsWork},
		{16, CategoryDeveloping},
		{25, CategoryDeveloping},
		{26, CategoryProficient},
		{33, CategoryProficient},
		{34, CategoryExcellent},
		{40, CategoryExcellent},
	}
	for _, tt := range tests {
		if got := CategoryFor(tt.score); got != tt.want {
			t.Errorf("CategoryFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSubScores(t *testing.T) {
	s := SubScores{Opening: 7.5, Discovery: 8, ObjectionHandling: 6, Closing: 9}
	if got := s.Total(); got != 31 {
		t.Errorf("Total() = %d, want 31", got)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	s.Closing = 11
	if err := s.Validate(); err == nil {
		t.Error("Validate() expected error for closing=11")
	}
}

func TestBefore(t *testing.T) {
	a := &AnalysisRecord{ID: "01B", CreatedAt: 100}
	b := &AnalysisRecord{ID: "01A", CreatedAt: 200}
	c := &AnalysisRecord{ID: "01A", CreatedAt: 100}

	if !a.Before(b) {
		t.Error("earlier CreatedAt should come first")
	}
	if !c.Before(a) {
		t.Error("lower ID should win a CreatedAt tie")
	}
	if a.Before(a) {
		t.Error("a record must not precede itself")
	}
}
