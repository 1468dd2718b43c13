package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const validPayload = `{
  "scores": {"opening": 7, "discovery": 6.5, "objection_handling": 5, "closing": 8},
  "strengths": ["Strong rapport"],
  "improvements": ["Confirm budget earlier"],
  "summary": "Good call."
}`

func TestParse_Valid(t *testing.T) {
	got, err := Parse([]byte(validPayload))
	require.NoError(t, err)
	require.Equal(t, 6.5, got.Scores.Discovery)
	require.Equal(t, 27, got.Scores.Total())
	require.Equal(t, []string{"Strong rapport"}, got.Strengths)
}

func TestParse_StripsFences(t *testing.T) {
	got, err := Parse([]byte("```json\n" + validPayload + "\n```"))
	require.NoError(t, err)
	require.Equal(t, "Good call.", got.Summary)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `scores: 7`},
		{"missing summary", `{"scores":{"opening":1,"discovery":1,"objection_handling":1,"closing":1},"strengths":[],"improvements":[]}`},
		{"missing category", `{"scores":{"opening":1,"discovery":1,"closing":1},"strengths":[],"improvements":[],"summary":""}`},
		{"out of range", `{"scores":{"opening":11,"discovery":1,"objection_handling":1,"closing":1},"strengths":[],"improvements":[],"summary":""}`},
		{"negative", `{"scores":{"opening":-1,"discovery":1,"objection_handling":1,"closing":1},"strengths":[],"improvements":[],"summary":""}`},
		{"extra category", `{"scores":{"opening":1,"discovery":1,"objection_handling":1,"closing":1,"rapport":3},"strengths":[],"improvements":[],"summary":""}`},
		{"wrong type", `{"scores":{"opening":"high","discovery":1,"objection_handling":1,"closing":1},"strengths":[],"improvements":[],"summary":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			require.Error(t, err)
		})
	}
}

func TestMock_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, err := Mock{}.Analyze(ctx, "Hello world", "discovery")
	require.NoError(t, err)
	b, err := Mock{}.Analyze(ctx, "Hello world", "demo")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NoError(t, a.Scores.Validate())

	c, err := Mock{}.Analyze(ctx, "Something else entirely", "")
	require.NoError(t, err)
	require.NoError(t, c.Scores.Validate())
}
