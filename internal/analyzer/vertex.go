package analyzer

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/hpungsan/callcoach/internal/analysis"
)

const coachSystemPrompt = "You are a sales coach. You score recorded sales calls against a fixed rubric and give short, concrete feedback. You must output a single valid JSON object."

const coachUserPrompt = `Score the sales call transcript below.

Rules:
1. Give each category a score from 0 to 10: "opening", "discovery", "objection_handling", "closing".
2. List up to five "strengths" and up to five "improvements" as short sentences.
3. Write a "summary" of at most 120 words. Markdown is allowed.
4. Output exactly one JSON object with keys "scores", "strengths", "improvements", "summary". No text before or after it.

Call type: %s

Transcript:
%s`

// Vertex scores transcripts with a Gemini model on Vertex AI.
type Vertex struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertex creates a Vertex analyzer.
func NewVertex(ctx context.Context, projectID, region, modelName string) (*Vertex, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertex: projectID and region cannot be empty")
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(coachSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &Vertex{client: client, model: model}, nil
}

// Close releases the client.
func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

// Analyze implements Analyzer.
func (v *Vertex) Analyze(ctx context.Context, transcript, callType string) (analysis.StructuredAnalysis, error) {
	if callType == "" {
		callType = "unspecified"
	}
	prompt := genai.Text(fmt.Sprintf(coachUserPrompt, callType, transcript))

	resp, err := v.model.GenerateContent(ctx, prompt)
	if err != nil {
		return analysis.StructuredAnalysis{}, fmt.Errorf("generate analysis: %w", err)
	}
	return Parse([]byte(responseText(resp)))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
