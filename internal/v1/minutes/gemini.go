package minutes

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// geminiTemperature, geminiTopK, geminiTopP, and geminiMaxOutputTokens are
// the fixed generation parameters the specification mandates for the
// minutes pipeline.
const (
	geminiTemperature     = 0.3
	geminiTopK            = 40
	geminiTopP            = 0.95
	geminiMaxOutputTokens = 8192
)

// GeminiClient implements LLMClient against Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient constructs a client from an API key and model name.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate submits prompt to the configured model with the minutes
// pipeline's fixed sampling parameters and returns the raw text response.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, int, error) {
	temp := float32(geminiTemperature)
	topK := float32(geminiTopK)
	topP := float32(geminiTopP)
	maxTokens := int32(geminiMaxOutputTokens)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     &temp,
			TopK:            &topK,
			TopP:            &topP,
			MaxOutputTokens: maxTokens,
		},
	)
	if err != nil {
		return "", 0, fmt.Errorf("Gemini generate content: %w", err)
	}

	text := resp.Text()
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return text, tokens, nil
}
