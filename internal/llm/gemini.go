package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini is the primary provider.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Extract(ctx context.Context, images [][]byte, mimeHint string) (*Fields, *Usage, error) {
	if mimeHint == "" {
		mimeHint = "image/jpeg"
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img, mimeHint))
	}
	parts = append(parts, genai.NewPartFromText(extractionPrompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      genai.Ptr[float32](0),
		})
	if err != nil {
		return nil, nil, fmt.Errorf("llm: gemini generate: %w", err)
	}

	fields, err := parseFields(resp.Text())
	if err != nil {
		return nil, nil, err
	}

	usage := &Usage{Provider: g.Name()}
	if um := resp.UsageMetadata; um != nil {
		usage.InputTokens = int(um.PromptTokenCount)
		usage.OutputTokens = int(um.CandidatesTokenCount)
		usage.CostUSD = costUSD(g.model, usage.InputTokens, usage.OutputTokens)
	}
	return fields, usage, nil
}
