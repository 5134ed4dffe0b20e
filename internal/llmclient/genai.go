package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GenAITransport sends requests through the Google GenAI SDK. The SDK
// response is re-encoded as JSON so it flows through the same extractor
// chain as every HTTP provider.
type GenAITransport struct {
	client *genai.Client
}

// NewGenAITransport creates a Gemini-backed transport.
func NewGenAITransport(ctx context.Context, apiKey string) (*GenAITransport, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAITransport{client: client}, nil
}

// Post implements Transport. Endpoint and headers are managed by the SDK.
func (t *GenAITransport) Post(ctx context.Context, req Request) ([]byte, error) {
	p := req.Payload
	system := p.System
	if c := contextJSON(p.Context); c != "" {
		system += "\n\n" + c
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if p.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxOutputTokens)
	}

	resp, err := t.client.Models.GenerateContent(ctx, p.Model,
		[]*genai.Content{genai.NewContentFromText(p.Prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, classifyGenAIError(err)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode GenAI response: %w", err)
	}
	return data, nil
}

func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if cls := classifyStatus(apiErr.Code, []byte(apiErr.Message)); cls != nil {
			return cls
		}
	}
	return classifyTransportError(err)
}
