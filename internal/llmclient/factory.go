package llmclient

import (
	"context"
	"fmt"

	"toolsmith/internal/config"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel    = "claude-sonnet-4-5"
	defaultGeminiModel       = "gemini-2.5-flash"
)

// NewFromConfig builds a client and the transport matching the configured
// provider.
func NewFromConfig(ctx context.Context, llm config.LLMConfig) (*Client, error) {
	cfg := DefaultConfig()
	cfg.APIKey = llm.APIKey
	cfg.MaxRetries = llm.MaxRetries
	cfg.BackoffBase = llm.GetRetryBackoff()
	cfg.Timeout = llm.GetTimeout()
	cfg.RequestsPerSec = llm.RequestsPerSec
	if llm.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = llm.MaxOutputTokens
	}
	if llm.Model != "" {
		cfg.Model = llm.Model
	}
	if llm.BaseURL != "" {
		cfg.Endpoint = llm.BaseURL
	}
	if llm.Format != "" {
		cfg.Format = llm.Format
	}

	switch llm.Provider {
	case "openai", "":
		return New(cfg, NewHTTPTransport(cfg.Format, cfg.Timeout)), nil
	case "anthropic":
		cfg.Format = FormatAnthropic
		if llm.BaseURL == "" || llm.BaseURL == config.DefaultLLMConfig().BaseURL {
			cfg.Endpoint = defaultAnthropicEndpoint
		}
		if llm.Model == "" || llm.Model == config.DefaultLLMConfig().Model {
			cfg.Model = defaultAnthropicModel
		}
		return New(cfg, NewHTTPTransport(cfg.Format, cfg.Timeout)), nil
	case "gemini":
		if llm.Model == "" || llm.Model == config.DefaultLLMConfig().Model {
			cfg.Model = defaultGeminiModel
		}
		t, err := NewGenAITransport(ctx, llm.APIKey)
		if err != nil {
			return nil, err
		}
		return New(cfg, t), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llm.Provider)
	}
}
