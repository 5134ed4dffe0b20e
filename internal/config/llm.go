package config

import (
	"fmt"
	"time"
)

// LLMConfig configures the generative code client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, anthropic, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// Wire format for HTTP providers: openai-responses, openai-chat, anthropic.
	Format          string  `yaml:"format"`
	Timeout         string  `yaml:"timeout"`
	MaxRetries      int     `yaml:"max_retries"`
	RetryBackoff    string  `yaml:"retry_backoff"`
	RequestsPerSec  float64 `yaml:"requests_per_sec"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// ValidProviders lists all supported model providers.
var ValidProviders = []string{"openai", "anthropic", "gemini"}

// DefaultLLMConfig returns the client defaults: three retries with 1s/2s/4s
// backoff and a 30s per-request timeout.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:        "openai",
		Model:           "o4-mini",
		BaseURL:         "https://api.openai.com/v1/responses",
		Format:          "openai-responses",
		Timeout:         "30s",
		MaxRetries:      3,
		RetryBackoff:    "1s",
		RequestsPerSec:  2,
		MaxOutputTokens: 2000,
	}
}

// GetTimeout returns the per-request timeout.
func (c LLMConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// GetRetryBackoff returns the base backoff between retries.
func (c LLMConfig) GetRetryBackoff() time.Duration {
	return parseDuration(c.RetryBackoff, time.Second)
}

func (c LLMConfig) validate(templateOnly bool) error {
	valid := false
	for _, p := range ValidProviders {
		if c.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.Provider, ValidProviders)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("llm.max_retries must be at least 1")
	}
	if !templateOnly && c.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY or TOOLSMITH_API_KEY, or enable repair.template_only)")
	}
	return nil
}
