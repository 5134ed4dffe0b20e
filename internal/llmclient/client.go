// Package llmclient turns a prompt into source code through a generative
// model. It owns the retry policy, request pacing, response-shape
// normalization and code extraction; the network itself sits behind the
// Transport interface.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"toolsmith/internal/logging"
	"toolsmith/internal/types"
)

const defaultSystemPrompt = `You are an expert Go engineer who writes small, self-contained, well-tested tools.
Reply with code only. Never explain the code outside of comments.`

// Config configures a Client.
type Config struct {
	Endpoint        string
	APIKey          string
	Model           string
	Format          string
	System          string
	Language        string // default target language for Generate
	MaxRetries      int
	BackoffBase     time.Duration
	Timeout         time.Duration // per attempt, applied when ctx has no deadline
	RequestsPerSec  float64       // <= 0 disables pacing
	MaxOutputTokens int
}

// DefaultConfig returns three attempts with 1s/2s/4s backoff.
func DefaultConfig() Config {
	return Config{
		Endpoint:        "https://api.openai.com/v1/responses",
		Model:           "o4-mini",
		Format:          FormatOpenAIResponses,
		System:          defaultSystemPrompt,
		Language:        "go",
		MaxRetries:      3,
		BackoffBase:     time.Second,
		Timeout:         30 * time.Second,
		MaxOutputTokens: 2000,
	}
}

// Client generates code from prompts. It is safe for concurrent use; the
// rate limiter is its only shared state.
type Client struct {
	cfg        Config
	transport  Transport
	extractors ExtractorChain
	limiter    *rate.Limiter
}

// New creates a client over the given transport.
func New(cfg Config, transport Transport) *Client {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.System == "" {
		cfg.System = def.System
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	return &Client{
		cfg:        cfg,
		transport:  transport,
		extractors: DefaultExtractors(),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

// Generate returns code in the client's default language.
func (c *Client) Generate(ctx context.Context, prompt string, promptCtx map[string]interface{}) (string, error) {
	return c.GenerateFor(ctx, c.cfg.Language, prompt, promptCtx)
}

// GenerateFor returns code in lang. Transient failures are retried with
// exponential backoff; extraction and permanent API errors are not.
func (c *Client) GenerateFor(ctx context.Context, lang, prompt string, promptCtx map[string]interface{}) (string, error) {
	text, err := c.Complete(ctx, prompt, promptCtx)
	if err != nil {
		return "", err
	}
	code, err := ExtractCode(text, lang)
	if err != nil {
		logging.APIWarn("code extraction failed: lang=%s response_len=%d", lang, len(text))
		return "", err
	}
	return code, nil
}

// Complete returns the normalized response text without code extraction.
func (c *Client) Complete(ctx context.Context, prompt string, promptCtx map[string]interface{}) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "model call")
	defer timer.Stop()

	req := Request{
		Endpoint: c.cfg.Endpoint,
		Headers:  HeadersFor(c.cfg.Format, c.cfg.APIKey),
		Payload: Payload{
			Model:           c.cfg.Model,
			System:          c.cfg.System,
			Prompt:          prompt,
			Context:         promptCtx,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		},
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
			logging.APIDebug("retrying in %v (attempt %d/%d): %v", delay, attempt+1, c.cfg.MaxRetries, lastErr)
			if err := sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("retry aborted: %w", err)
			}
		}

		body, err := c.post(ctx, req)
		if err == nil {
			text, shape, xerr := c.extractors.Extract(body)
			if xerr != nil {
				logging.APIWarn("response extraction failed: %v", xerr)
				return "", xerr
			}
			logging.APIDebug("response normalized via %s: len=%d", shape, len(text))
			return text, nil
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("model call cancelled: %w", ctx.Err())
		}
		if !types.IsTransient(err) {
			logging.APIError("model call failed permanently: %v", err)
			return "", err
		}
		lastErr = err
	}

	logging.APIError("max retries exceeded: %v", lastErr)
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) post(ctx context.Context, req Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	body, err := c.transport.Post(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !types.IsTransient(err) {
		// Per-attempt timeout surfaced without classification.
		return nil, &types.TransientNetworkError{Err: err}
	}
	return body, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
