package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"toolsmith/internal/types"
)

// Wire formats understood by HTTPTransport.
const (
	FormatOpenAIResponses = "openai-responses"
	FormatOpenAIChat      = "openai-chat"
	FormatAnthropic       = "anthropic"
)

// Payload is the provider-neutral request body. It always carries a system
// instruction and a user prompt; Context is forwarded as a JSON document.
type Payload struct {
	Model           string
	System          string
	Prompt          string
	Context         map[string]interface{}
	MaxOutputTokens int
}

// Request is one call across the model boundary.
type Request struct {
	Endpoint string
	Headers  map[string]string
	Payload  Payload
}

// Transport is the swappable network boundary of the client. Implementations
// return the raw response body, a *types.TransientNetworkError for failures
// worth retrying, or any other error for permanent failures.
type Transport interface {
	Post(ctx context.Context, req Request) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) ([]byte, error)

// Post calls f.
func (f TransportFunc) Post(ctx context.Context, req Request) ([]byte, error) { return f(ctx, req) }

// StatusError is a non-retryable HTTP failure such as 400, 401 or 403.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, body)
}

// HTTPTransport posts JSON payloads over net/http.
type HTTPTransport struct {
	Format     string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the given wire format.
func NewHTTPTransport(format string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		Format:     format,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Post implements Transport.
func (t *HTTPTransport) Post(ctx context.Context, req Request) ([]byte, error) {
	body, err := encodePayload(t.Format, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.TransientNetworkError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}

// classifyTransportError treats every transport-level failure (refused
// connection, reset, timeout) as transient unless the caller cancelled.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request cancelled: %w", err)
	}
	return &types.TransientNetworkError{Err: err}
}

// classifyStatus maps HTTP status codes onto the retry policy: 429 and 5xx
// are transient, every other non-2xx is permanent.
func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return &types.TransientNetworkError{StatusCode: code, Err: &StatusError{StatusCode: code, Body: string(body)}}
	default:
		return &StatusError{StatusCode: code, Body: string(body)}
	}
}

// HeadersFor returns the auth headers a wire format expects.
func HeadersFor(format, apiKey string) map[string]string {
	if apiKey == "" {
		return map[string]string{}
	}
	if format == FormatAnthropic {
		return map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		}
	}
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func contextJSON(ctx map[string]interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return ""
	}
	return "Context: " + string(data)
}

func messages(p Payload) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: p.System}}
	if c := contextJSON(p.Context); c != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: c})
	}
	return append(msgs, chatMessage{Role: "user", Content: p.Prompt})
}

func encodePayload(format string, p Payload) ([]byte, error) {
	switch format {
	case FormatOpenAIResponses, "":
		return json.Marshal(struct {
			Model           string        `json:"model"`
			Input           []chatMessage `json:"input"`
			MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
		}{p.Model, messages(p), p.MaxOutputTokens})
	case FormatOpenAIChat:
		return json.Marshal(struct {
			Model     string        `json:"model"`
			Messages  []chatMessage `json:"messages"`
			MaxTokens int           `json:"max_tokens,omitempty"`
		}{p.Model, messages(p), p.MaxOutputTokens})
	case FormatAnthropic:
		system := p.System
		if c := contextJSON(p.Context); c != "" {
			system = strings.TrimSpace(system + "\n\n" + c)
		}
		maxTokens := p.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = 2000
		}
		return json.Marshal(struct {
			Model     string        `json:"model"`
			System    string        `json:"system"`
			Messages  []chatMessage `json:"messages"`
			MaxTokens int           `json:"max_tokens"`
		}{p.Model, system, []chatMessage{{Role: "user", Content: p.Prompt}}, maxTokens})
	default:
		return nil, fmt.Errorf("unknown wire format %q", format)
	}
}
