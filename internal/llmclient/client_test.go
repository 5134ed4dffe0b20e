package llmclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"toolsmith/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// MockTransport replays scripted responses and records every request.
type MockTransport struct {
	mu        sync.Mutex
	PostFunc  func(ctx context.Context, req Request, call int) ([]byte, error)
	Requests  []Request
	CallCount int
}

func (m *MockTransport) Post(ctx context.Context, req Request) ([]byte, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.CallCount++
	call := m.CallCount
	m.mu.Unlock()
	return m.PostFunc(ctx, req, call)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.APIKey = "test-key"
	return cfg
}

const goResponse = `{"output":[{"type":"message","content":[{"type":"output_text","text":"Here you go:\n` +
	"```go\\npackage tool\\n\\nfunc Add(a, b float64) float64 { return a + b }\\n```" + `"}]}]}`

func TestGenerate_Success(t *testing.T) {
	mt := &MockTransport{PostFunc: func(ctx context.Context, req Request, call int) ([]byte, error) {
		return []byte(goResponse), nil
	}}
	c := New(fastConfig(), mt)

	code, err := c.Generate(context.Background(), "write add", map[string]interface{}{"spec": "add"})
	require.NoError(t, err)
	assert.Equal(t, "package tool\n\nfunc Add(a, b float64) float64 { return a + b }", code)

	require.Len(t, mt.Requests, 1)
	req := mt.Requests[0]
	assert.Equal(t, "Bearer test-key", req.Headers["Authorization"])
	assert.Equal(t, "write add", req.Payload.Prompt)
	assert.NotEmpty(t, req.Payload.System)
	assert.Equal(t, "add", req.Payload.Context["spec"])
}

func TestGenerate_RetriesTransientThenSucceeds(t *testing.T) {
	mt := &MockTransport{PostFunc: func(ctx context.Context, req Request, call int) ([]byte, error) {
		if call < 3 {
			return nil, &types.TransientNetworkError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return []byte(goResponse), nil
	}}
	c := New(fastConfig(), mt)

	_, err := c.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, mt.CallCount)
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	mt := &MockTransport{PostFunc: func(ctx context.Context, req Request, call int) ([]byte, error) {
		return nil, &types.TransientNetworkError{Err: errors.New("connection refused")}
	}}
	c := New(fastConfig(), mt)

	_, err := c.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, mt.CallCount)
}

func TestGenerate_PermanentErrorsFailFast(t *testing.T) {
	for _, code := range []int{400, 401, 403} {
		mt := &MockTransport{PostFunc: func(ctx context.Context, req Request, call int) ([]byte, error) {
			return nil, &StatusError{StatusCode: code, Body: "nope"}
		}}
		c := New(fastConfig(), mt)

		_, err := c.Generate(context.Background(), "p", nil)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, code, se.StatusCode)
		assert.Equal(t, 1, mt.CallCount, "status %d must not be retried", code)
	}
}

func TestGenerate_ExtractionErrorNotRetried(t *testing.T) {
	mt := &MockTransport{PostFunc: func(ctx context.Context, req Request, call int) ([]byte, error) {
		return []byte(`{"choices":[{"message":{"content":"I cannot help with that request."}}]}`), nil
	}}
	c := New(fastConfig(), mt)

	_, err := c.Generate(context.Background(), "p", nil)
	var xe *types.ExtractionError
	require.ErrorAs(t, err, &xe)
	assert.Contains(t, xe.Raw, "cannot help")
	assert.False(t, types.IsTransient(err))
	assert.Equal(t, 1, mt.CallCount)
}

func TestGenerate_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mt := &MockTransport{PostFunc: func(_ context.Context, req Request, call int) ([]byte, error) {
		cancel()
		return nil, &types.TransientNetworkError{Err: errors.New("reset")}
	}}
	cfg := fastConfig()
	cfg.BackoffBase = time.Hour
	c := New(cfg, mt)

	_, err := c.Generate(ctx, "p", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mt.CallCount)
}

func TestGenerate_AppliesAttemptTimeout(t *testing.T) {
	mt := &MockTransport{PostFunc: func(ctx context.Context, req Request, call int) ([]byte, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "attempt context must carry a deadline")
		return []byte(goResponse), nil
	}}
	c := New(fastConfig(), mt)
	_, err := c.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
}

func TestGenerateFor_JSON(t *testing.T) {
	mt := &MockTransport{PostFunc: func(ctx context.Context, req Request, call int) ([]byte, error) {
		return []byte(`{"content":[{"type":"text","text":"{\"code\":\"package tool\",\"tests\":\"\",\"docs\":\"\"}"}]}`), nil
	}}
	c := New(fastConfig(), mt)

	out, err := c.GenerateFor(context.Background(), "json", "p", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"package tool","tests":"","docs":""}`, out)
}

func TestAnthropicHeaders(t *testing.T) {
	h := HeadersFor(FormatAnthropic, "k")
	assert.Equal(t, "k", h["x-api-key"])
	assert.Equal(t, "2023-06-01", h["anthropic-version"])
	assert.Empty(t, HeadersFor(FormatOpenAIChat, ""))
}
