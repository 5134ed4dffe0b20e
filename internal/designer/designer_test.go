package designer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"toolsmith/internal/llmclient"
	"toolsmith/internal/repair"
	"toolsmith/internal/sandbox"
	"toolsmith/internal/strategy"
	"toolsmith/internal/synth"
	"toolsmith/internal/types"
	"toolsmith/internal/validation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend pretends to run go test. Behave inspects the mounted code
// and decides the outcome.
type fakeBackend struct {
	mu      sync.Mutex
	created int
	removed int
	codes   []string
	results map[string]runOutcome

	Behave func(code string) runOutcome
}

type runOutcome struct {
	exit   int
	stdout string
	block  bool
}

func passing() runOutcome {
	return runOutcome{stdout: "ok\n" + validation.CoverageMarker + "\nmode: set\ntool.go:3.1,5.2 2 1\n"}
}

func (f *fakeBackend) Name() string                   { return "fake" }
func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) Create(ctx context.Context, spec sandbox.ContainerSpec) (sandbox.Handle, error) {
	code, err := os.ReadFile(filepath.Join(spec.CodeDir, "tool.go"))
	if err != nil {
		return sandbox.Handle{}, err
	}
	outcome := passing()
	if f.Behave != nil {
		outcome = f.Behave(string(code))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.codes = append(f.codes, string(code))
	if f.results == nil {
		f.results = make(map[string]runOutcome)
	}
	f.results[spec.Name] = outcome
	return sandbox.Handle{ID: spec.Name, Name: spec.Name}, nil
}

func (f *fakeBackend) outcome(h sandbox.Handle) runOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[h.ID]
}

func (f *fakeBackend) Wait(ctx context.Context, h sandbox.Handle) (sandbox.ExitInfo, error) {
	o := f.outcome(h)
	if o.block {
		<-ctx.Done()
		return sandbox.ExitInfo{}, ctx.Err()
	}
	return sandbox.ExitInfo{ExitCode: o.exit}, nil
}

func (f *fakeBackend) Logs(ctx context.Context, h sandbox.Handle) (string, string, error) {
	return f.outcome(h).stdout, "", nil
}

func (f *fakeBackend) Stop(ctx context.Context, h sandbox.Handle, grace time.Duration) error {
	return nil
}

func (f *fakeBackend) Remove(ctx context.Context, h sandbox.Handle, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeBackend) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.removed
}

// fakeModel answers chat-completions shaped responses.
type fakeModel struct {
	calls   atomic.Int32
	Respond func(call int, prompt string) string
}

func (m *fakeModel) transport() llmclient.Transport {
	return llmclient.TransportFunc(func(ctx context.Context, req llmclient.Request) ([]byte, error) {
		call := int(m.calls.Add(1))
		content := m.Respond(call, req.Payload.Prompt)
		return json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	})
}

func artifact(code, tests string) string {
	data, _ := json.Marshal(map[string]string{"code": code, "tests": tests, "docs": "# tool"})
	return string(data)
}

const addNumbersCode = `package tool

// AddNumbers adds two integers.
func AddNumbers(a int, b int) (int, error) {
	return a + b, nil
}
`

const addNumbersTests = `package tool

import "testing"

func TestAddNumbers(t *testing.T) {
	if got, err := AddNumbers(2, 3); err != nil || got != 5 {
		t.Fatalf("AddNumbers(2, 3) = %v, %v", got, err)
	}
}
`

var addNumbers = types.ToolSpecification{
	Name:         "add_numbers",
	Purpose:      "Adds two integers",
	OutputFormat: "int",
	InputParameters: []types.Parameter{
		{Name: "a", Type: "int", Required: true},
		{Name: "b", Type: "int", Required: true},
	},
}

type harness struct {
	designer *Designer
	backend  *fakeBackend
	model    *fakeModel
	registry *prometheus.Registry
	root     string
}

func newHarness(t *testing.T, model *fakeModel, backend *fakeBackend, opts Options, timeout time.Duration) *harness {
	t.Helper()
	if model == nil {
		model = &fakeModel{Respond: func(call int, prompt string) string {
			t.Errorf("unexpected model call %d", call)
			return "no"
		}}
	}
	if backend == nil {
		backend = &fakeBackend{}
	}
	cfg := llmclient.DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	client := llmclient.New(cfg, model.transport())

	selector := strategy.DefaultSelector(strategy.NewCatalog())
	mgr := sandbox.NewManager(backend, sandbox.Options{Image: "golang:1.24-alpine", DisableSeccomp: true})
	root := t.TempDir()
	val := validation.New(mgr, validation.Options{ArtifactsRoot: root, Timeout: timeout, CoverageThreshold: 0.9})
	reg := prometheus.NewRegistry()

	d := New(
		selector,
		synth.New(client, selector.Catalog()),
		val,
		repair.New(client, repair.Options{TemplateOnly: opts.TemplateOnly}),
		NewMetrics(reg),
		opts,
	)
	return &harness{designer: d, backend: backend, model: model, registry: reg, root: root}
}

func (h *harness) metric(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func TestDesign_FallbackSynthesizesAddNumbers(t *testing.T) {
	model := &fakeModel{Respond: func(call int, prompt string) string {
		assert.Contains(t, prompt, "func AddNumbers(a int, b int) (int, error)")
		return artifact(addNumbersCode, addNumbersTests)
	}}
	h := newHarness(t, model, nil, Options{MaxRepairAttempts: 2}, 30*time.Second)

	out, err := h.designer.Design(context.Background(), addNumbers)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, types.StrategyFallback, out.Strategy)
	assert.Contains(t, out.Tool.Code, "return a + b, nil")
	assert.GreaterOrEqual(t, out.Result.Coverage, 0.9)
	assert.Empty(t, out.Result.Errors)
	require.Len(t, out.Attempts, 1)
	assert.True(t, strings.HasPrefix(out.Attempts[0].ID, "add_numbers-"))
	assert.DirExists(t, filepath.Join(h.root, out.Attempts[0].ID))
	assert.EqualValues(t, 1, model.calls.Load())

	created, removed := h.backend.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, created, removed)
	assert.Equal(t, 1.0, h.metric(t, h.designer.metrics.designs.WithLabelValues("FALLBACK", "success")))
}

func TestDesign_SimpleReverseMakesNoModelCall(t *testing.T) {
	h := newHarness(t, nil, nil, Options{MaxRepairAttempts: 2}, 30*time.Second)

	out, err := h.designer.Design(context.Background(), types.ToolSpecification{
		Name:            "reverse_text",
		Purpose:         "Reverse a string",
		OutputFormat:    "string",
		InputParameters: []types.Parameter{{Name: "text", Type: "string", Required: true}},
	})
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, types.StrategySimple, out.Strategy)
	assert.Contains(t, out.Tool.Code, "[]rune(text)")
	assert.Zero(t, h.model.calls.Load())
}

func TestDesign_StandardWrapsWebSearch(t *testing.T) {
	h := newHarness(t, nil, nil, Options{}, 30*time.Second)

	out, err := h.designer.Design(context.Background(), types.ToolSpecification{
		Name:            "news_lookup",
		Purpose:         "Search the web for recent news about a topic",
		OutputFormat:    "list",
		InputParameters: []types.Parameter{{Name: "topic", Type: "string", Required: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyStandard, out.Strategy)
	assert.Contains(t, out.Tool.Code, "Hosted.Invoke")
	assert.Contains(t, out.Tool.Code, "web_search")
	assert.Zero(t, h.model.calls.Load())
}

func TestDesign_SandboxTimeoutFailsAndCleansUp(t *testing.T) {
	backend := &fakeBackend{Behave: func(string) runOutcome { return runOutcome{block: true} }}
	h := newHarness(t, nil, backend, Options{TemplateOnly: true}, 50*time.Millisecond)

	out, err := h.designer.Design(context.Background(), addNumbers)
	require.NoError(t, err)
	assert.False(t, out.Succeeded())
	require.NotEmpty(t, out.Result.Errors)
	assert.Contains(t, out.Result.Errors[0], "timed out")
	assert.True(t, out.Result.HasKind(types.FailureUnknown))

	created, removed := backend.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, removed, "the container is removed even though wait never returned")
}

func TestDesign_MalformedModelResponseFailsWithoutPanicking(t *testing.T) {
	model := &fakeModel{Respond: func(call int, prompt string) string {
		return "I am sorry, but I would rather describe the approach in words."
	}}
	h := newHarness(t, model, nil, Options{MaxRepairAttempts: 1}, 30*time.Second)

	out, err := h.designer.Design(context.Background(), addNumbers)
	require.NoError(t, err)
	assert.False(t, out.Succeeded())
	assert.True(t, strings.HasPrefix(out.Tool.Code, synth.ErrorMarker))
	assert.True(t, out.Result.HasKind(types.FailureSyntax))
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, types.FailureSyntax, out.Attempts[1].RepairKind)
	assert.EqualValues(t, 2, model.calls.Load())

	created, _ := h.backend.counts()
	assert.Zero(t, created, "marked tools never reach the sandbox")
	assert.Equal(t, 1.0, h.metric(t, h.designer.metrics.designs.WithLabelValues("FALLBACK", "failure")))
	assert.Equal(t, 1.0, h.metric(t, h.designer.metrics.repairs.WithLabelValues("syntax")))
}

func TestDesign_RepairLoopRecovers(t *testing.T) {
	broken := strings.Replace(addNumbersCode, "a + b", "a - b", 1)
	model := &fakeModel{Respond: func(call int, prompt string) string {
		if call == 1 {
			return artifact(broken, addNumbersTests)
		}
		assert.Contains(t, prompt, "--- FAIL: TestAddNumbers")
		assert.Contains(t, prompt, "a - b", "the repair prompt quotes the previous code")
		return artifact(addNumbersCode, addNumbersTests)
	}}
	backend := &fakeBackend{Behave: func(code string) runOutcome {
		if strings.Contains(code, "a - b") {
			return runOutcome{exit: 1, stdout: "--- FAIL: TestAddNumbers (0.00s)\nFAIL\n" + validation.CoverageMarker + "\nmode: set\ntool.go:3.1,5.2 2 1\n"}
		}
		return passing()
	}}
	h := newHarness(t, model, backend, Options{MaxRepairAttempts: 3}, 30*time.Second)

	out, err := h.designer.Design(context.Background(), addNumbers)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	require.Len(t, out.Attempts, 2)
	assert.False(t, out.Attempts[0].Result.Success)
	assert.Equal(t, types.FailureCompliance, out.Attempts[1].RepairKind)
	assert.NotEqual(t, out.Attempts[0].ID, out.Attempts[1].ID)

	created, removed := backend.counts()
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2.0, h.metric(t, h.designer.metrics.attempts.WithLabelValues("FALLBACK")))
	assert.Equal(t, 1.0, h.metric(t, h.designer.metrics.repairs.WithLabelValues("compliance")))
}

func TestDesign_ExhaustionReturnsLastTool(t *testing.T) {
	backend := &fakeBackend{Behave: func(string) runOutcome {
		return runOutcome{stdout: validation.CoverageMarker + "\nmode: set\ntool.go:3.1,5.2 1 1\ntool.go:6.1,8.2 3 0\n"}
	}}
	h := newHarness(t, nil, backend, Options{MaxRepairAttempts: 2, TemplateOnly: true}, 30*time.Second)

	out, err := h.designer.Design(context.Background(), addNumbers)
	require.NoError(t, err)
	assert.False(t, out.Succeeded())
	assert.Len(t, out.Attempts, 3)
	assert.InDelta(t, 0.25, out.Result.Coverage, 1e-9)
	assert.Empty(t, out.Result.Errors)
	assert.Equal(t, synth.MinimalImplementation(addNumbers), out.Tool)
}

func TestDesign_TemplateOnlyNeverCallsModel(t *testing.T) {
	h := newHarness(t, nil, nil, Options{TemplateOnly: true, MaxRepairAttempts: 1}, 30*time.Second)
	out, err := h.designer.Design(context.Background(), addNumbers)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, types.StrategyFallback, out.Tool.Strategy)
	assert.Zero(t, h.model.calls.Load())
}

func TestDesign_InvalidSpec(t *testing.T) {
	h := newHarness(t, nil, nil, Options{}, 30*time.Second)
	_, err := h.designer.Design(context.Background(), types.ToolSpecification{Name: "x"})
	assert.Error(t, err)
}

func TestDesign_CancelledContext(t *testing.T) {
	h := newHarness(t, nil, nil, Options{TemplateOnly: true}, 30*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.designer.Design(ctx, addNumbers)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDesignAll_IsolatesFailures(t *testing.T) {
	h := newHarness(t, nil, nil, Options{TemplateOnly: true, Concurrency: 2}, 30*time.Second)
	specs := []types.ToolSpecification{
		addNumbers,
		{Name: "broken"},
		{
			Name:            "shout",
			Purpose:         "Convert text to uppercase",
			OutputFormat:    "string",
			InputParameters: []types.Parameter{{Name: "text", Type: "string"}},
		},
	}

	outcomes, err := h.designer.DesignAll(context.Background(), specs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].Succeeded())
	assert.Nil(t, outcomes[1])
	require.NotNil(t, outcomes[2])
	assert.Equal(t, types.StrategySimple, outcomes[2].Strategy)

	created, removed := h.backend.counts()
	assert.Equal(t, 2, created)
	assert.Equal(t, created, removed)
}

func TestNew_Defaults(t *testing.T) {
	d := New(nil, nil, nil, nil, nil, Options{MaxRepairAttempts: -1})
	assert.Equal(t, 0, d.opts.MaxRepairAttempts)
	assert.Equal(t, 1, d.opts.Concurrency)
	assert.NotNil(t, d.metrics)
}
