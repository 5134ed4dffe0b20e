package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"toolsmith/internal/config"
	"toolsmith/internal/logging"
	"toolsmith/internal/sandbox"
	"toolsmith/internal/types"
)

const (
	// GoModule is the module path written next to every artifact.
	GoModule = "toolsmith.local/tool"

	maxErrorOutput = 4000
)

// testScript copies the read-only code mount to a scratch dir, runs the
// tests with coverage and prints the profile after CoverageMarker. The
// exit status is that of go test.
var testScript = strings.Join([]string{
	`work=$(mktemp -d) || exit 1`,
	`cp -R ` + sandbox.CodeMountPath + `/. "$work"/ || exit 1`,
	`cd "$work" || exit 1`,
	`go test -count=1 -covermode=set -coverprofile="$work/cover.out" .`,
	`status=$?`,
	`echo "` + CoverageMarker + `"`,
	`cat "$work/cover.out" 2>/dev/null`,
	`exit $status`,
}, "\n")

// testEnv keeps every Go toolchain write under /tmp and off the network.
var testEnv = map[string]string{
	"HOME":        "/tmp",
	"GOCACHE":     "/tmp/.cache/go-build",
	"GOPATH":      "/tmp/go",
	"GOFLAGS":     "-mod=mod",
	"GOPROXY":     "off",
	"GOTOOLCHAIN": "local",
	"CGO_ENABLED": "0",
}

// Runner executes a command in isolation. *sandbox.Manager implements it.
type Runner interface {
	Run(ctx context.Context, req types.SandboxRunRequest) (*types.SandboxRunResult, error)
}

// Options configures a Validator.
type Options struct {
	ArtifactsRoot     string
	Timeout           time.Duration
	CoverageThreshold float64
	Image             string // empty uses the runner's default
}

// OptionsFromConfig converts the validation config section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ArtifactsRoot:     cfg.Validation.ArtifactsRoot,
		Timeout:           cfg.GetValidationTimeout(),
		CoverageThreshold: cfg.GetCoverageThreshold(),
		Image:             cfg.Validation.Image,
	}
}

// Validator writes an artifact to disk, checks it statically and runs its
// tests in the sandbox.
type Validator struct {
	runner Runner
	opts   Options
}

// New creates a Validator.
func New(runner Runner, opts Options) *Validator {
	if opts.ArtifactsRoot == "" {
		opts.ArtifactsRoot = config.DefaultConfig().Validation.ArtifactsRoot
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CoverageThreshold <= 0 || opts.CoverageThreshold > 1 {
		opts.CoverageThreshold = 0.9
	}
	return &Validator{runner: runner, opts: opts}
}

// Threshold returns the coverage required for success.
func (v *Validator) Threshold() float64 { return v.opts.CoverageThreshold }

// ArtifactDir returns the directory used for attemptID.
func (v *Validator) ArtifactDir(attemptID string) string {
	return filepath.Join(v.opts.ArtifactsRoot, attemptID)
}

// Validate checks tool without a specification to hold it against.
func (v *Validator) Validate(ctx context.Context, tool *types.GeneratedTool, attemptID string) (*types.ValidationResult, error) {
	return v.ValidateFor(ctx, tool, nil, attemptID)
}

// ValidateFor writes tool under <root>/<attemptID>, checks it against spec
// (when non-nil) and runs its tests. Problems with the code come back as a
// failing result; the error is reserved for infrastructure problems such
// as an existing attempt directory or a cancelled context.
func (v *Validator) ValidateFor(ctx context.Context, tool *types.GeneratedTool, spec *types.ToolSpecification, attemptID string) (*types.ValidationResult, error) {
	if tool == nil {
		return nil, types.ErrNilTool
	}
	timer := logging.StartTimer(logging.CategoryValidation, "validate "+attemptID)
	defer timer.Stop()

	dir, err := v.writeArtifact(attemptID, tool)
	if err != nil {
		return nil, err
	}
	logging.Validation("Validating %s (strategy=%s) in %s", attemptID, tool.Strategy, dir)

	failures := StaticCheck(tool, spec)
	for _, f := range failures {
		if f.Kind == types.FailureSyntax || f.Kind == types.FailureSecurity {
			logging.ValidationWarn("Static check rejected %s: %s", attemptID, f.Detail)
			return types.NewValidationResult(failures, 0, v.opts.CoverageThreshold), nil
		}
	}

	run, err := v.runner.Run(ctx, types.SandboxRunRequest{
		CodeDirectory:   dir,
		Command:         []string{"sh", "-c", testScript},
		Timeout:         v.opts.Timeout,
		NetworkDisabled: true,
		Env:             testEnv,
		Image:           v.opts.Image,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("validation of %s aborted: %w", attemptID, ctxErr)
		}
		var sbErr *types.SandboxExecutionError
		if !errors.As(err, &sbErr) {
			return nil, fmt.Errorf("validation of %s: %w", attemptID, err)
		}
		kind := types.FailureUnknown
		if classifyOutput(err.Error()) == types.FailureSecurity {
			kind = types.FailureSecurity
		}
		logging.ValidationWarn("Sandbox failed for %s: %v", attemptID, err)
		failures = append(failures, types.Failure{Kind: kind, Detail: err.Error()})
		return types.NewValidationResult(failures, 0, v.opts.CoverageThreshold), nil
	}

	testLog, profile := splitOutput(run.Stdout)
	if err := os.WriteFile(filepath.Join(dir, "coverage.out"), []byte(profile), 0o644); err != nil {
		logging.ValidationWarn("Could not persist coverage profile: %v", err)
	}
	coverage := ParseProfile(profile)

	if run.ExitCode != 0 {
		output := strings.TrimSpace(strings.TrimSpace(testLog) + "\n" + strings.TrimSpace(run.Stderr))
		failures = append(failures, types.Failure{
			Kind:   classifyOutput(output),
			Detail: truncate(fmt.Sprintf("tests exited with code %d:\n%s", run.ExitCode, output)),
		})
	}

	result := types.NewValidationResult(failures, coverage, v.opts.CoverageThreshold)
	logging.Validation("Validation of %s: success=%v coverage=%.1f%% errors=%d",
		attemptID, result.Success, result.Coverage*100, len(result.Errors))
	return result, nil
}

// writeArtifact creates the attempt directory exclusively and writes the
// module, code, tests and docs into it.
func (v *Validator) writeArtifact(attemptID string, tool *types.GeneratedTool) (string, error) {
	if attemptID == "" || strings.ContainsAny(attemptID, `/\`) || attemptID == "." || attemptID == ".." {
		return "", fmt.Errorf("invalid attempt id %q", attemptID)
	}
	if err := os.MkdirAll(v.opts.ArtifactsRoot, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts root: %w", err)
	}
	dir := v.ArtifactDir(attemptID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%s: %w", dir, types.ErrArtifactExists)
		}
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	files := map[string]string{
		"go.mod":  "module " + GoModule + "\n\ngo 1.22\n",
		"tool.go": tool.Code,
	}
	if strings.TrimSpace(tool.Tests) != "" {
		files["tool_test.go"] = tool.Tests
	}
	if strings.TrimSpace(tool.Docs) != "" {
		files["docs.md"] = tool.Docs
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return dir, nil
}

func truncate(s string) string {
	if len(s) <= maxErrorOutput {
		return s
	}
	return s[:maxErrorOutput] + "\n... (truncated)"
}
