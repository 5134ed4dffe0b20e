// Package repair turns a failed validation into one new candidate tool.
package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"toolsmith/internal/logging"
	"toolsmith/internal/synth"
	"toolsmith/internal/types"
)

// PreviousCodeKey is the prompt-context key under which callers pass the
// code of the attempt being repaired.
const PreviousCodeKey = "previous_code"

// Options configures a Manager.
type Options struct {
	// TemplateOnly forbids model calls; every repair renders the minimal
	// implementation.
	TemplateOnly bool
	// Threshold is the coverage the validator requires, quoted in
	// compliance prompts.
	Threshold float64
}

// Manager performs single, stateless repair attempts.
type Manager struct {
	gen  synth.Generator
	opts Options
}

// New creates a repair manager. gen may be nil in template-only mode.
func New(gen synth.Generator, opts Options) *Manager {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = 0.9
	}
	return &Manager{gen: gen, opts: opts}
}

// Repair makes exactly one repair attempt and always returns a tool.
// Syntax, security and compliance failures re-prompt the model with the
// error text and ask for a full corrected artifact; unknown failures, and
// any failure in template-only mode, fall back to the minimal direct
// implementation without a model call. A model failure yields a tool
// carrying the generation error marker.
func (m *Manager) Repair(ctx context.Context, result *types.ValidationResult, spec types.ToolSpecification, originalPrompt string, promptCtx map[string]interface{}) (tool *types.GeneratedTool) {
	defer func() {
		if r := recover(); r != nil {
			logging.RepairWarn("repair of %s panicked: %v", spec.Name, r)
			tool = synth.ErrorTool(spec, fmt.Sprintf("repair panicked: %v", r), "")
		}
	}()

	kind := Classify(result)
	logging.Repair("Repairing %s: failure class %s", spec.Name, kind)

	if kind == types.FailureUnknown || m.opts.TemplateOnly || m.gen == nil {
		logging.RepairDebug("regenerating minimal implementation for %s", spec.Name)
		return synth.MinimalImplementation(spec)
	}

	prompt, err := m.Prompt(kind, result, spec, originalPrompt, promptCtx)
	if err != nil {
		return synth.ErrorTool(spec, "could not build repair prompt: "+err.Error(), "")
	}

	raw, err := m.gen.GenerateFor(ctx, "json", prompt, forwardContext(promptCtx))
	if err != nil {
		var xe *types.ExtractionError
		if errors.As(err, &xe) {
			logging.RepairWarn("repair response for %s held no artifact", spec.Name)
			return synth.ErrorTool(spec, xe.Error(), xe.Raw)
		}
		logging.RepairWarn("repair model call for %s failed: %v", spec.Name, err)
		return synth.ErrorTool(spec, err.Error(), "")
	}

	repaired, err := synth.DecodeArtifact(raw)
	if err != nil {
		logging.RepairWarn("could not decode repair artifact for %s: %v", spec.Name, err)
		return synth.ErrorTool(spec, err.Error(), raw)
	}
	logging.Repair("Repair of %s produced code=%d tests=%d bytes", spec.Name, len(repaired.Code), len(repaired.Tests))
	return repaired
}

// Prompt renders the repair prompt for a templated failure kind.
func (m *Manager) Prompt(kind types.FailureKind, result *types.ValidationResult, spec types.ToolSpecification, originalPrompt string, promptCtx map[string]interface{}) (string, error) {
	if _, ok := templates[kind]; !ok {
		return "", fmt.Errorf("no repair template for failure kind %q", kind)
	}
	if strings.TrimSpace(originalPrompt) == "" {
		originalPrompt = synth.BuildPrompt(spec)
	}
	v := promptView{
		ThresholdPct: m.opts.Threshold * 100,
		Conventions:  synth.Conventions(spec),
		Contract:     synth.OutputContract,
		Original:     originalPrompt,
	}
	if result != nil {
		v.Errors = result.Errors
		v.CoveragePct = result.Coverage * 100
	}
	if prev, ok := promptCtx[PreviousCodeKey].(string); ok {
		v.Previous = prev
	}
	return renderPrompt(kind, v)
}

// forwardContext drops the previous code, which the prompt already quotes.
func forwardContext(promptCtx map[string]interface{}) map[string]interface{} {
	if _, ok := promptCtx[PreviousCodeKey]; !ok {
		return promptCtx
	}
	out := make(map[string]interface{}, len(promptCtx))
	for k, v := range promptCtx {
		if k != PreviousCodeKey {
			out[k] = v
		}
	}
	return out
}
