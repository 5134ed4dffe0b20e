// Package synth produces candidate tool artifacts. Template strategies
// render directly; the fallback strategy asks the generative model for a
// complete artifact under a strict output contract.
package synth

import (
	"context"
	"errors"

	"toolsmith/internal/logging"
	"toolsmith/internal/strategy"
	"toolsmith/internal/types"
)

// Generator is the model boundary the synthesizer needs.
type Generator interface {
	GenerateFor(ctx context.Context, lang, prompt string, promptCtx map[string]interface{}) (string, error)
}

// Options tune one synthesis call.
type Options struct {
	// AllowModel permits model calls; when false the fallback strategy
	// renders MinimalImplementation instead.
	AllowModel bool
	// Context is forwarded to the model alongside the prompt.
	Context map[string]interface{}
}

// Synthesizer turns a strategy decision into a GeneratedTool.
type Synthesizer struct {
	gen        Generator
	discoverer strategy.Discoverer
}

// New creates a synthesizer. gen may be nil when the model is never
// allowed; discoverer may be nil to skip discovery.
func New(gen Generator, discoverer strategy.Discoverer) *Synthesizer {
	return &Synthesizer{gen: gen, discoverer: discoverer}
}

// Synthesize always returns a tool. The error is a *types.CodeGenerationError
// when the model could not produce an artifact; the returned tool then
// carries the error marker.
func (s *Synthesizer) Synthesize(ctx context.Context, spec types.ToolSpecification, d strategy.Decision, opts Options) (*types.GeneratedTool, error) {
	timer := logging.StartTimer(logging.CategorySynth, "synthesize "+spec.Name)
	defer timer.Stop()

	switch d.Strategy {
	case types.StrategyStandard:
		if d.Capability != nil {
			tool, err := renderStandard(spec, *d.Capability)
			if err == nil {
				return tool, nil
			}
			logging.SynthWarn("standard template failed for %s: %v", spec.Name, err)
		}

	case types.StrategySimple:
		if d.Op != nil {
			tool, err := renderSimple(spec, *d.Op)
			if err == nil {
				return tool, nil
			}
			logging.SynthWarn("simple template failed for %s: %v", spec.Name, err)
		}

	case types.StrategyExternal:
		if ep, ok := s.discover(ctx, spec, d); ok {
			tool, err := renderExternal(spec, ep)
			if err == nil {
				return tool, nil
			}
			logging.SynthWarn("external template failed for %s: %v", spec.Name, err)
		}
	}

	return s.fallback(ctx, spec, opts)
}

// discover prefers live discovery and falls back to the endpoints carried by
// the decision. Errors degrade to "nothing found".
func (s *Synthesizer) discover(ctx context.Context, spec types.ToolSpecification, d strategy.Decision) (strategy.Endpoint, bool) {
	if s.discoverer != nil {
		eps, err := s.discoverer.Discover(ctx, spec)
		if err != nil {
			logging.SynthWarn("discovery failed for %s: %v", spec.Name, err)
			return strategy.Endpoint{}, false
		}
		if len(eps) > 0 {
			return eps[0], true
		}
		logging.SynthDebug("discovery found no endpoint for %s", spec.Name)
		return strategy.Endpoint{}, false
	}
	if len(d.Endpoints) > 0 {
		return d.Endpoints[0], true
	}
	return strategy.Endpoint{}, false
}

func (s *Synthesizer) fallback(ctx context.Context, spec types.ToolSpecification, opts Options) (*types.GeneratedTool, error) {
	if !opts.AllowModel || s.gen == nil {
		logging.SynthDebug("model disabled, rendering minimal implementation for %s", spec.Name)
		return MinimalImplementation(spec), nil
	}

	prompt := BuildPrompt(spec)
	raw, err := s.gen.GenerateFor(ctx, "json", prompt, opts.Context)
	if err != nil {
		var xe *types.ExtractionError
		if errors.As(err, &xe) {
			logging.SynthWarn("model output for %s held no artifact", spec.Name)
			return ErrorTool(spec, xe.Error(), xe.Raw), nil
		}
		logging.SynthWarn("model call failed for %s: %v", spec.Name, err)
		return ErrorTool(spec, err.Error(), ""), &types.CodeGenerationError{Tool: spec.Name, Cause: err}
	}

	tool, err := DecodeArtifact(raw)
	if err != nil {
		logging.SynthWarn("could not decode artifact for %s: %v", spec.Name, err)
		return ErrorTool(spec, err.Error(), raw), nil
	}
	logging.Synth("model artifact for %s: code=%d tests=%d bytes", spec.Name, len(tool.Code), len(tool.Tests))
	return tool, nil
}
