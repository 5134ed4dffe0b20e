// Package types holds the data model shared by every toolsmith stage:
// the tool specification, generated artifacts, validation outcomes and
// sandbox run descriptions.
package types

import (
	"math"
	"strings"
	"time"
)

// Parameter describes one input of the tool being designed.
type Parameter struct {
	Name        string      `json:"name" yaml:"name" validate:"required,max=64"`
	Type        string      `json:"type" yaml:"type"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// Canonical parameter kinds.
const (
	KindString  = "string"
	KindInteger = "integer"
	KindNumber  = "number"
	KindBoolean = "boolean"
	KindArray   = "array"
	KindObject  = "object"
	KindAny     = "any"
)

var kindAliases = map[string]string{
	"string": KindString, "str": KindString, "text": KindString,
	"integer": KindInteger, "int": KindInteger,
	"number": KindNumber, "float": KindNumber, "double": KindNumber,
	"boolean": KindBoolean, "bool": KindBoolean,
	"array": KindArray, "list": KindArray,
	"object": KindObject, "dict": KindObject, "map": KindObject,
	"any": KindAny, "": KindAny,
}

// CanonicalKind maps a loose type name onto one of the Kind constants.
// Unknown names become KindAny.
func CanonicalKind(t string) string {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(t))]; ok {
		return k
	}
	return KindAny
}

// Kind returns the canonical kind of the parameter.
func (p Parameter) Kind() string { return CanonicalKind(p.Type) }

// ToolSpecification is the structured description of a tool to build.
// It is treated as immutable once constructed.
type ToolSpecification struct {
	Name            string      `json:"name" yaml:"name" validate:"required,max=64"`
	Purpose         string      `json:"purpose" yaml:"purpose" validate:"required"`
	InputParameters []Parameter `json:"input_parameters" yaml:"input_parameters" validate:"dive"`
	OutputFormat    string      `json:"output_format" yaml:"output_format" validate:"required"`
}

// OutputKind returns the canonical kind of the declared output.
func (s ToolSpecification) OutputKind() string { return CanonicalKind(s.OutputFormat) }

// Strategy names the synthesis path used to produce a tool.
type Strategy string

const (
	StrategyStandard Strategy = "STANDARD" // hosted capability wrapper
	StrategySimple   Strategy = "SIMPLE"   // primitive operation template
	StrategyExternal Strategy = "EXTERNAL" // HTTP API wrapper
	StrategyFallback Strategy = "FALLBACK" // model generated
)

// Strategies lists every strategy in selection priority order.
var Strategies = []Strategy{StrategyStandard, StrategySimple, StrategyExternal, StrategyFallback}

// GeneratedTool is one candidate artifact. Repair produces a new value
// instead of mutating an existing one.
type GeneratedTool struct {
	Code     string   `json:"code"`
	Tests    string   `json:"tests"`
	Docs     string   `json:"docs"`
	Strategy Strategy `json:"strategy,omitempty"`
	Language string   `json:"language,omitempty"`
}

// FailureKind classifies why validation failed.
type FailureKind string

const (
	FailureSyntax     FailureKind = "syntax"
	FailureSecurity   FailureKind = "security"
	FailureCompliance FailureKind = "compliance"
	FailureUnknown    FailureKind = "unknown"
)

// Failure is one structured validation problem.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

// ValidationResult is the outcome of one validation attempt.
// Build it with NewValidationResult so Success stays consistent.
type ValidationResult struct {
	Success  bool      `json:"success"`
	Errors   []string  `json:"errors"`
	Coverage float64   `json:"coverage"`
	Failures []Failure `json:"failures,omitempty"`
}

// NewValidationResult derives Success from the errors and coverage:
// success holds exactly when there are no errors and coverage reaches the
// threshold. Coverage is clamped to [0,1]; NaN counts as zero.
func NewValidationResult(failures []Failure, coverage, threshold float64) *ValidationResult {
	if math.IsNaN(coverage) || coverage < 0 {
		coverage = 0
	}
	if coverage > 1 {
		coverage = 1
	}
	errs := make([]string, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.Detail)
	}
	return &ValidationResult{
		Success:  len(errs) == 0 && coverage >= threshold,
		Errors:   errs,
		Coverage: coverage,
		Failures: append([]Failure(nil), failures...),
	}
}

// HasKind reports whether any failure has the given kind.
func (r *ValidationResult) HasKind(kind FailureKind) bool {
	if r == nil {
		return false
	}
	for _, f := range r.Failures {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// SandboxState tracks a container through its lifecycle.
type SandboxState string

const (
	StateCreated   SandboxState = "CREATED"
	StateRunning   SandboxState = "RUNNING"
	StateCompleted SandboxState = "COMPLETED"
	StateTimedOut  SandboxState = "TIMED_OUT"
	StateErrored   SandboxState = "ERRORED"
	StateRemoved   SandboxState = "REMOVED"
)

// SandboxRunRequest describes one isolated execution.
type SandboxRunRequest struct {
	CodeDirectory   string            `json:"code_directory"`
	Command         []string          `json:"command"`
	Timeout         time.Duration     `json:"timeout"`
	MemoryLimit     int64             `json:"memory_limit"` // bytes
	CPUShares       int               `json:"cpu_shares"`
	PidsLimit       int               `json:"pids_limit"`
	NetworkDisabled bool              `json:"network_disabled"`
	Env             map[string]string `json:"env,omitempty"`
	Image           string            `json:"image,omitempty"`
}

// SandboxRunResult is what an isolated execution produced.
type SandboxRunResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	State    SandboxState  `json:"state"`
}

// Output returns stdout and stderr concatenated.
func (r *SandboxRunResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}
