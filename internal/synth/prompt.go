package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"toolsmith/internal/types"
)

// ErrorMarker starts the code of a tool whose generation failed. Validation
// reports such code as a syntax failure without running it.
const ErrorMarker = "// TOOLSMITH_GENERATION_ERROR:"

// OutputContract is appended to every model prompt that expects a full
// artifact back.
const OutputContract = `Respond with exactly one JSON object and nothing else: no prose, no markdown fences.
The object must have three string fields:
  "code":  the complete Go source of tool.go (package tool)
  "tests": the complete Go source of tool_test.go (package tool, standard "testing" only)
  "docs":  short markdown documentation`

// Conventions lists the rules generated code must follow.
func Conventions(spec types.ToolSpecification) string {
	return fmt.Sprintf(`Go conventions:
- Package name: tool. Standard library only.
- Exported function with exactly this signature (a leading ctx context.Context parameter is also accepted):
    %s
- Never import os/exec, syscall, unsafe, plugin or runtime/cgo. Never call os.Exit, os.RemoveAll or log.Fatal.
- No network or filesystem access unless the purpose requires it.
- Tests must pass under "go test" and cover at least 90%% of statements.`, Signature(spec))
}

// BuildPrompt renders the model prompt for a specification.
func BuildPrompt(spec types.ToolSpecification) string {
	specJSON, _ := json.MarshalIndent(spec, "", "  ")

	var b strings.Builder
	b.WriteString("Design and implement a tool for the following specification.\n\n")
	b.WriteString("Specification:\n")
	b.Write(specJSON)
	b.WriteString("\n\n")
	b.WriteString(Conventions(spec))
	b.WriteString("\n\n")
	b.WriteString(OutputContract)
	b.WriteString("\n\nReference artifact for a different tool, in the required format:\n")
	b.WriteString(referenceArtifact())
	b.WriteString("\n")
	return b.String()
}

var referenceSpec = types.ToolSpecification{
	Name:            "reverse_text",
	Purpose:         "Reverses the characters of a string.",
	InputParameters: []types.Parameter{{Name: "text", Type: "string", Required: true}},
	OutputFormat:    "string",
}

func referenceArtifact() string {
	v := newView(referenceSpec, types.StrategySimple)
	v.Op = "reverse"
	if err := simpleBody(v); err != nil {
		return "{}"
	}
	tool, err := renderTool("simple", v)
	if err != nil {
		return "{}"
	}
	data, _ := json.Marshal(artifact{Code: tool.Code, Tests: tool.Tests, Docs: "# reverse_text\n\nReverses a string."})
	return string(data)
}

type artifact struct {
	Code  string `json:"code"`
	Tests string `json:"tests"`
	Docs  string `json:"docs"`
}

// DecodeArtifact parses the model's JSON artifact. Surrounding fences and
// fences inside the individual fields are stripped.
func DecodeArtifact(raw string) (*types.GeneratedTool, error) {
	text := stripFence(raw)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var a artifact
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, &types.ExtractionError{Reason: "artifact is not a JSON object: " + err.Error(), Raw: raw}
	}
	a.Code = stripFence(a.Code)
	a.Tests = stripFence(a.Tests)
	if strings.TrimSpace(a.Code) == "" {
		return nil, &types.ExtractionError{Reason: "artifact has no code", Raw: raw}
	}
	return &types.GeneratedTool{
		Code:     a.Code,
		Tests:    a.Tests,
		Docs:     strings.TrimSpace(a.Docs),
		Strategy: types.StrategyFallback,
		Language: "go",
	}, nil
}

func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	if nl := strings.Index(t, "\n"); nl >= 0 {
		t = t[nl+1:]
	} else {
		return ""
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t) + "\n"
}

// ErrorTool builds the artifact returned when generation fails: the code is
// a comment block carrying the reason and the raw model output.
func ErrorTool(spec types.ToolSpecification, reason, raw string) *types.GeneratedTool {
	var b strings.Builder
	b.WriteString(ErrorMarker + " " + commentLine(reason) + "\n")
	if raw != "" {
		b.WriteString("// raw model output follows\n")
		for _, line := range strings.Split(raw, "\n") {
			b.WriteString("// " + line + "\n")
		}
	}
	b.WriteString("package tool\n")
	return &types.GeneratedTool{
		Code:     b.String(),
		Docs:     "# " + spec.Name + "\n\nGeneration failed: " + commentLine(reason) + "\n",
		Strategy: types.StrategyFallback,
		Language: "go",
	}
}

// IsErrorTool reports whether code carries the generation error marker.
func IsErrorTool(code string) bool {
	return strings.HasPrefix(strings.TrimSpace(code), ErrorMarker)
}
