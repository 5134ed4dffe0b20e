package repair

import (
	"strings"
	"text/template"

	"toolsmith/internal/types"
)

const promptText = `
{{define "header_syntax"}}The previous implementation of the tool does not compile or could not be produced.
Fix every error below. Return the complete corrected artifact, not a diff.{{end}}

{{define "header_security"}}The previous implementation of the tool violates the sandbox security policy.
Remove every forbidden import or call listed below and implement the behaviour with the standard library only.
Return the complete corrected artifact, not a diff.{{end}}

{{define "header_compliance"}}The previous implementation of the tool does not satisfy its specification: the signature is wrong, a test fails, or the tests cover too little of the code (coverage was {{printf "%.1f" .CoveragePct}}%, at least {{printf "%.0f" .ThresholdPct}}% is required).
Fix the code and extend the tests. Return the complete corrected artifact, not a diff.{{end}}

{{define "repair"}}{{template "header" .}}

Errors:
{{- range .Errors}}
- {{.}}
{{- else}}
- (none reported)
{{- end}}
{{if .Previous}}
Previous tool.go:
{{.Previous}}
{{end}}
{{.Conventions}}

{{.Contract}}

Original request:
{{.Original}}
{{end}}
`

type promptView struct {
	Errors       []string
	CoveragePct  float64
	ThresholdPct float64
	Previous     string
	Conventions  string
	Contract     string
	Original     string
}

// templates holds one parsed template set per repairable kind, each with
// its own "header".
var templates = func() map[types.FailureKind]*template.Template {
	base := template.Must(template.New("repair").Parse(promptText))
	out := make(map[types.FailureKind]*template.Template)
	for _, kind := range []types.FailureKind{types.FailureSyntax, types.FailureSecurity, types.FailureCompliance} {
		t := template.Must(base.Clone())
		template.Must(t.New("header").Parse(`{{template "header_` + string(kind) + `" .}}`))
		out[kind] = t
	}
	return out
}()

func renderPrompt(kind types.FailureKind, v promptView) (string, error) {
	var b strings.Builder
	if err := templates[kind].ExecuteTemplate(&b, "repair", v); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()) + "\n", nil
}
