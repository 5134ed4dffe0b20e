package repair

import (
	"strings"

	"toolsmith/internal/types"
)

// kindPriority orders structured failures when several are present.
var kindPriority = []types.FailureKind{
	types.FailureSyntax,
	types.FailureSecurity,
	types.FailureCompliance,
}

var textHints = []struct {
	kind  types.FailureKind
	hints []string
}{
	{types.FailureSyntax, []string{"syntax error", "expected ", "undefined:", "build failed", "does not compile", "generation failed"}},
	{types.FailureSecurity, []string{"forbidden", "security", "seccomp", "operation not permitted", "permission denied"}},
	{types.FailureCompliance, []string{"--- fail", "missing", "parameter", "compliance", "must return"}},
}

// Classify maps a failed validation result to exactly one failure kind.
// Structured failures win, in the order syntax, security, compliance.
// Without them the error text is searched for hints. A result with no
// errors that still failed fell short on coverage, which is a compliance
// gap. Everything else is unknown.
func Classify(result *types.ValidationResult) types.FailureKind {
	if result == nil {
		return types.FailureUnknown
	}
	for _, kind := range kindPriority {
		if result.HasKind(kind) {
			return kind
		}
	}
	if result.HasKind(types.FailureUnknown) {
		return types.FailureUnknown
	}

	text := strings.ToLower(strings.Join(result.Errors, "\n"))
	if text != "" {
		for _, h := range textHints {
			for _, hint := range h.hints {
				if strings.Contains(text, hint) {
					return h.kind
				}
			}
		}
		return types.FailureUnknown
	}

	if !result.Success {
		return types.FailureCompliance
	}
	return types.FailureUnknown
}
