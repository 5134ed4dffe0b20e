package validation

import (
	"strings"

	"toolsmith/internal/types"
)

var (
	buildMarkers = []string{
		"[build failed]",
		"[setup failed]",
		"syntax error",
		"undefined:",
		"cannot use",
		"declared and not used",
		"imported and not used",
		"not enough arguments",
		"too many arguments",
		"missing return",
		"expected declaration",
		"redeclared in this block",
		"no Go files",
	}
	policyMarkers = []string{
		"operation not permitted",
		"permission denied",
		"read-only file system",
		"seccomp",
	}
	failMarkers = []string{
		"--- FAIL",
		"panic:",
		"FAIL\t",
	}
)

// classifyOutput assigns a failure kind to the output of a failed test run.
func classifyOutput(output string) types.FailureKind {
	switch {
	case containsAny(output, buildMarkers):
		return types.FailureSyntax
	case containsAny(output, policyMarkers):
		return types.FailureSecurity
	case containsAny(output, failMarkers):
		return types.FailureCompliance
	default:
		return types.FailureUnknown
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
