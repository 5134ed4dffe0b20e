package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrArtifactExists is returned when an attempt directory is reused.
	ErrArtifactExists = errors.New("artifact directory already exists")
	// ErrNilTool is returned when a nil tool reaches validation.
	ErrNilTool = errors.New("nil generated tool")
)

// TransientNetworkError marks a model call failure worth retrying:
// connection errors, timeouts, throttling and server errors.
type TransientNetworkError struct {
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient network error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ExtractionError means a model response held no usable text or code.
type ExtractionError struct {
	Reason string
	Raw    string
}

func (e *ExtractionError) Error() string {
	return "extraction failed: " + e.Reason
}

// SandboxExecutionError reports a sandbox run that could not complete.
type SandboxExecutionError struct {
	Elapsed  time.Duration
	TimedOut bool
	Err      error
}

func (e *SandboxExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("sandbox execution timed out after %s", e.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("sandbox execution failed after %s: %v", e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *SandboxExecutionError) Unwrap() error { return e.Err }

// ValidationFailure is a single classified validation problem as an error.
type ValidationFailure struct {
	Kind   FailureKind
	Detail string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("%s failure: %s", e.Kind, e.Detail)
}

// Failure converts the error into its result form.
func (e *ValidationFailure) Failure() Failure {
	return Failure{Kind: e.Kind, Detail: e.Detail}
}

// CodeGenerationError wraps any unrecoverable synthesis failure.
type CodeGenerationError struct {
	Tool  string
	Cause error
}

func (e *CodeGenerationError) Error() string {
	return fmt.Sprintf("code generation failed for %s: %v", e.Tool, e.Cause)
}

func (e *CodeGenerationError) Unwrap() error { return e.Cause }

// IsTransient reports whether err (or anything it wraps) is a
// TransientNetworkError.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}
