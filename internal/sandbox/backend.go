package sandbox

import (
	"context"
	"time"
)

// CodeMountPath is where the code directory appears inside a container.
const CodeMountPath = "/sandbox/code"

// ContainerSpec is everything a backend needs to create one container.
type ContainerSpec struct {
	Name            string
	Image           string
	Command         []string
	CodeDir         string // host path, mounted read-only at CodeMountPath
	Env             map[string]string
	MemoryLimit     int64 // bytes
	CPUShares       int
	PidsLimit       int
	NetworkDisabled bool
	User            string
	SeccompProfile  string // host path to a seccomp profile, empty for none
	Labels          map[string]string
}

// Handle identifies a container created by a backend.
type Handle struct {
	ID   string
	Name string
}

func (h Handle) label() string {
	if h.ID == "" {
		return h.Name
	}
	return shortID(h.ID)
}

// ExitInfo is what Wait reports for a finished container.
type ExitInfo struct {
	ExitCode int
}

// Backend is the container runtime boundary. Implementations must be safe
// for concurrent use; containers themselves are never shared between runs.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Ping reports whether the runtime is reachable.
	Ping(ctx context.Context) error

	// Create creates and starts a container detached. A non-empty Handle
	// may be returned together with an error when the container exists but
	// could not be started; callers must still remove it.
	Create(ctx context.Context, spec ContainerSpec) (Handle, error)

	// Wait blocks until the container exits or ctx is done.
	Wait(ctx context.Context, h Handle) (ExitInfo, error)

	// Logs returns the container's stdout and stderr.
	Logs(ctx context.Context, h Handle) (stdout, stderr string, err error)

	// Stop asks the container to stop, killing it after grace.
	Stop(ctx context.Context, h Handle, grace time.Duration) error

	// Remove deletes the container. Removing a container that no longer
	// exists is not an error.
	Remove(ctx context.Context, h Handle, force bool) error
}
