package sandbox

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed seccomp.json
var defaultSeccompProfile []byte

// DefaultSeccompProfile returns the built-in profile. It denies every
// syscall with EPERM except an explicit allow-list covering what the Go
// toolchain and test binaries use. clone is allowed only without namespace
// flags, clone3 reports ENOSYS so libc falls back to clone, and privileged
// calls (mounts, module loading, ptrace, namespaces) are listed as denied.
func DefaultSeccompProfile() []byte {
	out := make([]byte, len(defaultSeccompProfile))
	copy(out, defaultSeccompProfile)
	return out
}

// resolveSeccompProfile returns a host path to hand to the runtime. A
// configured path wins; otherwise the built-in profile is written to a
// temp file. The returned cleanup removes anything that was written.
func resolveSeccompProfile(configured string) (string, func(), error) {
	noop := func() {}
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", noop, fmt.Errorf("seccomp profile %s: %w", configured, err)
		}
		return configured, noop, nil
	}

	f, err := os.CreateTemp("", "toolsmith-seccomp-*.json")
	if err != nil {
		return "", noop, fmt.Errorf("failed to write seccomp profile: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(defaultSeccompProfile); err != nil {
		f.Close()
		os.Remove(path)
		return "", noop, fmt.Errorf("failed to write seccomp profile: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", noop, fmt.Errorf("failed to write seccomp profile: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}
