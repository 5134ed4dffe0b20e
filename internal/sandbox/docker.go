package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"toolsmith/internal/logging"
)

// cliWaitDelay bounds how long a killed CLI may hold its output pipes open.
const cliWaitDelay = time.Second

// DockerBackend drives containers through the docker CLI.
type DockerBackend struct {
	binary string
}

// NewDockerBackend creates a backend that shells out to the given docker
// binary. An empty binary means "docker" from PATH.
func NewDockerBackend(binary string) *DockerBackend {
	if binary == "" {
		binary = "docker"
	}
	return &DockerBackend{binary: binary}
}

// Name implements Backend.
func (d *DockerBackend) Name() string { return "docker" }

// Ping checks that the docker daemon answers.
func (d *DockerBackend) Ping(ctx context.Context) error {
	if _, err := exec.LookPath(d.binary); err != nil {
		return fmt.Errorf("docker binary not found: %w", err)
	}
	out, _, err := d.run(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return fmt.Errorf("docker daemon not responsive: %w", err)
	}
	logging.SandboxDebug("Docker server version %s", strings.TrimSpace(out))
	return nil
}

// CreateArgs builds the `docker create` argument list for spec.
func CreateArgs(spec ContainerSpec) []string {
	args := []string{"create"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	if spec.NetworkDisabled {
		args = append(args, "--network", "none")
	}
	if spec.MemoryLimit > 0 {
		mem := strconv.FormatInt(spec.MemoryLimit, 10)
		args = append(args, "--memory", mem, "--memory-swap", mem)
	}
	if spec.CPUShares > 0 {
		args = append(args, "--cpu-shares", strconv.Itoa(spec.CPUShares))
	}
	if spec.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(spec.PidsLimit))
	}
	args = append(args, "--cap-drop", "ALL", "--security-opt", "no-new-privileges")
	if spec.SeccompProfile != "" {
		args = append(args, "--security-opt", "seccomp="+spec.SeccompProfile)
	}
	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}
	if spec.CodeDir != "" {
		args = append(args, "-v", spec.CodeDir+":"+CodeMountPath+":ro", "-w", CodeMountPath)
	}

	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	args = append(args, "--label", "toolsmith.managed=true")
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}

	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

// Create runs `docker create` followed by `docker start`.
func (d *DockerBackend) Create(ctx context.Context, spec ContainerSpec) (Handle, error) {
	args := CreateArgs(spec)
	logging.SandboxDebug("Docker create args: %v", args)

	// The daemon may have created the container even when the CLI failed
	// or was killed, so failures still hand back the name for removal.
	out, stderr, err := d.run(ctx, args...)
	if err != nil {
		return Handle{Name: spec.Name}, fmt.Errorf("failed to create container: %w: %s", err, strings.TrimSpace(stderr))
	}
	h := Handle{ID: strings.TrimSpace(out), Name: spec.Name}
	if h.ID == "" {
		return Handle{Name: spec.Name}, fmt.Errorf("docker create returned no container id")
	}

	if _, stderr, err := d.run(ctx, "start", h.ID); err != nil {
		return h, fmt.Errorf("failed to start container: %w: %s", err, strings.TrimSpace(stderr))
	}
	logging.SandboxDebug("Container started: %s", shortID(h.ID))
	return h, nil
}

// Wait runs `docker wait`. Killing the CLI on ctx expiry leaves the
// container running; the caller is responsible for stopping it.
func (d *DockerBackend) Wait(ctx context.Context, h Handle) (ExitInfo, error) {
	out, stderr, err := d.run(ctx, "wait", h.ID)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ExitInfo{}, ctxErr
	}
	if err != nil {
		return ExitInfo{}, fmt.Errorf("docker wait failed: %w: %s", err, strings.TrimSpace(stderr))
	}
	code, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return ExitInfo{}, fmt.Errorf("unexpected docker wait output %q", strings.TrimSpace(out))
	}
	return ExitInfo{ExitCode: code}, nil
}

// Logs runs `docker logs`; the CLI keeps the container's streams apart.
func (d *DockerBackend) Logs(ctx context.Context, h Handle) (string, string, error) {
	stdout, stderr, err := d.run(ctx, "logs", h.ID)
	if err != nil {
		return "", "", fmt.Errorf("docker logs failed: %w: %s", err, strings.TrimSpace(stderr))
	}
	return stdout, stderr, nil
}

// Stop runs `docker stop -t <grace>`.
func (d *DockerBackend) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	secs := int(grace.Seconds())
	if _, stderr, err := d.run(ctx, "stop", "-t", strconv.Itoa(secs), h.ID); err != nil {
		if isNoSuchContainer(stderr) {
			return nil
		}
		return fmt.Errorf("failed to stop container: %w: %s", err, strings.TrimSpace(stderr))
	}
	return nil
}

// Remove runs `docker rm`, tolerating containers that are already gone.
// Handles without an ID are removed by name.
func (d *DockerBackend) Remove(ctx context.Context, h Handle, force bool) error {
	target := h.ID
	if target == "" {
		target = h.Name
	}
	if target == "" {
		return nil
	}
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, target)
	if _, stderr, err := d.run(ctx, args...); err != nil {
		if isNoSuchContainer(stderr) {
			return nil
		}
		return fmt.Errorf("failed to remove container: %w: %s", err, strings.TrimSpace(stderr))
	}
	return nil
}

func (d *DockerBackend) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.WaitDelay = cliWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func isNoSuchContainer(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "no such container")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
