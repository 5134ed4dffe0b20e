package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolsmith/internal/logging"
)

// LocalBackend runs the command as a host process. It enforces the
// wall-clock limit only: no filesystem, network or resource isolation.
// Use it where Docker is unavailable and the code is trusted.
type LocalBackend struct {
	mu    sync.Mutex
	procs map[string]*localProc
}

type localProc struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}
	err    error
}

// NewLocalBackend creates a host-process backend.
func NewLocalBackend() *LocalBackend {
	logging.SandboxWarn("Local sandbox backend selected: generated code runs without container isolation")
	return &LocalBackend{procs: make(map[string]*localProc)}
}

// Name implements Backend.
func (l *LocalBackend) Name() string { return "local" }

// Ping implements Backend.
func (l *LocalBackend) Ping(ctx context.Context) error { return nil }

// Create starts the command with CodeMountPath rewritten to the host
// code directory.
func (l *LocalBackend) Create(ctx context.Context, spec ContainerSpec) (Handle, error) {
	if len(spec.Command) == 0 {
		return Handle{}, fmt.Errorf("empty command")
	}
	args := make([]string, len(spec.Command))
	for i, a := range spec.Command {
		args[i] = strings.ReplaceAll(a, CodeMountPath, spec.CodeDir)
	}

	p := &localProc{done: make(chan struct{})}
	p.cmd = exec.Command(args[0], args[1:]...)
	p.cmd.Dir = spec.CodeDir
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr
	p.cmd.Env = os.Environ()
	for _, k := range sortedKeys(spec.Env) {
		p.cmd.Env = append(p.cmd.Env, k+"="+spec.Env[k])
	}
	setupProcessGroup(p.cmd)

	if err := p.cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("failed to start process: %w", err)
	}
	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()

	h := Handle{ID: uuid.NewString(), Name: spec.Name}
	l.mu.Lock()
	l.procs[h.ID] = p
	l.mu.Unlock()
	logging.SandboxDebug("Local process started: pid=%d", p.cmd.Process.Pid)
	return h, nil
}

func (l *LocalBackend) lookup(h Handle) (*localProc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[h.ID]
	return p, ok
}

// Wait implements Backend.
func (l *LocalBackend) Wait(ctx context.Context, h Handle) (ExitInfo, error) {
	p, ok := l.lookup(h)
	if !ok {
		return ExitInfo{}, fmt.Errorf("unknown process %s", h.ID)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return ExitInfo{}, ctx.Err()
	}
	var exitErr *exec.ExitError
	if p.err != nil && !errors.As(p.err, &exitErr) {
		return ExitInfo{}, p.err
	}
	return ExitInfo{ExitCode: p.cmd.ProcessState.ExitCode()}, nil
}

// Logs implements Backend. Output is only available once the process exited.
func (l *LocalBackend) Logs(ctx context.Context, h Handle) (string, string, error) {
	p, ok := l.lookup(h)
	if !ok {
		return "", "", fmt.Errorf("unknown process %s", h.ID)
	}
	select {
	case <-p.done:
		return p.stdout.String(), p.stderr.String(), nil
	default:
		return "", "", fmt.Errorf("process %s still running", h.ID)
	}
}

// Stop kills the process group. Host processes get no grace period.
func (l *LocalBackend) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	p, ok := l.lookup(h)
	if !ok {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcessGroup(p.cmd)
}

// Remove kills the process if needed and forgets it.
func (l *LocalBackend) Remove(ctx context.Context, h Handle, force bool) error {
	p, ok := l.lookup(h)
	if !ok {
		return nil
	}
	select {
	case <-p.done:
	default:
		if !force {
			return fmt.Errorf("process %s still running", h.ID)
		}
		if err := killProcessGroup(p.cmd); err != nil {
			return err
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	delete(l.procs, h.ID)
	l.mu.Unlock()
	return nil
}
