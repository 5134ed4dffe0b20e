package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolsmith/internal/config"
	"toolsmith/internal/logging"
	"toolsmith/internal/types"
)

const (
	// stopGrace is how long a timed-out container gets before SIGKILL.
	stopGrace = 5 * time.Second

	defaultCleanupTimeout = 30 * time.Second
)

// Options are the defaults applied to every run. Fields set on a
// SandboxRunRequest override them.
type Options struct {
	Image           string
	Timeout         time.Duration
	MemoryLimit     int64
	CPUShares       int
	PidsLimit       int
	NetworkDisabled bool
	User            string
	SeccompProfile  string // path; empty uses the built-in profile
	DisableSeccomp  bool
	CleanupTimeout  time.Duration
}

// OptionsFromConfig converts the sandbox config section.
func OptionsFromConfig(cfg config.SandboxConfig) (Options, error) {
	mem, err := ParseMemory(cfg.Memory)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Image:           cfg.Image,
		Timeout:         cfg.GetTimeout(),
		MemoryLimit:     mem,
		CPUShares:       cfg.CPUShares,
		PidsLimit:       cfg.PidsLimit,
		NetworkDisabled: cfg.NetworkDisabled,
		User:            cfg.User,
		SeccompProfile:  cfg.SeccompProfile,
		CleanupTimeout:  defaultCleanupTimeout,
	}, nil
}

// NewBackend returns the backend named by cfg.Backend.
func NewBackend(cfg config.SandboxConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "docker":
		return NewDockerBackend(cfg.DockerBinary), nil
	case "local":
		return NewLocalBackend(), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend: %s", cfg.Backend)
	}
}

// Manager runs commands in short-lived containers. Every container it
// creates is removed before Run returns.
type Manager struct {
	backend Backend
	opts    Options

	profileOnce    sync.Once
	profilePath    string
	profileCleanup func()

	mu            sync.RWMutex
	auditCallback func(AuditEvent)
}

// NewManager creates a manager over backend.
func NewManager(backend Backend, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultSandboxConfig().GetTimeout()
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaultCleanupTimeout
	}
	return &Manager{
		backend:        backend,
		opts:           opts,
		profileCleanup: func() {},
	}
}

// NewManagerFromConfig builds the backend and manager described by cfg.
func NewManagerFromConfig(cfg config.SandboxConfig) (*Manager, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Backend == "local" {
		opts.DisableSeccomp = true
	}
	return NewManager(backend, opts), nil
}

// Backend returns the underlying backend.
func (m *Manager) Backend() Backend { return m.backend }

// SetAuditCallback registers fn to receive lifecycle events.
func (m *Manager) SetAuditCallback(fn func(AuditEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditCallback = fn
}

func (m *Manager) emitAudit(event AuditEvent) {
	m.mu.RLock()
	fn := m.auditCallback
	m.mu.RUnlock()
	if fn != nil {
		event.Timestamp = time.Now()
		fn(event)
	}
}

// Close releases the temp seccomp profile, if one was written.
func (m *Manager) Close() error {
	m.profileCleanup()
	return nil
}

func (m *Manager) seccompProfile() string {
	if m.opts.DisableSeccomp {
		return ""
	}
	m.profileOnce.Do(func() {
		path, cleanup, err := resolveSeccompProfile(m.opts.SeccompProfile)
		if err != nil {
			logging.SandboxWarn("Seccomp profile unavailable, running without it: %v", err)
			return
		}
		m.profilePath = path
		m.profileCleanup = cleanup
	})
	return m.profilePath
}

func (m *Manager) containerSpec(req types.SandboxRunRequest, codeDir string) ContainerSpec {
	spec := ContainerSpec{
		Name:            "toolsmith-sandbox-" + strings.SplitN(uuid.NewString(), "-", 2)[0],
		Image:           m.opts.Image,
		Command:         req.Command,
		CodeDir:         codeDir,
		Env:             req.Env,
		MemoryLimit:     m.opts.MemoryLimit,
		CPUShares:       m.opts.CPUShares,
		PidsLimit:       m.opts.PidsLimit,
		NetworkDisabled: m.opts.NetworkDisabled || req.NetworkDisabled,
		User:            m.opts.User,
		SeccompProfile:  m.seccompProfile(),
	}
	if req.Image != "" {
		spec.Image = req.Image
	}
	if req.MemoryLimit > 0 {
		spec.MemoryLimit = req.MemoryLimit
	}
	if req.CPUShares > 0 {
		spec.CPUShares = req.CPUShares
	}
	if req.PidsLimit > 0 {
		spec.PidsLimit = req.PidsLimit
	}
	return spec
}

// Run executes req.Command in a fresh container with the code directory
// mounted read-only. The container moves through CREATED, RUNNING, one of
// COMPLETED / TIMED_OUT / ERRORED, and is always REMOVED before Run
// returns, including when ctx is cancelled. A non-zero exit code is a
// normal result; timeouts and runtime failures are SandboxExecutionErrors.
func (m *Manager) Run(ctx context.Context, req types.SandboxRunRequest) (*types.SandboxRunResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("sandbox: empty command")
	}
	codeDir, err := filepath.Abs(req.CodeDirectory)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if info, err := os.Stat(codeDir); err != nil {
		return nil, fmt.Errorf("sandbox: code directory not found: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("sandbox: code directory not found: %s is not a directory", codeDir)
	}

	if err := ctx.Err(); err != nil {
		return nil, &types.SandboxExecutionError{Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.opts.Timeout
	}

	spec := m.containerSpec(req, codeDir)
	timer := logging.StartTimer(logging.CategorySandbox, "sandbox run "+spec.Name)
	defer timer.Stop()

	start := time.Now()
	result := &types.SandboxRunResult{ExitCode: -1}

	logging.Sandbox("Running %v in %s sandbox (image=%s, timeout=%s)", req.Command, m.backend.Name(), spec.Image, timeout)
	h, err := m.backend.Create(ctx, spec)
	if h.ID != "" || h.Name != "" {
		defer m.remove(ctx, h, start)
	}
	if err != nil {
		result.State = types.StateErrored
		m.emitAudit(AuditEvent{Type: AuditEventFinished, ContainerID: h.ID, Name: spec.Name, State: result.State, Elapsed: time.Since(start), Error: err.Error()})
		logging.SandboxError("Sandbox create failed: %v", err)
		return nil, &types.SandboxExecutionError{Elapsed: time.Since(start), Err: err}
	}
	result.State = types.StateCreated
	m.emitAudit(AuditEvent{Type: AuditEventCreated, ContainerID: h.ID, Name: spec.Name, State: result.State})

	result.State = types.StateRunning
	m.emitAudit(AuditEvent{Type: AuditEventRunning, ContainerID: h.ID, Name: spec.Name, State: result.State})

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	exit, err := m.backend.Wait(waitCtx, h)
	deadlineHit := errors.Is(waitCtx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)
	result.Duration = elapsed

	if err != nil {
		runErr := &types.SandboxExecutionError{Elapsed: elapsed, Err: err}
		switch {
		case ctx.Err() != nil:
			result.State = types.StateErrored
			runErr.Err = ctx.Err()
			logging.SandboxWarn("Sandbox run aborted by caller after %s: %v", elapsed, ctx.Err())
		case deadlineHit || errors.Is(err, context.DeadlineExceeded):
			result.State = types.StateTimedOut
			runErr.TimedOut = true
			logging.SandboxWarn("Sandbox run timed out after %s", timeout)
			m.stop(ctx, h)
		default:
			result.State = types.StateErrored
			logging.SandboxError("Sandbox wait failed: %v", err)
		}
		m.emitAudit(AuditEvent{Type: AuditEventFinished, ContainerID: h.ID, Name: spec.Name, State: result.State, Elapsed: elapsed, Error: runErr.Error()})
		return nil, runErr
	}

	result.ExitCode = exit.ExitCode
	result.State = types.StateCompleted
	logsCtx, cancelLogs := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CleanupTimeout)
	stdout, stderr, err := m.backend.Logs(logsCtx, h)
	cancelLogs()
	if err != nil {
		logging.SandboxWarn("Could not read sandbox output: %v", err)
	}
	result.Stdout = stdout
	result.Stderr = stderr

	m.emitAudit(AuditEvent{Type: AuditEventFinished, ContainerID: h.ID, Name: spec.Name, State: result.State, Elapsed: elapsed})
	logging.Sandbox("Sandbox execution finished with exit code %d in %s", result.ExitCode, elapsed)
	return result, nil
}

// stop halts a container that outlived its timeout. It runs on a
// non-cancellable context so a cancelled caller cannot skip it.
func (m *Manager) stop(ctx context.Context, h Handle) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CleanupTimeout)
	defer cancel()
	if err := m.backend.Stop(stopCtx, h, stopGrace); err != nil {
		logging.SandboxWarn("Error stopping timed-out container %s: %v", shortID(h.ID), err)
	}
}

func (m *Manager) remove(ctx context.Context, h Handle, start time.Time) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CleanupTimeout)
	defer cancel()
	if err := m.backend.Remove(rmCtx, h, true); err != nil {
		logging.SandboxWarn("Could not remove container %s: %v", h.label(), err)
		m.emitAudit(AuditEvent{Type: AuditEventRemoveErr, ContainerID: h.ID, Name: h.Name, Elapsed: time.Since(start), Error: err.Error()})
		return
	}
	logging.SandboxDebug("Removed container %s", h.label())
	m.emitAudit(AuditEvent{Type: AuditEventRemoved, ContainerID: h.ID, Name: h.Name, State: types.StateRemoved, Elapsed: time.Since(start)})
}

// ParseMemory converts a docker-style size ("256m", "1g", "512k", "1024")
// to bytes. Empty means no limit.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'b':
		s = s[:len(s)-1]
	case 'k':
		mult, s = 1<<10, s[:len(s)-1]
	case 'm':
		mult, s = 1<<20, s[:len(s)-1]
	case 'g':
		mult, s = 1<<30, s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	return n * mult, nil
}
