package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"toolsmith/internal/config"
	"toolsmith/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingBackend is a Backend whose behaviour is set per test and which
// counts every create and remove.
type recordingBackend struct {
	mu      sync.Mutex
	created []Handle
	removed []Handle
	stopped []Handle
	specs   []ContainerSpec

	CreateFunc func(ctx context.Context, spec ContainerSpec) (Handle, error)
	WaitFunc   func(ctx context.Context, h Handle) (ExitInfo, error)
	LogsFunc   func(ctx context.Context, h Handle) (string, string, error)
	RemoveFunc func(ctx context.Context, h Handle) error
}

func (r *recordingBackend) Name() string                   { return "recording" }
func (r *recordingBackend) Ping(ctx context.Context) error { return nil }

func (r *recordingBackend) Create(ctx context.Context, spec ContainerSpec) (Handle, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()
	if r.CreateFunc != nil {
		h, err := r.CreateFunc(ctx, spec)
		if h.ID != "" {
			r.mu.Lock()
			r.created = append(r.created, h)
			r.mu.Unlock()
		}
		return h, err
	}
	h := Handle{ID: spec.Name, Name: spec.Name}
	r.mu.Lock()
	r.created = append(r.created, h)
	r.mu.Unlock()
	return h, nil
}

func (r *recordingBackend) Wait(ctx context.Context, h Handle) (ExitInfo, error) {
	if r.WaitFunc != nil {
		return r.WaitFunc(ctx, h)
	}
	return ExitInfo{}, nil
}

func (r *recordingBackend) Logs(ctx context.Context, h Handle) (string, string, error) {
	if r.LogsFunc != nil {
		return r.LogsFunc(ctx, h)
	}
	return "", "", nil
}

func (r *recordingBackend) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, h)
	return nil
}

func (r *recordingBackend) Remove(ctx context.Context, h Handle, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.RemoveFunc != nil {
		if err := r.RemoveFunc(ctx, h); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, h)
	return nil
}

func (r *recordingBackend) counts() (created, removed, stopped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created), len(r.removed), len(r.stopped)
}

func blockUntilDone(ctx context.Context, h Handle) (ExitInfo, error) {
	<-ctx.Done()
	return ExitInfo{}, ctx.Err()
}

func testRequest(t *testing.T) types.SandboxRunRequest {
	t.Helper()
	return types.SandboxRunRequest{
		CodeDirectory: t.TempDir(),
		Command:       []string{"go", "test", "./..."},
		Timeout:       time.Second,
	}
}

func newTestManager(backend Backend) *Manager {
	return NewManager(backend, Options{
		Image:           "golang:1.24-alpine",
		Timeout:         time.Second,
		MemoryLimit:     256 << 20,
		CPUShares:       512,
		PidsLimit:       100,
		NetworkDisabled: true,
		User:            "65534:65534",
		DisableSeccomp:  true,
	})
}

func TestRun_Completed(t *testing.T) {
	backend := &recordingBackend{
		WaitFunc: func(ctx context.Context, h Handle) (ExitInfo, error) {
			return ExitInfo{ExitCode: 0}, nil
		},
		LogsFunc: func(ctx context.Context, h Handle) (string, string, error) {
			return "ok\n", "warn\n", nil
		},
	}
	mgr := newTestManager(backend)

	var events []AuditEvent
	mgr.SetAuditCallback(func(e AuditEvent) { events = append(events, e) })

	res, err := mgr.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, types.StateCompleted, res.State)

	created, removed, _ := backend.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, created, removed)

	var states []types.SandboxState
	for _, e := range events {
		states = append(states, e.State)
	}
	assert.Equal(t, []types.SandboxState{
		types.StateCreated, types.StateRunning, types.StateCompleted, types.StateRemoved,
	}, states)
}

func TestRun_NonZeroExitIsAResult(t *testing.T) {
	backend := &recordingBackend{
		WaitFunc: func(ctx context.Context, h Handle) (ExitInfo, error) {
			return ExitInfo{ExitCode: 1}, nil
		},
		LogsFunc: func(ctx context.Context, h Handle) (string, string, error) {
			return "--- FAIL: TestX", "", nil
		},
	}
	res, err := newTestManager(backend).Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output(), "--- FAIL")
}

func TestRun_TimeoutStopsAndRemoves(t *testing.T) {
	backend := &recordingBackend{WaitFunc: blockUntilDone}
	req := testRequest(t)
	req.Timeout = 50 * time.Millisecond

	start := time.Now()
	res, err := newTestManager(backend).Run(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 2*time.Second)

	var sbErr *types.SandboxExecutionError
	require.ErrorAs(t, err, &sbErr)
	assert.True(t, sbErr.TimedOut)
	assert.GreaterOrEqual(t, sbErr.Elapsed, 50*time.Millisecond)
	assert.Contains(t, err.Error(), "timed out")

	created, removed, stopped := backend.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, stopped)
}

func TestRun_CreateFailsBeforeStart(t *testing.T) {
	backend := &recordingBackend{
		CreateFunc: func(ctx context.Context, spec ContainerSpec) (Handle, error) {
			return Handle{}, errors.New("image not found")
		},
	}
	_, err := newTestManager(backend).Run(context.Background(), testRequest(t))
	var sbErr *types.SandboxExecutionError
	require.ErrorAs(t, err, &sbErr)
	assert.False(t, sbErr.TimedOut)
	assert.Contains(t, err.Error(), "image not found")

	created, removed, _ := backend.counts()
	assert.Equal(t, 0, created)
	assert.Equal(t, 0, removed)
}

func TestRun_StartFailureStillRemoves(t *testing.T) {
	backend := &recordingBackend{
		CreateFunc: func(ctx context.Context, spec ContainerSpec) (Handle, error) {
			return Handle{ID: "abc123", Name: spec.Name}, errors.New("failed to start container")
		},
	}
	_, err := newTestManager(backend).Run(context.Background(), testRequest(t))
	require.Error(t, err)

	created, removed, _ := backend.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, removed)
}

func TestRun_CancelDuringCreateRemovesByName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &recordingBackend{
		CreateFunc: func(createCtx context.Context, spec ContainerSpec) (Handle, error) {
			// The daemon created the container but the client was killed
			// before it could report the ID.
			cancel()
			<-createCtx.Done()
			return Handle{Name: spec.Name}, createCtx.Err()
		},
	}

	_, err := newTestManager(backend).Run(ctx, testRequest(t))
	require.ErrorIs(t, err, context.Canceled)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.specs, 1)
	require.Len(t, backend.removed, 1, "a container created by name must be removed")
	assert.Empty(t, backend.removed[0].ID)
	assert.Equal(t, backend.specs[0].Name, backend.removed[0].Name)
}

func TestDockerBackend_CancelDuringCreate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\n" +
		"echo \"$*\" >> " + logPath + "\n" +
		"case \"$1\" in create) sleep 10 ;; esac\n"
	docker := filepath.Join(dir, "docker")
	require.NoError(t, os.WriteFile(docker, []byte(script), 0o755))

	mgr := NewManager(NewDockerBackend(docker), Options{Image: "alpine", DisableSeccomp: true})
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := mgr.Run(ctx, testRequest(t))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "a killed docker CLI must not hold Run open")

	calls, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "create "))
	assert.Regexp(t, `^rm -f toolsmith-sandbox-\S+$`, lines[1])
}

func TestDockerBackend_RemoveWithoutHandleIsNoop(t *testing.T) {
	d := NewDockerBackend(filepath.Join(t.TempDir(), "missing-docker"))
	assert.NoError(t, d.Remove(context.Background(), Handle{}, true))
}

func TestRun_CallerCancelStillRemoves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := &recordingBackend{
		WaitFunc: func(waitCtx context.Context, h Handle) (ExitInfo, error) {
			cancel()
			<-waitCtx.Done()
			return ExitInfo{}, waitCtx.Err()
		},
	}
	req := testRequest(t)
	req.Timeout = time.Minute

	_, err := newTestManager(backend).Run(ctx, req)
	require.ErrorIs(t, err, context.Canceled)

	var sbErr *types.SandboxExecutionError
	require.ErrorAs(t, err, &sbErr)
	assert.False(t, sbErr.TimedOut)

	created, removed, _ := backend.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, removed, "removal must survive a cancelled caller context")
}

func TestRun_WaitErrorIsErrored(t *testing.T) {
	backend := &recordingBackend{
		WaitFunc: func(ctx context.Context, h Handle) (ExitInfo, error) {
			return ExitInfo{}, errors.New("daemon went away")
		},
	}
	var last AuditEvent
	mgr := newTestManager(backend)
	mgr.SetAuditCallback(func(e AuditEvent) {
		if e.Type == AuditEventFinished {
			last = e
		}
	})
	_, err := mgr.Run(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Equal(t, types.StateErrored, last.State)

	created, removed, _ := backend.counts()
	assert.Equal(t, created, removed)
}

func TestRun_RemoveFailureIsOnlyLogged(t *testing.T) {
	backend := &recordingBackend{
		RemoveFunc: func(ctx context.Context, h Handle) error { return errors.New("busy") },
	}
	var removeErr bool
	mgr := newTestManager(backend)
	mgr.SetAuditCallback(func(e AuditEvent) {
		if e.Type == AuditEventRemoveErr {
			removeErr = true
		}
	})
	res, err := mgr.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, res.State)
	assert.True(t, removeErr)
}

func TestRun_ValidatesRequest(t *testing.T) {
	backend := &recordingBackend{}
	mgr := newTestManager(backend)

	_, err := mgr.Run(context.Background(), types.SandboxRunRequest{CodeDirectory: t.TempDir()})
	assert.Error(t, err)

	_, err = mgr.Run(context.Background(), types.SandboxRunRequest{
		CodeDirectory: "/definitely/not/here",
		Command:       []string{"true"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code directory not found")

	created, _, _ := backend.counts()
	assert.Zero(t, created)
}

func TestRun_SpecCarriesLimits(t *testing.T) {
	backend := &recordingBackend{}
	req := testRequest(t)
	req.MemoryLimit = 128 << 20
	req.Env = map[string]string{"GOFLAGS": "-mod=mod"}

	_, err := newTestManager(backend).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, backend.specs, 1)

	spec := backend.specs[0]
	assert.Equal(t, int64(128<<20), spec.MemoryLimit)
	assert.Equal(t, 512, spec.CPUShares)
	assert.Equal(t, 100, spec.PidsLimit)
	assert.True(t, spec.NetworkDisabled)
	assert.Equal(t, "65534:65534", spec.User)
	assert.Equal(t, "golang:1.24-alpine", spec.Image)
	assert.Equal(t, "-mod=mod", spec.Env["GOFLAGS"])
	assert.Contains(t, spec.Name, "toolsmith-sandbox-")
}

func TestRun_ConcurrentRunsNeverShareContainers(t *testing.T) {
	backend := &recordingBackend{}
	mgr := newTestManager(backend)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Run(context.Background(), testRequest(t))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	created, removed, _ := backend.counts()
	assert.Equal(t, 8, created)
	assert.Equal(t, 8, removed)

	names := make(map[string]bool)
	for _, h := range backend.created {
		names[h.Name] = true
	}
	assert.Len(t, names, 8)
}

func TestCreateArgs(t *testing.T) {
	args := CreateArgs(ContainerSpec{
		Name:            "toolsmith-sandbox-1",
		Image:           "golang:1.24-alpine",
		Command:         []string{"sh", "-c", "go test"},
		CodeDir:         "/tmp/art",
		Env:             map[string]string{"B": "2", "A": "1"},
		MemoryLimit:     1024,
		CPUShares:       512,
		PidsLimit:       100,
		NetworkDisabled: true,
		User:            "65534:65534",
		SeccompProfile:  "/tmp/seccomp.json",
	})

	assert.Equal(t, "create", args[0])
	assert.Subset(t, args, []string{
		"--network", "none", "--memory", "1024", "--cpu-shares", "512",
		"--pids-limit", "100", "--cap-drop", "ALL", "no-new-privileges",
		"seccomp=/tmp/seccomp.json", "--user", "65534:65534",
		"/tmp/art:/sandbox/code:ro",
	})
	assert.Equal(t, []string{"golang:1.24-alpine", "sh", "-c", "go test"}, args[len(args)-4:])

	var envs []string
	for i, a := range args {
		if a == "-e" {
			envs = append(envs, args[i+1])
		}
	}
	assert.Equal(t, []string{"A=1", "B=2"}, envs)
}

func TestCreateArgs_NetworkEnabled(t *testing.T) {
	args := CreateArgs(ContainerSpec{Image: "alpine"})
	assert.NotContains(t, args, "none")
	assert.NotContains(t, args, "--user")
	assert.Equal(t, "alpine", args[len(args)-1])
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"256m", 256 << 20, false},
		{"1G", 1 << 30, false},
		{"512k", 512 << 10, false},
		{"100b", 100, false},
		{"4096", 4096, false},
		{"lots", 0, true},
		{"-5m", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemory(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type seccompRule struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
	Args   []struct {
		Index uint   `json:"index"`
		Value uint64 `json:"value"`
		Op    string `json:"op"`
	} `json:"args"`
}

type seccompDoc struct {
	DefaultAction string        `json:"defaultAction"`
	Syscalls      []seccompRule `json:"syscalls"`
}

func TestDefaultSeccompProfile_DeniesByDefault(t *testing.T) {
	var doc seccompDoc
	require.NoError(t, json.Unmarshal(DefaultSeccompProfile(), &doc))
	assert.Equal(t, "SCMP_ACT_ERRNO", doc.DefaultAction)
	assert.NotEqual(t, "SCMP_ACT_ALLOW", doc.DefaultAction)

	allowed := make(map[string]bool)
	conditional := make(map[string]bool)
	denied := make(map[string]bool)
	for _, rule := range doc.Syscalls {
		for _, name := range rule.Names {
			switch {
			case rule.Action == "SCMP_ACT_ALLOW" && len(rule.Args) == 0:
				allowed[name] = true
			case rule.Action == "SCMP_ACT_ALLOW":
				conditional[name] = true
			default:
				denied[name] = true
			}
		}
	}

	for _, name := range []string{"execve", "futex", "mmap", "openat", "read", "write", "rt_sigaction", "epoll_pwait", "exit_group", "wait4"} {
		assert.True(t, allowed[name], "go toolchain needs %s", name)
	}
	assert.True(t, conditional["clone"], "clone must be allowed only without namespace flags")
	for _, name := range []string{"mount", "ptrace", "bpf", "unshare", "setns", "init_module", "kexec_load", "reboot", "pivot_root"} {
		assert.False(t, allowed[name] || conditional[name], "%s must not be allowed", name)
		assert.True(t, denied[name], "%s must be listed as denied", name)
	}
	for name := range allowed {
		assert.False(t, denied[name], "%s is both allowed and denied", name)
	}
}

func TestSeccompProfile(t *testing.T) {
	path, cleanup, err := resolveSeccompProfile("")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeccompProfile(), data)
	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, _, err = resolveSeccompProfile("/no/such/profile.json")
	assert.Error(t, err)
}

func TestManager_MissingSeccompDegrades(t *testing.T) {
	backend := &recordingBackend{}
	mgr := NewManager(backend, Options{Image: "alpine", SeccompProfile: "/no/such/profile.json"})
	defer mgr.Close()

	_, err := mgr.Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Empty(t, backend.specs[0].SeccompProfile)
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.DefaultSandboxConfig()
	mgr, err := NewManagerFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "docker", mgr.Backend().Name())
	assert.Equal(t, int64(256<<20), mgr.opts.MemoryLimit)
	assert.Equal(t, 60*time.Second, mgr.opts.Timeout)

	cfg.Backend = "local"
	mgr, err = NewManagerFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "local", mgr.Backend().Name())

	cfg.Backend = "podman"
	_, err = NewManagerFromConfig(cfg)
	assert.Error(t, err)

	cfg = config.DefaultSandboxConfig()
	cfg.Memory = "huge"
	_, err = NewManagerFromConfig(cfg)
	assert.Error(t, err)
}

func TestLocalBackend_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/hello.txt", []byte("hello"), 0o644))

	mgr := NewManager(NewLocalBackend(), Options{Timeout: 5 * time.Second, DisableSeccomp: true})
	res, err := mgr.Run(context.Background(), types.SandboxRunRequest{
		CodeDirectory: dir,
		Command:       []string{"sh", "-c", "cat /sandbox/code/hello.txt; echo oops >&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestLocalBackend_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sleep")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	backend := NewLocalBackend()
	mgr := NewManager(backend, Options{Timeout: 100 * time.Millisecond, DisableSeccomp: true})

	start := time.Now()
	_, err := mgr.Run(context.Background(), types.SandboxRunRequest{
		CodeDirectory: t.TempDir(),
		Command:       []string{"sleep", "10"},
	})
	var sbErr *types.SandboxExecutionError
	require.ErrorAs(t, err, &sbErr)
	assert.True(t, sbErr.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.procs)
}
