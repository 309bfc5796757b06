// Package testutil provides test utilities for command tests
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/clipboard"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// TestEnv holds the test environment
type TestEnv struct {
	T         *testing.T
	TmpDir    string
	Paths     *config.Paths
	Config    *config.Config
	Runtime   *runtime.MockRuntime
	Forwarder *forward.MemForwarder
	Launcher  *system.MockExecutor
	Clipboard *clipboard.Memory
	App       *app.App

	// Busy host ports are reported as taken by the prober.
	Busy map[int]bool

	cleanup func()
}

// NewTestEnv creates a new test environment with mock runtime and
// forwarder, and installs it as app.Default.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()
	paths := config.NewPaths(filepath.Join(tmpDir, "config"), filepath.Join(tmpDir, "state"))

	for _, dir := range []string{paths.ConfigDir, paths.SessionsDir, paths.EventsDir, paths.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	data, err := LoadFixture("valid_config.toml")
	if err != nil {
		t.Fatalf("Failed to read config fixture: %v", err)
	}
	if err := os.WriteFile(paths.ConfigFile, data, 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	// Tests drive the clipboard explicitly.
	cfg.Clipboard.Enabled = false

	env := &TestEnv{
		T:         t,
		TmpDir:    tmpDir,
		Paths:     paths,
		Config:    cfg,
		Runtime:   runtime.NewMockRuntime(),
		Forwarder: forward.NewMemForwarder(),
		Launcher:  system.NewMockExecutor(),
		Clipboard: &clipboard.Memory{},
		Busy:      make(map[int]bool),
	}

	env.App = app.New(
		app.WithPaths(paths),
		app.WithConfig(cfg),
		app.WithRuntime(env.Runtime),
		app.WithForwarder(env.Forwarder),
		app.WithLauncher(env.Launcher),
		app.WithFS(system.DefaultFS()),
		app.WithClipboard(env.Clipboard),
		app.WithProber(port.ProbeFunc(func(k port.Key) error {
			if env.Busy[k.HostPort] {
				return os.ErrExist
			}
			return nil
		})),
	)

	// Save original default and set test app
	originalDefault := app.Default
	app.SetDefault(env.App)
	env.cleanup = func() {
		app.SetDefault(originalDefault)
	}

	return env
}

// Cleanup restores the original app default
func (e *TestEnv) Cleanup() {
	if e.cleanup != nil {
		e.cleanup()
	}
}

// CreateWorkspace creates a workspace directory
func (e *TestEnv) CreateWorkspace(name string) string {
	e.T.Helper()

	path := filepath.Join(e.TmpDir, "workspaces", name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		e.T.Fatalf("Failed to create workspace: %v", err)
	}
	return path
}

// AddContainer registers a running dev container for workspace.
func (e *TestEnv) AddContainer(id, workspace string) *runtime.ContainerInfo {
	return e.Runtime.AddDevContainer(id, workspace, "172.17.0.2")
}

// AddForward makes fwd visible to the next registry sync, as if an
// earlier invocation had created it.
func (e *TestEnv) AddForward(fwd port.PortForward) {
	if fwd.BindAddress == "" {
		fwd.BindAddress = port.DefaultBindAddress
	}
	if fwd.Protocol == "" {
		fwd.Protocol = port.TCP
	}
	e.Forwarder.Persisted = append(e.Forwarder.Persisted, fwd)
}
