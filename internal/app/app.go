// Package app provides the application context for berth.
// It allows dependency injection for testing.
package app

import (
	"context"
	"fmt"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/clipboard"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/session"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// App holds the application dependencies
type App struct {
	// Paths holds the configured paths
	Paths *config.Paths

	// Config is the loaded user configuration; nil until LoadConfig
	Config *config.Config

	// Runtime is the container runtime; created from Config on first use
	Runtime runtime.Runtime

	// Launcher starts host processes such as the remote client
	Launcher system.CommandExecutor

	// FS backs the session store
	FS system.FileSystem

	// Prober checks host ports before allocation; nil binds for real
	Prober port.Prober

	// Forwarder overrides the configured forward backend
	Forwarder forward.Forwarder

	// Clipboard overrides the host clipboard
	Clipboard clipboard.Clipboard
}

// Option is a function that configures the App
type Option func(*App)

// WithPaths sets custom paths
func WithPaths(paths *config.Paths) Option {
	return func(a *App) {
		a.Paths = paths
	}
}

// WithConfig sets a loaded configuration
func WithConfig(cfg *config.Config) Option {
	return func(a *App) {
		a.Config = cfg
	}
}

// WithRuntime sets a custom runtime
func WithRuntime(r runtime.Runtime) Option {
	return func(a *App) {
		a.Runtime = r
	}
}

// WithLauncher sets the host process launcher
func WithLauncher(e system.CommandExecutor) Option {
	return func(a *App) {
		a.Launcher = e
	}
}

// WithFS sets the filesystem used for state files
func WithFS(fs system.FileSystem) Option {
	return func(a *App) {
		a.FS = fs
	}
}

// WithProber sets the host port prober
func WithProber(p port.Prober) Option {
	return func(a *App) {
		a.Prober = p
	}
}

// WithForwarder sets the forward backend
func WithForwarder(f forward.Forwarder) Option {
	return func(a *App) {
		a.Forwarder = f
	}
}

// WithClipboard sets the clipboard used by the bridge
func WithClipboard(c clipboard.Clipboard) Option {
	return func(a *App) {
		a.Clipboard = c
	}
}

// New creates a new App with the given options.
func New(opts ...Option) *App {
	app := &App{
		Paths:    config.DefaultPaths(),
		Launcher: system.DefaultExecutor(),
		FS:       system.DefaultFS(),
	}

	for _, opt := range opts {
		opt(app)
	}

	return app
}

// LoadConfig loads the configuration unless one was injected. An empty
// path uses the default config file.
func (a *App) LoadConfig(path string) (*config.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	if path == "" {
		path = a.Paths.ConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.ConfigError("failed to load configuration", err)
	}
	a.Config = cfg
	return cfg, nil
}

// config returns the loaded configuration, falling back to defaults.
func (a *App) config() *config.Config {
	if a.Config == nil {
		a.Config = config.Default()
	}
	return a.Config
}

// ContainerRuntime returns the runtime, creating it from the configuration
// on first use.
func (a *App) ContainerRuntime() (runtime.Runtime, error) {
	if a.Runtime != nil {
		return a.Runtime, nil
	}
	cfg := a.config()
	rt, err := runtime.New(runtime.Config{
		Engine:          cfg.Runtime.Engine,
		DevcontainerCLI: cfg.Runtime.DevcontainerCLI,
	})
	if err != nil {
		return nil, errors.ContainerFailed("runtime detection", err)
	}
	logging.Debug("using container runtime", "engine", rt.Name())
	a.Runtime = rt
	return rt, nil
}

// Store returns the session store.
func (a *App) Store() *session.Store {
	return session.NewStore(a.FS, a.Paths)
}

// Audit returns the event log.
func (a *App) Audit() *audit.Logger {
	return audit.NewLogger(a.Paths)
}

// forwarder returns the configured forward backend.
func (a *App) forwarder(rt runtime.Runtime) forward.Forwarder {
	if a.Forwarder != nil {
		return a.Forwarder
	}
	cfg := a.config()
	if cfg.Forward.Backend == config.BackendProxy {
		return forward.NewProxyForwarder()
	}
	return forward.NewSocatForwarder(rt, cfg.Forward.SocatImage)
}

// Workspace bundles what commands need for one dev container.
type Workspace struct {
	Dir        string
	Container  *runtime.ContainerInfo
	Runtime    runtime.Runtime
	Config     *config.Config
	Controller *forward.Controller
	Store      *session.Store
	Audit      *audit.Logger

	app  *App
	orch *session.Orchestrator
}

// Open resolves the running dev container for dir and rebuilds its
// forward registry from the backend.
func (a *App) Open(ctx context.Context, dir string) (*Workspace, error) {
	workspace, err := config.ResolveWorkspace(dir)
	if err != nil {
		return nil, errors.InvalidArgs("%v", err)
	}

	rt, err := a.ContainerRuntime()
	if err != nil {
		return nil, err
	}

	info, err := rt.Resolve(ctx, workspace)
	if err != nil {
		return nil, errors.ContainerFailed("lookup",
			fmt.Errorf("%w; start it with 'berth up'", err))
	}
	if info.Status != runtime.StatusRunning {
		return nil, errors.ContainerFailed("lookup",
			fmt.Errorf("dev container %s is %s; start it with 'berth up'", info.ShortID(), info.Status))
	}

	w := &Workspace{
		Dir:       workspace,
		Container: info,
		Runtime:   rt,
		Config:    a.config(),
		Store:     a.Store(),
		Audit:     a.Audit(),
		app:       a,
	}

	target := forward.Target{ContainerID: info.ID, IPAddress: info.IPAddress}
	if n := info.PrimaryNetwork(); n != nil {
		target.Network = n.Name
		if target.IPAddress == "" {
			target.IPAddress = n.IPAddress
		}
	}

	w.Controller = forward.NewController(a.forwarder(rt), target, forward.Options{
		Prober:   a.Prober,
		Sessions: forward.SessionCheckerFunc(w.sessionLive),
		Observer: w.Audit.ForwardObserver(info.ID),
	})
	if err := w.Controller.Sync(ctx); err != nil {
		return nil, errors.ContainerFailed("forward discovery", err)
	}

	logging.Debug("workspace opened", "workspace", workspace, "container", info.ShortID(), "backend", w.Controller.Backend())
	return w, nil
}

func (w *Workspace) sessionLive(id string) bool {
	if w.orch != nil {
		return w.orch.IsLive(id)
	}
	return w.Store.IsLive(id)
}

// Orchestrator returns the session orchestrator for the container.
func (w *Workspace) Orchestrator(opts session.Options) *session.Orchestrator {
	if w.orch != nil {
		return w.orch
	}

	opts.Config = w.Config
	opts.Runtime = w.Runtime
	opts.Controller = w.Controller
	opts.Store = w.Store
	opts.Workspace = w.Dir
	if opts.Launcher == nil {
		opts.Launcher = w.app.Launcher
	}
	if opts.OnEvent == nil {
		opts.OnEvent = w.Audit.SessionObserver()
	}
	if opts.Bridge == nil && w.Config.Clipboard.Enabled {
		opts.Bridge = w.Bridge()
	}

	w.orch = session.New(opts)
	return w.orch
}

// Bridge returns a clipboard bridge for the container.
func (w *Workspace) Bridge() *clipboard.Bridge {
	return clipboard.NewBridge(clipboard.Options{
		Config:     w.Config,
		Controller: w.Controller,
		Runtime:    w.Runtime,
		Clipboard:  w.app.Clipboard,
	})
}

// Default is the default application instance
var Default = New()

// SetDefault sets the default application instance (used for testing)
func SetDefault(app *App) {
	Default = app
}

// ResetDefault resets to the default application instance
func ResetDefault() {
	Default = New()
}
