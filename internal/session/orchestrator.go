package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// releaseTimeout bounds forward teardown during close.
const releaseTimeout = 30 * time.Second

// Bridge is the optional clipboard side channel started with a session.
type Bridge interface {
	Start(ctx context.Context, sessionID string) (port.PortForward, error)
}

// EventFunc is told about session lifecycle changes.
type EventFunc func(s *Session, state State, detail string)

// Options configures an Orchestrator.
type Options struct {
	Config     *config.Config
	Runtime    runtime.Runtime
	Launcher   system.CommandExecutor
	Controller *forward.Controller

	// Optional collaborators.
	Bridge    Bridge
	Store     *Store
	OnEvent   EventFunc
	Workspace string

	// ClientOutput receives the client's stdout and stderr; nil discards it.
	ClientOutput io.Writer

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// OpenOptions are the per-call settings of Open.
type OpenOptions struct {
	// HostPort requests an exact host port; zero allocates from the session range.
	HostPort int

	// ContainerPort overrides the port the server is asked to listen on.
	ContainerPort int

	// Headless skips the client; the session stays AwaitingClient.
	Headless bool

	// ForceNew closes an existing session instead of reusing it.
	ForceNew bool
}

// Orchestrator runs remote sessions against one container. At most one
// session per container exists at a time.
type Orchestrator struct {
	cfg        *config.Config
	rt         runtime.Runtime
	launcher   system.CommandExecutor
	controller *forward.Controller
	bridge     Bridge
	store      *Store
	onEvent    EventFunc
	workspace  string
	clientOut  io.Writer
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Component("session")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Launcher == nil {
		opts.Launcher = system.DefaultExecutor()
	}
	if opts.ClientOutput == nil {
		opts.ClientOutput = io.Discard
	}
	return &Orchestrator{
		cfg:        opts.Config,
		rt:         opts.Runtime,
		launcher:   opts.Launcher,
		controller: opts.Controller,
		bridge:     opts.Bridge,
		store:      opts.Store,
		onEvent:    opts.OnEvent,
		workspace:  opts.Workspace,
		clientOut:  opts.ClientOutput,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
		sessions:   make(map[string]*Session),
	}
}

// Get returns the session for the controller's container, if any.
func (o *Orchestrator) Get() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[o.controller.Target().ContainerID]
}

// IsLive reports whether sessionID is AwaitingClient or Connected, either
// in this process or, through the store, in another one.
func (o *Orchestrator) IsLive(sessionID string) bool {
	o.mu.Lock()
	for _, s := range o.sessions {
		if s.ID == sessionID {
			o.mu.Unlock()
			return s.State().Live()
		}
	}
	o.mu.Unlock()

	if o.store != nil {
		return o.store.IsLive(sessionID)
	}
	return false
}

// Open starts a session, or returns the live one for the container unless
// opts.ForceNew is set. A session still starting is not disturbed without
// ForceNew; one that is closing is waited for. ctx governs the whole session: cancelling it
// closes the session. Failures are reported with the stage that failed,
// after everything already started has been torn down.
func (o *Orchestrator) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	containerID := o.controller.Target().ContainerID

	o.mu.Lock()
	if existing := o.sessions[containerID]; existing != nil && !existing.State().Terminal() {
		state := existing.State()
		switch {
		case opts.ForceNew:
			o.mu.Unlock()
			if err := o.Close(ctx, existing); err != nil {
				return nil, fmt.Errorf("failed to close previous session: %w", err)
			}
			o.mu.Lock()
		case state.Live():
			o.mu.Unlock()
			o.logger.Info("reusing session", "session", existing.ID, "state", state)
			return existing, nil
		case state == StateStarting:
			o.mu.Unlock()
			return nil, errors.SessionBusy(existing.ID, string(state))
		default:
			// Closing: the container is free once teardown finishes.
			o.mu.Unlock()
			select {
			case <-existing.Done():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			o.mu.Lock()
		}
	}

	containerPort := opts.ContainerPort
	if containerPort == 0 {
		containerPort = o.cfg.Session.ContainerPort
	}
	s := newSession(o.newID(), containerID, containerPort, opts.Headless, o.now().UTC())
	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	o.sessions[containerID] = s
	o.mu.Unlock()

	o.logger.Debug("opening session", "session", s.ID, "container", containerID, "container_port", containerPort)
	o.event(s, StateStarting, "")

	// Starting: server and readiness.
	serverPort, err := o.startServer(sctx, s)
	if err != nil {
		return nil, o.abort(s, StageServerStart, errors.ServerStartTimeout(err), sctx)
	}

	// Forward.
	fwd, err := o.openForward(sctx, s, serverPort, opts.HostPort)
	if err != nil {
		return nil, o.abort(s, StageForward, errors.ForwardFailed(err), sctx)
	}
	s.mu.Lock()
	s.forward = fwd
	s.mu.Unlock()

	if err := s.transition(StateAwaitingClient); err != nil {
		return nil, o.abort(s, StageForward, err, sctx)
	}
	o.event(s, StateAwaitingClient, fwd.Server())

	o.startBridge(sctx, s)

	// Client.
	if !opts.Headless {
		if err := o.launchClient(sctx, s); err != nil {
			return nil, o.abort(s, StageClientLaunch, errors.ClientLaunchFailed(err), sctx)
		}
		if err := s.transition(StateConnected); err != nil {
			return nil, o.abort(s, StageClientLaunch, err, sctx)
		}
		o.event(s, StateConnected, "")
	}

	go o.supervise(sctx, s)
	return s, nil
}

// startServer spawns the server and waits for its readiness line. It
// returns the port the server reported.
func (o *Orchestrator) startServer(ctx context.Context, s *Session) (int, error) {
	argv := o.cfg.ServerTemplate().Render(map[string]string{
		config.KeyPort: strconv.Itoa(s.ContainerPort),
	})

	proc, err := o.rt.Spawn(ctx, s.ContainerID, argv, runtime.ExecOptions{})
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.server = proc
	s.mu.Unlock()

	p, err := o.awaitReady(ctx, s, proc)
	if err != nil {
		return 0, err
	}
	if p == 0 {
		p = s.ContainerPort
	}
	o.logger.Debug("server ready", "session", s.ID, "pid", proc.Pid(), "port", p)
	return p, nil
}

// awaitReady scans server output for the readiness pattern. Output after
// the match keeps being drained to the debug log.
func (o *Orchestrator) awaitReady(ctx context.Context, s *Session, proc system.Process) (int, error) {
	out := proc.Output()
	if out == nil {
		return 0, fmt.Errorf("server output is not captured")
	}

	pattern := o.cfg.ReadyPattern()
	found := make(chan int, 1)
	go func() {
		scanner := bufio.NewScanner(out)
		ready := false
		for scanner.Scan() {
			line := scanner.Text()
			o.logger.Debug("server output", "session", s.ID, "line", line)
			if ready {
				continue
			}
			if m := pattern.FindStringSubmatch(line); m != nil {
				p, err := strconv.Atoi(m[1])
				if err != nil || !port.ValidPort(p) {
					p = 0
				}
				ready = true
				found <- p
			}
		}
	}()

	timeout := o.cfg.Session.ReadyTimeout.Duration
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-found:
		return p, nil
	case <-proc.Done():
		return 0, fmt.Errorf("server exited with status %d before becoming ready", proc.ExitCode())
	case <-timer.C:
		return 0, fmt.Errorf("no readiness signal within %s", timeout)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (o *Orchestrator) openForward(ctx context.Context, s *Session, serverPort, hostPort int) (port.PortForward, error) {
	bind := o.cfg.Ports.BindAddress
	alloc := port.AnyInRange(o.cfg.Ports.SessionRange.From, o.cfg.Ports.SessionRange.To, serverPort, port.TCP, bind)
	if hostPort != 0 {
		alloc = port.Explicit(hostPort, serverPort, port.TCP, bind)
	}

	fwds, err := o.controller.Add(ctx, []forward.Request{{
		Spec:      fmt.Sprintf("session port %d", serverPort),
		Alloc:     alloc,
		Owner:     port.OwnerSession,
		Label:     "remote",
		SessionID: s.ID,
	}})
	if err != nil {
		return port.PortForward{}, err
	}
	return fwds[0], nil
}

// startBridge starts the clipboard bridge. Failure only costs clipboard sync.
func (o *Orchestrator) startBridge(ctx context.Context, s *Session) {
	if o.bridge == nil {
		return
	}
	fwd, err := o.bridge.Start(ctx, s.ID)
	if err != nil {
		o.logger.Warn("continuing without clipboard sync", "session", s.ID, "error", errors.BridgeStartFailed(err))
		return
	}
	s.mu.Lock()
	s.clipboard = &fwd
	s.mu.Unlock()
	o.logger.Debug("clipboard bridge started", "session", s.ID, "port", fwd.HostPort)
}

func (o *Orchestrator) launchClient(ctx context.Context, s *Session) error {
	argv := o.cfg.ClientTemplate().Render(map[string]string{
		config.KeyServer: s.Server(),
	})

	proc, err := o.launcher.Start(ctx, argv, system.StartOptions{
		Stdout: o.clientOut,
		Stderr: o.clientOut,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	s.mu.Lock()
	s.client = proc
	s.mu.Unlock()
	o.logger.Debug("client started", "session", s.ID, "pid", proc.Pid(), "server", s.Server())
	return nil
}

// supervise waits for the first of server exit, client exit or
// cancellation and then closes the session.
func (o *Orchestrator) supervise(ctx context.Context, s *Session) {
	server, client := s.processes()

	var clientDone <-chan struct{}
	if client != nil {
		clientDone = client.Done()
	}

	reason := ""
	select {
	case <-server.Done():
		reason = fmt.Sprintf("server exited with status %d", server.ExitCode())
	case <-clientDone:
		reason = fmt.Sprintf("client exited with status %d", client.ExitCode())
	case <-ctx.Done():
		reason = "closed"
	}

	o.logger.Debug("session ending", "session", s.ID, "reason", reason)
	o.teardown(s, reason)
	o.finish(s, StateClosed, "", nil)
}

// abort tears down a session whose Open failed. A cancelled session context
// ends the session Closed, any other failure ends it in Error.
func (o *Orchestrator) abort(s *Session, stage Stage, cause error, sctx context.Context) error {
	o.teardown(s, string(stage)+" failed")

	if sctx.Err() != nil {
		o.finish(s, StateClosed, "", nil)
		return fmt.Errorf("session cancelled during %s: %w", stage, sctx.Err())
	}

	o.logger.Debug("session failed", "session", s.ID, "stage", stage, "error", cause)
	o.finish(s, StateError, stage, cause)
	return cause
}

// teardown stops the client, then the server, then releases the session's
// forwards. Each process gets the shutdown timeout to exit after a
// terminate request before it is killed.
func (o *Orchestrator) teardown(s *Session, reason string) {
	if err := s.transition(StateClosing); err == nil {
		o.event(s, StateClosing, reason)
	}

	server, client := s.processes()
	if client != nil {
		o.stop(s, "client", client)
	}
	if server != nil {
		o.stop(s, "server", server)
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := o.controller.ReleaseSession(ctx, s.ID); err != nil {
		o.logger.Warn("failed to release session forwards", "session", s.ID, "error", err)
	}
}

func (o *Orchestrator) stop(s *Session, what string, p system.Process) {
	grace := o.cfg.Session.ShutdownTimeout.Duration

	select {
	case <-p.Done():
		return
	default:
	}

	if err := p.Terminate(); err != nil {
		o.logger.Debug("terminate failed", "session", s.ID, "process", what, "error", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.Done():
		return
	case <-timer.C:
	}

	o.logger.Warn("process did not exit in time, killing", "session", s.ID, "process", what, "pid", p.Pid())
	if err := p.Kill(); err != nil {
		o.logger.Warn("kill failed", "session", s.ID, "process", what, "error", err)
	}
	timer.Reset(grace)
	select {
	case <-p.Done():
	case <-timer.C:
		o.logger.Warn("process still running after kill", "session", s.ID, "process", what, "pid", p.Pid())
	}
}

func (o *Orchestrator) finish(s *Session, state State, stage Stage, err error) {
	s.finish(state, stage, err)
	s.cancel()

	o.mu.Lock()
	if o.sessions[s.ContainerID] == s {
		delete(o.sessions, s.ContainerID)
	}
	o.mu.Unlock()

	detail := ""
	if err != nil {
		detail = err.Error()
	}
	o.event(s, state, detail)
}

// Close tears the session down and waits until it is terminal or ctx ends.
func (o *Orchestrator) Close(ctx context.Context, s *Session) error {
	s.cancel()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the session is terminal and returns its failure, if any.
func (o *Orchestrator) Wait(ctx context.Context, s *Session) error {
	select {
	case <-s.Done():
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// event persists the session and notifies the observer.
func (o *Orchestrator) event(s *Session, state State, detail string) {
	if o.store != nil {
		if state.Terminal() {
			if err := o.store.Delete(s.ContainerID, s.ID); err != nil {
				o.logger.Warn("failed to remove session record", "session", s.ID, "error", err)
			}
		} else if err := o.store.Save(o.record(s, state)); err != nil {
			o.logger.Warn("failed to save session record", "session", s.ID, "error", err)
		}
	}
	if o.onEvent != nil {
		o.onEvent(s, state, detail)
	}
}

func (o *Orchestrator) record(s *Session, state State) Record {
	server, _ := s.processes()
	fwd := s.Forward()

	rec := Record{
		SessionID:     s.ID,
		ContainerID:   s.ContainerID,
		Workspace:     o.workspace,
		State:         state,
		OwnerPID:      os.Getpid(),
		ContainerPort: s.ContainerPort,
		HostPort:      fwd.HostPort,
		Headless:      s.Headless,
		StartedAt:     s.StartedAt,
		UpdatedAt:     o.now().UTC(),
	}
	if server != nil {
		rec.ServerPID = server.Pid()
	}
	if fwd.HostPort != 0 {
		rec.Server = fwd.Server()
	}
	if clip, ok := s.Clipboard(); ok {
		rec.ClipboardPort = clip.HostPort
	}
	return rec
}
