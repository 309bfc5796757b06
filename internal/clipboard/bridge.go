package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

// Label marks the clipboard forward in the registry.
const Label = "clipboard"

// fallbackHost is how a container reaches the host when no gateway is known.
const fallbackHost = "host.docker.internal"

// Options configures a Bridge.
type Options struct {
	Config     *config.Config
	Controller *forward.Controller
	Runtime    runtime.Runtime
	Clipboard  Clipboard
	Logger     *slog.Logger
}

// Bridge serves the host clipboard to one container on a registered
// host port.
type Bridge struct {
	cfg        *config.Config
	controller *forward.Controller
	rt         runtime.Runtime
	clip       Clipboard
	logger     *slog.Logger
}

// NewBridge creates a bridge. A nil Clipboard uses the host clipboard.
func NewBridge(opts Options) *Bridge {
	if opts.Clipboard == nil {
		opts.Clipboard = System{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("clipboard")
	}
	return &Bridge{
		cfg:        opts.Config,
		controller: opts.Controller,
		rt:         opts.Runtime,
		clip:       opts.Clipboard,
		logger:     opts.Logger,
	}
}

// Start allocates a port from the session range, listens on it and
// publishes the endpoint inside the container. The forward is owned by
// sessionID, or by the user when sessionID is empty; it ends when the
// forward is released.
func (b *Bridge) Start(ctx context.Context, sessionID string) (port.PortForward, error) {
	containerID := b.controller.Target().ContainerID

	allowed, host, err := b.containerAddrs(ctx, containerID)
	if err != nil {
		return port.PortForward{}, err
	}

	handler := NewHandler(HandlerConfig{
		Clipboard: b.clip,
		Allowed:   allowed,
		Logger:    b.logger,
	})

	bind := forward.BinderFunc(func(ctx context.Context, fwd port.PortForward) (io.Closer, error) {
		return serve(fwd, handler, b.logger)
	})

	owner := port.OwnerSession
	if sessionID == "" {
		owner = port.OwnerUser
	}
	r := b.cfg.Ports.SessionRange
	fwds, err := b.controller.Add(ctx, []forward.Request{{
		Spec:      Label,
		Alloc:     port.AnyInRange(r.From, r.To, 0, port.TCP, b.cfg.Clipboard.BindAddress),
		Owner:     owner,
		Label:     Label,
		SessionID: sessionID,
		Binder:    bind,
	}})
	if err != nil {
		return port.PortForward{}, err
	}
	fwd := fwds[0]

	endpoint := "http://" + net.JoinHostPort(host, strconv.Itoa(fwd.HostPort))
	if err := b.publish(ctx, containerID, endpoint); err != nil {
		b.logger.Warn("failed to publish clipboard endpoint", "path", b.cfg.Clipboard.PublishPath, "error", err)
	}

	b.logger.Info("clipboard bridge listening", "addr", fwd.HostAddr(), "endpoint", endpoint)
	return fwd, nil
}

// containerAddrs returns the container's IPs and the address it uses to
// reach the host.
func (b *Bridge) containerAddrs(ctx context.Context, containerID string) ([]string, string, error) {
	target := b.controller.Target()
	host := fallbackHost

	if b.rt == nil {
		return []string{target.IPAddress}, host, nil
	}

	info, err := b.rt.Inspect(ctx, containerID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to inspect container: %w", err)
	}
	if info.Status == runtime.StatusNotFound {
		return nil, "", fmt.Errorf("container %s not found", containerID)
	}
	if n := info.PrimaryNetwork(); n != nil && n.Gateway != "" {
		host = n.Gateway
	}

	ips := info.IPs()
	if target.IPAddress != "" {
		ips = append(ips, target.IPAddress)
	}
	return ips, host, nil
}

// publish writes endpoint to the publish path inside the container.
func (b *Bridge) publish(ctx context.Context, containerID, endpoint string) error {
	if b.rt == nil || b.cfg.Clipboard.PublishPath == "" {
		return nil
	}
	script := `mkdir -p "$(dirname "$1")" && printf '%s\n' "$2" > "$1"`
	res, err := b.rt.Exec(ctx, containerID,
		[]string{"sh", "-c", script, "sh", b.cfg.Clipboard.PublishPath, endpoint},
		runtime.ExecOptions{})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit status %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// serve listens on the forward's host address and serves handler until
// the returned closer is closed.
func serve(fwd port.PortForward, handler http.Handler, logger *slog.Logger) (io.Closer, error) {
	ln, err := net.Listen("tcp", fwd.HostAddr())
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("clipboard server stopped", "addr", fwd.HostAddr(), "error", err)
		}
	}()
	return srv, nil
}
