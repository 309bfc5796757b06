package forward

import (
	"context"
	"io"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
)

// Target is the container a controller forwards into.
type Target struct {
	ContainerID string
	IPAddress   string
	Network     string
}

// Forwarder materialises forwards at the OS level.
type Forwarder interface {
	// Name identifies the backend (socat, proxy, mem).
	Name() string

	// Start establishes fwd and returns a handle whose Close tears it down.
	Start(ctx context.Context, target Target, fwd port.PortForward) (io.Closer, error)

	// Active returns forwards for target that outlive the process that
	// created them. Process-local backends return nil.
	Active(ctx context.Context, target Target) ([]Active, error)
}

// Active is a forward found already running.
type Active struct {
	Forward port.PortForward
	Handle  io.Closer
}

// Binder establishes a forward itself instead of going through the
// controller's Forwarder. The clipboard bridge listens on its host port
// directly this way.
type Binder interface {
	Bind(ctx context.Context, fwd port.PortForward) (io.Closer, error)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(ctx context.Context, fwd port.PortForward) (io.Closer, error)

func (f BinderFunc) Bind(ctx context.Context, fwd port.PortForward) (io.Closer, error) {
	return f(ctx, fwd)
}

// SessionChecker reports whether a session still holds its forwards.
type SessionChecker interface {
	IsLive(sessionID string) bool
}

// SessionCheckerFunc adapts a function to SessionChecker.
type SessionCheckerFunc func(sessionID string) bool

func (f SessionCheckerFunc) IsLive(sessionID string) bool {
	return f(sessionID)
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
