package forward

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
)

// Action is a change reported to an Observer.
type Action string

const (
	ActionAdd    Action = "forward.add"
	ActionRemove Action = "forward.remove"
)

// Observer is told about every forward the controller adds or removes.
type Observer func(action Action, fwd port.PortForward)

// Request asks the controller for one forward.
type Request struct {
	// Spec is the user's text for the request, used in error messages.
	Spec string

	Alloc     port.Request
	Owner     port.Owner
	Label     string
	SessionID string

	// Binder, when set, establishes the forward instead of the Forwarder.
	Binder Binder
}

func (r Request) name() string {
	if r.Spec != "" {
		return r.Spec
	}
	if r.Alloc.IsExplicit() {
		return fmt.Sprintf("%d:%d", r.Alloc.HostPort, r.Alloc.TargetPort)
	}
	return fmt.Sprintf(":%d", r.Alloc.TargetPort)
}

// Options configures a Controller.
type Options struct {
	// Registry to own; nil creates an empty one.
	Registry *port.Registry

	// Prober checks host sockets; nil uses port.BindProbe.
	Prober port.Prober

	// Sessions decides whether session-owned forwards may be removed.
	// Without it every session forward is treated as live.
	Sessions SessionChecker

	Observer Observer
	Logger   *slog.Logger

	// Now is swapped in tests.
	Now func() time.Time
}

// Controller is the single writer of a port registry. It pairs every
// registry entry with the OS-level forward that backs it.
type Controller struct {
	mu        sync.Mutex
	registry  *port.Registry
	allocator *port.Allocator
	forwarder Forwarder
	target    Target
	handles   map[port.Key]io.Closer
	sessions  SessionChecker
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// NewController creates a controller forwarding into target.
func NewController(forwarder Forwarder, target Target, opts Options) *Controller {
	if opts.Registry == nil {
		opts.Registry = port.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("forward")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		registry:  opts.Registry,
		allocator: port.NewAllocator(opts.Registry, opts.Prober),
		forwarder: forwarder,
		target:    target,
		handles:   make(map[port.Key]io.Closer),
		sessions:  opts.Sessions,
		observer:  opts.Observer,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Target returns the container the controller forwards into.
func (c *Controller) Target() Target {
	return c.target
}

// Backend returns the forwarder name.
func (c *Controller) Backend() string {
	return c.forwarder.Name()
}

// Sync adopts forwards that an earlier invocation left running.
func (c *Controller) Sync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.forwarder.Active(ctx, c.target)
	if err != nil {
		return fmt.Errorf("failed to list active forwards: %w", err)
	}

	for _, a := range active {
		if err := c.registry.Insert(a.Forward); err != nil {
			c.logger.Warn("ignoring duplicate forward", "forward", a.Forward.String(), "error", err)
			continue
		}
		c.handles[a.Forward.Key()] = a.Handle
	}
	c.logger.Debug("synced forwards", "active", len(active), "registered", c.registry.Len(), "backend", c.forwarder.Name())
	return nil
}

// Add creates every requested forward or none of them. The returned error
// names the request that failed.
func (c *Controller) Add(ctx context.Context, reqs []Request) ([]port.PortForward, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	created := make([]port.PortForward, 0, len(reqs))
	for _, req := range reqs {
		fwd, err := c.addLocked(ctx, req)
		if err != nil {
			c.rollbackLocked(created)
			return nil, fmt.Errorf("%s: %w", req.name(), err)
		}
		created = append(created, fwd)
	}

	for _, fwd := range created {
		c.notify(ActionAdd, fwd)
	}
	return created, nil
}

func (c *Controller) addLocked(ctx context.Context, req Request) (port.PortForward, error) {
	fwd, err := c.allocator.Allocate(req.Alloc)
	if err != nil {
		return port.PortForward{}, err
	}

	fwd.Owner = req.Owner
	if fwd.Owner == "" {
		fwd.Owner = port.OwnerUser
	}
	fwd.Label = req.Label
	fwd.SessionID = req.SessionID
	fwd.CreatedAt = c.now().UTC()

	if err := c.registry.Insert(fwd); err != nil {
		return port.PortForward{}, err
	}

	var handle io.Closer
	if req.Binder != nil {
		handle, err = req.Binder.Bind(ctx, fwd)
	} else {
		handle, err = c.forwarder.Start(ctx, c.target, fwd)
	}
	if err != nil {
		_ = c.registry.Remove(fwd.HostPort, fwd.Protocol, fwd.BindAddress)
		return port.PortForward{}, errors.Wrap(errors.KindGeneral,
			fmt.Sprintf("failed to establish forward %s", fwd), err)
	}

	c.handles[fwd.Key()] = handle
	c.logger.Debug("forward established", "forward", fwd.String(), "owner", fwd.Owner, "backend", c.forwarder.Name())
	return fwd, nil
}

// rollbackLocked tears down forwards created earlier in a failed batch.
func (c *Controller) rollbackLocked(created []port.PortForward) {
	for i := len(created) - 1; i >= 0; i-- {
		if err := c.teardownLocked(created[i]); err != nil {
			c.logger.Warn("rollback failed", "forward", created[i].String(), "error", err)
		}
	}
}

// teardownLocked closes the OS forward, then drops the registry entry.
// A forward whose teardown fails stays registered.
func (c *Controller) teardownLocked(fwd port.PortForward) error {
	key := fwd.Key()
	if h, ok := c.handles[key]; ok && h != nil {
		if err := h.Close(); err != nil {
			return fmt.Errorf("failed to tear down %s: %w", fwd, err)
		}
	}
	delete(c.handles, key)
	return c.registry.Remove(fwd.HostPort, fwd.Protocol, fwd.BindAddress)
}

// List returns forwards in insertion order, optionally filtered.
func (c *Controller) List(filter func(port.PortForward) bool) []port.PortForward {
	all := c.registry.List()
	if filter == nil {
		return all
	}
	out := make([]port.PortForward, 0, len(all))
	for _, fwd := range all {
		if filter(fwd) {
			out = append(out, fwd)
		}
	}
	return out
}

// Remove tears down every forward on the given host ports. Unknown ports
// and live session forwards are rejected before anything is removed.
func (c *Controller) Remove(ctx context.Context, hostPorts []int) ([]port.PortForward, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []port.PortForward
	seen := make(map[int]bool, len(hostPorts))
	for _, hp := range hostPorts {
		if seen[hp] {
			continue
		}
		seen[hp] = true
		matched := c.matchLocked(hp)
		if len(matched) == 0 {
			return nil, errors.NotFound(fmt.Sprintf("port %d", hp))
		}
		for _, fwd := range matched {
			if c.sessionLive(fwd) {
				return nil, errors.SessionOwned(fwd.HostPort, fwd.SessionID)
			}
		}
		targets = append(targets, matched...)
	}

	return c.removeLocked(targets)
}

// RemoveKey tears down the single forward on key.
func (c *Controller) RemoveKey(ctx context.Context, key port.Key) (port.PortForward, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fwd, ok := c.registry.Find(key.HostPort, key.Protocol, key.BindAddress)
	if !ok {
		return port.PortForward{}, errors.NotFound(key.String())
	}
	if c.sessionLive(fwd) {
		return port.PortForward{}, errors.SessionOwned(fwd.HostPort, fwd.SessionID)
	}
	if _, err := c.removeLocked([]port.PortForward{fwd}); err != nil {
		return port.PortForward{}, err
	}
	return fwd, nil
}

// RemoveAll tears down every forward not held by a live session. It returns
// the removed and the skipped forwards. Calling it again is a no-op.
func (c *Controller) RemoveAll(ctx context.Context) (removed, skipped []port.PortForward, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []port.PortForward
	for _, fwd := range c.registry.List() {
		if c.sessionLive(fwd) {
			skipped = append(skipped, fwd)
			continue
		}
		targets = append(targets, fwd)
	}

	removed, err = c.removeLocked(targets)
	return removed, skipped, err
}

// ReleaseSession removes every forward owned by sessionID regardless of
// the session's state. Used by the session itself while closing.
func (c *Controller) ReleaseSession(ctx context.Context, sessionID string) ([]port.PortForward, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var targets []port.PortForward
	for _, fwd := range c.registry.List() {
		if fwd.Owner == port.OwnerSession && fwd.SessionID == sessionID {
			targets = append(targets, fwd)
		}
	}
	return c.removeLocked(targets)
}

func (c *Controller) removeLocked(targets []port.PortForward) ([]port.PortForward, error) {
	var removed []port.PortForward
	var errs []error
	for _, fwd := range targets {
		if err := c.teardownLocked(fwd); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, fwd)
		c.logger.Debug("forward removed", "forward", fwd.String())
		c.notify(ActionRemove, fwd)
	}
	return removed, stderrors.Join(errs...)
}

func (c *Controller) matchLocked(hostPort int) []port.PortForward {
	var matched []port.PortForward
	for _, fwd := range c.registry.List() {
		if fwd.HostPort == hostPort {
			matched = append(matched, fwd)
		}
	}
	return matched
}

func (c *Controller) sessionLive(fwd port.PortForward) bool {
	if fwd.Owner != port.OwnerSession {
		return false
	}
	if c.sessions == nil {
		return true
	}
	return c.sessions.IsLive(fwd.SessionID)
}

func (c *Controller) notify(action Action, fwd port.PortForward) {
	if c.observer != nil {
		c.observer(action, fwd)
	}
}
