// Package monitor forwards ports as they start listening inside a container.
package monitor

import (
	"bufio"
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

const (
	// DefaultInterval is the polling period.
	DefaultInterval = 2 * time.Second

	// DefaultMinPort excludes privileged ports.
	DefaultMinPort = 1024

	// Label marks forwards created by the monitor.
	Label = "auto"
)

// tcpListen is the socket state of a listening socket in /proc/net/tcp.
const tcpListen = "0A"

// Listener is a listening socket found inside the container.
type Listener struct {
	Port int

	// Loopback is set when every socket on the port is bound to loopback,
	// which a forward through the container network cannot reach.
	Loopback bool
}

// CheckResult holds what a single scan changed.
type CheckResult struct {
	Added   []port.PortForward
	Removed []port.PortForward
}

// Monitor periodically scans a container for listening ports and keeps a
// forward for each of them.
type Monitor struct {
	interval   time.Duration
	rt         runtime.Runtime
	controller *forward.Controller
	cfg        *config.Config
	excludes   map[int]bool
	minPort    int
	keep       bool

	// container port -> forward
	forwarded map[int]port.PortForward
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithExclude skips the given container ports.
func WithExclude(ports ...int) Option {
	return func(m *Monitor) {
		for _, p := range ports {
			m.excludes[p] = true
		}
	}
}

// WithMinPort only forwards container ports above min.
func WithMinPort(min int) Option {
	return func(m *Monitor) {
		m.minPort = min
	}
}

// WithKeepOnExit leaves forwards in place when Run returns.
func WithKeepOnExit(keep bool) Option {
	return func(m *Monitor) {
		m.keep = keep
	}
}

// New creates a new Monitor.
func New(interval time.Duration, rt runtime.Runtime, controller *forward.Controller, cfg *config.Config, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		interval:   interval,
		rt:         rt,
		controller: controller,
		cfg:        cfg,
		excludes:   make(map[int]bool),
		minPort:    DefaultMinPort,
		forwarded:  make(map[int]port.PortForward),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the monitoring loop. It blocks until the context is cancelled,
// then removes the forwards it created unless told to keep them.
func (m *Monitor) Run(ctx context.Context) error {
	logging.Debug("starting port monitor", "interval", m.interval, "container", m.controller.Target().ContainerID)

	m.adopt()

	// Run an immediate check, then loop on interval.
	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug("port monitor stopping")
			if !m.keep {
				m.releaseAll()
			}
			return ctx.Err()
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// adopt picks up forwards a previous monitor left registered.
func (m *Monitor) adopt() {
	for _, fwd := range m.controller.List(func(f port.PortForward) bool { return f.Label == Label }) {
		m.forwarded[fwd.TargetPort] = fwd
	}
}

// checkAll scans once, forwarding new ports and dropping vanished ones.
func (m *Monitor) checkAll(ctx context.Context) CheckResult {
	var result CheckResult

	listeners, err := m.scan(ctx)
	if err != nil {
		logging.Warn("port monitor scan failed", "error", err)
		return result
	}

	// Container ports some other forward already reaches.
	covered := make(map[int]bool)
	for _, fwd := range m.controller.List(func(f port.PortForward) bool { return f.Protocol == port.TCP }) {
		covered[fwd.TargetPort] = true
	}

	current := make(map[int]bool, len(listeners))
	for _, l := range listeners {
		current[l.Port] = true
		if _, ok := m.forwarded[l.Port]; ok || !m.wanted(l) {
			continue
		}
		if covered[l.Port] {
			logging.Debug("port already forwarded", "port", l.Port)
			continue
		}
		fwd, err := m.add(ctx, l.Port)
		if err != nil {
			logging.Warn("failed to forward port", "port", l.Port, "error", err)
			continue
		}
		m.forwarded[l.Port] = fwd
		result.Added = append(result.Added, fwd)
		logging.UserInfo("Forwarding %s", fwd)
	}

	for _, cp := range sortedKeys(m.forwarded) {
		if current[cp] {
			continue
		}
		fwd := m.forwarded[cp]
		delete(m.forwarded, cp)
		if _, err := m.controller.RemoveKey(ctx, fwd.Key()); err != nil && !errors.IsKind(err, errors.KindNotFound) {
			logging.Warn("failed to remove forward", "forward", fwd.String(), "error", err)
			continue
		}
		result.Removed = append(result.Removed, fwd)
		logging.UserInfo("Port %d closed, removed %s", cp, fwd.HostAddr())
	}

	return result
}

func (m *Monitor) wanted(l Listener) bool {
	if l.Port <= m.minPort || m.excludes[l.Port] {
		return false
	}
	if l.Loopback {
		logging.Debug("skipping loopback-only listener", "port", l.Port)
		return false
	}
	return true
}

// add forwards containerPort, preferring the same host port and falling
// back to the session range.
func (m *Monitor) add(ctx context.Context, containerPort int) (port.PortForward, error) {
	bind := m.cfg.Ports.BindAddress
	req := forward.Request{
		Spec:  strconv.Itoa(containerPort),
		Alloc: port.Explicit(containerPort, containerPort, port.TCP, bind),
		Owner: port.OwnerUser,
		Label: Label,
	}

	fwds, err := m.controller.Add(ctx, []forward.Request{req})
	if errors.IsKind(err, errors.KindPortInUse) {
		r := m.cfg.Ports.SessionRange
		req.Alloc = port.AnyInRange(r.From, r.To, containerPort, port.TCP, bind)
		fwds, err = m.controller.Add(ctx, []forward.Request{req})
	}
	if err != nil {
		return port.PortForward{}, err
	}
	return fwds[0], nil
}

func (m *Monitor) releaseAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, cp := range sortedKeys(m.forwarded) {
		fwd := m.forwarded[cp]
		if _, err := m.controller.RemoveKey(ctx, fwd.Key()); err != nil && !errors.IsKind(err, errors.KindNotFound) {
			logging.Warn("failed to remove forward", "forward", fwd.String(), "error", err)
			continue
		}
		delete(m.forwarded, cp)
	}
}

// scan lists the container's listening TCP ports.
func (m *Monitor) scan(ctx context.Context) ([]Listener, error) {
	res, err := m.rt.Exec(ctx, m.controller.Target().ContainerID,
		[]string{"sh", "-c", "cat /proc/net/tcp /proc/net/tcp6 2>/dev/null"},
		runtime.ExecOptions{})
	if err != nil {
		return nil, err
	}
	return ParseListeners(res.Stdout), nil
}

// ParseListeners extracts listening ports from /proc/net/tcp{,6} content.
func ParseListeners(data string) []Listener {
	loopbackOnly := make(map[int]bool)

	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[3] != tcpListen {
			continue
		}
		addr, portHex, ok := strings.Cut(fields[1], ":")
		if !ok {
			continue
		}
		p, err := strconv.ParseUint(portHex, 16, 16)
		if err != nil || p == 0 {
			continue
		}

		loopback := isLoopbackHex(addr)
		if prev, seen := loopbackOnly[int(p)]; seen {
			loopbackOnly[int(p)] = prev && loopback
		} else {
			loopbackOnly[int(p)] = loopback
		}
	}

	listeners := make([]Listener, 0, len(loopbackOnly))
	for _, p := range sortedKeys(loopbackOnly) {
		listeners = append(listeners, Listener{Port: p, Loopback: loopbackOnly[p]})
	}
	return listeners
}

// isLoopbackHex reports whether a /proc/net address is 127.0.0.0/8 or ::1.
// Addresses are written as host-order 32-bit words.
func isLoopbackHex(addr string) bool {
	switch len(addr) {
	case 8:
		// Last byte of the little-endian word is the first octet.
		return strings.EqualFold(addr[6:], "7F")
	case 32:
		return strings.EqualFold(addr, "00000000000000000000000001000000")
	}
	return false
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
