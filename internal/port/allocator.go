package port

import (
	"fmt"
	"net"
	"strconv"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
)

// Lookup is the read side of a Registry.
type Lookup interface {
	Find(hostPort int, protocol Protocol, bindAddress string) (PortForward, bool)
}

// Prober checks whether a host socket can be bound right now.
type Prober interface {
	Probe(key Key) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(Key) error

func (f ProbeFunc) Probe(key Key) error {
	return f(key)
}

// BindProbe binds the socket and releases it immediately.
var BindProbe Prober = ProbeFunc(bindProbe)

func bindProbe(key Key) error {
	addr := net.JoinHostPort(key.BindAddress, strconv.Itoa(key.HostPort))
	switch key.Protocol {
	case UDP:
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	default:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		return ln.Close()
	}
}

// Request asks for a host port. HostPort > 0 requests that exact port;
// otherwise the first free port in [Low, High] is chosen. A zero
// TargetPort mirrors the chosen host port.
type Request struct {
	HostPort    int
	Low         int
	High        int
	TargetPort  int
	Protocol    Protocol
	BindAddress string
}

// Explicit requests a specific host port.
func Explicit(hostPort, targetPort int, protocol Protocol, bindAddress string) Request {
	return Request{
		HostPort:    hostPort,
		TargetPort:  targetPort,
		Protocol:    protocol,
		BindAddress: bindAddress,
	}
}

// AnyInRange requests the lowest free port in [low, high].
func AnyInRange(low, high, targetPort int, protocol Protocol, bindAddress string) Request {
	return Request{
		Low:         low,
		High:        high,
		TargetPort:  targetPort,
		Protocol:    protocol,
		BindAddress: bindAddress,
	}
}

// IsExplicit reports whether the request names a host port.
func (r Request) IsExplicit() bool {
	return r.HostPort != 0
}

func (r Request) normalized() (Request, error) {
	if r.Protocol == "" {
		r.Protocol = TCP
	}
	if r.BindAddress == "" {
		r.BindAddress = DefaultBindAddress
	}
	if r.Protocol != TCP && r.Protocol != UDP {
		return r, fmt.Errorf("unknown protocol %q", r.Protocol)
	}
	if net.ParseIP(r.BindAddress) == nil {
		return r, fmt.Errorf("bind address %q is not an IP address", r.BindAddress)
	}
	if r.TargetPort != 0 && !ValidPort(r.TargetPort) {
		return r, fmt.Errorf("target port %d is out of range", r.TargetPort)
	}
	if r.IsExplicit() {
		if !ValidPort(r.HostPort) {
			return r, fmt.Errorf("host port %d is out of range", r.HostPort)
		}
		return r, nil
	}
	if !ValidPort(r.Low) || !ValidPort(r.High) || r.Low > r.High {
		return r, fmt.Errorf("invalid port range %d-%d", r.Low, r.High)
	}
	return r, nil
}

// Allocator picks host ports that are free both in the registry and on the host.
// It never mutates the registry.
type Allocator struct {
	lookup Lookup
	probe  Prober
}

// NewAllocator creates an allocator. A nil probe uses BindProbe.
func NewAllocator(lookup Lookup, probe Prober) *Allocator {
	if probe == nil {
		probe = BindProbe
	}
	return &Allocator{lookup: lookup, probe: probe}
}

// Allocate returns a candidate forward for req. Explicit requests fail with
// PortInUse, range requests with RangeExhausted.
func (a *Allocator) Allocate(req Request) (PortForward, error) {
	req, err := req.normalized()
	if err != nil {
		return PortForward{}, errors.Wrap(errors.KindGeneral, "invalid allocation request", err)
	}

	if req.IsExplicit() {
		if err := a.check(req.HostPort, req); err != nil {
			return PortForward{}, errors.PortInUse(a.key(req.HostPort, req).String(), err)
		}
		return a.candidate(req.HostPort, req), nil
	}

	for p := req.Low; p <= req.High; p++ {
		if a.check(p, req) == nil {
			return a.candidate(p, req), nil
		}
	}
	return PortForward{}, errors.RangeExhausted(req.Low, req.High)
}

func (a *Allocator) check(hostPort int, req Request) error {
	if existing, ok := a.lookup.Find(hostPort, req.Protocol, req.BindAddress); ok {
		return fmt.Errorf("already forwarded to %d", existing.TargetPort)
	}
	return a.probe.Probe(a.key(hostPort, req))
}

func (a *Allocator) key(hostPort int, req Request) Key {
	return Key{HostPort: hostPort, Protocol: req.Protocol, BindAddress: req.BindAddress}
}

func (a *Allocator) candidate(hostPort int, req Request) PortForward {
	target := req.TargetPort
	if target == 0 {
		target = hostPort
	}
	return PortForward{
		HostPort:    hostPort,
		TargetPort:  target,
		Protocol:    req.Protocol,
		BindAddress: req.BindAddress,
	}
}
