package port

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Protocol is the transport protocol of a forward.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// ParseProtocol parses "tcp" or "udp". An empty string means tcp.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "", "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// Owner tags who created a forward and therefore who may remove it.
type Owner string

const (
	OwnerUser    Owner = "user"
	OwnerSession Owner = "session"
)

// DefaultBindAddress is used when a spec names no bind address.
const DefaultBindAddress = "127.0.0.1"

// Key identifies the host socket a forward claims.
type Key struct {
	HostPort    int
	Protocol    Protocol
	BindAddress string
}

func (k Key) String() string {
	return net.JoinHostPort(k.BindAddress, strconv.Itoa(k.HostPort)) + "/" + string(k.Protocol)
}

// PortForward maps a host port to a port inside the container network.
type PortForward struct {
	HostPort    int       `json:"host_port" yaml:"host_port"`
	TargetPort  int       `json:"target_port" yaml:"target_port"`
	Protocol    Protocol  `json:"protocol" yaml:"protocol"`
	BindAddress string    `json:"bind_address" yaml:"bind_address"`
	Owner       Owner     `json:"owner" yaml:"owner"`
	Label       string    `json:"label,omitempty" yaml:"label,omitempty"`
	SessionID   string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Key returns the socket identity of the forward.
func (f PortForward) Key() Key {
	return Key{HostPort: f.HostPort, Protocol: f.Protocol, BindAddress: f.BindAddress}
}

// HostAddr returns the host side as host:port.
func (f PortForward) HostAddr() string {
	return net.JoinHostPort(f.BindAddress, strconv.Itoa(f.HostPort))
}

// Server returns the address a local client should connect to.
// Wildcard binds are reached through loopback.
func (f PortForward) Server() string {
	host := f.BindAddress
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(f.HostPort))
}

func (f PortForward) String() string {
	return fmt.Sprintf("%s -> %d/%s", f.HostAddr(), f.TargetPort, f.Protocol)
}

// ValidPort reports whether p is a usable port number.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}
