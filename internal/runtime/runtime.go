// Package runtime defines the container runtime interface for berth.
// The Docker/Podman backend drives the engine CLI through a
// system.CommandExecutor so it can be exercised with a mock.
package runtime

import (
	"context"
	"sort"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// ContainerStatus represents the state of a container
type ContainerStatus string

const (
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusNotFound ContainerStatus = "not-found"
	StatusUnknown  ContainerStatus = "unknown"
)

// Network is a container's attachment to one engine network.
type Network struct {
	Name      string
	IPAddress string
	Gateway   string
}

// ContainerInfo holds information about a container
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    ContainerStatus
	StartedAt string
	IPAddress string
	Networks  []Network
	Labels    map[string]string
}

// IPs returns every address the container holds across its networks.
func (c *ContainerInfo) IPs() []string {
	seen := make(map[string]bool)
	var ips []string
	add := func(ip string) {
		if ip != "" && !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	add(c.IPAddress)
	for _, n := range c.Networks {
		add(n.IPAddress)
	}
	return ips
}

// PrimaryNetwork returns the first network by name, or nil when the
// container has none.
func (c *ContainerInfo) PrimaryNetwork() *Network {
	if len(c.Networks) == 0 {
		return nil
	}
	nets := make([]Network, len(c.Networks))
	copy(nets, c.Networks)
	sort.Slice(nets, func(i, j int) bool { return nets[i].Name < nets[j].Name })
	return &nets[0]
}

// ShortID returns the abbreviated container id.
func (c *ContainerInfo) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

// ExecResult holds the result of executing a command in a container
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExecOptions holds options for executing a command in a container
type ExecOptions struct {
	User        string   // User to run as
	WorkingDir  string   // Working directory
	Env         []string // Environment variables
	Stdin       string   // Standard input
	Interactive bool     // Allocate a TTY
}

// UpOptions holds options for bringing up a dev container
type UpOptions struct {
	Workspace string
	Rebuild   bool // Remove the existing container first
}

// PortBinding publishes a container port on the host.
type PortBinding struct {
	BindAddress   string
	HostPort      int
	ContainerPort int
	Protocol      string
}

// RunOptions holds options for starting a detached helper container
type RunOptions struct {
	Name    string
	Image   string
	Network string
	Ports   []PortBinding
	Labels  map[string]string
	Command []string
	Remove  bool // Remove the container when it exits
}

// Runtime is the interface that container backends must implement.
// All methods should be safe for concurrent use.
type Runtime interface {
	// Name returns the runtime identifier (e.g., "docker", "podman")
	Name() string

	// Up creates or starts the dev container for a workspace and returns its id
	Up(ctx context.Context, opts UpOptions) (string, error)

	// Resolve finds the dev container belonging to a workspace folder
	Resolve(ctx context.Context, workspace string) (*ContainerInfo, error)

	// Inspect returns detailed status of a container
	Inspect(ctx context.Context, id string) (*ContainerInfo, error)

	// Stop stops a running container
	Stop(ctx context.Context, id string) error

	// Remove force-removes a container. Removing a missing container is not an error.
	Remove(ctx context.Context, id string) error

	// Exec executes a command inside a container and collects its output
	Exec(ctx context.Context, id string, command []string, opts ExecOptions) (*ExecResult, error)

	// ExecInteractive runs a command attached to the terminal and returns its exit status
	ExecInteractive(ctx context.Context, id string, command []string, opts ExecOptions) (int, error)

	// Spawn starts a long-running command inside a container. The returned
	// process reports the in-container pid and its signals reach that pid.
	Spawn(ctx context.Context, id string, command []string, opts ExecOptions) (system.Process, error)

	// RunDetached starts a helper container in the background and returns its id
	RunDetached(ctx context.Context, opts RunOptions) (string, error)

	// List returns containers carrying all of the given labels
	List(ctx context.Context, labels map[string]string) ([]*ContainerInfo, error)
}
