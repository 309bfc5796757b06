package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultSessionPortFrom = 52000
	DefaultSessionPortTo   = 53000
	DefaultBindAddress     = "127.0.0.1"
	DefaultContainerPort   = 54321
	DefaultReadyTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultReadyPattern    = `listening on port (\d+)`
	DefaultSocatImage      = "alpine/socat"
	DefaultDevcontainerCLI = "devcontainer"
	DefaultClipboardBind   = "0.0.0.0"
	DefaultClipboardPath   = "/tmp/berth-clipboard"

	// Label keys set by the dev containers CLI and by berth on sidecars.
	LabelLocalFolder = "devcontainer.local_folder"
	LabelPrefix      = "berth."
)

// DefaultServerCommand starts a headless neovim and prints the readiness line
// once the RPC socket answers.
const DefaultServerCommand = `sh -c 'nvim --headless --listen 0.0.0.0:{port} & pid=$!; ` +
	`until nvim --server 127.0.0.1:{port} --remote-expr 1 >/dev/null 2>&1; do ` +
	`kill -0 $pid 2>/dev/null || exit 1; sleep 0.1; done; ` +
	`echo "listening on port {port}"; wait $pid'`

// DefaultShellCommand runs the container user's login shell. Extra
// arguments given to `berth shell` are passed on to it.
const DefaultShellCommand = `sh -c 'exec "${SHELL:-/bin/sh}" -l "$@"' sh`

// Forward backends
const (
	BackendSocat = "socat"
	BackendProxy = "proxy"
)

// Runtime engines
const (
	EngineAuto   = "auto"
	EngineDocker = "docker"
	EnginePodman = "podman"
)

// Template keys
const (
	KeyServer = "server"
	KeyPort   = "port"
)

// Duration is a time.Duration that reads from TOML strings like "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// PortRange is an inclusive range of host ports.
type PortRange struct {
	From int `toml:"from"`
	To   int `toml:"to"`
}

// Validate checks the range bounds.
func (r PortRange) Validate() error {
	if r.From < 1 || r.To > 65535 {
		return fmt.Errorf("port range %d-%d must lie within 1-65535", r.From, r.To)
	}
	if r.From > r.To {
		return fmt.Errorf("port range %d-%d is inverted", r.From, r.To)
	}
	return nil
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Config is the user configuration loaded from config.toml
type Config struct {
	Ports     PortsConfig     `toml:"ports"`
	Session   SessionConfig   `toml:"session"`
	Client    ClientConfig    `toml:"client"`
	Clipboard ClipboardConfig `toml:"clipboard"`
	Forward   ForwardConfig   `toml:"forward"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Shell     ShellConfig     `toml:"shell"`

	serverTemplate *CommandTemplate
	clientTemplate *CommandTemplate
	shellTemplate  *CommandTemplate
	readyPattern   *regexp.Regexp
}

type PortsConfig struct {
	SessionRange PortRange `toml:"session_range"`
	BindAddress  string    `toml:"bind_address"`
}

type SessionConfig struct {
	ServerCommand   string   `toml:"server_command"`
	ReadyPattern    string   `toml:"ready_pattern"`
	ContainerPort   int      `toml:"container_port"`
	ReadyTimeout    Duration `toml:"ready_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	Background      bool     `toml:"background"`
}

type ClientConfig struct {
	Command string `toml:"command"`
}

type ClipboardConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	PublishPath string `toml:"publish_path"`
}

type ForwardConfig struct {
	Backend    string `toml:"backend"`
	SocatImage string `toml:"socat_image"`
}

type ShellConfig struct {
	Command string `toml:"command"`
}

type RuntimeConfig struct {
	Engine          string `toml:"engine"`
	DevcontainerCLI string `toml:"devcontainer_cli"`
}

// Default returns a validated configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Ports.SessionRange == (PortRange{}) {
		c.Ports.SessionRange = PortRange{From: DefaultSessionPortFrom, To: DefaultSessionPortTo}
	}
	if c.Ports.BindAddress == "" {
		c.Ports.BindAddress = DefaultBindAddress
	}
	if c.Session.ServerCommand == "" {
		c.Session.ServerCommand = DefaultServerCommand
	}
	if c.Session.ReadyPattern == "" {
		c.Session.ReadyPattern = DefaultReadyPattern
	}
	if c.Session.ContainerPort == 0 {
		c.Session.ContainerPort = DefaultContainerPort
	}
	if c.Session.ReadyTimeout.Duration == 0 {
		c.Session.ReadyTimeout.Duration = DefaultReadyTimeout
	}
	if c.Session.ShutdownTimeout.Duration == 0 {
		c.Session.ShutdownTimeout.Duration = DefaultShutdownTimeout
	}
	if c.Client.Command == "" {
		c.Client.Command = DefaultClientCommand()
	}
	if c.Clipboard.BindAddress == "" {
		c.Clipboard.BindAddress = DefaultClipboardBind
	}
	if c.Clipboard.PublishPath == "" {
		c.Clipboard.PublishPath = DefaultClipboardPath
	}
	if c.Forward.Backend == "" {
		c.Forward.Backend = BackendSocat
	}
	if c.Forward.SocatImage == "" {
		c.Forward.SocatImage = DefaultSocatImage
	}
	if c.Runtime.Engine == "" {
		c.Runtime.Engine = EngineAuto
	}
	if c.Runtime.DevcontainerCLI == "" {
		c.Runtime.DevcontainerCLI = DefaultDevcontainerCLI
	}
	if c.Shell.Command == "" {
		c.Shell.Command = DefaultShellCommand
	}
}

// Validate checks the configuration and compiles its templates.
// Malformed templates are rejected here rather than at launch time.
func (c *Config) Validate() error {
	if err := c.Ports.SessionRange.Validate(); err != nil {
		return fmt.Errorf("ports.session_range: %w", err)
	}
	if net.ParseIP(c.Ports.BindAddress) == nil {
		return fmt.Errorf("ports.bind_address: %q is not an IP address", c.Ports.BindAddress)
	}
	if net.ParseIP(c.Clipboard.BindAddress) == nil {
		return fmt.Errorf("clipboard.bind_address: %q is not an IP address", c.Clipboard.BindAddress)
	}
	if c.Session.ContainerPort < 1 || c.Session.ContainerPort > 65535 {
		return fmt.Errorf("session.container_port: %d is out of range", c.Session.ContainerPort)
	}
	if c.Session.ReadyTimeout.Duration <= 0 {
		return fmt.Errorf("session.ready_timeout must be positive")
	}
	if c.Session.ShutdownTimeout.Duration <= 0 {
		return fmt.Errorf("session.shutdown_timeout must be positive")
	}

	switch c.Forward.Backend {
	case BackendSocat, BackendProxy:
	default:
		return fmt.Errorf("forward.backend: unknown backend %q", c.Forward.Backend)
	}

	switch c.Runtime.Engine {
	case EngineAuto, EngineDocker, EnginePodman:
	default:
		return fmt.Errorf("runtime.engine: unknown engine %q", c.Runtime.Engine)
	}

	server, err := ParseTemplate(c.Session.ServerCommand, []string{KeyPort}, nil)
	if err != nil {
		return fmt.Errorf("session.server_command: %w", err)
	}
	client, err := ParseTemplate(c.Client.Command, []string{KeyServer}, []string{KeyServer})
	if err != nil {
		return fmt.Errorf("client.command: %w", err)
	}
	shell, err := ParseTemplate(c.Shell.Command, nil, nil)
	if err != nil {
		return fmt.Errorf("shell.command: %w", err)
	}
	ready, err := regexp.Compile(c.Session.ReadyPattern)
	if err != nil {
		return fmt.Errorf("session.ready_pattern: %w", err)
	}
	if ready.NumSubexp() < 1 {
		return fmt.Errorf("session.ready_pattern: must capture the port in a group")
	}

	c.serverTemplate = server
	c.clientTemplate = client
	c.shellTemplate = shell
	c.readyPattern = ready
	return nil
}

// ServerTemplate returns the compiled server command template.
func (c *Config) ServerTemplate() *CommandTemplate {
	return c.serverTemplate
}

// ClientTemplate returns the compiled client command template.
func (c *Config) ClientTemplate() *CommandTemplate {
	return c.clientTemplate
}

// ShellCommand returns the argv of the interactive shell.
func (c *Config) ShellCommand() []string {
	return c.shellTemplate.Render(nil)
}

// ReadyPattern returns the compiled readiness pattern.
func (c *Config) ReadyPattern() *regexp.Regexp {
	return c.readyPattern
}

// Load reads the configuration at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// DefaultClientCommand returns the client command for the current host.
// Windows and WSL use the Windows build of neovide.
func DefaultClientCommand() string {
	if runtime.GOOS == "windows" || isWSL() {
		return "neovide.exe --server {server}"
	}
	return "neovide --no-fork --server {server}"
}

func isWSL() bool {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}
