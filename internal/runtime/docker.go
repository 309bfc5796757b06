package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// ErrNoContainer is returned by Resolve when a workspace has no dev container.
var ErrNoContainer = errors.New("no dev container found")

// pidMarker prefixes the first line a spawned command prints.
const pidMarker = "berth-pid:"

// spawnScript reports the shell pid, then execs the real command in its
// place so the reported pid is the command's own.
const spawnScript = `echo "` + pidMarker + `$$"; exec "$@" 2>&1`

// signalTimeout bounds the docker exec that delivers a signal.
const signalTimeout = 5 * time.Second

// DockerRuntime implements the Runtime interface using Docker or Podman.
type DockerRuntime struct {
	// Command is the container command to use (docker or podman)
	Command string

	// DevcontainerCLI is the dev containers CLI used by Up
	DevcontainerCLI string

	exec system.CommandExecutor
}

// NewDockerRuntime creates a runtime for the given engine command.
func NewDockerRuntime(command, devcontainerCLI string, executor system.CommandExecutor) *DockerRuntime {
	if executor == nil {
		executor = system.DefaultExecutor()
	}
	if devcontainerCLI == "" {
		devcontainerCLI = config.DefaultDevcontainerCLI
	}
	return &DockerRuntime{
		Command:         command,
		DevcontainerCLI: devcontainerCLI,
		exec:            executor,
	}
}

// Name returns the runtime identifier
func (r *DockerRuntime) Name() string {
	return r.Command
}

// runCmd executes a docker/podman command
func (r *DockerRuntime) runCmd(ctx context.Context, args ...string) (string, error) {
	out, err := r.exec.Execute(ctx, r.Command, args...)
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", r.Command, args[0], err)
	}
	return string(out), nil
}

// upResult is the JSON line printed by `devcontainer up`
type upResult struct {
	Outcome     string `json:"outcome"`
	ContainerID string `json:"containerId"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// Up brings up the workspace's dev container through the dev containers CLI
func (r *DockerRuntime) Up(ctx context.Context, opts UpOptions) (string, error) {
	logging.Debug("bringing up dev container", "workspace", opts.Workspace, "rebuild", opts.Rebuild)

	args := []string{"up", "--workspace-folder", opts.Workspace, "--docker-path", r.Command}
	if opts.Rebuild {
		args = append(args, "--remove-existing-container")
	}

	out, err := r.exec.Execute(ctx, r.DevcontainerCLI, args...)
	res, perr := parseUpResult(out)
	if err != nil {
		if perr == nil && res.Message != "" {
			return "", fmt.Errorf("%s up failed: %s: %w", r.DevcontainerCLI, res.Message, err)
		}
		return "", fmt.Errorf("%s up failed: %w", r.DevcontainerCLI, err)
	}
	if perr != nil {
		return "", fmt.Errorf("%s up: %w", r.DevcontainerCLI, perr)
	}
	if res.Outcome != "success" {
		return "", fmt.Errorf("%s up reported %s: %s", r.DevcontainerCLI, res.Outcome, res.Message)
	}
	return res.ContainerID, nil
}

// parseUpResult finds the last JSON object line in the CLI output.
func parseUpResult(out []byte) (*upResult, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var res upResult
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			continue
		}
		return &res, nil
	}
	return nil, fmt.Errorf("no result in output")
}

// Resolve finds the dev container whose local folder label matches workspace.
// A running container is preferred over a stopped one.
func (r *DockerRuntime) Resolve(ctx context.Context, workspace string) (*ContainerInfo, error) {
	containers, err := r.List(ctx, map[string]string{config.LabelLocalFolder: workspace})
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoContainer, workspace)
	}
	for _, c := range containers {
		if c.Status == StatusRunning {
			return c, nil
		}
	}
	return containers[0], nil
}

// dockerInspect holds the relevant fields from docker inspect
type dockerInspect struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Config struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	State struct {
		Status    string `json:"Status"`
		Running   bool   `json:"Running"`
		StartedAt string `json:"StartedAt"`
	} `json:"State"`
	NetworkSettings struct {
		IPAddress string `json:"IPAddress"`
		Networks  map[string]struct {
			IPAddress string `json:"IPAddress"`
			Gateway   string `json:"Gateway"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

func (d *dockerInspect) info() *ContainerInfo {
	info := &ContainerInfo{
		ID:        d.ID,
		Name:      strings.TrimPrefix(d.Name, "/"),
		Image:     d.Config.Image,
		StartedAt: d.State.StartedAt,
		IPAddress: d.NetworkSettings.IPAddress,
		Labels:    d.Config.Labels,
	}

	switch d.State.Status {
	case "running":
		info.Status = StatusRunning
	case "exited", "stopped", "created":
		info.Status = StatusStopped
	default:
		info.Status = StatusUnknown
	}

	names := make([]string, 0, len(d.NetworkSettings.Networks))
	for name := range d.NetworkSettings.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n := d.NetworkSettings.Networks[name]
		info.Networks = append(info.Networks, Network{Name: name, IPAddress: n.IPAddress, Gateway: n.Gateway})
	}
	return info
}

func (r *DockerRuntime) inspect(ctx context.Context, ids ...string) ([]*ContainerInfo, error) {
	output, err := r.runCmd(ctx, append([]string{"inspect", "--type", "container"}, ids...)...)
	if err != nil {
		return nil, err
	}

	var inspects []dockerInspect
	if err := json.Unmarshal([]byte(output), &inspects); err != nil {
		return nil, fmt.Errorf("failed to parse %s inspect output: %w", r.Command, err)
	}

	infos := make([]*ContainerInfo, len(inspects))
	for i := range inspects {
		infos[i] = inspects[i].info()
	}
	return infos, nil
}

// Inspect returns detailed status of a container
func (r *DockerRuntime) Inspect(ctx context.Context, id string) (*ContainerInfo, error) {
	infos, err := r.inspect(ctx, id)
	if err != nil {
		if isNoSuchContainer(err) {
			return &ContainerInfo{ID: id, Status: StatusNotFound}, nil
		}
		return nil, err
	}
	if len(infos) == 0 {
		return &ContainerInfo{ID: id, Status: StatusNotFound}, nil
	}
	return infos[0], nil
}

// Stop stops a running container
func (r *DockerRuntime) Stop(ctx context.Context, id string) error {
	logging.Debug("stopping container", "container", id)
	_, err := r.runCmd(ctx, "stop", id)
	return err
}

// Remove force-removes a container
func (r *DockerRuntime) Remove(ctx context.Context, id string) error {
	logging.Debug("removing container", "container", id)
	_, err := r.runCmd(ctx, "rm", "-f", id)
	if err != nil && isNoSuchContainer(err) {
		return nil
	}
	return err
}

func isNoSuchContainer(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such container") || strings.Contains(msg, "no such object")
}

// execArgs builds the `exec` argument list up to and including the container id.
func execArgs(id string, opts ExecOptions, attachStdin bool) []string {
	args := []string{"exec"}

	switch {
	case opts.Interactive:
		args = append(args, "-it")
	case attachStdin:
		args = append(args, "-i")
	}

	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}

	if opts.WorkingDir != "" {
		args = append(args, "-w", opts.WorkingDir)
	}

	for _, env := range opts.Env {
		args = append(args, "-e", env)
	}

	return append(args, id)
}

// Exec executes a command inside a container
func (r *DockerRuntime) Exec(ctx context.Context, id string, command []string, opts ExecOptions) (*ExecResult, error) {
	args := append(execArgs(id, opts, opts.Stdin != ""), command...)

	out, err := r.exec.ExecuteWithStdin(ctx, opts.Stdin, r.Command, args...)
	result := &ExecResult{Stdout: string(out)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.Stderr = err.Error()
			return result, nil
		}
		return result, fmt.Errorf("exec failed: %w", err)
	}
	return result, nil
}

// ExecInteractive runs a command attached to the terminal
func (r *DockerRuntime) ExecInteractive(ctx context.Context, id string, command []string, opts ExecOptions) (int, error) {
	args := append(execArgs(id, opts, true), command...)

	err := r.exec.ExecuteInteractive(ctx, r.Command, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("exec failed: %w", err)
	}
	return 0, nil
}

// Spawn starts command inside the container and waits for it to report its pid.
func (r *DockerRuntime) Spawn(ctx context.Context, id string, command []string, opts ExecOptions) (system.Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	argv := []string{r.Command}
	argv = append(argv, execArgs(id, opts, false)...)
	argv = append(argv, "sh", "-c", spawnScript, "sh")
	argv = append(argv, command...)

	host, err := r.exec.Start(ctx, argv, system.StartOptions{CaptureOutput: true})
	if err != nil {
		return nil, fmt.Errorf("%s exec failed: %w", r.Command, err)
	}

	reader := bufio.NewReader(host.Output())
	type result struct {
		pid int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err != nil {
			ch <- result{err: fmt.Errorf("command exited before starting: %w", err)}
			return
		}
		pid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, pidMarker)))
		if !strings.HasPrefix(line, pidMarker) || err != nil {
			ch <- result{err: fmt.Errorf("unexpected first line %q", strings.TrimSpace(line))}
			return
		}
		ch <- result{pid: pid}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			_ = host.Kill()
			return nil, res.err
		}
		logging.Debug("spawned container process", "container", id, "pid", res.pid, "command", command[0])
		return &containerProcess{rt: r, id: id, pid: res.pid, host: host, output: reader}, nil
	case <-ctx.Done():
		_ = host.Kill()
		return nil, ctx.Err()
	}
}

// signal delivers sig to a process inside the container.
func (r *DockerRuntime) signal(id string, pid int, sig string) error {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	_, err := r.runCmd(ctx, "exec", id, "kill", "-s", sig, strconv.Itoa(pid))
	return err
}

// containerProcess is a process running inside a container, observed
// through the host-side exec client.
type containerProcess struct {
	rt     *DockerRuntime
	id     string
	pid    int
	host   system.Process
	output io.Reader
}

func (p *containerProcess) Pid() int              { return p.pid }
func (p *containerProcess) Output() io.Reader     { return p.output }
func (p *containerProcess) Done() <-chan struct{} { return p.host.Done() }
func (p *containerProcess) ExitCode() int         { return p.host.ExitCode() }
func (p *containerProcess) Err() error            { return p.host.Err() }

func (p *containerProcess) exited() bool {
	select {
	case <-p.host.Done():
		return true
	default:
		return false
	}
}

func (p *containerProcess) Terminate() error {
	if p.exited() {
		return nil
	}
	return p.rt.signal(p.id, p.pid, "TERM")
}

func (p *containerProcess) Kill() error {
	if p.exited() {
		return nil
	}
	err := p.rt.signal(p.id, p.pid, "KILL")
	if kerr := p.host.Kill(); err == nil {
		err = kerr
	}
	return err
}

// RunDetached starts a helper container in the background
func (r *DockerRuntime) RunDetached(ctx context.Context, opts RunOptions) (string, error) {
	args := []string{"run", "-d"}
	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", p.String())
	}
	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	logging.Debug("starting helper container", "name", opts.Name, "image", opts.Image)
	out, err := r.runCmd(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// String renders the binding in -p syntax.
func (p PortBinding) String() string {
	s := fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort)
	if p.BindAddress != "" {
		host := p.BindAddress
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		s = host + ":" + s
	}
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

// List returns containers carrying all of the given labels
func (r *DockerRuntime) List(ctx context.Context, labels map[string]string) ([]*ContainerInfo, error) {
	args := []string{"ps", "-a", "-q", "--no-trunc"}
	for _, k := range sortedKeys(labels) {
		filter := "label=" + k
		if v := labels[k]; v != "" {
			filter += "=" + v
		}
		args = append(args, "--filter", filter)
	}

	output, err := r.runCmd(ctx, args...)
	if err != nil {
		return nil, err
	}

	ids := strings.Fields(output)
	if len(ids) == 0 {
		return nil, nil
	}
	return r.inspect(ctx, ids...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ensure DockerRuntime implements Runtime
var _ Runtime = (*DockerRuntime)(nil)
