package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

const inspectJSON = `[{
	"Id": "abc123def4567890",
	"Name": "/vibrant_dev",
	"Config": {
		"Image": "mcr.microsoft.com/devcontainers/go",
		"Labels": {"devcontainer.local_folder": "/home/me/project"}
	},
	"State": {
		"Status": "running",
		"Running": true,
		"StartedAt": "2024-01-01T00:00:00Z"
	},
	"NetworkSettings": {
		"IPAddress": "",
		"Networks": {
			"project_default": {"IPAddress": "172.18.0.2", "Gateway": "172.18.0.1"},
			"bridge": {"IPAddress": "172.17.0.3", "Gateway": "172.17.0.1"}
		}
	}
}]`

func newTestRuntime() (*DockerRuntime, *system.MockExecutor) {
	exec := system.NewMockExecutor()
	return NewDockerRuntime("docker", "devcontainer", exec), exec
}

func TestDockerRuntime_Name(t *testing.T) {
	rt, _ := newTestRuntime()
	if rt.Name() != "docker" {
		t.Errorf("Name() = %q, want %q", rt.Name(), "docker")
	}

	rt.Command = "podman"
	if rt.Name() != "podman" {
		t.Errorf("Name() = %q, want %q", rt.Name(), "podman")
	}
}

func TestDockerRuntime_Inspect(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("docker inspect", []byte(inspectJSON), nil)

	info, err := rt.Inspect(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Inspect error: %v", err)
	}

	if info.Name != "vibrant_dev" {
		t.Errorf("Name = %q, want %q", info.Name, "vibrant_dev")
	}
	if info.Status != StatusRunning {
		t.Errorf("Status = %q, want running", info.Status)
	}
	if info.ShortID() != "abc123def456" {
		t.Errorf("ShortID() = %q", info.ShortID())
	}
	if len(info.Networks) != 2 || info.Networks[0].Name != "bridge" {
		t.Fatalf("Networks = %+v, want two sorted by name", info.Networks)
	}
	if got := info.PrimaryNetwork().Name; got != "bridge" {
		t.Errorf("PrimaryNetwork() = %q, want bridge", got)
	}

	ips := info.IPs()
	if len(ips) != 2 || ips[0] != "172.17.0.3" || ips[1] != "172.18.0.2" {
		t.Errorf("IPs() = %v", ips)
	}
}

func TestDockerRuntime_Inspect_NotFound(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("docker inspect", nil, errors.New("Error: No such container: gone"))

	info, err := rt.Inspect(context.Background(), "gone")
	if err != nil {
		t.Fatalf("Inspect error: %v", err)
	}
	if info.Status != StatusNotFound {
		t.Errorf("Status = %q, want not-found", info.Status)
	}
}

func TestDockerRuntime_Resolve(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("docker ps", []byte("abc123def4567890\n"), nil)
	exec.AddResponse("docker inspect", []byte(inspectJSON), nil)

	info, err := rt.Resolve(context.Background(), "/home/me/project")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if info.ID != "abc123def4567890" {
		t.Errorf("ID = %q", info.ID)
	}

	ps := exec.CommandLines()[0]
	if !strings.Contains(ps, "--filter label=devcontainer.local_folder=/home/me/project") {
		t.Errorf("ps command = %q, want a label filter on the workspace", ps)
	}
}

func TestDockerRuntime_Resolve_None(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("docker ps", []byte(""), nil)

	_, err := rt.Resolve(context.Background(), "/nowhere")
	if !errors.Is(err, ErrNoContainer) {
		t.Errorf("Resolve error = %v, want ErrNoContainer", err)
	}
}

func TestDockerRuntime_Up(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("devcontainer up", []byte("[1 ms] Start\n{\"outcome\":\"success\",\"containerId\":\"c0ffee\"}\n"), nil)

	id, err := rt.Up(context.Background(), UpOptions{Workspace: "/ws", Rebuild: true})
	if err != nil {
		t.Fatalf("Up error: %v", err)
	}
	if id != "c0ffee" {
		t.Errorf("Up() = %q, want c0ffee", id)
	}

	want := "devcontainer up --workspace-folder /ws --docker-path docker --remove-existing-container"
	if got := exec.CommandLines()[0]; got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestDockerRuntime_Up_Failure(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("devcontainer up",
		[]byte(`{"outcome":"error","message":"Command failed: docker build"}`),
		fmt.Errorf("exit status 1"))

	_, err := rt.Up(context.Background(), UpOptions{Workspace: "/ws"})
	if err == nil || !strings.Contains(err.Error(), "docker build") {
		t.Errorf("Up error = %v, want the CLI message", err)
	}
}

func TestDockerRuntime_RunDetached(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("docker run", []byte("sidecar123\n"), nil)

	id, err := rt.RunDetached(context.Background(), RunOptions{
		Name:    "berth-fwd-8080",
		Image:   "alpine/socat",
		Network: "bridge",
		Remove:  true,
		Ports:   []PortBinding{{BindAddress: "127.0.0.1", HostPort: 8080, ContainerPort: 1234, Protocol: "tcp"}},
		Labels:  map[string]string{"berth.owner": "user", "berth.host-port": "8080"},
		Command: []string{"TCP-LISTEN:1234,fork", "TCP-CONNECT:172.17.0.3:80"},
	})
	if err != nil {
		t.Fatalf("RunDetached error: %v", err)
	}
	if id != "sidecar123" {
		t.Errorf("id = %q", id)
	}

	want := "docker run -d --rm --name berth-fwd-8080 --network bridge -p 127.0.0.1:8080:1234 " +
		"--label berth.host-port=8080 --label berth.owner=user alpine/socat " +
		"TCP-LISTEN:1234,fork TCP-CONNECT:172.17.0.3:80"
	if got := exec.CommandLines()[0]; got != want {
		t.Errorf("command =\n  %q\nwant\n  %q", got, want)
	}
}

func TestPortBinding_String(t *testing.T) {
	tests := []struct {
		b    PortBinding
		want string
	}{
		{PortBinding{HostPort: 80, ContainerPort: 8080}, "80:8080"},
		{PortBinding{BindAddress: "0.0.0.0", HostPort: 53, ContainerPort: 53, Protocol: "udp"}, "0.0.0.0:53:53/udp"},
		{PortBinding{BindAddress: "::1", HostPort: 80, ContainerPort: 80, Protocol: "tcp"}, "[::1]:80:80"},
	}

	for _, tt := range tests {
		if got := tt.b.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDockerRuntime_Remove_Missing(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("docker rm", nil, errors.New("Error: No such container: x"))

	if err := rt.Remove(context.Background(), "x"); err != nil {
		t.Errorf("Remove of a missing container = %v, want nil", err)
	}
}

func TestDockerRuntime_Exec(t *testing.T) {
	rt, exec := newTestRuntime()
	exec.AddResponse("docker exec", []byte("ok"), nil)

	res, err := rt.Exec(context.Background(), "c1", []string{"sh", "-c", "cat > /tmp/x"}, ExecOptions{Stdin: "data", User: "vscode"})
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if res.Stdout != "ok" {
		t.Errorf("Stdout = %q", res.Stdout)
	}

	cmd, _ := exec.LastCommand()
	if cmd.Stdin != "data" {
		t.Errorf("stdin = %q, want data", cmd.Stdin)
	}
	want := "docker exec -i -u vscode c1 sh -c cat > /tmp/x"
	if cmd.String() != want {
		t.Errorf("command = %q, want %q", cmd.String(), want)
	}
}

func TestDockerRuntime_ExecInteractive(t *testing.T) {
	rt, exec := newTestRuntime()

	code, err := rt.ExecInteractive(context.Background(), "c1", []string{"bash"}, ExecOptions{Interactive: true})
	if err != nil {
		t.Fatalf("ExecInteractive error: %v", err)
	}
	if code != 0 {
		t.Errorf("code = %d, want 0", code)
	}
	if got := exec.CommandLines()[0]; got != "docker exec -it c1 bash" {
		t.Errorf("command = %q", got)
	}

	exec.InteractiveErr = errors.New("docker: not found")
	if _, err := rt.ExecInteractive(context.Background(), "c1", []string{"bash"}, ExecOptions{}); err == nil {
		t.Error("ExecInteractive should surface launch errors")
	}
}

func TestDockerRuntime_Spawn(t *testing.T) {
	rt, exec := newTestRuntime()
	host := system.NewMockProcess(9000)
	exec.StartFunc = func(argv []string, opts system.StartOptions) (system.Process, error) {
		if !opts.CaptureOutput {
			t.Error("Spawn should capture output")
		}
		return host, nil
	}
	host.WriteLine("berth-pid:42")
	host.WriteLine("listening on port 54321")

	p, err := rt.Spawn(context.Background(), "c1", []string{"nvim", "--headless"}, ExecOptions{})
	if err != nil {
		t.Fatalf("Spawn error: %v", err)
	}
	if p.Pid() != 42 {
		t.Errorf("Pid() = %d, want 42", p.Pid())
	}

	start := exec.CommandLines()[0]
	if !strings.HasPrefix(start, "docker exec c1 sh -c ") || !strings.HasSuffix(start, " sh nvim --headless") {
		t.Errorf("spawn command = %q", start)
	}

	buf := make([]byte, 64)
	n, _ := p.Output().Read(buf)
	if got := string(buf[:n]); got != "listening on port 54321\n" {
		t.Errorf("first output after pid = %q", got)
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate error: %v", err)
	}
	last, _ := exec.LastCommand()
	if last.String() != "docker exec c1 kill -s TERM 42" {
		t.Errorf("terminate command = %q", last.String())
	}

	host.Exit(0)
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after host exit")
	}
	if err := p.Kill(); err != nil {
		t.Errorf("Kill after exit = %v", err)
	}
}

func TestDockerRuntime_Spawn_ExitsEarly(t *testing.T) {
	rt, exec := newTestRuntime()
	host := system.NewMockProcess(9000)
	exec.StartFunc = func(argv []string, opts system.StartOptions) (system.Process, error) {
		return host, nil
	}
	host.Exit(127)

	if _, err := rt.Spawn(context.Background(), "c1", []string{"nvim"}, ExecOptions{}); err == nil {
		t.Fatal("Spawn should fail when the command exits before reporting its pid")
	}
}

func TestDockerRuntime_Spawn_Cancelled(t *testing.T) {
	rt, exec := newTestRuntime()
	host := system.NewMockProcess(9000)
	exec.StartFunc = func(argv []string, opts system.StartOptions) (system.Process, error) {
		return host, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rt.Spawn(ctx, "c1", []string{"nvim"}, ExecOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Spawn error = %v, want context.Canceled", err)
	}
	if host.Kills() != 1 {
		t.Errorf("host Kills() = %d, want 1", host.Kills())
	}
}
