package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ports.SessionRange.From != DefaultSessionPortFrom || cfg.Ports.SessionRange.To != DefaultSessionPortTo {
		t.Errorf("SessionRange = %v, want %d-%d", cfg.Ports.SessionRange, DefaultSessionPortFrom, DefaultSessionPortTo)
	}
	if cfg.Ports.BindAddress != DefaultBindAddress {
		t.Errorf("BindAddress = %q, want %q", cfg.Ports.BindAddress, DefaultBindAddress)
	}
	if cfg.Session.ReadyTimeout.Duration != DefaultReadyTimeout {
		t.Errorf("ReadyTimeout = %v, want %v", cfg.Session.ReadyTimeout, DefaultReadyTimeout)
	}
	if cfg.Forward.Backend != BackendSocat {
		t.Errorf("Backend = %q, want %q", cfg.Forward.Backend, BackendSocat)
	}
	if cfg.ClientTemplate() == nil || cfg.ServerTemplate() == nil || cfg.ReadyPattern() == nil {
		t.Error("Load should compile templates and the ready pattern")
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
[ports]
session_range = { from = 40000, to = 40010 }

[session]
ready_timeout = "3s"
background = true

[client]
command = "my-client --connect {server}"

[clipboard]
enabled = true

[forward]
backend = "proxy"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ports.SessionRange != (PortRange{From: 40000, To: 40010}) {
		t.Errorf("SessionRange = %v, want 40000-40010", cfg.Ports.SessionRange)
	}
	if cfg.Session.ReadyTimeout.Duration != 3*time.Second {
		t.Errorf("ReadyTimeout = %v, want 3s", cfg.Session.ReadyTimeout)
	}
	if !cfg.Session.Background {
		t.Error("Background should be true")
	}
	if !cfg.Clipboard.Enabled {
		t.Error("Clipboard.Enabled should be true")
	}
	if cfg.Forward.Backend != BackendProxy {
		t.Errorf("Backend = %q, want %q", cfg.Forward.Backend, BackendProxy)
	}

	argv := cfg.ClientTemplate().Render(map[string]string{KeyServer: "localhost:52000"})
	want := []string{"my-client", "--connect", "localhost:52000"}
	if strings.Join(argv, " ") != strings.Join(want, " ") {
		t.Errorf("Render() = %v, want %v", argv, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown placeholder in client",
			content: "[client]\ncommand = \"neovide --server {host}\"",
			wantErr: "unknown placeholder {host}",
		},
		{
			name:    "client without server",
			content: "[client]\ncommand = \"neovide\"",
			wantErr: "missing required placeholder {server}",
		},
		{
			name:    "unbalanced quotes",
			content: "[client]\ncommand = \"neovide '{server}\"",
			wantErr: "client.command",
		},
		{
			name:    "inverted range",
			content: "[ports]\nsession_range = { from = 5, to = 1 }",
			wantErr: "inverted",
		},
		{
			name:    "bad bind address",
			content: "[ports]\nbind_address = \"localhost\"",
			wantErr: "not an IP address",
		},
		{
			name:    "bad backend",
			content: "[forward]\nbackend = \"ssh\"",
			wantErr: "unknown backend",
		},
		{
			name:    "pattern without group",
			content: "[session]\nready_pattern = \"ready\"",
			wantErr: "capture the port",
		},
		{
			name:    "bad duration",
			content: "[session]\nready_timeout = \"soon\"",
			wantErr: "failed to parse config",
		},
		{
			name:    "placeholder in shell",
			content: "[shell]\ncommand = \"zsh {port}\"",
			wantErr: "shell.command",
		},
		{
			name:    "unknown key",
			content: "[session]\nlisten = 1",
			wantErr: "unknown keys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	argv := cfg.ServerTemplate().Render(map[string]string{KeyPort: "54321"})
	if len(argv) != 3 || argv[0] != "sh" || argv[1] != "-c" {
		t.Fatalf("server argv = %v, want sh -c <script>", argv)
	}
	if !strings.Contains(argv[2], "--listen 0.0.0.0:54321") {
		t.Errorf("server script should listen on the container port, got %q", argv[2])
	}

	m := cfg.ReadyPattern().FindStringSubmatch("listening on port 54321")
	if len(m) != 2 || m[1] != "54321" {
		t.Errorf("ready pattern match = %v, want port 54321", m)
	}
}

func TestShellCommand(t *testing.T) {
	argv := Default().ShellCommand()
	if len(argv) != 4 || argv[0] != "sh" || argv[3] != "sh" {
		t.Errorf("default shell argv = %q, want sh -c <script> sh", argv)
	}

	cfg, err := Load(writeConfig(t, "[shell]\ncommand = \"/usr/bin/zsh -l\""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := strings.Join(cfg.ShellCommand(), " "); got != "/usr/bin/zsh -l" {
		t.Errorf("shell argv = %q, want /usr/bin/zsh -l", got)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Clipboard.Enabled = true

	var sb strings.Builder
	if err := cfg.Encode(&sb); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	loaded, err := Load(writeConfig(t, sb.String()))
	if err != nil {
		t.Fatalf("Load of encoded config failed: %v\n%s", err, sb.String())
	}
	if !loaded.Clipboard.Enabled {
		t.Error("Clipboard.Enabled should survive encoding")
	}
	if loaded.Session.ShutdownTimeout != cfg.Session.ShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, want %v", loaded.Session.ShutdownTimeout, cfg.Session.ShutdownTimeout)
	}
}
