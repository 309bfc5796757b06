package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPaths_XDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "cfg"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))

	paths := DefaultPaths()

	if want := filepath.Join(tmp, "cfg", "berth", "config.toml"); paths.ConfigFile != want {
		t.Errorf("ConfigFile = %q, want %q", paths.ConfigFile, want)
	}
	if want := filepath.Join(tmp, "state", "berth", "sessions"); paths.SessionsDir != want {
		t.Errorf("SessionsDir = %q, want %q", paths.SessionsDir, want)
	}
	if want := filepath.Join(tmp, "state", "berth", "events"); paths.EventsDir != want {
		t.Errorf("EventsDir = %q, want %q", paths.EventsDir, want)
	}
}

func TestSafePath(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"container id", "3f9a2c1b0d4e", false},
		{"dotted", "my.project-1", false},
		{"traversal", "../../etc/passwd", true},
		{"separator", "a/b", true},
		{"absolute", "/etc/passwd", true},
		{"empty", "", true},
		{"leading dot", ".hidden", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := safePath(base, tt.input, ".json")
			if tt.wantErr {
				if err == nil {
					t.Errorf("safePath(%q) = %q, want error", tt.input, path)
				}
				return
			}
			if err != nil {
				t.Fatalf("safePath(%q) failed: %v", tt.input, err)
			}
			if !strings.HasPrefix(path, base+string(filepath.Separator)) {
				t.Errorf("safePath(%q) = %q escapes %q", tt.input, path, base)
			}
		})
	}
}

func TestDevcontainerConfig(t *testing.T) {
	ws := t.TempDir()

	if _, err := DevcontainerConfig(ws); err == nil {
		t.Error("DevcontainerConfig should fail without a definition")
	}

	if err := os.WriteFile(filepath.Join(ws, ".devcontainer.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	path, err := DevcontainerConfig(ws)
	if err != nil {
		t.Fatalf("DevcontainerConfig failed: %v", err)
	}
	if filepath.Base(path) != ".devcontainer.json" {
		t.Errorf("path = %q, want root .devcontainer.json", path)
	}

	if err := os.MkdirAll(filepath.Join(ws, ".devcontainer"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, ".devcontainer", "devcontainer.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	path, err = DevcontainerConfig(ws)
	if err != nil {
		t.Fatalf("DevcontainerConfig failed: %v", err)
	}
	if path != filepath.Join(ws, ".devcontainer", "devcontainer.json") {
		t.Errorf("path = %q, want the .devcontainer directory to take precedence", path)
	}
}

func TestResolveWorkspace(t *testing.T) {
	ws := t.TempDir()

	got, err := ResolveWorkspace(ws)
	if err != nil {
		t.Fatalf("ResolveWorkspace failed: %v", err)
	}
	if got != ws {
		t.Errorf("ResolveWorkspace = %q, want %q", got, ws)
	}

	file := filepath.Join(ws, "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveWorkspace(file); err == nil {
		t.Error("ResolveWorkspace should reject a file")
	}
}
