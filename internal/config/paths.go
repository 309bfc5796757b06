package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	securejoin "github.com/cyphar/filepath-securejoin"
)

const appName = "berth"

// nameRegex validates names used as state file stems (container ids, labels).
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Paths holds the configured paths
type Paths struct {
	ConfigDir   string
	ConfigFile  string
	StateDir    string
	SessionsDir string
	EventsDir   string
	LogsDir     string
}

// DefaultPaths returns paths under the XDG config and state directories.
func DefaultPaths() *Paths {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			configDir = dir
		} else {
			configDir = filepath.Join(os.TempDir(), appName, "config")
		}
	}

	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			stateDir = filepath.Join(home, ".local", "state")
		} else {
			stateDir = filepath.Join(os.TempDir(), appName, "state")
		}
	}

	return NewPaths(filepath.Join(configDir, appName), filepath.Join(stateDir, appName))
}

// NewPaths lays out the standard files below a config and a state directory.
func NewPaths(configDir, stateDir string) *Paths {
	return &Paths{
		ConfigDir:   configDir,
		ConfigFile:  filepath.Join(configDir, "config.toml"),
		StateDir:    stateDir,
		SessionsDir: filepath.Join(stateDir, "sessions"),
		EventsDir:   filepath.Join(stateDir, "events"),
		LogsDir:     filepath.Join(stateDir, "logs"),
	}
}

// SessionFile returns the session record path for a container.
func (p *Paths) SessionFile(container string) (string, error) {
	return safePath(p.SessionsDir, container, ".json")
}

// EventsFile returns the event log path for a container.
func (p *Paths) EventsFile(container string) (string, error) {
	return safePath(p.EventsDir, container, ".jsonl")
}

// LogFile returns the log path for a detached session of a container.
func (p *Paths) LogFile(container string) (string, error) {
	return safePath(p.LogsDir, container, ".log")
}

// safePath joins name+suffix below baseDir. Names are restricted to a
// conservative character set and the join is confined to baseDir.
func safePath(baseDir, name, suffix string) (string, error) {
	if !nameRegex.MatchString(name) {
		return "", fmt.Errorf("invalid name %q", name)
	}
	return securejoin.SecureJoin(baseDir, name+suffix)
}

// ResolveWorkspace returns the absolute workspace folder, defaulting to the
// current directory.
func ResolveWorkspace(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid workspace %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workspace %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace %s is not a directory", abs)
	}

	return abs, nil
}

// DevcontainerConfig locates the dev container definition inside workspace.
// Symlinks are resolved within the workspace so a link cannot point outside it.
func DevcontainerConfig(workspace string) (string, error) {
	for _, rel := range []string{
		filepath.Join(".devcontainer", "devcontainer.json"),
		".devcontainer.json",
	} {
		path, err := securejoin.SecureJoin(workspace, rel)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no devcontainer.json found in %s", workspace)
}
