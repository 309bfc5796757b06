package runtime

import (
	"fmt"
	"os/exec"
	goruntime "runtime"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Config holds runtime configuration
type Config struct {
	// Engine specifies which engine to use (or "auto" for auto-detection)
	Engine string

	// DevcontainerCLI is the dev containers CLI used by Up
	DevcontainerCLI string

	// Executor runs engine commands; nil uses the system default
	Executor system.CommandExecutor
}

// Detect determines which container engine is available on the system.
// Docker is preferred since it is what the dev containers CLI targets by default.
func Detect() (string, error) {
	logging.Debug("detecting container engine", "os", goruntime.GOOS)

	for _, engine := range []string{config.EngineDocker, config.EnginePodman} {
		if _, err := lookPath(engine); err == nil {
			logging.Debug("detected engine", "engine", engine)
			return engine, nil
		}
	}

	return "", fmt.Errorf("no supported container engine found (tried: docker, podman)")
}

// New creates a new Runtime based on the configuration.
// If Engine is auto, it detects the available engine.
func New(cfg Config) (Runtime, error) {
	engine := cfg.Engine
	if engine == "" || engine == config.EngineAuto {
		detected, err := Detect()
		if err != nil {
			return nil, err
		}
		engine = detected
	}

	switch engine {
	case config.EngineDocker, config.EnginePodman:
		logging.Debug("creating runtime", "engine", engine)
		return NewDockerRuntime(engine, cfg.DevcontainerCLI, cfg.Executor), nil
	default:
		return nil, fmt.Errorf("unknown container engine: %s", engine)
	}
}

// Available returns the engines found on this system
func Available() []string {
	var available []string
	for _, engine := range []string{config.EngineDocker, config.EnginePodman} {
		if _, err := lookPath(engine); err == nil {
			available = append(available, engine)
		}
	}
	return available
}
