package testutil

import (
	"embed"
	"os"
	"path/filepath"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
)

//go:embed fixtures/*.toml
var fixturesFS embed.FS

// LoadFixture loads a fixture file by name.
func LoadFixture(name string) ([]byte, error) {
	return fixturesFS.ReadFile("fixtures/" + name)
}

// LoadConfigFixture writes the named fixture below dir and loads it the
// way the CLI would.
func LoadConfigFixture(dir, name string) (*config.Config, error) {
	data, err := LoadFixture(name)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return config.Load(path)
}

// ValidConfig returns the valid config fixture.
func ValidConfig(dir string) (*config.Config, error) {
	return LoadConfigFixture(dir, "valid_config.toml")
}

// InvalidConfig loads the invalid config fixture; the error is expected.
func InvalidConfig(dir string) (*config.Config, error) {
	return LoadConfigFixture(dir, "invalid_config.toml")
}
