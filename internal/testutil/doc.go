// Package testutil provides test fixtures and utilities.
//
// # Fixtures
//
// TOML fixtures are embedded using go:embed:
//
//	fixtures/valid_config.toml
//	fixtures/invalid_config.toml
//
// LoadConfigFixture writes a fixture to disk and loads it through
// config.Load so decoding and validation match the CLI:
//
//	cfg, err := testutil.ValidConfig(t.TempDir())
//	_, err = testutil.InvalidConfig(t.TempDir()) // err != nil
//
// # Test Environment
//
// NewTestEnv installs an app.Default backed by a mock runtime, an
// in-memory forwarder, a mock launcher and an in-memory clipboard:
//
//	env := testutil.NewTestEnv(t)
//	defer env.Cleanup()
//	ws := env.CreateWorkspace("project")
//	env.AddContainer("c0ffee", ws)
//	env.Busy[8080] = true
package testutil
