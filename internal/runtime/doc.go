// Package runtime provides the container engine interface for berth.
//
// The only backend is DockerRuntime, which drives either docker or podman
// through their CLIs. The engine is chosen with New, either explicitly or
// by probing PATH.
//
// # Runtime Interface
//
//   - Up: bring up a workspace's dev container via the dev containers CLI
//   - Resolve, Inspect, List: find containers and read their networks
//   - Stop, Remove: container lifecycle
//   - Exec, ExecInteractive: one-shot commands inside a container
//   - Spawn: long-running commands whose in-container pid is known
//   - RunDetached: helper containers such as port forwarding sidecars
//
// Spawn wraps the command in a shell that prints its pid before exec'ing
// the command, so Terminate and Kill reach the process inside the
// container rather than the host-side exec client.
//
// # Mock Runtime
//
// For testing, use NewMockRuntime() to create a mock implementation that can
// be configured with expected responses and used to verify calls.
package runtime
