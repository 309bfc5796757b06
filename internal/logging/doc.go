// Package logging provides logging utilities for berth.
//
// This package provides two categories of output:
//   - Debug logging: Structured logs for debugging (via slog)
//   - User output: Formatted messages for end users
//
// # Debug Logging
//
// Debug logs are written using slog and controlled by verbosity settings:
//
//	logging.Debug("forward opened", "host_port", 8080, "target_port", 3000)
//	logging.Warn("bridge unavailable", "error", err)
//
// Long-lived components take a logger tagged with their name:
//
//	log := logging.Component("session")
//
// # User Output
//
// User-facing messages are formatted with status indicators:
//
//	logging.UserInfo("Waiting for server in %s...", container)
//	logging.UserSuccess("Forwarding %s", fwd)
//	logging.UserWarning("Clipboard sync disabled: %v", err)
//	logging.UserError("remote-open failed at %s: %v", stage, err)
//
// Output destinations (replaceable with SetOutput in tests):
//   - UserInfo, UserSuccess: stdout
//   - UserWarning, UserError: stderr
//
// # Status Indicators
//
// User functions prepend status indicators, colored with lipgloss when the
// output is a terminal:
//   - ℹ (info)
//   - ✓ (success)
//   - ⚠ (warning)
//   - ✗ (error)
package logging
