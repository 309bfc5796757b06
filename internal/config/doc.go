// Package config provides configuration types and loading for berth.
//
// # Configuration File
//
// User settings live in $XDG_CONFIG_HOME/berth/config.toml. Every key is
// optional; a missing file yields the defaults:
//
//	[ports]
//	session_range = { from = 52000, to = 53000 }
//	bind_address = "127.0.0.1"
//
//	[session]
//	server_command = "nvim --headless --listen 0.0.0.0:{port}"
//	ready_pattern = 'listening on port (\d+)'
//	container_port = 54321
//	ready_timeout = "15s"
//	shutdown_timeout = "5s"
//	background = false
//
//	[client]
//	command = "neovide --no-fork --server {server}"
//
//	[clipboard]
//	enabled = false
//
//	[forward]
//	backend = "socat"   # or "proxy"
//
//	[runtime]
//	engine = "auto"     # docker, podman
//
//	[shell]
//	command = "zsh"     # default: the container user's login shell
//
// # Command Templates
//
// Commands are split into words with shell quoting rules. Placeholders use
// {key} syntax and form a closed set per command:
//
//	session.server_command  {port}    container port to listen on
//	client.command          {server}  forwarded "host:port" (required)
//	shell.command           none
//
// Unknown placeholders and unbalanced quotes are rejected by Load, so a bad
// template fails before any process is started.
//
// # State Paths
//
// Session records, event logs and detached session logs are kept under
// $XDG_STATE_HOME/berth. File names derived from container ids are joined
// with filepath-securejoin so they cannot escape their directory.
package config
