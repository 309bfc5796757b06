// Package session runs remote editing sessions against a dev container.
//
// A session starts a server inside the container, waits for it to print
// its readiness line, forwards a host port to it and launches the host
// client pointed at that forward:
//
//	starting -> awaiting-client -> connected -> closing -> closed
//	         \________________\____________\-> error
//
// Whichever of the server, the client or the caller's context ends first
// closes the session. Closing stops the client, then the server, then
// releases every forward the session owns.
//
// Running sessions are recorded in the state directory (see Store) so
// other berth invocations can list them and keep their forwards intact.
package session
