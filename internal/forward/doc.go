// Package forward owns the port registry and the OS-level forwards behind it.
//
// A Controller is the only writer of its port.Registry. Every entry it
// inserts is backed by a handle from a Forwarder (or from a request's own
// Binder), and the entry is removed again if the forward cannot be
// established. Batches passed to Add are all-or-nothing.
//
// # Backends
//
//   - SocatForwarder: an alpine/socat sidecar on the dev container's
//     network publishes the host port. Sidecars carry berth.* labels, so
//     Sync rebuilds the registry in a new process.
//   - ProxyForwarder: an in-process TCP listener piping to the container IP.
//   - MemForwarder: records forwards in memory, for tests.
//
// # Ownership
//
// Forwards owned by a session cannot be removed with Remove while the
// SessionChecker reports the session live. RemoveAll skips them, and the
// session releases its own forwards with ReleaseSession.
package forward
