// Package port provides the forward registry, host port allocation and
// forward spec parsing for berth.
//
// # Registry
//
// A Registry holds every active PortForward for the lifetime of the process.
// The pair (host port, protocol, bind address) is unique: Insert returns a
// Conflict error instead of overwriting, Remove returns NotFound for unknown
// keys. List returns forwards in insertion order. The registry performs no
// I/O and is owned by the forward controller.
//
// # Allocation
//
// An Allocator checks candidate ports against both the registry and the host:
//
//	a := port.NewAllocator(registry, nil) // nil uses BindProbe
//	fwd, err := a.Allocate(port.Explicit(8080, 3000, port.TCP, "127.0.0.1"))
//	fwd, err := a.Allocate(port.AnyInRange(52000, 53000, 54321, port.TCP, "127.0.0.1"))
//
// The bind probe is required because other processes on the host hold ports
// the registry has never seen. Explicit requests fail with PortInUse, range
// requests scan upward and fail with RangeExhausted. Allocation never
// mutates the registry; callers insert the returned candidate.
//
// # Allocation Strategy
//
// Ranges are scanned first-fit: the lowest available port is chosen, so
// sessions started one after another get consecutive ports.
//
// # Specs
//
// ParseSpec reads the command-line form [bind_ip:]HOST[:TARGET][/udp] and
// :TARGET for an allocated host port.
package port
