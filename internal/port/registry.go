package port

import (
	"slices"
	"sync"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
)

// Registry records every active forward for the lifetime of the process.
// It performs no I/O. The forward controller is its only writer.
type Registry struct {
	mu       sync.RWMutex
	forwards []PortForward
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Insert adds fwd. It fails with a Conflict error if another forward already
// claims the same host port, protocol and bind address.
func (r *Registry) Insert(fwd PortForward) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(fwd.Key()) >= 0 {
		return errors.Conflict(fwd.Key().String())
	}
	r.forwards = append(r.forwards, fwd)
	return nil
}

// Remove deletes the forward with the given key.
func (r *Registry) Remove(hostPort int, protocol Protocol, bindAddress string) error {
	key := Key{HostPort: hostPort, Protocol: protocol, BindAddress: bindAddress}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(key)
	if i < 0 {
		return errors.NotFound(key.String())
	}
	r.forwards = slices.Delete(r.forwards, i, i+1)
	return nil
}

// List returns a copy of all forwards in insertion order.
func (r *Registry) List() []PortForward {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.forwards)
}

// Find looks up a forward by key.
func (r *Registry) Find(hostPort int, protocol Protocol, bindAddress string) (PortForward, bool) {
	key := Key{HostPort: hostPort, Protocol: protocol, BindAddress: bindAddress}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(key); i >= 0 {
		return r.forwards[i], true
	}
	return PortForward{}, false
}

// Len returns the number of forwards.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forwards)
}

func (r *Registry) indexOf(key Key) int {
	return slices.IndexFunc(r.forwards, func(f PortForward) bool {
		return f.Key() == key
	})
}
