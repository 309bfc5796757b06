package forward

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
)

// MemForwarder records forwards without touching the OS. It is the test
// double for Forwarder.
type MemForwarder struct {
	mu     sync.Mutex
	open   map[port.Key]port.PortForward
	starts int
	closes int

	// FailOn makes Start fail for the given host ports.
	FailOn map[int]error

	// CloseErr is returned by every handle's Close.
	CloseErr error

	// Persisted forwards are returned by Active.
	Persisted []port.PortForward
}

// NewMemForwarder creates an empty in-memory forwarder.
func NewMemForwarder() *MemForwarder {
	return &MemForwarder{
		open:   make(map[port.Key]port.PortForward),
		FailOn: make(map[int]error),
	}
}

func (m *MemForwarder) Name() string {
	return "mem"
}

func (m *MemForwarder) Start(ctx context.Context, target Target, fwd port.PortForward) (io.Closer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++

	if err, ok := m.FailOn[fwd.HostPort]; ok {
		return nil, err
	}
	if _, ok := m.open[fwd.Key()]; ok {
		return nil, fmt.Errorf("%s already open", fwd.Key())
	}
	m.open[fwd.Key()] = fwd
	return m.handle(fwd.Key()), nil
}

func (m *MemForwarder) handle(key port.Key) io.Closer {
	return closerFunc(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closes++
		if m.CloseErr != nil {
			return m.CloseErr
		}
		delete(m.open, key)
		return nil
	})
}

func (m *MemForwarder) Active(ctx context.Context, target Target) ([]Active, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make([]Active, 0, len(m.Persisted))
	for _, fwd := range m.Persisted {
		m.open[fwd.Key()] = fwd
		active = append(active, Active{Forward: fwd, Handle: m.handle(fwd.Key())})
	}
	return active, nil
}

// Open returns the forwards currently established.
func (m *MemForwarder) Open() []port.PortForward {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]port.PortForward, 0, len(m.open))
	for _, fwd := range m.open {
		out = append(out, fwd)
	}
	return out
}

// IsOpen reports whether a forward with key is established.
func (m *MemForwarder) IsOpen(key port.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[key]
	return ok
}

// Stats returns how many times Start and handle Close were called.
func (m *MemForwarder) Stats() (starts, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.closes
}

var _ Forwarder = (*MemForwarder)(nil)
