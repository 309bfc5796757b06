package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// State is a session's position in its lifecycle.
type State string

const (
	StateStarting       State = "starting"
	StateAwaitingClient State = "awaiting-client"
	StateConnected      State = "connected"
	StateClosing        State = "closing"
	StateClosed         State = "closed"
	StateError          State = "error"
)

// validTransitions lists the states reachable from each state.
var validTransitions = map[State][]State{
	StateStarting:       {StateAwaitingClient, StateClosing, StateError},
	StateAwaitingClient: {StateConnected, StateClosing, StateError},
	StateConnected:      {StateClosing, StateError},
	StateClosing:        {StateClosed, StateError},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Live reports whether the session holds a running server that clients
// may use.
func (s State) Live() bool {
	return s == StateAwaitingClient || s == StateConnected
}

// Stage names the step of Open that failed.
type Stage string

const (
	StageServerStart  Stage = "server start"
	StageForward      Stage = "forward"
	StageClientLaunch Stage = "client launch"
)

// Session is one server/client pairing backed by a session-owned forward.
type Session struct {
	ID            string
	ContainerID   string
	ContainerPort int
	Headless      bool
	StartedAt     time.Time

	mu        sync.Mutex
	state     State
	err       error
	stage     Stage
	server    system.Process
	client    system.Process
	forward   port.PortForward
	clipboard *port.PortForward

	done   chan struct{}
	cancel func()
}

func newSession(id, containerID string, containerPort int, headless bool, now time.Time) *Session {
	return &Session{
		ID:            id,
		ContainerID:   containerID,
		ContainerPort: containerPort,
		Headless:      headless,
		StartedAt:     now,
		state:         StateStarting,
		done:          make(chan struct{}),
		cancel:        func() {},
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that put the session in StateError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FailedStage returns the Open step that failed, if any.
func (s *Session) FailedStage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Forward returns the session's primary forward.
func (s *Session) Forward() port.PortForward {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forward
}

// Clipboard returns the clipboard bridge forward when the bridge is running.
func (s *Session) Clipboard() (port.PortForward, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clipboard == nil {
		return port.PortForward{}, false
	}
	return *s.clipboard, true
}

// Server returns the host:port clients connect to.
func (s *Session) Server() string {
	return s.Forward().Server()
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) processes() (server, client system.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server, s.client
}

// transition moves to a new state. Invalid transitions are refused.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// finish records the terminal state and releases waiters.
func (s *Session) finish(state State, stage Stage, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.stage = stage
	s.err = err
	s.mu.Unlock()
	close(s.done)
}
