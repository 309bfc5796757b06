// Package audit records forward and session lifecycle events.
// Events are stored as JSON Lines (JSONL) files, one per container.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/session"
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventForwardAdd    EventType = EventType(forward.ActionAdd)
	EventForwardRemove EventType = EventType(forward.ActionRemove)
	EventUp            EventType = "container.up"
	EventStop          EventType = "container.stop"
	EventDown          EventType = "container.down"
	EventExec          EventType = "container.exec"
)

// SessionEvent returns the event type for a session state.
func SessionEvent(state session.State) EventType {
	return EventType("session." + string(state))
}

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Type      EventType `json:"type" yaml:"type"`
	Container string    `json:"container" yaml:"container"`
	Session   string    `json:"session,omitempty" yaml:"session,omitempty"`
	Forward   string    `json:"forward,omitempty" yaml:"forward,omitempty"`
	Details   string    `json:"details,omitempty" yaml:"details,omitempty"`
}

// Logger writes and reads audit events for containers.
// Events are stored in {stateDir}/events/{container}.jsonl.
type Logger struct {
	paths *config.Paths
	now   func() time.Time
	log   *slog.Logger
}

// NewLogger creates a new audit logger under paths.EventsDir.
func NewLogger(paths *config.Paths) *Logger {
	return &Logger{paths: paths, now: time.Now, log: logging.Component("audit")}
}

// Log appends an event to the container's audit log.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	path, err := l.paths.EventsFile(event.Container)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogEvent is a convenience method that creates and logs an event.
func (l *Logger) LogEvent(eventType EventType, container, details string) error {
	return l.Log(Event{
		Type:      eventType,
		Container: container,
		Details:   details,
	})
}

// record logs an event and only warns on failure; lifecycle work never
// fails because the audit log could not be written.
func (l *Logger) record(event Event) {
	if err := l.Log(event); err != nil {
		l.log.Warn("failed to write audit event", "type", event.Type, "error", err)
	}
}

// ForwardObserver returns a controller observer that logs forward changes
// for container.
func (l *Logger) ForwardObserver(container string) forward.Observer {
	return func(action forward.Action, fwd port.PortForward) {
		l.record(Event{
			Type:      EventType(action),
			Container: container,
			Session:   fwd.SessionID,
			Forward:   fwd.String(),
			Details:   string(fwd.Owner),
		})
	}
}

// SessionObserver returns an orchestrator callback that logs session
// state changes.
func (l *Logger) SessionObserver() session.EventFunc {
	return func(s *session.Session, state session.State, detail string) {
		l.record(Event{
			Type:      SessionEvent(state),
			Container: s.ContainerID,
			Session:   s.ID,
			Details:   detail,
		})
	}
}

// Events reads all events for a container in chronological order.
func (l *Logger) Events(container string) ([]Event, error) {
	path, err := l.paths.EventsFile(container)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading audit log: %w", err)
	}

	return events, nil
}

// Remove deletes the audit log for a container.
func (l *Logger) Remove(container string) error {
	path, err := l.paths.EventsFile(container)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
