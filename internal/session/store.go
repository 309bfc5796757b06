package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// Record is the on-disk view of a session, one file per container.
type Record struct {
	SessionID     string    `json:"session_id" yaml:"session_id"`
	ContainerID   string    `json:"container_id" yaml:"container_id"`
	Workspace     string    `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	State         State     `json:"state" yaml:"state"`
	OwnerPID      int       `json:"owner_pid" yaml:"owner_pid"`
	ServerPID     int       `json:"server_pid,omitempty" yaml:"server_pid,omitempty"`
	ContainerPort int       `json:"container_port" yaml:"container_port"`
	HostPort      int       `json:"host_port,omitempty" yaml:"host_port,omitempty"`
	Server        string    `json:"server,omitempty" yaml:"server,omitempty"`
	ClipboardPort int       `json:"clipboard_port,omitempty" yaml:"clipboard_port,omitempty"`
	Headless      bool      `json:"headless" yaml:"headless"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store keeps session records under the sessions state directory so other
// invocations can find, list and close a running session.
type Store struct {
	fs    system.FileSystem
	paths *config.Paths

	// Alive is swapped in tests.
	Alive func(pid int) bool
}

// NewStore creates a store. A nil fs uses the OS filesystem.
func NewStore(fsys system.FileSystem, paths *config.Paths) *Store {
	if fsys == nil {
		fsys = system.DefaultFS()
	}
	return &Store{fs: fsys, paths: paths, Alive: system.ProcessAlive}
}

// Save writes rec, replacing any record for the same container.
func (s *Store) Save(rec Record) error {
	path, err := s.paths.SessionFile(rec.ContainerID)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.paths.SessionsDir, 0o700); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	if err := s.fs.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// Load returns the record for a container, or nil when there is none.
func (s *Store) Load(containerID string) (*Record, error) {
	path, err := s.paths.SessionFile(containerID)
	if err != nil {
		return nil, err
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse session record %s: %w", path, err)
	}
	return &rec, nil
}

// Delete removes the record for a container if it still belongs to
// sessionID. An empty sessionID removes any record.
func (s *Store) Delete(containerID, sessionID string) error {
	rec, err := s.Load(containerID)
	if err != nil || rec == nil {
		return err
	}
	if sessionID != "" && rec.SessionID != sessionID {
		return nil
	}

	path, err := s.paths.SessionFile(containerID)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session record: %w", err)
	}
	return nil
}

// List returns every record, sorted by start time.
func (s *Store) List() ([]Record, error) {
	entries, err := s.fs.ReadDir(s.paths.SessionsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var records []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil || rec == nil {
			continue
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt.Before(records[j].StartedAt) })
	return records, nil
}

// Live reports whether rec describes a running session whose owner
// process still exists.
func (s *Store) Live(rec *Record) bool {
	return rec != nil && rec.State.Live() && s.Alive(rec.OwnerPID)
}

// IsLive reports whether any live record belongs to sessionID.
func (s *Store) IsLive(sessionID string) bool {
	records, err := s.List()
	if err != nil {
		return false
	}
	for i := range records {
		if records[i].SessionID == sessionID {
			return s.Live(&records[i])
		}
	}
	return false
}

// Prune removes records whose owner process is gone and returns them.
func (s *Store) Prune() ([]Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}

	var pruned []Record
	for i := range records {
		rec := records[i]
		if s.Alive(rec.OwnerPID) && !rec.State.Terminal() {
			continue
		}
		if err := s.Delete(rec.ContainerID, rec.SessionID); err != nil {
			return pruned, err
		}
		pruned = append(pruned, rec)
	}
	return pruned, nil
}
