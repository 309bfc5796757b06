package clipboard

import (
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
)

// Clipboard reads and writes a text clipboard.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// System is the host clipboard.
type System struct{}

// Available reports whether a clipboard utility was found on the host.
func (System) Available() bool {
	return !clipboard.Unsupported
}

func (System) Read() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to read host clipboard: %w", err)
	}
	return text, nil
}

func (System) Write(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write host clipboard: %w", err)
	}
	return nil
}

// Memory is an in-process clipboard for tests and hosts without one.
type Memory struct {
	mu   sync.Mutex
	text string

	// Writes counts successful writes.
	Writes int

	// ReadErr and WriteErr are returned when set.
	ReadErr  error
	WriteErr error
}

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return "", m.ReadErr
	}
	return m.text, nil
}

func (m *Memory) Write(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.text = text
	m.Writes++
	return nil
}
