package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

// MockRuntime is a mock implementation of Runtime for testing
type MockRuntime struct {
	mu sync.RWMutex

	// Containers tracks the state of mock containers by id
	Containers map[string]*ContainerInfo

	// ExecResults maps container ids to predefined exec results
	ExecResults map[string]*ExecResult

	// Errors allows injecting errors for specific operations
	Errors map[string]error

	// CallLog records all method calls for verification
	CallLog []MockCall

	// InteractiveExitCode is returned by ExecInteractive
	InteractiveExitCode int

	// SpawnFunc, when set, supplies the process for Spawn.
	// Otherwise Spawn returns a fresh system.MockProcess.
	SpawnFunc func(id string, command []string) (system.Process, error)

	// Spawned records every process returned by Spawn
	Spawned []system.Process

	nextID  int
	nextPid int
}

// MockCall represents a recorded method call
type MockCall struct {
	Method string
	Args   []interface{}
}

// NewMockRuntime creates a new mock runtime
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		Containers:  make(map[string]*ContainerInfo),
		ExecResults: make(map[string]*ExecResult),
		Errors:      make(map[string]error),
		CallLog:     make([]MockCall, 0),
		nextPid:     100,
	}
}

func (m *MockRuntime) record(method string, args ...interface{}) {
	m.CallLog = append(m.CallLog, MockCall{Method: method, Args: args})
}

// SetError sets an error to be returned for a specific operation
func (m *MockRuntime) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[operation] = err
}

// SetExecResult sets the result for exec operations on a container
func (m *MockRuntime) SetExecResult(id string, result *ExecResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecResults[id] = result
}

// AddContainer adds a container to the mock
func (m *MockRuntime) AddContainer(info *ContainerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.Labels == nil {
		info.Labels = make(map[string]string)
	}
	m.Containers[info.ID] = info
}

// AddDevContainer adds a running dev container for workspace with a single
// network address.
func (m *MockRuntime) AddDevContainer(id, workspace, ip string) *ContainerInfo {
	info := &ContainerInfo{
		ID:        id,
		Name:      id,
		Status:    StatusRunning,
		IPAddress: ip,
		Networks:  []Network{{Name: "bridge", IPAddress: ip}},
		Labels:    map[string]string{"devcontainer.local_folder": workspace},
	}
	m.AddContainer(info)
	return info
}

// GetCalls returns all recorded calls
func (m *MockRuntime) GetCalls() []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]MockCall, len(m.CallLog))
	copy(calls, m.CallLog)
	return calls
}

// GetCallsFor returns all calls for a specific method
func (m *MockRuntime) GetCallsFor(method string) []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var calls []MockCall
	for _, call := range m.CallLog {
		if call.Method == method {
			calls = append(calls, call)
		}
	}
	return calls
}

// Reset clears all state
func (m *MockRuntime) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Containers = make(map[string]*ContainerInfo)
	m.ExecResults = make(map[string]*ExecResult)
	m.Errors = make(map[string]error)
	m.CallLog = make([]MockCall, 0)
	m.Spawned = nil
}

// Name returns the runtime identifier
func (m *MockRuntime) Name() string {
	return "mock"
}

// Up marks the workspace's container running, creating one if needed
func (m *MockRuntime) Up(ctx context.Context, opts UpOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Up", opts)

	if err, ok := m.Errors["Up"]; ok {
		return "", err
	}

	for _, c := range m.Containers {
		if c.Labels["devcontainer.local_folder"] == opts.Workspace {
			c.Status = StatusRunning
			return c.ID, nil
		}
	}

	m.nextID++
	id := fmt.Sprintf("dev%d", m.nextID)
	m.Containers[id] = &ContainerInfo{
		ID:     id,
		Name:   id,
		Status: StatusRunning,
		Labels: map[string]string{"devcontainer.local_folder": opts.Workspace},
	}
	return id, nil
}

// Resolve finds the container labelled with workspace
func (m *MockRuntime) Resolve(ctx context.Context, workspace string) (*ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Resolve", workspace)

	if err, ok := m.Errors["Resolve"]; ok {
		return nil, err
	}

	for _, c := range m.sortedContainers() {
		if c.Labels["devcontainer.local_folder"] == workspace {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoContainer, workspace)
}

// Inspect returns detailed status of a container
func (m *MockRuntime) Inspect(ctx context.Context, id string) (*ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Inspect", id)

	if err, ok := m.Errors["Inspect"]; ok {
		return nil, err
	}

	if container, ok := m.Containers[id]; ok {
		return container, nil
	}

	return &ContainerInfo{ID: id, Status: StatusNotFound}, nil
}

// Stop stops a running container
func (m *MockRuntime) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Stop", id)

	if err, ok := m.Errors["Stop"]; ok {
		return err
	}

	if container, ok := m.Containers[id]; ok {
		container.Status = StatusStopped
		return nil
	}

	return fmt.Errorf("container not found: %s", id)
}

// Remove removes a container
func (m *MockRuntime) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Remove", id)

	if err, ok := m.Errors["Remove"]; ok {
		return err
	}

	delete(m.Containers, id)
	return nil
}

// Exec executes a command inside a container
func (m *MockRuntime) Exec(ctx context.Context, id string, command []string, opts ExecOptions) (*ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Exec", id, command, opts)

	if err, ok := m.Errors["Exec"]; ok {
		return nil, err
	}

	if result, ok := m.ExecResults[id]; ok {
		return result, nil
	}

	return &ExecResult{ExitCode: 0}, nil
}

// ExecInteractive executes a command with an interactive TTY
func (m *MockRuntime) ExecInteractive(ctx context.Context, id string, command []string, opts ExecOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ExecInteractive", id, command, opts)

	if err, ok := m.Errors["ExecInteractive"]; ok {
		return -1, err
	}

	return m.InteractiveExitCode, nil
}

// Spawn starts a mock process
func (m *MockRuntime) Spawn(ctx context.Context, id string, command []string, opts ExecOptions) (system.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Spawn", id, command, opts)

	if err, ok := m.Errors["Spawn"]; ok {
		return nil, err
	}

	var p system.Process
	if m.SpawnFunc != nil {
		var err error
		if p, err = m.SpawnFunc(id, command); err != nil {
			return nil, err
		}
	} else {
		m.nextPid++
		p = system.NewMockProcess(m.nextPid)
	}
	m.Spawned = append(m.Spawned, p)
	return p, nil
}

// RunDetached registers a running helper container
func (m *MockRuntime) RunDetached(ctx context.Context, opts RunOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RunDetached", opts)

	if err, ok := m.Errors["RunDetached"]; ok {
		return "", err
	}

	if opts.Name != "" {
		for _, c := range m.Containers {
			if c.Name == opts.Name {
				return "", fmt.Errorf("container name %q is already in use", opts.Name)
			}
		}
	}

	m.nextID++
	id := fmt.Sprintf("helper%d", m.nextID)
	labels := make(map[string]string, len(opts.Labels))
	for k, v := range opts.Labels {
		labels[k] = v
	}
	m.Containers[id] = &ContainerInfo{
		ID:     id,
		Name:   opts.Name,
		Image:  opts.Image,
		Status: StatusRunning,
		Labels: labels,
	}
	return id, nil
}

// List returns containers carrying all of the given labels
func (m *MockRuntime) List(ctx context.Context, labels map[string]string) ([]*ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("List", labels)

	if err, ok := m.Errors["List"]; ok {
		return nil, err
	}

	var containers []*ContainerInfo
	for _, c := range m.sortedContainers() {
		if matchLabels(c.Labels, labels) {
			containers = append(containers, c)
		}
	}
	return containers, nil
}

func (m *MockRuntime) sortedContainers() []*ContainerInfo {
	containers := make([]*ContainerInfo, 0, len(m.Containers))
	for _, c := range m.Containers {
		containers = append(containers, c)
	}
	sort.Slice(containers, func(i, j int) bool { return containers[i].ID < containers[j].ID })
	return containers
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || (v != "" && got != v) {
			return false
		}
	}
	return true
}

// Ensure MockRuntime implements Runtime
var _ Runtime = (*MockRuntime)(nil)
