package system

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MockFS implements FileSystem for testing.
type MockFS struct {
	mu    sync.RWMutex
	files map[string]*mockFile
	dirs  map[string]bool

	// Error injection
	ReadFileErr  error
	WriteFileErr error
	RemoveErr    error
	StatErr      error
	MkdirAllErr  error
	ReadDirErr   error
}

type mockFile struct {
	data []byte
	mode fs.FileMode
}

// NewMockFS creates a new MockFS with an empty filesystem.
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string]*mockFile),
		dirs:  make(map[string]bool),
	}
}

// AddFile adds a file to the mock filesystem.
func (m *MockFS) AddFile(path string, data []byte, mode fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &mockFile{data: data, mode: mode}
	// Ensure parent directories exist
	dir := filepath.Dir(path)
	for dir != "." && dir != "/" {
		m.dirs[dir] = true
		dir = filepath.Dir(dir)
	}
}

// AddDir adds a directory to the mock filesystem.
func (m *MockFS) AddDir(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
}

// GetFile returns the contents of a file in the mock filesystem.
func (m *MockFS) GetFile(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, false
	}
	return f.data, true
}

func (m *MockFS) ReadFile(path string) ([]byte, error) {
	if m.ReadFileErr != nil {
		return nil, m.ReadFileErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return f.data, nil
}

func (m *MockFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	if m.WriteFileErr != nil {
		return m.WriteFileErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &mockFile{data: data, mode: perm}
	return nil
}

func (m *MockFS) Remove(path string) error {
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		delete(m.files, path)
		return nil
	}
	if _, ok := m.dirs[path]; ok {
		delete(m.dirs, path)
		return nil
	}
	return fs.ErrNotExist
}

func (m *MockFS) Stat(path string) (fs.FileInfo, error) {
	if m.StatErr != nil {
		return nil, m.StatErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if f, ok := m.files[path]; ok {
		return &mockFileInfo{name: filepath.Base(path), size: int64(len(f.data)), mode: f.mode}, nil
	}
	if _, ok := m.dirs[path]; ok {
		return &mockFileInfo{name: filepath.Base(path), isDir: true, mode: fs.ModeDir | 0755}, nil
	}
	return nil, fs.ErrNotExist
}

func (m *MockFS) MkdirAll(path string, perm fs.FileMode) error {
	if m.MkdirAllErr != nil {
		return m.MkdirAllErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Create all directories in the path
	current := path
	for current != "." && current != "/" {
		m.dirs[current] = true
		current = filepath.Dir(current)
	}
	return nil
}

func (m *MockFS) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, fileOk := m.files[path]
	_, dirOk := m.dirs[path]
	return fileOk || dirOk
}

func (m *MockFS) ReadDir(path string) ([]fs.DirEntry, error) {
	if m.ReadDirErr != nil {
		return nil, m.ReadDirErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.dirs[path]; !ok {
		// Check if it's the root or a path that has children
		hasChildren := false
		for p := range m.files {
			if hasPathPrefix(p, path) {
				hasChildren = true
				break
			}
		}
		if !hasChildren {
			return nil, fs.ErrNotExist
		}
	}

	entries := make(map[string]fs.DirEntry)

	// Find direct children
	for p, f := range m.files {
		if dir := filepath.Dir(p); dir == path {
			name := filepath.Base(p)
			entries[name] = &mockDirEntry{name: name, mode: f.mode}
		}
	}
	for p := range m.dirs {
		if dir := filepath.Dir(p); dir == path {
			name := filepath.Base(p)
			entries[name] = &mockDirEntry{name: name, isDir: true, mode: fs.ModeDir | 0755}
		}
	}

	result := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, e)
	}
	return result, nil
}

// hasPathPrefix checks if path has the given prefix as a path component.
func hasPathPrefix(path, prefix string) bool {
	if len(path) <= len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// mockFileInfo implements fs.FileInfo for testing.
type mockFileInfo struct {
	name  string
	size  int64
	mode  fs.FileMode
	isDir bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return time.Now() }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() interface{}   { return nil }

// mockDirEntry implements fs.DirEntry for testing.
type mockDirEntry struct {
	name  string
	mode  fs.FileMode
	isDir bool
}

func (m *mockDirEntry) Name() string               { return m.name }
func (m *mockDirEntry) IsDir() bool                { return m.isDir }
func (m *mockDirEntry) Type() fs.FileMode          { return m.mode.Type() }
func (m *mockDirEntry) Info() (fs.FileInfo, error) { return &mockFileInfo{name: m.name, mode: m.mode, isDir: m.isDir}, nil }

// MockExecutor implements CommandExecutor for testing.
type MockExecutor struct {
	mu sync.Mutex

	// Commands records all executed commands for verification.
	Commands []MockCommand

	// Responses maps command patterns to responses. Lookup tries the full
	// command line, then "command arg1", then "command".
	Responses map[string]MockResponse

	// DefaultResponse is used when no matching response is found.
	DefaultResponse MockResponse

	// InteractiveErr is returned by ExecuteInteractive if set.
	InteractiveErr error

	// StartErr is returned by Start if set.
	StartErr error

	// StartFunc, when set, supplies the process for each Start call.
	// Otherwise Start hands out a fresh MockProcess.
	StartFunc func(argv []string, opts StartOptions) (Process, error)

	// Started records every process handed out by Start.
	Started []Process

	nextPid int
}

// MockCommand records an executed command.
type MockCommand struct {
	Name  string
	Args  []string
	Stdin string
}

// String returns the command line.
func (c MockCommand) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// MockResponse defines the response for a command.
type MockResponse struct {
	Output []byte
	Err    error
}

// NewMockExecutor creates a new MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Commands:  make([]MockCommand, 0),
		Responses: make(map[string]MockResponse),
		nextPid:   1000,
	}
}

// AddResponse adds a response for a specific command pattern.
func (m *MockExecutor) AddResponse(pattern string, output []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[pattern] = MockResponse{Output: output, Err: err}
}

func (m *MockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	return m.ExecuteWithStdin(ctx, "", name, args...)
}

func (m *MockExecutor) ExecuteWithStdin(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := MockCommand{Name: name, Args: args, Stdin: stdin}
	m.Commands = append(m.Commands, cmd)
	resp := m.lookup(cmd)
	return resp.Output, resp.Err
}

func (m *MockExecutor) lookup(cmd MockCommand) MockResponse {
	if resp, ok := m.Responses[cmd.String()]; ok {
		return resp
	}
	if len(cmd.Args) > 0 {
		if resp, ok := m.Responses[cmd.Name+" "+cmd.Args[0]]; ok {
			return resp
		}
	}
	if resp, ok := m.Responses[cmd.Name]; ok {
		return resp
	}
	return m.DefaultResponse
}

func (m *MockExecutor) ExecuteInteractive(ctx context.Context, name string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Commands = append(m.Commands, MockCommand{Name: name, Args: args})
	return m.InteractiveErr
}

func (m *MockExecutor) Start(ctx context.Context, argv []string, opts StartOptions) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	m.Commands = append(m.Commands, MockCommand{Name: argv[0], Args: argv[1:]})

	if m.StartErr != nil {
		return nil, m.StartErr
	}

	var p Process
	if m.StartFunc != nil {
		var err error
		if p, err = m.StartFunc(argv, opts); err != nil {
			return nil, err
		}
	} else {
		m.nextPid++
		p = NewMockProcess(m.nextPid)
	}
	m.Started = append(m.Started, p)
	return p, nil
}

// LastCommand returns the most recently executed command.
func (m *MockExecutor) LastCommand() (MockCommand, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Commands) == 0 {
		return MockCommand{}, false
	}
	return m.Commands[len(m.Commands)-1], true
}

// CommandLines returns every recorded command as a single string.
func (m *MockExecutor) CommandLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, len(m.Commands))
	for i, c := range m.Commands {
		lines[i] = c.String()
	}
	return lines
}

// Reset clears all recorded commands.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = make([]MockCommand, 0)
	m.Started = nil
}

// MockProcess implements Process for testing. Output written with
// WriteLine is readable from Output until Exit is called.
type MockProcess struct {
	pid    int
	output *blockingBuffer
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	exitCode int
	err      error

	// IgnoreTerminate makes Terminate a no-op, simulating a process
	// that does not honour SIGTERM.
	IgnoreTerminate bool

	terminates int
	kills      int
}

// NewMockProcess creates a running MockProcess.
func NewMockProcess(pid int) *MockProcess {
	return &MockProcess{
		pid:    pid,
		output: newBlockingBuffer(),
		done:   make(chan struct{}),
	}
}

// WriteLine appends a line to the process output.
func (p *MockProcess) WriteLine(line string) {
	p.output.Write([]byte(line + "\n"))
}

// Exit ends the process with the given code. Later calls are ignored.
func (p *MockProcess) Exit(code int) {
	p.ExitWithError(code, nil)
}

// ExitWithError ends the process with the given code and wait error.
func (p *MockProcess) ExitWithError(code int, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.err = err
		p.mu.Unlock()
		p.output.Close()
		close(p.done)
	})
}

// Exited reports whether the process has ended.
func (p *MockProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminations returns how many times Terminate was called.
func (p *MockProcess) Terminations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminates
}

// Kills returns how many times Kill was called.
func (p *MockProcess) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

func (p *MockProcess) Pid() int              { return p.pid }
func (p *MockProcess) Output() io.Reader     { return p.output }
func (p *MockProcess) Done() <-chan struct{} { return p.done }

func (p *MockProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Exited() {
		return -1
	}
	return p.exitCode
}

func (p *MockProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *MockProcess) Terminate() error {
	p.mu.Lock()
	p.terminates++
	ignore := p.IgnoreTerminate
	p.mu.Unlock()
	if !ignore {
		p.Exit(143)
	}
	return nil
}

func (p *MockProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.Exit(137)
	return nil
}

// blockingBuffer is a pipe whose writes never block.
type blockingBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newBlockingBuffer() *blockingBuffer {
	b := &blockingBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *blockingBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.buf.Len() == 0 {
		return 0, io.EOF
	}
	return b.buf.Read(p)
}

func (b *blockingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	b.cond.Broadcast()
	return b.buf.Write(p)
}

func (b *blockingBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
