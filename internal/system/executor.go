package system

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// osExecutor implements CommandExecutor using real OS operations.
type osExecutor struct{}

func (e *osExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	return e.run(ctx, nil, name, args...)
}

func (e *osExecutor) ExecuteWithStdin(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	return e.run(ctx, strings.NewReader(stdin), name, args...)
}

func (e *osExecutor) run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.Bytes(), err
		}
		return stdout.Bytes(), fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}

func (e *osExecutor) ExecuteInteractive(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (e *osExecutor) Start(ctx context.Context, argv []string, opts StartOptions) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	if opts.Detach {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	// An os.Pipe rather than cmd.StdoutPipe: Wait must not close the
	// read side before the consumer has drained it.
	var pr, pw *os.File
	if opts.CaptureOutput {
		var err error
		pr, pw, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create output pipe: %w", err)
		}
		cmd.Stdout = pw
	}

	if err := cmd.Start(); err != nil {
		if pw != nil {
			pw.Close()
			pr.Close()
		}
		return nil, err
	}
	if pw != nil {
		pw.Close()
	}

	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	if pr != nil {
		p.output = pr
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// osProcess wraps a started exec.Cmd.
type osProcess struct {
	cmd    *exec.Cmd
	output io.Reader
	done   chan struct{}
	err    error
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Output() io.Reader {
	return p.output
}

func (p *osProcess) Done() <-chan struct{} {
	return p.done
}

func (p *osProcess) ExitCode() int {
	select {
	case <-p.done:
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

func (p *osProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *osProcess) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	return p.signal(syscall.SIGKILL)
}

func (p *osProcess) signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
