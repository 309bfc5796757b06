package system

import (
	"bufio"
	"context"
	"strings"
	"testing"
	"time"
)

func TestOSExecutor_Execute(t *testing.T) {
	exec := &osExecutor{}

	out, err := exec.Execute(context.Background(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "out" {
		t.Errorf("Execute output = %q, want only stdout", out)
	}

	_, err = exec.Execute(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	if err == nil {
		t.Fatal("Execute should fail on non-zero exit")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q should carry stderr", err)
	}
}

func TestOSExecutor_ExecuteWithStdin(t *testing.T) {
	exec := &osExecutor{}

	out, err := exec.ExecuteWithStdin(context.Background(), "hello", "cat")
	if err != nil {
		t.Fatalf("ExecuteWithStdin error: %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("output = %q, want %q", out, "hello")
	}
}

func TestOSExecutor_StartCapturesOutput(t *testing.T) {
	exec := &osExecutor{}

	p, err := exec.Start(context.Background(), []string{"sh", "-c", "echo ready; exit 4"}, StartOptions{CaptureOutput: true})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	scanner := bufio.NewScanner(p.Output())
	if !scanner.Scan() || scanner.Text() != "ready" {
		t.Fatalf("first line = %q, want ready", scanner.Text())
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if p.ExitCode() != 4 {
		t.Errorf("ExitCode() = %d, want 4", p.ExitCode())
	}
}

func TestOSExecutor_Terminate(t *testing.T) {
	exec := &osExecutor{}

	p, err := exec.Start(context.Background(), []string{"sleep", "30"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !ProcessAlive(p.Pid()) {
		t.Error("ProcessAlive should report a running process")
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate error: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Terminate")
	}
	if p.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d, want -1 for a signalled process", p.ExitCode())
	}

	// Signalling an exited process is a no-op.
	if err := p.Kill(); err != nil {
		t.Errorf("Kill after exit error: %v", err)
	}
}

func TestOSExecutor_StartEmpty(t *testing.T) {
	exec := &osExecutor{}
	if _, err := exec.Start(context.Background(), nil, StartOptions{}); err == nil {
		t.Error("Start with empty argv should fail")
	}
}
