package cmd

import (
	"os"
	"strings"
	"testing"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/session"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/testutil"
)

func TestGCCommand_Help(t *testing.T) {
	stdout, _, err := executeCommand("gc", "--help")
	if err != nil {
		t.Fatalf("Help command failed: %v", err)
	}

	if !strings.Contains(stdout, "Orphaned") {
		t.Error("GC help should mention orphaned resources")
	}

	if !strings.Contains(stdout, "--force") {
		t.Error("GC help should mention --force flag")
	}
}

func addSidecar(rt *runtime.MockRuntime, id, target string) {
	rt.AddContainer(&runtime.ContainerInfo{
		ID:     id,
		Status: runtime.StatusRunning,
		Labels: map[string]string{
			forward.LabelTarget:     target,
			forward.LabelHostPort:   "8080",
			forward.LabelTargetPort: "80",
			forward.LabelBind:       "127.0.0.1",
		},
	})
}

func setupGC(t *testing.T) *testutil.TestEnv {
	t.Helper()
	env := testutil.NewTestEnv(t)
	t.Cleanup(env.Cleanup)

	ws := env.CreateWorkspace("project")
	env.AddContainer("live-container", ws)
	addSidecar(env.Runtime, "sidecar-live", "live-container")
	addSidecar(env.Runtime, "sidecar-orphan", "gone-container")

	store := env.App.Store()
	for _, rec := range []session.Record{
		{SessionID: "sess-live", ContainerID: "live-container", State: session.StateConnected, OwnerPID: os.Getpid()},
		{SessionID: "sess-stale", ContainerID: "gone-container", State: session.StateConnected, OwnerPID: 0},
	} {
		if err := store.Save(rec); err != nil {
			t.Fatal(err)
		}
	}
	return env
}

func TestGC_DryRun(t *testing.T) {
	env := setupGC(t)

	stdout, _, err := executeCommand("gc")
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}

	if !strings.Contains(stdout, "sidecar-") || !strings.Contains(stdout, "sess-sta") {
		t.Errorf("dry run should list the orphans:\n%s", stdout)
	}
	if strings.Contains(stdout, "sess-liv") {
		t.Errorf("live session must not be listed:\n%s", stdout)
	}
	if _, ok := env.Runtime.Containers["sidecar-orphan"]; !ok {
		t.Error("dry run must not remove sidecars")
	}
}

func TestGC_Force(t *testing.T) {
	env := setupGC(t)

	if _, _, err := executeCommand("gc", "--force"); err != nil {
		t.Fatalf("gc --force failed: %v", err)
	}

	if _, ok := env.Runtime.Containers["sidecar-orphan"]; ok {
		t.Error("orphaned sidecar should be removed")
	}
	if _, ok := env.Runtime.Containers["sidecar-live"]; !ok {
		t.Error("sidecar of a running container must be kept")
	}

	store := env.App.Store()
	if rec, _ := store.Load("gone-container"); rec != nil {
		t.Error("stale session record should be removed")
	}
	if rec, _ := store.Load("live-container"); rec == nil {
		t.Error("live session record must be kept")
	}
}

func TestGC_NothingToDo(t *testing.T) {
	env := testutil.NewTestEnv(t)
	defer env.Cleanup()

	stdout, _, err := executeCommand("gc")
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	if !strings.Contains(stdout, "Nothing to clean up") {
		t.Errorf("output = %q", stdout)
	}
}
