package forward

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

func TestSocatForwarder_StartAndActive(t *testing.T) {
	rt := runtime.NewMockRuntime()
	s := NewSocatForwarder(rt, "")
	ctx := context.Background()

	fwd := port.PortForward{
		HostPort:    8080,
		TargetPort:  3000,
		Protocol:    port.TCP,
		BindAddress: "127.0.0.1",
		Owner:       port.OwnerSession,
		SessionID:   "s1",
		Label:       "nvim",
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	handle, err := s.Start(ctx, testTarget, fwd)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	calls := rt.GetCallsFor("RunDetached")
	if len(calls) != 1 {
		t.Fatalf("RunDetached calls = %d, want 1", len(calls))
	}
	opts := calls[0].Args[0].(runtime.RunOptions)
	if opts.Image != "alpine/socat" || opts.Network != "bridge" || !opts.Remove {
		t.Errorf("run options = %+v", opts)
	}
	if opts.Ports[0].String() != "127.0.0.1:8080:1234" {
		t.Errorf("port binding = %s", opts.Ports[0])
	}
	if got := strings.Join(opts.Command, " "); got != "TCP-LISTEN:1234,fork,reuseaddr TCP-CONNECT:172.17.0.2:3000" {
		t.Errorf("socat args = %q", got)
	}

	active, err := s.Active(ctx, testTarget)
	if err != nil {
		t.Fatalf("Active error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Active = %d, want 1", len(active))
	}
	got := active[0].Forward
	if got.Key() != fwd.Key() || got.TargetPort != 3000 || got.Owner != port.OwnerSession ||
		got.SessionID != "s1" || got.Label != "nvim" || !got.CreatedAt.Equal(fwd.CreatedAt) {
		t.Errorf("rebuilt forward = %+v, want %+v", got, fwd)
	}

	if other, _ := s.Active(ctx, Target{ContainerID: "c2"}); len(other) != 0 {
		t.Errorf("sidecars of another container leaked: %v", other)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if active, _ := s.Active(ctx, testTarget); len(active) != 0 {
		t.Errorf("Active after Close = %d, want 0", len(active))
	}
}

func TestSocatForwarder_UDP(t *testing.T) {
	args := socatArgs(testTarget, port.PortForward{TargetPort: 53, Protocol: port.UDP})
	if args[0] != "UDP-LISTEN:1234,fork,reuseaddr" || args[1] != "UDP:172.17.0.2:53" {
		t.Errorf("udp args = %v", args)
	}
}

func TestSocatForwarder_NoIP(t *testing.T) {
	s := NewSocatForwarder(runtime.NewMockRuntime(), "")
	if _, err := s.Start(context.Background(), Target{ContainerID: "c1"}, port.PortForward{HostPort: 1, TargetPort: 1}); err == nil {
		t.Error("Start without a container IP should fail")
	}
}

func TestSidecarName(t *testing.T) {
	target := Target{ContainerID: "0123456789abcdef"}
	got := sidecarName(target, port.PortForward{HostPort: 80, Protocol: port.TCP, BindAddress: "::1"})
	if got != "berth-0123456789ab-__1-tcp-80" {
		t.Errorf("sidecarName = %q", got)
	}
}

func TestForwardFromLabels_Invalid(t *testing.T) {
	tests := []map[string]string{
		{LabelHostPort: "x", LabelTargetPort: "80"},
		{LabelHostPort: "80", LabelTargetPort: "0"},
		{LabelHostPort: "80", LabelTargetPort: "80", LabelProtocol: "sctp"},
	}
	for _, labels := range tests {
		if _, err := forwardFromLabels(labels); err == nil {
			t.Errorf("forwardFromLabels(%v) should fail", labels)
		}
	}

	fwd, err := forwardFromLabels(map[string]string{LabelHostPort: "80", LabelTargetPort: "8080"})
	if err != nil {
		t.Fatalf("forwardFromLabels error: %v", err)
	}
	if fwd.BindAddress != port.DefaultBindAddress || fwd.Owner != port.OwnerUser || fwd.Protocol != port.TCP {
		t.Errorf("defaults not applied: %+v", fwd)
	}
}

func TestController_SyncWithSocat(t *testing.T) {
	rt := runtime.NewMockRuntime()
	ctx := context.Background()

	first := NewController(NewSocatForwarder(rt, ""), testTarget, Options{Prober: occupied()})
	if _, err := first.Add(ctx, []Request{userRequest("3000"), userRequest("8080:3000")}); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	// A second invocation sees the same forwards.
	second := NewController(NewSocatForwarder(rt, ""), testTarget, Options{Prober: occupied()})
	if err := second.Sync(ctx); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if n := len(second.List(nil)); n != 2 {
		t.Fatalf("synced %d forwards, want 2", n)
	}

	if _, _, err := second.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll error: %v", err)
	}
	if left, _ := rt.List(ctx, map[string]string{LabelTarget: "c1"}); len(left) != 0 {
		t.Errorf("%d sidecars left after RemoveAll", len(left))
	}
}
