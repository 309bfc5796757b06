package forward

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
)

var testTarget = Target{ContainerID: "c1", IPAddress: "172.17.0.2", Network: "bridge"}

// occupied returns a prober that reports the given host ports as bound.
func occupied(ports ...int) port.Prober {
	return port.ProbeFunc(func(k port.Key) error {
		for _, p := range ports {
			if k.HostPort == p {
				return fmt.Errorf("bind: address already in use")
			}
		}
		return nil
	})
}

func newTestController(t *testing.T, opts Options) (*Controller, *MemForwarder) {
	t.Helper()
	if opts.Prober == nil {
		opts.Prober = occupied()
	}
	mem := NewMemForwarder()
	return NewController(mem, testTarget, opts), mem
}

func userRequest(spec string) Request {
	s, err := port.ParseSpec(spec)
	if err != nil {
		panic(err)
	}
	return Request{Spec: spec, Alloc: s.Request(52000, 53000, port.DefaultBindAddress)}
}

func TestController_AddScenarioA(t *testing.T) {
	c, mem := newTestController(t, Options{})

	fwds, err := c.Add(context.Background(), []Request{userRequest("3000"), userRequest("8080:3000")})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if len(fwds) != 2 {
		t.Fatalf("Add returned %d forwards, want 2", len(fwds))
	}

	list := c.List(nil)
	if len(list) != 2 {
		t.Fatalf("List() = %d entries, want 2", len(list))
	}
	if list[0].HostPort != 3000 || list[0].TargetPort != 3000 {
		t.Errorf("first = %s, want 3000 -> 3000", list[0])
	}
	if list[1].HostPort != 8080 || list[1].TargetPort != 3000 {
		t.Errorf("second = %s, want 8080 -> 3000", list[1])
	}
	for _, fwd := range list {
		if fwd.Owner != port.OwnerUser {
			t.Errorf("owner = %q, want user", fwd.Owner)
		}
		if !mem.IsOpen(fwd.Key()) {
			t.Errorf("%s registered but not established", fwd)
		}
	}
}

func TestController_AddKeepsRequestOrder(t *testing.T) {
	c, _ := newTestController(t, Options{})
	ports := []string{"9005", "9001", "9003", "9002"}

	var reqs []Request
	for _, p := range ports {
		reqs = append(reqs, userRequest(p))
	}
	if _, err := c.Add(context.Background(), reqs); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	list := c.List(nil)
	for i, p := range ports {
		if got := fmt.Sprint(list[i].HostPort); got != p {
			t.Errorf("List()[%d] = %s, want %s", i, got, p)
		}
	}
}

func TestController_AddRollsBackBatch(t *testing.T) {
	tests := []struct {
		name     string
		prober   port.Prober
		failOn   map[int]error
		wantKind errors.Kind
	}{
		{
			name:     "port bound by another process",
			prober:   occupied(8081),
			wantKind: errors.KindPortInUse,
		},
		{
			name:     "forward setup fails",
			failOn:   map[int]error{8081: fmt.Errorf("sidecar refused")},
			wantKind: errors.KindGeneral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mem := newTestController(t, Options{Prober: tt.prober})
			for p, err := range tt.failOn {
				mem.FailOn[p] = err
			}

			_, err := c.Add(context.Background(), []Request{userRequest("8080"), userRequest("8081"), userRequest("8082")})
			if err == nil {
				t.Fatal("Add should fail")
			}
			if !strings.HasPrefix(err.Error(), "8081:") {
				t.Errorf("error %q should name the failing spec", err)
			}
			if !errors.IsKind(err, tt.wantKind) {
				t.Errorf("error kind = %q, want %q", errors.KindOf(err), tt.wantKind)
			}
			if n := len(c.List(nil)); n != 0 {
				t.Errorf("registry has %d entries after rollback, want 0", n)
			}
			if open := mem.Open(); len(open) != 0 {
				t.Errorf("forwards still open after rollback: %v", open)
			}
		})
	}
}

func TestController_AddDuplicatePortInUse(t *testing.T) {
	c, _ := newTestController(t, Options{})
	ctx := context.Background()

	if _, err := c.Add(ctx, []Request{userRequest("3000")}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	before := c.List(nil)

	_, err := c.Add(ctx, []Request{userRequest("3000:4000")})
	if !errors.IsKind(err, errors.KindPortInUse) {
		t.Fatalf("Add duplicate error = %v, want PortInUse", err)
	}
	if after := c.List(nil); len(after) != len(before) || after[0].TargetPort != 3000 {
		t.Errorf("registry changed after failed add: %v", after)
	}

	// The same port on another protocol is a different socket.
	if _, err := c.Add(ctx, []Request{userRequest("3000/udp")}); err != nil {
		t.Errorf("Add 3000/udp error: %v", err)
	}
}

func TestController_AddAutoAllocates(t *testing.T) {
	c, _ := newTestController(t, Options{Prober: occupied(52000)})

	fwds, err := c.Add(context.Background(), []Request{userRequest(":9000")})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if fwds[0].HostPort != 52001 || fwds[0].TargetPort != 9000 {
		t.Errorf("forward = %s, want 52001 -> 9000", fwds[0])
	}
}

func TestController_RemoveNotFound(t *testing.T) {
	c, _ := newTestController(t, Options{})
	ctx := context.Background()
	c.Add(ctx, []Request{userRequest("3000")})

	_, err := c.Remove(ctx, []int{3000, 4000})
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("Remove error = %v, want NotFound", err)
	}
	if n := len(c.List(nil)); n != 1 {
		t.Errorf("registry has %d entries, want 1 (unchanged)", n)
	}
}

func TestController_RemoveDuplicateSelectors(t *testing.T) {
	c, mem := newTestController(t, Options{})
	ctx := context.Background()
	c.Add(ctx, []Request{userRequest("3000"), userRequest("4000")})

	removed, err := c.Remove(ctx, []int{3000, 3000})
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("removed %d forwards, want 1", len(removed))
	}
	if list := c.List(nil); len(list) != 1 || list[0].HostPort != 4000 {
		t.Errorf("List() = %v, want only port 4000", list)
	}
	if len(mem.Open()) != 1 {
		t.Errorf("open forwards = %d, want 1", len(mem.Open()))
	}
}

func TestController_RemoveMatchesAllProtocols(t *testing.T) {
	c, mem := newTestController(t, Options{})
	ctx := context.Background()
	c.Add(ctx, []Request{userRequest("5353"), userRequest("5353/udp"), userRequest("80")})

	removed, err := c.Remove(ctx, []int{5353})
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %d forwards, want 2", len(removed))
	}
	if list := c.List(nil); len(list) != 1 || list[0].HostPort != 80 {
		t.Errorf("List() = %v, want only port 80", list)
	}
	if len(mem.Open()) != 1 {
		t.Errorf("open forwards = %d, want 1", len(mem.Open()))
	}
}

func sessionRequest(sessionID string, hostPort int) Request {
	return Request{
		Alloc:     port.Explicit(hostPort, 54321, port.TCP, port.DefaultBindAddress),
		Owner:     port.OwnerSession,
		SessionID: sessionID,
	}
}

func TestController_SessionOwned(t *testing.T) {
	live := map[string]bool{"s1": true}
	c, _ := newTestController(t, Options{
		Sessions: SessionCheckerFunc(func(id string) bool { return live[id] }),
	})
	ctx := context.Background()

	if _, err := c.Add(ctx, []Request{sessionRequest("s1", 52000), userRequest("3000")}); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	_, err := c.Remove(ctx, []int{3000, 52000})
	if !errors.IsKind(err, errors.KindSessionOwned) {
		t.Fatalf("Remove error = %v, want SessionOwned", err)
	}
	if n := len(c.List(nil)); n != 2 {
		t.Errorf("registry has %d entries, want 2 (nothing removed)", n)
	}

	live["s1"] = false
	if _, err := c.Remove(ctx, []int{52000}); err != nil {
		t.Errorf("Remove after session ended error: %v", err)
	}
}

func TestController_RemoveAllIdempotent(t *testing.T) {
	c, mem := newTestController(t, Options{
		Sessions: SessionCheckerFunc(func(id string) bool { return id == "live" }),
	})
	ctx := context.Background()
	c.Add(ctx, []Request{userRequest("3000"), userRequest("3001"), sessionRequest("live", 52000), sessionRequest("dead", 52001)})

	removed, skipped, err := c.RemoveAll(ctx)
	if err != nil {
		t.Fatalf("first RemoveAll error: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("removed = %d, want 3", len(removed))
	}
	if len(skipped) != 1 || skipped[0].SessionID != "live" {
		t.Errorf("skipped = %v, want the live session forward", skipped)
	}

	removed, _, err = c.RemoveAll(ctx)
	if err != nil {
		t.Fatalf("second RemoveAll error: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("second RemoveAll removed %d, want 0", len(removed))
	}
	if len(mem.Open()) != 1 {
		t.Errorf("open forwards = %d, want 1", len(mem.Open()))
	}
}

func TestController_ReleaseSession(t *testing.T) {
	c, _ := newTestController(t, Options{})
	ctx := context.Background()
	c.Add(ctx, []Request{sessionRequest("s1", 52000), sessionRequest("s2", 52001), userRequest("3000")})

	released, err := c.ReleaseSession(ctx, "s1")
	if err != nil {
		t.Fatalf("ReleaseSession error: %v", err)
	}
	if len(released) != 1 || released[0].HostPort != 52000 {
		t.Errorf("released = %v", released)
	}
	if n := len(c.List(nil)); n != 2 {
		t.Errorf("remaining = %d, want 2", n)
	}
}

func TestController_TeardownFailureKeepsEntry(t *testing.T) {
	c, mem := newTestController(t, Options{})
	ctx := context.Background()
	c.Add(ctx, []Request{userRequest("3000")})

	mem.CloseErr = fmt.Errorf("docker daemon unavailable")
	if _, err := c.Remove(ctx, []int{3000}); err == nil {
		t.Fatal("Remove should report teardown failure")
	}
	if n := len(c.List(nil)); n != 1 {
		t.Errorf("registry has %d entries, want 1: the forward is still up", n)
	}
}

func TestController_Binder(t *testing.T) {
	c, mem := newTestController(t, Options{})
	var bound []port.PortForward
	closed := false
	req := sessionRequest("s1", 52010)
	req.Label = "clipboard"
	req.Binder = BinderFunc(func(ctx context.Context, fwd port.PortForward) (io.Closer, error) {
		bound = append(bound, fwd)
		return closerFunc(func() error { closed = true; return nil }), nil
	})

	if _, err := c.Add(context.Background(), []Request{req}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if len(bound) != 1 || bound[0].Label != "clipboard" {
		t.Errorf("binder saw %v", bound)
	}
	if starts, _ := mem.Stats(); starts != 0 {
		t.Errorf("forwarder started %d times, want 0 when a binder is set", starts)
	}

	c.ReleaseSession(context.Background(), "s1")
	if !closed {
		t.Error("binder handle was not closed on release")
	}
}

func TestController_Sync(t *testing.T) {
	mem := NewMemForwarder()
	mem.Persisted = []port.PortForward{
		{HostPort: 3000, TargetPort: 3000, Protocol: port.TCP, BindAddress: "127.0.0.1", Owner: port.OwnerUser},
	}
	c := NewController(mem, testTarget, Options{Prober: occupied()})
	ctx := context.Background()

	if err := c.Sync(ctx); err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if n := len(c.List(nil)); n != 1 {
		t.Fatalf("List() = %d entries after sync, want 1", n)
	}

	if _, err := c.Add(ctx, []Request{userRequest("3000")}); !errors.IsKind(err, errors.KindPortInUse) {
		t.Errorf("Add of a synced port error = %v, want PortInUse", err)
	}

	if _, err := c.Remove(ctx, []int{3000}); err != nil {
		t.Errorf("Remove synced forward error: %v", err)
	}
	if mem.IsOpen(port.Key{HostPort: 3000, Protocol: port.TCP, BindAddress: "127.0.0.1"}) {
		t.Error("synced forward should be torn down through its handle")
	}
}

func TestController_Observer(t *testing.T) {
	var actions []Action
	c, _ := newTestController(t, Options{
		Observer: func(a Action, fwd port.PortForward) { actions = append(actions, a) },
	})
	ctx := context.Background()

	c.Add(ctx, []Request{userRequest("3000")})
	c.Add(ctx, []Request{userRequest("3001"), userRequest("3001")})
	c.Remove(ctx, []int{3000})

	want := []Action{ActionAdd, ActionRemove}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("actions[%d] = %q, want %q", i, actions[i], want[i])
		}
	}
}

func TestController_ListFilter(t *testing.T) {
	c, _ := newTestController(t, Options{})
	ctx := context.Background()
	c.Add(ctx, []Request{userRequest("3000"), sessionRequest("s1", 52000)})

	sessions := c.List(func(f port.PortForward) bool { return f.Owner == port.OwnerSession })
	if len(sessions) != 1 || sessions[0].HostPort != 52000 {
		t.Errorf("filtered list = %v", sessions)
	}
}

func TestRequestName(t *testing.T) {
	if got := (Request{Alloc: port.Explicit(80, 8080, port.TCP, "")}).name(); got != "80:8080" {
		t.Errorf("name() = %q", got)
	}
	if got := (Request{Alloc: port.AnyInRange(1, 2, 9000, port.TCP, "")}).name(); got != ":9000" {
		t.Errorf("name() = %q", got)
	}
}

func TestController_RemoveKey(t *testing.T) {
	c, mem := newTestController(t, Options{})
	ctx := context.Background()

	if _, err := c.Add(ctx, []Request{userRequest("3000"), userRequest("3000/udp")}); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	key := port.Key{HostPort: 3000, Protocol: port.UDP, BindAddress: port.DefaultBindAddress}
	fwd, err := c.RemoveKey(ctx, key)
	if err != nil {
		t.Fatalf("RemoveKey error: %v", err)
	}
	if fwd.Protocol != port.UDP {
		t.Errorf("removed %s, want the udp forward", fwd)
	}
	if mem.IsOpen(key) {
		t.Error("udp forward should be closed")
	}

	list := c.List(nil)
	if len(list) != 1 || list[0].Protocol != port.TCP {
		t.Errorf("List() = %v, want only the tcp forward", list)
	}

	if _, err := c.RemoveKey(ctx, key); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("second RemoveKey error = %v, want not-found", err)
	}
}
