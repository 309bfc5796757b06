package port

import (
	"testing"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
)

func fwd(host, target int) PortForward {
	return PortForward{
		HostPort:    host,
		TargetPort:  target,
		Protocol:    TCP,
		BindAddress: DefaultBindAddress,
		Owner:       OwnerUser,
	}
}

func TestRegistry_InsertPreservesOrder(t *testing.T) {
	r := NewRegistry()

	ports := []int{8080, 3000, 9000, 1234}
	for _, p := range ports {
		if err := r.Insert(fwd(p, p)); err != nil {
			t.Fatalf("Insert(%d) failed: %v", p, err)
		}
	}

	list := r.List()
	if len(list) != len(ports) {
		t.Fatalf("List() has %d entries, want %d", len(list), len(ports))
	}
	for i, p := range ports {
		if list[i].HostPort != p {
			t.Errorf("List()[%d].HostPort = %d, want %d", i, list[i].HostPort, p)
		}
	}
}

func TestRegistry_InsertConflict(t *testing.T) {
	r := NewRegistry()
	if err := r.Insert(fwd(8080, 3000)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := r.Insert(fwd(8080, 4000))
	if !errors.IsKind(err, errors.KindConflict) {
		t.Fatalf("Insert duplicate error = %v, want Conflict", err)
	}

	got, _ := r.Find(8080, TCP, DefaultBindAddress)
	if got.TargetPort != 3000 {
		t.Errorf("existing entry overwritten: TargetPort = %d, want 3000", got.TargetPort)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_SamePortDifferentSocket(t *testing.T) {
	r := NewRegistry()

	udp := fwd(5353, 53)
	udp.Protocol = UDP
	wildcard := fwd(5353, 53)
	wildcard.BindAddress = "0.0.0.0"

	for _, f := range []PortForward{fwd(5353, 53), udp, wildcard} {
		if err := r.Insert(f); err != nil {
			t.Errorf("Insert(%s) failed: %v", f.Key(), err)
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	_ = r.Insert(fwd(3000, 3000))
	_ = r.Insert(fwd(8080, 3000))

	if err := r.Remove(3000, TCP, DefaultBindAddress); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, ok := r.Find(3000, TCP, DefaultBindAddress); ok {
		t.Error("Find should not return a removed forward")
	}
	if list := r.List(); len(list) != 1 || list[0].HostPort != 8080 {
		t.Errorf("List() = %v, want only 8080", list)
	}
}

func TestRegistry_RemoveNotFound(t *testing.T) {
	r := NewRegistry()
	_ = r.Insert(fwd(3000, 3000))

	tests := []struct {
		name  string
		port  int
		proto Protocol
		bind  string
	}{
		{"unknown port", 4000, TCP, DefaultBindAddress},
		{"other protocol", 3000, UDP, DefaultBindAddress},
		{"other bind", 3000, TCP, "0.0.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Remove(tt.port, tt.proto, tt.bind)
			if !errors.IsKind(err, errors.KindNotFound) {
				t.Errorf("Remove error = %v, want NotFound", err)
			}
			if r.Len() != 1 {
				t.Errorf("Len() = %d, want 1", r.Len())
			}
		})
	}
}

func TestRegistry_ListIsCopy(t *testing.T) {
	r := NewRegistry()
	_ = r.Insert(fwd(3000, 3000))

	list := r.List()
	list[0].HostPort = 1

	if _, ok := r.Find(3000, TCP, DefaultBindAddress); !ok {
		t.Error("mutating List() result should not affect the registry")
	}
}
