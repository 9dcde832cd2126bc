package permission

import "testing"

func TestDefaultRegistryCatalog(t *testing.T) {
	r := DefaultRegistry()

	bit, ok := r.Bit(NameModerateContent)
	if !ok || bit != BitModerateContent {
		t.Fatalf("expected MODERATE_CONTENT at %d, got %d %v", BitModerateContent, bit, ok)
	}
	if name, ok := r.Name(BitAdministrator); !ok || name != NameAdministrator {
		t.Fatalf("expected administrator bit reserved, got %q", name)
	}

	m, err := r.Mask(NameViewChannel, NameStake)
	if err != nil {
		t.Fatalf("mask: %v", err)
	}
	if m != Of(ViewChannel, Stake) {
		t.Fatalf("unexpected mask %+v", m)
	}
	if _, err := r.Mask("NOT_A_CAPABILITY"); err == nil {
		t.Fatal("expected unknown capability error")
	}

	names := r.Names(Of(SendMessages, Administrator))
	if len(names) != 2 || names[0] != NameSendMessages || names[1] != NameAdministrator {
		t.Fatalf("unexpected names %v", names)
	}
	if _, err := r.Register("LATE"); err == nil {
		t.Fatal("expected frozen registry to reject registration")
	}
}

func TestRegistryAssignment(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAt("A", 0); err != nil {
		t.Fatalf("register at: %v", err)
	}
	bit, err := r.Register("B")
	if err != nil || bit != 1 {
		t.Fatalf("expected next free bit 1, got %d %v", bit, err)
	}
	if err := r.RegisterAt("C", 1); err == nil {
		t.Fatal("expected taken bit rejection")
	}
	if err := r.RegisterAt("D", BitAdministrator); err == nil {
		t.Fatal("expected administrator bit to stay reserved")
	}
	if _, err := r.Register("A"); err == nil {
		t.Fatal("expected duplicate rejection")
	}
	if _, err := r.Register(" "); err == nil {
		t.Fatal("expected empty name rejection")
	}
	if r.Count() != 3 {
		t.Fatalf("expected 3 capabilities, got %d", r.Count())
	}
	if r.Known() != Of(Bit(0), Bit(1), Administrator) {
		t.Fatalf("unexpected known mask %+v", r.Known())
	}
}
