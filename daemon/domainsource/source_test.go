package domainsource

import (
	"testing"

	"github.com/digitalocean/go-libvirt"
)

func TestFormatUUID(t *testing.T) {
	var raw libvirt.UUID
	copy(raw[:], []byte{
		0x11, 0x11, 0x11, 0x11,
		0x22, 0x22,
		0x33, 0x33,
		0x44, 0x44,
		0x55, 0x55, 0x55, 0x55, 0x55, 0x55,
	})

	want := "11111111-2222-3333-4444-555555555555"
	if got := formatUUID(raw); got != want {
		t.Fatalf("formatUUID() = %q, want %q", got, want)
	}
}

func TestNewLibvirtSourcePreservesEmptyConnectURI(t *testing.T) {
	s := NewLibvirtSource("")
	if s.ConnectURI != "" {
		t.Fatalf("expected empty ConnectURI to be preserved on the struct, got %q", s.ConnectURI)
	}
}
