package virtio

import (
	"testing"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

func TestParseDomainDir(t *testing.T) {
	cases := []struct {
		name       string
		wantID     int
		wantDomain string
		wantOK     bool
	}{
		{"domain-1-guest0", 1, "guest0", true},
		{"domain-42-my-vm-name", 42, "my-vm-name", true},
		{"domain-7-", 7, "", true},
		{"not-a-domain-dir", 0, "", false},
		{"domain-notanumber-x", 0, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, name, ok := parseDomainDir(tc.name)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if id != tc.wantID || name != tc.wantDomain {
				t.Fatalf("parseDomainDir(%q) = (%d, %q), want (%d, %q)", tc.name, id, name, tc.wantID, tc.wantDomain)
			}
		})
	}
}

func TestClassifyRequest(t *testing.T) {
	valid := buffer.New(64)
	valid.AddString("GET /metrics/XML\n\n")
	if got := classifyRequest(valid); got != requestValid {
		t.Errorf("LF request classified as %d, want requestValid", got)
	}

	validCRLF := buffer.New(64)
	validCRLF.AddString("GET /metrics/XML\r\n\r\n")
	if got := classifyRequest(validCRLF); got != requestValid {
		t.Errorf("CRLF request classified as %d, want requestValid", got)
	}

	incomplete := buffer.New(64)
	incomplete.AddString("GET /metrics/")
	if got := classifyRequest(incomplete); got != requestIncomplete {
		t.Errorf("partial request classified as %d, want requestIncomplete", got)
	}

	invalid := buffer.New(64)
	invalid.AddString("HELLO\n\n")
	if got := classifyRequest(invalid); got != requestInvalid {
		t.Errorf("garbage request classified as %d, want requestInvalid", got)
	}

	full := buffer.New(requestBufCap)
	for full.Len() < requestBufCap {
		full.AddString("x")
	}
	if got := classifyRequest(full); got != requestInvalid {
		t.Errorf("full buffer without a match classified as %d, want requestInvalid", got)
	}
}
