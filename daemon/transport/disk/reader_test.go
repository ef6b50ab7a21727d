package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

func TestReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdisk")
	d, err := Create(path, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Close()

	buf := buffer.New(64)
	buf.AddString("<metrics><metric/></metrics>")
	if err := d.Publish(buf); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != buf.String() {
		t.Errorf("Read returned %q, want %q", got, buf.String())
	}
}

func TestReadSignatureMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notadisk")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Read(path)
	if err != ErrSignatureMismatch {
		t.Fatalf("Read error = %v, want ErrSignatureMismatch", err)
	}
}

func TestReadBusyFlagRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdisk")
	d, err := Create(path, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Close()

	buf := buffer.New(64)
	buf.AddString("<metrics/>")
	if err := d.Publish(buf); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Set busy=1 here and clear it from a goroutine. Depending on
	// scheduling, Read either sees busy=1, sleeps one second and retries,
	// or sees the flag already cleared.
	if err := d.writeBusy(1); err != nil {
		t.Fatalf("writeBusy: %v", err)
	}
	go func() {
		d.writeBusy(0)
	}()

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != buf.String() {
		t.Errorf("Read returned %q, want %q", got, buf.String())
	}
}
