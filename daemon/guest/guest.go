// Package guest implements the reader side of the three metrics
// transports: the raw disk, the virtio channel, and the KV store. It is
// the library behind the vm-dump-metrics CLI.
package guest

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/vhostmd/vhostmd-go/daemon/transport/disk"
	"github.com/vhostmd/vhostmd-go/daemon/transport/kv"
)

// DefaultVirtioDevice is the guest-visible path for the virtio serial
// channel, matching the host daemon's default channel name.
const DefaultVirtioDevice = "/dev/virtio-ports/org.github.vhostmd.1"

const (
	virtioWriteTimeout = 5 * time.Second
	virtioReadCap      = 16 * 1024 * 1024
)

// DumpDisk scans /sys/block for the metrics disk signature and returns the
// XML payload of whichever candidate carries it.
func DumpDisk() ([]byte, error) {
	candidates, err := disk.Candidates()
	if err != nil {
		return nil, fmt.Errorf("guest: listing /sys/block: %w", err)
	}

	var lastErr error
	for _, path := range candidates {
		payload, err := disk.Read(path)
		if err == nil {
			return payload, nil
		}
		if err != disk.ErrSignatureMismatch {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("guest: no metrics disk found: %w", lastErr)
	}
	return nil, fmt.Errorf("guest: no metrics disk found among %d /sys/block candidates", len(candidates))
}

// DumpVirtio opens dev (DefaultVirtioDevice if empty), sends the GET
// request, and returns the payload up to the "\n\n" terminator or the 16
// MiB cap, whichever comes first.
func DumpVirtio(dev string) ([]byte, error) {
	if dev == "" {
		dev = DefaultVirtioDevice
	}

	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("guest: opening %s: %w", dev, err)
	}
	defer f.Close()

	if err := f.SetWriteDeadline(time.Now().Add(virtioWriteTimeout)); err != nil {
		return nil, fmt.Errorf("guest: setting write deadline on %s: %w", dev, err)
	}
	if _, err := f.Write([]byte("GET /metrics/XML\n\n")); err != nil {
		return nil, fmt.Errorf("guest: writing request to %s: %w", dev, err)
	}

	return readUntilTerminator(f, "\n\n", virtioReadCap)
}

// deadlineReader is the minimal surface readUntilTerminator needs;
// *os.File satisfies it directly, and a net.Conn
// (used by tests standing in for a real virtio character device) does too.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

var _ deadlineReader = (*os.File)(nil)
var _ deadlineReader = (net.Conn)(nil)

func readUntilTerminator(r deadlineReader, terminator string, maxLen int) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for len(buf) < maxLen {
		if err := r.SetReadDeadline(time.Now().Add(virtioWriteTimeout)); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := indexOfTerminator(buf, terminator); idx >= 0 {
				return buf[:idx], nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return nil, err
		}
	}
	return nil, fmt.Errorf("guest: response exceeded %d byte cap without a terminator", maxLen)
}

func indexOfTerminator(buf []byte, terminator string) int {
	n := len(terminator)
	for i := 0; i+n <= len(buf); i++ {
		if string(buf[i:i+n]) == terminator {
			return i
		}
	}
	return -1
}

// DumpKV reads the domain's metrics entry from store. domain identifies
// the caller's own domain key in the KV tree; callers without one
// available fall back to the local hostname, matching how a guest's own
// xenstore subtree is scoped without needing an explicit id on the CLI.
func DumpKV(ctx context.Context, store kv.Store, domain string) ([]byte, error) {
	if domain == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("guest: resolving local domain key: %w", err)
		}
		domain = host
	}
	return store.ReadMetrics(ctx, domain)
}

// Source selects how Dump resolves a payload when the caller hasn't
// forced one.
type Source int

const (
	// SourceAuto tries disk, then virtio, then KV, returning the first
	// that succeeds.
	SourceAuto Source = iota
	SourceDisk
	SourceVirtio
	SourceKV
)

// Dump resolves the metrics document from src; SourceAuto tries disk,
// virtio, then kv in order and reports whichever succeeded first.
func Dump(ctx context.Context, src Source, virtioDev string, store kv.Store, kvDomain string) ([]byte, error) {
	switch src {
	case SourceDisk:
		return DumpDisk()
	case SourceVirtio:
		return DumpVirtio(virtioDev)
	case SourceKV:
		if store == nil {
			return nil, fmt.Errorf("guest: kv source selected but no kv store is configured")
		}
		return DumpKV(ctx, store, kvDomain)
	}

	if payload, err := DumpDisk(); err == nil {
		return payload, nil
	}
	if payload, err := DumpVirtio(virtioDev); err == nil {
		return payload, nil
	}
	if store != nil {
		if payload, err := DumpKV(ctx, store, kvDomain); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("guest: no metrics source available (tried disk, virtio, kv)")
}
