// Package disk implements the metrics block device transport: a raw file
// (or real block device, on the guest side) carrying a fixed 16-byte header
// and an XML payload, written and read without locks via a busy-flag and
// checksum retry discipline.
package disk

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

// Signature is the magic value identifying a metrics disk header ("mvbd").
const Signature uint32 = 0x6d766264

// HeaderSize is the fixed size of the disk header in bytes.
const HeaderSize = 16

const zeroChunkSize = 1024

// Disk is an open metrics block file on the publisher side.
type Disk struct {
	f    *os.File
	size int64
}

// Create creates (or truncates) the metrics disk file at path with the
// given total size, writing a header with signature 0 and the busy flag
// set, and zero-filling the payload region. Any failure here is fatal to daemon startup.
func Create(path string, size int64) (*Disk, error) {
	if err := os.MkdirAll(dirOf(path), 0o700); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("creating metrics disk directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating metrics disk %s: %w", path, err)
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], 0)
	binary.BigEndian.PutUint32(header[4:8], 1)
	binary.BigEndian.PutUint32(header[8:12], 0)
	binary.BigEndian.PutUint32(header[12:16], 0)
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing initial header to %s: %w", path, err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing metrics disk %s to %d bytes: %w", path, size, err)
	}

	if err := zeroFill(f, HeaderSize, size-HeaderSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("zero-filling metrics disk %s: %w", path, err)
	}

	return &Disk{f: f, size: size}, nil
}

func zeroFill(f *os.File, offset, length int64) error {
	chunk := make([]byte, zeroChunkSize)
	for remaining := length; remaining > 0; {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		if _, err := f.WriteAt(chunk[:n], offset); err != nil {
			return err
		}
		offset += n
		remaining -= n
	}
	return nil
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return "."
	}
	return path[:i]
}

// Publish writes buf's contents into the disk's payload region under the
// busy-flag protocol: busy=1, rewrite sig/sum/length, write the payload,
// busy=0. It rejects payloads too large for the disk.
func (d *Disk) Publish(buf *buffer.Buffer) error {
	if int64(buf.Len()) > d.size-HeaderSize {
		return fmt.Errorf("metrics document (%d bytes) exceeds disk capacity (%d bytes)", buf.Len(), d.size-HeaderSize)
	}

	if err := d.writeBusy(1); err != nil {
		return err
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], Signature)
	binary.BigEndian.PutUint32(header[4:8], 1)
	binary.BigEndian.PutUint32(header[8:12], buf.Checksum())
	binary.BigEndian.PutUint32(header[12:16], uint32(buf.Len()))
	if _, err := d.f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("writing disk header: %w", err)
	}

	if _, err := d.f.WriteAt(buf.Bytes(), HeaderSize); err != nil {
		return fmt.Errorf("writing disk payload: %w", err)
	}

	return d.writeBusy(0)
}

func (d *Disk) writeBusy(busy uint32) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, busy)
	if _, err := d.f.WriteAt(b, 4); err != nil {
		return fmt.Errorf("writing busy flag: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (d *Disk) Close() error {
	return d.f.Close()
}
