package disk

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

// ErrSignatureMismatch is returned when the opened path's header does not
// carry the metrics disk signature, so the guest reader should move on to
// the next /sys/block candidate.
var ErrSignatureMismatch = fmt.Errorf("disk: signature mismatch")

// alignment is the block-alignment size the guest read path rounds its
// buffers up to, per the disk protocol's O_DIRECT requirement.
const alignment = 65536

const maxRaceRetries = 30

// Read performs the guest-side read protocol against path: open
// (best-effort O_DIRECT, falling back to a buffered open when the
// filesystem backing path rejects it, as tmpfs-backed disks do in
// development), spin on the busy flag, and retry if the payload changes
// mid-read. It returns ErrSignatureMismatch immediately rather than
// retrying, since that means path is not a metrics disk at all.
func Read(path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECT, 0)
	if err != nil {
		fd, err = unix.Open(path, unix.O_RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("disk: opening %s: %w", path, err)
		}
	}
	defer unix.Close(fd)

	for attempt := 0; ; attempt++ {
		header := make([]byte, alignment)
		if _, err := unix.Pread(fd, header, 0); err != nil {
			return nil, fmt.Errorf("disk: reading header from %s: %w", path, err)
		}

		sig := binary.BigEndian.Uint32(header[0:4])
		if sig != Signature {
			return nil, ErrSignatureMismatch
		}
		if binary.BigEndian.Uint32(header[4:8]) == 1 {
			time.Sleep(time.Second)
			continue
		}
		sum := binary.BigEndian.Uint32(header[8:12])
		length := binary.BigEndian.Uint32(header[12:16])

		payload, err := readPayload(fd, length)
		if err != nil {
			return nil, fmt.Errorf("disk: reading payload from %s: %w", path, err)
		}

		// re-read the header: a writer racing us may have flipped busy or
		// changed the checksum mid-read, in which case this attempt's
		// payload is torn and must be discarded.
		recheck := make([]byte, alignment)
		if _, err := unix.Pread(fd, recheck, 0); err != nil {
			return nil, fmt.Errorf("disk: re-reading header from %s: %w", path, err)
		}
		if binary.BigEndian.Uint32(recheck[4:8]) == 1 || binary.BigEndian.Uint32(recheck[8:12]) != sum {
			if attempt >= maxRaceRetries {
				return nil, fmt.Errorf("disk: %s did not settle after %d retries", path, maxRaceRetries)
			}
			continue
		}
		if buffer.Checksum(payload) != sum {
			if attempt >= maxRaceRetries {
				return nil, fmt.Errorf("disk: %s checksum mismatch after %d retries", path, maxRaceRetries)
			}
			continue
		}

		return payload, nil
	}
}

// readPayload reads length bytes starting at offset 16, in block-aligned
// chunks sized to cover the header and the full payload.
func readPayload(fd int, length uint32) ([]byte, error) {
	need := HeaderSize + int(length)
	rounded := ((need + alignment - 1) / alignment) * alignment
	buf := make([]byte, rounded)
	n, err := unix.Pread(fd, buf, 0)
	if err != nil {
		return nil, err
	}
	if n < need {
		return nil, fmt.Errorf("short read: got %d bytes, need %d", n, need)
	}
	return buf[HeaderSize:need], nil
}
