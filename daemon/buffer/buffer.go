// Package buffer provides a growable byte buffer used to assemble the XML
// metrics document and the virtio request/response streams without
// reallocating on every tick.
package buffer

import "fmt"

// Buffer is a growable byte buffer. Unlike bytes.Buffer, Erase keeps the
// backing storage around (zeroed) instead of releasing it, so the same
// Buffer can be reused tick after tick without round-tripping through the
// allocator, and so stale payload bytes never leak into a shorter write.
type Buffer struct {
	content []byte
	used    int
}

// New creates a Buffer with at least the given initial capacity.
func New(initialCapacity int) *Buffer {
	if initialCapacity < 0 {
		initialCapacity = 0
	}
	return &Buffer{content: make([]byte, initialCapacity)}
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int { return b.used }

// Cap returns the size of the backing storage.
func (b *Buffer) Cap() int { return len(b.content) }

// Bytes returns the used portion of the buffer. The returned slice aliases
// the buffer's storage and is only valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.content[:b.used] }

// String returns the used portion of the buffer as a string.
func (b *Buffer) String() string { return string(b.content[:b.used]) }

func (b *Buffer) grow(need int) {
	size := b.used + need
	if size <= len(b.content) {
		return
	}
	grown := make([]byte, size)
	copy(grown, b.content[:b.used])
	b.content = grown
}

// Add appends raw bytes to the buffer, growing it if necessary.
func (b *Buffer) Add(p []byte) {
	if len(p) == 0 {
		return
	}
	b.grow(len(p))
	copy(b.content[b.used:], p)
	b.used += len(p)
}

// AddString appends a string to the buffer.
func (b *Buffer) AddString(s string) {
	b.Add([]byte(s))
}

// Printf formats according to fmt and appends the result to the buffer.
// It is the equivalent of the C library's vu_buffer_vsprintf.
func (b *Buffer) Printf(format string, args ...any) {
	b.AddString(fmt.Sprintf(format, args...))
}

// Erase resets the buffer to empty and zeroes the backing storage out to its
// full capacity, so a shorter write never leaves a longer previous payload
// visible past the new length.
func (b *Buffer) Erase() {
	for i := range b.content {
		b.content[i] = 0
	}
	b.used = 0
}

// Empty releases the backing storage entirely.
func (b *Buffer) Empty() {
	b.content = nil
	b.used = 0
}

// Checksum returns the arithmetic sum, modulo 2^32, of every byte in the
// buffer's used region. It matches the disk transport's payload checksum.
func (b *Buffer) Checksum() uint32 {
	var sum uint32
	for _, c := range b.content[:b.used] {
		sum += uint32(c)
	}
	return sum
}

// Checksum computes the same rolling sum directly over a byte slice, for
// callers (like the guest-side disk reader) that never materialize a Buffer.
func Checksum(p []byte) uint32 {
	var sum uint32
	for _, c := range p {
		sum += uint32(c)
	}
	return sum
}
