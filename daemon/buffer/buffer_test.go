package buffer

import "testing"

func TestAddAndBytes(t *testing.T) {
	b := New(4)
	b.AddString("hello")
	b.AddString(" world")

	if got := b.String(); got != "hello world" {
		t.Errorf("String() = %q, want %q", got, "hello world")
	}
	if b.Len() != len("hello world") {
		t.Errorf("Len() = %d, want %d", b.Len(), len("hello world"))
	}
}

func TestPrintf(t *testing.T) {
	b := New(0)
	b.Printf("<name>%s</name>", "UsedMem")
	if got, want := b.String(), "<name>UsedMem</name>"; got != want {
		t.Errorf("Printf result = %q, want %q", got, want)
	}
}

func TestEraseZeroesPastNewLength(t *testing.T) {
	b := New(0)
	b.AddString("0123456789")
	b.Erase()
	if b.Len() != 0 {
		t.Fatalf("Len() after Erase = %d, want 0", b.Len())
	}
	b.AddString("ab")
	// The backing storage beyond "ab" must not retain the old "23456789".
	full := b.content
	for i := 2; i < len(full); i++ {
		if full[i] != 0 {
			t.Fatalf("byte %d = %q, want zero after erase+short write", i, full[i])
		}
	}
}

func TestChecksum(t *testing.T) {
	b := New(0)
	b.Add([]byte{1, 2, 3, 4})
	if got, want := b.Checksum(), uint32(10); got != want {
		t.Errorf("Checksum() = %d, want %d", got, want)
	}

	if got, want := Checksum([]byte{1, 2, 3, 4}), uint32(10); got != want {
		t.Errorf("Checksum(slice) = %d, want %d", got, want)
	}
}

func TestEmpty(t *testing.T) {
	b := New(16)
	b.AddString("x")
	b.Empty()
	if b.Len() != 0 || b.Cap() != 0 {
		t.Errorf("Empty() left Len=%d Cap=%d, want 0, 0", b.Len(), b.Cap())
	}
}
