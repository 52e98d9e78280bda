package text

import "bytes"

// Provenance records where the bytes of a Buffer live and who may free them.
type Provenance uint8

const (
	// Literal bytes are caller constant data in Go memory.
	Literal Provenance = iota
	// NativeOwned bytes were allocated by the native library and must be
	// copied before the native deallocator runs.
	NativeOwned
	// Borrowed bytes are a window into memory owned by a native object.
	// They are valid only until that object is mutated or released.
	Borrowed
	// Copied bytes are a Go-managed copy of native bytes.
	Copied
)

func (p Provenance) String() string {
	switch p {
	case Literal:
		return "literal"
	case NativeOwned:
		return "native-owned"
	case Borrowed:
		return "borrowed"
	case Copied:
		return "copied"
	default:
		return "unknown"
	}
}

// Native reports whether the bytes live in native memory.
func (p Provenance) Native() bool {
	return p == NativeOwned || p == Borrowed
}

// Buffer is an immutable byte sequence with an explicit length. Embedded NUL
// bytes are allowed and a trailing terminator is never part of the content.
// The zero Buffer is empty Literal data.
type Buffer struct {
	data []byte
	prov Provenance
}

// NewBuffer wraps data without copying.
func NewBuffer(data []byte, prov Provenance) Buffer {
	return Buffer{data: data[:len(data):len(data)], prov: prov}
}

// Bytes returns the content. The slice must not be modified; for Borrowed
// and NativeOwned buffers it aliases native memory.
func (b Buffer) Bytes() []byte {
	return b.data
}

// Len returns the content length in bytes.
func (b Buffer) Len() int {
	return len(b.data)
}

// Provenance returns where the bytes live.
func (b Buffer) Provenance() Provenance {
	return b.prov
}

// Detach returns a buffer whose bytes live in Go memory. Buffers already in
// Go memory are returned unchanged.
func (b Buffer) Detach() Buffer {
	if !b.prov.Native() {
		return b
	}
	return Buffer{data: bytes.Clone(b.data), prov: Copied}
}

// CString returns a fresh copy of the content followed by exactly one NUL.
func (b Buffer) CString() []byte {
	out := make([]byte, len(b.data)+1)
	copy(out, b.data)
	return out
}

// Equal reports whether two buffers hold the same bytes, regardless of
// provenance.
func (b Buffer) Equal(o Buffer) bool {
	return bytes.Equal(b.data, o.data)
}
