package text

import (
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/wippyai/llvm-ffi/errors"
)

// View is text that crosses the boundary in its encoded form and is decoded
// only when a caller asks for it. Equality and hashing look at the bytes and
// never decode.
//
// A nil *View means absent; a View of length zero is present and empty.
// A View must not be copied after first use.
type View struct {
	buf     Buffer
	once    sync.Once
	decoded atomic.Bool
	text    string
}

// FromString encodes s eagerly as Literal UTF-8.
func FromString(s string) *View {
	return &View{buf: Buffer{data: []byte(s), prov: Literal}}
}

// FromBytes wraps b without copying and defers decoding.
func FromBytes(b []byte, prov Provenance) *View {
	return &View{buf: NewBuffer(b, prov)}
}

// Wrap wraps an existing buffer.
func Wrap(buf Buffer) *View {
	return &View{buf: buf}
}

// Present reports whether v holds a value.
func (v *View) Present() bool {
	return v != nil
}

// Empty reports whether v is present with zero length.
func (v *View) Empty() bool {
	return v != nil && v.buf.Len() == 0
}

// String decodes the bytes on first use and caches the result. An absent
// view decodes to the empty string; use Present to tell the two apart.
// Invalid UTF-8 is kept byte for byte; use Text to reject it.
func (v *View) String() string {
	if v == nil {
		return ""
	}
	v.once.Do(func() {
		v.text = string(v.buf.data)
		v.decoded.Store(true)
	})
	return v.text
}

// Text decodes like String but rejects bytes that are not valid UTF-8.
func (v *View) Text() (string, error) {
	if v == nil {
		return "", nil
	}
	if !utf8.Valid(v.buf.data) {
		return "", errors.InvalidUTF8(errors.PhaseUnmarshal, v.buf.data)
	}
	return v.String(), nil
}

// Decoded reports whether the text has been decoded and cached.
func (v *View) Decoded() bool {
	return v != nil && v.decoded.Load()
}

// Valid reports whether the bytes are valid UTF-8.
func (v *View) Valid() bool {
	return v == nil || utf8.Valid(v.buf.data)
}

// Bytes returns the encoded content. See Buffer.Bytes.
func (v *View) Bytes() []byte {
	if v == nil {
		return nil
	}
	return v.buf.data
}

// Buffer returns the underlying buffer.
func (v *View) Buffer() Buffer {
	if v == nil {
		return Buffer{}
	}
	return v.buf
}

// Len returns the encoded length in bytes.
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return v.buf.Len()
}

// Provenance returns where the bytes live.
func (v *View) Provenance() Provenance {
	if v == nil {
		return Literal
	}
	return v.buf.prov
}

// Detach returns a view whose bytes live in Go memory. Views already in Go
// memory are returned as is.
func (v *View) Detach() *View {
	if v == nil || !v.buf.prov.Native() {
		return v
	}
	return Wrap(v.buf.Detach())
}

// Equal reports byte equality. Two absent views are equal; absent and empty
// are not.
func (v *View) Equal(o *View) bool {
	return Equal(v, o)
}

// Hash returns a hash of the encoded bytes consistent with Equal.
func (v *View) Hash() uint64 {
	if v == nil {
		return 0
	}
	return xxhash.Sum64(v.buf.data)
}

// Lines returns the decoded text with "\r\n", "\n\r" and lone "\r" line
// endings collapsed to "\n". Native diagnostics mix all three.
func (v *View) Lines() string {
	s := v.String()
	if strings.IndexByte(s, '\r') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '\n' && i+1 < len(s) && s[i+1] == '\r':
			i++
			b.WriteByte('\n')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Equal reports whether a and b hold the same bytes. Two nil views are
// equal; a nil view never equals a present one.
func Equal(a, b *View) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	return a.buf.Equal(b.buf)
}
