package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestView_EqualByBytes(t *testing.T) {
	tests := []struct {
		name string
		a, b *View
		want bool
	}{
		{"same literal", FromString("main"), FromString("main"), true},
		{"literal and native", FromString("main"), FromBytes([]byte("main"), Borrowed), true},
		{"different bytes", FromString("main"), FromString("Main"), false},
		{"prefix", FromString("ma"), FromString("main"), false},
		{"embedded nul", FromBytes([]byte("a\x00b"), Copied), FromString("a\x00b"), true},
		{"both absent", nil, nil, true},
		{"absent and empty", nil, FromString(""), false},
		{"empty and absent", FromString(""), nil, false},
		{"empty and empty", FromString(""), FromBytes(nil, NativeOwned), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			if tt.want {
				assert.Equal(t, tt.a.Hash(), tt.b.Hash())
			}
		})
	}
}

func TestView_EqualDoesNotDecode(t *testing.T) {
	a := FromBytes([]byte("identifier"), Borrowed)
	b := FromBytes([]byte("identifier"), Copied)

	require.True(t, a.Equal(b))
	_ = a.Hash()

	assert.False(t, a.Decoded())
	assert.False(t, b.Decoded())
}

func TestView_DecodeOnce(t *testing.T) {
	data := []byte("hello")
	v := FromBytes(data, Copied)
	assert.False(t, v.Decoded())

	assert.Equal(t, "hello", v.String())
	assert.True(t, v.Decoded())

	// the cache is not recomputed from the bytes
	data[0] = 'j'
	assert.Equal(t, "hello", v.String())
}

func TestView_FromStringIsNotDecodedYet(t *testing.T) {
	v := FromString("x")
	assert.Equal(t, Literal, v.Provenance())
	assert.False(t, v.Decoded())
	assert.Equal(t, []byte("x"), v.Bytes())
}

func TestView_AbsentAndEmpty(t *testing.T) {
	var absent *View
	empty := FromString("")

	assert.False(t, absent.Present())
	assert.False(t, absent.Empty())
	assert.Equal(t, "", absent.String())
	assert.Equal(t, 0, absent.Len())
	assert.Nil(t, absent.Bytes())

	assert.True(t, empty.Present())
	assert.True(t, empty.Empty())
	assert.Equal(t, "", empty.String())

	assert.NotEqual(t, absent.Hash(), empty.Hash())
}

func TestView_Text(t *testing.T) {
	s, err := FromString("ok").Text()
	require.NoError(t, err)
	assert.Equal(t, "ok", s)

	bad := FromBytes([]byte{0xff, 0xfe}, Copied)
	assert.False(t, bad.Valid())
	_, err = bad.Text()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_utf8")
	assert.Equal(t, "\xff\xfe", bad.String())
}

func TestView_Lines(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a\nb", "a\nb"},
		{"a\r\nb", "a\nb"},
		{"a\n\rb", "a\nb"},
		{"a\rb", "a\nb"},
		{"a\r\n\r\nb\r", "a\n\nb\n"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FromString(tt.in).Lines(), "input %q", tt.in)
	}
}

func TestView_Detach(t *testing.T) {
	native := []byte("borrowed")
	v := FromBytes(native, Borrowed)

	d := v.Detach()
	require.NotSame(t, v, d)
	assert.Equal(t, Copied, d.Provenance())
	assert.True(t, v.Equal(d))

	native[0] = 'X'
	assert.Equal(t, "borrowed", d.String())

	lit := FromString("lit")
	assert.Same(t, lit, lit.Detach())

	var absent *View
	assert.Nil(t, absent.Detach())
}

func TestBuffer_CString(t *testing.T) {
	b := NewBuffer([]byte("abc"), Literal)
	c := b.CString()
	assert.Equal(t, []byte("abc\x00"), c)
	assert.Equal(t, 3, b.Len())

	c[0] = 'z'
	assert.Equal(t, []byte("abc"), b.Bytes())

	assert.Equal(t, []byte{0}, Buffer{}.CString())
}

func TestBuffer_DetachKeepsGoMemory(t *testing.T) {
	b := NewBuffer([]byte("lit"), Literal)
	d := b.Detach()
	assert.Equal(t, Literal, d.Provenance())

	n := NewBuffer([]byte("nat"), NativeOwned).Detach()
	assert.Equal(t, Copied, n.Provenance())
	assert.True(t, n.Equal(NewBuffer([]byte("nat"), Borrowed)))
}

func TestProvenance_String(t *testing.T) {
	assert.Equal(t, "literal", Literal.String())
	assert.Equal(t, "native-owned", NativeOwned.String())
	assert.Equal(t, "borrowed", Borrowed.String())
	assert.Equal(t, "copied", Copied.String())
	assert.True(t, Borrowed.Native())
	assert.False(t, Copied.Native())
}
