package marshal

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/text"
)

// ReleaseFunc frees a native string with the deallocator its routine names.
type ReleaseFunc func(ctx context.Context, addr llvmffi.Addr) error

const scanChunk = 256

// Borrowed returns a zero-copy view of length bytes at addr. The view is
// valid only while the native object owning the bytes is unchanged; call
// Detach to keep it longer. Nothing is ever released. A null addr is absent.
func Borrowed(mem llvmffi.Memory, addr llvmffi.Addr, length uint64) (*text.View, error) {
	if addr == llvmffi.Null {
		return nil, nil
	}
	data, err := read(mem, addr, length)
	if err != nil {
		return nil, err
	}
	return text.FromBytes(data, text.Borrowed), nil
}

// BorrowedCString is Borrowed for a NUL-terminated string.
func BorrowedCString(mem llvmffi.Memory, addr llvmffi.Addr) (*text.View, error) {
	if addr == llvmffi.Null {
		return nil, nil
	}
	n, err := CStringLen(mem, addr, 0)
	if err != nil {
		return nil, err
	}
	return Borrowed(mem, addr, n)
}

// Owned copies length bytes at addr into Go memory and then calls release
// on addr exactly once, also when the copy fails. A null addr is absent and
// release is not called.
//
// If release fails the copied view is still returned together with the
// release error.
func Owned(ctx context.Context, mem llvmffi.Memory, addr llvmffi.Addr, length uint64, release ReleaseFunc) (v *text.View, err error) {
	if addr == llvmffi.Null {
		return nil, nil
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx), addr); rerr != nil {
			Logger().Warn("failed to release native string",
				zap.Uint64("addr", uint64(addr)),
				zap.Error(rerr))
			if err == nil {
				err = errors.Wrap(errors.PhaseRelease, errors.KindNativeFailure, rerr, "release native string")
			}
		}
	}()

	data, err := read(mem, addr, length)
	if err != nil {
		return nil, err
	}
	return text.Wrap(text.NewBuffer(data, text.NativeOwned).Detach()), nil
}

// OwnedCString is Owned for a NUL-terminated string.
func OwnedCString(ctx context.Context, mem llvmffi.Memory, addr llvmffi.Addr, release ReleaseFunc) (*text.View, error) {
	if addr == llvmffi.Null {
		return nil, nil
	}
	n, err := CStringLen(mem, addr, 0)
	if err != nil {
		if rerr := release(context.WithoutCancel(ctx), addr); rerr != nil {
			Logger().Warn("failed to release native string",
				zap.Uint64("addr", uint64(addr)),
				zap.Error(rerr))
		}
		return nil, err
	}
	return Owned(ctx, mem, addr, n, release)
}

// Copied copies length bytes at addr into Go memory without releasing
// anything. It reads back caller-provided buffers before their scope closes.
func Copied(mem llvmffi.Memory, addr llvmffi.Addr, length uint64) (*text.View, error) {
	if addr == llvmffi.Null {
		return nil, nil
	}
	data, err := read(mem, addr, length)
	if err != nil {
		return nil, err
	}
	return text.Wrap(text.NewBuffer(data, text.Borrowed).Detach()), nil
}

// Raw returns length bytes at addr as an undecoded Borrowed buffer. The
// boolean is false when addr is null.
func Raw(mem llvmffi.Memory, addr llvmffi.Addr, length uint64) (text.Buffer, bool, error) {
	if addr == llvmffi.Null {
		return text.Buffer{}, false, nil
	}
	data, err := read(mem, addr, length)
	if err != nil {
		return text.Buffer{}, false, err
	}
	return text.NewBuffer(data, text.Borrowed), true, nil
}

// IsProbe reports whether a pointer and length pair is a length-only
// answer: a null pointer with a non-zero length.
func IsProbe(addr llvmffi.Addr, length uint64) bool {
	return addr == llvmffi.Null && length != 0
}

// Probe returns the length reported by a length-probe call, one made with a
// null buffer so the routine only reports the size it would write. A
// non-null addr means the routine wrote a value instead.
func Probe(addr llvmffi.Addr, length uint64) (uint64, error) {
	if addr != llvmffi.Null {
		return 0, errors.New(errors.PhaseUnmarshal, errors.KindPolicyMismatch).
			Detail("length probe returned a value pointer 0x%x", uint64(addr)).
			Build()
	}
	return length, nil
}

// CStringLen returns the length of the NUL-terminated string at addr,
// scanning at most limit bytes. A zero limit scans to the end of memory.
func CStringLen(mem llvmffi.Memory, addr llvmffi.Addr, limit uint64) (uint64, error) {
	var n uint64
	chunk := uint64(scanChunk)
	for limit == 0 || n < limit {
		want := chunk
		if limit != 0 && limit-n < want {
			want = limit - n
		}
		if sizer, ok := mem.(llvmffi.MemorySizer); ok {
			end := sizer.Size()
			pos := uint64(addr) + n
			if pos >= end {
				return 0, errors.OutOfBounds(errors.PhaseUnmarshal, uint64(addr), n+1)
			}
			if end-pos < want {
				want = end - pos
			}
		}
		data, err := mem.Read(addr+llvmffi.Addr(n), want)
		if err != nil {
			if chunk > 1 {
				chunk /= 2
				continue
			}
			return 0, errors.Wrap(errors.PhaseUnmarshal, errors.KindOutOfBounds, err, "unterminated native string")
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			return n + uint64(i), nil
		}
		n += uint64(len(data))
	}
	return 0, errors.New(errors.PhaseUnmarshal, errors.KindOutOfBounds).
		Detail("no terminator within %d bytes at 0x%x", limit, uint64(addr)).
		Build()
}

func read(mem llvmffi.Memory, addr llvmffi.Addr, length uint64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	data, err := mem.Read(addr, length)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseUnmarshal, errors.KindOutOfBounds, err, "read native text")
	}
	return data, nil
}
