package marshal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llvmffi "github.com/wippyai/llvm-ffi"
	ffierrors "github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/nativetest"
	"github.com/wippyai/llvm-ffi/text"
)

func TestBorrowed_ZeroCopyNoRelease(t *testing.T) {
	lib := nativetest.New()
	addr := lib.PutString("module.ll")

	v, err := Borrowed(lib.Memory(), addr, 9)
	require.NoError(t, err)
	require.True(t, v.Present())
	assert.Equal(t, text.Borrowed, v.Provenance())
	assert.Equal(t, "module.ll", v.String())
	assert.True(t, lib.IsLive(addr))

	// the window sees native updates until detached
	require.NoError(t, lib.Write(addr, []byte("M")))
	assert.Equal(t, byte('M'), v.Bytes()[0])
}

func TestBorrowed_NullIsAbsent(t *testing.T) {
	lib := nativetest.New()

	v, err := Borrowed(lib.Memory(), llvmffi.Null, 0)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = BorrowedCString(lib.Memory(), llvmffi.Null)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBorrowed_ZeroLengthIsEmpty(t *testing.T) {
	lib := nativetest.New()
	addr := lib.PutString("")

	v, err := Borrowed(lib.Memory(), addr, 0)
	require.NoError(t, err)
	assert.True(t, v.Present())
	assert.True(t, v.Empty())
}

func TestBorrowedCString(t *testing.T) {
	lib := nativetest.New()
	addr := lib.Static("x86_64-unknown-linux-gnu")

	v, err := BorrowedCString(lib.Memory(), addr)
	require.NoError(t, err)
	assert.Equal(t, "x86_64-unknown-linux-gnu", v.String())
}

func TestOwned_CopiesThenReleasesOnce(t *testing.T) {
	ctx := context.Background()
	lib := nativetest.New()
	addr := lib.PutString("; ModuleID = 'demo'")

	var released []llvmffi.Addr
	release := func(ctx context.Context, a llvmffi.Addr) error {
		released = append(released, a)
		return lib.Free(ctx, a)
	}

	v, err := OwnedCString(ctx, lib.Memory(), addr, release)
	require.NoError(t, err)
	assert.Equal(t, []llvmffi.Addr{addr}, released)
	assert.Equal(t, text.Copied, v.Provenance())
	assert.Equal(t, "; ModuleID = 'demo'", v.String())
	assert.Equal(t, 0, lib.Live())
	assert.Empty(t, lib.Faults())
}

func TestOwned_NullNeverReleased(t *testing.T) {
	calls := 0
	release := func(context.Context, llvmffi.Addr) error {
		calls++
		return nil
	}

	v, err := Owned(context.Background(), nativetest.New().Memory(), llvmffi.Null, 5, release)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Zero(t, calls)
}

func TestOwned_ReleasesWhenCopyFails(t *testing.T) {
	ctx := context.Background()
	lib := nativetest.New()
	addr := lib.PutString("short")

	calls := 0
	release := func(ctx context.Context, a llvmffi.Addr) error {
		calls++
		return lib.Free(ctx, a)
	}

	v, err := Owned(ctx, lib.Memory(), addr, 4096, release)
	require.Error(t, err)
	assert.Nil(t, v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, lib.Live())
}

func TestOwned_ReleaseFailureSurfaces(t *testing.T) {
	lib := nativetest.New()
	addr := lib.PutString("msg")

	v, err := OwnedCString(context.Background(), lib.Memory(), addr, func(context.Context, llvmffi.Addr) error {
		return errors.New("dispose failed")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseRelease, Kind: ffierrors.KindNativeFailure})
	assert.Equal(t, "msg", v.String())
}

func TestCopied_DetachesCallerBuffer(t *testing.T) {
	lib := nativetest.New()
	addr := lib.PutBytes([]byte("filled"))

	v, err := Copied(lib.Memory(), addr, 6)
	require.NoError(t, err)
	require.NoError(t, lib.Free(context.Background(), addr))
	assert.Equal(t, "filled", v.String())
	assert.Equal(t, text.Copied, v.Provenance())
}

func TestRaw_NoDecode(t *testing.T) {
	lib := nativetest.New()
	data := []byte{0x42, 0x43, 0xc0, 0xde, 0x00, 0x01}
	addr := lib.PutBytes(data)

	buf, ok, err := Raw(lib.Memory(), addr, uint64(len(data)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, buf.Bytes())
	assert.Equal(t, text.Borrowed, buf.Provenance())

	_, ok, err = Raw(lib.Memory(), llvmffi.Null, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProbe(t *testing.T) {
	assert.True(t, IsProbe(llvmffi.Null, 12))
	assert.False(t, IsProbe(llvmffi.Null, 0))
	assert.False(t, IsProbe(0x100, 12))

	n, err := Probe(llvmffi.Null, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), n)

	_, err = Probe(0x100, 12)
	require.Error(t, err)
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseUnmarshal, Kind: ffierrors.KindPolicyMismatch})
}

func TestCStringLen(t *testing.T) {
	lib := nativetest.New()

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	addr := lib.PutString(string(long))

	n, err := CStringLen(lib.Memory(), addr, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), n)

	_, err = CStringLen(lib.Memory(), addr, 10)
	require.Error(t, err)

	unterminated := lib.PutBytes([]byte("abc"))
	_, err = CStringLen(lib.Memory(), unterminated, 0)
	require.Error(t, err)
}
