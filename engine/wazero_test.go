package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llvmffi "github.com/wippyai/llvm-ffi"
	ffierrors "github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/marshal"
	"github.com/wippyai/llvm-ffi/text"
)

// wasmFunc is an exported function over i32 values. code is the body
// without the locals declaration and the final end.
type wasmFunc struct {
	name    string
	params  int
	results int
	code    []byte
}

var (
	// bump allocator over global 0, rounding sizes up to 8
	mallocFunc = wasmFunc{name: "malloc", params: 1, results: 1, code: []byte{
		0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x41, 0x07, 0x6a, 0x41, 0x78, 0x71, 0x6a, 0x24, 0x00,
	}}
	// counts frees in global 1
	freeFunc = wasmFunc{name: "free", params: 1, code: []byte{
		0x23, 0x01, 0x41, 0x01, 0x6a, 0x24, 0x01,
	}}
	freedCountFunc = wasmFunc{name: "freed_count", results: 1, code: []byte{0x23, 0x01}}
	greetingFunc   = wasmFunc{name: "greeting", results: 1, code: []byte{0x41, 0x10}}
	echoFunc       = wasmFunc{name: "echo", params: 1, results: 1, code: []byte{0x20, 0x00}}
	addFunc        = wasmFunc{name: "add", params: 2, results: 1, code: []byte{0x20, 0x00, 0x20, 0x01, 0x6a}}
	failFunc       = wasmFunc{name: "fail", code: []byte{0x00}}
	// cabi_realloc(old, old_size, align, new_size): new_size 0 counts a free
	reallocFunc = wasmFunc{name: "cabi_realloc", params: 4, results: 1, code: []byte{
		0x20, 0x03, 0x45, 0x04, 0x7f,
		0x23, 0x01, 0x41, 0x01, 0x6a, 0x24, 0x01, 0x41, 0x00,
		0x05,
		0x23, 0x00, 0x23, 0x00, 0x20, 0x03, 0x41, 0x07, 0x6a, 0x41, 0x78, 0x71, 0x6a, 0x24, 0x00,
		0x0b,
	}}
)

const greeting = "error: bad module"

func uleb(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(len(items))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(len(content))...)
	return append(out, content...)
}

func name(s string) []byte {
	return append(uleb(len(s)), s...)
}

func i32s(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0x7f
	}
	return append(uleb(n), out...)
}

// buildModule assembles a module with one page of exported memory, a heap
// pointer global starting at 1024, a free counter global and the greeting
// at address 16.
func buildModule(funcs ...wasmFunc) []byte {
	var types, indices, exports, bodies [][]byte
	exports = append(exports, append(name("memory"), 0x02, 0x00))
	for i, f := range funcs {
		sig := append([]byte{0x60}, i32s(f.params)...)
		types = append(types, append(sig, i32s(f.results)...))
		indices = append(indices, uleb(i))
		exports = append(exports, append(append(name(f.name), 0x00), uleb(i)...))
		body := append([]byte{0x00}, f.code...)
		body = append(body, 0x0b)
		bodies = append(bodies, append(uleb(len(body)), body...))
	}

	data := append([]byte(greeting), 0)
	segment := append([]byte{0x00, 0x41, 0x10, 0x0b}, uleb(len(data))...)
	segment = append(segment, data...)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, vec(types...))...)
	out = append(out, section(3, vec(indices...))...)
	out = append(out, section(5, []byte{0x01, 0x00, 0x01})...)
	out = append(out, section(6, vec(
		[]byte{0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b},
		[]byte{0x7f, 0x01, 0x41, 0x00, 0x0b},
	))...)
	out = append(out, section(7, vec(exports...))...)
	out = append(out, section(10, vec(bodies...))...)
	out = append(out, section(11, vec(segment))...)
	return out
}

func standardModule() []byte {
	return buildModule(mallocFunc, freeFunc, freedCountFunc, greetingFunc, echoFunc, addFunc, failFunc)
}

func load(t *testing.T, wasm []byte, cfg *Config) *Library {
	t.Helper()
	ctx := context.Background()
	eng, err := NewWazeroEngineWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(ctx) })

	lib, err := eng.Load(ctx, wasm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close(ctx) })
	return lib
}

func callWord(t *testing.T, lib *Library, fn string, args ...uint64) uint64 {
	t.Helper()
	f, err := lib.Func(fn)
	require.NoError(t, err)
	res, err := f.Call(context.Background(), args...)
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{MemoryLimitPages: 1024, CloseOnContextDone: true}, "64MB limit, close on done"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			require.NoError(t, err)
			defer eng.Close(ctx)
			assert.NotNil(t, eng.runtime)
		})
	}
}

func TestLoad_ResolvesLibrary(t *testing.T) {
	lib := load(t, standardModule(), nil)

	assert.Equal(t, uint32(4), lib.PointerSize())
	sizer, ok := lib.Memory().(llvmffi.MemorySizer)
	require.True(t, ok)
	assert.Equal(t, uint64(65536), sizer.Size())
	assert.Equal(t, Malloc, lib.alloc.allocName)
	assert.Equal(t, Free, lib.alloc.freeName)

	assert.Equal(t, uint64(42), callWord(t, lib, "echo", 42))
	assert.Equal(t, uint64(5), callWord(t, lib, "add", 2, 3))
}

func TestLoad_MultipleInstances(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	require.NoError(t, err)
	defer eng.Close(ctx)

	a, err := eng.Load(ctx, standardModule())
	require.NoError(t, err)
	b, err := eng.Load(ctx, standardModule())
	require.NoError(t, err)

	_, err = a.Allocator().Alloc(ctx, 16)
	require.NoError(t, err)
	addr, err := b.Allocator().Alloc(ctx, 16)
	require.NoError(t, err)
	assert.Equal(t, llvmffi.Addr(1024), addr, "instances have separate heaps")
}

func TestLoad_InvalidModule(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	require.NoError(t, err)
	defer eng.Close(ctx)

	_, err = eng.Load(ctx, []byte("not wasm"))
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseLoad, Kind: ffierrors.KindInvalidInput})
}

func TestLoad_NoAllocator(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	require.NoError(t, err)
	defer eng.Close(ctx)

	_, err = eng.Load(ctx, buildModule(echoFunc))
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseLoad, Kind: ffierrors.KindNotFound})
}

func TestLoad_ConfiguredAllocatorMissing(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngineWithConfig(ctx, &Config{AllocExport: "my_malloc"})
	require.NoError(t, err)
	defer eng.Close(ctx)

	_, err = eng.Load(ctx, standardModule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "my_malloc")
}

func TestLibrary_FuncCached(t *testing.T) {
	lib := load(t, standardModule(), nil)

	a, err := lib.Func("echo")
	require.NoError(t, err)
	b, err := lib.Func("echo")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "echo", a.Name())
}

func TestLibrary_FuncNotFound(t *testing.T) {
	lib := load(t, standardModule(), nil)

	_, err := lib.Func("LLVMContextCreate")
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseLoad, Kind: ffierrors.KindNotFound})
}

func TestFunc_ArgumentCount(t *testing.T) {
	lib := load(t, standardModule(), nil)
	f, err := lib.Func("add")
	require.NoError(t, err)

	_, err = f.Call(context.Background(), 1)
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseCall, Kind: ffierrors.KindInvalidInput})
}

func TestFunc_TrapIsCallFailure(t *testing.T) {
	lib := load(t, standardModule(), nil)
	f, err := lib.Func("fail")
	require.NoError(t, err)

	_, err = f.Call(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseCall, Kind: ffierrors.KindNativeFailure})
}

func TestAllocator_MallocFree(t *testing.T) {
	ctx := context.Background()
	lib := load(t, standardModule(), nil)
	alloc := lib.Allocator()

	a, err := alloc.Alloc(ctx, 10)
	require.NoError(t, err)
	b, err := alloc.Alloc(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, llvmffi.Addr(1024), a)
	assert.Equal(t, llvmffi.Addr(1040), b)

	require.NoError(t, alloc.Free(ctx, a))
	require.NoError(t, alloc.Free(ctx, b))
	require.NoError(t, alloc.Free(ctx, llvmffi.Null))
	assert.Equal(t, uint64(2), callWord(t, lib, "freed_count"))
}

func TestAllocator_ReallocFallback(t *testing.T) {
	ctx := context.Background()
	lib := load(t, buildModule(reallocFunc, freedCountFunc), nil)
	assert.Equal(t, CabiRealloc, lib.alloc.allocName)
	assert.Empty(t, lib.alloc.freeName)

	addr, err := lib.Allocator().Alloc(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, llvmffi.Addr(1024), addr)

	require.NoError(t, lib.Allocator().Free(ctx, addr))
	assert.Equal(t, uint64(1), callWord(t, lib, "freed_count"))
}

func TestMemory_ReadWrite(t *testing.T) {
	lib := load(t, standardModule(), nil)
	mem := lib.Memory()

	require.NoError(t, mem.Write(2048, []byte("abc")))
	got, err := mem.Read(2048, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	require.NoError(t, mem.WriteU32(4096, 0xdeadbeef))
	v32, err := mem.ReadU32(4096)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v32)

	require.NoError(t, mem.WriteU64(4104, math.MaxUint64-1))
	v64, err := mem.ReadU64(4104)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), v64)
}

func TestMemory_Bounds(t *testing.T) {
	lib := load(t, standardModule(), nil)
	mem := lib.Memory()
	oob := &ffierrors.Error{Phase: ffierrors.PhaseUnmarshal, Kind: ffierrors.KindOutOfBounds}

	_, err := mem.Read(65534, 4)
	assert.ErrorIs(t, err, oob)
	_, err = mem.Read(llvmffi.Addr(1)<<33, 1)
	assert.ErrorIs(t, err, oob)
	_, err = mem.ReadU64(65532)
	assert.ErrorIs(t, err, oob)

	err = mem.Write(65535, []byte("xy"))
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseMarshal, Kind: ffierrors.KindOutOfBounds})
}

func TestMemory_StaticStringBorrowed(t *testing.T) {
	lib := load(t, standardModule(), nil)
	addr := llvmffi.Addr(callWord(t, lib, "greeting"))

	v, err := marshal.BorrowedCString(lib.Memory(), addr)
	require.NoError(t, err)
	assert.Equal(t, greeting, v.String())
	assert.Equal(t, text.Borrowed, v.Provenance())
}

func TestScope_TransientsUseExportedAllocator(t *testing.T) {
	ctx := context.Background()
	lib := load(t, standardModule(), nil)

	scope := marshal.NewScope(ctx, lib.Memory(), lib.Allocator())
	addr, err := scope.Outbound(text.FromString("hello"))
	require.NoError(t, err)
	got, err := lib.Memory().Read(addr, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\x00"), got)

	assert.Equal(t, uint64(5), callWord(t, lib, "echo", 5))
	require.NoError(t, scope.Close())
	assert.Equal(t, uint64(1), callWord(t, lib, "freed_count"))
}

func TestLibrary_Close(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	require.NoError(t, err)
	defer eng.Close(ctx)

	lib, err := eng.Load(ctx, standardModule())
	require.NoError(t, err)
	f, err := lib.Func("echo")
	require.NoError(t, err)

	require.NoError(t, lib.Close(ctx))
	require.NoError(t, lib.Close(ctx))

	_, err = lib.Func("echo")
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseLoad, Kind: ffierrors.KindClosed})
	_, err = f.Call(ctx, 1)
	assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseCall, Kind: ffierrors.KindNativeFailure})
}
