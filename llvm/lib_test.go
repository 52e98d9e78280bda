package llvm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/llvm-ffi/call"
	ffierrors "github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/nativetest"
	"github.com/wippyai/llvm-ffi/text"
)

var nativeFailure = &ffierrors.Error{Phase: ffierrors.PhaseCall, Kind: ffierrors.KindNativeFailure}

func setup(t *testing.T) (*nativetest.Library, *nativetest.LLVM, *Lib) {
	t.Helper()
	lib, fake := nativetest.NewLLVM()
	return lib, fake, New(call.New(lib))
}

// finish releases the given handles in order and checks that nothing the
// test allocated is left behind.
func finish(t *testing.T, lib *nativetest.Library, l *Lib, hs ...interface{ Release(context.Context) error }) {
	t.Helper()
	for _, h := range hs {
		require.NoError(t, h.Release(context.Background()))
	}
	assert.NoError(t, l.Adapter().Close())
	assert.Equal(t, 0, lib.Live())
	assert.Empty(t, lib.Faults())
}

func message(t *testing.T, err error) string {
	t.Helper()
	var fe *ffierrors.Error
	require.True(t, errors.As(err, &fe), "not a structured error: %v", err)
	return fe.Message
}

// buildVoid defines void name() with a single entry block, terminated or
// not.
func buildVoid(t *testing.T, l *Lib, c, m handle.Ref, name string, terminate bool) handle.Alias[handle.Value] {
	t.Helper()
	ctx := context.Background()

	i32, err := l.Int32Type(ctx, c)
	require.NoError(t, err)
	fnTy, err := l.FunctionType(ctx, i32, nil, false)
	require.NoError(t, err)
	fn, err := l.AddFunction(ctx, m, name, fnTy)
	require.NoError(t, err)
	bb, err := l.AppendBasicBlock(ctx, c, fn, "entry")
	require.NoError(t, err)
	if !terminate {
		return fn
	}

	b, err := l.CreateBuilder(ctx, c)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Release(ctx)) }()
	require.NoError(t, l.PositionAtEnd(ctx, b, bb))
	_, err = l.BuildRetVoid(ctx, b)
	require.NoError(t, err)
	return fn
}

func TestLib_ContextAndModule(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)

	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "demo", c)
	require.NoError(t, err)

	mc, err := l.ModuleContext(ctx, m)
	require.NoError(t, err)
	assert.True(t, handle.Same(c, mc))
	assert.Equal(t, 2, l.Adapter().Ledger().Live())

	ir, err := l.PrintModuleToString(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "; ModuleID = 'demo'\nsource_filename = \"demo\"\n", ir.String())
	assert.Equal(t, text.Copied, ir.Provenance())
	assert.Equal(t, 0, fake.OutstandingStrings())

	finish(t, lib, l, m, c)
	assert.Equal(t, 1, fake.Disposed("LLVMDisposeModule"))
	assert.Equal(t, 1, fake.Disposed("LLVMContextDispose"))
}

func TestLib_GlobalContextIsSingletonAlias(t *testing.T) {
	ctx := context.Background()
	lib, _, l := setup(t)

	g1, err := l.GlobalContext(ctx)
	require.NoError(t, err)
	g2, err := l.GlobalContext(ctx)
	require.NoError(t, err)
	assert.True(t, handle.Same(g1, g2))
	assert.False(t, g1.IsNull())
	assert.Equal(t, 1, lib.Calls("LLVMGetGlobalContext"))

	m, err := l.CreateModule(ctx, "on-global", g1)
	require.NoError(t, err)
	finish(t, lib, l, m)
}

func TestLib_ModuleIdentifierRoundTrip(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "first", c)
	require.NoError(t, err)

	id, err := l.ModuleIdentifier(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "first", id.String())
	assert.Equal(t, text.Borrowed, id.Provenance())
	kept := id.Detach()

	require.NoError(t, l.SetModuleIdentifier(ctx, m, text.FromString("hello")))
	id, err = l.ModuleIdentifier(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "hello", id.String())
	assert.Equal(t, "first", kept.String())

	require.NoError(t, l.SetModuleIdentifier(ctx, m, text.FromBytes([]byte("a\x00b"), text.Literal)))
	id, err = l.ModuleIdentifier(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, []byte("a\x00b"), id.Bytes())

	require.NoError(t, l.SetModuleIdentifier(ctx, m, nil))
	id, err = l.ModuleIdentifier(ctx, m)
	require.NoError(t, err)
	assert.True(t, id.Present())
	assert.True(t, id.Empty())

	// borrowed identifiers are never handed to a deallocator
	assert.Equal(t, 0, fake.Disposed("LLVMDisposeMessage"))

	finish(t, lib, l, m, c)
}

func TestLib_FunctionsAndNames(t *testing.T) {
	ctx := context.Background()
	lib, _, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "fns", c)
	require.NoError(t, err)

	fn := buildVoid(t, l, c, m, "main", true)

	found, err := l.NamedFunction(ctx, m, "main")
	require.NoError(t, err)
	assert.True(t, handle.Same(fn, found))

	missing, err := l.NamedFunction(ctx, m, "nope")
	require.NoError(t, err)
	assert.True(t, missing.IsNull())

	require.NoError(t, l.SetValueName(ctx, fn, text.FromString("start")))
	name, err := l.ValueName(ctx, fn)
	require.NoError(t, err)
	assert.Equal(t, "start", name.String())

	ir, err := l.PrintModuleToString(ctx, m)
	require.NoError(t, err)
	assert.Contains(t, ir.String(), "define void @start() {\nentry:\n  ret void\n}\n")
	require.NoError(t, l.VerifyModule(ctx, m))

	finish(t, lib, l, m, c)
}

func TestLib_VerifyReportsBrokenModule(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "broken", c)
	require.NoError(t, err)
	buildVoid(t, l, c, m, "f", false)

	err = l.VerifyModule(ctx, m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, nativeFailure))
	assert.Equal(t, "Basic Block in function 'f' does not have terminator!\nlabel %entry", message(t, err))
	assert.Equal(t, 0, fake.OutstandingStrings())

	finish(t, lib, l, m, c)
}

func TestLib_PrintModuleToFile(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "out", c)
	require.NoError(t, err)

	// success leaves the message slot null
	require.NoError(t, l.PrintModuleToFile(ctx, m, "/tmp/out.ll"))
	got, ok := fake.File("/tmp/out.ll")
	require.True(t, ok)
	assert.Contains(t, got, "; ModuleID = 'out'")

	err = l.PrintModuleToFile(ctx, m, "/nonexistent/out.ll")
	assert.True(t, errors.Is(err, nativeFailure))
	assert.Equal(t, "could not open '/nonexistent/out.ll': No such file or directory", message(t, err))
	assert.Equal(t, 0, fake.OutstandingStrings())

	finish(t, lib, l, m, c)
}

func TestLib_CloneModuleIsIndependent(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "orig", c)
	require.NoError(t, err)
	buildVoid(t, l, c, m, "f", true)

	clone, err := l.CloneModule(ctx, m)
	require.NoError(t, err)
	assert.False(t, handle.Same(m, clone))
	require.NoError(t, m.Release(ctx))
	assert.Equal(t, 1, fake.Modules())

	ir, err := l.PrintModuleToString(ctx, clone)
	require.NoError(t, err)
	assert.Contains(t, ir.String(), "define void @f()")

	finish(t, lib, l, clone, c)
}

func TestLib_ParseIRRoundTrip(t *testing.T) {
	ctx := context.Background()
	lib, _, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "src", c)
	require.NoError(t, err)
	buildVoid(t, l, c, m, "a", true)
	i32, err := l.Int32Type(ctx, c)
	require.NoError(t, err)
	fnTy, err := l.FunctionType(ctx, i32, []handle.Ref{i32}, false)
	require.NoError(t, err)
	_, err = l.AddFunction(ctx, m, "b", fnTy)
	require.NoError(t, err)

	src, err := l.PrintModuleToString(ctx, m)
	require.NoError(t, err)

	mb, err := l.MemoryBufferCopy(ctx, src.Bytes(), "src.ll")
	require.NoError(t, err)
	raw, err := l.BufferBytes(ctx, mb)
	require.NoError(t, err)
	assert.Equal(t, src.Bytes(), raw.Bytes())
	assert.Equal(t, text.Borrowed, raw.Provenance())

	parsed, err := l.ParseIR(ctx, c, mb)
	require.NoError(t, err)
	assert.False(t, mb.Owned())

	again, err := l.PrintModuleToString(ctx, parsed)
	require.NoError(t, err)
	assert.True(t, src.Equal(again))

	finish(t, lib, l, parsed, m, c)
}

func TestLib_ParseIRFailureConsumesBuffer(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)

	mb, err := l.MemoryBufferCopy(ctx, []byte("garbage\n"), "bad.ll")
	require.NoError(t, err)
	m, err := l.ParseIR(ctx, c, mb)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, nativeFailure))
	assert.Equal(t, "bad.ll:1:1: error: expected top-level entity\ngarbage\n^", message(t, err))

	// the buffer went to native code with the call
	err = mb.Release(ctx)
	assert.True(t, errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseRelease, Kind: ffierrors.KindAliasRelease}))
	assert.Equal(t, 0, fake.Disposed("LLVMDisposeMemoryBuffer"))

	finish(t, lib, l, c)
}

func TestLib_CreateBinary(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)

	obj, err := l.MemoryBufferCopy(ctx, []byte("\x7fELF\x02\x01\x01"), "a.o")
	require.NoError(t, err)
	bin, err := l.CreateBinary(ctx, obj, nil)
	require.NoError(t, err)

	junk, err := l.MemoryBufferCopy(ctx, []byte("not an object"), "junk")
	require.NoError(t, err)
	none, err := l.CreateBinary(ctx, junk, nil)
	assert.Nil(t, none)
	assert.True(t, errors.Is(err, nativeFailure))
	assert.Equal(t, "The file was not recognized as a valid object file", message(t, err))

	finish(t, lib, l, bin, obj, junk)
	assert.Equal(t, 1, fake.Disposed("LLVMDisposeBinary"))
	assert.Equal(t, 2, fake.Disposed("LLVMDisposeMemoryBuffer"))
}

func TestLib_Targets(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)

	triple, err := l.DefaultTargetTriple(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wasm32-unknown-wasi", triple.String())
	assert.Equal(t, 1, fake.Disposed("LLVMDisposeMessage"))

	norm, err := l.NormalizeTargetTriple(ctx, "X86_64-linux-gnu")
	require.NoError(t, err)
	assert.Equal(t, "x86_64-unknown-linux-gnu", norm.String())

	tests := []struct {
		triple string
		name   string
		jit    bool
	}{
		{"wasm32-unknown-wasi", "wasm32", false},
		{"x86_64-unknown-linux-gnu", "x86_64", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := l.TargetFromTriple(ctx, tt.triple)
			require.NoError(t, err)
			name, err := l.TargetName(ctx, target)
			require.NoError(t, err)
			assert.Equal(t, tt.name, name.String())
			jit, err := l.TargetHasJIT(ctx, target)
			require.NoError(t, err)
			assert.Equal(t, tt.jit, jit)
		})
	}

	target, err := l.TargetFromTriple(ctx, "sparc-sun-solaris")
	assert.True(t, target.IsNull())
	assert.True(t, errors.Is(err, nativeFailure))
	assert.Equal(t, `No available targets are compatible with triple "sparc-sun-solaris"`, message(t, err))

	finish(t, lib, l)
	assert.Equal(t, 0, fake.OutstandingStrings())
}

func TestLib_ExecutionEngineTakesModule(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	fake.JIT = true
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "jit", c)
	require.NoError(t, err)

	ee, mod, err := l.CreateExecutionEngine(ctx, m)
	require.NoError(t, err)
	assert.True(t, handle.Same(m, mod))
	assert.False(t, m.Owned())

	// the module is reachable through its alias until the engine goes
	id, err := l.ModuleIdentifier(ctx, mod)
	require.NoError(t, err)
	assert.Equal(t, "jit", id.String())

	finish(t, lib, l, ee, c)
	assert.Equal(t, 0, fake.Disposed("LLVMDisposeModule"))
	assert.Equal(t, 0, fake.Modules())
}

func TestLib_ExecutionEngineFailureStillTakesModule(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "nojit", c)
	require.NoError(t, err)

	ee, mod, err := l.CreateExecutionEngine(ctx, m)
	assert.Nil(t, ee)
	assert.True(t, mod.IsNull())
	assert.True(t, errors.Is(err, nativeFailure))
	assert.Equal(t, "JIT has not been linked in.", message(t, err))
	assert.False(t, m.Owned())
	assert.Equal(t, 0, fake.Modules())

	finish(t, lib, l, c)
}

func TestLib_RunPasses(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "opt", c)
	require.NoError(t, err)
	opts, err := l.CreatePassBuilderOptions(ctx)
	require.NoError(t, err)

	require.NoError(t, l.RunPasses(ctx, m, "verify,default<O2>", opts))

	err = l.RunPasses(ctx, m, "verify,bogus", opts)
	assert.True(t, errors.Is(err, nativeFailure))
	assert.Equal(t, "unknown pass name 'bogus'", message(t, err))
	// reading the message consumed the error object
	assert.Equal(t, 0, fake.Disposed("LLVMConsumeError"))
	assert.Equal(t, 1, fake.Disposed("LLVMDisposeErrorMessage"))

	finish(t, lib, l, opts, m, c)
	assert.Equal(t, 1, fake.Disposed("LLVMDisposePassBuilderOptions"))
}

func TestLib_StringErrors(t *testing.T) {
	ctx := context.Background()
	lib, fake, l := setup(t)

	e, err := l.NewStringError(ctx, "error: bad module")
	require.NoError(t, err)
	msg, err := l.ErrorMessage(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "error: bad module", msg.String())
	assert.Equal(t, 1, fake.Disposed("LLVMDisposeErrorMessage"))

	// consumed: neither a second read nor a release reaches native code
	_, err = l.ErrorMessage(ctx, e)
	assert.True(t, errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseMarshal, Kind: ffierrors.KindUseAfterRelease}))
	assert.Error(t, e.Release(ctx))
	assert.Equal(t, 1, lib.Calls("LLVMGetErrorMessage"))

	// an unread error is consumed on release
	e2, err := l.NewStringError(ctx, "dropped")
	require.NoError(t, err)
	finish(t, lib, l, e2)
	assert.Equal(t, 1, fake.Disposed("LLVMConsumeError"))
}

func TestLib_ReleasedHandleRejected(t *testing.T) {
	ctx := context.Background()
	lib, _, l := setup(t)
	c, err := l.ContextCreate(ctx)
	require.NoError(t, err)
	m, err := l.CreateModule(ctx, "gone", c)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx))

	_, err = l.PrintModuleToString(ctx, m)
	assert.True(t, errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseMarshal, Kind: ffierrors.KindUseAfterRelease}))
	assert.Equal(t, 0, lib.Calls("LLVMPrintModuleToString"))

	finish(t, lib, l, c)
}
