package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
)

// Library is one instance of a wasm32 build of the native library. It
// implements llvmffi.Library. Calls into the instance are serialized.
type Library struct {
	instance api.Module
	memory   *Memory
	alloc    *allocator
	funcs    *xsync.MapOf[string, *Func]
	callMu   sync.Mutex
	closed   atomic.Bool
}

// Func resolves an exported function. Resolved functions are cached.
func (l *Library) Func(name string) (llvmffi.Func, error) {
	if l.closed.Load() {
		return nil, errors.Closed(errors.PhaseLoad, "library")
	}
	if f, ok := l.funcs.Load(name); ok {
		return f, nil
	}
	fn := l.instance.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "export", name)
	}
	f, _ := l.funcs.LoadOrStore(name, &Func{
		lib:    l,
		name:   name,
		fn:     fn,
		params: len(fn.Definition().ParamTypes()),
	})
	return f, nil
}

// Memory returns the instance's linear memory.
func (l *Library) Memory() llvmffi.Memory { return l.memory }

// Allocator returns the instance's exported allocator.
func (l *Library) Allocator() llvmffi.Allocator { return l.alloc }

// PointerSize returns 4: the library is a wasm32 build.
func (l *Library) PointerSize() uint32 { return pointerSize }

// Close closes the instance. Handles still pointing into it become invalid.
func (l *Library) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.funcs.Clear()
	return l.instance.Close(ctx)
}

func (l *Library) call(ctx context.Context, fn api.Function, args []uint64) ([]uint64, error) {
	if l.closed.Load() {
		return nil, errors.Closed(errors.PhaseCall, "library")
	}
	l.callMu.Lock()
	defer l.callMu.Unlock()
	return fn.Call(ctx, args...)
}

// Func is a resolved export.
type Func struct {
	lib    *Library
	fn     api.Function
	name   string
	params int
}

// Name returns the export name.
func (f *Func) Name() string { return f.name }

// Call invokes the export. A trap is returned as a call failure.
func (f *Func) Call(ctx context.Context, args ...uint64) ([]uint64, error) {
	if len(args) != f.params {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Routine(f.name).
			Detail("%d arguments for %d parameters", len(args), f.params).
			Build()
	}
	results, err := f.lib.call(ctx, f.fn, args)
	if err != nil {
		return nil, errors.New(errors.PhaseCall, errors.KindNativeFailure).
			Routine(f.name).
			Detail("trap").
			Cause(err).
			Build()
	}
	return results, nil
}

// allocator calls the instance's exported malloc and free. Sizes are kept
// for the realloc-style exports that need them on free.
type allocator struct {
	lib       *Library
	allocFn   api.Function
	freeFn    api.Function
	allocName string
	freeName  string
	realloc   bool
	freeArgs  int
	sizesMu   sync.Mutex
	sizes     map[llvmffi.Addr]uint64
	stackBuf  []uint64
}

func newAllocator(instance api.Module, allocName, freeName string) (*allocator, error) {
	a := &allocator{sizes: make(map[llvmffi.Addr]uint64), stackBuf: make([]uint64, 4)}
	defs := instance.ExportedFunctionDefinitions()

	candidates := allocExports
	if allocName != "" {
		candidates = []string{allocName}
	}
	for _, name := range candidates {
		if def, ok := defs[name]; ok {
			a.allocFn = instance.ExportedFunction(name)
			a.allocName = name
			a.realloc = len(def.ParamTypes()) == 4
			break
		}
	}
	if a.allocFn == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "allocator export", candidates[0])
	}

	candidates = freeExports
	if freeName != "" {
		candidates = []string{freeName}
	}
	for _, name := range candidates {
		if def, ok := defs[name]; ok {
			a.freeFn = instance.ExportedFunction(name)
			a.freeName = name
			a.freeArgs = len(def.ParamTypes())
			break
		}
	}
	if a.freeFn == nil && (freeName != "" || !a.realloc) {
		return nil, errors.NotFound(errors.PhaseLoad, "free export", candidates[0])
	}
	return a, nil
}

// Alloc implements llvmffi.Allocator.
func (a *allocator) Alloc(ctx context.Context, size uint64) (llvmffi.Addr, error) {
	a.lib.callMu.Lock()
	defer a.lib.callMu.Unlock()

	var err error
	if a.realloc {
		a.stackBuf[0] = 0
		a.stackBuf[1] = 0
		a.stackBuf[2] = 8
		a.stackBuf[3] = size
		err = a.allocFn.CallWithStack(ctx, a.stackBuf[:4])
	} else {
		a.stackBuf[0] = size
		err = a.allocFn.CallWithStack(ctx, a.stackBuf[:1])
	}
	if err != nil {
		return llvmffi.Null, errors.AllocationFailed(errors.PhaseMarshal, size, err)
	}
	addr := llvmffi.Addr(uint32(a.stackBuf[0]))
	if addr == llvmffi.Null {
		return llvmffi.Null, errors.AllocationFailed(errors.PhaseMarshal, size, nil)
	}

	a.sizesMu.Lock()
	a.sizes[addr] = size
	a.sizesMu.Unlock()
	return addr, nil
}

// Free implements llvmffi.Allocator.
func (a *allocator) Free(ctx context.Context, addr llvmffi.Addr) error {
	if addr == llvmffi.Null {
		return nil
	}
	a.sizesMu.Lock()
	size := a.sizes[addr]
	delete(a.sizes, addr)
	a.sizesMu.Unlock()

	a.lib.callMu.Lock()
	defer a.lib.callMu.Unlock()

	var err error
	switch {
	case a.freeFn == nil:
		// realloc to zero bytes frees
		a.stackBuf[0] = uint64(addr)
		a.stackBuf[1] = size
		a.stackBuf[2] = 8
		a.stackBuf[3] = 0
		err = a.allocFn.CallWithStack(ctx, a.stackBuf[:4])
	case a.freeArgs == 3:
		a.stackBuf[0] = uint64(addr)
		a.stackBuf[1] = size
		a.stackBuf[2] = 8
		err = a.freeFn.CallWithStack(ctx, a.stackBuf[:3])
	default:
		a.stackBuf[0] = uint64(addr)
		err = a.freeFn.CallWithStack(ctx, a.stackBuf[:1])
	}
	if err != nil {
		Logger().Warn("failed to free native memory",
			zap.Uint64("addr", uint64(addr)),
			zap.Uint64("size", size),
			zap.Error(err))
		return errors.Wrap(errors.PhaseRelease, errors.KindAllocation, err, "free")
	}
	return nil
}
