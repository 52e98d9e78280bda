package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/llvm-ffi/errors"
)

// WazeroEngine loads LLVM-C builds compiled to wasm32 and exposes each
// instance as an llvmffi.Library.
type WazeroEngine struct {
	runtime      wazero.Runtime
	cfg          Config
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	EnableThreads bool

	// CloseOnContextDone aborts a running native call when its context is
	// cancelled. The instance is unusable afterwards.
	CloseOnContextDone bool

	// AllocExport and FreeExport name the allocator exports. Empty means
	// probe the usual names, malloc and free first.
	AllocExport string
	FreeExport  string

	// Stdout and Stderr receive the library's WASI output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	e := &WazeroEngine{}
	if cfg != nil {
		e.cfg = *cfg
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.EnableThreads {
			runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
		}
		if cfg.CloseOnContextDone {
			runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
		}
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// Close closes the runtime and every library loaded from it.
func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// InitWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls from multiple libraries sharing the same engine.
func (e *WazeroEngine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModule) != nil {
		e.wasiInitDone.Store(true)
		return nil
	}

	builder := e.runtime.NewHostModuleBuilder(wasiModule)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	if _, err := builder.Instantiate(ctx); err != nil {
		// If another path initialized WASI concurrently in the same runtime,
		// treat it as success and mark done.
		if e.runtime.Module(wasiModule) == nil {
			return errors.Load("instantiate WASI", err)
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Load compiles and instantiates a wasm32 build of the native library.
// WASI preview1 is provided when the module imports it. The module must
// export its memory and an allocator.
func (e *WazeroEngine) Load(ctx context.Context, wasmBytes []byte) (*Library, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile failed", err)
	}

	if importsWASI(compiled) {
		if err := e.InitWASI(ctx); err != nil {
			return nil, err
		}
	}

	modConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")
	if e.cfg.Stdout != nil {
		modConfig = modConfig.WithStdout(e.cfg.Stdout)
	}
	if e.cfg.Stderr != nil {
		modConfig = modConfig.WithStderr(e.cfg.Stderr)
	}

	instance, err := e.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		return nil, errors.Load("instantiate failed", err)
	}

	mem := instance.Memory()
	if mem == nil {
		_ = instance.Close(ctx)
		return nil, errors.Load("module exports no memory", nil)
	}

	alloc, err := newAllocator(instance, e.cfg.AllocExport, e.cfg.FreeExport)
	if err != nil {
		_ = instance.Close(ctx)
		return nil, err
	}

	lib := &Library{
		instance: instance,
		memory:   &Memory{mem: mem},
		alloc:    alloc,
		funcs:    xsync.NewMapOf[string, *Func](),
	}
	alloc.lib = lib

	Logger().Info("library loaded",
		zap.Int("exports", len(compiled.ExportedFunctions())),
		zap.Uint32("memory_bytes", mem.Size()),
		zap.String("alloc", alloc.allocName),
		zap.String("free", alloc.freeName))
	return lib, nil
}

func importsWASI(compiled wazero.CompiledModule) bool {
	for _, def := range compiled.ImportedFunctions() {
		if mod, _, ok := def.Import(); ok && mod == wasiModule {
			return true
		}
	}
	return false
}
