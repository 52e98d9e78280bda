// Package engine runs a wasm32 build of the LLVM C API on wazero.
//
// The linear memory of the instance plays the role of native memory: object
// handles and string pointers are offsets into it, and the instance's own
// exported malloc and free are the allocator that OutboundTransient copies
// go through.
//
// # Loading
//
//	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
//	    MemoryLimitPages: 4096,
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(ctx)
//
//	lib, err := eng.Load(ctx, wasmBytes)
//	if err != nil {
//	    return err
//	}
//	defer lib.Close(ctx)
//
// A module importing wasi_snapshot_preview1 gets the host implementation
// instantiated once per engine. A reactor module's _initialize export runs
// at load.
//
// # Allocator Discovery
//
// Without explicit AllocExport and FreeExport names the loader probes:
//
//	malloc, cabi_realloc, canonical_abi_realloc, allocate, alloc
//	free, cabi_free, deallocate
//
// A four-parameter realloc export with no free export frees by reallocating
// to zero bytes.
//
// # Concurrency
//
// A Library serializes calls into its instance, including allocator calls.
// Libraries loaded from one engine are independent.
package engine
