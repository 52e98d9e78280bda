// Package llvmffi is the foreign-function boundary between Go and the LLVM-C
// ABI.
//
// The boundary is small infrastructure that every LLVM-C entry point relies
// on: ownership-tagged native handles, the four string transfer contracts
// of the C API, and a table-driven call-site adapter that applies them.
//
// # Architecture Overview
//
//	llvmffi/             Root package with Memory, Allocator, Func and Library interfaces
//	├── text/            Encoded byte buffers and lazily decoded text views
//	├── marshal/         String transfer policies and per-call transient scopes
//	├── handle/          Owning and alias handles, handle ledger
//	├── registry/        Static release table and per-routine call table
//	├── call/            Call-site adapter driven by the routine table
//	├── llvm/            Typed entry points built on the adapter
//	├── engine/          wazero backend for an LLVM-C build compiled to wasm
//	├── metrics/         Prometheus observer for handles and calls
//	├── nativetest/      Simulated native library for tests
//	└── errors/          Structured error types
//
// # Quick Start
//
//	eng, err := engine.NewWazeroEngine(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	lib, err := eng.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close(ctx)
//
//	l := llvm.New(call.New(lib))
//	mod, err := l.CreateModule(ctx, "demo", ctxHandle)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Release(ctx)
//
// # Ownership
//
// An Owning handle carries exactly one release obligation and releases
// through the disposer named in the release table. An Alias handle has no
// release operation at all. Releasing an Owning handle twice, or after it
// was turned into an alias, returns a misuse error and never reaches native
// code.
//
// # Thread Safety
//
// A native object graph belongs to one goroutine. Independent libraries
// loaded from the same engine may be used from different goroutines.
package llvmffi
