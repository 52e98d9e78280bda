// Package errors provides structured error types for the native boundary.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Kinds fall into three disjoint groups: caller misuse (double
// release, alias release, use after release, policy mismatch, nil handle),
// failures reported by the native library, and allocation failures.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindNativeFailure).
//		Routine("LLVMParseIRInContext").
//		Message("expected top-level entity").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.DoubleRelease("Module", addr)
//	err := errors.OutOfBounds(errors.PhaseUnmarshal, addr, 16)
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind only.
package errors
