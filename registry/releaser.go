package registry

import (
	"context"

	"go.uber.org/zap"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/marshal"
)

// Releaser runs disposers from the release table against a library.
// It implements handle.Releaser.
type Releaser struct {
	lib   llvmffi.Library
	table *ReleaseTable
}

// NewReleaser creates a releaser bound to lib.
func NewReleaser(lib llvmffi.Library) *Releaser {
	return &Releaser{lib: lib, table: Releases}
}

// Release disposes raw as an object or string of the given kind. Implicit
// kinds are a no-op; their owner frees them.
func (r *Releaser) Release(ctx context.Context, kind string, raw llvmffi.Addr) error {
	d, ok := r.table.Lookup(kind)
	if !ok {
		return errors.NotFound(errors.PhaseRelease, "release entry", kind)
	}
	if d.Implicit() {
		return nil
	}
	if raw == llvmffi.Null {
		return errors.NilHandle(errors.PhaseRelease, d.Routine, kind)
	}

	fn, err := r.lib.Func(d.Routine)
	if err != nil {
		return errors.New(errors.PhaseRelease, errors.KindNotFound).
			Routine(d.Routine).
			Handle(kind).
			Cause(err).
			Build()
	}

	Logger().Debug("release",
		zap.String("kind", kind),
		zap.String("routine", d.Routine),
		zap.Uint64("addr", uint64(raw)))

	if _, err := fn.Call(ctx, uint64(raw)); err != nil {
		return errors.New(errors.PhaseRelease, errors.KindNativeFailure).
			Routine(d.Routine).
			Handle(kind).
			Cause(err).
			Build()
	}
	return nil
}

// Func returns the release function for a string deallocator kind, for use
// with marshal.Owned.
func (r *Releaser) Func(kind string) marshal.ReleaseFunc {
	return func(ctx context.Context, addr llvmffi.Addr) error {
		return r.Release(ctx, kind, addr)
	}
}
