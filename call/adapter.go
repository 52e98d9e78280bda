package call

import (
	"context"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/registry"
	"github.com/wippyai/llvm-ffi/text"
)

// Observer receives call-level notifications.
type Observer interface {
	// OnCall is invoked once per native invocation with its outcome.
	OnCall(routine string, err error)
	// OnTransients is invoked when a frame closes with the number and
	// total size of OutboundTransient allocations it made.
	OnTransients(count int, bytes uint64)
}

// Adapter binds the routine table to one native library. It owns the
// handle ledger of everything it hands out.
type Adapter struct {
	lib      llvmffi.Library
	releaser *registry.Releaser
	ledger   *handle.Ledger
	observer Observer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLedger tracks owning handles in l instead of a private ledger.
func WithLedger(l *handle.Ledger) Option {
	return func(a *Adapter) { a.ledger = l }
}

// WithObserver reports calls to o.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// New creates an adapter for lib.
func New(lib llvmffi.Library, opts ...Option) *Adapter {
	a := &Adapter{
		lib:      lib,
		releaser: registry.NewReleaser(lib),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ledger == nil {
		a.ledger = handle.NewLedger()
	}
	return a
}

// Library returns the bound library.
func (a *Adapter) Library() llvmffi.Library { return a.lib }

// Ledger returns the handle ledger.
func (a *Adapter) Ledger() *handle.Ledger { return a.ledger }

// Releaser returns the releaser used for owning handles.
func (a *Adapter) Releaser() *registry.Releaser { return a.releaser }

// Close closes the ledger and reports leaked owning handles. It does not
// close the library.
func (a *Adapter) Close() error {
	return a.ledger.Close()
}

// Begin starts a call to the named routine. The frame must be closed.
func (a *Adapter) Begin(ctx context.Context, name string) (*Frame, error) {
	r, ok := registry.Routines.Lookup(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, "routine", name)
	}
	fn, err := a.lib.Func(name)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNotFound).
			Routine(name).
			Cause(err).
			Build()
	}
	return newFrame(ctx, a, r, fn), nil
}

// Own wraps raw as an owning handle released through the adapter's
// releaser and tracked in its ledger.
func Own[K handle.Kind](a *Adapter, raw llvmffi.Addr) (*handle.Owning[K], error) {
	return handle.NewOwning[K](raw, a.releaser, handle.Tracked(a.ledger))
}

// ErrorMessage reads the message of an error object and consumes it. The
// error object must not be used afterwards; LLVMConsumeError is not called
// because reading the message already disposed of it.
func (a *Adapter) ErrorMessage(ctx context.Context, e *handle.Owning[handle.Error]) (*text.View, error) {
	f, err := a.Begin(ctx, "LLVMGetErrorMessage")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Handle(e).Invoke(); err != nil {
		return nil, err
	}
	return f.ResultString()
}

func (a *Adapter) notify(routine string, err error) {
	if a.observer != nil {
		a.observer.OnCall(routine, err)
	}
}
