package llvm

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/text"
)

// Lib is the typed surface over one native library.
type Lib struct {
	a *call.Adapter

	globalOnce sync.Once
	global     handle.Alias[handle.Context]
	globalErr  error
}

// New binds typed entry points to an adapter.
func New(a *call.Adapter) *Lib {
	return &Lib{a: a}
}

// Adapter returns the call adapter the entry points run through.
func (l *Lib) Adapter() *call.Adapter {
	return l.a
}

type fillFunc func(*call.Frame) *call.Frame

func noArgs(f *call.Frame) *call.Frame { return f }

// invoke runs one routine. take runs on the succeeded frame before it
// closes; transient copies and unclaimed results are released after it.
func (l *Lib) invoke(ctx context.Context, name string, fill fillFunc, take func(*call.Frame) error) error {
	f, err := l.a.Begin(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			Logger().Warn("call cleanup failed", zap.String("routine", name), zap.Error(err))
		}
	}()

	if err := fill(f).Invoke(); err != nil {
		return err
	}
	if take == nil {
		return nil
	}
	return take(f)
}

func owning[K handle.Kind](ctx context.Context, l *Lib, name string, fill fillFunc) (*handle.Owning[K], error) {
	var h *handle.Owning[K]
	err := l.invoke(ctx, name, fill, func(f *call.Frame) (err error) {
		h, err = call.ResultOwning[K](f)
		return err
	})
	return h, err
}

func alias[K handle.Kind](ctx context.Context, l *Lib, name string, fill fillFunc) (handle.Alias[K], error) {
	var h handle.Alias[K]
	err := l.invoke(ctx, name, fill, func(f *call.Frame) (err error) {
		h, err = call.ResultAlias[K](f)
		return err
	})
	return h, err
}

func (l *Lib) str(ctx context.Context, name string, fill fillFunc) (*text.View, error) {
	var v *text.View
	err := l.invoke(ctx, name, fill, func(f *call.Frame) (err error) {
		v, err = f.ResultString()
		return err
	})
	return v, err
}

// ContextCreate creates a context the caller owns.
func (l *Lib) ContextCreate(ctx context.Context) (*handle.Owning[handle.Context], error) {
	return owning[handle.Context](ctx, l, "LLVMContextCreate", noArgs)
}

// GlobalContext returns the process-wide context. It is fetched once per
// Lib and never disposed, so only an alias is handed out.
func (l *Lib) GlobalContext(ctx context.Context) (handle.Alias[handle.Context], error) {
	l.globalOnce.Do(func() {
		l.global, l.globalErr = alias[handle.Context](ctx, l, "LLVMGetGlobalContext", noArgs)
	})
	return l.global, l.globalErr
}

// ModuleContext returns the context a module lives in.
func (l *Lib) ModuleContext(ctx context.Context, m handle.Ref) (handle.Alias[handle.Context], error) {
	return alias[handle.Context](ctx, l, "LLVMGetModuleContext", func(f *call.Frame) *call.Frame {
		return f.Handle(m)
	})
}

// NewStringError creates an error object carrying msg. The caller owns it
// until ErrorMessage consumes it.
func (l *Lib) NewStringError(ctx context.Context, msg string) (*handle.Owning[handle.Error], error) {
	return owning[handle.Error](ctx, l, "LLVMCreateStringError", func(f *call.Frame) *call.Frame {
		return f.Text(msg)
	})
}

// ErrorMessage reads the message of an error object, which consumes it.
func (l *Lib) ErrorMessage(ctx context.Context, e *handle.Owning[handle.Error]) (*text.View, error) {
	return l.a.ErrorMessage(ctx, e)
}
