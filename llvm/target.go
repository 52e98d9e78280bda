package llvm

import (
	"context"

	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/text"
)

// DefaultTargetTriple returns the triple the library was configured for.
func (l *Lib) DefaultTargetTriple(ctx context.Context) (*text.View, error) {
	return l.str(ctx, "LLVMGetDefaultTargetTriple", noArgs)
}

// NormalizeTargetTriple returns triple in canonical form.
func (l *Lib) NormalizeTargetTriple(ctx context.Context, triple string) (*text.View, error) {
	return l.str(ctx, "LLVMNormalizeTargetTriple", func(f *call.Frame) *call.Frame {
		return f.Text(triple)
	})
}

// TargetFromTriple looks up the registered target for triple.
func (l *Lib) TargetFromTriple(ctx context.Context, triple string) (handle.Alias[handle.Target], error) {
	var t handle.Alias[handle.Target]
	err := l.invoke(ctx, "LLVMGetTargetFromTriple", func(f *call.Frame) *call.Frame {
		return f.Text(triple).Out().Out()
	}, func(f *call.Frame) (err error) {
		t, err = call.OutAlias[handle.Target](f, "T")
		return err
	})
	return t, err
}

// TargetName returns the short name of t. Target names are static.
func (l *Lib) TargetName(ctx context.Context, t handle.Ref) (*text.View, error) {
	return l.str(ctx, "LLVMGetTargetName", func(f *call.Frame) *call.Frame {
		return f.Handle(t)
	})
}

// TargetHasJIT reports whether t can JIT.
func (l *Lib) TargetHasJIT(ctx context.Context, t handle.Ref) (bool, error) {
	var ok bool
	err := l.invoke(ctx, "LLVMTargetHasJIT", func(f *call.Frame) *call.Frame {
		return f.Handle(t)
	}, func(f *call.Frame) (err error) {
		ok, err = f.ResultBool()
		return err
	})
	return ok, err
}
