package llvm

import (
	"context"

	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/text"
)

// Int32Type returns the i32 type of c.
func (l *Lib) Int32Type(ctx context.Context, c handle.Ref) (handle.Alias[handle.Type], error) {
	return alias[handle.Type](ctx, l, "LLVMInt32TypeInContext", func(f *call.Frame) *call.Frame {
		return f.Handle(c)
	})
}

// FunctionType returns the function type ret(params...).
func (l *Lib) FunctionType(ctx context.Context, ret handle.Ref, params []handle.Ref, variadic bool) (handle.Alias[handle.Type], error) {
	return alias[handle.Type](ctx, l, "LLVMFunctionType", func(f *call.Frame) *call.Frame {
		return f.Handle(ret).Handles(params).Value(uint64(len(params))).Bool(variadic)
	})
}

// AddFunction declares a function in m. The function belongs to the module.
func (l *Lib) AddFunction(ctx context.Context, m handle.Ref, name string, fnType handle.Ref) (handle.Alias[handle.Value], error) {
	return alias[handle.Value](ctx, l, "LLVMAddFunction", func(f *call.Frame) *call.Frame {
		return f.Handle(m).Text(name).Handle(fnType)
	})
}

// NamedFunction looks up a function by name. The null alias means there is
// no such function.
func (l *Lib) NamedFunction(ctx context.Context, m handle.Ref, name string) (handle.Alias[handle.Value], error) {
	return alias[handle.Value](ctx, l, "LLVMGetNamedFunction", func(f *call.Frame) *call.Frame {
		return f.Handle(m).Text(name)
	})
}

// ValueName returns the name of v as a window into native memory. An
// unnamed value has an empty, present name.
func (l *Lib) ValueName(ctx context.Context, v handle.Ref) (*text.View, error) {
	return l.str(ctx, "LLVMGetValueName2", func(f *call.Frame) *call.Frame {
		return f.Handle(v).Out()
	})
}

// SetValueName renames v.
func (l *Lib) SetValueName(ctx context.Context, v handle.Ref, name *text.View) error {
	if name == nil {
		name = text.FromString("")
	}
	return l.invoke(ctx, "LLVMSetValueName2", func(f *call.Frame) *call.Frame {
		return f.Handle(v).StringLen(name)
	}, nil)
}

// CreateBuilder creates an instruction builder in c.
func (l *Lib) CreateBuilder(ctx context.Context, c handle.Ref) (*handle.Owning[handle.Builder], error) {
	return owning[handle.Builder](ctx, l, "LLVMCreateBuilderInContext", func(f *call.Frame) *call.Frame {
		return f.Handle(c)
	})
}

// AppendBasicBlock appends a block to fn.
func (l *Lib) AppendBasicBlock(ctx context.Context, c, fn handle.Ref, name string) (handle.Alias[handle.BasicBlock], error) {
	return alias[handle.BasicBlock](ctx, l, "LLVMAppendBasicBlockInContext", func(f *call.Frame) *call.Frame {
		return f.Handle(c).Handle(fn).Text(name)
	})
}

// PositionAtEnd moves b to the end of bb.
func (l *Lib) PositionAtEnd(ctx context.Context, b, bb handle.Ref) error {
	return l.invoke(ctx, "LLVMPositionBuilderAtEnd", func(f *call.Frame) *call.Frame {
		return f.Handle(b).Handle(bb)
	}, nil)
}

// BuildRetVoid emits ret void at the builder position.
func (l *Lib) BuildRetVoid(ctx context.Context, b handle.Ref) (handle.Alias[handle.Value], error) {
	return alias[handle.Value](ctx, l, "LLVMBuildRetVoid", func(f *call.Frame) *call.Frame {
		return f.Handle(b)
	})
}
