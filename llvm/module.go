package llvm

import (
	"context"

	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/text"
)

// VerifierFailureAction selects what LLVMVerifyModule does on failure.
type VerifierFailureAction uint64

const (
	AbortProcessAction VerifierFailureAction = iota
	PrintMessageAction
	ReturnStatusAction
)

// CreateModule creates an empty module in c.
func (l *Lib) CreateModule(ctx context.Context, name string, c handle.Ref) (*handle.Owning[handle.Module], error) {
	return owning[handle.Module](ctx, l, "LLVMModuleCreateWithNameInContext", func(f *call.Frame) *call.Frame {
		return f.Text(name).Handle(c)
	})
}

// CloneModule returns an independent copy of m.
func (l *Lib) CloneModule(ctx context.Context, m handle.Ref) (*handle.Owning[handle.Module], error) {
	return owning[handle.Module](ctx, l, "LLVMCloneModule", func(f *call.Frame) *call.Frame {
		return f.Handle(m)
	})
}

// ModuleIdentifier returns the module identifier as a window into native
// memory. It is valid until the identifier changes or the module is
// disposed; Detach it to keep it longer.
func (l *Lib) ModuleIdentifier(ctx context.Context, m handle.Ref) (*text.View, error) {
	return l.str(ctx, "LLVMGetModuleIdentifier", func(f *call.Frame) *call.Frame {
		return f.Handle(m).Out()
	})
}

// SetModuleIdentifier replaces the module identifier. Embedded NULs are
// kept because the length is passed explicitly.
func (l *Lib) SetModuleIdentifier(ctx context.Context, m handle.Ref, id *text.View) error {
	if id == nil {
		id = text.FromString("")
	}
	return l.invoke(ctx, "LLVMSetModuleIdentifier", func(f *call.Frame) *call.Frame {
		return f.Handle(m).StringLen(id)
	}, nil)
}

// PrintModuleToString renders m as textual IR.
func (l *Lib) PrintModuleToString(ctx context.Context, m handle.Ref) (*text.View, error) {
	return l.str(ctx, "LLVMPrintModuleToString", func(f *call.Frame) *call.Frame {
		return f.Handle(m)
	})
}

// PrintModuleToFile writes m as textual IR to path.
func (l *Lib) PrintModuleToFile(ctx context.Context, m handle.Ref, path string) error {
	return l.invoke(ctx, "LLVMPrintModuleToFile", func(f *call.Frame) *call.Frame {
		return f.Handle(m).Text(path).Out()
	}, nil)
}

// VerifyModule checks m. A broken module yields a native failure whose
// message is the verifier report with line endings normalized.
func (l *Lib) VerifyModule(ctx context.Context, m handle.Ref) error {
	return l.invoke(ctx, "LLVMVerifyModule", func(f *call.Frame) *call.Frame {
		return f.Handle(m).Value(uint64(ReturnStatusAction)).Out()
	}, nil)
}
