package llvm

import (
	"context"

	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/text"
)

// MemoryBufferCopy copies data into a new native memory buffer.
func (l *Lib) MemoryBufferCopy(ctx context.Context, data []byte, name string) (*handle.Owning[handle.MemoryBuffer], error) {
	return owning[handle.MemoryBuffer](ctx, l, "LLVMCreateMemoryBufferWithMemoryRangeCopy", func(f *call.Frame) *call.Frame {
		return f.Bytes(data).Value(uint64(len(data))).Text(name)
	})
}

// BufferSize returns the size of mb in bytes.
func (l *Lib) BufferSize(ctx context.Context, mb handle.Ref) (uint64, error) {
	var n uint64
	err := l.invoke(ctx, "LLVMGetBufferSize", func(f *call.Frame) *call.Frame {
		return f.Handle(mb)
	}, func(f *call.Frame) (err error) {
		n, err = f.Result()
		return err
	})
	return n, err
}

// BufferBytes returns the contents of mb as a raw window, undecoded. The
// window is valid while mb is; Detach it to keep it longer.
func (l *Lib) BufferBytes(ctx context.Context, mb handle.Ref) (text.Buffer, error) {
	n, err := l.BufferSize(ctx, mb)
	if err != nil {
		return text.Buffer{}, err
	}
	var buf text.Buffer
	err = l.invoke(ctx, "LLVMGetBufferStart", func(f *call.Frame) *call.Frame {
		return f.Handle(mb)
	}, func(f *call.Frame) (err error) {
		buf, _, err = f.ResultRaw(n)
		return err
	})
	return buf, err
}

// ParseIR parses textual IR in c. The buffer is consumed whatever the
// outcome: mb no longer owns anything once the call is made. A parse error
// is a native failure carrying the diagnostic.
func (l *Lib) ParseIR(ctx context.Context, c handle.Ref, mb *handle.Owning[handle.MemoryBuffer]) (*handle.Owning[handle.Module], error) {
	var m *handle.Owning[handle.Module]
	err := l.invoke(ctx, "LLVMParseIRInContext", func(f *call.Frame) *call.Frame {
		return f.Handle(c).Handle(mb).Out().Out()
	}, func(f *call.Frame) (err error) {
		m, err = call.OutOwning[handle.Module](f, "OutM")
		return err
	})
	return m, err
}

// CreateBinary interprets mb as an object file. c may be nil.
func (l *Lib) CreateBinary(ctx context.Context, mb, c handle.Ref) (*handle.Owning[handle.Binary], error) {
	return owning[handle.Binary](ctx, l, "LLVMCreateBinary", func(f *call.Frame) *call.Frame {
		return f.Handle(mb).Handle(c).Out()
	})
}
