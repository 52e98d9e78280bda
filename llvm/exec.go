package llvm

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/llvm-ffi/call"
	"github.com/wippyai/llvm-ffi/handle"
)

// CreateExecutionEngine hands m to a new execution engine. The engine owns
// the module from then on, whatever the outcome; the returned alias refers
// to it while the engine lives.
func (l *Lib) CreateExecutionEngine(ctx context.Context, m *handle.Owning[handle.Module]) (*handle.Owning[handle.ExecutionEngine], handle.Alias[handle.Module], error) {
	mod := handle.AliasOf[handle.Module](m.Addr())
	var ee *handle.Owning[handle.ExecutionEngine]
	err := l.invoke(ctx, "LLVMCreateExecutionEngineForModule", func(f *call.Frame) *call.Frame {
		return f.Out().Handle(m).Out()
	}, func(f *call.Frame) (err error) {
		ee, err = call.OutOwning[handle.ExecutionEngine](f, "OutEE")
		return err
	})
	if err != nil {
		return nil, handle.Alias[handle.Module]{}, err
	}
	return ee, mod, nil
}

// CreatePassBuilderOptions creates default pass builder options.
func (l *Lib) CreatePassBuilderOptions(ctx context.Context) (*handle.Owning[handle.PassBuilderOptions], error) {
	return owning[handle.PassBuilderOptions](ctx, l, "LLVMCreatePassBuilderOptions", noArgs)
}

// RunPasses runs a textual pass pipeline such as "default<O2>" over m with
// no target machine. A rejected pipeline yields a native failure carrying
// the message of the returned error object, which has been consumed.
func (l *Lib) RunPasses(ctx context.Context, m handle.Ref, passes string, opts handle.Ref) error {
	err := l.invoke(ctx, "LLVMRunPasses", func(f *call.Frame) *call.Frame {
		return f.Handle(m).Text(passes).Handle(nil).Handle(opts)
	}, nil)
	if err == nil {
		Logger().Debug("passes ran", zap.String("pipeline", passes))
	}
	return err
}
