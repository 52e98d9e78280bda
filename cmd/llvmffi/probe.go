package main

import (
	"context"
	"fmt"
	"io"

	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/llvm"
)

// probeReport is what a loaded library says about itself.
type probeReport struct {
	Triple     string
	Normalized string
	Target     string
	JIT        bool
	TargetErr  error
	IR         string
}

func (r *probeReport) print(w io.Writer) {
	fmt.Fprintf(w, "Default triple: %s\n", r.Triple)
	fmt.Fprintf(w, "Normalized:     %s\n", r.Normalized)
	if r.TargetErr != nil {
		fmt.Fprintf(w, "Target:         unavailable (%v)\n", r.TargetErr)
	} else {
		fmt.Fprintf(w, "Target:         %s (jit: %t)\n", r.Target, r.JIT)
	}
	fmt.Fprintf(w, "\n--- probe module ---\n%s", r.IR)
}

// probe exercises one round trip through every transfer policy: owned
// triple strings, a borrowed target name, transient names for a module and
// function, and the verifier's message slot.
func probe(ctx context.Context, l *llvm.Lib) (*probeReport, error) {
	var r probeReport

	triple, err := l.DefaultTargetTriple(ctx)
	if err != nil {
		return nil, fmt.Errorf("default triple: %w", err)
	}
	r.Triple = triple.String()

	norm, err := l.NormalizeTargetTriple(ctx, r.Triple)
	if err != nil {
		return nil, fmt.Errorf("normalize triple: %w", err)
	}
	r.Normalized = norm.String()

	if t, err := l.TargetFromTriple(ctx, r.Normalized); err != nil {
		// targets are only registered when the build initializes them
		r.TargetErr = err
	} else {
		name, err := l.TargetName(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("target name: %w", err)
		}
		r.Target = name.String()
		if r.JIT, err = l.TargetHasJIT(ctx, t); err != nil {
			return nil, fmt.Errorf("target jit: %w", err)
		}
	}

	ir, err := probeModule(ctx, l)
	if err != nil {
		return nil, err
	}
	r.IR = ir
	return &r, nil
}

func probeModule(ctx context.Context, l *llvm.Lib) (string, error) {
	c, err := l.ContextCreate(ctx)
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	defer c.Release(ctx)

	m, err := l.CreateModule(ctx, "probe", c)
	if err != nil {
		return "", fmt.Errorf("create module: %w", err)
	}
	defer m.Release(ctx)

	i32, err := l.Int32Type(ctx, c)
	if err != nil {
		return "", fmt.Errorf("i32 type: %w", err)
	}
	fnTy, err := l.FunctionType(ctx, i32, []handle.Ref{i32}, false)
	if err != nil {
		return "", fmt.Errorf("function type: %w", err)
	}
	if _, err := l.AddFunction(ctx, m, "probe", fnTy); err != nil {
		return "", fmt.Errorf("add function: %w", err)
	}
	if err := l.VerifyModule(ctx, m); err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}

	ir, err := l.PrintModuleToString(ctx, m)
	if err != nil {
		return "", fmt.Errorf("print module: %w", err)
	}
	return ir.String(), nil
}
