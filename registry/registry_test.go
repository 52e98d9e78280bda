package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/marshal"
	"github.com/wippyai/llvm-ffi/nativetest"
)

func TestTablesValidate(t *testing.T) {
	require.NoError(t, Validate())
}

func TestReleases_Lookup(t *testing.T) {
	tests := []struct {
		kind     string
		routine  string
		implicit bool
	}{
		{"Module", "LLVMDisposeModule", false},
		{"Context", "LLVMContextDispose", false},
		{"Error", "LLVMConsumeError", false},
		{"Message", "LLVMDisposeMessage", false},
		{"ErrorMessage", "LLVMDisposeErrorMessage", false},
		{"Value", "", true},
		{"Type", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			d, ok := Releases.Lookup(tt.kind)
			require.True(t, ok)
			assert.Equal(t, tt.routine, d.Routine)
			assert.Equal(t, tt.implicit, d.Implicit())
		})
	}

	_, ok := Releases.Lookup("Nope")
	assert.False(t, ok)
}

func TestReleases_CoverEveryHandleKind(t *testing.T) {
	for _, k := range handle.Kinds() {
		_, ok := Releases.Lookup(k)
		assert.True(t, ok, "kind %s", k)
	}
	all := Releases.All()
	assert.Len(t, all, Releases.Len())
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Kind, all[i].Kind)
	}
}

func TestRoutines_Lookup(t *testing.T) {
	r, ok := Routines.Lookup("LLVMParseIRInContext")
	require.True(t, ok)
	assert.Equal(t, StatusBoolFailure, r.Status)

	i, p, ok := r.Param("MemBuf")
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, OwnConsumed, p.Ownership)

	mi, ok := r.MessageParam()
	require.True(t, ok)
	assert.Equal(t, "OutMessage", r.Params[mi].Name)

	r, ok = Routines.Lookup("LLVMGetModuleIdentifier")
	require.True(t, ok)
	assert.Equal(t, marshal.InboundBorrowed, r.Result.Policy)
	assert.Equal(t, "Len", r.Result.Length)

	r, ok = Routines.Lookup("LLVMPrintModuleToString")
	require.True(t, ok)
	assert.Equal(t, marshal.InboundOwned, r.Result.Policy)
	assert.Equal(t, Message, r.Result.Dealloc)

	r, ok = Routines.Lookup("LLVMGetErrorMessage")
	require.True(t, ok)
	assert.Equal(t, ErrorMessage, r.Result.Dealloc)

	_, ok = Routines.Lookup("LLVMDoesNotExist")
	assert.False(t, ok)
}

func TestRoutines_EveryStringSlotHasOnePolicy(t *testing.T) {
	for _, r := range Routines.All() {
		for _, p := range r.Params {
			switch p.Kind {
			case ParamString, ParamBytes, ParamOutString:
				assert.NotEqual(t, marshal.None, p.Policy, "%s.%s", r.Name, p.Name)
			default:
				assert.Equal(t, marshal.None, p.Policy, "%s.%s", r.Name, p.Name)
			}
		}
		if r.Result.Shape == ShapeString {
			assert.True(t, r.Result.Policy.Inbound(), r.Name)
		}
	}
}

func TestRoutines_NullableStringsTakeLength(t *testing.T) {
	var nullable []string
	for _, r := range Routines.All() {
		for i, p := range r.Params {
			if p.Kind != ParamString || !p.Nullable {
				continue
			}
			nullable = append(nullable, r.Name+"."+p.Name)
			require.Less(t, i+1, len(r.Params), r.Name)
			assert.Equal(t, ParamValue, r.Params[i+1].Kind, "%s.%s is not followed by its length", r.Name, p.Name)
		}
	}
	assert.ElementsMatch(t, []string{"LLVMSetModuleIdentifier.Ident", "LLVMSetValueName2.Name"}, nullable)
}

func TestValidateRoutine_Rejects(t *testing.T) {
	tests := []struct {
		name string
		r    Routine
		want string
	}{
		{
			name: "name prefix",
			r:    Routine{Name: "CreateThing"},
			want: "startswith",
		},
		{
			name: "owned string without deallocator",
			r: Routine{
				Name:   "LLVMBad1",
				Result: Result{Shape: ShapeString, Policy: marshal.InboundOwned},
			},
			want: "without deallocator",
		},
		{
			name: "outbound string with inbound policy",
			r: Routine{
				Name:   "LLVMBad2",
				Params: []Param{{Name: "S", Kind: ParamString, Policy: marshal.InboundBorrowed}},
			},
			want: "outbound text",
		},
		{
			name: "transfer of implicit kind",
			r: Routine{
				Name:   "LLVMBad3",
				Result: Result{Shape: ShapeHandle, Handle: "Value", Ownership: OwnTransfer},
			},
			want: "no disposer",
		},
		{
			name: "unknown handle kind",
			r: Routine{
				Name:   "LLVMBad4",
				Params: []Param{{Name: "X", Kind: ParamHandle, Handle: "Widget"}},
			},
			want: "handlekind",
		},
		{
			name: "length is not an out value",
			r: Routine{
				Name:   "LLVMBad5",
				Params: []Param{handleParam("M", "Module")},
				Result: Result{Shape: ShapeString, Policy: marshal.InboundBorrowed, Length: "M"},
			},
			want: "not an out value",
		},
		{
			name: "error ref status without error result",
			r: Routine{
				Name:   "LLVMBad6",
				Result: Result{Shape: ShapeStatus},
				Status: StatusErrorRef,
			},
			want: "owned Error result",
		},
		{
			name: "two message params",
			r: Routine{
				Name:   "LLVMBad7",
				Params: []Param{outMessage("A"), outMessage("B")},
			},
			want: "more than one message",
		},
		{
			name: "string dealloc used as handle",
			r: Routine{
				Name:   "LLVMBad8",
				Params: []Param{{Name: "X", Kind: ParamHandle, Handle: "Message"}},
			},
			want: "handlekind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoutine(tt.r)
			require.Error(t, err)
			assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRegistry, Kind: errors.KindInvalidInput})
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReleaser(t *testing.T) {
	ctx := context.Background()
	lib := nativetest.New()

	var disposed []llvmffi.Addr
	lib.Register("LLVMDisposeModule", func(_ context.Context, args []uint64) ([]uint64, error) {
		disposed = append(disposed, llvmffi.Addr(args[0]))
		return nil, nil
	})
	lib.Register("LLVMDisposeMessage", func(ctx context.Context, args []uint64) ([]uint64, error) {
		return nil, lib.Free(ctx, llvmffi.Addr(args[0]))
	})

	r := NewReleaser(lib)

	require.NoError(t, r.Release(ctx, "Module", 0x1000))
	assert.Equal(t, []llvmffi.Addr{0x1000}, disposed)

	// implicit kinds never reach native code
	require.NoError(t, r.Release(ctx, "Value", 0x2000))
	assert.Len(t, disposed, 1)

	err := r.Release(ctx, "Widget", 0x3000)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRelease, Kind: errors.KindNotFound})

	err = r.Release(ctx, "Builder", 0x3000)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRelease, Kind: errors.KindNotFound})

	err = r.Release(ctx, "Module", llvmffi.Null)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRelease, Kind: errors.KindNilHandle})

	msg := lib.PutString("diagnostic")
	release := r.Func(Message)
	require.NoError(t, release(ctx, msg))
	assert.Equal(t, 1, lib.Freed(msg))
}

func TestReleaser_AsHandleReleaser(t *testing.T) {
	ctx := context.Background()
	lib := nativetest.New()
	calls := 0
	lib.Register("LLVMContextDispose", func(context.Context, []uint64) ([]uint64, error) {
		calls++
		return nil, nil
	})

	c, err := handle.NewOwning[handle.Context](0x10, NewReleaser(lib))
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx))
	require.Error(t, c.Release(ctx))
	assert.Equal(t, 1, calls)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "out string", ParamOutString.String())
	assert.True(t, ParamOutHandle.Out())
	assert.False(t, ParamHandle.Out())
	assert.Equal(t, "status", ShapeStatus.String())
	assert.Equal(t, "error-ref", StatusErrorRef.String())
	assert.Equal(t, "consumed", OwnConsumed.String())

	b, err := OwnTransfer.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "transfer", string(b))
}
