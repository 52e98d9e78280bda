package handle

import (
	"context"
	"sync/atomic"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
)

// Ref is any handle that can be passed to a native routine.
type Ref interface {
	// Kind returns the handle kind name.
	Kind() string
	// Addr returns the raw address for identity comparison, whatever the
	// handle's state.
	Addr() llvmffi.Addr
	// Raw returns the address for passing to native code. It fails for an
	// owning handle that was released or converted to an alias.
	Raw() (llvmffi.Addr, error)
}

// Releaser runs the native disposer for a handle kind.
type Releaser interface {
	Release(ctx context.Context, kind string, raw llvmffi.Addr) error
}

// ReleaserFunc adapts a function to Releaser.
type ReleaserFunc func(ctx context.Context, kind string, raw llvmffi.Addr) error

// Release implements Releaser.
func (f ReleaserFunc) Release(ctx context.Context, kind string, raw llvmffi.Addr) error {
	return f(ctx, kind, raw)
}

const (
	stateArmed uint32 = iota
	stateReleased
	stateAliased
)

// Owning is a handle that carries exactly one release obligation.
//
// Release runs the kind's disposer at most once. A second Release, or a
// Release after IntoAlias, is caller misuse: it returns an error and never
// reaches native code.
type Owning[K Kind] struct {
	raw      llvmffi.Addr
	state    atomic.Uint32
	releaser Releaser
	ledger   *Ledger
	slot     Slot
}

// Option configures a new owning handle.
type Option func(*options)

type options struct {
	ledger *Ledger
}

// Tracked records the handle in l until it is released or aliased.
func Tracked(l *Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// NewOwning wraps raw as an owning handle released through r.
// A null raw address is rejected: a failed call never yields a handle.
func NewOwning[K Kind](raw llvmffi.Addr, r Releaser, opts ...Option) (*Owning[K], error) {
	kind := kindName[K]()
	if raw == llvmffi.Null {
		return nil, errors.NilHandle(errors.PhaseUnmarshal, "", kind)
	}
	if r == nil {
		return nil, errors.New(errors.PhaseUnmarshal, errors.KindInvalidInput).
			Handle(kind).
			Detail("owning handle without releaser").
			Build()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	h := &Owning[K]{raw: raw, releaser: r, ledger: o.ledger}
	if o.ledger != nil {
		h.slot = o.ledger.track(kind, raw)
	}
	return h, nil
}

// Kind returns the handle kind name.
func (h *Owning[K]) Kind() string {
	return kindName[K]()
}

// Addr returns the raw address regardless of state.
func (h *Owning[K]) Addr() llvmffi.Addr {
	if h == nil {
		return llvmffi.Null
	}
	return h.raw
}

// Raw returns the address while the handle still owns its object.
func (h *Owning[K]) Raw() (llvmffi.Addr, error) {
	if h == nil {
		return llvmffi.Null, errors.NilHandle(errors.PhaseMarshal, "", kindName[K]())
	}
	if h.state.Load() != stateArmed {
		return llvmffi.Null, errors.UseAfterRelease(errors.PhaseMarshal, h.Kind(), uint64(h.raw))
	}
	return h.raw, nil
}

// Owned reports whether the release obligation is still pending.
func (h *Owning[K]) Owned() bool {
	return h != nil && h.state.Load() == stateArmed
}

// Borrow returns an alias to the object without giving up ownership. The
// alias must not be used after h is released.
func (h *Owning[K]) Borrow() (Alias[K], error) {
	raw, err := h.Raw()
	if err != nil {
		return Alias[K]{}, err
	}
	return Alias[K]{raw: raw}, nil
}

// IntoAlias gives up the release obligation, typically because native code
// took ownership, and returns an alias to the same object. It is one way.
func (h *Owning[K]) IntoAlias() (Alias[K], error) {
	if err := h.Disown(); err != nil {
		return Alias[K]{}, err
	}
	return Alias[K]{raw: h.raw}, nil
}

// Disown is IntoAlias for callers that do not need the alias.
func (h *Owning[K]) Disown() error {
	if h == nil {
		return errors.NilHandle(errors.PhaseRelease, "", kindName[K]())
	}
	if !h.state.CompareAndSwap(stateArmed, stateAliased) {
		err := h.misuse()
		h.ledger.report(EventMisuse, h.Kind(), h.raw, err)
		return err
	}
	h.ledger.settle(h.slot, EventAliased, h.Kind(), h.raw, nil)
	return nil
}

// Release runs the native disposer. The obligation is spent even when the
// disposer fails.
func (h *Owning[K]) Release(ctx context.Context) error {
	if h == nil {
		return errors.NilHandle(errors.PhaseRelease, "", kindName[K]())
	}
	if !h.state.CompareAndSwap(stateArmed, stateReleased) {
		err := h.misuse()
		h.ledger.report(EventMisuse, h.Kind(), h.raw, err)
		return err
	}

	if err := h.releaser.Release(ctx, h.Kind(), h.raw); err != nil {
		h.ledger.settle(h.slot, EventReleaseFailed, h.Kind(), h.raw, err)
		return errors.New(errors.PhaseRelease, errors.KindNativeFailure).
			Handle(h.Kind()).
			Detail("dispose 0x%x", uint64(h.raw)).
			Cause(err).
			Build()
	}
	h.ledger.settle(h.slot, EventReleased, h.Kind(), h.raw, nil)
	return nil
}

func (h *Owning[K]) misuse() error {
	if h.state.Load() == stateAliased {
		return errors.AliasRelease(h.Kind(), uint64(h.raw))
	}
	return errors.DoubleRelease(h.Kind(), uint64(h.raw))
}

// Alias is a handle to an object owned elsewhere: by a parent object, by
// native code, or by another Owning handle. It has no release operation.
type Alias[K Kind] struct {
	raw llvmffi.Addr
}

// AliasOf wraps raw as an alias.
func AliasOf[K Kind](raw llvmffi.Addr) Alias[K] {
	return Alias[K]{raw: raw}
}

// Null returns the null alias of kind K.
func Null[K Kind]() Alias[K] {
	return Alias[K]{}
}

// Kind returns the handle kind name.
func (a Alias[K]) Kind() string {
	return kindName[K]()
}

// Addr returns the raw address.
func (a Alias[K]) Addr() llvmffi.Addr {
	return a.raw
}

// Raw returns the raw address. Aliases are never invalidated by this
// package; validity follows the owner.
func (a Alias[K]) Raw() (llvmffi.Addr, error) {
	return a.raw, nil
}

// IsNull reports whether the alias is the null handle.
func (a Alias[K]) IsNull() bool {
	return a.raw == llvmffi.Null
}

// Same reports whether two handles refer to the same native object.
func Same(a, b Ref) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.Addr() == b.Addr()
}
