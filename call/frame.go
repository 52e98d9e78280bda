package call

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/marshal"
	"github.com/wippyai/llvm-ffi/registry"
	"github.com/wippyai/llvm-ffi/text"
)

// out slots are 8 bytes and zeroed, wide enough for a pointer or size_t
// on every supported target
const outSlotSize = 8

type frameState uint8

const (
	stateBuilding frameState = iota
	stateSucceeded
	stateFailed
	stateClosed
)

type outSlot struct {
	addr  llvmffi.Addr
	taken bool
}

type disowner interface {
	handle.Ref
	Disown() error
}

// Frame is one call to a native routine. Arguments are supplied in table
// order with the chaining methods, then Invoke runs the routine and applies
// its status convention, and the result accessors apply the result's
// transfer policy. Close releases every transient allocation and anything
// owned that the caller did not take, and must run on every exit path:
//
//	f, err := a.Begin(ctx, "LLVMPrintModuleToString")
//	if err != nil {
//		return nil, err
//	}
//	defer f.Close()
//	if err := f.Handle(mod).Invoke(); err != nil {
//		return nil, err
//	}
//	return f.ResultString()
//
// The first argument error is sticky: later arguments are ignored and
// Invoke returns it without reaching native code.
type Frame struct {
	ctx         context.Context
	a           *Adapter
	routine     registry.Routine
	fn          llvmffi.Func
	scope       *marshal.Scope
	args        []uint64
	outs        []outSlot
	consumed    []disowner
	err         error
	callErr     error
	results     []uint64
	message     *text.View
	messageErr  error
	probe       uint64
	resultTaken bool
	state       frameState
}

func newFrame(ctx context.Context, a *Adapter, r registry.Routine, fn llvmffi.Func) *Frame {
	return &Frame{
		ctx:     ctx,
		a:       a,
		routine: r,
		fn:      fn,
		scope:   marshal.NewScope(ctx, a.lib.Memory(), a.lib.Allocator()),
		args:    make([]uint64, 0, len(r.Params)),
		outs:    make([]outSlot, len(r.Params)),
	}
}

// Routine returns the table row driving the frame.
func (f *Frame) Routine() registry.Routine {
	return f.routine
}

// Err returns the first argument error, if any.
func (f *Frame) Err() error {
	return f.err
}

// Value passes an integer, LLVMBool or enum argument.
func (f *Frame) Value(v uint64) *Frame {
	if _, _, ok := f.next(is(registry.ParamValue), "value"); ok {
		f.args = append(f.args, v)
	}
	return f
}

// Bool passes an LLVMBool argument.
func (f *Frame) Bool(b bool) *Frame {
	if b {
		return f.Value(1)
	}
	return f.Value(0)
}

// String passes text under the OutboundTransient policy. An absent view is
// passed as the null pointer, and only where the parameter is nullable.
func (f *Frame) String(v *text.View) *Frame {
	_, p, ok := f.next(is(registry.ParamString), "string")
	if !ok {
		return f
	}
	if p.Policy != marshal.OutboundTransient {
		f.fail(errors.PolicyMismatch(f.routine.Name, p.Name, p.Policy.String(), marshal.OutboundTransient.String()))
		return f
	}
	if !v.Present() && !p.Nullable {
		f.fail(errors.AbsentString(f.routine.Name, p.Name))
		return f
	}
	addr, err := f.scope.Outbound(v)
	if err != nil {
		f.fail(err)
		return f
	}
	f.args = append(f.args, uint64(addr))
	return f
}

// Text passes a Go string under the OutboundTransient policy.
func (f *Frame) Text(s string) *Frame {
	return f.String(text.FromString(s))
}

// StringLen passes text followed by its byte length, for routines taking a
// pointer and length pair.
func (f *Frame) StringLen(v *text.View) *Frame {
	return f.String(v).Value(uint64(v.Len()))
}

// Bytes passes raw bytes under the OutboundTransient policy.
func (f *Frame) Bytes(b []byte) *Frame {
	_, p, ok := f.next(is(registry.ParamBytes), "bytes")
	if !ok {
		return f
	}
	if p.Policy != marshal.OutboundTransient {
		f.fail(errors.PolicyMismatch(f.routine.Name, p.Name, p.Policy.String(), marshal.OutboundTransient.String()))
		return f
	}
	addr, err := f.scope.OutboundBytes(b)
	if err != nil {
		f.fail(err)
		return f
	}
	f.args = append(f.args, uint64(addr))
	return f
}

// Handle passes an object handle. Owning and alias handles are passed the
// same way; a parameter the routine consumes requires an owning handle,
// which gives up its release obligation when the call is made.
func (f *Frame) Handle(h handle.Ref) *Frame {
	_, p, ok := f.next(is(registry.ParamHandle), "handle")
	if !ok {
		return f
	}
	raw, err := f.raw(p, h)
	if err != nil {
		f.fail(err)
		return f
	}
	if p.Ownership == registry.OwnConsumed {
		d, ok := h.(disowner)
		if !ok {
			f.fail(errors.PolicyMismatch(f.routine.Name, p.Name, "owning handle", "alias"))
			return f
		}
		f.consumed = append(f.consumed, d)
	}
	f.args = append(f.args, uint64(raw))
	return f
}

// Handles passes an array of object handles. An empty array is passed as
// the null pointer.
func (f *Frame) Handles(hs []handle.Ref) *Frame {
	_, p, ok := f.next(is(registry.ParamHandleArray), "handle array")
	if !ok {
		return f
	}
	if len(hs) == 0 {
		f.args = append(f.args, uint64(llvmffi.Null))
		return f
	}

	width := uint64(f.a.lib.PointerSize())
	buf := make([]byte, uint64(len(hs))*width)
	elem := p
	elem.Nullable = false
	for i, h := range hs {
		raw, err := f.raw(elem, h)
		if err != nil {
			f.fail(err)
			return f
		}
		for b := uint64(0); b < width; b++ {
			buf[uint64(i)*width+b] = byte(uint64(raw) >> (8 * b))
		}
	}

	addr, err := f.scope.OutSlot(uint64(len(buf)))
	if err != nil {
		f.fail(err)
		return f
	}
	if err := f.a.lib.Memory().Write(addr, buf); err != nil {
		f.fail(errors.Wrap(errors.PhaseMarshal, errors.KindOutOfBounds, err, "write handle array"))
		return f
	}
	f.args = append(f.args, uint64(addr))
	return f
}

// Out passes a zeroed slot for the next out-parameter.
func (f *Frame) Out() *Frame {
	i, _, ok := f.next(registry.ParamKind.Out, "out slot")
	if !ok {
		return f
	}
	addr, err := f.scope.OutSlot(outSlotSize)
	if err != nil {
		f.fail(err)
		return f
	}
	f.outs[i] = outSlot{addr: addr}
	f.args = append(f.args, uint64(addr))
	return f
}

// Invoke runs the routine and applies its status convention. A reported
// failure comes back as an errors.KindNativeFailure error carrying the
// decoded message, which has already been released.
func (f *Frame) Invoke() error {
	name := f.routine.Name
	if f.state != stateBuilding {
		return errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Routine(name).
			Detail("frame already invoked").
			Build()
	}
	if f.err == nil && len(f.args) != len(f.routine.Params) {
		f.fail(errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Routine(name).
			Detail("%d of %d arguments supplied", len(f.args), len(f.routine.Params)).
			Build())
	}
	if f.err != nil {
		f.state = stateFailed
		f.callErr = f.err
		return f.err
	}

	for _, d := range f.consumed {
		if err := d.Disown(); err != nil {
			f.state = stateFailed
			f.callErr = err
			return err
		}
	}

	Logger().Debug("call", zap.String("routine", name), zap.Int("args", len(f.args)))

	results, err := f.fn.Call(f.ctx, f.args...)
	if err != nil {
		f.state = stateFailed
		f.callErr = errors.New(errors.PhaseCall, errors.KindNativeFailure).
			Routine(name).
			Detail("native call failed").
			Cause(err).
			Build()
		f.a.notify(name, f.callErr)
		return f.callErr
	}
	f.results = results

	f.callErr = f.checkStatus()
	if f.callErr != nil {
		f.state = stateFailed
		Logger().Debug("call failed", zap.String("routine", name), zap.Error(f.callErr))
	} else {
		f.state = stateSucceeded
	}
	f.a.notify(name, f.callErr)
	return f.callErr
}

func (f *Frame) checkStatus() error {
	name := f.routine.Name
	word := f.Word()

	var failed bool
	var detail string
	switch f.routine.Status {
	case registry.StatusBoolFailure:
		failed = word != 0
	case registry.StatusEnum:
		failed = word != 0
		detail = fmt.Sprintf("status %d", int32(word))
	case registry.StatusNull:
		failed = word == 0
	case registry.StatusErrorRef:
		if word != 0 {
			f.resultTaken = true
			return f.errorRefFailure(llvmffi.Addr(word))
		}
	}

	msg, merr := f.takeMessage()
	if failed {
		e := errors.NativeFailure(name, msg.Lines())
		e.Detail = detail
		e.Cause = merr
		return e
	}
	// success stands even when the message could not be copied or released
	f.message = msg
	f.messageErr = merr
	return nil
}

func (f *Frame) errorRefFailure(raw llvmffi.Addr) error {
	e, err := handle.NewOwning[handle.Error](raw, f.a.releaser)
	if err != nil {
		return err
	}
	msg, merr := f.a.ErrorMessage(f.ctx, e)
	if merr != nil && e.Owned() {
		// the message was never read, so the object is consumed without it
		if rerr := e.Release(context.WithoutCancel(f.ctx)); rerr != nil {
			Logger().Warn("consume error object",
				zap.String("routine", f.routine.Name),
				zap.Error(rerr))
		}
	}
	out := errors.NativeFailure(f.routine.Name, msg.Lines())
	out.Cause = merr
	return out
}

func (f *Frame) takeMessage() (*text.View, error) {
	i, ok := f.routine.MessageParam()
	if !ok {
		return nil, nil
	}
	return f.outString(i)
}

// Word returns the raw result word, zero for void routines.
func (f *Frame) Word() uint64 {
	if len(f.results) == 0 {
		return 0
	}
	return f.results[0]
}

// ResultBool returns the result of a predicate routine.
func (f *Frame) ResultBool() (bool, error) {
	if err := f.ready(); err != nil {
		return false, err
	}
	return f.Word() != 0, nil
}

// Result returns a plain value result.
func (f *Frame) Result() (uint64, error) {
	if err := f.ready(); err != nil {
		return 0, err
	}
	if f.routine.Result.Shape != registry.ShapeValue {
		return 0, errors.PolicyMismatch(f.routine.Name, "result", f.routine.Result.Shape.String(), "value")
	}
	return f.Word(), nil
}

// Message returns the message a successful routine reported, such as
// verifier warnings, already copied and released. Nil when there was none.
func (f *Frame) Message() *text.View {
	return f.message
}

// MessageErr returns the error from copying or releasing the message of a
// successful routine. Close reports it too.
func (f *Frame) MessageErr() error {
	return f.messageErr
}

// ResultString applies the result's string policy: a borrowed window, or a
// copy of a native allocation that is then released with the routine's
// deallocator. A null result is absent. For a borrowed result with a
// length, a null pointer with a non-zero length is a length probe: the
// result is absent and ProbedLength reports the length.
func (f *Frame) ResultString() (*text.View, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	res := f.routine.Result
	if res.Shape != registry.ShapeString {
		return nil, errors.PolicyMismatch(f.routine.Name, "result", res.Shape.String(), "string")
	}
	if f.resultTaken {
		return nil, f.taken("result")
	}
	f.resultTaken = true

	addr := llvmffi.Addr(f.Word())
	length, hasLength, err := f.resultLength()
	if err != nil {
		if res.Policy == marshal.InboundOwned && addr != llvmffi.Null {
			_ = f.a.releaser.Release(context.WithoutCancel(f.ctx), res.Dealloc, addr)
		}
		return nil, err
	}

	mem := f.a.lib.Memory()
	switch res.Policy {
	case marshal.InboundBorrowed:
		if !hasLength {
			return marshal.BorrowedCString(mem, addr)
		}
		if marshal.IsProbe(addr, length) {
			f.probe, _ = marshal.Probe(addr, length)
			return nil, nil
		}
		return marshal.Borrowed(mem, addr, length)
	case marshal.InboundOwned:
		release := f.a.releaser.Func(res.Dealloc)
		if hasLength {
			return marshal.Owned(f.ctx, mem, addr, length, release)
		}
		return marshal.OwnedCString(f.ctx, mem, addr, release)
	default:
		return nil, errors.PolicyMismatch(f.routine.Name, "result", res.Policy.String(), marshal.InboundBorrowed.String())
	}
}

// ResultRaw returns length bytes of an InboundRaw result without decoding.
// The boolean is false for a null result.
func (f *Frame) ResultRaw(length uint64) (text.Buffer, bool, error) {
	if err := f.ready(); err != nil {
		return text.Buffer{}, false, err
	}
	res := f.routine.Result
	if res.Shape != registry.ShapeString || res.Policy != marshal.InboundRaw {
		return text.Buffer{}, false, errors.PolicyMismatch(f.routine.Name, "result", res.Policy.String(), marshal.InboundRaw.String())
	}
	f.resultTaken = true
	return marshal.Raw(f.a.lib.Memory(), llvmffi.Addr(f.Word()), length)
}

// ProbedLength returns the length reported by a length-probe result.
func (f *Frame) ProbedLength() (uint64, bool) {
	return f.probe, f.probe != 0
}

// OutValue reads an out value parameter.
func (f *Frame) OutValue(name string) (uint64, error) {
	i, err := f.outParam(name, registry.ParamOutValue)
	if err != nil {
		return 0, err
	}
	return f.readSlot(i)
}

// OutString applies an out string parameter's policy. The message
// parameter of a routine is read by Invoke; OutString returns that copy.
func (f *Frame) OutString(name string) (*text.View, error) {
	i, err := f.outParam(name, registry.ParamOutString)
	if err != nil {
		return nil, err
	}
	if f.routine.Params[i].Message {
		return f.message, nil
	}
	return f.outString(i)
}

// Close releases the call's transient allocations and any owned result or
// out-parameter the caller did not take. It also reports a failure to
// release the message of a successful routine. Calling Close again does
// nothing.
func (f *Frame) Close() error {
	if f.state == stateClosed {
		return nil
	}
	prev := f.state
	f.state = stateClosed

	var firstErr error
	if prev == stateSucceeded {
		firstErr = f.releaseUnclaimed()
		if firstErr == nil {
			firstErr = f.messageErr
		}
	}
	if err := f.scope.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if f.a.observer != nil {
		f.a.observer.OnTransients(f.scope.Total(), f.scope.Bytes())
	}
	return firstErr
}

func (f *Frame) releaseUnclaimed() error {
	ctx := context.WithoutCancel(f.ctx)
	var firstErr error
	release := func(kind string, addr llvmffi.Addr) {
		if addr == llvmffi.Null {
			return
		}
		Logger().Warn("releasing unclaimed native result",
			zap.String("routine", f.routine.Name),
			zap.String("kind", kind),
			zap.Uint64("addr", uint64(addr)))
		if err := f.a.releaser.Release(ctx, kind, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	res := f.routine.Result
	if !f.resultTaken {
		switch {
		case res.Shape == registry.ShapeString && res.Policy == marshal.InboundOwned:
			release(res.Dealloc, llvmffi.Addr(f.Word()))
		case res.Shape == registry.ShapeHandle && res.Ownership == registry.OwnTransfer:
			release(res.Handle, llvmffi.Addr(f.Word()))
		}
	}

	for i, p := range f.routine.Params {
		s := f.outs[i]
		if s.taken || s.addr == llvmffi.Null {
			continue
		}
		var kind string
		switch {
		case p.Kind == registry.ParamOutString && p.Policy == marshal.InboundOwned:
			kind = p.Dealloc
		case p.Kind == registry.ParamOutHandle && p.Ownership == registry.OwnTransfer:
			kind = p.Handle
		default:
			continue
		}
		v, err := f.readSlot(i)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		release(kind, llvmffi.Addr(v))
	}
	return firstErr
}

// ResultOwning wraps a transferred handle result. A null result is an
// error: a failed call never yields a handle.
func ResultOwning[K handle.Kind](f *Frame) (*handle.Owning[K], error) {
	if err := f.resultHandle(kindOf[K](), registry.OwnTransfer); err != nil {
		return nil, err
	}
	return Own[K](f.a, llvmffi.Addr(f.Word()))
}

// ResultAlias wraps a borrowed handle result. A null result is the null
// alias.
func ResultAlias[K handle.Kind](f *Frame) (handle.Alias[K], error) {
	if err := f.resultHandle(kindOf[K](), registry.OwnBorrowed); err != nil {
		return handle.Alias[K]{}, err
	}
	return handle.AliasOf[K](llvmffi.Addr(f.Word())), nil
}

// OutOwning wraps a transferred out handle.
func OutOwning[K handle.Kind](f *Frame, name string) (*handle.Owning[K], error) {
	raw, err := f.outHandle(name, kindOf[K](), registry.OwnTransfer)
	if err != nil {
		return nil, err
	}
	return Own[K](f.a, raw)
}

// OutAlias wraps a borrowed out handle.
func OutAlias[K handle.Kind](f *Frame, name string) (handle.Alias[K], error) {
	raw, err := f.outHandle(name, kindOf[K](), registry.OwnBorrowed)
	if err != nil {
		return handle.Alias[K]{}, err
	}
	return handle.AliasOf[K](raw), nil
}

func kindOf[K handle.Kind]() string {
	var k K
	return k.Name()
}

func (f *Frame) resultHandle(kind string, own registry.Ownership) error {
	if err := f.ready(); err != nil {
		return err
	}
	res := f.routine.Result
	if res.Shape != registry.ShapeHandle || res.Handle != kind {
		return errors.PolicyMismatch(f.routine.Name, "result", res.Handle, kind)
	}
	if res.Ownership != own {
		return errors.PolicyMismatch(f.routine.Name, "result", res.Ownership.String(), own.String())
	}
	if f.resultTaken {
		return f.taken("result")
	}
	f.resultTaken = true
	return nil
}

func (f *Frame) outHandle(name, kind string, own registry.Ownership) (llvmffi.Addr, error) {
	i, err := f.outParam(name, registry.ParamOutHandle)
	if err != nil {
		return llvmffi.Null, err
	}
	p := f.routine.Params[i]
	if p.Handle != kind {
		return llvmffi.Null, errors.PolicyMismatch(f.routine.Name, p.Name, p.Handle, kind)
	}
	if p.Ownership != own {
		return llvmffi.Null, errors.PolicyMismatch(f.routine.Name, p.Name, p.Ownership.String(), own.String())
	}
	if f.outs[i].taken {
		return llvmffi.Null, f.taken(p.Name)
	}
	f.outs[i].taken = true
	v, err := f.readSlot(i)
	if err != nil {
		return llvmffi.Null, err
	}
	return llvmffi.Addr(v), nil
}

func (f *Frame) outParam(name string, kind registry.ParamKind) (int, error) {
	if err := f.ready(); err != nil {
		return -1, err
	}
	i, p, ok := f.routine.Param(name)
	if !ok {
		return -1, errors.NotFound(errors.PhaseUnmarshal, "parameter", name)
	}
	if p.Kind != kind {
		return -1, errors.PolicyMismatch(f.routine.Name, p.Name, p.Kind.String(), kind.String())
	}
	return i, nil
}

func (f *Frame) outString(i int) (*text.View, error) {
	p := f.routine.Params[i]
	if f.outs[i].taken {
		return nil, f.taken(p.Name)
	}
	f.outs[i].taken = true

	v, err := f.readSlot(i)
	if err != nil {
		return nil, err
	}
	addr := llvmffi.Addr(v)
	mem := f.a.lib.Memory()
	switch p.Policy {
	case marshal.InboundOwned:
		return marshal.OwnedCString(f.ctx, mem, addr, f.a.releaser.Func(p.Dealloc))
	case marshal.InboundBorrowed:
		return marshal.BorrowedCString(mem, addr)
	default:
		return nil, errors.PolicyMismatch(f.routine.Name, p.Name, p.Policy.String(), "text")
	}
}

func (f *Frame) readSlot(i int) (uint64, error) {
	addr := f.outs[i].addr
	if addr == llvmffi.Null {
		return 0, errors.New(errors.PhaseUnmarshal, errors.KindInvalidInput).
			Routine(f.routine.Name).
			Detail("parameter %s has no out slot", f.routine.Params[i].Name).
			Build()
	}
	v, err := f.a.lib.Memory().ReadU64(addr)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseUnmarshal, errors.KindOutOfBounds, err, "read out slot")
	}
	return v, nil
}

func (f *Frame) resultLength() (uint64, bool, error) {
	name := f.routine.Result.Length
	if name == "" {
		return 0, false, nil
	}
	i, _, ok := f.routine.Param(name)
	if !ok {
		return 0, false, errors.NotFound(errors.PhaseUnmarshal, "parameter", name)
	}
	v, err := f.readSlot(i)
	return v, true, err
}

func (f *Frame) raw(p registry.Param, h handle.Ref) (llvmffi.Addr, error) {
	if h == nil || h.Addr() == llvmffi.Null {
		if p.Nullable {
			return llvmffi.Null, nil
		}
		return llvmffi.Null, errors.NilHandle(errors.PhaseMarshal, f.routine.Name, p.Handle)
	}
	if h.Kind() != p.Handle {
		return llvmffi.Null, errors.PolicyMismatch(f.routine.Name, p.Name, p.Handle, h.Kind())
	}
	return h.Raw()
}

func (f *Frame) ready() error {
	switch f.state {
	case stateSucceeded:
		return nil
	case stateFailed:
		return f.callErr
	case stateClosed:
		return errors.Closed(errors.PhaseUnmarshal, "frame")
	default:
		return errors.New(errors.PhaseUnmarshal, errors.KindInvalidInput).
			Routine(f.routine.Name).
			Detail("frame not invoked").
			Build()
	}
}

func (f *Frame) next(match func(registry.ParamKind) bool, got string) (int, registry.Param, bool) {
	if f.err != nil {
		return -1, registry.Param{}, false
	}
	if f.state != stateBuilding {
		f.fail(errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Routine(f.routine.Name).
			Detail("argument after invoke").
			Build())
		return -1, registry.Param{}, false
	}
	i := len(f.args)
	if i >= len(f.routine.Params) {
		f.fail(errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Routine(f.routine.Name).
			Detail("too many arguments").
			Build())
		return -1, registry.Param{}, false
	}
	p := f.routine.Params[i]
	if !match(p.Kind) {
		f.fail(errors.PolicyMismatch(f.routine.Name, p.Name, p.Kind.String(), got))
		return -1, registry.Param{}, false
	}
	return i, p, true
}

func (f *Frame) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *Frame) taken(slot string) error {
	return errors.New(errors.PhaseUnmarshal, errors.KindInvalidInput).
		Routine(f.routine.Name).
		Detail("%s already taken", slot).
		Build()
}

func is(kind registry.ParamKind) func(registry.ParamKind) bool {
	return func(k registry.ParamKind) bool { return k == kind }
}
