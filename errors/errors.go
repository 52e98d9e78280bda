package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in crossing the boundary the error occurred
type Phase string

const (
	PhaseMarshal   Phase = "marshal"   // Go to native
	PhaseUnmarshal Phase = "unmarshal" // native to Go
	PhaseCall      Phase = "call"      // native invocation and status
	PhaseRelease   Phase = "release"   // handle and string disposal
	PhaseLoad      Phase = "load"      // library loading
	PhaseRegistry  Phase = "registry"  // release and routine tables
)

// Kind categorizes the error
type Kind string

const (
	// caller misuse
	KindDoubleRelease   Kind = "double_release"
	KindAliasRelease    Kind = "alias_release"
	KindUseAfterRelease Kind = "use_after_release"
	KindPolicyMismatch  Kind = "policy_mismatch"
	KindNilHandle       Kind = "nil_handle"
	KindAbsentString    Kind = "absent_string"

	// reported by the native library
	KindNativeFailure Kind = "native_failure"

	// resources
	KindAllocation  Kind = "allocation"
	KindOutOfBounds Kind = "out_of_bounds"
	KindLeak        Kind = "leak"

	KindInvalidUTF8  Kind = "invalid_utf8"
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindClosed       Kind = "closed"
)

// Error is the structured error type used across the boundary
type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Routine string // native entry point involved
	Handle  string // handle kind involved
	Message string // text reported by the native library
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Routine != "" {
		b.WriteString(" in ")
		b.WriteString(e.Routine)
	}

	if e.Handle != "" {
		b.WriteString(" (")
		b.WriteString(e.Handle)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Misuse reports whether the error is a caller-misuse error.
func (e *Error) Misuse() bool {
	switch e.Kind {
	case KindDoubleRelease, KindAliasRelease, KindUseAfterRelease, KindPolicyMismatch, KindNilHandle, KindAbsentString:
		return true
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Routine sets the native entry point name
func (b *Builder) Routine(name string) *Builder {
	b.err.Routine = name
	return b
}

// Handle sets the handle kind
func (b *Builder) Handle(kind string) *Builder {
	b.err.Handle = kind
	return b
}

// Message sets the text reported by the native library
func (b *Builder) Message(msg string) *Builder {
	b.err.Message = msg
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// DoubleRelease creates an error for releasing an already released handle
func DoubleRelease(kind string, addr uint64) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindDoubleRelease,
		Handle: kind,
		Detail: fmt.Sprintf("handle 0x%x already released", addr),
	}
}

// AliasRelease creates an error for releasing a handle that no longer owns its object
func AliasRelease(kind string, addr uint64) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindAliasRelease,
		Handle: kind,
		Detail: fmt.Sprintf("handle 0x%x was converted to an alias", addr),
	}
}

// UseAfterRelease creates an error for using a released handle
func UseAfterRelease(phase Phase, kind string, addr uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUseAfterRelease,
		Handle: kind,
		Detail: fmt.Sprintf("handle 0x%x used after release", addr),
	}
}

// NilHandle creates an error for a null handle where one is required
func NilHandle(phase Phase, routine, kind string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindNilHandle,
		Routine: routine,
		Handle:  kind,
		Detail:  "null handle",
	}
}

// AbsentString creates an error for an absent string passed to a parameter
// that takes no null pointer
func AbsentString(routine, param string) *Error {
	return &Error{
		Phase:   PhaseMarshal,
		Kind:    KindAbsentString,
		Routine: routine,
		Detail:  fmt.Sprintf("parameter %s does not accept an absent string", param),
	}
}

// PolicyMismatch creates an error for an argument that does not match the routine table
func PolicyMismatch(routine, param, want, got string) *Error {
	return &Error{
		Phase:   PhaseMarshal,
		Kind:    KindPolicyMismatch,
		Routine: routine,
		Detail:  fmt.Sprintf("parameter %s: table says %s, got %s", param, want, got),
	}
}

// NativeFailure creates an error for a failure reported by a native routine
func NativeFailure(routine, message string) *Error {
	return &Error{
		Phase:   PhaseCall,
		Kind:    KindNativeFailure,
		Routine: routine,
		Message: message,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint64, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(phase Phase, addr, length uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory access out of bounds: addr=0x%x, length=%d", addr, length),
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// NotFound creates a not found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed creates an error for use of a closed object
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Leak creates an error listing owning handles still live at shutdown
func Leak(live []string) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindLeak,
		Detail: fmt.Sprintf("%d owning handles never released: %s", len(live), strings.Join(live, ", ")),
	}
}

// Load creates a library loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
