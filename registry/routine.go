package registry

import (
	"sort"

	"github.com/wippyai/llvm-ffi/marshal"
)

// ParamKind is the shape of one native parameter.
type ParamKind uint8

const (
	ParamValue       ParamKind = iota // integer, LLVMBool or enum passed by value
	ParamString                       // text copied in for the call
	ParamBytes                        // bytes copied in for the call
	ParamHandle                       // object handle
	ParamHandleArray                  // pointer to an array of object handles
	ParamOutValue                     // pointer to an integer the routine writes
	ParamOutString                    // pointer to a char* the routine writes
	ParamOutHandle                    // pointer to a handle the routine writes
)

var paramKindNames = [...]string{"value", "string", "bytes", "handle", "handle[]", "out value", "out string", "out handle"}

func (k ParamKind) String() string {
	if int(k) < len(paramKindNames) {
		return paramKindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k ParamKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Out reports whether the parameter is written by the routine.
func (k ParamKind) Out() bool {
	return k == ParamOutValue || k == ParamOutString || k == ParamOutHandle
}

// Shape is the form of a routine's direct return value.
type Shape uint8

const (
	ShapeVoid Shape = iota
	ShapeValue
	ShapeHandle
	ShapeString
	ShapeStatus
)

var shapeNames = [...]string{"void", "value", "handle", "string", "status"}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Shape) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is how a routine reports failure.
type Status uint8

const (
	StatusNone        Status = iota
	StatusBoolFailure        // LLVMBool, non-zero means failure
	StatusPredicate          // LLVMBool answer, not a failure signal
	StatusEnum               // status code, zero means success
	StatusErrorRef           // returns an error object, null means success
	StatusNull               // returns a pointer, null means failure
)

var statusNames = [...]string{"none", "bool-failure", "predicate", "enum", "error-ref", "null"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Ownership says who owns an object handle after the call.
type Ownership uint8

const (
	OwnNone     Ownership = iota
	OwnTransfer           // caller receives the release obligation
	OwnBorrowed           // caller receives an alias
	OwnConsumed           // routine takes over the caller's obligation
)

var ownershipNames = [...]string{"none", "transfer", "borrowed", "consumed"}

func (o Ownership) String() string {
	if int(o) < len(ownershipNames) {
		return ownershipNames[o]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (o Ownership) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Param describes one native parameter in call order.
type Param struct {
	Name      string         `yaml:"name" validate:"required"`
	Kind      ParamKind      `yaml:"kind"`
	Policy    marshal.Policy `yaml:"policy,omitempty"`
	Handle    string         `yaml:"handle,omitempty" validate:"omitempty,handlekind"`
	Ownership Ownership      `yaml:"ownership,omitempty"`
	Dealloc   string         `yaml:"dealloc,omitempty" validate:"omitempty,oneof=Message ErrorMessage MangledSymbol"`
	Nullable  bool           `yaml:"nullable,omitempty"`
	// Message marks the out string that carries the failure text.
	Message bool `yaml:"message,omitempty"`
}

// Result describes a routine's direct return value.
type Result struct {
	Shape     Shape          `yaml:"shape"`
	Policy    marshal.Policy `yaml:"policy,omitempty"`
	Handle    string         `yaml:"handle,omitempty" validate:"omitempty,handlekind"`
	Ownership Ownership      `yaml:"ownership,omitempty"`
	Dealloc   string         `yaml:"dealloc,omitempty" validate:"omitempty,oneof=Message ErrorMessage MangledSymbol"`
	// Length names the out value parameter holding a string result's
	// length. Without it the string is NUL-terminated.
	Length string `yaml:"length,omitempty"`
}

// Routine is one row of the per-routine table: everything the call-site
// adapter needs to marshal arguments, interpret the result and release
// what the call produced.
type Routine struct {
	Name   string  `yaml:"name" validate:"required,startswith=LLVM"`
	Params []Param `yaml:"params,omitempty" validate:"dive"`
	Result Result  `yaml:"result"`
	Status Status  `yaml:"status,omitempty"`
}

// Param returns the parameter called name.
func (r Routine) Param(name string) (int, Param, bool) {
	for i, p := range r.Params {
		if p.Name == name {
			return i, p, true
		}
	}
	return -1, Param{}, false
}

// MessageParam returns the index of the out string carrying failure text.
func (r Routine) MessageParam() (int, bool) {
	for i, p := range r.Params {
		if p.Message {
			return i, true
		}
	}
	return -1, false
}

// RoutineTable is the static per-routine table. It is populated at package
// init and never mutated.
type RoutineTable struct {
	entries map[string]Routine
}

// Lookup returns the row for name.
func (t *RoutineTable) Lookup(name string) (Routine, bool) {
	r, ok := t.entries[name]
	return r, ok
}

// All returns every row ordered by name.
func (t *RoutineTable) All() []Routine {
	out := make([]Routine, 0, len(t.entries))
	for _, r := range t.entries {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of rows.
func (t *RoutineTable) Len() int {
	return len(t.entries)
}

func newRoutineTable(rows ...Routine) *RoutineTable {
	t := &RoutineTable{entries: make(map[string]Routine, len(rows))}
	for _, r := range rows {
		t.entries[r.Name] = r
	}
	return t
}
