package registry

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/handle"
	"github.com/wippyai/llvm-ffi/marshal"
)

// validate is a package-level singleton; building a validator is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("handlekind", isHandleKind); err != nil {
		panic(err)
	}
	return v
}

func isHandleKind(fl validator.FieldLevel) bool {
	d, ok := Releases.Lookup(fl.Field().String())
	return ok && !d.String
}

// Validate checks both tables for internal consistency: struct tags on
// every row, policy and ownership rules per slot, and a release entry for
// every handle kind.
func Validate() error {
	var problems []string

	for _, d := range Releases.All() {
		if err := validate.Struct(d); err != nil {
			problems = append(problems, fmt.Sprintf("release %s: %v", d.Kind, err))
		}
		if d.String && d.Implicit() {
			problems = append(problems, fmt.Sprintf("release %s: string kinds need a deallocator", d.Kind))
		}
	}
	for _, kind := range handle.Kinds() {
		if _, ok := Releases.Lookup(kind); !ok {
			problems = append(problems, fmt.Sprintf("handle kind %s has no release entry", kind))
		}
	}
	for name, r := range Routines.entries {
		if name != r.Name {
			problems = append(problems, fmt.Sprintf("routine %s registered as %s", r.Name, name))
		}
		problems = append(problems, routineProblems(r)...)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.InvalidInput(errors.PhaseRegistry, strings.Join(problems, "; "))
}

// ValidateRoutine checks a single row.
func ValidateRoutine(r Routine) error {
	problems := routineProblems(r)
	if len(problems) == 0 {
		return nil
	}
	return errors.InvalidInput(errors.PhaseRegistry, strings.Join(problems, "; "))
}

func routineProblems(r Routine) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, r.Name+": "+fmt.Sprintf(format, args...))
	}

	if err := validate.Struct(r); err != nil {
		add("%v", err)
	}

	seen := make(map[string]bool)
	messages := 0
	for _, p := range r.Params {
		if seen[p.Name] {
			add("duplicate parameter %s", p.Name)
		}
		seen[p.Name] = true
		if p.Message {
			messages++
		}

		switch p.Kind {
		case ParamString, ParamBytes:
			if p.Policy != marshal.OutboundTransient {
				add("parameter %s: outbound text must be %s, not %s", p.Name, marshal.OutboundTransient, p.Policy)
			}
		case ParamOutString:
			if !p.Policy.Inbound() {
				add("parameter %s: out string needs an inbound policy", p.Name)
			}
			if p.Policy == marshal.InboundOwned && !isStringDealloc(p.Dealloc) {
				add("parameter %s: owned string without deallocator", p.Name)
			}
		case ParamHandle, ParamHandleArray:
			if p.Handle == "" {
				add("parameter %s: handle kind missing", p.Name)
			}
			if p.Ownership != OwnNone && p.Ownership != OwnConsumed {
				add("parameter %s: handle parameters are borrowed or consumed", p.Name)
			}
			if p.Ownership == OwnConsumed && isImplicit(p.Handle) {
				add("parameter %s: %s objects cannot be consumed", p.Name, p.Handle)
			}
		case ParamOutHandle:
			problems = append(problems, ownershipProblems(r.Name, p.Name, p.Handle, p.Ownership)...)
		default:
			if p.Policy != marshal.None || p.Handle != "" {
				add("parameter %s: %s slot carries a policy or handle", p.Name, p.Kind)
			}
		}
		if p.Message && p.Kind != ParamOutString {
			add("parameter %s: only out strings carry messages", p.Name)
		}
	}
	if messages > 1 {
		add("more than one message parameter")
	}

	res := r.Result
	switch res.Shape {
	case ShapeString:
		if !res.Policy.Inbound() {
			add("string result needs an inbound policy")
		}
		if res.Policy == marshal.InboundOwned && !isStringDealloc(res.Dealloc) {
			add("owned string result without deallocator")
		}
		if res.Length != "" {
			if _, p, ok := r.Param(res.Length); !ok || p.Kind != ParamOutValue {
				add("length %s is not an out value parameter", res.Length)
			}
		}
	case ShapeHandle:
		problems = append(problems, ownershipProblems(r.Name, "result", res.Handle, res.Ownership)...)
	default:
		if res.Policy != marshal.None || res.Handle != "" {
			add("%s result carries a policy or handle", res.Shape)
		}
	}

	switch r.Status {
	case StatusBoolFailure, StatusPredicate, StatusEnum:
		if res.Shape != ShapeStatus {
			add("status %s needs a status result", r.Status)
		}
	case StatusErrorRef:
		if res.Shape != ShapeHandle || res.Handle != "Error" || res.Ownership != OwnTransfer {
			add("status %s needs an owned Error result", r.Status)
		}
	case StatusNull:
		if res.Shape != ShapeHandle {
			add("status %s needs a handle result", r.Status)
		}
	case StatusNone:
		if res.Shape == ShapeStatus {
			add("status result without a status convention")
		}
	}

	return problems
}

func ownershipProblems(routine, slot, kind string, own Ownership) []string {
	switch {
	case kind == "":
		return []string{fmt.Sprintf("%s: %s: handle kind missing", routine, slot)}
	case own != OwnTransfer && own != OwnBorrowed:
		return []string{fmt.Sprintf("%s: %s: returned handles are transferred or borrowed, not %s", routine, slot, own)}
	case own == OwnTransfer && isImplicit(kind):
		return []string{fmt.Sprintf("%s: %s: %s has no disposer to transfer", routine, slot, kind)}
	}
	return nil
}

func isImplicit(kind string) bool {
	d, ok := Releases.Lookup(kind)
	return ok && d.Implicit()
}

func isStringDealloc(kind string) bool {
	d, ok := Releases.Lookup(kind)
	return ok && d.String && !d.Implicit()
}
