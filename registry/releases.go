package registry

import "sort"

// String deallocator kinds. They release native strings, not objects.
const (
	Message       = "Message"
	ErrorMessage  = "ErrorMessage"
	MangledSymbol = "MangledSymbol"
)

// Disposal says how an object of one kind is released.
type Disposal struct {
	Kind string `yaml:"kind" validate:"required"`
	// Routine is the disposer; empty means the object is released
	// implicitly by its Owner.
	Routine string `yaml:"routine,omitempty" validate:"omitempty,startswith=LLVM"`
	Owner   string `yaml:"owner,omitempty"`
	String  bool   `yaml:"string,omitempty"`
}

// Implicit reports whether no routine ever releases this kind directly.
func (d Disposal) Implicit() bool {
	return d.Routine == ""
}

// ReleaseTable maps handle and string kinds to their disposal. It is
// populated at package init and never mutated.
type ReleaseTable struct {
	entries map[string]Disposal
}

// Lookup returns the disposal for kind.
func (t *ReleaseTable) Lookup(kind string) (Disposal, bool) {
	d, ok := t.entries[kind]
	return d, ok
}

// All returns every disposal ordered by kind.
func (t *ReleaseTable) All() []Disposal {
	out := make([]Disposal, 0, len(t.entries))
	for _, d := range t.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Len returns the number of entries.
func (t *ReleaseTable) Len() int {
	return len(t.entries)
}

// Releases is the release registry.
var Releases = newReleaseTable(
	explicit("Context", "LLVMContextDispose"),
	explicit("Module", "LLVMDisposeModule"),
	explicit("Builder", "LLVMDisposeBuilder"),
	explicit("DIBuilder", "LLVMDisposeDIBuilder"),
	explicit("TargetMachine", "LLVMDisposeTargetMachine"),
	explicit("TargetData", "LLVMDisposeTargetData"),
	explicit("MemoryBuffer", "LLVMDisposeMemoryBuffer"),
	explicit("PassManager", "LLVMDisposePassManager"),
	explicit("PassBuilderOptions", "LLVMDisposePassBuilderOptions"),
	explicit("ExecutionEngine", "LLVMDisposeExecutionEngine"),
	explicit("Binary", "LLVMDisposeBinary"),
	explicit("Error", "LLVMConsumeError"),

	implicit("Value", "Module"),
	implicit("Type", "Context"),
	implicit("Metadata", "Context"),
	implicit("BasicBlock", "Value"),
	implicit("Target", "target registry"),

	stringDisposal(Message, "LLVMDisposeMessage"),
	stringDisposal(ErrorMessage, "LLVMDisposeErrorMessage"),
	stringDisposal(MangledSymbol, "LLVMOrcDisposeMangledSymbol"),
)

func newReleaseTable(entries ...Disposal) *ReleaseTable {
	t := &ReleaseTable{entries: make(map[string]Disposal, len(entries))}
	for _, d := range entries {
		t.entries[d.Kind] = d
	}
	return t
}

func explicit(kind, routine string) Disposal {
	return Disposal{Kind: kind, Routine: routine}
}

func implicit(kind, owner string) Disposal {
	return Disposal{Kind: kind, Owner: owner}
}

func stringDisposal(kind, routine string) Disposal {
	return Disposal{Kind: kind, Routine: routine, String: true}
}
