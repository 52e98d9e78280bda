package handle

// Kind identifies the native object type a handle refers to. Kinds are
// zero-size types used as type parameters, so a Module handle can never be
// passed where a Builder is expected.
type Kind interface {
	Name() string
}

type (
	Context            struct{}
	Module             struct{}
	Value              struct{}
	Type               struct{}
	Metadata           struct{}
	BasicBlock         struct{}
	Builder            struct{}
	DIBuilder          struct{}
	Target             struct{}
	TargetMachine      struct{}
	TargetData         struct{}
	MemoryBuffer       struct{}
	PassManager        struct{}
	PassBuilderOptions struct{}
	ExecutionEngine    struct{}
	Error              struct{}
	Binary             struct{}
)

func (Context) Name() string            { return "Context" }
func (Module) Name() string             { return "Module" }
func (Value) Name() string              { return "Value" }
func (Type) Name() string               { return "Type" }
func (Metadata) Name() string           { return "Metadata" }
func (BasicBlock) Name() string         { return "BasicBlock" }
func (Builder) Name() string            { return "Builder" }
func (DIBuilder) Name() string          { return "DIBuilder" }
func (Target) Name() string             { return "Target" }
func (TargetMachine) Name() string      { return "TargetMachine" }
func (TargetData) Name() string         { return "TargetData" }
func (MemoryBuffer) Name() string       { return "MemoryBuffer" }
func (PassManager) Name() string        { return "PassManager" }
func (PassBuilderOptions) Name() string { return "PassBuilderOptions" }
func (ExecutionEngine) Name() string    { return "ExecutionEngine" }
func (Error) Name() string              { return "Error" }
func (Binary) Name() string             { return "Binary" }

// Kinds lists the name of every handle kind.
func Kinds() []string {
	return []string{
		Context{}.Name(), Module{}.Name(), Value{}.Name(), Type{}.Name(),
		Metadata{}.Name(), BasicBlock{}.Name(), Builder{}.Name(), DIBuilder{}.Name(),
		Target{}.Name(), TargetMachine{}.Name(), TargetData{}.Name(), MemoryBuffer{}.Name(),
		PassManager{}.Name(), PassBuilderOptions{}.Name(), ExecutionEngine{}.Name(),
		Error{}.Name(), Binary{}.Name(),
	}
}

func kindName[K Kind]() string {
	var k K
	return k.Name()
}
