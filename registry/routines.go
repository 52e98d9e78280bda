package registry

import "github.com/wippyai/llvm-ffi/marshal"

// Routines is the per-routine table for the entry points this module
// binds. Where LLVM-C headers are ambiguous about pointer ownership the
// table is the authority.
var Routines = newRoutineTable(
	// contexts
	Routine{
		Name:   "LLVMContextCreate",
		Result: handleResult("Context", OwnTransfer),
	},
	Routine{
		Name:   "LLVMGetGlobalContext",
		Result: handleResult("Context", OwnBorrowed),
	},
	Routine{
		Name:   "LLVMGetModuleContext",
		Params: []Param{handleParam("M", "Module")},
		Result: handleResult("Context", OwnBorrowed),
	},

	// modules
	Routine{
		Name:   "LLVMModuleCreateWithNameInContext",
		Params: []Param{stringParam("ModuleID"), handleParam("C", "Context")},
		Result: handleResult("Module", OwnTransfer),
	},
	Routine{
		Name:   "LLVMCloneModule",
		Params: []Param{handleParam("M", "Module")},
		Result: handleResult("Module", OwnTransfer),
	},
	Routine{
		Name:   "LLVMGetModuleIdentifier",
		Params: []Param{handleParam("M", "Module"), outValue("Len")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundBorrowed, Length: "Len"},
	},
	Routine{
		Name:   "LLVMSetModuleIdentifier",
		Params: []Param{handleParam("M", "Module"), lengthString("Ident"), valueParam("Len")},
	},
	Routine{
		Name:   "LLVMPrintModuleToString",
		Params: []Param{handleParam("M", "Module")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundOwned, Dealloc: Message},
	},
	Routine{
		Name:   "LLVMPrintModuleToFile",
		Params: []Param{handleParam("M", "Module"), stringParam("Filename"), outMessage("ErrorMessage")},
		Result: Result{Shape: ShapeStatus},
		Status: StatusBoolFailure,
	},
	Routine{
		Name:   "LLVMVerifyModule",
		Params: []Param{handleParam("M", "Module"), valueParam("Action"), outMessage("OutMessage")},
		Result: Result{Shape: ShapeStatus},
		Status: StatusBoolFailure,
	},

	// types and values
	Routine{
		Name:   "LLVMInt32TypeInContext",
		Params: []Param{handleParam("C", "Context")},
		Result: handleResult("Type", OwnBorrowed),
	},
	Routine{
		Name: "LLVMFunctionType",
		Params: []Param{
			handleParam("ReturnType", "Type"),
			{Name: "ParamTypes", Kind: ParamHandleArray, Handle: "Type", Nullable: true},
			valueParam("ParamCount"),
			valueParam("IsVarArg"),
		},
		Result: handleResult("Type", OwnBorrowed),
	},
	Routine{
		Name:   "LLVMAddFunction",
		Params: []Param{handleParam("M", "Module"), stringParam("Name"), handleParam("FunctionTy", "Type")},
		Result: handleResult("Value", OwnBorrowed),
	},
	Routine{
		Name:   "LLVMGetNamedFunction",
		Params: []Param{handleParam("M", "Module"), stringParam("Name")},
		Result: handleResult("Value", OwnBorrowed),
	},
	Routine{
		Name:   "LLVMGetValueName2",
		Params: []Param{handleParam("Val", "Value"), outValue("Length")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundBorrowed, Length: "Length"},
	},
	Routine{
		Name:   "LLVMSetValueName2",
		Params: []Param{handleParam("Val", "Value"), lengthString("Name"), valueParam("NameLen")},
	},
	Routine{
		Name:   "LLVMGetMDString",
		Params: []Param{handleParam("V", "Value"), outValue("Length")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundBorrowed, Length: "Length"},
	},

	// builders
	Routine{
		Name:   "LLVMCreateBuilderInContext",
		Params: []Param{handleParam("C", "Context")},
		Result: handleResult("Builder", OwnTransfer),
	},
	Routine{
		Name:   "LLVMAppendBasicBlockInContext",
		Params: []Param{handleParam("C", "Context"), handleParam("Fn", "Value"), stringParam("Name")},
		Result: handleResult("BasicBlock", OwnBorrowed),
	},
	Routine{
		Name:   "LLVMPositionBuilderAtEnd",
		Params: []Param{handleParam("Builder", "Builder"), handleParam("Block", "BasicBlock")},
	},
	Routine{
		Name:   "LLVMBuildRetVoid",
		Params: []Param{handleParam("B", "Builder")},
		Result: handleResult("Value", OwnBorrowed),
	},

	// memory buffers and parsing
	Routine{
		Name: "LLVMCreateMemoryBufferWithMemoryRangeCopy",
		Params: []Param{
			{Name: "InputData", Kind: ParamBytes, Policy: marshal.OutboundTransient},
			valueParam("InputDataLength"),
			stringParam("BufferName"),
		},
		Result: handleResult("MemoryBuffer", OwnTransfer),
	},
	Routine{
		Name:   "LLVMGetBufferStart",
		Params: []Param{handleParam("MemBuf", "MemoryBuffer")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundRaw},
	},
	Routine{
		Name:   "LLVMGetBufferSize",
		Params: []Param{handleParam("MemBuf", "MemoryBuffer")},
		Result: Result{Shape: ShapeValue},
	},
	Routine{
		Name: "LLVMParseIRInContext",
		Params: []Param{
			handleParam("ContextRef", "Context"),
			consumedParam("MemBuf", "MemoryBuffer"),
			outHandle("OutM", "Module", OwnTransfer),
			outMessage("OutMessage"),
		},
		Result: Result{Shape: ShapeStatus},
		Status: StatusBoolFailure,
	},
	Routine{
		Name: "LLVMCreateBinary",
		Params: []Param{
			handleParam("MemBuf", "MemoryBuffer"),
			{Name: "Context", Kind: ParamHandle, Handle: "Context", Nullable: true},
			outMessage("ErrorMessage"),
		},
		Result: handleResult("Binary", OwnTransfer),
		Status: StatusNull,
	},

	// targets
	Routine{
		Name:   "LLVMGetDefaultTargetTriple",
		Result: Result{Shape: ShapeString, Policy: marshal.InboundOwned, Dealloc: Message},
	},
	Routine{
		Name:   "LLVMNormalizeTargetTriple",
		Params: []Param{stringParam("triple")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundOwned, Dealloc: Message},
	},
	Routine{
		Name: "LLVMGetTargetFromTriple",
		Params: []Param{
			stringParam("Triple"),
			outHandle("T", "Target", OwnBorrowed),
			outMessage("ErrorMessage"),
		},
		Result: Result{Shape: ShapeStatus},
		Status: StatusBoolFailure,
	},
	Routine{
		Name:   "LLVMGetTargetName",
		Params: []Param{handleParam("T", "Target")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundBorrowed},
	},
	Routine{
		Name:   "LLVMTargetHasJIT",
		Params: []Param{handleParam("T", "Target")},
		Result: Result{Shape: ShapeStatus},
		Status: StatusPredicate,
	},

	// execution engines
	Routine{
		Name: "LLVMCreateExecutionEngineForModule",
		Params: []Param{
			outHandle("OutEE", "ExecutionEngine", OwnTransfer),
			consumedParam("M", "Module"),
			outMessage("OutError"),
		},
		Result: Result{Shape: ShapeStatus},
		Status: StatusBoolFailure,
	},

	// pass pipelines
	Routine{
		Name:   "LLVMCreatePassBuilderOptions",
		Result: handleResult("PassBuilderOptions", OwnTransfer),
	},
	Routine{
		Name: "LLVMRunPasses",
		Params: []Param{
			handleParam("M", "Module"),
			stringParam("Passes"),
			{Name: "TM", Kind: ParamHandle, Handle: "TargetMachine", Nullable: true},
			handleParam("Options", "PassBuilderOptions"),
		},
		Result: handleResult("Error", OwnTransfer),
		Status: StatusErrorRef,
	},

	// error objects
	Routine{
		Name:   "LLVMCreateStringError",
		Params: []Param{stringParam("ErrMsg")},
		Result: handleResult("Error", OwnTransfer),
	},
	Routine{
		Name:   "LLVMGetErrorMessage",
		Params: []Param{consumedParam("Err", "Error")},
		Result: Result{Shape: ShapeString, Policy: marshal.InboundOwned, Dealloc: ErrorMessage},
	},
)

func valueParam(name string) Param {
	return Param{Name: name, Kind: ParamValue}
}

func stringParam(name string) Param {
	return Param{Name: name, Kind: ParamString, Policy: marshal.OutboundTransient}
}

// lengthString is a string passed with an explicit length, where a null
// pointer with length zero is accepted.
func lengthString(name string) Param {
	p := stringParam(name)
	p.Nullable = true
	return p
}

func handleParam(name, kind string) Param {
	return Param{Name: name, Kind: ParamHandle, Handle: kind}
}

func consumedParam(name, kind string) Param {
	return Param{Name: name, Kind: ParamHandle, Handle: kind, Ownership: OwnConsumed}
}

func outValue(name string) Param {
	return Param{Name: name, Kind: ParamOutValue}
}

func outHandle(name, kind string, own Ownership) Param {
	return Param{Name: name, Kind: ParamOutHandle, Handle: kind, Ownership: own}
}

func outMessage(name string) Param {
	return Param{Name: name, Kind: ParamOutString, Policy: marshal.InboundOwned, Dealloc: Message, Message: true}
}

func handleResult(kind string, own Ownership) Result {
	return Result{Shape: ShapeHandle, Handle: kind, Ownership: own}
}
