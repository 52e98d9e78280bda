package nativetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	llvmffi "github.com/wippyai/llvm-ffi"
)

// String families of native strings. Each must be freed by its own
// deallocator; freeing through the wrong one is recorded as a fault.
const (
	FamilyMessage      = "message"
	FamilyErrorMessage = "error-message"
)

// LLVM simulates the slice of LLVM-C the boundary binds, on top of a
// Library. Objects live in the arena, so leaks and use after free show up in
// the library's accounting.
type LLVM struct {
	lib *Library

	mu       sync.Mutex
	global   llvmffi.Addr
	contexts map[llvmffi.Addr]*fakeContext
	modules  map[llvmffi.Addr]*fakeModule
	values   map[llvmffi.Addr]*fakeValue
	blocks   map[llvmffi.Addr]*fakeBlock
	builders map[llvmffi.Addr]llvmffi.Addr
	buffers  map[llvmffi.Addr]*fakeBuffer
	errs     map[llvmffi.Addr]string
	engines  map[llvmffi.Addr]llvmffi.Addr
	options  map[llvmffi.Addr]bool
	binaries map[llvmffi.Addr]bool
	targets  map[llvmffi.Addr]string
	strings  map[llvmffi.Addr]string
	files    map[string]string
	disposed map[string]int

	// DefaultTriple is returned by LLVMGetDefaultTargetTriple.
	DefaultTriple string
	// JIT makes execution engine creation succeed.
	JIT bool
}

type fakeContext struct {
	i32 llvmffi.Addr
}

type fakeModule struct {
	ctx    llvmffi.Addr
	id     llvmffi.Addr
	idLen  uint64
	funcs  []llvmffi.Addr
	engine llvmffi.Addr
}

type fakeValue struct {
	module  llvmffi.Addr
	name    llvmffi.Addr
	nameLen uint64
	blocks  []llvmffi.Addr
}

type fakeBlock struct {
	name       string
	terminated bool
}

type fakeBuffer struct {
	data llvmffi.Addr
	size uint64
	name string
}

// NewLLVM creates a library with the simulated LLVM-C installed.
func NewLLVM(opts ...Option) (*Library, *LLVM) {
	lib := New(opts...)
	return lib, InstallLLVM(lib)
}

// InstallLLVM registers the simulated LLVM-C entry points on lib.
func InstallLLVM(lib *Library) *LLVM {
	l := &LLVM{
		lib:           lib,
		contexts:      make(map[llvmffi.Addr]*fakeContext),
		modules:       make(map[llvmffi.Addr]*fakeModule),
		values:        make(map[llvmffi.Addr]*fakeValue),
		blocks:        make(map[llvmffi.Addr]*fakeBlock),
		builders:      make(map[llvmffi.Addr]llvmffi.Addr),
		buffers:       make(map[llvmffi.Addr]*fakeBuffer),
		errs:          make(map[llvmffi.Addr]string),
		engines:       make(map[llvmffi.Addr]llvmffi.Addr),
		options:       make(map[llvmffi.Addr]bool),
		binaries:      make(map[llvmffi.Addr]bool),
		targets:       make(map[llvmffi.Addr]string),
		strings:       make(map[llvmffi.Addr]string),
		files:         make(map[string]string),
		disposed:      make(map[string]int),
		DefaultTriple: "wasm32-unknown-wasi",
	}

	for name, fn := range map[string]Func{
		"LLVMContextCreate":                         l.contextCreate,
		"LLVMGetGlobalContext":                      l.globalContext,
		"LLVMContextDispose":                        l.contextDispose,
		"LLVMGetModuleContext":                      l.moduleContext,
		"LLVMModuleCreateWithNameInContext":         l.moduleCreate,
		"LLVMCloneModule":                           l.cloneModule,
		"LLVMDisposeModule":                         l.disposeModule,
		"LLVMGetModuleIdentifier":                   l.moduleIdentifier,
		"LLVMSetModuleIdentifier":                   l.setModuleIdentifier,
		"LLVMPrintModuleToString":                   l.printModuleToString,
		"LLVMPrintModuleToFile":                     l.printModuleToFile,
		"LLVMVerifyModule":                          l.verifyModule,
		"LLVMInt32TypeInContext":                    l.int32Type,
		"LLVMFunctionType":                          l.functionType,
		"LLVMAddFunction":                           l.addFunction,
		"LLVMGetNamedFunction":                      l.namedFunction,
		"LLVMGetValueName2":                         l.valueName,
		"LLVMSetValueName2":                         l.setValueName,
		"LLVMCreateBuilderInContext":                l.createBuilder,
		"LLVMDisposeBuilder":                        l.disposeBuilder,
		"LLVMAppendBasicBlockInContext":             l.appendBlock,
		"LLVMPositionBuilderAtEnd":                  l.positionAtEnd,
		"LLVMBuildRetVoid":                          l.buildRetVoid,
		"LLVMCreateMemoryBufferWithMemoryRangeCopy": l.createBuffer,
		"LLVMGetBufferStart":                        l.bufferStart,
		"LLVMGetBufferSize":                         l.bufferSize,
		"LLVMDisposeMemoryBuffer":                   l.disposeBuffer,
		"LLVMParseIRInContext":                      l.parseIR,
		"LLVMCreateBinary":                          l.createBinary,
		"LLVMDisposeBinary":                         l.disposeBinary,
		"LLVMGetDefaultTargetTriple":                l.defaultTriple,
		"LLVMNormalizeTargetTriple":                 l.normalizeTriple,
		"LLVMGetTargetFromTriple":                   l.targetFromTriple,
		"LLVMGetTargetName":                         l.targetName,
		"LLVMTargetHasJIT":                          l.targetHasJIT,
		"LLVMCreateExecutionEngineForModule":        l.createEngine,
		"LLVMDisposeExecutionEngine":                l.disposeEngine,
		"LLVMCreatePassBuilderOptions":              l.createOptions,
		"LLVMDisposePassBuilderOptions":             l.disposeOptions,
		"LLVMRunPasses":                             l.runPasses,
		"LLVMCreateStringError":                     l.createStringError,
		"LLVMGetErrorMessage":                       l.errorMessage,
		"LLVMConsumeError":                          l.consumeError,
		"LLVMDisposeMessage":                        l.disposer(FamilyMessage),
		"LLVMDisposeErrorMessage":                   l.disposer(FamilyErrorMessage),
	} {
		lib.Register(name, fn)
	}
	return l
}

// Disposed returns how many times the named disposer ran.
func (l *LLVM) Disposed(routine string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposed[routine]
}

// File returns what LLVMPrintModuleToFile wrote to path.
func (l *LLVM) File(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.files[path]
	return s, ok
}

// Modules returns the number of live modules.
func (l *LLVM) Modules() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.modules)
}

// OutstandingStrings returns native strings handed out and not yet freed.
func (l *LLVM) OutstandingStrings() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.strings)
}

func ret(v uint64) ([]uint64, error) {
	return []uint64{v}, nil
}

func none() ([]uint64, error) {
	return nil, nil
}

// newString hands out a native string of the given family.
func (l *LLVM) newString(family, s string) llvmffi.Addr {
	addr := l.lib.PutString(s)
	l.strings[addr] = family
	return addr
}

func (l *LLVM) readBytes(addr llvmffi.Addr, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b, err := l.lib.Read(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (l *LLVM) cstring(addr llvmffi.Addr) (string, error) {
	if addr == llvmffi.Null {
		return "", nil
	}
	var out []byte
	for i := llvmffi.Addr(0); ; i++ {
		b, err := l.lib.Read(addr+i, 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
}

func (l *LLVM) writeOut(slot, v llvmffi.Addr) error {
	if slot == llvmffi.Null {
		return nil
	}
	return llvmffi.WritePointer(l.lib, slot, v)
}

func (l *LLVM) free(addr llvmffi.Addr) {
	_ = l.lib.Free(context.Background(), addr)
}

func (l *LLVM) contextCreate(context.Context, []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.lib.Object(16)
	l.contexts[c] = &fakeContext{i32: l.lib.Static("i32")}
	return ret(uint64(c))
}

func (l *LLVM) globalContext(context.Context, []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.global == llvmffi.Null {
		l.global = l.lib.Static("global context")
		l.contexts[l.global] = &fakeContext{i32: l.lib.Static("i32")}
	}
	return ret(uint64(l.global))
}

func (l *LLVM) contextDispose(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := Addr(args[0])
	if _, ok := l.contexts[c]; !ok || c == l.global {
		return nil, l.lib.Trap("LLVMContextDispose of invalid context 0x%x", args[0])
	}
	delete(l.contexts, c)
	l.disposed["LLVMContextDispose"]++
	l.free(c)
	return none()
}

func (l *LLVM) module(v uint64) (*fakeModule, error) {
	m, ok := l.modules[Addr(v)]
	if !ok {
		return nil, l.lib.Trap("invalid module 0x%x", v)
	}
	return m, nil
}

func (l *LLVM) newModule(ctx llvmffi.Addr, id string) llvmffi.Addr {
	addr := l.lib.Object(32)
	l.modules[addr] = &fakeModule{ctx: ctx, id: l.lib.PutString(id), idLen: uint64(len(id))}
	return addr
}

func (l *LLVM) moduleCreate(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, err := l.cstring(Addr(args[0]))
	if err != nil {
		return nil, err
	}
	if _, ok := l.contexts[Addr(args[1])]; !ok {
		return nil, l.lib.Trap("invalid context 0x%x", args[1])
	}
	return ret(uint64(l.newModule(Addr(args[1]), name)))
}

func (l *LLVM) moduleContext(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[0])
	if err != nil {
		return nil, err
	}
	return ret(uint64(m.ctx))
}

func (l *LLVM) cloneModule(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[0])
	if err != nil {
		return nil, err
	}
	id, err := l.readBytes(m.id, m.idLen)
	if err != nil {
		return nil, err
	}
	clone := l.newModule(m.ctx, string(id))
	for _, fn := range m.funcs {
		v := l.values[fn]
		name, err := l.readBytes(v.name, v.nameLen)
		if err != nil {
			return nil, err
		}
		nv := l.newFunction(clone, string(name))
		for _, b := range v.blocks {
			nb := l.lib.Object(8)
			l.blocks[nb] = &fakeBlock{name: l.blocks[b].name, terminated: l.blocks[b].terminated}
			l.values[nv].blocks = append(l.values[nv].blocks, nb)
		}
	}
	return ret(uint64(clone))
}

func (l *LLVM) disposeModule(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[0])
	if err != nil {
		return nil, err
	}
	if m.engine != llvmffi.Null {
		return nil, l.lib.Trap("LLVMDisposeModule of module owned by execution engine 0x%x", uint64(m.engine))
	}
	l.dropModule(Addr(args[0]))
	l.disposed["LLVMDisposeModule"]++
	return none()
}

func (l *LLVM) dropModule(addr llvmffi.Addr) {
	m := l.modules[addr]
	for _, fn := range m.funcs {
		v := l.values[fn]
		for _, b := range v.blocks {
			delete(l.blocks, b)
			l.free(b)
		}
		l.free(v.name)
		delete(l.values, fn)
		l.free(fn)
	}
	l.free(m.id)
	delete(l.modules, addr)
	l.free(addr)
}

func (l *LLVM) moduleIdentifier(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[0])
	if err != nil {
		return nil, err
	}
	if err := l.writeOut(Addr(args[1]), llvmffi.Addr(m.idLen)); err != nil {
		return nil, err
	}
	return ret(uint64(m.id))
}

func (l *LLVM) setModuleIdentifier(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[0])
	if err != nil {
		return nil, err
	}
	id, err := l.readBytes(Addr(args[1]), args[2])
	if err != nil {
		return nil, err
	}
	// the previous identifier storage is freed, invalidating borrowed views
	l.free(m.id)
	m.id = l.lib.PutString(string(id))
	m.idLen = uint64(len(id))
	return none()
}

func (l *LLVM) render(addr llvmffi.Addr) (string, error) {
	m, err := l.module(uint64(addr))
	if err != nil {
		return "", err
	}
	id, err := l.readBytes(m.id, m.idLen)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "; ModuleID = '%s'\nsource_filename = \"%s\"\n", id, id)
	for _, fn := range m.funcs {
		v := l.values[fn]
		name, err := l.readBytes(v.name, v.nameLen)
		if err != nil {
			return "", err
		}
		b.WriteByte('\n')
		if len(v.blocks) == 0 {
			fmt.Fprintf(&b, "declare void @%s()\n", name)
			continue
		}
		fmt.Fprintf(&b, "define void @%s() {\n", name)
		for _, bb := range v.blocks {
			blk := l.blocks[bb]
			fmt.Fprintf(&b, "%s:\n", blk.name)
			if blk.terminated {
				b.WriteString("  ret void\n")
			}
		}
		b.WriteString("}\n")
	}
	return b.String(), nil
}

func (l *LLVM) printModuleToString(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.render(Addr(args[0]))
	if err != nil {
		return nil, err
	}
	return ret(uint64(l.newString(FamilyMessage, s)))
}

func (l *LLVM) printModuleToFile(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.render(Addr(args[0]))
	if err != nil {
		return nil, err
	}
	path, err := l.cstring(Addr(args[1]))
	if err != nil {
		return nil, err
	}
	if path == "" || strings.HasPrefix(path, "/nonexistent/") {
		msg := l.newString(FamilyMessage, fmt.Sprintf("could not open '%s': No such file or directory", path))
		if err := l.writeOut(Addr(args[2]), msg); err != nil {
			return nil, err
		}
		return ret(1)
	}
	l.files[path] = s
	return ret(0)
}

func (l *LLVM) verifyModule(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[0])
	if err != nil {
		return nil, err
	}
	var problems []string
	for _, fn := range m.funcs {
		v := l.values[fn]
		for _, bb := range v.blocks {
			if !l.blocks[bb].terminated {
				name, _ := l.readBytes(v.name, v.nameLen)
				problems = append(problems, fmt.Sprintf("Basic Block in function '%s' does not have terminator!\r\nlabel %%%s", name, l.blocks[bb].name))
			}
		}
	}
	// the message is allocated even when there is nothing to report
	msg := l.newString(FamilyMessage, strings.Join(problems, "\r\n"))
	if err := l.writeOut(Addr(args[2]), msg); err != nil {
		return nil, err
	}
	return ret(Bool(len(problems) > 0))
}

func (l *LLVM) int32Type(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contexts[Addr(args[0])]
	if !ok {
		return nil, l.lib.Trap("invalid context 0x%x", args[0])
	}
	return ret(uint64(c.i32))
}

func (l *LLVM) functionType(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := args[2]
	if count > 0 {
		width := uint64(l.lib.PointerSize())
		for i := uint64(0); i < count; i++ {
			p, err := llvmffi.ReadPointer(l.lib, Addr(args[1])+llvmffi.Addr(i*width))
			if err != nil {
				return nil, err
			}
			if p == llvmffi.Null {
				return nil, l.lib.Trap("null parameter type %d", i)
			}
		}
	}
	return ret(uint64(l.lib.Static(fmt.Sprintf("fn(%d)", count))))
}

func (l *LLVM) newFunction(module llvmffi.Addr, name string) llvmffi.Addr {
	fn := l.lib.Object(16)
	l.values[fn] = &fakeValue{module: module, name: l.lib.PutString(name), nameLen: uint64(len(name))}
	l.modules[module].funcs = append(l.modules[module].funcs, fn)
	return fn
}

func (l *LLVM) addFunction(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.module(args[0]); err != nil {
		return nil, err
	}
	name, err := l.cstring(Addr(args[1]))
	if err != nil {
		return nil, err
	}
	return ret(uint64(l.newFunction(Addr(args[0]), name)))
}

func (l *LLVM) namedFunction(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[0])
	if err != nil {
		return nil, err
	}
	name, err := l.cstring(Addr(args[1]))
	if err != nil {
		return nil, err
	}
	for _, fn := range m.funcs {
		v := l.values[fn]
		got, err := l.readBytes(v.name, v.nameLen)
		if err != nil {
			return nil, err
		}
		if string(got) == name {
			return ret(uint64(fn))
		}
	}
	return ret(0)
}

func (l *LLVM) value(v uint64) (*fakeValue, error) {
	fv, ok := l.values[Addr(v)]
	if !ok {
		return nil, l.lib.Trap("invalid value 0x%x", v)
	}
	return fv, nil
}

func (l *LLVM) valueName(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.value(args[0])
	if err != nil {
		return nil, err
	}
	if err := l.writeOut(Addr(args[1]), llvmffi.Addr(v.nameLen)); err != nil {
		return nil, err
	}
	return ret(uint64(v.name))
}

func (l *LLVM) setValueName(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.value(args[0])
	if err != nil {
		return nil, err
	}
	name, err := l.readBytes(Addr(args[1]), args[2])
	if err != nil {
		return nil, err
	}
	l.free(v.name)
	v.name = l.lib.PutString(string(name))
	v.nameLen = uint64(len(name))
	return none()
}

func (l *LLVM) createBuilder(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.contexts[Addr(args[0])]; !ok {
		return nil, l.lib.Trap("invalid context 0x%x", args[0])
	}
	b := l.lib.Object(16)
	l.builders[b] = llvmffi.Null
	return ret(uint64(b))
}

func (l *LLVM) disposeBuilder(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := Addr(args[0])
	if _, ok := l.builders[b]; !ok {
		return nil, l.lib.Trap("LLVMDisposeBuilder of invalid builder 0x%x", args[0])
	}
	delete(l.builders, b)
	l.disposed["LLVMDisposeBuilder"]++
	l.free(b)
	return none()
}

func (l *LLVM) appendBlock(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.value(args[1])
	if err != nil {
		return nil, err
	}
	name, err := l.cstring(Addr(args[2]))
	if err != nil {
		return nil, err
	}
	bb := l.lib.Object(8)
	l.blocks[bb] = &fakeBlock{name: name}
	v.blocks = append(v.blocks, bb)
	return ret(uint64(bb))
}

func (l *LLVM) positionAtEnd(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := Addr(args[0])
	if _, ok := l.builders[b]; !ok {
		return nil, l.lib.Trap("invalid builder 0x%x", args[0])
	}
	if _, ok := l.blocks[Addr(args[1])]; !ok {
		return nil, l.lib.Trap("invalid block 0x%x", args[1])
	}
	l.builders[b] = Addr(args[1])
	return none()
}

func (l *LLVM) buildRetVoid(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bb, ok := l.builders[Addr(args[0])]
	if !ok || bb == llvmffi.Null {
		return nil, l.lib.Trap("builder 0x%x is not positioned", args[0])
	}
	l.blocks[bb].terminated = true
	return ret(uint64(l.lib.Static("ret void")))
}

func (l *LLVM) createBuffer(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := l.readBytes(Addr(args[0]), args[1])
	if err != nil {
		return nil, err
	}
	name, err := l.cstring(Addr(args[2]))
	if err != nil {
		return nil, err
	}
	mb := l.lib.Object(16)
	l.buffers[mb] = &fakeBuffer{data: l.lib.PutBytes(data), size: uint64(len(data)), name: name}
	return ret(uint64(mb))
}

func (l *LLVM) buffer(v uint64) (*fakeBuffer, error) {
	b, ok := l.buffers[Addr(v)]
	if !ok {
		return nil, l.lib.Trap("invalid memory buffer 0x%x", v)
	}
	return b, nil
}

func (l *LLVM) bufferStart(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.buffer(args[0])
	if err != nil {
		return nil, err
	}
	return ret(uint64(b.data))
}

func (l *LLVM) bufferSize(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.buffer(args[0])
	if err != nil {
		return nil, err
	}
	return ret(b.size)
}

func (l *LLVM) dropBuffer(addr llvmffi.Addr) {
	b := l.buffers[addr]
	l.free(b.data)
	delete(l.buffers, addr)
	l.free(addr)
}

func (l *LLVM) disposeBuffer(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.buffer(args[0]); err != nil {
		return nil, err
	}
	l.dropBuffer(Addr(args[0]))
	l.disposed["LLVMDisposeMemoryBuffer"]++
	return none()
}

// parseIR understands the subset of textual IR the module printer emits.
// The buffer is consumed whatever the outcome.
func (l *LLVM) parseIR(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := Addr(args[0])
	if _, ok := l.contexts[ctx]; !ok {
		return nil, l.lib.Trap("invalid context 0x%x", args[0])
	}
	buf, err := l.buffer(args[1])
	if err != nil {
		return nil, err
	}
	data, err := l.readBytes(buf.data, buf.size)
	if err != nil {
		return nil, err
	}
	name := buf.name
	l.dropBuffer(Addr(args[1]))

	type parsedFunc struct {
		name    string
		defined bool
	}
	id := name
	var funcs []parsedFunc
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "", strings.HasPrefix(trimmed, "source_filename"), trimmed == "}",
			strings.HasSuffix(trimmed, ":"), trimmed == "ret void":
		case strings.HasPrefix(trimmed, "; ModuleID = '"):
			id = strings.TrimSuffix(strings.TrimPrefix(trimmed, "; ModuleID = '"), "'")
		case strings.HasPrefix(trimmed, ";"):
		case strings.HasPrefix(trimmed, "declare void @") && strings.HasSuffix(trimmed, "()"):
			funcs = append(funcs, parsedFunc{name: strings.TrimSuffix(strings.TrimPrefix(trimmed, "declare void @"), "()")})
		case strings.HasPrefix(trimmed, "define void @") && strings.HasSuffix(trimmed, "() {"):
			funcs = append(funcs, parsedFunc{name: strings.TrimSuffix(strings.TrimPrefix(trimmed, "define void @"), "() {"), defined: true})
		default:
			msg := l.newString(FamilyMessage, fmt.Sprintf("%s:%d:1: error: expected top-level entity\n%s\n^", name, i+1, line))
			if err := l.writeOut(Addr(args[3]), msg); err != nil {
				return nil, err
			}
			return ret(1)
		}
	}

	m := l.newModule(ctx, id)
	for _, pf := range funcs {
		fn := l.newFunction(m, pf.name)
		if !pf.defined {
			continue
		}
		bb := l.lib.Object(8)
		l.blocks[bb] = &fakeBlock{name: "entry", terminated: true}
		l.values[fn].blocks = append(l.values[fn].blocks, bb)
	}
	if err := l.writeOut(Addr(args[2]), m); err != nil {
		return nil, err
	}
	return ret(0)
}

func (l *LLVM) createBinary(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf, err := l.buffer(args[0])
	if err != nil {
		return nil, err
	}
	data, err := l.readBytes(buf.data, buf.size)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(string(data), "\x7fELF") {
		msg := l.newString(FamilyMessage, "The file was not recognized as a valid object file")
		if err := l.writeOut(Addr(args[2]), msg); err != nil {
			return nil, err
		}
		return ret(0)
	}
	bin := l.lib.Object(16)
	l.binaries[bin] = true
	return ret(uint64(bin))
}

func (l *LLVM) disposeBinary(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.binaries[Addr(args[0])] {
		return nil, l.lib.Trap("LLVMDisposeBinary of invalid binary 0x%x", args[0])
	}
	delete(l.binaries, Addr(args[0]))
	l.disposed["LLVMDisposeBinary"]++
	l.free(Addr(args[0]))
	return none()
}

func (l *LLVM) defaultTriple(context.Context, []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ret(uint64(l.newString(FamilyMessage, l.DefaultTriple)))
}

func (l *LLVM) normalizeTriple(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.cstring(Addr(args[0]))
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.ToLower(t), "-")
	if len(parts) == 3 && !knownVendors[parts[1]] {
		parts = []string{parts[0], "unknown", parts[1], parts[2]}
	}
	return ret(uint64(l.newString(FamilyMessage, strings.Join(parts, "-"))))
}

var knownVendors = map[string]bool{"unknown": true, "pc": true, "apple": true}

var knownTargets = map[string]bool{"wasm32": true, "x86_64": true}

func (l *LLVM) targetFromTriple(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.cstring(Addr(args[0]))
	if err != nil {
		return nil, err
	}
	arch, _, _ := strings.Cut(t, "-")
	if !knownTargets[arch] {
		msg := l.newString(FamilyMessage, fmt.Sprintf("No available targets are compatible with triple %q", t))
		if err := l.writeOut(Addr(args[2]), msg); err != nil {
			return nil, err
		}
		return ret(1)
	}
	var addr llvmffi.Addr
	for a, name := range l.targets {
		if name == arch {
			addr = a
		}
	}
	if addr == llvmffi.Null {
		addr = l.lib.Static(arch)
		l.targets[addr] = arch
	}
	if err := l.writeOut(Addr(args[1]), addr); err != nil {
		return nil, err
	}
	return ret(0)
}

func (l *LLVM) targetName(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.targets[Addr(args[0])]; !ok {
		return nil, l.lib.Trap("invalid target 0x%x", args[0])
	}
	// the static name doubles as the target object
	return ret(args[0])
}

func (l *LLVM) targetHasJIT(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.targets[Addr(args[0])]
	if !ok {
		return nil, l.lib.Trap("invalid target 0x%x", args[0])
	}
	return ret(Bool(name == "x86_64"))
}

// createEngine takes the module over whatever the outcome: on failure the
// module is destroyed with the engine builder.
func (l *LLVM) createEngine(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.module(args[1])
	if err != nil {
		return nil, err
	}
	if !l.JIT {
		l.dropModule(Addr(args[1]))
		msg := l.newString(FamilyMessage, "JIT has not been linked in.")
		if err := l.writeOut(Addr(args[2]), msg); err != nil {
			return nil, err
		}
		return ret(1)
	}
	ee := l.lib.Object(16)
	m.engine = ee
	l.engines[ee] = Addr(args[1])
	if err := l.writeOut(Addr(args[0]), ee); err != nil {
		return nil, err
	}
	return ret(0)
}

func (l *LLVM) disposeEngine(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ee := Addr(args[0])
	m, ok := l.engines[ee]
	if !ok {
		return nil, l.lib.Trap("LLVMDisposeExecutionEngine of invalid engine 0x%x", args[0])
	}
	l.dropModule(m)
	delete(l.engines, ee)
	l.disposed["LLVMDisposeExecutionEngine"]++
	l.free(ee)
	return none()
}

func (l *LLVM) createOptions(context.Context, []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := l.lib.Object(16)
	l.options[o] = true
	return ret(uint64(o))
}

func (l *LLVM) disposeOptions(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.options[Addr(args[0])] {
		return nil, l.lib.Trap("LLVMDisposePassBuilderOptions of invalid options 0x%x", args[0])
	}
	delete(l.options, Addr(args[0]))
	l.disposed["LLVMDisposePassBuilderOptions"]++
	l.free(Addr(args[0]))
	return none()
}

var knownPasses = map[string]bool{"verify": true, "default<O0>": true, "default<O2>": true, "globaldce": true}

func (l *LLVM) runPasses(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.module(args[0]); err != nil {
		return nil, err
	}
	passes, err := l.cstring(Addr(args[1]))
	if err != nil {
		return nil, err
	}
	if !l.options[Addr(args[3])] {
		return nil, l.lib.Trap("invalid pass builder options 0x%x", args[3])
	}
	var unknown []string
	for _, p := range strings.Split(passes, ",") {
		if !knownPasses[p] {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) == 0 {
		return ret(0)
	}
	sort.Strings(unknown)
	return ret(uint64(l.newError(fmt.Sprintf("unknown pass name '%s'", unknown[0]))))
}

func (l *LLVM) newError(msg string) llvmffi.Addr {
	e := l.lib.Object(16)
	l.errs[e] = msg
	return e
}

func (l *LLVM) createStringError(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, err := l.cstring(Addr(args[0]))
	if err != nil {
		return nil, err
	}
	return ret(uint64(l.newError(msg)))
}

// errorMessage consumes the error object.
func (l *LLVM) errorMessage(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Addr(args[0])
	msg, ok := l.errs[e]
	if !ok {
		return nil, l.lib.Trap("LLVMGetErrorMessage of consumed or invalid error 0x%x", args[0])
	}
	delete(l.errs, e)
	l.free(e)
	return ret(uint64(l.newString(FamilyErrorMessage, msg)))
}

func (l *LLVM) consumeError(_ context.Context, args []uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Addr(args[0])
	if _, ok := l.errs[e]; !ok {
		return nil, l.lib.Trap("LLVMConsumeError of consumed or invalid error 0x%x", args[0])
	}
	delete(l.errs, e)
	l.disposed["LLVMConsumeError"]++
	l.free(e)
	return none()
}

func (l *LLVM) disposer(family string) Func {
	routine := "LLVMDisposeMessage"
	if family == FamilyErrorMessage {
		routine = "LLVMDisposeErrorMessage"
	}
	return func(_ context.Context, args []uint64) ([]uint64, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		addr := Addr(args[0])
		if addr == llvmffi.Null {
			return none()
		}
		got, ok := l.strings[addr]
		if !ok {
			return nil, l.lib.Trap("%s of unknown string 0x%x", routine, args[0])
		}
		if got != family {
			return nil, l.lib.Trap("%s of %s string 0x%x", routine, got, args[0])
		}
		delete(l.strings, addr)
		l.disposed[routine]++
		l.free(addr)
		return none()
	}
}
