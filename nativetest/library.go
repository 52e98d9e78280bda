// Package nativetest provides an in-process stand-in for a native library.
//
// Library implements llvmffi.Library over a Go byte arena with its own
// malloc and free accounting. Entry points are Go functions registered by
// C symbol name. Every read and write must fall inside a live allocation.
// Accesses that start outside one, double frees and invalid frees are
// recorded as faults; running past the end of an allocation is an error
// but not a fault, since string scanning probes ahead.
package nativetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
)

// Func is the Go implementation of a native entry point.
type Func func(ctx context.Context, args []uint64) ([]uint64, error)

type block struct {
	size   uint64
	static bool
}

// Library is a simulated native library. It is safe for concurrent use.
type Library struct {
	mu        sync.Mutex
	arena     []byte
	next      uint64
	live      map[llvmffi.Addr]block
	freed     map[llvmffi.Addr]int
	funcs     map[string]Func
	calls     map[string]int
	faults    []string
	ptrSize   uint32
	failAfter int
	allocs    int
	closed    bool
}

// Option configures a Library.
type Option func(*Library)

// WithArenaSize sets the arena size in bytes.
func WithArenaSize(n uint64) Option {
	return func(l *Library) { l.arena = make([]byte, n) }
}

// WithPointerSize sets the native pointer width, 4 or 8.
func WithPointerSize(n uint32) Option {
	return func(l *Library) { l.ptrSize = n }
}

// New creates an empty library with a 1 MiB arena and 8-byte pointers.
func New(opts ...Option) *Library {
	l := &Library{
		arena:   make([]byte, 1<<20),
		next:    64,
		live:    make(map[llvmffi.Addr]block),
		freed:   make(map[llvmffi.Addr]int),
		funcs:   make(map[string]Func),
		calls:   make(map[string]int),
		ptrSize: 8,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register installs fn as the entry point name.
func (l *Library) Register(name string, fn Func) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs[name] = fn
}

// Unregister removes the entry point, as if the library did not export it.
func (l *Library) Unregister(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.funcs, name)
}

// FailAllocAfter makes every allocation after the next n fail.
// A negative n disables failure injection.
func (l *Library) FailAllocAfter(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 {
		l.failAfter = 0
		return
	}
	l.failAfter = l.allocs + n + 1
}

// Func resolves a registered entry point.
func (l *Library) Func(name string) (llvmffi.Func, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.Closed(errors.PhaseLoad, "library")
	}
	fn, ok := l.funcs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "export", name)
	}
	return &function{lib: l, name: name, fn: fn}, nil
}

// Memory returns the arena.
func (l *Library) Memory() llvmffi.Memory { return l }

// Allocator returns the arena allocator.
func (l *Library) Allocator() llvmffi.Allocator { return l }

// PointerSize returns the configured pointer width.
func (l *Library) PointerSize() uint32 { return l.ptrSize }

// Close marks the library closed.
func (l *Library) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Alloc implements llvmffi.Allocator.
func (l *Library) Alloc(_ context.Context, size uint64) (llvmffi.Addr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocLocked(size, false)
}

func (l *Library) allocLocked(size uint64, static bool) (llvmffi.Addr, error) {
	l.allocs++
	if l.failAfter != 0 && l.allocs >= l.failAfter {
		return llvmffi.Null, fmt.Errorf("out of memory: %d bytes", size)
	}
	if size == 0 {
		size = 1
	}
	start := (l.next + 7) &^ 7
	if start+size > uint64(len(l.arena)) {
		return llvmffi.Null, fmt.Errorf("arena exhausted: %d bytes", size)
	}
	l.next = start + size
	addr := llvmffi.Addr(start)
	l.live[addr] = block{size: size, static: static}
	return addr, nil
}

// Free implements llvmffi.Allocator.
func (l *Library) Free(_ context.Context, addr llvmffi.Addr) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freeLocked(addr)
}

func (l *Library) freeLocked(addr llvmffi.Addr) error {
	if addr == llvmffi.Null {
		return nil
	}
	b, ok := l.live[addr]
	switch {
	case !ok && l.freed[addr] > 0:
		return l.fault("double free of 0x%x", uint64(addr))
	case !ok:
		return l.fault("free of unallocated 0x%x", uint64(addr))
	case b.static:
		return l.fault("free of static 0x%x", uint64(addr))
	}
	delete(l.live, addr)
	l.freed[addr]++
	return nil
}

// Read implements llvmffi.Memory. The returned slice aliases the arena.
func (l *Library) Read(addr llvmffi.Addr, length uint64) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(addr, length); err != nil {
		return nil, err
	}
	return l.arena[addr : uint64(addr)+length : uint64(addr)+length], nil
}

// Write implements llvmffi.Memory.
func (l *Library) Write(addr llvmffi.Addr, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(addr, uint64(len(data))); err != nil {
		return err
	}
	copy(l.arena[addr:], data)
	return nil
}

// ReadU32 implements llvmffi.Memory.
func (l *Library) ReadU32(addr llvmffi.Addr) (uint32, error) {
	b, err := l.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ReadU64 implements llvmffi.Memory.
func (l *Library) ReadU64(addr llvmffi.Addr) (uint64, error) {
	b, err := l.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// WriteU32 implements llvmffi.Memory.
func (l *Library) WriteU32(addr llvmffi.Addr, value uint32) error {
	return l.Write(addr, []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)})
}

// WriteU64 implements llvmffi.Memory.
func (l *Library) WriteU64(addr llvmffi.Addr, value uint64) error {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(value >> (8 * i))
	}
	return l.Write(addr, b)
}

func (l *Library) checkLocked(addr llvmffi.Addr, length uint64) error {
	if addr == llvmffi.Null {
		return l.fault("access through null pointer")
	}
	for start, b := range l.live {
		if addr < start || uint64(addr) >= uint64(start)+b.size {
			continue
		}
		if uint64(addr)+length > uint64(start)+b.size {
			return fmt.Errorf("nativetest: access past end of allocation: 0x%x+%d", uint64(addr), length)
		}
		return nil
	}
	if l.freed[addr] > 0 {
		return l.fault("use after free of 0x%x", uint64(addr))
	}
	return l.fault("access outside any allocation: 0x%x+%d", uint64(addr), length)
}

// Trap records a fault raised by an entry point implementation and returns
// it as the call's error, the way a native trap surfaces.
func (l *Library) Trap(format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fault(format, args...)
}

func (l *Library) fault(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	l.faults = append(l.faults, msg)
	return fmt.Errorf("nativetest: %s", msg)
}

type function struct {
	lib  *Library
	name string
	fn   Func
}

func (f *function) Name() string { return f.name }

func (f *function) Call(ctx context.Context, args ...uint64) ([]uint64, error) {
	f.lib.mu.Lock()
	f.lib.calls[f.name]++
	f.lib.mu.Unlock()
	return f.fn(ctx, args)
}

// Calls returns how many times name was called.
func (l *Library) Calls(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

// Faults returns the memory faults recorded so far.
func (l *Library) Faults() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.faults...)
}

// Live returns the number of live non-static allocations.
func (l *Library) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, b := range l.live {
		if !b.static {
			n++
		}
	}
	return n
}

// LiveAddrs returns the live non-static allocations in address order.
func (l *Library) LiveAddrs() []llvmffi.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []llvmffi.Addr
	for a, b := range l.live {
		if !b.static {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsLive reports whether addr is a live allocation.
func (l *Library) IsLive(addr llvmffi.Addr) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.live[addr]
	return ok
}

// Freed returns how many times addr was freed.
func (l *Library) Freed(addr llvmffi.Addr) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freed[addr]
}

// PutString allocates s followed by a NUL terminator, as native code
// returning a heap string would. The caller is expected to free it.
func (l *Library) PutString(s string) llvmffi.Addr {
	return l.put([]byte(s), true, false)
}

// PutBytes allocates b with no terminator.
func (l *Library) PutBytes(b []byte) llvmffi.Addr {
	return l.put(b, false, false)
}

// Static allocates s followed by a NUL terminator in memory that is never
// freed and does not count as live, like constant data in a shared library.
func (l *Library) Static(s string) llvmffi.Addr {
	return l.put([]byte(s), true, true)
}

// Object allocates size bytes standing in for a native object.
func (l *Library) Object(size uint64) llvmffi.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, err := l.allocLocked(size, false)
	if err != nil {
		panic(err)
	}
	return addr
}

func (l *Library) put(b []byte, nul, static bool) llvmffi.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := uint64(len(b))
	if nul {
		size++
	}
	addr, err := l.allocLocked(size, static)
	if err != nil {
		panic(err)
	}
	copy(l.arena[addr:], b)
	if nul {
		l.arena[uint64(addr)+uint64(len(b))] = 0
	}
	return addr
}

// CString reads the NUL-terminated string at addr. It is a test helper and
// panics on faults.
func (l *Library) CString(addr llvmffi.Addr) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.live[addr]
	if !ok {
		panic(fmt.Sprintf("nativetest: CString of unallocated 0x%x", uint64(addr)))
	}
	data := l.arena[addr : uint64(addr)+b.size]
	for i, c := range data {
		if c == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// Addr converts an argument word to an address.
func Addr(v uint64) llvmffi.Addr { return llvmffi.Addr(v) }

// Bool converts a Go bool to an LLVMBool result word.
func Bool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
