package llvmffi

import "context"

// Addr is an address in the native library's address space.
type Addr uint64

// Null is the native null pointer.
const Null Addr = 0

// Memory represents the native library's memory as seen from Go.
// Slices returned by Read may alias native memory and are only valid until
// the next call into the library.
type Memory interface {
	Read(addr Addr, length uint64) ([]byte, error)
	Write(addr Addr, data []byte) error
	ReadU32(addr Addr) (uint32, error)
	ReadU64(addr Addr) (uint64, error)
	WriteU32(addr Addr, value uint32) error
	WriteU64(addr Addr, value uint64) error
}

// MemorySizer provides the current size of native memory in bytes.
type MemorySizer interface {
	Size() uint64
}

// Allocator allocates memory with the native library's own allocator.
// Memory obtained from Alloc must be returned through Free on the same
// allocator; the native side never frees it on the caller's behalf.
type Allocator interface {
	Alloc(ctx context.Context, size uint64) (Addr, error)
	Free(ctx context.Context, addr Addr) error
}

// Func is a resolved native entry point. Arguments and results are passed
// as raw 64-bit words: pointers as addresses, booleans and enums as
// integers.
type Func interface {
	Name() string
	Call(ctx context.Context, args ...uint64) ([]uint64, error)
}

// Library is a loaded native library exposing the C ABI.
type Library interface {
	// Func resolves an exported entry point by its C symbol name.
	Func(name string) (Func, error)
	Memory() Memory
	Allocator() Allocator
	// PointerSize is the width in bytes of a native pointer.
	PointerSize() uint32
	Close(ctx context.Context) error
}

// ReadPointer reads a native pointer of the library's width from memory.
func ReadPointer(lib Library, addr Addr) (Addr, error) {
	if lib.PointerSize() == 4 {
		v, err := lib.Memory().ReadU32(addr)
		return Addr(v), err
	}
	v, err := lib.Memory().ReadU64(addr)
	return Addr(v), err
}

// WritePointer writes a native pointer of the library's width to memory.
func WritePointer(lib Library, addr, value Addr) error {
	if lib.PointerSize() == 4 {
		return lib.Memory().WriteU32(addr, uint32(value))
	}
	return lib.Memory().WriteU64(addr, uint64(value))
}
