package marshal

import (
	"context"
	"sync"

	"go.uber.org/zap"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
	"github.com/wippyai/llvm-ffi/text"
)

type allocation struct {
	addr llvmffi.Addr
	size uint64
}

type allocationList struct {
	allocations []allocation
}

var allocationListPool = sync.Pool{
	New: func() any {
		return &allocationList{allocations: make([]allocation, 0, 8)}
	},
}

const maxPooledAllocationCapacity = 128

func (al *allocationList) release() {
	// Only pool small lists to prevent memory bloat
	if cap(al.allocations) > maxPooledAllocationCapacity {
		return
	}
	al.allocations = al.allocations[:0]
	allocationListPool.Put(al)
}

// Scope owns the OutboundTransient allocations of one native call. Close
// frees every allocation exactly once and must run on every exit path,
// normally through defer.
type Scope struct {
	ctx   context.Context
	mem   llvmffi.Memory
	alloc llvmffi.Allocator
	list  *allocationList
	bytes uint64
	total int
}

// NewScope creates a scope allocating through alloc and writing to mem.
func NewScope(ctx context.Context, mem llvmffi.Memory, alloc llvmffi.Allocator) *Scope {
	return &Scope{
		ctx:   ctx,
		mem:   mem,
		alloc: alloc,
		list:  allocationListPool.Get().(*allocationList),
	}
}

// Outbound copies v into native memory followed by a NUL terminator and
// returns its address. An absent view is passed as the null pointer; an
// empty view is a valid pointer to a lone terminator.
func (s *Scope) Outbound(v *text.View) (llvmffi.Addr, error) {
	if !v.Present() {
		return llvmffi.Null, nil
	}
	return s.OutboundBytes(v.Bytes())
}

// OutboundBytes copies b into native memory followed by a NUL terminator.
func (s *Scope) OutboundBytes(b []byte) (llvmffi.Addr, error) {
	size := uint64(len(b)) + 1
	addr, err := s.allocate(size)
	if err != nil {
		return llvmffi.Null, err
	}
	buf := make([]byte, size)
	copy(buf, b)
	if err := s.mem.Write(addr, buf); err != nil {
		return llvmffi.Null, errors.Wrap(errors.PhaseMarshal, errors.KindOutOfBounds, err, "write outbound text")
	}
	return addr, nil
}

// OutSlot allocates a zeroed native slot for an out-parameter or a
// caller-provided buffer.
func (s *Scope) OutSlot(size uint64) (llvmffi.Addr, error) {
	if size == 0 {
		size = 1
	}
	addr, err := s.allocate(size)
	if err != nil {
		return llvmffi.Null, err
	}
	if err := s.mem.Write(addr, make([]byte, size)); err != nil {
		return llvmffi.Null, errors.Wrap(errors.PhaseMarshal, errors.KindOutOfBounds, err, "clear out slot")
	}
	return addr, nil
}

// Add hands an existing native allocation to the scope so Close frees it.
func (s *Scope) Add(addr llvmffi.Addr, size uint64) {
	if s.list == nil || addr == llvmffi.Null {
		return
	}
	s.list.allocations = append(s.list.allocations, allocation{addr: addr, size: size})
	s.bytes += size
	s.total++
}

// Count returns the number of allocations the scope currently owns.
func (s *Scope) Count() int {
	if s.list == nil {
		return 0
	}
	return len(s.list.allocations)
}

// Total returns the number of allocations made over the scope's life.
func (s *Scope) Total() int {
	return s.total
}

// Bytes returns the number of bytes allocated over the scope's life.
func (s *Scope) Bytes() uint64 {
	return s.bytes
}

// Close frees all allocations in reverse order. Frees run even when the
// scope's context is already cancelled. Calling Close again does nothing.
func (s *Scope) Close() error {
	if s.list == nil {
		return nil
	}
	list := s.list
	s.list = nil

	ctx := context.WithoutCancel(s.ctx)
	var firstErr error
	for i := len(list.allocations) - 1; i >= 0; i-- {
		a := list.allocations[i]
		if err := s.alloc.Free(ctx, a.addr); err != nil {
			Logger().Warn("failed to free transient allocation",
				zap.Uint64("addr", uint64(a.addr)),
				zap.Uint64("size", a.size),
				zap.Error(err))
			if firstErr == nil {
				firstErr = errors.Wrap(errors.PhaseRelease, errors.KindAllocation, err, "free transient allocation")
			}
		}
	}
	list.release()
	return firstErr
}

func (s *Scope) allocate(size uint64) (llvmffi.Addr, error) {
	if s.list == nil {
		return llvmffi.Null, errors.Closed(errors.PhaseMarshal, "scope")
	}
	addr, err := s.alloc.Alloc(s.ctx, size)
	if err != nil {
		return llvmffi.Null, errors.AllocationFailed(errors.PhaseMarshal, size, err)
	}
	if addr == llvmffi.Null {
		return llvmffi.Null, errors.AllocationFailed(errors.PhaseMarshal, size, nil)
	}
	s.Add(addr, size)
	return addr, nil
}
