package engine

import (
	"math"

	"github.com/tetratelabs/wazero/api"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
)

// Memory adapts a wazero linear memory to llvmffi.Memory. Slices returned
// by Read alias the linear memory and are invalidated when it grows.
type Memory struct {
	mem api.Memory
}

func (m *Memory) offset(addr llvmffi.Addr, length uint64) (uint32, uint32, error) {
	if uint64(addr) > math.MaxUint32 || length > math.MaxUint32 {
		return 0, 0, errors.OutOfBounds(errors.PhaseUnmarshal, uint64(addr), length)
	}
	return uint32(addr), uint32(length), nil
}

// Read reads bytes from memory.
func (m *Memory) Read(addr llvmffi.Addr, length uint64) ([]byte, error) {
	off, n, err := m.offset(addr, length)
	if err != nil {
		return nil, err
	}
	data, ok := m.mem.Read(off, n)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseUnmarshal, uint64(addr), length)
	}
	return data, nil
}

// Write writes bytes to memory.
func (m *Memory) Write(addr llvmffi.Addr, data []byte) error {
	off, _, err := m.offset(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	if !m.mem.Write(off, data) {
		return errors.OutOfBounds(errors.PhaseMarshal, uint64(addr), uint64(len(data)))
	}
	return nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Memory) ReadU32(addr llvmffi.Addr) (uint32, error) {
	off, _, err := m.offset(addr, 4)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint32Le(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseUnmarshal, uint64(addr), 4)
	}
	return v, nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Memory) ReadU64(addr llvmffi.Addr) (uint64, error) {
	off, _, err := m.offset(addr, 8)
	if err != nil {
		return 0, err
	}
	v, ok := m.mem.ReadUint64Le(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseUnmarshal, uint64(addr), 8)
	}
	return v, nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Memory) WriteU32(addr llvmffi.Addr, value uint32) error {
	off, _, err := m.offset(addr, 4)
	if err != nil {
		return err
	}
	if !m.mem.WriteUint32Le(off, value) {
		return errors.OutOfBounds(errors.PhaseMarshal, uint64(addr), 4)
	}
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Memory) WriteU64(addr llvmffi.Addr, value uint64) error {
	off, _, err := m.offset(addr, 8)
	if err != nil {
		return err
	}
	if !m.mem.WriteUint64Le(off, value) {
		return errors.OutOfBounds(errors.PhaseMarshal, uint64(addr), 8)
	}
	return nil
}

// Size returns the current size of the linear memory in bytes.
func (m *Memory) Size() uint64 {
	return uint64(m.mem.Size())
}
