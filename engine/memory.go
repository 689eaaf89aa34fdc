package engine

import (
	"github.com/tetratelabs/wazero/api"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
)

var _ wasminterp.Memory = (*Memory)(nil)

// Memory wraps wazero memory to implement wasminterp.Memory. A nil api.Memory
// behaves as a memory of size zero.
type Memory struct {
	mem api.Memory
}

func outOfBounds(offset uint32, length uint64, size uint32) error {
	return errors.New(errors.PhaseTrap, errors.KindOutOfBounds).
		Value(offset).
		Detail("access of %d bytes at %d exceeds memory size %d", length, offset, size).
		Build()
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Pages returns the current size in 64KiB pages.
func (m *Memory) Pages() uint32 {
	return m.Size() / wasminterp.PageSize
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, outOfBounds(offset, uint64(length), 0)
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds(offset, uint64(length), m.mem.Size())
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return outOfBounds(offset, uint64(len(data)), m.Size())
	}
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	if m.mem == nil {
		return 0, outOfBounds(offset, 1, 0)
	}
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, outOfBounds(offset, 1, m.mem.Size())
	}
	return v, nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	if m.mem == nil {
		return 0, outOfBounds(offset, 2, 0)
	}
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 2, m.mem.Size())
	}
	return v, nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	if m.mem == nil {
		return 0, outOfBounds(offset, 4, 0)
	}
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 4, m.mem.Size())
	}
	return v, nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	if m.mem == nil {
		return 0, outOfBounds(offset, 8, 0)
	}
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, outOfBounds(offset, 8, m.mem.Size())
	}
	return v, nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if m.mem == nil || !m.mem.WriteByte(offset, value) {
		return outOfBounds(offset, 1, m.Size())
	}
	return nil
}

func (m *Memory) WriteU16(offset uint32, value uint16) error {
	if m.mem == nil || !m.mem.WriteUint16Le(offset, value) {
		return outOfBounds(offset, 2, m.Size())
	}
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if m.mem == nil || !m.mem.WriteUint32Le(offset, value) {
		return outOfBounds(offset, 4, m.Size())
	}
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if m.mem == nil || !m.mem.WriteUint64Le(offset, value) {
		return outOfBounds(offset, 8, m.Size())
	}
	return nil
}
