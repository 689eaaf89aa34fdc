package interp

import (
	"encoding/binary"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
)

// maxAddressablePages keeps the byte size representable as uint32.
const maxAddressablePages = 65535

// Memory is an instance's linear memory: one contiguous buffer sized in
// 64 KiB pages that only ever grows. Every access is bounds-checked.
type Memory struct {
	buf      []byte
	maxPages uint32
}

var _ wasminterp.Memory = (*Memory)(nil)

// NewMemory allocates minPages zeroed pages. Growth stops at maxPages.
func NewMemory(minPages, maxPages uint32) (*Memory, error) {
	maxPages = min(maxPages, maxAddressablePages)
	if minPages > maxPages {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindOverflow).
			Path("memory").
			Detail("initial size %d pages exceeds limit of %d pages", minPages, maxPages).
			Build()
	}
	return &Memory{
		buf:      make([]byte, int(minPages)*wasminterp.PageSize),
		maxPages: maxPages,
	}, nil
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 { return uint32(len(m.buf)) }

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 { return uint32(len(m.buf) / wasminterp.PageSize) }

// MaxPages returns the growth limit in pages.
func (m *Memory) MaxPages() uint32 { return m.maxPages }

// Grow adds delta pages and returns the previous page count. It reports
// false and leaves the memory untouched when the limit would be exceeded.
func (m *Memory) Grow(delta uint32) (uint32, bool) {
	old := m.Pages()
	if uint64(old)+uint64(delta) > uint64(m.maxPages) {
		return old, false
	}
	if delta == 0 {
		return old, true
	}
	grown := make([]byte, (int(old)+int(delta))*wasminterp.PageSize)
	copy(grown, m.buf)
	m.buf = grown
	return old, true
}

// Bytes exposes the backing buffer. It is invalidated by Grow.
func (m *Memory) Bytes() []byte { return m.buf }

// slice returns the n bytes at addr, or an out-of-bounds trap.
func (m *Memory) slice(addr uint64, n uint64) ([]byte, error) {
	if addr+n > uint64(len(m.buf)) {
		return nil, errors.New(errors.PhaseTrap, errors.KindOutOfBounds).
			Path("memory").
			Value(addr).
			Detail("access of %d bytes at %d exceeds memory size %d", n, addr, len(m.buf)).
			Build()
	}
	return m.buf[addr : addr+n], nil
}

// Read returns a copy of length bytes at offset.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	b, err := m.slice(uint64(offset), uint64(length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, b)
	return out, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	b, err := m.slice(uint64(offset), uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	b, err := m.slice(uint64(offset), 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	b, err := m.slice(uint64(offset), 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	b, err := m.slice(uint64(offset), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	b, err := m.slice(uint64(offset), 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	b, err := m.slice(uint64(offset), 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

func (m *Memory) WriteU16(offset uint32, value uint16) error {
	b, err := m.slice(uint64(offset), 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	b, err := m.slice(uint64(offset), 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	b, err := m.slice(uint64(offset), 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}

// load reads width bytes at base+offset as a little-endian integer.
func (m *Memory) load(base uint32, offset uint32, width uint64) (uint64, error) {
	b, err := m.slice(uint64(base)+uint64(offset), width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

// store writes the low width bytes of v at base+offset.
func (m *Memory) store(base uint32, offset uint32, width uint64, v uint64) error {
	b, err := m.slice(uint64(base)+uint64(offset), width)
	if err != nil {
		return err
	}
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}
