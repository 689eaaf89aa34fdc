package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// reader walks a byte slice and tracks its position for error reporting.
type reader struct {
	data []byte
	pos  int
	base int // absolute offset of data[0] within the module
}

func newReader(data []byte, base int) *reader {
	return &reader{data: data, base: base}
}

func (r *reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) offset() int { return r.base + r.pos }

// bytes returns the next n bytes without copying.
func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) rest() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

func (r *reader) u32() (uint32, error) { return ReadLEB128u(r) }

func (r *reader) u32le() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("invalid UTF-8 in name")
	}
	return string(b), nil
}

// wrap annotates err with the current absolute offset.
func (r *reader) wrap(context string, err error) error {
	return fmt.Errorf("%s at offset %d: %w", context, r.offset(), err)
}
