package wasm_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/wippyai/wasm-interp/wasm"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		wasm.WriteLEB128u(&buf, tt.value)
		if !bytes.Equal(buf.Bytes(), tt.encoded) {
			t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
		}
		got, err := wasm.ReadLEB128u(bytes.NewReader(tt.encoded))
		if err != nil {
			t.Fatalf("decode %v: %v", tt.encoded, err)
		}
		if got != tt.value {
			t.Errorf("decode: got %d, want %d", got, tt.value)
		}
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
		{[]byte{0x80, 0x7f}, -128},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x78}, math.MinInt32},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		wasm.WriteLEB128s(&buf, tt.value)
		if !bytes.Equal(buf.Bytes(), tt.encoded) {
			t.Errorf("encode %d: got %v, want %v", tt.value, buf.Bytes(), tt.encoded)
		}
		got, err := wasm.ReadLEB128s(bytes.NewReader(tt.encoded))
		if err != nil {
			t.Fatalf("decode %v: %v", tt.encoded, err)
		}
		if got != tt.value {
			t.Errorf("decode: got %d, want %d", got, tt.value)
		}
	}
}

func TestLEB128Signed64(t *testing.T) {
	for _, v := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64, 1 << 40, -(1 << 40)} {
		got, err := wasm.ReadLEB128s64(bytes.NewReader(wasm.EncodeLEB128s64(v)))
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	_, err := wasm.ReadLEB128u(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	if !errors.Is(err, wasm.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	_, err = wasm.ReadLEB128u(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x1f}))
	if !errors.Is(err, wasm.ErrOverflow) {
		t.Errorf("expected ErrOverflow for 33-bit value, got %v", err)
	}
}

func TestLEB128Truncated(t *testing.T) {
	if _, err := wasm.ReadLEB128u(bytes.NewReader([]byte{0x80})); err == nil {
		t.Error("expected error for truncated value")
	}
}

func TestBlockTypeS33(t *testing.T) {
	got, err := wasm.ReadLEB128s33(bytes.NewReader([]byte{0x40}))
	if err != nil {
		t.Fatal(err)
	}
	if got != int64(wasm.BlockTypeVoid) {
		t.Errorf("got %d, want %d", got, wasm.BlockTypeVoid)
	}
}
