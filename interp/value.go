package interp

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Kind identifies which of the four numeric types a Value holds.
type Kind uint8

const (
	KindI32 Kind = iota + 1
	KindI64
	KindF32
	KindF64
)

func (k Kind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	}
	return "invalid"
}

// ValType returns the binary encoding of k.
func (k Kind) ValType() wasm.ValType {
	switch k {
	case KindI32:
		return wasm.ValI32
	case KindI64:
		return wasm.ValI64
	case KindF32:
		return wasm.ValF32
	case KindF64:
		return wasm.ValF64
	}
	return 0
}

// KindOf maps a decoded value type to a Kind. Reference types are rejected.
func KindOf(t wasm.ValType) (Kind, error) {
	switch t {
	case wasm.ValI32:
		return KindI32, nil
	case wasm.ValI64:
		return KindI64, nil
	case wasm.ValF32:
		return KindF32, nil
	case wasm.ValF64:
		return KindF64, nil
	}
	return 0, errors.Unsupported(errors.PhaseLoad, fmt.Sprintf("value type %s", t))
}

func kindsOf(types []wasm.ValType) ([]Kind, error) {
	out := make([]Kind, len(types))
	for i, t := range types {
		k, err := KindOf(t)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

// Value is an immutable tagged numeric datum. Floats are stored by their
// IEEE-754 bit pattern so NaN payloads survive stack and memory round trips.
type Value struct {
	bits uint64
	kind Kind
}

func I32(v int32) Value { return Value{kind: KindI32, bits: uint64(uint32(v))} }

func I64(v int64) Value { return Value{kind: KindI64, bits: uint64(v)} }

func F32(v float32) Value { return Value{kind: KindF32, bits: uint64(math.Float32bits(v))} }

func F64(v float64) Value { return Value{kind: KindF64, bits: math.Float64bits(v)} }

// FromBits builds a Value of kind k from its raw bit pattern. Bits above
// the kind's width are discarded.
func FromBits(k Kind, bits uint64) Value {
	if k == KindI32 || k == KindF32 {
		bits = uint64(uint32(bits))
	}
	return Value{kind: k, bits: bits}
}

// Zero returns the zero value of kind k.
func Zero(k Kind) Value { return Value{kind: k} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Bits() uint64   { return v.bits }
func (v Value) I32() int32     { return int32(uint32(v.bits)) }
func (v Value) U32() uint32    { return uint32(v.bits) }
func (v Value) I64() int64     { return int64(v.bits) }
func (v Value) U64() uint64    { return v.bits }
func (v Value) F32() float32   { return math.Float32frombits(uint32(v.bits)) }
func (v Value) F64() float64   { return math.Float64frombits(v.bits) }
func (v Value) IsValid() bool  { return v.kind >= KindI32 && v.kind <= KindF64 }
func (v Value) Is(k Kind) bool { return v.kind == k }

// String renders the value as number:kind, e.g. "5:i32".
func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return strconv.FormatInt(int64(v.I32()), 10) + ":i32"
	case KindI64:
		return strconv.FormatInt(v.I64(), 10) + ":i64"
	case KindF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32) + ":f32"
	case KindF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64) + ":f64"
	}
	return "<invalid>"
}

// ParseValue parses "kind:number", e.g. "i32:5" or "f64:-1.5".
// A bare integer is read as i32.
func ParseValue(s string) (Value, error) {
	kind, num, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		kind, num = "i32", kind
	}
	var (
		v   Value
		err error
	)
	switch kind {
	case "i32":
		var n int64
		n, err = strconv.ParseInt(num, 0, 32)
		if err != nil {
			// accept unsigned spellings such as 0xffffffff
			var u uint64
			if u, err = strconv.ParseUint(num, 0, 32); err == nil {
				n = int64(int32(uint32(u)))
			}
		}
		v = I32(int32(n))
	case "i64":
		var n int64
		n, err = strconv.ParseInt(num, 0, 64)
		if err != nil {
			var u uint64
			if u, err = strconv.ParseUint(num, 0, 64); err == nil {
				n = int64(u)
			}
		}
		v = I64(n)
	case "f32":
		var f float64
		f, err = strconv.ParseFloat(num, 32)
		v = F32(float32(f))
	case "f64":
		var f float64
		f, err = strconv.ParseFloat(num, 64)
		v = F64(f)
	default:
		return Value{}, errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("unknown value kind %q", kind))
	}
	if err != nil {
		return Value{}, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Cause(err).
			Detail("parse %s value %q", kind, num).
			Build()
	}
	return v, nil
}
