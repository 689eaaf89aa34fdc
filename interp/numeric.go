package interp

import (
	"math"
	"math/bits"

	"github.com/wippyai/wasm-interp/errors"
)

func boolI32(b bool) Value {
	if b {
		return I32(1)
	}
	return I32(0)
}

func (s *ValueStack) unopI32(f func(uint32) uint32) error {
	v, err := s.PopKind(KindI32)
	if err != nil {
		return err
	}
	s.Push(I32(int32(f(v.U32()))))
	return nil
}

func (s *ValueStack) binopI32(f func(a, b uint32) uint32) error {
	return s.binopI32Trap(func(a, b uint32) (uint32, error) { return f(a, b), nil })
}

// binopI32Trap pops b then a. Neither operand is consumed when f traps.
func (s *ValueStack) binopI32Trap(f func(a, b uint32) (uint32, error)) error {
	n := len(s.values)
	if err := s.checkTop(KindI32, KindI32); err != nil {
		return err
	}
	r, err := f(s.values[n-2].U32(), s.values[n-1].U32())
	if err != nil {
		return err
	}
	s.values = s.values[:n-2]
	s.Push(I32(int32(r)))
	return nil
}

func (s *ValueStack) cmpI32(f func(a, b uint32) bool) error {
	b, err := s.PopKind(KindI32)
	if err != nil {
		return err
	}
	a, err := s.PopKind(KindI32)
	if err != nil {
		return err
	}
	s.Push(boolI32(f(a.U32(), b.U32())))
	return nil
}

func (s *ValueStack) unopI64(f func(uint64) uint64) error {
	v, err := s.PopKind(KindI64)
	if err != nil {
		return err
	}
	s.Push(I64(int64(f(v.U64()))))
	return nil
}

func (s *ValueStack) binopI64(f func(a, b uint64) uint64) error {
	return s.binopI64Trap(func(a, b uint64) (uint64, error) { return f(a, b), nil })
}

func (s *ValueStack) binopI64Trap(f func(a, b uint64) (uint64, error)) error {
	n := len(s.values)
	if err := s.checkTop(KindI64, KindI64); err != nil {
		return err
	}
	r, err := f(s.values[n-2].U64(), s.values[n-1].U64())
	if err != nil {
		return err
	}
	s.values = s.values[:n-2]
	s.Push(I64(int64(r)))
	return nil
}

func (s *ValueStack) cmpI64(f func(a, b uint64) bool) error {
	b, err := s.PopKind(KindI64)
	if err != nil {
		return err
	}
	a, err := s.PopKind(KindI64)
	if err != nil {
		return err
	}
	s.Push(boolI32(f(a.U64(), b.U64())))
	return nil
}

func (s *ValueStack) unopF32(f func(float32) float32) error {
	v, err := s.PopKind(KindF32)
	if err != nil {
		return err
	}
	s.Push(F32(f(v.F32())))
	return nil
}

func (s *ValueStack) binopF32(f func(a, b float32) float32) error {
	b, err := s.PopKind(KindF32)
	if err != nil {
		return err
	}
	a, err := s.PopKind(KindF32)
	if err != nil {
		return err
	}
	s.Push(F32(f(a.F32(), b.F32())))
	return nil
}

func (s *ValueStack) cmpF32(f func(a, b float32) bool) error {
	b, err := s.PopKind(KindF32)
	if err != nil {
		return err
	}
	a, err := s.PopKind(KindF32)
	if err != nil {
		return err
	}
	s.Push(boolI32(f(a.F32(), b.F32())))
	return nil
}

func (s *ValueStack) unopF64(f func(float64) float64) error {
	v, err := s.PopKind(KindF64)
	if err != nil {
		return err
	}
	s.Push(F64(f(v.F64())))
	return nil
}

func (s *ValueStack) binopF64(f func(a, b float64) float64) error {
	b, err := s.PopKind(KindF64)
	if err != nil {
		return err
	}
	a, err := s.PopKind(KindF64)
	if err != nil {
		return err
	}
	s.Push(F64(f(a.F64(), b.F64())))
	return nil
}

func (s *ValueStack) cmpF64(f func(a, b float64) bool) error {
	b, err := s.PopKind(KindF64)
	if err != nil {
		return err
	}
	a, err := s.PopKind(KindF64)
	if err != nil {
		return err
	}
	s.Push(boolI32(f(a.F64(), b.F64())))
	return nil
}

// convert pops a value of kind from, applies f and pushes the result. A
// trapping conversion leaves the operand on the stack.
func (s *ValueStack) convert(from Kind, f func(Value) (Value, error)) error {
	v, err := s.Peek()
	if err != nil {
		return err
	}
	if v.Kind() != from {
		return errors.TypeMismatch(errors.PhaseTrap, []string{"stack"}, from.String(), v.Kind().String())
	}
	r, err := f(v)
	if err != nil {
		return err
	}
	s.values[len(s.values)-1] = r
	return nil
}

// checkTop verifies the kinds of the top len(kinds) values, bottom first.
func (s *ValueStack) checkTop(kinds ...Kind) error {
	n := len(s.values)
	if n < len(kinds) {
		return errors.Trap(errors.KindStackUnderflow, "need %d operands, stack holds %d", len(kinds), n)
	}
	for i, k := range kinds {
		if got := s.values[n-len(kinds)+i].kind; got != k {
			return errors.TypeMismatch(errors.PhaseTrap, []string{"stack"}, k.String(), got.String())
		}
	}
	return nil
}

// Integer division

var errDivideByZero = errors.Trap(errors.KindDivideByZero, "integer divide by zero")

func divS32(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	if int32(a) == math.MinInt32 && int32(b) == -1 {
		return 0, errors.Trap(errors.KindIntegerOverflow, "integer overflow in i32.div_s")
	}
	return uint32(int32(a) / int32(b)), nil
}

func divU32(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a / b, nil
}

func remS32(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	if int32(b) == -1 {
		return 0, nil
	}
	return uint32(int32(a) % int32(b)), nil
}

func remU32(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a % b, nil
}

func divS64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	if int64(a) == math.MinInt64 && int64(b) == -1 {
		return 0, errors.Trap(errors.KindIntegerOverflow, "integer overflow in i64.div_s")
	}
	return uint64(int64(a) / int64(b)), nil
}

func divU64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a / b, nil
}

func remS64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	if int64(b) == -1 {
		return 0, nil
	}
	return uint64(int64(a) % int64(b)), nil
}

func remU64(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a % b, nil
}

func rotl32(a, b uint32) uint32 { return bits.RotateLeft32(a, int(b&31)) }
func rotr32(a, b uint32) uint32 { return bits.RotateLeft32(a, -int(b&31)) }
func rotl64(a, b uint64) uint64 { return bits.RotateLeft64(a, int(b&63)) }
func rotr64(a, b uint64) uint64 { return bits.RotateLeft64(a, -int(b&63)) }

// Floating point

const (
	f32Sign = uint32(1) << 31
	f64Sign = uint64(1) << 63
)

func absF32(x float32) float32 { return math.Float32frombits(math.Float32bits(x) &^ f32Sign) }
func negF32(x float32) float32 { return math.Float32frombits(math.Float32bits(x) ^ f32Sign) }
func absF64(x float64) float64 { return math.Float64frombits(math.Float64bits(x) &^ f64Sign) }
func negF64(x float64) float64 { return math.Float64frombits(math.Float64bits(x) ^ f64Sign) }

func copysignF32(a, b float32) float32 {
	return math.Float32frombits(math.Float32bits(a)&^f32Sign | math.Float32bits(b)&f32Sign)
}

func f32op(f func(float64) float64) func(float32) float32 {
	return func(x float32) float32 { return float32(f(float64(x))) }
}

// Truncation. Bounds are exclusive and exactly representable.

func truncCheck(x float64, lo, hi float64) (float64, error) {
	if math.IsNaN(x) {
		return 0, errors.Trap(errors.KindInvalidConversion, "invalid conversion to integer")
	}
	t := math.Trunc(x)
	if t <= lo || t >= hi {
		return 0, errors.Trap(errors.KindIntegerOverflow, "integer overflow converting %g", x)
	}
	return t, nil
}

func truncS32(x float64) (uint32, error) {
	t, err := truncCheck(x, -2147483649, 2147483648)
	return uint32(int32(t)), err
}

func truncU32(x float64) (uint32, error) {
	t, err := truncCheck(x, -1, 4294967296)
	return uint32(t), err
}

func truncS64(x float64) (uint64, error) {
	// -2^63 itself is representable and in range.
	if x == -9223372036854775808 {
		return 1 << 63, nil
	}
	t, err := truncCheck(x, -9223372036854775808, 9223372036854775808)
	return uint64(int64(t)), err
}

func truncU64(x float64) (uint64, error) {
	t, err := truncCheck(x, -1, 18446744073709551616)
	if err != nil {
		return 0, err
	}
	if t >= 9223372036854775808 {
		return uint64(t-9223372036854775808) | 1<<63, nil
	}
	return uint64(t), nil
}

func satS32(x float64) uint32 {
	switch {
	case math.IsNaN(x):
		return 0
	case x <= math.MinInt32:
		return uint32(1) << 31
	case x >= math.MaxInt32:
		return math.MaxInt32
	}
	return uint32(int32(x))
}

func satU32(x float64) uint32 {
	switch {
	case math.IsNaN(x) || x <= 0:
		return 0
	case x >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(x)
}

func satS64(x float64) uint64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x <= math.MinInt64:
		return uint64(1) << 63
	case x >= 9223372036854775808:
		return math.MaxInt64
	}
	return uint64(int64(x))
}

func satU64(x float64) uint64 {
	switch {
	case math.IsNaN(x) || x <= 0:
		return 0
	case x >= 18446744073709551616:
		return math.MaxUint64
	}
	if x >= 9223372036854775808 {
		return uint64(x-9223372036854775808) | 1<<63
	}
	return uint64(x)
}
