package interp

import (
	"context"
	"math"
	"testing"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func TestIntegerDivision(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(a, b uint32) (uint32, error)
		a, b    int32
		want    int32
		wantErr *errors.Error
	}{
		{"div_s", divS32, -7, 2, -3, nil},
		{"div_u", divU32, -7, 2, 0x7FFFFFFC, nil},
		{"rem_s", remS32, -7, 2, -1, nil},
		{"rem_u", remU32, 7, 3, 1, nil},
		{"div_s zero", divS32, 7, 0, 0, ErrDivideByZero},
		{"div_u zero", divU32, 7, 0, 0, ErrDivideByZero},
		{"rem_s zero", remS32, 7, 0, 0, ErrDivideByZero},
		{"rem_u zero", remU32, 7, 0, 0, ErrDivideByZero},
		{"div_s overflow", divS32, math.MinInt32, -1, 0, ErrIntegerOverflow},
		{"rem_s min by -1", remS32, math.MinInt32, -1, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(uint32(tt.a), uint32(tt.b))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if int32(got) != tt.want {
				t.Errorf("got %d, want %d", int32(got), tt.want)
			}
		})
	}

	if _, err := divS64(uint64(1)<<63, ^uint64(0)); !errors.Is(err, ErrIntegerOverflow) {
		t.Errorf("i64 MinInt / -1: %v", err)
	}
	if r, err := remS64(uint64(1)<<63, ^uint64(0)); err != nil || r != 0 {
		t.Errorf("i64 MinInt %% -1 = %d, %v", r, err)
	}
}

func TestTruncation(t *testing.T) {
	if _, err := truncS32(math.NaN()); !errors.Is(err, ErrInvalidConversion) {
		t.Errorf("trunc NaN: %v", err)
	}
	if _, err := truncS32(2147483648); !errors.Is(err, ErrIntegerOverflow) {
		t.Errorf("trunc 2^31: %v", err)
	}
	if v, err := truncS32(-2147483648.9); err != nil || int32(v) != math.MinInt32 {
		t.Errorf("trunc -2^31-0.9 = %d, %v", int32(v), err)
	}
	if v, err := truncU32(-0.9); err != nil || v != 0 {
		t.Errorf("trunc_u -0.9 = %d, %v", v, err)
	}
	if _, err := truncU32(-1); !errors.Is(err, ErrIntegerOverflow) {
		t.Errorf("trunc_u -1: %v", err)
	}
	if v, err := truncS64(-9223372036854775808); err != nil || int64(v) != math.MinInt64 {
		t.Errorf("trunc -2^63 = %d, %v", int64(v), err)
	}
	if _, err := truncS64(9223372036854775808); !errors.Is(err, ErrIntegerOverflow) {
		t.Errorf("trunc 2^63: %v", err)
	}
	if v, err := truncU64(18446744073709549568); err != nil || v != 18446744073709549568 {
		t.Errorf("trunc_u max = %d, %v", v, err)
	}
	if _, err := truncU64(math.Inf(1)); !errors.Is(err, ErrIntegerOverflow) {
		t.Errorf("trunc_u +inf: %v", err)
	}
}

func TestSaturatingTruncation(t *testing.T) {
	if satS32(math.NaN()) != 0 || satU64(math.NaN()) != 0 {
		t.Error("NaN does not saturate to 0")
	}
	if int32(satS32(1e10)) != math.MaxInt32 || int32(satS32(-1e10)) != math.MinInt32 {
		t.Error("i32 saturation bounds")
	}
	if satU32(-5) != 0 || satU32(1e10) != math.MaxUint32 {
		t.Error("u32 saturation bounds")
	}
	if int64(satS64(math.Inf(-1))) != math.MinInt64 || int64(satS64(math.Inf(1))) != math.MaxInt64 {
		t.Error("i64 saturation bounds")
	}
	if satU64(math.Inf(1)) != math.MaxUint64 {
		t.Error("u64 saturation bound")
	}
}

func TestFloatBitOps(t *testing.T) {
	negZero := math.Copysign(0, -1)
	if math.Signbit(absF64(negZero)) {
		t.Error("abs(-0) kept the sign")
	}
	nan := math.Float32frombits(0x7FC00001)
	if math.Float32bits(negF32(nan)) != 0xFFC00001 {
		t.Errorf("neg changed NaN payload: %#x", math.Float32bits(negF32(nan)))
	}
	if copysignF32(2, -1) != -2 {
		t.Error("copysign")
	}
}

func TestNumericInstructions(t *testing.T) {
	tests := []struct {
		name   string
		result []wasm.ValType
		body   []wasm.Instruction
		want   Value
	}{
		{"i32.rotl", i32, []wasm.Instruction{i32c(-0x7FFFFFFF), i32c(1), op(wasm.OpI32Rotl)}, I32(3)},
		{"i32.shr_s", i32, []wasm.Instruction{i32c(-8), i32c(33), op(wasm.OpI32ShrS)}, I32(-4)},
		{"i32.clz", i32, []wasm.Instruction{i32c(1), op(wasm.OpI32Clz)}, I32(31)},
		{"i64.popcnt", i64, []wasm.Instruction{i64c(-1), op(wasm.OpI64Popcnt)}, I64(64)},
		{"i32.wrap_i64", i32, []wasm.Instruction{i64c(0x1_0000_0007), op(wasm.OpI32WrapI64)}, I32(7)},
		{"i64.extend_i32_u", i64, []wasm.Instruction{i32c(-1), op(wasm.OpI64ExtendI32U)}, I64(0xFFFFFFFF)},
		{"i32.extend8_s", i32, []wasm.Instruction{i32c(0x80), op(wasm.OpI32Extend8S)}, I32(-128)},
		{"f64.nearest", f64s, []wasm.Instruction{f64c(2.5), op(wasm.OpF64Nearest)}, F64(2)},
		{"f64.min", f64s, []wasm.Instruction{f64c(0), f64c(math.Copysign(0, -1)), op(wasm.OpF64Min)}, F64(math.Copysign(0, -1))},
		{"f64.convert_i64_u", f64s, []wasm.Instruction{i64c(-1), op(wasm.OpF64ConvertI64U)}, F64(18446744073709551615)},
		{"i64.reinterpret_f64", i64, []wasm.Instruction{f64c(1), op(wasm.OpI64ReinterpretF64)}, I64(0x3FF0000000000000)},
		{"f64.lt", i32, []wasm.Instruction{f64c(1), f64c(2), op(wasm.OpF64Lt)}, I32(1)},
		{"i32.trunc_sat_f64_s", i32, []wasm.Instruction{f64c(-1e20), misc(wasm.MiscI32TruncSatF64S)}, I32(math.MinInt32)},
		{"select", i32, []wasm.Instruction{i32c(10), i32c(20), i32c(0), op(wasm.OpSelect)}, I32(20)},
	}

	b := newModule()
	for _, tt := range tests {
		b.fn(tt.name, sig(nil, tt.result), nil, tt.body...)
	}
	inst := b.instantiate(t, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := inst.Call(context.Background(), tt.name)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 1 || results[0] != tt.want {
				t.Errorf("got %v, want %v", results, tt.want)
			}
		})
	}
}
