package interp

import (
	"testing"

	"github.com/wippyai/wasm-interp/errors"
)

func TestValueStackLIFO(t *testing.T) {
	pushed := []Value{I32(1), I64(-2), F32(3.5), F64(-4.25), I32(0), I64(1 << 40)}
	s := NewValueStack(0)
	for _, v := range pushed {
		s.Push(v)
	}
	for i := len(pushed) - 1; i >= 0; i-- {
		got, err := s.Pop()
		if err != nil {
			t.Fatalf("Pop %d: %v", i, err)
		}
		if got != pushed[i] {
			t.Errorf("Pop %d = %v, want %v", i, got, pushed[i])
		}
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after popping everything", s.Len())
	}
}

func TestValueStackUnderflow(t *testing.T) {
	s := NewValueStack(0)
	if v, err := s.Pop(); err == nil || v.IsValid() {
		t.Fatalf("Pop on empty stack = %v, %v", v, err)
	}
	_, err := s.PopKind(KindI32)
	if !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("PopKind on empty stack: %v, want stack underflow", err)
	}
	if _, err := s.Peek(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Peek on empty stack: %v", err)
	}
	if _, err := s.PopN(1); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("PopN on empty stack: %v", err)
	}
}

func TestValueStackKindMismatch(t *testing.T) {
	s := NewValueStack(0)
	s.Push(F64(1))

	v, err := s.PopKind(KindI32)
	if err == nil {
		t.Fatalf("PopKind(i32) over f64 returned %v", v)
	}
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("error %v is not a type mismatch", err)
	}
	if !errors.IsTrap(err) {
		t.Errorf("error %v is not a trap", err)
	}
	if s.Len() != 1 {
		t.Errorf("mismatched value was consumed, Len = %d", s.Len())
	}

	s.Push(I32(7))
	if _, err := s.PopTyped([]Kind{KindI32, KindI32}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("PopTyped: %v, want type mismatch", err)
	}
	if s.Len() != 2 {
		t.Errorf("PopTyped removed values on failure, Len = %d", s.Len())
	}
}

func TestValueStackPopN(t *testing.T) {
	s := NewValueStack(0)
	s.Push(I32(1))
	s.Push(I32(2))
	s.Push(I32(3))

	got, err := s.PopN(2)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].I32() != 2 || got[1].I32() != 3 {
		t.Errorf("PopN = %v, want bottom-first [2 3]", got)
	}
}

func TestValueStackUnwind(t *testing.T) {
	tests := []struct {
		name   string
		height int
		keep   int
		want   []int32
	}{
		{"keep top", 1, 1, []int32{10, 40}},
		{"keep none", 2, 0, []int32{10, 20}},
		{"keep all above", 2, 2, []int32{10, 20, 30, 40}},
		{"drop everything", 0, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewValueStack(0)
			for _, v := range []int32{10, 20, 30, 40} {
				s.Push(I32(v))
			}
			if err := s.Unwind(tt.height, tt.keep); err != nil {
				t.Fatal(err)
			}
			vals := s.Values()
			if len(vals) != len(tt.want) {
				t.Fatalf("stack = %v, want %v", vals, tt.want)
			}
			for i, w := range tt.want {
				if vals[i].I32() != w {
					t.Errorf("stack[%d] = %d, want %d", i, vals[i].I32(), w)
				}
			}
		})
	}

	s := NewValueStack(0)
	s.Push(I32(1))
	if err := s.Unwind(1, 1); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Unwind past the top: %v", err)
	}
}
