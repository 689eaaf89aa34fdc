package interp

import (
	"github.com/wippyai/wasm-interp/errors"
)

// ValueStack is the LIFO operand stack. Entries are only ever added or
// removed at the top; no operation reorders the survivors.
type ValueStack struct {
	values []Value
}

// NewValueStack returns an empty stack with room for capacity values.
func NewValueStack(capacity int) *ValueStack {
	return &ValueStack{values: make([]Value, 0, capacity)}
}

func (s *ValueStack) Len() int { return len(s.values) }

func (s *ValueStack) Push(v Value) {
	s.values = append(s.values, v)
}

// Pop removes and returns the top value. An empty stack is a trap.
func (s *ValueStack) Pop() (Value, error) {
	n := len(s.values)
	if n == 0 {
		return Value{}, errors.Trap(errors.KindStackUnderflow, "pop from empty operand stack")
	}
	v := s.values[n-1]
	s.values = s.values[:n-1]
	return v, nil
}

// PopKind pops the top value and checks that it holds kind k. On a kind
// mismatch the value is left on the stack and a trap is returned.
func (s *ValueStack) PopKind(k Kind) (Value, error) {
	n := len(s.values)
	if n == 0 {
		return Value{}, errors.Trap(errors.KindStackUnderflow, "pop %s from empty operand stack", k)
	}
	v := s.values[n-1]
	if v.kind != k {
		return Value{}, errors.TypeMismatch(errors.PhaseTrap, []string{"stack"}, k.String(), v.kind.String())
	}
	s.values = s.values[:n-1]
	return v, nil
}

// Peek returns the top value without removing it.
func (s *ValueStack) Peek() (Value, error) {
	n := len(s.values)
	if n == 0 {
		return Value{}, errors.Trap(errors.KindStackUnderflow, "peek at empty operand stack")
	}
	return s.values[n-1], nil
}

// PopN removes the top n values and returns them bottom first, i.e. in the
// order they were pushed.
func (s *ValueStack) PopN(n int) ([]Value, error) {
	if n > len(s.values) {
		return nil, errors.Trap(errors.KindStackUnderflow, "need %d operands, stack holds %d", n, len(s.values))
	}
	start := len(s.values) - n
	out := make([]Value, n)
	copy(out, s.values[start:])
	s.values = s.values[:start]
	return out, nil
}

// PopTyped pops len(kinds) values whose kinds must match kinds in order.
// Nothing is removed when a check fails.
func (s *ValueStack) PopTyped(kinds []Kind) ([]Value, error) {
	n := len(kinds)
	if n > len(s.values) {
		return nil, errors.Trap(errors.KindStackUnderflow, "need %d operands, stack holds %d", n, len(s.values))
	}
	start := len(s.values) - n
	for i, k := range kinds {
		if got := s.values[start+i].kind; got != k {
			return nil, errors.TypeMismatch(errors.PhaseTrap, []string{"stack"}, k.String(), got.String())
		}
	}
	return s.PopN(n)
}

// Unwind drops everything between height and the top keep values, so the
// stack ends up keep values above height.
func (s *ValueStack) Unwind(height, keep int) error {
	n := len(s.values)
	if height < 0 || n < height+keep {
		return errors.Trap(errors.KindStackUnderflow, "unwind to %d keeping %d, stack holds %d", height, keep, n)
	}
	if n == height+keep {
		return nil
	}
	copy(s.values[height:], s.values[n-keep:])
	s.values = s.values[:height+keep]
	return nil
}

// Values returns a copy of the stack contents, bottom first.
func (s *ValueStack) Values() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values)
	return out
}

func (s *ValueStack) Reset() {
	s.values = s.values[:0]
}
