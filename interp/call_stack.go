package interp

import (
	"github.com/wippyai/wasm-interp/errors"
)

// Frame is one function activation: its locals, its label stack and its
// position in the body. Frames are owned by a single CallStack entry.
type Frame struct {
	Func   *Function
	Locals []Value
	labels []Label
	// PC indexes the next instruction of Func.Body.
	PC int
	// Base is the operand stack height below this frame's values.
	Base int
}

// NewFrame builds a frame for fn with the given arguments followed by
// zero-initialized declared locals. The function label is entered.
func NewFrame(fn *Function, args []Value, base int) *Frame {
	locals := make([]Value, len(fn.Locals))
	copy(locals, args)
	for i := len(args); i < len(locals); i++ {
		locals[i] = Zero(fn.Locals[i])
	}
	f := &Frame{
		Func:   fn,
		Locals: locals,
		labels: make([]Label, 0, 8),
		Base:   base,
	}
	f.EnterLabel(Label{
		Kind:    LabelFunc,
		Height:  base,
		Results: len(fn.Results),
		End:     len(fn.Body) - 1,
	})
	return f
}

// EnterLabel pushes l onto the frame's label stack.
func (f *Frame) EnterLabel(l Label) {
	f.labels = append(f.labels, l)
}

// ExitLabel pops the innermost label on normal fall-through.
func (f *Frame) ExitLabel() (Label, error) {
	n := len(f.labels)
	if n == 0 {
		return Label{}, errors.Trap(errors.KindStackUnderflow, "end with empty label stack")
	}
	l := f.labels[n-1]
	f.labels = f.labels[:n-1]
	return l, nil
}

// CurrentLabel returns the innermost label.
func (f *Frame) CurrentLabel() (Label, bool) {
	if len(f.labels) == 0 {
		return Label{}, false
	}
	return f.labels[len(f.labels)-1], true
}

// Branch unwinds depth labels and returns the target. A loop target stays
// on the label stack since execution re-enters it; any other target is
// popped as well.
func (f *Frame) Branch(depth uint32) (Label, error) {
	n := len(f.labels)
	if uint64(depth) >= uint64(n) {
		return Label{}, errors.New(errors.PhaseTrap, errors.KindOutOfBounds).
			Path("label").
			Detail("branch depth %d exceeds %d enclosing labels", depth, n).
			Build()
	}
	idx := n - 1 - int(depth)
	target := f.labels[idx]
	if target.Kind == LabelLoop {
		f.labels = f.labels[:idx+1]
	} else {
		f.labels = f.labels[:idx]
	}
	return target, nil
}

// LabelDepth returns the number of labels on the frame, including the
// function label.
func (f *Frame) LabelDepth() int { return len(f.labels) }

// Labels returns a copy of the label stack, outermost first.
func (f *Frame) Labels() []Label {
	out := make([]Label, len(f.labels))
	copy(out, f.labels)
	return out
}

// BranchTable selects targets[index], or def when index is past the end.
// An out-of-range index never traps.
func BranchTable(index uint32, targets []uint32, def uint32) uint32 {
	if uint64(index) < uint64(len(targets)) {
		return targets[index]
	}
	return def
}

// CallStack is the ordered sequence of active frames, bounded by a
// configured maximum depth.
type CallStack struct {
	frames   []*Frame
	maxDepth int
}

// NewCallStack returns an empty call stack that admits at most maxDepth frames.
func NewCallStack(maxDepth int) *CallStack {
	return &CallStack{
		frames:   make([]*Frame, 0, min(maxDepth, 64)),
		maxDepth: maxDepth,
	}
}

// PushFrame adds f on top. Exceeding the maximum depth is a trap and leaves
// the stack unchanged.
func (c *CallStack) PushFrame(f *Frame) error {
	if len(c.frames) >= c.maxDepth {
		return errors.Trap(errors.KindCallStackExhausted, "call depth exceeds %d frames", c.maxDepth)
	}
	c.frames = append(c.frames, f)
	return nil
}

// PopFrame removes and returns the top frame.
func (c *CallStack) PopFrame() (*Frame, error) {
	n := len(c.frames)
	if n == 0 {
		return nil, errors.Trap(errors.KindStackUnderflow, "return with empty call stack")
	}
	f := c.frames[n-1]
	c.frames[n-1] = nil
	c.frames = c.frames[:n-1]
	return f, nil
}

// Top returns the current frame, or nil when the stack is empty.
func (c *CallStack) Top() *Frame {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func (c *CallStack) Depth() int    { return len(c.frames) }
func (c *CallStack) MaxDepth() int { return c.maxDepth }

// Frames returns the active frames, outermost first. The frames are shared
// with the stack and must not be modified.
func (c *CallStack) Frames() []*Frame {
	out := make([]*Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Reset drops every frame.
func (c *CallStack) Reset() {
	clear(c.frames)
	c.frames = c.frames[:0]
}
