package interp

// LabelKind distinguishes the control constructs that push labels.
type LabelKind uint8

const (
	LabelBlock LabelKind = iota
	LabelLoop
	LabelIf
	// LabelFunc is the implicit label around a function body. Branching to
	// it returns from the function.
	LabelFunc
)

func (k LabelKind) String() string {
	switch k {
	case LabelBlock:
		return "block"
	case LabelLoop:
		return "loop"
	case LabelIf:
		return "if"
	case LabelFunc:
		return "func"
	}
	return "unknown"
}

// Label marks one entered block, loop, if arm or function body.
type Label struct {
	Kind LabelKind
	// Height is the operand stack height below the construct's parameters.
	Height int
	// Params and Results are the entry and exit arities.
	Params  int
	Results int
	// Start is the index of the first instruction inside the construct and
	// End the index of its matching end.
	Start int
	End   int
}

// Arity is the number of values a branch to this label carries: the entry
// arity for loops, the exit arity for everything else.
func (l Label) Arity() int {
	if l.Kind == LabelLoop {
		return l.Params
	}
	return l.Results
}

// Target is the instruction index execution resumes at after branching to
// this label.
func (l Label) Target() int {
	if l.Kind == LabelLoop {
		return l.Start
	}
	return l.End + 1
}
