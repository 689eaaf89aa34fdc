// Package errors provides structured error types for the interpreter.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Guest faults use PhaseTrap; unresolved imports use PhaseLinking so embedders
// can tell a configuration defect from a misbehaving guest.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTrap, errors.KindOutOfBounds).
//		At("func[3]", 17).
//		Detail("memory access at %d+4 exceeds %d", addr, size).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Trap(errors.KindDivideByZero, "i32.div_s")
//	err := errors.OutOfBounds(errors.PhaseTrap, []string{"local"}, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
// Is compares Phase and Kind only, so zero-detail sentinels match any
// error of the same category.
package errors
