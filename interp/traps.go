package interp

import (
	"github.com/wippyai/wasm-interp/errors"
)

// Trap sentinels. Each matches, via errors.Is, any trap of the same kind
// regardless of detail.
var (
	ErrStackUnderflow       = trapSentinel(errors.KindStackUnderflow)
	ErrTypeMismatch         = trapSentinel(errors.KindTypeMismatch)
	ErrOutOfBounds          = trapSentinel(errors.KindOutOfBounds)
	ErrDivideByZero         = trapSentinel(errors.KindDivideByZero)
	ErrIntegerOverflow      = trapSentinel(errors.KindIntegerOverflow)
	ErrInvalidConversion    = trapSentinel(errors.KindInvalidConversion)
	ErrUnreachable          = trapSentinel(errors.KindUnreachable)
	ErrCallStackExhausted   = trapSentinel(errors.KindCallStackExhausted)
	ErrIndirectCallMismatch = trapSentinel(errors.KindIndirectCallMismatch)
	ErrUndefinedElement     = trapSentinel(errors.KindUndefinedElement)
	ErrBudgetExhausted      = trapSentinel(errors.KindBudgetExhausted)
	ErrCanceled             = trapSentinel(errors.KindCanceled)
)

func trapSentinel(kind errors.Kind) *errors.Error {
	return &errors.Error{Phase: errors.PhaseTrap, Kind: kind}
}

// locate stamps the function and instruction index onto err when it is a
// structured error that does not carry a location yet.
func locate(err error, fn *Function, pc int) error {
	e, ok := err.(*errors.Error)
	if !ok || e.Func != "" || fn == nil {
		return err
	}
	located := *e
	located.Func = fn.Name
	located.PC = pc
	return &located
}
