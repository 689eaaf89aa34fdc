package preview1

import "fmt"

// Errno is a WASI error code returned to the guest as an i32.
type Errno uint16

const (
	ErrnoSuccess Errno = 0
	ErrnoBadf    Errno = 8
	ErrnoFault   Errno = 21
	ErrnoInval   Errno = 28
	ErrnoIO      Errno = 29
	ErrnoNosys   Errno = 52
	ErrnoSpipe   Errno = 70
)

func (e Errno) String() string {
	switch e {
	case ErrnoSuccess:
		return "success"
	case ErrnoBadf:
		return "badf"
	case ErrnoFault:
		return "fault"
	case ErrnoInval:
		return "inval"
	case ErrnoIO:
		return "io"
	case ErrnoNosys:
		return "nosys"
	case ErrnoSpipe:
		return "spipe"
	}
	return fmt.Sprintf("errno(%d)", uint16(e))
}

// ExitError is returned by proc_exit. It unwinds the invocation like a host
// failure; embedders recover the status with errors.As.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
