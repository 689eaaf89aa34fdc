// Package engine runs modules on wazero behind the interpreter's host
// interface.
//
// A WazeroModule accepts the same interp.ImportDispatcher an interp.Instance
// does. Every function import is exported from a wazero host module that
// forwards the call to the dispatcher, handing it a wasminterp.Memory view of
// the guest's memory, so one host implementation serves both backends.
//
// # Architecture
//
//	WazeroEngine   - owns the compilation cache shared by its modules
//	WazeroModule   - a compiled module; Instantiate binds a dispatcher
//	WazeroInstance - a running module in its own wazero runtime
//
// Each instance gets a private wazero runtime because host modules are
// registered by name per runtime; compiled code is reused through the cache.
//
// # Errors
//
// Traps are reported with the same errors.Kind values the interpreter uses,
// so callers can compare backends with errors.Is against interp.ErrDivideByZero
// and friends. Errors returned by the dispatcher surface unchanged, with the
// same host-failure wrapping the interpreter applies.
//
// # Known Limitations
//
// Call depth and instruction budgets are interpreter features; wazero
// enforces only its own stack limit. Context cancellation is honored, but it
// closes the wazero module, so the instance cannot be reused afterwards.
//
// Most users should use the runtime package for a simpler API.
package engine
