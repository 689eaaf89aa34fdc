// Package interp executes decoded WebAssembly modules on a plain stack
// machine.
//
// An Instance owns linear memory, globals, the function table, the call
// stack and the operand stack. Execution is a single loop over decoded
// instructions: calls push frames instead of recursing on the Go stack, and
// structured control flow is resolved against per-frame label stacks using
// block ends computed once at instantiation.
//
// Imported functions are served by an ImportDispatcher supplied by the
// embedder. The interpreter never interprets import names itself.
//
// Every fault during execution is a trap: an *errors.Error whose Phase is
// errors.PhaseTrap. A trap aborts the whole invocation; memory and globals
// keep whatever state they reached and the next Call starts from empty
// stacks.
//
//	inst, err := interp.Instantiate(ctx, mod, preview1.New().WithArgs([]string{"prog"}))
//	if err != nil {
//		return err
//	}
//	results, err := inst.Call(ctx, "add", interp.I32(2), interp.I32(3))
package interp
