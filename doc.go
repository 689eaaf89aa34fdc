// Package wasminterp provides a Go interpreter for WebAssembly core modules.
//
// The interpreter executes decoded modules on an explicit operand stack and
// call stack, owns linear memory and globals, and reaches the embedding host
// only through an import dispatcher capability.
//
// # Architecture Overview
//
//	wasminterp/          Root package with the host-facing Memory interface
//	├── interp/          Values, stacks, frames, labels and the execution loop
//	├── wasm/            Core WASM binary decoding, encoding and validation
//	├── wasi/preview1/   Reference import dispatcher for wasi_snapshot_preview1
//	├── engine/          wazero backend sharing the same import dispatcher
//	├── runtime/         High-level API for loading and running modules
//	├── config/          TOML/YAML configuration for embedders and the CLI
//	├── errors/          Structured error and trap types
//	└── cmd/run/         Command line runner and step debugger
//
// # Quick Start
//
// Load and run a module:
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx, preview1.New().WithArgs(os.Args))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	results, err := inst.Call(ctx, "add", interp.I32(2), interp.I32(3))
//	fmt.Println(results) // [5:i32]
//
// # Traps
//
// Every abnormal termination of an invocation is returned as an
// *errors.Error with Phase errors.PhaseTrap and a Kind naming the cause.
// Calls to imports no dispatcher recognizes are reported with
// errors.PhaseLinking instead, since they reflect a configuration defect
// rather than a guest fault.
//
// # Thread Safety
//
// An Instance executes one invocation at a time and must be used by a single
// goroutine. Host dispatchers run synchronously on the calling goroutine.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Memory and globals remain
// readable after a trap for diagnostics.
package wasminterp
