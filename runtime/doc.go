// Package runtime provides the high-level API for loading and running core
// WebAssembly modules on either backend.
//
// # Quick Start
//
//	ctx := context.Background()
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
//	inst, err := mod.Instantiate(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	results, err := inst.Call(ctx, "add", interp.I32(2), interp.I32(3))
//	fmt.Println(results[0]) // 5:i32
//
// # Backends
//
//	BackendInterpreter - the interp package: call depth and instruction
//	                     budgets, single stepping, snapshots
//	BackendWazero      - wazero through the engine package
//
// Both backends accept the same interp.ImportDispatcher and report traps
// with the same error kinds:
//
//	rt, err := runtime.New(ctx, runtime.WithBackend(runtime.BackendWazero))
//
// # Host Functions
//
// Register Go functions for imports:
//
//	rt.RegisterFunc("env", "log_i32", func(ctx context.Context, v int32) {
//	    fmt.Println(v)
//	})
//
//	// Functions may take the guest memory after the optional context
//	rt.RegisterFunc("env", "sum", func(mem wasminterp.Memory, ptr, n uint32) (uint32, error) {
//	    ...
//	})
//
//	// Or implement the Host interface for a whole namespace
//	rt.RegisterHost(myHost)
//
// Instantiate with a nil dispatcher serves imports from these
// registrations; pass a dispatcher to bypass them.
//
// # Type Mapping
//
//	Go Type          Wasm Type
//	───────────────────────────
//	int32/uint32     i32
//	int64/uint64     i64
//	float32          f32
//	float64          f64
//
// # WASI Support
//
//	wasi := preview1.New().WithArgs([]string{"prog"})
//	rt.RegisterWASI(wasi)
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. Instance is NOT
// thread-safe; each goroutine should have its own Instance.
package runtime
