package interp

import (
	"context"
	"fmt"
	"testing"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func addModule() *moduleBuilder {
	b := newModule()
	b.fn("add", sig(i32x2, i32), nil,
		localGet(0), localGet(1), op(wasm.OpI32Add), op(wasm.OpReturn))
	return b
}

func callI32(t *testing.T, inst *Instance, name string, args ...Value) int32 {
	t.Helper()
	results, err := inst.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	if len(results) != 1 || !results[0].Is(KindI32) {
		t.Fatalf("Call(%s) = %v, want one i32", name, results)
	}
	return results[0].I32()
}

func TestCallAdd(t *testing.T) {
	inst := addModule().instantiate(t, nil)
	if got := callI32(t, inst, "add", I32(2), I32(3)); got != 5 {
		t.Errorf("add(2, 3) = %d, want 5", got)
	}
	if got := callI32(t, inst, "add", I32(-1), I32(1)); got != 0 {
		t.Errorf("add(-1, 1) = %d, want 0", got)
	}
}

func TestCallArgumentChecks(t *testing.T) {
	inst := addModule().instantiate(t, nil)
	ctx := context.Background()

	if _, err := inst.Call(ctx, "add", I32(1)); err == nil {
		t.Error("call with too few arguments succeeded")
	}
	_, err := inst.Call(ctx, "add", I32(1), I64(2))
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindTypeMismatch || e.Phase != errors.PhaseRuntime {
		t.Errorf("wrong argument kind: %v", err)
	}
	if _, err := inst.Call(ctx, "missing"); err == nil {
		t.Error("call of unknown export succeeded")
	}
}

func TestDivideByZeroTraps(t *testing.T) {
	b := newModule()
	b.fn("div", sig(nil, i32), nil, i32c(7), i32c(0), op(wasm.OpI32DivS))
	inst := b.instantiate(t, nil)

	results, err := inst.Call(context.Background(), "div")
	if !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("7 / 0: %v", err)
	}
	if results != nil {
		t.Errorf("trap returned results %v", results)
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Func != "div" || e.PC != 2 {
		t.Errorf("trap location = %+v, want div at instruction 2", e)
	}
	if len(inst.Stack()) != 0 || len(inst.Frames()) != 0 {
		t.Errorf("invocation not unwound: stack %v, %d frames", inst.Stack(), len(inst.Frames()))
	}
	if inst.LastTrap() == nil {
		t.Error("LastTrap not recorded")
	}

	// operands stay in place when the operation traps
	s := NewValueStack(0)
	s.Push(I32(7))
	s.Push(I32(0))
	if err := s.binopI32Trap(divS32); err == nil {
		t.Fatal("divS32 by zero did not trap")
	}
	if vals := s.Values(); len(vals) != 2 || vals[1] != I32(0) {
		t.Errorf("stack after trap = %v", vals)
	}
}

func TestTrapDoesNotPoisonInstance(t *testing.T) {
	b := addModule()
	b.fn("boom", sig(nil, nil), nil, i32c(1), op(wasm.OpUnreachable))
	inst := b.instantiate(t, nil)

	_, err := inst.Call(context.Background(), "boom")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("unreachable: %v", err)
	}
	if got := callI32(t, inst, "add", I32(20), I32(22)); got != 42 {
		t.Errorf("add after trap = %d", got)
	}
}

func TestLoopWithoutFrameGrowth(t *testing.T) {
	b := newModule()
	b.fn("count", sig(nil, i32), []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}},
		loop(wasm.BlockTypeI32),
		localGet(0), i32c(1), op(wasm.OpI32Add), localTee(0),
		localGet(0), i32c(1_000_000), op(wasm.OpI32LtS),
		brIf(0),
		op(wasm.OpEnd),
	)
	inst := b.instantiate(t, nil)

	if got := callI32(t, inst, "count"); got != 1_000_000 {
		t.Fatalf("count = %d, want 1000000", got)
	}
	stats := inst.Stats()
	if stats.MaxCallDepth != 1 {
		t.Errorf("max call depth = %d, loop branches must not push frames", stats.MaxCallDepth)
	}
	if stats.Steps < 8_000_000 {
		t.Errorf("steps = %d, loop body did not run a million times", stats.Steps)
	}
}

func TestBranchTrimsToArity(t *testing.T) {
	b := newModule()
	b.fn("blk", sig(nil, i32), nil,
		block(wasm.BlockTypeI32),
		i32c(1), i32c(2), br(0),
		op(wasm.OpEnd),
	)
	b.fn("nested", sig(nil, i32), nil,
		block(wasm.BlockTypeI32),
		block(wasm.BlockTypeVoid),
		i32c(5), i32c(6), i32c(7),
		br(1),
		op(wasm.OpEnd),
		i32c(99),
		op(wasm.OpEnd),
	)
	inst := b.instantiate(t, nil)

	if got := callI32(t, inst, "blk"); got != 2 {
		t.Errorf("br out of block = %d, want 2", got)
	}
	if got := callI32(t, inst, "nested"); got != 7 {
		t.Errorf("br 1 out of nested blocks = %d, want 7", got)
	}
}

func TestBranchTable(t *testing.T) {
	b := newModule()
	b.fn("switch", sig(i32, i32), nil,
		block(wasm.BlockTypeVoid),
		block(wasm.BlockTypeVoid),
		block(wasm.BlockTypeVoid),
		localGet(0),
		brTable(2, 0, 1),
		op(wasm.OpEnd),
		i32c(10), op(wasm.OpReturn),
		op(wasm.OpEnd),
		i32c(20), op(wasm.OpReturn),
		op(wasm.OpEnd),
		i32c(30),
	)
	inst := b.instantiate(t, nil)

	tests := []struct {
		in, want int32
	}{
		{0, 10},
		{1, 20},
		{2, 30},
		{1000, 30},
		{-1, 30},
	}
	for _, tt := range tests {
		if got := callI32(t, inst, "switch", I32(tt.in)); got != tt.want {
			t.Errorf("switch(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIfElse(t *testing.T) {
	b := newModule()
	b.fn("pick", sig(i32, i32), nil,
		localGet(0),
		ifOp(wasm.BlockTypeI32),
		i32c(1),
		op(wasm.OpElse),
		i32c(2),
		op(wasm.OpEnd),
	)
	b.fn("maybe", sig(i32, i32), []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}},
		i32c(5), localSet(1),
		localGet(0),
		ifOp(wasm.BlockTypeVoid),
		i32c(6), localSet(1),
		op(wasm.OpEnd),
		localGet(1),
	)
	inst := b.instantiate(t, nil)

	if got := callI32(t, inst, "pick", I32(1)); got != 1 {
		t.Errorf("pick(1) = %d", got)
	}
	if got := callI32(t, inst, "pick", I32(0)); got != 2 {
		t.Errorf("pick(0) = %d", got)
	}
	if got := callI32(t, inst, "maybe", I32(0)); got != 5 {
		t.Errorf("maybe(0) = %d, if without else must skip to end", got)
	}
	if got := callI32(t, inst, "maybe", I32(3)); got != 6 {
		t.Errorf("maybe(3) = %d", got)
	}
}

func TestRecursionDepthTraps(t *testing.T) {
	b := newModule()
	b.fn("forever", sig(nil, nil), nil, call(0))
	inst := b.instantiate(t, nil, WithMaxCallDepth(64))

	_, err := inst.Call(context.Background(), "forever")
	if !errors.Is(err, ErrCallStackExhausted) {
		t.Fatalf("unbounded recursion: %v", err)
	}
	if inst.Stats().MaxCallDepth != 64 {
		t.Errorf("max depth reached = %d, want 64", inst.Stats().MaxCallDepth)
	}
}

func TestFactorial(t *testing.T) {
	b := newModule()
	// fac(n) = n < 2 ? 1 : n * fac(n-1)
	b.fn("fac", sig(i64, i64), nil,
		localGet(0), i64c(2), op(wasm.OpI64LtS),
		ifOp(wasm.BlockTypeI64),
		i64c(1),
		op(wasm.OpElse),
		localGet(0),
		localGet(0), i64c(1), op(wasm.OpI64Sub),
		call(0),
		op(wasm.OpI64Mul),
		op(wasm.OpEnd),
	)
	inst := b.instantiate(t, nil)

	results, err := inst.Call(context.Background(), "fac", I64(20))
	if err != nil {
		t.Fatal(err)
	}
	if results[0].I64() != 2432902008176640000 {
		t.Errorf("fac(20) = %d", results[0].I64())
	}
}

func TestCallIndirect(t *testing.T) {
	b := newModule()
	seven := b.fn("", sig(nil, i32), nil, i32c(7))
	ident := b.fn("", sig(i32, i32), nil, localGet(0))
	b.table(3, 0, seven, ident)
	typeIdx := b.m.AddType(sig(nil, i32))
	b.fn("dispatch", sig(i32, i32), nil, localGet(0), callIndirect(typeIdx))
	inst := b.instantiate(t, nil)

	if got := callI32(t, inst, "dispatch", I32(0)); got != 7 {
		t.Errorf("dispatch(0) = %d, want 7", got)
	}

	ctx := context.Background()
	if _, err := inst.Call(ctx, "dispatch", I32(1)); !errors.Is(err, ErrIndirectCallMismatch) {
		t.Errorf("signature mismatch: %v", err)
	}
	if _, err := inst.Call(ctx, "dispatch", I32(2)); !errors.Is(err, ErrUndefinedElement) {
		t.Errorf("null element: %v", err)
	}
	if _, err := inst.Call(ctx, "dispatch", I32(5)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("index past table: %v", err)
	}
}

func TestGlobals(t *testing.T) {
	b := newModule()
	b.global("counter", wasm.ValI32, true, i32c(42))
	b.global("base", wasm.ValI64, false, i64c(10))
	b.global("derived", wasm.ValI32, false, globalGet(0), i32c(8), op(wasm.OpI32Mul))
	b.fn("bump", sig(nil, i32), nil,
		globalGet(0), i32c(1), op(wasm.OpI32Add), globalSet(0),
		globalGet(0),
	)
	b.fn("clobber", sig(nil, nil), nil, i64c(1), globalSet(1))
	b.fn("mistype", sig(nil, nil), nil, i64c(1), globalSet(0))
	inst := b.instantiate(t, nil)

	if got := callI32(t, inst, "bump"); got != 43 {
		t.Errorf("bump = %d", got)
	}
	g, err := inst.Global("counter")
	if err != nil {
		t.Fatal(err)
	}
	if g.Get() != I32(43) || !g.Mutable {
		t.Errorf("counter = %v mutable=%v", g.Get(), g.Mutable)
	}
	if d, _ := inst.Global("derived"); d.Get() != I32(336) {
		t.Errorf("derived = %v, want 336", d.Get())
	}

	ctx := context.Background()
	if _, err := inst.Call(ctx, "clobber"); !errors.IsTrap(err) {
		t.Errorf("set of immutable global: %v", err)
	}
	if _, err := inst.Call(ctx, "mistype"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("set with wrong kind: %v", err)
	}
	if g.Get() != I32(43) {
		t.Errorf("failed set changed counter to %v", g.Get())
	}
	if _, err := inst.Global("bump"); err == nil {
		t.Error("Global returned a function export")
	}
}

func TestMemoryInstructions(t *testing.T) {
	b := newModule().memory(1, ptr64(2)).data(16, []byte("hello"))
	b.fn("load8", sig(i32, i32), nil, localGet(0), memOp(wasm.OpI32Load8U, 0))
	b.fn("poke", sig(i32, nil), nil, localGet(0), i32c(0x7F), memOp(wasm.OpI32Store8, 0))
	b.fn("roundtrip", sig(nil, i64), nil,
		i32c(100), i64c(-2), memOp(wasm.OpI64Store, 4),
		i32c(96), memOp(wasm.OpI64Load, 8),
	)
	b.fn("grow", sig(i32, i32), nil, localGet(0), op(wasm.OpMemoryGrow))
	b.fn("size", sig(nil, i32), nil, op(wasm.OpMemorySize))
	b.fn("bulk", sig(nil, i32), nil,
		i32c(0), i32c(0x61), i32c(4), misc(wasm.MiscMemoryFill),
		i32c(8), i32c(1), i32c(4), misc(wasm.MiscMemoryCopy),
		i32c(10), memOp(wasm.OpI32Load8U, 0),
	)
	inst := b.instantiate(t, nil)
	ctx := context.Background()

	if got := callI32(t, inst, "load8", I32(16)); got != 'h' {
		t.Errorf("data segment byte = %q", got)
	}
	if _, err := inst.Call(ctx, "poke", I32(wasminterp.PageSize-1)); err != nil {
		t.Errorf("store to last byte: %v", err)
	}
	if _, err := inst.Call(ctx, "poke", I32(wasminterp.PageSize)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("store past the end: %v", err)
	}
	if v, _ := inst.Memory().ReadU8(wasminterp.PageSize - 1); v != 0x7F {
		t.Errorf("memory not inspectable after trap: %#x", v)
	}

	results, err := inst.Call(ctx, "roundtrip")
	if err != nil || results[0].I64() != -2 {
		t.Errorf("roundtrip = %v, %v", results, err)
	}
	if got := callI32(t, inst, "bulk"); got != 0x61 {
		t.Errorf("bulk = %#x", got)
	}

	if got := callI32(t, inst, "grow", I32(1)); got != 1 {
		t.Errorf("grow(1) = %d, want previous size 1", got)
	}
	if got := callI32(t, inst, "grow", I32(1)); got != -1 {
		t.Errorf("grow past max = %d, want -1", got)
	}
	if got := callI32(t, inst, "size"); got != 2 {
		t.Errorf("size = %d", got)
	}
}

func TestImportDispatch(t *testing.T) {
	b := newModule().memory(1, nil)
	double := b.importFunc("env", "double", sig(i32, i32))
	b.fn("run", sig(i32, i32), nil, localGet(0), call(double), i32c(1), op(wasm.OpI32Add))

	var seen []Value
	d := NewFuncDispatcher().Define("env", "double", func(_ context.Context, args []Value, mem wasminterp.Memory) ([]Value, error) {
		seen = args
		if mem == nil || mem.Size() != wasminterp.PageSize {
			return nil, fmt.Errorf("unexpected memory %v", mem)
		}
		return []Value{I32(args[0].I32() * 2)}, nil
	})
	inst := b.instantiate(t, d)

	if got := callI32(t, inst, "run", I32(20)); got != 41 {
		t.Errorf("run(20) = %d, want 41", got)
	}
	if len(seen) != 1 || seen[0] != I32(20) {
		t.Errorf("dispatcher saw %v", seen)
	}
	if inst.Stats().MaxCallDepth != 1 {
		t.Errorf("import call pushed a frame: depth %d", inst.Stats().MaxCallDepth)
	}
}

func TestImportFailures(t *testing.T) {
	errBoom := fmt.Errorf("boom")
	b := newModule()
	fail := b.importFunc("env", "fail", sig(nil, nil))
	bad := b.importFunc("env", "bad", sig(nil, i32))
	b.fn("fail", sig(nil, nil), nil, call(fail))
	b.fn("bad", sig(nil, i32), nil, call(bad))

	d := DispatcherFunc(func(_ context.Context, module, name string, _ []Value, _ wasminterp.Memory) ([]Value, error) {
		if name == "fail" {
			return nil, errBoom
		}
		return []Value{F32(1)}, nil
	})
	inst := b.instantiate(t, d)
	ctx := context.Background()

	_, err := inst.Call(ctx, "fail")
	if !errors.Is(err, errBoom) {
		t.Errorf("host error lost: %v", err)
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Phase != errors.PhaseHost || e.Kind != errors.KindHostFailure {
		t.Errorf("host failure = %v", err)
	}
	if _, err := inst.Call(ctx, "bad"); err == nil {
		t.Error("host result of the wrong kind accepted")
	}
}

func TestMissingImports(t *testing.T) {
	b := newModule()
	missing := b.importFunc("env", "missing", sig(nil, nil))
	b.fn("run", sig(nil, nil), nil, call(missing))
	m := b.module()
	ctx := context.Background()

	t.Run("eager", func(t *testing.T) {
		_, err := Instantiate(ctx, m, NewFuncDispatcher())
		var mie *errors.MissingImportsError
		if !errors.As(err, &mie) {
			t.Fatalf("Instantiate = %v, want MissingImportsError", err)
		}
		if len(mie.Imports) != 1 || mie.Imports[0].Module != "env" || mie.Imports[0].Function != "missing" {
			t.Errorf("missing imports = %+v", mie.Imports)
		}
	})

	t.Run("lazy option", func(t *testing.T) {
		inst, err := Instantiate(ctx, m, NewFuncDispatcher(), WithLazyImports(true))
		if err != nil {
			t.Fatal(err)
		}
		_, err = inst.Call(ctx, "run")
		if !errors.Is(err, ErrUnknownImport) {
			t.Fatalf("call of unserved import: %v", err)
		}
		if errors.IsTrap(err) {
			t.Errorf("unknown import reported as a trap: %v", err)
		}
	})

	t.Run("dispatcher without resolver", func(t *testing.T) {
		d := DispatcherFunc(func(_ context.Context, module, name string, _ []Value, _ wasminterp.Memory) ([]Value, error) {
			return nil, UnknownImport(module, name)
		})
		inst, err := Instantiate(ctx, m, d)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := inst.Call(ctx, "run"); !errors.Is(err, ErrUnknownImport) {
			t.Errorf("call of unserved import: %v", err)
		}
	})
}

func TestInstructionBudget(t *testing.T) {
	b := newModule()
	b.fn("spin", sig(nil, nil), nil, loop(wasm.BlockTypeVoid), br(0), op(wasm.OpEnd))
	inst := b.instantiate(t, nil, WithMaxInstructions(1000))

	_, err := inst.Call(context.Background(), "spin")
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("infinite loop with budget: %v", err)
	}
	if inst.Stats().Steps != 1001 {
		t.Errorf("steps = %d", inst.Stats().Steps)
	}
}

func TestCancellation(t *testing.T) {
	b := newModule()
	stop := b.importFunc("env", "stop", sig(nil, nil))
	b.fn("spin", sig(nil, nil), nil, call(stop), loop(wasm.BlockTypeVoid), br(0), op(wasm.OpEnd))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewFuncDispatcher().Define("env", "stop", func(context.Context, []Value, wasminterp.Memory) ([]Value, error) {
		cancel()
		return nil, nil
	})
	inst := b.instantiate(t, d)

	_, err := inst.Call(ctx, "spin")
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("canceled loop: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause not preserved: %v", err)
	}
	if inst.Stats().Steps > 2*cancelCheckInterval {
		t.Errorf("cancellation noticed after %d steps", inst.Stats().Steps)
	}

	if _, err := inst.Call(ctx, "spin"); !errors.Is(err, ErrCanceled) {
		t.Errorf("call with canceled context: %v", err)
	}
}

func TestStartFunction(t *testing.T) {
	b := newModule()
	b.global("ready", wasm.ValI32, true, i32c(0))
	start := b.fn("", sig(nil, nil), nil, i32c(7), globalSet(0))
	b.m.Start = &start
	inst := b.instantiate(t, nil)

	g, _ := inst.Global("ready")
	if g.Get() != I32(7) {
		t.Errorf("start function did not run: ready = %v", g.Get())
	}

	b2 := newModule()
	trap := b2.fn("", sig(nil, nil), nil, op(wasm.OpUnreachable))
	b2.m.Start = &trap
	_, err := Instantiate(context.Background(), b2.module(), nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("trapping start function: %v", err)
	}
}

func TestInstantiateErrors(t *testing.T) {
	ctx := context.Background()

	b := newModule().memory(1, nil).data(wasminterp.PageSize-2, []byte("abc"))
	if _, err := Instantiate(ctx, b.module(), nil); err == nil {
		t.Error("data segment past memory end accepted")
	}

	b = newModule().memory(4, nil)
	if _, err := Instantiate(ctx, b.module(), nil, WithMaxMemoryPages(2)); err == nil {
		t.Error("initial memory above configured limit accepted")
	}

	b = newModule()
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: "env", Name: "g",
		Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI32}},
	})
	if _, err := Instantiate(ctx, b.module(), nil); err == nil {
		t.Error("imported global accepted")
	}

	invalid := &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindInvalidData}
	b = addModule()
	start := uint32(42)
	b.m.Start = &start
	if _, err := Instantiate(ctx, b.module(), nil); !errors.Is(err, invalid) {
		t.Errorf("start index out of range = %v", err)
	}

	b = addModule()
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: "ghost", Kind: wasm.KindFunc, Idx: 99})
	if _, err := Instantiate(ctx, b.module(), nil); !errors.Is(err, invalid) {
		t.Errorf("export index out of range = %v", err)
	}
}

func TestStepAPI(t *testing.T) {
	inst := addModule().instantiate(t, nil)
	ctx := context.Background()

	if err := inst.Begin("add", I32(2), I32(3)); err != nil {
		t.Fatal(err)
	}
	if _, err := inst.Call(ctx, "add", I32(1), I32(1)); err == nil {
		t.Error("reentrant Call during a stepped invocation succeeded")
	}
	if _, err := inst.Finish(); err == nil {
		t.Error("Finish before completion succeeded")
	}

	steps := 0
	for {
		done, err := inst.Step(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if done {
			break
		}
		steps++
		if steps == 1 {
			instr, frame, ok := inst.Current()
			if !ok || instr.String() != "local.get 0" || frame.Func.Name != "add" {
				t.Errorf("Current = %v in %v, %v", instr, frame, ok)
			}
		}
	}
	results, err := inst.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0] != I32(5) {
		t.Errorf("results = %v", results)
	}
	if got := callI32(t, inst, "add", I32(1), I32(1)); got != 2 {
		t.Errorf("add after stepping = %d", got)
	}
}

func TestExportedFunctions(t *testing.T) {
	inst := addModule().instantiate(t, nil)
	exports := inst.ExportedFunctions()
	if len(exports) != 1 || exports[0].Name != "add" || len(exports[0].Params) != 2 || exports[0].Results[0] != KindI32 {
		t.Errorf("exports = %+v", exports)
	}
}

func TestClosedInstance(t *testing.T) {
	inst := addModule().instantiate(t, nil)
	if err := inst.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := inst.Call(context.Background(), "add", I32(1), I32(2)); err == nil {
		t.Error("call on closed instance succeeded")
	}
}
