package engine

import (
	"context"
	stderrors "errors"
	"testing"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/wasm"
)

func i32c(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func localGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func callFn(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func op(code byte) wasm.Instruction { return wasm.Instruction{Opcode: code} }

var (
	i32   = []wasm.ValType{wasm.ValI32}
	i32x2 = []wasm.ValType{wasm.ValI32, wasm.ValI32}
)

// testModule encodes a module that imports env.double (i32) -> i32 and
// exports add, div, twice and store.
func testModule(t *testing.T) []byte {
	t.Helper()
	var m wasm.Module
	unary := m.AddType(wasm.FuncType{Params: i32, Results: i32})
	binary := m.AddType(wasm.FuncType{Params: i32x2, Results: i32})
	m.Imports = []wasm.Import{{Module: "env", Name: "double", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: unary}}}
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}

	bodies := []struct {
		name string
		typ  uint32
		code []wasm.Instruction
	}{
		{"add", binary, []wasm.Instruction{localGet(0), localGet(1), op(wasm.OpI32Add)}},
		{"div", binary, []wasm.Instruction{localGet(0), localGet(1), op(wasm.OpI32DivS)}},
		{"twice", unary, []wasm.Instruction{localGet(0), callFn(0)}},
		{"store", binary, []wasm.Instruction{
			localGet(0), localGet(1),
			{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{Align: 2}},
			localGet(0),
			{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2}},
		}},
	}
	for n, b := range bodies {
		m.Funcs = append(m.Funcs, b.typ)
		code := append(append([]wasm.Instruction(nil), b.code...), op(wasm.OpEnd))
		m.Code = append(m.Code, wasm.FuncBody{Code: wasm.EncodeInstructions(code)})
		m.Exports = append(m.Exports, wasm.Export{Name: b.name, Kind: wasm.KindFunc, Idx: uint32(n + 1)})
	}
	return m.Encode()
}

func doubler() *interp.FuncDispatcher {
	return interp.NewFuncDispatcher().Define("env", "double",
		func(_ context.Context, args []interp.Value, _ wasminterp.Memory) ([]interp.Value, error) {
			return []interp.Value{interp.I32(args[0].I32() * 2)}, nil
		})
}

func instantiate(t *testing.T, cfg *Config, d interp.ImportDispatcher) *WazeroInstance {
	t.Helper()
	ctx := context.Background()
	eng, err := NewWazeroEngineWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
	}
	t.Cleanup(func() { eng.Close(ctx) })

	mod, err := eng.LoadModule(ctx, testModule(t))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx, d)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })
	return inst
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{LazyImports: true}, "lazy imports"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine, err := NewWazeroEngineWithConfig(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
			}
			if engine.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if err := engine.Close(ctx); err != nil {
				t.Errorf("Close failed: %v", err)
			}
			if err := engine.Close(ctx); err != nil {
				t.Errorf("second Close failed: %v", err)
			}
			if _, err := engine.LoadModule(ctx, testModule(t)); !errors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindNotInitialized}) {
				t.Errorf("LoadModule after Close: %v", err)
			}
		})
	}
}

func TestWazeroModule_Exports(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)

	mod, err := eng.LoadModule(ctx, testModule(t))
	if err != nil {
		t.Fatal(err)
	}
	exports := mod.Exports()
	want := []string{"add", "div", "store", "twice"}
	if len(exports) != len(want) {
		t.Fatalf("got %d exports, want %d", len(exports), len(want))
	}
	for n, exp := range exports {
		if exp.Name != want[n] {
			t.Errorf("exports[%d] = %s, want %s", n, exp.Name, want[n])
		}
	}
	if len(exports[0].Params) != 2 || exports[0].Results[0] != interp.KindI32 {
		t.Errorf("add signature = %v -> %v", exports[0].Params, exports[0].Results)
	}

	if _, err := eng.LoadModule(ctx, []byte("not wasm")); err == nil {
		t.Error("expected compile error for garbage bytes")
	}
}

func TestWazeroInstance_Call(t *testing.T) {
	inst := instantiate(t, nil, doubler())
	ctx := context.Background()

	results, err := inst.Call(ctx, "add", interp.I32(2), interp.I32(3))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(results) != 1 || results[0] != interp.I32(5) {
		t.Errorf("add(2,3) = %v", results)
	}

	results, err = inst.Call(ctx, "twice", interp.I32(21))
	if err != nil {
		t.Fatalf("twice: %v", err)
	}
	if results[0] != interp.I32(42) {
		t.Errorf("twice(21) = %v", results)
	}

	results, err = inst.Call(ctx, "store", interp.I32(16), interp.I32(-7))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if results[0] != interp.I32(-7) {
		t.Errorf("store returned %v", results)
	}
	if v, err := inst.Memory().ReadU32(16); err != nil || int32(v) != -7 {
		t.Errorf("memory[16] = %d, %v", int32(v), err)
	}
	if inst.Memory().Pages() != 1 {
		t.Errorf("pages = %d", inst.Memory().Pages())
	}
}

func TestWazeroInstance_CallErrors(t *testing.T) {
	inst := instantiate(t, nil, doubler())
	ctx := context.Background()

	tests := []struct {
		name string
		fn   string
		args []interp.Value
		want error
	}{
		{"unknown export", "nope", nil, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotFound}},
		{"arity", "add", []interp.Value{interp.I32(1)}, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindInvalidInput}},
		{"kind", "add", []interp.Value{interp.I32(1), interp.I64(1)}, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindTypeMismatch}},
		{"divide by zero", "div", []interp.Value{interp.I32(1), interp.I32(0)}, interp.ErrDivideByZero},
		{"overflow", "div", []interp.Value{interp.I32(-2147483648), interp.I32(-1)}, interp.ErrIntegerOverflow},
		{"out of bounds", "store", []interp.Value{interp.I32(65535), interp.I32(1)}, interp.ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inst.Call(ctx, tt.fn, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	// A trap does not poison the instance.
	if results, err := inst.Call(ctx, "add", interp.I32(1), interp.I32(1)); err != nil || results[0] != interp.I32(2) {
		t.Errorf("add after trap = %v, %v", results, err)
	}
}

func TestWazeroInstance_HostErrors(t *testing.T) {
	ctx := context.Background()
	boom := stderrors.New("boom")

	failing := interp.NewFuncDispatcher().Define("env", "double",
		func(context.Context, []interp.Value, wasminterp.Memory) ([]interp.Value, error) {
			return nil, boom
		})
	inst := instantiate(t, nil, failing)
	_, err := inst.Call(ctx, "twice", interp.I32(1))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindHostFailure}) || !errors.Is(err, boom) {
		t.Errorf("host failure = %v", err)
	}

	wrongKind := interp.NewFuncDispatcher().Define("env", "double",
		func(context.Context, []interp.Value, wasminterp.Memory) ([]interp.Value, error) {
			return []interp.Value{interp.I64(1)}, nil
		})
	inst = instantiate(t, nil, wrongKind)
	_, err = inst.Call(ctx, "twice", interp.I32(1))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindTypeMismatch}) {
		t.Errorf("result kind mismatch = %v", err)
	}
}

func TestWazeroModule_MissingImports(t *testing.T) {
	ctx := context.Background()
	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)
	mod, err := eng.LoadModule(ctx, testModule(t))
	if err != nil {
		t.Fatal(err)
	}

	_, err = mod.Instantiate(ctx, interp.NewFuncDispatcher())
	var missing *errors.MissingImportsError
	if !errors.As(err, &missing) || len(missing.Imports) != 1 || missing.Imports[0].Function != "double" {
		t.Fatalf("eager check = %v", err)
	}

	lazy := instantiate(t, &Config{LazyImports: true}, interp.NewFuncDispatcher())
	if _, err := lazy.Call(ctx, "add", interp.I32(1), interp.I32(2)); err != nil {
		t.Errorf("unrelated call failed: %v", err)
	}
	if _, err := lazy.Call(ctx, "twice", interp.I32(1)); !errors.Is(err, interp.ErrUnknownImport) {
		t.Errorf("lazy missing import = %v", err)
	}
}

func TestWazeroInstance_Close(t *testing.T) {
	inst := instantiate(t, nil, doubler())
	ctx := context.Background()
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := inst.Call(ctx, "add", interp.I32(1), interp.I32(1)); !errors.Is(err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindNotInitialized}) {
		t.Errorf("Call after Close = %v", err)
	}
}

func TestWazeroModule_StartRunsOnce(t *testing.T) {
	ctx := context.Background()
	var m wasm.Module
	void := m.AddType(wasm.FuncType{})
	m.Imports = []wasm.Import{{Module: "env", Name: "tick", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: void}}}
	for _, name := range []string{"init", "_start"} {
		m.Funcs = append(m.Funcs, void)
		m.Code = append(m.Code, wasm.FuncBody{Code: wasm.EncodeInstructions([]wasm.Instruction{callFn(0), op(wasm.OpEnd)})})
		m.Exports = append(m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: uint32(len(m.Funcs))})
	}
	start := uint32(1)
	m.Start = &start

	ticks := 0
	d := interp.NewFuncDispatcher().Define("env", "tick",
		func(context.Context, []interp.Value, wasminterp.Memory) ([]interp.Value, error) {
			ticks++
			return nil, nil
		})

	eng, err := NewWazeroEngine(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)
	mod, err := eng.LoadModule(ctx, m.Encode())
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx, d)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer inst.Close(ctx)

	if ticks != 1 {
		t.Fatalf("ticks after instantiation = %d, want 1 (start section only)", ticks)
	}
	if _, err := inst.Call(ctx, "_start"); err != nil {
		t.Fatalf("_start: %v", err)
	}
	if ticks != 2 {
		t.Errorf("ticks after _start = %d, want 2", ticks)
	}
}

func TestMemory_NilBacking(t *testing.T) {
	var mem Memory
	if mem.Size() != 0 {
		t.Errorf("Size = %d", mem.Size())
	}
	if _, err := mem.ReadU32(0); !errors.Is(err, interp.ErrOutOfBounds) {
		t.Errorf("ReadU32 = %v", err)
	}
	if err := mem.Write(0, []byte{1}); !errors.Is(err, interp.ErrOutOfBounds) {
		t.Errorf("Write = %v", err)
	}
}
