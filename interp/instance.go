package interp

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// tableNull marks an uninitialized table element.
const tableNull = ^uint32(0)

// Global is one entry of an instance's global index space.
type Global struct {
	value   Value
	Kind    Kind
	Mutable bool
}

// Get returns the current value.
func (g *Global) Get() Value { return g.value }

// Stats describes the most recent invocation.
type Stats struct {
	Steps        uint64
	MaxCallDepth int
}

// Instance is an instantiated module: it owns linear memory, globals, the
// table, the call stack and the operand stack, and runs one invocation at
// a time on the calling goroutine.
type Instance struct {
	module     *wasm.Module
	dispatcher ImportDispatcher
	log        *zap.Logger
	memory     *Memory
	stack      *ValueStack
	calls      *CallStack
	exports    map[string]wasm.Export
	funcs      []*Function
	globals    []*Global
	table      []uint32
	data       [][]byte
	cfg        Config

	// invocation state
	entry    *Function
	pending  *Function
	cur      *Function
	lastTrap error
	stats    Stats
	pc       int
	running  bool
	done     bool
	closed   bool
}

// Instantiate validates m and prepares it for execution: it resolves the function index
// space, evaluates global initializers, allocates memory, applies active
// data and element segments and runs the start function.
//
// When d implements ImportResolver, every function import is checked
// before anything else happens and unserved imports are reported together
// as an *errors.MissingImportsError. Otherwise, or with WithLazyImports,
// an unserved import is reported when it is first called.
func Instantiate(ctx context.Context, m *wasm.Module, d ImportDispatcher, opts ...Option) (*Instance, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.New(errors.PhaseValidate, errors.KindInvalidData).
			Cause(err).
			Detail("invalid module: %v", err).
			Build()
	}
	cfg := buildConfig(opts)
	if d == nil {
		d = NewImportRouter()
	}
	inst := &Instance{
		module:     m,
		dispatcher: d,
		cfg:        cfg,
		log:        cfg.Logger,
		stack:      NewValueStack(256),
		calls:      NewCallStack(cfg.MaxCallDepth),
		exports:    make(map[string]wasm.Export, len(m.Exports)),
	}

	if err := inst.checkImports(); err != nil {
		return nil, err
	}

	var err error
	if inst.funcs, err = prepareFunctions(m); err != nil {
		return nil, err
	}
	if err := inst.initGlobals(); err != nil {
		return nil, err
	}
	if err := inst.initMemory(); err != nil {
		return nil, err
	}
	if err := inst.initTable(); err != nil {
		return nil, err
	}
	if err := inst.initData(); err != nil {
		return nil, err
	}
	for _, exp := range m.Exports {
		inst.exports[exp.Name] = exp
	}

	inst.log.Debug("module instantiated",
		zap.Int("functions", len(inst.funcs)),
		zap.Int("globals", len(inst.globals)),
		zap.Uint32("memory_pages", inst.memory.Pages()),
		zap.Int("table_size", len(inst.table)))

	if m.Start != nil {
		start := inst.funcs[*m.Start]
		if _, err := inst.invoke(ctx, start, nil); err != nil {
			return nil, errors.Instantiation(fmt.Errorf("start function %s: %w", start.Name, err))
		}
	}
	return inst, nil
}

func (i *Instance) checkImports() error {
	var missing []string
	resolver, eager := i.dispatcher.(ImportResolver)
	for _, imp := range i.module.Imports {
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			if eager && !i.cfg.LazyImports && !resolver.Resolves(imp.Module, imp.Name) {
				missing = append(missing, imp.Module+"#"+imp.Name)
			}
		case wasm.KindGlobal:
			return errors.Unsupported(errors.PhaseInstantiate, fmt.Sprintf("imported global %s.%s", imp.Module, imp.Name))
		case wasm.KindTable:
			return errors.Unsupported(errors.PhaseInstantiate, fmt.Sprintf("imported table %s.%s", imp.Module, imp.Name))
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func (i *Instance) initGlobals() error {
	for idx, g := range i.module.Globals {
		kind, err := KindOf(g.Type.ValType)
		if err != nil {
			return err
		}
		v, err := i.evalConst(g.Init, kind)
		if err != nil {
			return errors.Instantiation(fmt.Errorf("global %d: %w", idx, err))
		}
		i.globals = append(i.globals, &Global{value: v, Kind: kind, Mutable: g.Type.Mutable})
	}
	return nil
}

func (i *Instance) initMemory() error {
	var mt *wasm.MemoryType
	for _, imp := range i.module.Imports {
		if imp.Desc.Kind == wasm.KindMemory {
			// Imported memories are allocated here from their declared
			// limits and owned by the instance like a defined one.
			mt = imp.Desc.Memory
		}
	}
	if mt == nil && len(i.module.Memories) > 0 {
		mt = &i.module.Memories[0]
	}

	maxPages := i.cfg.MaxMemoryPages
	var minPages uint32
	if mt != nil {
		minPages = uint32(mt.Limits.Min)
		if mt.Limits.Max != nil && *mt.Limits.Max < uint64(maxPages) {
			maxPages = uint32(*mt.Limits.Max)
		}
	} else {
		maxPages = 0
	}
	mem, err := NewMemory(minPages, maxPages)
	if err != nil {
		return err
	}
	i.memory = mem
	return nil
}

func (i *Instance) initTable() error {
	if len(i.module.Tables) > 0 {
		i.table = make([]uint32, i.module.Tables[0].Limits.Min)
		for n := range i.table {
			i.table[n] = tableNull
		}
	}
	for idx, elem := range i.module.Elements {
		if !elem.Active() {
			continue
		}
		off, err := i.evalConst(elem.Offset, KindI32)
		if err != nil {
			return errors.Instantiation(fmt.Errorf("element %d offset: %w", idx, err))
		}
		refs, err := i.elementRefs(elem)
		if err != nil {
			return errors.Instantiation(fmt.Errorf("element %d: %w", idx, err))
		}
		start := uint64(off.U32())
		if start+uint64(len(refs)) > uint64(len(i.table)) {
			return errors.Instantiation(errors.OutOfBounds(errors.PhaseInstantiate,
				[]string{"table"}, int(start)+len(refs), len(i.table)))
		}
		copy(i.table[start:], refs)
	}
	return nil
}

func (i *Instance) elementRefs(elem wasm.Element) ([]uint32, error) {
	if elem.Exprs == nil {
		return elem.FuncIdxs, nil
	}
	refs := make([]uint32, len(elem.Exprs))
	for n, expr := range elem.Exprs {
		if len(expr) == 0 {
			return nil, errors.InvalidData(errors.PhaseInstantiate, []string{"element"}, "empty expression")
		}
		switch expr[0] {
		case wasm.OpRefNull:
			refs[n] = tableNull
		case wasm.OpRefFunc:
			idx, err := wasm.ReadLEB128u(bytes.NewReader(expr[1:]))
			if err != nil {
				return nil, err
			}
			if int(idx) >= len(i.funcs) {
				return nil, errors.OutOfBounds(errors.PhaseInstantiate, []string{"element", "ref.func"}, int(idx), len(i.funcs))
			}
			refs[n] = idx
		default:
			return nil, errors.Unsupported(errors.PhaseInstantiate, "element expression")
		}
	}
	return refs, nil
}

func (i *Instance) initData() error {
	i.data = make([][]byte, len(i.module.Data))
	for idx, seg := range i.module.Data {
		if !seg.Active() {
			i.data[idx] = seg.Init
			continue
		}
		off, err := i.evalConst(seg.Offset, KindI32)
		if err != nil {
			return errors.Instantiation(fmt.Errorf("data segment %d offset: %w", idx, err))
		}
		if err := i.memory.Write(off.U32(), seg.Init); err != nil {
			return errors.Instantiation(fmt.Errorf("data segment %d: %w", idx, err))
		}
		// active segments behave as dropped once applied
	}
	return nil
}

// Call invokes the exported function name with args and returns its
// results. Any trap aborts the whole invocation and is returned as an
// *errors.Error with errors.PhaseTrap.
func (i *Instance) Call(ctx context.Context, name string, args ...Value) ([]Value, error) {
	fn, err := i.exportedFunc(name)
	if err != nil {
		return nil, err
	}
	return i.invoke(ctx, fn, args)
}

func (i *Instance) invoke(ctx context.Context, fn *Function, args []Value) ([]Value, error) {
	if err := i.begin(fn, args); err != nil {
		return nil, err
	}
	i.log.Debug("invoke", zap.String("func", fn.Name), zap.Int("args", len(args)))
	if err := ctx.Err(); err != nil {
		return nil, i.fail(errors.New(errors.PhaseTrap, errors.KindCanceled).Cause(err).Detail("invocation canceled").Build())
	}
	for !i.done {
		if err := i.step(ctx); err != nil {
			return nil, i.fail(err)
		}
	}
	return i.Finish()
}

// Begin prepares an invocation of the exported function name without
// executing any instruction. Drive it with Step and collect the results
// with Finish.
func (i *Instance) Begin(name string, args ...Value) error {
	fn, err := i.exportedFunc(name)
	if err != nil {
		return err
	}
	return i.begin(fn, args)
}

func (i *Instance) begin(fn *Function, args []Value) error {
	if i.closed {
		return errors.NotInitialized(errors.PhaseRuntime, "instance")
	}
	if i.running {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("instance is already executing %s", i.entry.Name).
			Build()
	}
	if len(args) != len(fn.Params) {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(fn.Name).
			Detail("expected %d arguments, got %d", len(fn.Params), len(args)).
			Build()
	}
	for n, a := range args {
		if a.Kind() != fn.Params[n] {
			return errors.TypeMismatch(errors.PhaseRuntime, []string{fn.Name, fmt.Sprintf("arg%d", n)},
				fn.Params[n].String(), a.Kind().String())
		}
	}

	i.stack.Reset()
	i.calls.Reset()
	for _, a := range args {
		i.stack.Push(a)
	}
	i.entry = fn
	i.pending = fn
	i.cur = nil
	i.stats = Stats{}
	i.running = true
	i.done = false
	return nil
}

// Step executes a single instruction of the invocation started by Begin.
// It reports true once the invocation has returned or trapped.
func (i *Instance) Step(ctx context.Context) (bool, error) {
	if !i.running {
		return true, errors.NotInitialized(errors.PhaseRuntime, "invocation")
	}
	if i.done {
		return true, nil
	}
	if err := i.step(ctx); err != nil {
		return true, i.fail(err)
	}
	return i.done, nil
}

// Finish returns the results of a completed invocation.
func (i *Instance) Finish() ([]Value, error) {
	if !i.running {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "invocation")
	}
	if !i.done {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("invocation of %s has not returned", i.entry.Name).
			Build()
	}
	results, err := i.stack.PopTyped(i.entry.Results)
	if err == nil && i.stack.Len() != 0 {
		err = errors.Trap(errors.KindTypeMismatch, "%d values left on the operand stack", i.stack.Len())
	}
	if err != nil {
		return nil, i.fail(err)
	}
	i.running = false
	i.log.Debug("returned", zap.String("func", i.entry.Name), zap.Uint64("steps", i.stats.Steps))
	return results, nil
}

// fail records a trap, unwinds the whole invocation and returns err with
// its location attached.
func (i *Instance) fail(err error) error {
	err = locate(err, i.cur, i.pc)
	i.lastTrap = err
	i.stack.Reset()
	i.calls.Reset()
	i.pending = nil
	i.running = false
	i.done = true
	i.log.Debug("invocation aborted", zap.Error(err), zap.Uint64("steps", i.stats.Steps))
	return err
}

func (i *Instance) exportedFunc(name string) (*Function, error) {
	exp, ok := i.exports[name]
	if !ok || exp.Kind != wasm.KindFunc {
		return nil, errors.NotFound(errors.PhaseRuntime, "exported function", name)
	}
	return i.funcs[exp.Idx], nil
}

// Export describes an exported function.
type Export struct {
	Name    string
	Params  []Kind
	Results []Kind
}

// ExportedFunctions lists exported functions in declaration order.
func (i *Instance) ExportedFunctions() []Export {
	var out []Export
	for _, exp := range i.module.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		fn := i.funcs[exp.Idx]
		out = append(out, Export{Name: exp.Name, Params: fn.Params, Results: fn.Results})
	}
	return out
}

// Memory returns the instance's linear memory. It stays readable after a
// trap.
func (i *Instance) Memory() *Memory { return i.memory }

// Global returns the exported global name.
func (i *Instance) Global(name string) (*Global, error) {
	exp, ok := i.exports[name]
	if !ok || exp.Kind != wasm.KindGlobal {
		return nil, errors.NotFound(errors.PhaseRuntime, "exported global", name)
	}
	return i.globals[exp.Idx], nil
}

// Globals returns every global in index order.
func (i *Instance) Globals() []*Global {
	out := make([]*Global, len(i.globals))
	copy(out, i.globals)
	return out
}

// Stats returns counters of the current or most recent invocation.
func (i *Instance) Stats() Stats { return i.stats }

// LastTrap returns the error that aborted the most recent failed invocation.
func (i *Instance) LastTrap() error { return i.lastTrap }

// Frames returns the active frames, outermost first.
func (i *Instance) Frames() []*Frame { return i.calls.Frames() }

// Stack returns a copy of the operand stack, bottom first.
func (i *Instance) Stack() []Value { return i.stack.Values() }

// Current returns the instruction the next Step will execute.
func (i *Instance) Current() (wasm.Instruction, *Frame, bool) {
	f := i.calls.Top()
	if f == nil || !i.running || i.done || f.PC >= len(f.Func.Body) {
		return wasm.Instruction{}, nil, false
	}
	return f.Func.Body[f.PC], f, true
}

// Close releases the instance. Further calls fail.
func (i *Instance) Close(context.Context) error {
	i.closed = true
	i.memory = &Memory{}
	i.stack.Reset()
	i.calls.Reset()
	return nil
}

// evalConst evaluates a constant expression. global.get may only refer to
// globals initialized before the one being evaluated.
func (i *Instance) evalConst(expr []byte, want Kind) (Value, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return Value{}, err
	}
	s := NewValueStack(4)
	for _, instr := range instrs {
		switch imm := instr.Imm.(type) {
		case wasm.I32Imm:
			s.Push(I32(imm.Value))
		case wasm.I64Imm:
			s.Push(I64(imm.Value))
		case wasm.F32Imm:
			s.Push(F32(imm.Value))
		case wasm.F64Imm:
			s.Push(F64(imm.Value))
		case wasm.GlobalImm:
			if int(imm.GlobalIdx) >= len(i.globals) {
				return Value{}, errors.OutOfBounds(errors.PhaseInstantiate, []string{"global.get"}, int(imm.GlobalIdx), len(i.globals))
			}
			s.Push(i.globals[imm.GlobalIdx].value)
		default:
			var err error
			switch instr.Opcode {
			case wasm.OpEnd:
			case wasm.OpI32Add:
				err = s.binopI32(func(a, b uint32) uint32 { return a + b })
			case wasm.OpI32Sub:
				err = s.binopI32(func(a, b uint32) uint32 { return a - b })
			case wasm.OpI32Mul:
				err = s.binopI32(func(a, b uint32) uint32 { return a * b })
			case wasm.OpI64Add:
				err = s.binopI64(func(a, b uint64) uint64 { return a + b })
			case wasm.OpI64Sub:
				err = s.binopI64(func(a, b uint64) uint64 { return a - b })
			case wasm.OpI64Mul:
				err = s.binopI64(func(a, b uint64) uint64 { return a * b })
			default:
				return Value{}, errors.Unsupported(errors.PhaseInstantiate, "constant expression "+instr.String())
			}
			if err != nil {
				return Value{}, err
			}
		}
	}
	if s.Len() != 1 {
		return Value{}, errors.InvalidData(errors.PhaseInstantiate, []string{"init"},
			fmt.Sprintf("constant expression leaves %d values", s.Len()))
	}
	v, _ := s.Peek()
	if v.Kind() != want {
		return Value{}, errors.TypeMismatch(errors.PhaseInstantiate, []string{"init"}, want.String(), v.Kind().String())
	}
	return v, nil
}
