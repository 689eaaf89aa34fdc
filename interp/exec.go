package interp

import (
	"context"
	"math"
	"math/bits"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// cancelCheckInterval is how many instructions run between context checks.
const cancelCheckInterval = 1024

// step executes one instruction of the current invocation.
func (i *Instance) step(ctx context.Context) error {
	if fn := i.pending; fn != nil {
		i.pending = nil
		if err := i.call(ctx, fn); err != nil {
			return err
		}
		if i.calls.Depth() == 0 {
			i.done = true
		}
		return nil
	}

	f := i.calls.Top()
	if f == nil {
		i.done = true
		return nil
	}

	i.stats.Steps++
	if i.cfg.MaxInstructions > 0 && i.stats.Steps > i.cfg.MaxInstructions {
		return errors.Trap(errors.KindBudgetExhausted, "instruction budget of %d exhausted", i.cfg.MaxInstructions)
	}
	if i.stats.Steps%cancelCheckInterval == 0 {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.PhaseTrap, errors.KindCanceled).Cause(err).Detail("invocation canceled").Build()
		}
	}

	i.cur, i.pc = f.Func, f.PC
	if f.PC >= len(f.Func.Body) {
		return errors.Trap(errors.KindOutOfBounds, "execution ran past the end of %s", f.Func.Name)
	}
	instr := &f.Func.Body[f.PC]
	f.PC++
	return i.exec(ctx, f, instr)
}

// call enters fn with its arguments taken from the operand stack. Imports
// complete immediately through the dispatcher; module functions push a frame.
func (i *Instance) call(ctx context.Context, fn *Function) error {
	args, err := i.stack.PopTyped(fn.Params)
	if err != nil {
		return err
	}
	if fn.IsImport() {
		return i.callImport(ctx, fn, args)
	}
	frame := NewFrame(fn, args, i.stack.Len())
	if err := i.calls.PushFrame(frame); err != nil {
		return err
	}
	if d := i.calls.Depth(); d > i.stats.MaxCallDepth {
		i.stats.MaxCallDepth = d
	}
	return nil
}

func (i *Instance) callImport(ctx context.Context, fn *Function, args []Value) error {
	imp := fn.Import
	results, err := i.dispatcher.Dispatch(ctx, imp.Module, imp.Name, args, i.memory)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownImport), errors.IsTrap(err):
			return err
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return errors.New(errors.PhaseTrap, errors.KindCanceled).Cause(err).Detail("canceled in %s", fn.Name).Build()
		}
		return errors.New(errors.PhaseHost, errors.KindHostFailure).
			Path(imp.Module, imp.Name).
			Cause(err).
			Detail("host function %s failed", fn.Name).
			Build()
	}
	if len(results) != len(fn.Results) {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(imp.Module, imp.Name).
			Detail("host returned %d results, signature declares %d", len(results), len(fn.Results)).
			Build()
	}
	for n, r := range results {
		if r.Kind() != fn.Results[n] {
			return errors.TypeMismatch(errors.PhaseHost, []string{imp.Module, imp.Name},
				fn.Results[n].String(), r.Kind().String())
		}
		i.stack.Push(r)
	}
	i.log.Debug("import returned", zap.String("import", fn.Name), zap.Int("results", len(results)))
	return nil
}

// ret leaves the current frame with its results on top of the caller's
// operands.
func (i *Instance) ret(f *Frame) error {
	if err := i.stack.checkTop(f.Func.Results...); err != nil {
		return err
	}
	if err := i.stack.Unwind(f.Base, len(f.Func.Results)); err != nil {
		return err
	}
	if _, err := i.calls.PopFrame(); err != nil {
		return err
	}
	if i.calls.Depth() == 0 {
		i.done = true
	}
	return nil
}

func (i *Instance) branch(f *Frame, depth uint32) error {
	target, err := f.Branch(depth)
	if err != nil {
		return err
	}
	if target.Kind == LabelFunc {
		return i.ret(f)
	}
	if err := i.stack.Unwind(target.Height, target.Arity()); err != nil {
		return err
	}
	f.PC = target.Target()
	return nil
}

func (i *Instance) enterBlock(f *Frame, kind LabelKind, bt int32, pc int) error {
	params, results, err := blockArity(i.module.Types, bt)
	if err != nil {
		return err
	}
	height := i.stack.Len() - params
	if height < f.Base {
		return errors.Trap(errors.KindStackUnderflow, "block expects %d operands", params)
	}
	f.EnterLabel(Label{
		Kind:    kind,
		Height:  height,
		Params:  params,
		Results: results,
		Start:   pc + 1,
		End:     f.Func.blocks[pc].end,
	})
	return nil
}

func (i *Instance) exec(ctx context.Context, f *Frame, instr *wasm.Instruction) error {
	s := i.stack
	pc := f.PC - 1

	switch instr.Opcode {
	case wasm.OpUnreachable:
		return errors.Trap(errors.KindUnreachable, "unreachable executed")
	case wasm.OpNop:
		return nil

	case wasm.OpBlock:
		return i.enterBlock(f, LabelBlock, instr.Imm.(wasm.BlockImm).Type, pc)
	case wasm.OpLoop:
		return i.enterBlock(f, LabelLoop, instr.Imm.(wasm.BlockImm).Type, pc)
	case wasm.OpIf:
		cond, err := s.PopKind(KindI32)
		if err != nil {
			return err
		}
		if err := i.enterBlock(f, LabelIf, instr.Imm.(wasm.BlockImm).Type, pc); err != nil {
			return err
		}
		if cond.U32() == 0 {
			info := f.Func.blocks[pc]
			if info.elseAt >= 0 {
				f.PC = info.elseAt + 1
			} else {
				f.PC = info.end
			}
		}
		return nil
	case wasm.OpElse:
		// the then arm finished; continue at the shared end
		l, ok := f.CurrentLabel()
		if !ok || l.Kind != LabelIf {
			return errors.Trap(errors.KindInvalidData, "else outside if")
		}
		f.PC = l.End
		return nil
	case wasm.OpEnd:
		l, ok := f.CurrentLabel()
		if !ok || l.Kind == LabelFunc {
			return i.ret(f)
		}
		if _, err := f.ExitLabel(); err != nil {
			return err
		}
		return s.Unwind(l.Height, l.Results)

	case wasm.OpBr:
		return i.branch(f, instr.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrIf:
		cond, err := s.PopKind(KindI32)
		if err != nil {
			return err
		}
		if cond.U32() == 0 {
			return nil
		}
		return i.branch(f, instr.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrTable:
		idx, err := s.PopKind(KindI32)
		if err != nil {
			return err
		}
		imm := instr.Imm.(wasm.BrTableImm)
		return i.branch(f, BranchTable(idx.U32(), imm.Labels, imm.Default))
	case wasm.OpReturn:
		return i.ret(f)

	case wasm.OpCall:
		idx := instr.Imm.(wasm.CallImm).FuncIdx
		if int(idx) >= len(i.funcs) {
			return errors.Trap(errors.KindOutOfBounds, "call to function %d of %d", idx, len(i.funcs))
		}
		return i.call(ctx, i.funcs[idx])
	case wasm.OpCallIndirect:
		return i.callIndirect(ctx, instr.Imm.(wasm.CallIndirectImm))

	case wasm.OpDrop:
		_, err := s.Pop()
		return err
	case wasm.OpSelect, wasm.OpSelectType:
		return i.selectOp(instr)

	case wasm.OpLocalGet:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(f.Locals) {
			return errors.Trap(errors.KindOutOfBounds, "local %d of %d", idx, len(f.Locals))
		}
		s.Push(f.Locals[idx])
		return nil
	case wasm.OpLocalSet, wasm.OpLocalTee:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(f.Locals) {
			return errors.Trap(errors.KindOutOfBounds, "local %d of %d", idx, len(f.Locals))
		}
		v, err := s.PopKind(f.Func.Locals[idx])
		if err != nil {
			return err
		}
		f.Locals[idx] = v
		if instr.Opcode == wasm.OpLocalTee {
			s.Push(v)
		}
		return nil
	case wasm.OpGlobalGet:
		g, err := i.global(instr.Imm.(wasm.GlobalImm).GlobalIdx)
		if err != nil {
			return err
		}
		s.Push(g.value)
		return nil
	case wasm.OpGlobalSet:
		idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
		g, err := i.global(idx)
		if err != nil {
			return err
		}
		if !g.Mutable {
			return errors.Trap(errors.KindTypeMismatch, "global %d is immutable", idx)
		}
		v, err := s.PopKind(g.Kind)
		if err != nil {
			return err
		}
		g.value = v
		return nil

	case wasm.OpI32Load:
		return i.load(instr, 4, func(v uint64) Value { return I32(int32(uint32(v))) })
	case wasm.OpI64Load:
		return i.load(instr, 8, func(v uint64) Value { return I64(int64(v)) })
	case wasm.OpF32Load:
		return i.load(instr, 4, func(v uint64) Value { return FromBits(KindF32, v) })
	case wasm.OpF64Load:
		return i.load(instr, 8, func(v uint64) Value { return FromBits(KindF64, v) })
	case wasm.OpI32Load8S:
		return i.load(instr, 1, func(v uint64) Value { return I32(int32(int8(v))) })
	case wasm.OpI32Load8U:
		return i.load(instr, 1, func(v uint64) Value { return I32(int32(uint8(v))) })
	case wasm.OpI32Load16S:
		return i.load(instr, 2, func(v uint64) Value { return I32(int32(int16(v))) })
	case wasm.OpI32Load16U:
		return i.load(instr, 2, func(v uint64) Value { return I32(int32(uint16(v))) })
	case wasm.OpI64Load8S:
		return i.load(instr, 1, func(v uint64) Value { return I64(int64(int8(v))) })
	case wasm.OpI64Load8U:
		return i.load(instr, 1, func(v uint64) Value { return I64(int64(uint8(v))) })
	case wasm.OpI64Load16S:
		return i.load(instr, 2, func(v uint64) Value { return I64(int64(int16(v))) })
	case wasm.OpI64Load16U:
		return i.load(instr, 2, func(v uint64) Value { return I64(int64(uint16(v))) })
	case wasm.OpI64Load32S:
		return i.load(instr, 4, func(v uint64) Value { return I64(int64(int32(v))) })
	case wasm.OpI64Load32U:
		return i.load(instr, 4, func(v uint64) Value { return I64(int64(uint32(v))) })
	case wasm.OpI32Store:
		return i.store(instr, 4, KindI32)
	case wasm.OpI64Store:
		return i.store(instr, 8, KindI64)
	case wasm.OpF32Store:
		return i.store(instr, 4, KindF32)
	case wasm.OpF64Store:
		return i.store(instr, 8, KindF64)
	case wasm.OpI32Store8:
		return i.store(instr, 1, KindI32)
	case wasm.OpI32Store16:
		return i.store(instr, 2, KindI32)
	case wasm.OpI64Store8:
		return i.store(instr, 1, KindI64)
	case wasm.OpI64Store16:
		return i.store(instr, 2, KindI64)
	case wasm.OpI64Store32:
		return i.store(instr, 4, KindI64)
	case wasm.OpMemorySize:
		s.Push(I32(int32(i.memory.Pages())))
		return nil
	case wasm.OpMemoryGrow:
		delta, err := s.PopKind(KindI32)
		if err != nil {
			return err
		}
		old, ok := i.memory.Grow(delta.U32())
		if !ok {
			s.Push(I32(-1))
			return nil
		}
		i.log.Debug("memory grown", zap.Uint32("from", old), zap.Uint32("to", i.memory.Pages()))
		s.Push(I32(int32(old)))
		return nil

	case wasm.OpI32Const:
		s.Push(I32(instr.Imm.(wasm.I32Imm).Value))
		return nil
	case wasm.OpI64Const:
		s.Push(I64(instr.Imm.(wasm.I64Imm).Value))
		return nil
	case wasm.OpF32Const:
		s.Push(F32(instr.Imm.(wasm.F32Imm).Value))
		return nil
	case wasm.OpF64Const:
		s.Push(F64(instr.Imm.(wasm.F64Imm).Value))
		return nil

	case wasm.OpPrefixMisc:
		return i.execMisc(instr.Imm.(wasm.MiscImm))
	}

	return i.execNumeric(instr.Opcode)
}

func (i *Instance) global(idx uint32) (*Global, error) {
	if int(idx) >= len(i.globals) {
		return nil, errors.Trap(errors.KindOutOfBounds, "global %d of %d", idx, len(i.globals))
	}
	return i.globals[idx], nil
}

func (i *Instance) selectOp(instr *wasm.Instruction) error {
	s := i.stack
	cond, err := s.PopKind(KindI32)
	if err != nil {
		return err
	}
	b, err := s.Pop()
	if err != nil {
		return err
	}
	a, err := s.Pop()
	if err != nil {
		return err
	}
	if a.Kind() != b.Kind() {
		return errors.TypeMismatch(errors.PhaseTrap, []string{"select"}, a.Kind().String(), b.Kind().String())
	}
	if imm, ok := instr.Imm.(wasm.SelectTypeImm); ok {
		want, err := KindOf(imm.Types[0])
		if err != nil {
			return err
		}
		if a.Kind() != want {
			return errors.TypeMismatch(errors.PhaseTrap, []string{"select"}, want.String(), a.Kind().String())
		}
	}
	if cond.U32() != 0 {
		s.Push(a)
	} else {
		s.Push(b)
	}
	return nil
}

func (i *Instance) callIndirect(ctx context.Context, imm wasm.CallIndirectImm) error {
	elem, err := i.stack.PopKind(KindI32)
	if err != nil {
		return err
	}
	if imm.TableIdx != 0 || int(imm.TypeIdx) >= len(i.module.Types) {
		return errors.Trap(errors.KindOutOfBounds, "call_indirect through table %d type %d", imm.TableIdx, imm.TypeIdx)
	}
	idx := elem.U32()
	if int(idx) >= len(i.table) {
		return errors.Trap(errors.KindOutOfBounds, "table index %d of %d", idx, len(i.table))
	}
	fnIdx := i.table[idx]
	if fnIdx == tableNull || int(fnIdx) >= len(i.funcs) {
		return errors.Trap(errors.KindUndefinedElement, "table element %d is uninitialized", idx)
	}
	callee := i.funcs[fnIdx]
	want := i.module.Types[imm.TypeIdx]
	if !callee.Type.Equal(want) {
		return errors.New(errors.PhaseTrap, errors.KindIndirectCallMismatch).
			Path(callee.Name).
			Detail("expected %s, table holds %s", want, callee.Type).
			Build()
	}
	return i.call(ctx, callee)
}

func (i *Instance) load(instr *wasm.Instruction, width uint64, conv func(uint64) Value) error {
	imm := instr.Imm.(wasm.MemoryImm)
	base, err := i.stack.PopKind(KindI32)
	if err != nil {
		return err
	}
	raw, err := i.memory.load(base.U32(), imm.Offset, width)
	if err != nil {
		return err
	}
	i.stack.Push(conv(raw))
	return nil
}

func (i *Instance) store(instr *wasm.Instruction, width uint64, kind Kind) error {
	imm := instr.Imm.(wasm.MemoryImm)
	v, err := i.stack.PopKind(kind)
	if err != nil {
		return err
	}
	base, err := i.stack.PopKind(KindI32)
	if err != nil {
		return err
	}
	return i.memory.store(base.U32(), imm.Offset, width, v.Bits())
}

// popRegion pops the i32 triple used by bulk memory operations.
func (i *Instance) popRegion() (dst, src, n uint32, err error) {
	vals, err := i.stack.PopTyped([]Kind{KindI32, KindI32, KindI32})
	if err != nil {
		return 0, 0, 0, err
	}
	return vals[0].U32(), vals[1].U32(), vals[2].U32(), nil
}

func (i *Instance) execMisc(imm wasm.MiscImm) error {
	s := i.stack
	switch imm.SubOpcode {
	case wasm.MiscI32TruncSatF32S:
		return s.convert(KindF32, func(v Value) (Value, error) { return I32(int32(satS32(float64(v.F32())))), nil })
	case wasm.MiscI32TruncSatF32U:
		return s.convert(KindF32, func(v Value) (Value, error) { return I32(int32(satU32(float64(v.F32())))), nil })
	case wasm.MiscI32TruncSatF64S:
		return s.convert(KindF64, func(v Value) (Value, error) { return I32(int32(satS32(v.F64()))), nil })
	case wasm.MiscI32TruncSatF64U:
		return s.convert(KindF64, func(v Value) (Value, error) { return I32(int32(satU32(v.F64()))), nil })
	case wasm.MiscI64TruncSatF32S:
		return s.convert(KindF32, func(v Value) (Value, error) { return I64(int64(satS64(float64(v.F32())))), nil })
	case wasm.MiscI64TruncSatF32U:
		return s.convert(KindF32, func(v Value) (Value, error) { return I64(int64(satU64(float64(v.F32())))), nil })
	case wasm.MiscI64TruncSatF64S:
		return s.convert(KindF64, func(v Value) (Value, error) { return I64(int64(satS64(v.F64()))), nil })
	case wasm.MiscI64TruncSatF64U:
		return s.convert(KindF64, func(v Value) (Value, error) { return I64(int64(satU64(v.F64()))), nil })

	case wasm.MiscMemoryInit:
		seg := imm.Operands[0]
		if int(seg) >= len(i.data) {
			return errors.Trap(errors.KindOutOfBounds, "data segment %d of %d", seg, len(i.data))
		}
		dst, src, n, err := i.popRegion()
		if err != nil {
			return err
		}
		data := i.data[seg]
		if uint64(src)+uint64(n) > uint64(len(data)) {
			return errors.OutOfBounds(errors.PhaseTrap, []string{"data"}, int(uint64(src)+uint64(n)), len(data))
		}
		return i.memory.Write(dst, data[src:src+n])
	case wasm.MiscDataDrop:
		seg := imm.Operands[0]
		if int(seg) >= len(i.data) {
			return errors.Trap(errors.KindOutOfBounds, "data segment %d of %d", seg, len(i.data))
		}
		i.data[seg] = nil
		return nil
	case wasm.MiscMemoryCopy:
		dst, src, n, err := i.popRegion()
		if err != nil {
			return err
		}
		from, err := i.memory.slice(uint64(src), uint64(n))
		if err != nil {
			return err
		}
		to, err := i.memory.slice(uint64(dst), uint64(n))
		if err != nil {
			return err
		}
		copy(to, from)
		return nil
	case wasm.MiscMemoryFill:
		dst, val, n, err := i.popRegion()
		if err != nil {
			return err
		}
		to, err := i.memory.slice(uint64(dst), uint64(n))
		if err != nil {
			return err
		}
		b := byte(val)
		for n := range to {
			to[n] = b
		}
		return nil
	}
	return errors.Unsupported(errors.PhaseTrap, "misc sub-opcode")
}

func (i *Instance) execNumeric(op byte) error {
	s := i.stack
	switch op {
	case wasm.OpI32Eqz:
		v, err := s.PopKind(KindI32)
		if err != nil {
			return err
		}
		s.Push(boolI32(v.U32() == 0))
		return nil
	case wasm.OpI32Eq:
		return s.cmpI32(func(a, b uint32) bool { return a == b })
	case wasm.OpI32Ne:
		return s.cmpI32(func(a, b uint32) bool { return a != b })
	case wasm.OpI32LtS:
		return s.cmpI32(func(a, b uint32) bool { return int32(a) < int32(b) })
	case wasm.OpI32LtU:
		return s.cmpI32(func(a, b uint32) bool { return a < b })
	case wasm.OpI32GtS:
		return s.cmpI32(func(a, b uint32) bool { return int32(a) > int32(b) })
	case wasm.OpI32GtU:
		return s.cmpI32(func(a, b uint32) bool { return a > b })
	case wasm.OpI32LeS:
		return s.cmpI32(func(a, b uint32) bool { return int32(a) <= int32(b) })
	case wasm.OpI32LeU:
		return s.cmpI32(func(a, b uint32) bool { return a <= b })
	case wasm.OpI32GeS:
		return s.cmpI32(func(a, b uint32) bool { return int32(a) >= int32(b) })
	case wasm.OpI32GeU:
		return s.cmpI32(func(a, b uint32) bool { return a >= b })

	case wasm.OpI64Eqz:
		v, err := s.PopKind(KindI64)
		if err != nil {
			return err
		}
		s.Push(boolI32(v.U64() == 0))
		return nil
	case wasm.OpI64Eq:
		return s.cmpI64(func(a, b uint64) bool { return a == b })
	case wasm.OpI64Ne:
		return s.cmpI64(func(a, b uint64) bool { return a != b })
	case wasm.OpI64LtS:
		return s.cmpI64(func(a, b uint64) bool { return int64(a) < int64(b) })
	case wasm.OpI64LtU:
		return s.cmpI64(func(a, b uint64) bool { return a < b })
	case wasm.OpI64GtS:
		return s.cmpI64(func(a, b uint64) bool { return int64(a) > int64(b) })
	case wasm.OpI64GtU:
		return s.cmpI64(func(a, b uint64) bool { return a > b })
	case wasm.OpI64LeS:
		return s.cmpI64(func(a, b uint64) bool { return int64(a) <= int64(b) })
	case wasm.OpI64LeU:
		return s.cmpI64(func(a, b uint64) bool { return a <= b })
	case wasm.OpI64GeS:
		return s.cmpI64(func(a, b uint64) bool { return int64(a) >= int64(b) })
	case wasm.OpI64GeU:
		return s.cmpI64(func(a, b uint64) bool { return a >= b })

	case wasm.OpF32Eq:
		return s.cmpF32(func(a, b float32) bool { return a == b })
	case wasm.OpF32Ne:
		return s.cmpF32(func(a, b float32) bool { return a != b })
	case wasm.OpF32Lt:
		return s.cmpF32(func(a, b float32) bool { return a < b })
	case wasm.OpF32Gt:
		return s.cmpF32(func(a, b float32) bool { return a > b })
	case wasm.OpF32Le:
		return s.cmpF32(func(a, b float32) bool { return a <= b })
	case wasm.OpF32Ge:
		return s.cmpF32(func(a, b float32) bool { return a >= b })
	case wasm.OpF64Eq:
		return s.cmpF64(func(a, b float64) bool { return a == b })
	case wasm.OpF64Ne:
		return s.cmpF64(func(a, b float64) bool { return a != b })
	case wasm.OpF64Lt:
		return s.cmpF64(func(a, b float64) bool { return a < b })
	case wasm.OpF64Gt:
		return s.cmpF64(func(a, b float64) bool { return a > b })
	case wasm.OpF64Le:
		return s.cmpF64(func(a, b float64) bool { return a <= b })
	case wasm.OpF64Ge:
		return s.cmpF64(func(a, b float64) bool { return a >= b })

	case wasm.OpI32Clz:
		return s.unopI32(func(v uint32) uint32 { return uint32(bits.LeadingZeros32(v)) })
	case wasm.OpI32Ctz:
		return s.unopI32(func(v uint32) uint32 { return uint32(bits.TrailingZeros32(v)) })
	case wasm.OpI32Popcnt:
		return s.unopI32(func(v uint32) uint32 { return uint32(bits.OnesCount32(v)) })
	case wasm.OpI32Add:
		return s.binopI32(func(a, b uint32) uint32 { return a + b })
	case wasm.OpI32Sub:
		return s.binopI32(func(a, b uint32) uint32 { return a - b })
	case wasm.OpI32Mul:
		return s.binopI32(func(a, b uint32) uint32 { return a * b })
	case wasm.OpI32DivS:
		return s.binopI32Trap(divS32)
	case wasm.OpI32DivU:
		return s.binopI32Trap(divU32)
	case wasm.OpI32RemS:
		return s.binopI32Trap(remS32)
	case wasm.OpI32RemU:
		return s.binopI32Trap(remU32)
	case wasm.OpI32And:
		return s.binopI32(func(a, b uint32) uint32 { return a & b })
	case wasm.OpI32Or:
		return s.binopI32(func(a, b uint32) uint32 { return a | b })
	case wasm.OpI32Xor:
		return s.binopI32(func(a, b uint32) uint32 { return a ^ b })
	case wasm.OpI32Shl:
		return s.binopI32(func(a, b uint32) uint32 { return a << (b & 31) })
	case wasm.OpI32ShrS:
		return s.binopI32(func(a, b uint32) uint32 { return uint32(int32(a) >> (b & 31)) })
	case wasm.OpI32ShrU:
		return s.binopI32(func(a, b uint32) uint32 { return a >> (b & 31) })
	case wasm.OpI32Rotl:
		return s.binopI32(rotl32)
	case wasm.OpI32Rotr:
		return s.binopI32(rotr32)

	case wasm.OpI64Clz:
		return s.unopI64(func(v uint64) uint64 { return uint64(bits.LeadingZeros64(v)) })
	case wasm.OpI64Ctz:
		return s.unopI64(func(v uint64) uint64 { return uint64(bits.TrailingZeros64(v)) })
	case wasm.OpI64Popcnt:
		return s.unopI64(func(v uint64) uint64 { return uint64(bits.OnesCount64(v)) })
	case wasm.OpI64Add:
		return s.binopI64(func(a, b uint64) uint64 { return a + b })
	case wasm.OpI64Sub:
		return s.binopI64(func(a, b uint64) uint64 { return a - b })
	case wasm.OpI64Mul:
		return s.binopI64(func(a, b uint64) uint64 { return a * b })
	case wasm.OpI64DivS:
		return s.binopI64Trap(divS64)
	case wasm.OpI64DivU:
		return s.binopI64Trap(divU64)
	case wasm.OpI64RemS:
		return s.binopI64Trap(remS64)
	case wasm.OpI64RemU:
		return s.binopI64Trap(remU64)
	case wasm.OpI64And:
		return s.binopI64(func(a, b uint64) uint64 { return a & b })
	case wasm.OpI64Or:
		return s.binopI64(func(a, b uint64) uint64 { return a | b })
	case wasm.OpI64Xor:
		return s.binopI64(func(a, b uint64) uint64 { return a ^ b })
	case wasm.OpI64Shl:
		return s.binopI64(func(a, b uint64) uint64 { return a << (b & 63) })
	case wasm.OpI64ShrS:
		return s.binopI64(func(a, b uint64) uint64 { return uint64(int64(a) >> (b & 63)) })
	case wasm.OpI64ShrU:
		return s.binopI64(func(a, b uint64) uint64 { return a >> (b & 63) })
	case wasm.OpI64Rotl:
		return s.binopI64(rotl64)
	case wasm.OpI64Rotr:
		return s.binopI64(rotr64)

	case wasm.OpF32Abs:
		return s.unopF32(absF32)
	case wasm.OpF32Neg:
		return s.unopF32(negF32)
	case wasm.OpF32Ceil:
		return s.unopF32(f32op(math.Ceil))
	case wasm.OpF32Floor:
		return s.unopF32(f32op(math.Floor))
	case wasm.OpF32Trunc:
		return s.unopF32(f32op(math.Trunc))
	case wasm.OpF32Nearest:
		return s.unopF32(f32op(math.RoundToEven))
	case wasm.OpF32Sqrt:
		return s.unopF32(f32op(math.Sqrt))
	case wasm.OpF32Add:
		return s.binopF32(func(a, b float32) float32 { return a + b })
	case wasm.OpF32Sub:
		return s.binopF32(func(a, b float32) float32 { return a - b })
	case wasm.OpF32Mul:
		return s.binopF32(func(a, b float32) float32 { return a * b })
	case wasm.OpF32Div:
		return s.binopF32(func(a, b float32) float32 { return a / b })
	case wasm.OpF32Min:
		return s.binopF32(func(a, b float32) float32 { return float32(math.Min(float64(a), float64(b))) })
	case wasm.OpF32Max:
		return s.binopF32(func(a, b float32) float32 { return float32(math.Max(float64(a), float64(b))) })
	case wasm.OpF32Copysign:
		return s.binopF32(copysignF32)

	case wasm.OpF64Abs:
		return s.unopF64(absF64)
	case wasm.OpF64Neg:
		return s.unopF64(negF64)
	case wasm.OpF64Ceil:
		return s.unopF64(math.Ceil)
	case wasm.OpF64Floor:
		return s.unopF64(math.Floor)
	case wasm.OpF64Trunc:
		return s.unopF64(math.Trunc)
	case wasm.OpF64Nearest:
		return s.unopF64(math.RoundToEven)
	case wasm.OpF64Sqrt:
		return s.unopF64(math.Sqrt)
	case wasm.OpF64Add:
		return s.binopF64(func(a, b float64) float64 { return a + b })
	case wasm.OpF64Sub:
		return s.binopF64(func(a, b float64) float64 { return a - b })
	case wasm.OpF64Mul:
		return s.binopF64(func(a, b float64) float64 { return a * b })
	case wasm.OpF64Div:
		return s.binopF64(func(a, b float64) float64 { return a / b })
	case wasm.OpF64Min:
		return s.binopF64(math.Min)
	case wasm.OpF64Max:
		return s.binopF64(math.Max)
	case wasm.OpF64Copysign:
		return s.binopF64(math.Copysign)

	case wasm.OpI32WrapI64:
		return s.convert(KindI64, func(v Value) (Value, error) { return I32(int32(uint32(v.U64()))), nil })
	case wasm.OpI32TruncF32S:
		return s.convert(KindF32, func(v Value) (Value, error) {
			r, err := truncS32(float64(v.F32()))
			return I32(int32(r)), err
		})
	case wasm.OpI32TruncF32U:
		return s.convert(KindF32, func(v Value) (Value, error) {
			r, err := truncU32(float64(v.F32()))
			return I32(int32(r)), err
		})
	case wasm.OpI32TruncF64S:
		return s.convert(KindF64, func(v Value) (Value, error) {
			r, err := truncS32(v.F64())
			return I32(int32(r)), err
		})
	case wasm.OpI32TruncF64U:
		return s.convert(KindF64, func(v Value) (Value, error) {
			r, err := truncU32(v.F64())
			return I32(int32(r)), err
		})
	case wasm.OpI64ExtendI32S:
		return s.convert(KindI32, func(v Value) (Value, error) { return I64(int64(v.I32())), nil })
	case wasm.OpI64ExtendI32U:
		return s.convert(KindI32, func(v Value) (Value, error) { return I64(int64(v.U32())), nil })
	case wasm.OpI64TruncF32S:
		return s.convert(KindF32, func(v Value) (Value, error) {
			r, err := truncS64(float64(v.F32()))
			return I64(int64(r)), err
		})
	case wasm.OpI64TruncF32U:
		return s.convert(KindF32, func(v Value) (Value, error) {
			r, err := truncU64(float64(v.F32()))
			return I64(int64(r)), err
		})
	case wasm.OpI64TruncF64S:
		return s.convert(KindF64, func(v Value) (Value, error) {
			r, err := truncS64(v.F64())
			return I64(int64(r)), err
		})
	case wasm.OpI64TruncF64U:
		return s.convert(KindF64, func(v Value) (Value, error) {
			r, err := truncU64(v.F64())
			return I64(int64(r)), err
		})
	case wasm.OpF32ConvertI32S:
		return s.convert(KindI32, func(v Value) (Value, error) { return F32(float32(v.I32())), nil })
	case wasm.OpF32ConvertI32U:
		return s.convert(KindI32, func(v Value) (Value, error) { return F32(float32(v.U32())), nil })
	case wasm.OpF32ConvertI64S:
		return s.convert(KindI64, func(v Value) (Value, error) { return F32(float32(v.I64())), nil })
	case wasm.OpF32ConvertI64U:
		return s.convert(KindI64, func(v Value) (Value, error) { return F32(float32(v.U64())), nil })
	case wasm.OpF32DemoteF64:
		return s.convert(KindF64, func(v Value) (Value, error) { return F32(float32(v.F64())), nil })
	case wasm.OpF64ConvertI32S:
		return s.convert(KindI32, func(v Value) (Value, error) { return F64(float64(v.I32())), nil })
	case wasm.OpF64ConvertI32U:
		return s.convert(KindI32, func(v Value) (Value, error) { return F64(float64(v.U32())), nil })
	case wasm.OpF64ConvertI64S:
		return s.convert(KindI64, func(v Value) (Value, error) { return F64(float64(v.I64())), nil })
	case wasm.OpF64ConvertI64U:
		return s.convert(KindI64, func(v Value) (Value, error) { return F64(float64(v.U64())), nil })
	case wasm.OpF64PromoteF32:
		return s.convert(KindF32, func(v Value) (Value, error) { return F64(float64(v.F32())), nil })
	case wasm.OpI32ReinterpretF32:
		return s.convert(KindF32, func(v Value) (Value, error) { return FromBits(KindI32, v.Bits()), nil })
	case wasm.OpI64ReinterpretF64:
		return s.convert(KindF64, func(v Value) (Value, error) { return FromBits(KindI64, v.Bits()), nil })
	case wasm.OpF32ReinterpretI32:
		return s.convert(KindI32, func(v Value) (Value, error) { return FromBits(KindF32, v.Bits()), nil })
	case wasm.OpF64ReinterpretI64:
		return s.convert(KindI64, func(v Value) (Value, error) { return FromBits(KindF64, v.Bits()), nil })

	case wasm.OpI32Extend8S:
		return s.unopI32(func(v uint32) uint32 { return uint32(int32(int8(v))) })
	case wasm.OpI32Extend16S:
		return s.unopI32(func(v uint32) uint32 { return uint32(int32(int16(v))) })
	case wasm.OpI64Extend8S:
		return s.unopI64(func(v uint64) uint64 { return uint64(int64(int8(v))) })
	case wasm.OpI64Extend16S:
		return s.unopI64(func(v uint64) uint64 { return uint64(int64(int16(v))) })
	case wasm.OpI64Extend32S:
		return s.unopI64(func(v uint64) uint64 { return uint64(int64(int32(v))) })
	}
	return errors.Unsupported(errors.PhaseTrap, wasm.OpcodeName(op))
}
