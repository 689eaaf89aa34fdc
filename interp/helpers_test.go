package interp

import (
	"context"
	"testing"

	"github.com/wippyai/wasm-interp/wasm"
)

// moduleBuilder assembles small modules directly as wasm.Module values.
type moduleBuilder struct {
	m wasm.Module
}

func newModule() *moduleBuilder { return &moduleBuilder{} }

func sig(params, results []wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

var (
	i32   = []wasm.ValType{wasm.ValI32}
	i64   = []wasm.ValType{wasm.ValI64}
	f64s  = []wasm.ValType{wasm.ValF64}
	i32x2 = []wasm.ValType{wasm.ValI32, wasm.ValI32}
)

func (b *moduleBuilder) importFunc(module, name string, ft wasm.FuncType) uint32 {
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: b.m.AddType(ft)},
	})
	return uint32(b.m.NumImportedFuncs() - 1)
}

// fn adds a function whose body is instrs followed by the final end. A
// non-empty name exports it.
func (b *moduleBuilder) fn(name string, ft wasm.FuncType, locals []wasm.LocalEntry, instrs ...wasm.Instruction) uint32 {
	idx := uint32(b.m.NumFuncs())
	b.m.Funcs = append(b.m.Funcs, b.m.AddType(ft))
	body := append(append([]wasm.Instruction(nil), instrs...), wasm.Instruction{Opcode: wasm.OpEnd})
	b.m.Code = append(b.m.Code, wasm.FuncBody{Locals: locals, Code: wasm.EncodeInstructions(body)})
	if name != "" {
		b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: idx})
	}
	return idx
}

func (b *moduleBuilder) memory(min uint64, max *uint64) *moduleBuilder {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: min, Max: max}})
	return b
}

func (b *moduleBuilder) global(name string, t wasm.ValType, mutable bool, init ...wasm.Instruction) *moduleBuilder {
	idx := uint32(len(b.m.Globals))
	expr := append(append([]wasm.Instruction(nil), init...), wasm.Instruction{Opcode: wasm.OpEnd})
	b.m.Globals = append(b.m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: t, Mutable: mutable},
		Init: wasm.EncodeInstructions(expr),
	})
	if name != "" {
		b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindGlobal, Idx: idx})
	}
	return b
}

func (b *moduleBuilder) data(offset int32, init []byte) *moduleBuilder {
	b.m.Data = append(b.m.Data, wasm.DataSegment{
		Offset: wasm.EncodeInstructions([]wasm.Instruction{i32c(offset), {Opcode: wasm.OpEnd}}),
		Init:   init,
	})
	return b
}

func (b *moduleBuilder) table(size uint64, offset int32, funcs ...uint32) *moduleBuilder {
	b.m.Tables = append(b.m.Tables, wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: size}})
	b.m.Elements = append(b.m.Elements, wasm.Element{
		Offset:   wasm.EncodeInstructions([]wasm.Instruction{i32c(offset), {Opcode: wasm.OpEnd}}),
		FuncIdxs: funcs,
	})
	return b
}

func (b *moduleBuilder) module() *wasm.Module { return &b.m }

func (b *moduleBuilder) instantiate(t *testing.T, d ImportDispatcher, opts ...Option) *Instance {
	t.Helper()
	inst, err := Instantiate(context.Background(), &b.m, d, opts...)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	return inst
}

// Instruction shorthands.

func op(code byte) wasm.Instruction { return wasm.Instruction{Opcode: code} }

func i32c(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func i64c(v int64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
}

func f64c(v float64) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Value: v}}
}

func localGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func localSet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func localTee(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func globalGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func globalSet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func block(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: bt}}
}

func loop(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: bt}}
}

func ifOp(bt int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: bt}}
}

func br(depth uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: depth}}
}

func brIf(depth uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: depth}}
}

func brTable(def uint32, labels ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: labels, Default: def}}
}

func call(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func callIndirect(typeIdx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: typeIdx}}
}

func memOp(code byte, offset uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: code, Imm: wasm.MemoryImm{Offset: offset}}
}

func misc(sub uint32, operands ...uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: sub, Operands: operands}}
}

func ptr64(v uint64) *uint64 { return &v }
