package wasm

import (
	"bytes"
	"fmt"
)

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type for block, loop and if instructions.
type BlockImm struct {
	Type int32 // Block type: -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint32
	Align  uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const instruction.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const instruction.
type F64Imm struct {
	Value float64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// DecodeInstructions decodes a sequence of instructions from raw bytes
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bytes.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		pos := len(code) - r.Len()
		op, _ := r.ReadByte()
		instr, err := decodeImmediate(r, op)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s) at byte %d: %w", len(instrs), OpcodeName(op), pos, err)
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeImmediate(r *bytes.Reader, op byte) (Instruction, error) {
	instr := Instruction{Opcode: op}
	var err error

	switch op {
	case OpBlock, OpLoop, OpIf:
		var bt int64
		bt, err = ReadLEB128s33(r)
		if err == nil && (bt > 1<<31-1 || bt < -64) {
			err = fmt.Errorf("invalid block type %d", bt)
		}
		instr.Imm = BlockImm{Type: int32(bt)}

	case OpBr, OpBrIf:
		var idx uint32
		idx, err = ReadLEB128u(r)
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		var count uint32
		if count, err = ReadLEB128u(r); err != nil {
			return instr, err
		}
		if int(count) > r.Len() {
			return instr, fmt.Errorf("br_table length %d exceeds body", count)
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = ReadLEB128u(r); err != nil {
				return instr, err
			}
		}
		var def uint32
		def, err = ReadLEB128u(r)
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall:
		var idx uint32
		idx, err = ReadLEB128u(r)
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect:
		var typeIdx, tableIdx uint32
		if typeIdx, err = ReadLEB128u(r); err != nil {
			return instr, err
		}
		tableIdx, err = ReadLEB128u(r)
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		var idx uint32
		idx, err = ReadLEB128u(r)
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		var idx uint32
		idx, err = ReadLEB128u(r)
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		instr.Imm, err = readMemArg(r)

	case OpMemorySize, OpMemoryGrow:
		err = readZeroByte(r, "memory index")

	case OpI32Const:
		var v int32
		v, err = ReadLEB128s(r)
		instr.Imm = I32Imm{Value: v}

	case OpI64Const:
		var v int64
		v, err = ReadLEB128s64(r)
		instr.Imm = I64Imm{Value: v}

	case OpF32Const:
		var v float32
		v, err = ReadFloat32(r)
		instr.Imm = F32Imm{Value: v}

	case OpF64Const:
		var v float64
		v, err = ReadFloat64(r)
		instr.Imm = F64Imm{Value: v}

	case OpSelectType:
		var count uint32
		if count, err = ReadLEB128u(r); err != nil {
			return instr, err
		}
		if count != 1 {
			return instr, fmt.Errorf("typed select must declare exactly one type, got %d", count)
		}
		var t byte
		t, err = r.ReadByte()
		instr.Imm = SelectTypeImm{Types: []ValType{ValType(t)}}

	case OpPrefixMisc:
		instr.Imm, err = readMiscImmediate(r)

	case OpPrefixGC, OpPrefixSIMD, OpPrefixAtomic:
		err = fmt.Errorf("unsupported instruction prefix 0x%02x", op)

	default:
		if !IsCoreOpcode(op) {
			err = fmt.Errorf("unknown opcode 0x%02x", op)
		}
	}
	return instr, err
}

func readMiscImmediate(r *bytes.Reader) (MiscImm, error) {
	sub, err := ReadLEB128u(r)
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: sub}

	switch sub {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
	case MiscMemoryInit:
		// dataidx, then a reserved memory index
		idx, err := ReadLEB128u(r)
		if err != nil {
			return imm, err
		}
		imm.Operands = []uint32{idx}
		return imm, readZeroByte(r, "memory index")
	case MiscDataDrop:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return imm, err
		}
		imm.Operands = []uint32{idx}
	case MiscMemoryCopy:
		if err := readZeroByte(r, "memory index"); err != nil {
			return imm, err
		}
		return imm, readZeroByte(r, "memory index")
	case MiscMemoryFill:
		return imm, readZeroByte(r, "memory index")
	default:
		return imm, fmt.Errorf("unsupported 0xFC sub-opcode %d", sub)
	}
	return imm, nil
}

func readZeroByte(r *bytes.Reader, what string) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != 0 {
		return fmt.Errorf("%s must be zero, got %d", what, b)
	}
	return nil
}

func readMemArg(r *bytes.Reader) (MemoryImm, error) {
	align, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	if align >= 32 {
		return MemoryImm{}, fmt.Errorf("alignment exponent %d too large", align)
	}
	offset, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: align, Offset: offset}, nil
}

// EncodeInstructionTo appends the binary encoding of instr to buf.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		WriteLEB128s(buf, imm.Type)
	case BranchImm:
		WriteLEB128u(buf, imm.LabelIdx)
	case BrTableImm:
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)
	case CallImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case CallIndirectImm:
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)
	case LocalImm:
		WriteLEB128u(buf, imm.LocalIdx)
	case GlobalImm:
		WriteLEB128u(buf, imm.GlobalIdx)
	case MemoryImm:
		WriteLEB128u(buf, imm.Align)
		WriteLEB128u(buf, imm.Offset)
	case I32Imm:
		WriteLEB128s(buf, imm.Value)
	case I64Imm:
		WriteLEB128s64(buf, imm.Value)
	case F32Imm:
		WriteFloat32(buf, imm.Value)
	case F64Imm:
		WriteFloat64(buf, imm.Value)
	case SelectTypeImm:
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}
	case MiscImm:
		WriteLEB128u(buf, imm.SubOpcode)
		for _, op := range imm.Operands {
			WriteLEB128u(buf, op)
		}
		switch imm.SubOpcode {
		case MiscMemoryInit, MiscMemoryFill:
			buf.WriteByte(0)
		case MiscMemoryCopy:
			buf.WriteByte(0)
			buf.WriteByte(0)
		}
	default:
		if instr.Opcode == OpMemorySize || instr.Opcode == OpMemoryGrow {
			buf.WriteByte(0)
		}
	}
}

// EncodeInstructionsTo appends the encoding of every instruction to buf.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// EncodeInstructions encodes instructions to a fresh byte slice.
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}
