package wasm

import (
	"errors"
	"fmt"
	"io"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := newReader(data, 0)

	magic, err := r.u32le()
	if err != nil {
		return nil, r.wrap("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.u32le()
	if err != nil {
		return nil, r.wrap("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for r.remaining() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.wrap("section header", err)
		}

		// Custom sections can appear anywhere
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		size, err := r.u32()
		if err != nil {
			return nil, r.wrap("section size", err)
		}
		start := r.offset()
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, r.wrap("section data", err)
		}

		sr := newReader(body, start)
		if err := parseSection(sectionID, sr, m); err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(sectionID), err)
		}
		if sectionID != SectionCustom && sr.remaining() != 0 {
			return nil, fmt.Errorf("%s section: %d trailing bytes", sectionName(sectionID), sr.remaining())
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d vs %d", len(m.Funcs), len(m.Code))
	}
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return nil, fmt.Errorf("data count %d does not match %d data segments", *m.DataCount, len(m.Data))
	}
	return m, nil
}

func parseSection(id byte, r *reader, m *Module) error {
	switch id {
	case SectionCustom:
		return parseCustomSection(r, m)
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseVec(r, &m.Funcs, (*reader).u32)
	case SectionTable:
		return parseVec(r, &m.Tables, readTableType)
	case SectionMemory:
		return parseVec(r, &m.Memories, readMemoryType)
	case SectionGlobal:
		return parseVec(r, &m.Globals, readGlobal)
	case SectionExport:
		return parseVec(r, &m.Exports, readExport)
	case SectionStart:
		idx, err := r.u32()
		if err != nil {
			return err
		}
		m.Start = &idx
		return nil
	case SectionElement:
		return parseVec(r, &m.Elements, readElement)
	case SectionCode:
		return parseVec(r, &m.Code, readFuncBody)
	case SectionData:
		return parseVec(r, &m.Data, readDataSegment)
	case SectionDataCount:
		count, err := r.u32()
		if err != nil {
			return err
		}
		m.DataCount = &count
		return nil
	}
	return fmt.Errorf("unknown section ID: 0x%02x", id)
}

// sectionOrder returns the canonical ordering for a section ID, or 0 when the
// ID is unknown. DataCount sits between Element and Code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	}
	return 0
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	}
	return fmt.Sprintf("0x%02x", id)
}

// parseVec reads a length-prefixed vector using read for each element.
func parseVec[T any](r *reader, dst *[]T, read func(*reader) (T, error)) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	if int(count) > r.remaining() {
		return r.wrap("vector length", io.ErrUnexpectedEOF)
	}
	out := make([]T, count)
	for i := range out {
		if out[i], err = read(r); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	*dst = out
	return nil
}

func parseCustomSection(r *reader, m *Module) error {
	name, err := r.name()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: append([]byte(nil), r.rest()...),
	})
	return nil
}

func parseTypeSection(r *reader, m *Module) error {
	return parseVec(r, &m.Types, func(r *reader) (FuncType, error) {
		form, err := r.ReadByte()
		if err != nil {
			return FuncType{}, err
		}
		if form != FuncTypeByte {
			return FuncType{}, fmt.Errorf("unsupported type form 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return FuncType{}, err
		}
		results, err := readValTypes(r)
		if err != nil {
			return FuncType{}, err
		}
		return FuncType{Params: params, Results: results}, nil
	})
}

func readValTypes(r *reader) ([]ValType, error) {
	var out []ValType
	err := parseVec(r, &out, readValType)
	return out, err
}

func readValType(r *reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch v := ValType(b); v {
	case ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExtern:
		return v, nil
	}
	return 0, fmt.Errorf("unsupported value type 0x%02x", b)
}

func parseImportSection(r *reader, m *Module) error {
	return parseVec(r, &m.Imports, func(r *reader) (Import, error) {
		var imp Import
		var err error
		if imp.Module, err = r.name(); err != nil {
			return imp, err
		}
		if imp.Name, err = r.name(); err != nil {
			return imp, err
		}
		if imp.Desc.Kind, err = r.ReadByte(); err != nil {
			return imp, err
		}
		switch imp.Desc.Kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.u32()
		case KindTable:
			var t TableType
			t, err = readTableType(r)
			imp.Desc.Table = &t
		case KindMemory:
			var mt MemoryType
			mt, err = readMemoryType(r)
			imp.Desc.Memory = &mt
		case KindGlobal:
			var g GlobalType
			g, err = readGlobalType(r)
			imp.Desc.Global = &g
		default:
			err = fmt.Errorf("unknown import kind: %d", imp.Desc.Kind)
		}
		return imp, err
	})
}

func readExport(r *reader) (Export, error) {
	name, err := r.name()
	if err != nil {
		return Export{}, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return Export{}, err
	}
	if kind > KindGlobal {
		return Export{}, fmt.Errorf("invalid export kind: 0x%02x", kind)
	}
	idx, err := r.u32()
	if err != nil {
		return Export{}, err
	}
	return Export{Name: name, Kind: kind, Idx: idx}, nil
}

func readGlobal(r *reader) (Global, error) {
	gt, err := readGlobalType(r)
	if err != nil {
		return Global{}, err
	}
	init, err := readInitExpr(r)
	if err != nil {
		return Global{}, err
	}
	return Global{Type: gt, Init: init}, nil
}

func readElement(r *reader) (Element, error) {
	flags, err := r.u32()
	if err != nil {
		return Element{}, err
	}
	if flags > 7 {
		return Element{}, fmt.Errorf("invalid element segment flags: %d", flags)
	}
	elem := Element{Flags: flags, Type: ValFuncRef}

	hasOffset := flags&0x01 == 0
	hasTableIdx := flags&0x02 != 0 && hasOffset
	usesExprs := flags&0x04 != 0

	if hasTableIdx {
		if elem.TableIdx, err = r.u32(); err != nil {
			return elem, err
		}
	}
	if hasOffset {
		if elem.Offset, err = readInitExpr(r); err != nil {
			return elem, err
		}
	}
	if flags&0x03 != 0 {
		if usesExprs {
			if elem.Type, err = readValType(r); err != nil {
				return elem, err
			}
		} else if elem.ElemKind, err = r.ReadByte(); err != nil {
			return elem, err
		}
	}

	if usesExprs {
		err = parseVec(r, &elem.Exprs, readInitExpr)
	} else {
		err = parseVec(r, &elem.FuncIdxs, (*reader).u32)
	}
	return elem, err
}

func readFuncBody(r *reader) (FuncBody, error) {
	size, err := r.u32()
	if err != nil {
		return FuncBody{}, err
	}
	start := r.offset()
	data, err := r.bytes(int(size))
	if err != nil {
		return FuncBody{}, err
	}
	br := newReader(data, start)

	var body FuncBody
	err = parseVec(br, &body.Locals, func(r *reader) (LocalEntry, error) {
		n, err := r.u32()
		if err != nil {
			return LocalEntry{}, err
		}
		t, err := readValType(r)
		return LocalEntry{Count: n, ValType: t}, err
	})
	if err != nil {
		return body, err
	}
	if body.NumLocals() > 50000 {
		return body, fmt.Errorf("too many locals: %d", body.NumLocals())
	}
	body.Code = br.rest()
	if len(body.Code) == 0 || body.Code[len(body.Code)-1] != OpEnd {
		return body, errors.New("function body must end with end opcode")
	}
	return body, nil
}

func readDataSegment(r *reader) (DataSegment, error) {
	flags, err := r.u32()
	if err != nil {
		return DataSegment{}, err
	}
	if flags > 2 {
		return DataSegment{}, fmt.Errorf("invalid data segment flags: %d", flags)
	}
	seg := DataSegment{Flags: flags}
	if flags == 2 {
		if seg.MemIdx, err = r.u32(); err != nil {
			return seg, err
		}
	}
	if flags != 1 {
		if seg.Offset, err = readInitExpr(r); err != nil {
			return seg, err
		}
	}
	n, err := r.u32()
	if err != nil {
		return seg, err
	}
	init, err := r.bytes(int(n))
	if err != nil {
		return seg, err
	}
	seg.Init = append([]byte(nil), init...)
	return seg, nil
}

func readLimits(r *reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&(LimitsShared|LimitsMemory64) != 0 {
		return Limits{}, fmt.Errorf("unsupported limits flags 0x%02x", flags)
	}
	if flags > LimitsHasMax {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	minVal, err := r.u32()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: uint64(minVal)}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.u32()
		if err != nil {
			return Limits{}, err
		}
		max64 := uint64(maxVal)
		l.Max = &max64
	}
	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *reader) (TableType, error) {
	et, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if et != ValFuncRef && et != ValExtern {
		return TableType{}, fmt.Errorf("invalid table element type %s", et)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: et, Limits: limits}, nil
}

func readMemoryType(r *reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	if limits.Min > MaxPages || (limits.Max != nil && *limits.Max > MaxPages) {
		return MemoryType{}, fmt.Errorf("memory size must be at most %d pages", MaxPages)
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readInitExpr copies a constant expression, including its end opcode.
func readInitExpr(r *reader) ([]byte, error) {
	start := r.pos
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			return append([]byte(nil), r.data[start:r.pos]...), nil
		case OpI32Const:
			_, err = ReadLEB128s(r)
		case OpI64Const:
			_, err = ReadLEB128s64(r)
		case OpF32Const:
			_, err = r.bytes(4)
		case OpF64Const:
			_, err = r.bytes(8)
		case OpGlobalGet, OpRefFunc:
			_, err = r.u32()
		case OpRefNull:
			_, err = r.ReadByte()
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
			// extended-const arithmetic has no immediates
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
		if err != nil {
			return nil, err
		}
	}
}
