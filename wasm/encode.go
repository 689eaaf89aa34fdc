package wasm

import (
	"bytes"
	"encoding/binary"
)

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	var w bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:], Version)
	w.Write(hdr[:])

	section(&w, SectionType, len(m.Types), func(sec *bytes.Buffer) {
		for _, ft := range m.Types {
			sec.WriteByte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
	})

	section(&w, SectionImport, len(m.Imports), func(sec *bytes.Buffer) {
		for _, imp := range m.Imports {
			writeName(sec, imp.Module)
			writeName(sec, imp.Name)
			sec.WriteByte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				WriteLEB128u(sec, imp.Desc.TypeIdx)
			case KindTable:
				writeTableType(sec, *imp.Desc.Table)
			case KindMemory:
				writeLimits(sec, imp.Desc.Memory.Limits)
			case KindGlobal:
				writeGlobalType(sec, *imp.Desc.Global)
			}
		}
	})

	section(&w, SectionFunction, len(m.Funcs), func(sec *bytes.Buffer) {
		for _, typeIdx := range m.Funcs {
			WriteLEB128u(sec, typeIdx)
		}
	})

	section(&w, SectionTable, len(m.Tables), func(sec *bytes.Buffer) {
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
	})

	section(&w, SectionMemory, len(m.Memories), func(sec *bytes.Buffer) {
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
	})

	section(&w, SectionGlobal, len(m.Globals), func(sec *bytes.Buffer) {
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.Write(g.Init)
		}
	})

	section(&w, SectionExport, len(m.Exports), func(sec *bytes.Buffer) {
		for _, exp := range m.Exports {
			writeName(sec, exp.Name)
			sec.WriteByte(exp.Kind)
			WriteLEB128u(sec, exp.Idx)
		}
	})

	if m.Start != nil {
		writeSection(&w, SectionStart, EncodeLEB128u(*m.Start))
	}

	section(&w, SectionElement, len(m.Elements), func(sec *bytes.Buffer) {
		for _, elem := range m.Elements {
			writeElement(sec, elem)
		}
	})

	if m.DataCount != nil {
		writeSection(&w, SectionDataCount, EncodeLEB128u(*m.DataCount))
	}

	section(&w, SectionCode, len(m.Code), func(sec *bytes.Buffer) {
		for _, body := range m.Code {
			var fb bytes.Buffer
			WriteLEB128u(&fb, uint32(len(body.Locals)))
			for _, l := range body.Locals {
				WriteLEB128u(&fb, l.Count)
				fb.WriteByte(byte(l.ValType))
			}
			fb.Write(body.Code)
			WriteLEB128u(sec, uint32(fb.Len()))
			sec.Write(fb.Bytes())
		}
	})

	section(&w, SectionData, len(m.Data), func(sec *bytes.Buffer) {
		for _, seg := range m.Data {
			WriteLEB128u(sec, seg.Flags)
			if seg.Flags == 2 {
				WriteLEB128u(sec, seg.MemIdx)
			}
			if seg.Flags != 1 {
				sec.Write(seg.Offset)
			}
			WriteLEB128u(sec, uint32(len(seg.Init)))
			sec.Write(seg.Init)
		}
	})

	for _, cs := range m.CustomSections {
		var sec bytes.Buffer
		writeName(&sec, cs.Name)
		sec.Write(cs.Data)
		writeSection(&w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

// section writes a vector section with count entries; empty sections are omitted.
func section(w *bytes.Buffer, id byte, count int, body func(*bytes.Buffer)) {
	if count == 0 {
		return
	}
	var sec bytes.Buffer
	WriteLEB128u(&sec, uint32(count))
	body(&sec)
	writeSection(w, id, sec.Bytes())
}

func writeSection(w *bytes.Buffer, id byte, data []byte) {
	w.WriteByte(id)
	WriteLEB128u(w, uint32(len(data)))
	w.Write(data)
}

func writeName(w *bytes.Buffer, s string) {
	WriteLEB128u(w, uint32(len(s)))
	w.WriteString(s)
}

func writeValTypes(w *bytes.Buffer, types []ValType) {
	WriteLEB128u(w, uint32(len(types)))
	for _, t := range types {
		w.WriteByte(byte(t))
	}
}

func writeLimits(w *bytes.Buffer, l Limits) {
	if l.Max != nil {
		w.WriteByte(LimitsHasMax)
		WriteLEB128u(w, uint32(l.Min))
		WriteLEB128u(w, uint32(*l.Max))
		return
	}
	w.WriteByte(0)
	WriteLEB128u(w, uint32(l.Min))
}

func writeTableType(w *bytes.Buffer, t TableType) {
	w.WriteByte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *bytes.Buffer, g GlobalType) {
	w.WriteByte(byte(g.ValType))
	if g.Mutable {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func writeElement(w *bytes.Buffer, elem Element) {
	WriteLEB128u(w, elem.Flags)
	hasOffset := elem.Flags&0x01 == 0
	usesExprs := elem.Flags&0x04 != 0
	if elem.Flags&0x02 != 0 && hasOffset {
		WriteLEB128u(w, elem.TableIdx)
	}
	if hasOffset {
		w.Write(elem.Offset)
	}
	if elem.Flags&0x03 != 0 {
		if usesExprs {
			w.WriteByte(byte(elem.Type))
		} else {
			w.WriteByte(elem.ElemKind)
		}
	}
	if usesExprs {
		WriteLEB128u(w, uint32(len(elem.Exprs)))
		for _, e := range elem.Exprs {
			w.Write(e)
		}
		return
	}
	WriteLEB128u(w, uint32(len(elem.FuncIdxs)))
	for _, idx := range elem.FuncIdxs {
		WriteLEB128u(w, idx)
	}
}
