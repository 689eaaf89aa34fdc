package wasm

import "fmt"

// Validate checks the module for structural validity.
//
// It verifies index spaces, export names, the start signature, memory
// limits and, for every function body, that instructions decode, blocks
// nest correctly and immediates reference declared entities. Operand types
// are not checked here; the interpreter checks them as it executes.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypeIndices,
		m.validateFunctionIndices,
		m.validateTableIndices,
		m.validateMemoryIndices,
		m.validateGlobals,
		m.validateExports,
		m.validateStart,
		m.validateBodies,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())
	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}
	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumImportedTables() + len(m.Tables))
	if numTables > 1 {
		return fmt.Errorf("at most one table is supported, module declares %d", numTables)
	}
	for i, elem := range m.Elements {
		if elem.Active() && elem.TableIdx >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))
	if numMemories > 1 {
		return fmt.Errorf("at most one memory is supported, module declares %d", numMemories)
	}
	for i, data := range m.Data {
		if data.Active() && data.MemIdx >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateGlobals() error {
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	for i, g := range m.Globals {
		if len(g.Init) == 0 || g.Init[len(g.Init)-1] != OpEnd {
			return fmt.Errorf("global %d initializer is not terminated", i)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			return fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	ft := m.GetFuncType(*m.Start)
	if ft == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got %s", ft)
	}
	return nil
}

func (m *Module) validateBodies() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d", len(m.Code), len(m.Funcs))
	}
	imported := uint32(m.NumImportedFuncs())
	for i, body := range m.Code {
		funcIdx := imported + uint32(i)
		instrs, err := DecodeInstructions(body.Code)
		if err != nil {
			return fmt.Errorf("function %d: %w", funcIdx, err)
		}
		if err := m.validateInstructions(funcIdx, body, instrs); err != nil {
			return fmt.Errorf("function %d: %w", funcIdx, err)
		}
	}
	return nil
}

func (m *Module) validateInstructions(funcIdx uint32, body FuncBody, instrs []Instruction) error {
	ft := m.GetFuncType(funcIdx)
	numLocals := uint64(len(ft.Params)) + body.NumLocals()
	numFuncs := uint32(m.NumFuncs())
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	hasMemory := m.NumImportedMemories()+len(m.Memories) > 0
	hasTable := m.NumImportedTables()+len(m.Tables) > 0

	// depth counts open blocks including the function body itself
	depth := uint32(1)
	// ifs tracks whether each open block is an if that has not seen else
	ifs := []bool{false}

	for pc, instr := range instrs {
		switch imm := instr.Imm.(type) {
		case BlockImm:
			if imm.Type >= 0 && int(imm.Type) >= len(m.Types) {
				return fmt.Errorf("instruction %d: block type index %d out of range", pc, imm.Type)
			}
		case BranchImm:
			if imm.LabelIdx >= depth {
				return fmt.Errorf("instruction %d: branch depth %d exceeds %d open labels", pc, imm.LabelIdx, depth)
			}
		case BrTableImm:
			if imm.Default >= depth {
				return fmt.Errorf("instruction %d: br_table default %d exceeds %d open labels", pc, imm.Default, depth)
			}
			for _, l := range imm.Labels {
				if l >= depth {
					return fmt.Errorf("instruction %d: br_table depth %d exceeds %d open labels", pc, l, depth)
				}
			}
		case CallImm:
			if imm.FuncIdx >= numFuncs {
				return fmt.Errorf("instruction %d: call to undefined function %d", pc, imm.FuncIdx)
			}
		case CallIndirectImm:
			if !hasTable || imm.TableIdx != 0 {
				return fmt.Errorf("instruction %d: call_indirect without table", pc)
			}
			if int(imm.TypeIdx) >= len(m.Types) {
				return fmt.Errorf("instruction %d: call_indirect type %d out of range", pc, imm.TypeIdx)
			}
		case LocalImm:
			if uint64(imm.LocalIdx) >= numLocals {
				return fmt.Errorf("instruction %d: local %d out of range (%d locals)", pc, imm.LocalIdx, numLocals)
			}
		case GlobalImm:
			if imm.GlobalIdx >= numGlobals {
				return fmt.Errorf("instruction %d: global %d out of range", pc, imm.GlobalIdx)
			}
		case MemoryImm:
			if !hasMemory {
				return fmt.Errorf("instruction %d: %s without memory", pc, OpcodeName(instr.Opcode))
			}
		}

		switch instr.Opcode {
		case OpBlock, OpLoop, OpIf:
			depth++
			ifs = append(ifs, instr.Opcode == OpIf)
		case OpElse:
			if !ifs[len(ifs)-1] {
				return fmt.Errorf("instruction %d: else without matching if", pc)
			}
			ifs[len(ifs)-1] = false
		case OpEnd:
			depth--
			ifs = ifs[:len(ifs)-1]
			if depth == 0 && pc != len(instrs)-1 {
				return fmt.Errorf("instruction %d: code after final end", pc)
			}
		case OpMemorySize, OpMemoryGrow:
			if !hasMemory {
				return fmt.Errorf("instruction %d: %s without memory", pc, OpcodeName(instr.Opcode))
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%d unterminated blocks", depth)
	}
	return nil
}
