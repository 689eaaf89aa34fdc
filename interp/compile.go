package interp

import (
	"fmt"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Function is a function in an instance's index space: either a decoded
// module function or an import reached through the dispatcher.
type Function struct {
	Import  *wasm.Import
	Name    string
	Type    wasm.FuncType
	Params  []Kind
	Results []Kind
	// Locals holds parameter kinds followed by declared local kinds.
	Locals []Kind
	Body   []wasm.Instruction
	// blocks maps the index of each block, loop and if to its structure.
	blocks map[int]blockInfo
	Index  uint32
}

type blockInfo struct {
	end    int
	elseAt int // -1 when an if has no else arm
}

// IsImport reports whether calls to f go through the dispatcher.
func (f *Function) IsImport() bool { return f.Import != nil }

// prepareFunctions builds the function index space of m: imports first,
// then module functions with decoded bodies and resolved block structure.
func prepareFunctions(m *wasm.Module) ([]*Function, error) {
	funcs := make([]*Function, 0, m.NumFuncs())
	names := exportNames(m)

	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		idx := uint32(len(funcs))
		ft := m.TypeAt(imp.Desc.TypeIdx)
		if ft == nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
				Path("import", imp.Module, imp.Name).
				Detail("type index %d out of range", imp.Desc.TypeIdx).
				Build()
		}
		fn, err := newFunction(idx, *ft, nil)
		if err != nil {
			return nil, err
		}
		fn.Import = imp
		fn.Name = imp.Module + "." + imp.Name
		funcs = append(funcs, fn)
	}

	for i, typeIdx := range m.Funcs {
		idx := uint32(len(funcs))
		ft := m.TypeAt(typeIdx)
		if ft == nil || i >= len(m.Code) {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Path("function", fmt.Sprint(idx)).
				Detail("missing type or body").
				Build()
		}
		fn, err := newFunction(idx, *ft, m.Code[i].Locals)
		if err != nil {
			return nil, err
		}
		if name, ok := names[idx]; ok {
			fn.Name = name
		}
		if fn.Body, err = wasm.DecodeInstructions(m.Code[i].Code); err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, fn.Name)
		}
		if fn.blocks, err = resolveBlocks(fn.Body); err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, fn.Name)
		}
		funcs = append(funcs, fn)
	}
	return funcs, nil
}

func newFunction(idx uint32, ft wasm.FuncType, locals []wasm.LocalEntry) (*Function, error) {
	params, err := kindsOf(ft.Params)
	if err != nil {
		return nil, err
	}
	results, err := kindsOf(ft.Results)
	if err != nil {
		return nil, err
	}
	all := append([]Kind(nil), params...)
	for _, l := range locals {
		k, err := KindOf(l.ValType)
		if err != nil {
			return nil, err
		}
		for n := uint32(0); n < l.Count; n++ {
			all = append(all, k)
		}
	}
	return &Function{
		Index:   idx,
		Name:    fmt.Sprintf("func[%d]", idx),
		Type:    ft,
		Params:  params,
		Results: results,
		Locals:  all,
	}, nil
}

func exportNames(m *wasm.Module) map[uint32]string {
	names := make(map[uint32]string)
	for _, exp := range m.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		if _, ok := names[exp.Idx]; !ok {
			names[exp.Idx] = exp.Name
		}
	}
	return names
}

// resolveBlocks pairs every block, loop and if with its else and end using
// an explicit stack, so nesting depth never grows the Go stack.
func resolveBlocks(body []wasm.Instruction) (map[int]blockInfo, error) {
	blocks := make(map[int]blockInfo)
	var open []int
	for pc, instr := range body {
		switch instr.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			open = append(open, pc)
			blocks[pc] = blockInfo{end: -1, elseAt: -1}
		case wasm.OpElse:
			if len(open) == 0 {
				return nil, fmt.Errorf("else at %d outside any block", pc)
			}
			start := open[len(open)-1]
			if body[start].Opcode != wasm.OpIf {
				return nil, fmt.Errorf("else at %d does not belong to an if", pc)
			}
			b := blocks[start]
			b.elseAt = pc
			blocks[start] = b
		case wasm.OpEnd:
			if len(open) == 0 {
				if pc != len(body)-1 {
					return nil, fmt.Errorf("instructions after function end at %d", pc)
				}
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			b := blocks[start]
			b.end = pc
			blocks[start] = b
		}
	}
	if len(open) != 0 {
		return nil, fmt.Errorf("%d blocks without end", len(open))
	}
	if len(body) == 0 || body[len(body)-1].Opcode != wasm.OpEnd {
		return nil, fmt.Errorf("function body does not end with end")
	}
	return blocks, nil
}

// blockArity returns the entry and exit arities of a block type.
func blockArity(types []wasm.FuncType, bt int32) (params, results int, err error) {
	switch bt {
	case wasm.BlockTypeVoid:
		return 0, 0, nil
	case wasm.BlockTypeI32, wasm.BlockTypeI64, wasm.BlockTypeF32, wasm.BlockTypeF64:
		return 0, 1, nil
	}
	if bt < 0 || int(bt) >= len(types) {
		return 0, 0, errors.New(errors.PhaseTrap, errors.KindOutOfBounds).
			Path("type").
			Detail("block type %d out of range", bt).
			Build()
	}
	ft := types[bt]
	return len(ft.Params), len(ft.Results), nil
}
