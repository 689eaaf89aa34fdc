package wasm_test

import (
	"strings"
	"testing"

	"github.com/wippyai/wasm-interp/wasm"
)

func bodyOf(instrs ...wasm.Instruction) wasm.FuncBody {
	return wasm.FuncBody{Code: wasm.EncodeInstructions(append(instrs, wasm.Instruction{Opcode: wasm.OpEnd}))}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *wasm.Module)
		wantErr string
	}{
		{"valid", func(m *wasm.Module) {}, ""},
		{"duplicate export", func(m *wasm.Module) {
			m.Exports = append(m.Exports, wasm.Export{Name: "add", Kind: wasm.KindFunc, Idx: 1})
		}, "duplicate export"},
		{"bad type index", func(m *wasm.Module) { m.Funcs[0] = 9 }, "invalid type index"},
		{"bad start signature", func(m *wasm.Module) { m.Start = ptrTo(uint32(1)) }, "start function"},
		{"branch too deep", func(m *wasm.Module) {
			m.Code[0] = bodyOf(wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 1}})
		}, "branch depth"},
		{"local out of range", func(m *wasm.Module) {
			m.Code[0] = bodyOf(wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 4}})
		}, "local 4"},
		{"call undefined", func(m *wasm.Module) {
			m.Code[0] = bodyOf(wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 7}})
		}, "undefined function"},
		{"unterminated block", func(m *wasm.Module) {
			m.Code[0] = bodyOf(wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
		}, "unterminated"},
		{"else without if", func(m *wasm.Module) {
			m.Code[0] = bodyOf(wasm.Instruction{Opcode: wasm.OpElse})
		}, "else without"},
		{"module without memory", func(m *wasm.Module) {
			m.Memories = nil
			m.Exports = m.Exports[:1]
			m.Data = nil
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := addModule()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLoadWithoutMemory(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{bodyOf(
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
			wasm.Instruction{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{}},
		)},
	}
	if err := m.Validate(); err == nil || !strings.Contains(err.Error(), "without memory") {
		t.Errorf("Validate() = %v, want memory error", err)
	}
}
