// Package wasm provides WebAssembly binary format parsing and encoding.
//
// The package covers the core module format the interpreter executes:
// numeric value types, functions, a single table and memory, globals,
// imports and exports, element and data segments, sign-extension,
// saturating truncation and bulk memory operations. Encodings of the GC,
// SIMD, threads and exception-handling proposals are rejected while
// decoding.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Modules and instruction sequences can be built in Go and encoded, which is
// how most tests in this repository construct their fixtures:
//
//	body := wasm.EncodeInstructions([]wasm.Instruction{
//	    {Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
//	    {Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
//	    {Opcode: wasm.OpI32Add},
//	    {Opcode: wasm.OpEnd},
//	})
//	m.Code = append(m.Code, wasm.FuncBody{Code: body})
//	bin := m.Encode()
//
// # Validation
//
// Validate checks index spaces, export names, the start signature and the
// block structure of every function body. Operand types are left to the
// interpreter, which checks every value it pops.
package wasm
