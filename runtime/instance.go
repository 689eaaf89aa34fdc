package runtime

import (
	"context"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
)

// Instance is a module instantiated on one of the backends. It is not safe
// for concurrent use.
type Instance struct {
	module *Module
	interp *interp.Instance
	wazero *engine.WazeroInstance
}

// Call invokes an exported function. Arguments must match the export's
// parameter kinds exactly.
func (i *Instance) Call(ctx context.Context, name string, args ...interp.Value) ([]interp.Value, error) {
	switch {
	case i.interp != nil:
		return i.interp.Call(ctx, name, args...)
	case i.wazero != nil:
		return i.wazero.Call(ctx, name, args...)
	}
	return nil, errors.NotInitialized(errors.PhaseRuntime, "instance")
}

// Exports lists exported functions.
func (i *Instance) Exports() []interp.Export {
	return i.module.Exports()
}

// Memory returns the instance's linear memory.
func (i *Instance) Memory() wasminterp.Memory {
	if i.interp != nil {
		return i.interp.Memory()
	}
	return i.wazero.Memory()
}

// Interpreter returns the underlying interpreter instance for stepping and
// snapshots, or nil on the wazero backend.
func (i *Instance) Interpreter() *interp.Instance {
	return i.interp
}

func (i *Instance) Close(ctx context.Context) error {
	if i.interp != nil {
		return i.interp.Close(ctx)
	}
	return i.wazero.Close(ctx)
}
