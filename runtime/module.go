package runtime

import (
	"context"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/wasm"
)

type Module struct {
	runtime *Runtime
	parsed  *wasm.Module
	wazero  *engine.WazeroModule
}

// Raw returns the decoded module.
func (m *Module) Raw() *wasm.Module {
	return m.parsed
}

// Imports lists the function imports as "module.name".
func (m *Module) Imports() []string {
	var out []string
	for _, imp := range m.parsed.Imports {
		if imp.Desc.Kind == wasm.KindFunc {
			out = append(out, imp.Module+"."+imp.Name)
		}
	}
	return out
}

// Exports lists exported functions in declaration order.
func (m *Module) Exports() []interp.Export {
	var exports []interp.Export
	for _, exp := range m.parsed.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		ft := m.parsed.GetFuncType(exp.Idx)
		if ft == nil {
			continue
		}
		params, err := kinds(ft.Params)
		if err != nil {
			continue
		}
		results, err := kinds(ft.Results)
		if err != nil {
			continue
		}
		exports = append(exports, interp.Export{Name: exp.Name, Params: params, Results: results})
	}
	return exports
}

// Instantiate creates an instance whose imports are served by d. A nil d
// uses the functions and dispatchers registered on the Runtime.
func (m *Module) Instantiate(ctx context.Context, d interp.ImportDispatcher) (*Instance, error) {
	if d == nil {
		d = m.runtime.hosts
	}

	if m.wazero != nil {
		inst, err := m.wazero.Instantiate(ctx, d)
		if err != nil {
			return nil, wrapInstantiation(err)
		}
		return &Instance{module: m, wazero: inst}, nil
	}

	inst, err := interp.Instantiate(ctx, m.parsed, d, m.runtime.interpOptions()...)
	if err != nil {
		return nil, wrapInstantiation(err)
	}
	return &Instance{module: m, interp: inst}, nil
}

// wrapInstantiation leaves already structured instantiation and linking
// errors alone so callers can match them directly.
func wrapInstantiation(err error) error {
	var missing *errors.MissingImportsError
	if errors.As(err, &missing) {
		return err
	}
	var e *errors.Error
	if errors.As(err, &e) && e.Phase != errors.PhaseTrap {
		return err
	}
	return errors.Instantiation(err)
}

func kinds(types []wasm.ValType) ([]interp.Kind, error) {
	out := make([]interp.Kind, len(types))
	for i, t := range types {
		k, err := interp.KindOf(t)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}
