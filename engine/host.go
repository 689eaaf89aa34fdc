package engine

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
)

// hostImport is a function import the guest declares, with its signature
// resolved to interpreter kinds.
type hostImport struct {
	module      string
	name        string
	params      []interp.Kind
	results     []interp.Kind
	paramTypes  []api.ValueType
	resultTypes []api.ValueType
}

func newHostImport(def api.FunctionDefinition) (hostImport, error) {
	module, name, _ := def.Import()
	params, err := kindsOf(def.ParamTypes())
	if err != nil {
		return hostImport{}, err
	}
	results, err := kindsOf(def.ResultTypes())
	if err != nil {
		return hostImport{}, err
	}
	return hostImport{
		module:      module,
		name:        name,
		params:      params,
		results:     results,
		paramTypes:  def.ParamTypes(),
		resultTypes: def.ResultTypes(),
	}, nil
}

// bindImports instantiates one wazero host module per imported module name,
// each function forwarding to the instance's dispatcher.
func (i *WazeroInstance) bindImports(ctx context.Context, imports []hostImport) error {
	byModule := make(map[string][]hostImport)
	var order []string
	for _, imp := range imports {
		if _, ok := byModule[imp.module]; !ok {
			order = append(order, imp.module)
		}
		byModule[imp.module] = append(byModule[imp.module], imp)
	}

	for _, module := range order {
		builder := i.runtime.NewHostModuleBuilder(module)
		seen := make(map[string]bool)
		for _, imp := range byModule[module] {
			if seen[imp.name] {
				continue
			}
			seen[imp.name] = true
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(i.hostFunc(imp), imp.paramTypes, imp.resultTypes).
				WithName(imp.name).
				Export(imp.name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.New(errors.PhaseLinking, errors.KindInstantiation).
				Path(module).
				Cause(err).
				Detail("bind host module %s", module).
				Build()
		}
	}
	return nil
}

func (i *WazeroInstance) hostFunc(imp hostImport) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]interp.Value, len(imp.params))
		for n, k := range imp.params {
			args[n] = interp.FromBits(k, stack[n])
		}

		results, err := i.dispatcher.Dispatch(ctx, imp.module, imp.name, args, &Memory{mem: mod.Memory()})
		if err == nil {
			err = checkResults(imp, results)
		} else {
			err = hostError(ctx, imp, err)
		}
		if err != nil {
			i.hostErr = err
			panic(err)
		}
		for n, r := range results {
			stack[n] = r.Bits()
		}
	}
}

func hostError(ctx context.Context, imp hostImport, err error) error {
	switch {
	case errors.Is(err, interp.ErrUnknownImport), errors.IsTrap(err):
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return errors.New(errors.PhaseTrap, errors.KindCanceled).Cause(err).Detail("canceled in %s.%s", imp.module, imp.name).Build()
	}
	return errors.New(errors.PhaseHost, errors.KindHostFailure).
		Path(imp.module, imp.name).
		Cause(err).
		Detail("host function %s.%s failed", imp.module, imp.name).
		Build()
}

func checkResults(imp hostImport, results []interp.Value) error {
	if len(results) != len(imp.results) {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(imp.module, imp.name).
			Detail("host returned %d results, signature declares %d", len(results), len(imp.results)).
			Build()
	}
	for n, r := range results {
		if r.Kind() != imp.results[n] {
			return errors.TypeMismatch(errors.PhaseHost, []string{imp.module, imp.name},
				imp.results[n].String(), r.Kind().String())
		}
	}
	return nil
}

// wazero reports traps as plain errors; these are the messages it uses.
var trapMessages = []struct {
	text string
	kind errors.Kind
}{
	{"integer divide by zero", errors.KindDivideByZero},
	{"integer overflow", errors.KindIntegerOverflow},
	{"invalid conversion to integer", errors.KindInvalidConversion},
	{"out of bounds memory access", errors.KindOutOfBounds},
	{"unreachable", errors.KindUnreachable},
	{"stack overflow", errors.KindCallStackExhausted},
	{"indirect call type mismatch", errors.KindIndirectCallMismatch},
	{"invalid table access", errors.KindUndefinedElement},
}

// translate converts a wazero call error into the interpreter's error model.
func (i *WazeroInstance) translate(err error) error {
	if i.hostErr != nil {
		herr := i.hostErr
		i.hostErr = nil
		return herr
	}

	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			return errors.New(errors.PhaseTrap, errors.KindCanceled).Cause(err).Detail("invocation canceled").Build()
		}
	}

	msg := err.Error()
	for _, tm := range trapMessages {
		if strings.Contains(msg, tm.text) {
			i.log.Debug("wazero trap", zap.String("kind", string(tm.kind)), zap.Error(err))
			return errors.New(errors.PhaseTrap, tm.kind).Cause(err).Detail("%s", tm.text).Build()
		}
	}
	return errors.Wrap(errors.PhaseRuntime, errors.KindHostFailure, err, "wazero call failed")
}
