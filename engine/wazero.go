package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
)

// Config holds configuration for engine creation
type Config struct {
	// Logger receives debug output. nil uses interp.Logger().
	Logger *zap.Logger

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means wazero's default of 65536 pages.
	MemoryLimitPages uint32

	// LazyImports defers missing-import detection to the first call, as
	// interp.WithLazyImports does.
	LazyImports bool
}

// WazeroEngine runs modules on wazero. Each instance gets its own wazero
// runtime so host modules can be bound to a per-instance dispatcher; the
// compilation cache is shared across them.
type WazeroEngine struct {
	cache     wazero.CompilationCache
	runtime   wazero.Runtime
	log       *zap.Logger
	runtimeMu sync.Mutex
	cfg       Config
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	e := &WazeroEngine{cache: wazero.NewCompilationCache()}
	if cfg != nil {
		e.cfg = *cfg
	}
	e.log = e.cfg.Logger
	if e.log == nil {
		e.log = interp.Logger()
	}
	e.runtime = wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	return e, nil
}

func (e *WazeroEngine) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true)
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	return rc
}

// LoadModule compiles wasmBytes. The compiled code is cached and reused by
// every instance created from the returned module.
func (e *WazeroEngine) LoadModule(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	e.runtimeMu.Lock()
	defer e.runtimeMu.Unlock()
	if e.runtime == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "wazero engine")
	}

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	m := &WazeroModule{engine: e, compiled: compiled, bytes: wasmBytes}
	for _, def := range compiled.ImportedFunctions() {
		imp, err := newHostImport(def)
		if err != nil {
			return nil, err
		}
		m.imports = append(m.imports, imp)
	}
	e.log.Debug("wazero module compiled",
		zap.Int("bytes", len(wasmBytes)),
		zap.Int("imports", len(m.imports)),
		zap.Int("exports", len(compiled.ExportedFunctions())))
	return m, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	e.runtimeMu.Lock()
	defer e.runtimeMu.Unlock()
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(ctx)
	e.runtime = nil
	if cerr := e.cache.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// WazeroModule is a compiled WASM module
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
	imports  []hostImport
	bytes    []byte
}

// Exports lists the exported functions sorted by name.
func (m *WazeroModule) Exports() []interp.Export {
	defs := m.compiled.ExportedFunctions()
	out := make([]interp.Export, 0, len(defs))
	for name, def := range defs {
		params, _ := kindsOf(def.ParamTypes())
		results, _ := kindsOf(def.ResultTypes())
		out = append(out, interp.Export{Name: name, Params: params, Results: results})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Instantiate links the module's function imports to d and runs its start
// function. A nil dispatcher serves no imports.
func (m *WazeroModule) Instantiate(ctx context.Context, d interp.ImportDispatcher) (*WazeroInstance, error) {
	if d == nil {
		d = interp.NewImportRouter()
	}
	if err := m.checkImports(d); err != nil {
		return nil, err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, m.engine.runtimeConfig())
	inst := &WazeroInstance{runtime: rt, dispatcher: d, log: m.engine.log}

	if err := inst.bindImports(ctx, m.imports); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	// Recompiling in the per-instance runtime hits the shared cache.
	compiled, err := rt.CompileModule(ctx, m.bytes)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Load("compile module", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Instantiation(inst.translate(err))
	}
	inst.module = mod
	inst.memory = &Memory{mem: mod.Memory()}
	m.engine.log.Debug("wazero instance created", zap.Int("imports", len(m.imports)))
	return inst, nil
}

func (m *WazeroModule) checkImports(d interp.ImportDispatcher) error {
	resolver, ok := d.(interp.ImportResolver)
	if !ok || m.engine.cfg.LazyImports {
		return nil
	}
	var missing []string
	for _, imp := range m.imports {
		if !resolver.Resolves(imp.module, imp.name) {
			missing = append(missing, imp.module+"#"+imp.name)
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

// WazeroInstance is an instantiated module with its own wazero runtime.
type WazeroInstance struct {
	runtime    wazero.Runtime
	module     api.Module
	dispatcher interp.ImportDispatcher
	memory     *Memory
	log        *zap.Logger
	// hostErr holds the error a host function panicked with during the
	// current call, so it can be returned unwrapped.
	hostErr error
	mu      sync.Mutex
}

// Call invokes an exported function with the same argument and result
// conventions as interp.Instance.Call.
func (i *WazeroInstance) Call(ctx context.Context, name string, args ...interp.Value) ([]interp.Value, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.module == nil {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "instance")
	}

	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "exported function", name)
	}
	def := fn.Definition()
	params, err := kindsOf(def.ParamTypes())
	if err != nil {
		return nil, err
	}
	results, err := kindsOf(def.ResultTypes())
	if err != nil {
		return nil, err
	}
	if len(args) != len(params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Detail("expected %d arguments, got %d", len(params), len(args)).
			Build()
	}
	stack := make([]uint64, max(len(params), len(results)))
	for n, a := range args {
		if a.Kind() != params[n] {
			return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{name, fmt.Sprintf("arg%d", n)},
				params[n].String(), a.Kind().String())
		}
		stack[n] = a.Bits()
	}

	i.hostErr = nil
	i.log.Debug("wazero invoke", zap.String("func", name), zap.Int("args", len(args)))
	if err := fn.CallWithStack(ctx, stack); err != nil {
		return nil, i.translate(err)
	}

	out := make([]interp.Value, len(results))
	for n, k := range results {
		out[n] = interp.FromBits(k, stack[n])
	}
	return out, nil
}

// ExportedFunctions lists exported functions sorted by name.
func (i *WazeroInstance) ExportedFunctions() []interp.Export {
	defs := i.module.ExportedFunctionDefinitions()
	out := make([]interp.Export, 0, len(defs))
	for name, def := range defs {
		params, _ := kindsOf(def.ParamTypes())
		results, _ := kindsOf(def.ResultTypes())
		out = append(out, interp.Export{Name: name, Params: params, Results: results})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Memory returns the instance's linear memory. Modules without one get a
// zero-sized memory.
func (i *WazeroInstance) Memory() *Memory {
	return i.memory
}

// Close releases the instance's wazero runtime.
func (i *WazeroInstance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.runtime == nil {
		return nil
	}
	err := i.runtime.Close(ctx)
	i.runtime = nil
	i.module = nil
	return err
}

func kindsOf(types []api.ValueType) ([]interp.Kind, error) {
	out := make([]interp.Kind, len(types))
	for n, t := range types {
		switch t {
		case api.ValueTypeI32:
			out[n] = interp.KindI32
		case api.ValueTypeI64:
			out[n] = interp.KindI64
		case api.ValueTypeF32:
			out[n] = interp.KindF32
		case api.ValueTypeF64:
			out[n] = interp.KindF64
		default:
			return nil, errors.Unsupported(errors.PhaseLoad, "value type "+api.ValueTypeName(t))
		}
	}
	return out, nil
}
