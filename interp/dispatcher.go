package interp

import (
	"context"
	"sort"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
)

// ErrUnknownImport matches any error reporting an import no dispatcher
// serves. It is a linking error, not a trap.
var ErrUnknownImport = &errors.Error{Phase: errors.PhaseLinking, Kind: errors.KindMissingImport}

// ImportDispatcher is the host capability an Instance calls whenever
// execution reaches a call to an imported function.
//
// args are popped according to the import's declared signature. The
// returned slice must be empty for signatures without results and match
// the declared results otherwise. Implementations return an error matching
// ErrUnknownImport for module/name pairs they do not serve.
type ImportDispatcher interface {
	Dispatch(ctx context.Context, module, name string, args []Value, mem wasminterp.Memory) ([]Value, error)
}

// ImportResolver is implemented by dispatchers that can tell ahead of time
// whether they serve an import. Instantiate uses it to reject modules with
// unserved imports before any code runs.
type ImportResolver interface {
	Resolves(module, name string) bool
}

// DispatcherFunc adapts a function to ImportDispatcher.
type DispatcherFunc func(ctx context.Context, module, name string, args []Value, mem wasminterp.Memory) ([]Value, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, module, name string, args []Value, mem wasminterp.Memory) ([]Value, error) {
	return f(ctx, module, name, args, mem)
}

// UnknownImport builds the error dispatchers return for imports they do not
// serve.
func UnknownImport(module, name string) *errors.Error {
	return errors.New(errors.PhaseLinking, errors.KindMissingImport).
		Path(module, name).
		Detail("no dispatcher serves %s.%s", module, name).
		Build()
}

// ImportRouter routes calls by module name to registered dispatchers.
// It is not safe to register while an instance is dispatching through it.
type ImportRouter struct {
	routes map[string]ImportDispatcher
}

// NewImportRouter returns an empty router.
func NewImportRouter() *ImportRouter {
	return &ImportRouter{routes: make(map[string]ImportDispatcher)}
}

// Register routes every import of module to d, replacing any previous route.
func (r *ImportRouter) Register(module string, d ImportDispatcher) *ImportRouter {
	r.routes[module] = d
	return r
}

// Modules returns the registered module names in sorted order.
func (r *ImportRouter) Modules() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ImportRouter) Dispatch(ctx context.Context, module, name string, args []Value, mem wasminterp.Memory) ([]Value, error) {
	d, ok := r.routes[module]
	if !ok {
		return nil, UnknownImport(module, name)
	}
	return d.Dispatch(ctx, module, name, args, mem)
}

// Resolves reports whether a route exists for module and, when the routed
// dispatcher is itself an ImportResolver, whether it serves name.
func (r *ImportRouter) Resolves(module, name string) bool {
	d, ok := r.routes[module]
	if !ok {
		return false
	}
	if res, ok := d.(ImportResolver); ok {
		return res.Resolves(module, name)
	}
	return true
}

// HostFunc is a typed host function registered on a FuncDispatcher.
type HostFunc func(ctx context.Context, args []Value, mem wasminterp.Memory) ([]Value, error)

// FuncDispatcher serves imports from a table of named host functions.
type FuncDispatcher struct {
	funcs map[string]HostFunc
}

// NewFuncDispatcher returns an empty FuncDispatcher.
func NewFuncDispatcher() *FuncDispatcher {
	return &FuncDispatcher{funcs: make(map[string]HostFunc)}
}

// Define registers fn as module.name.
func (d *FuncDispatcher) Define(module, name string, fn HostFunc) *FuncDispatcher {
	d.funcs[module+"#"+name] = fn
	return d
}

func (d *FuncDispatcher) Dispatch(ctx context.Context, module, name string, args []Value, mem wasminterp.Memory) ([]Value, error) {
	fn, ok := d.funcs[module+"#"+name]
	if !ok {
		return nil, UnknownImport(module, name)
	}
	return fn(ctx, args, mem)
}

func (d *FuncDispatcher) Resolves(module, name string) bool {
	_, ok := d.funcs[module+"#"+name]
	return ok
}
