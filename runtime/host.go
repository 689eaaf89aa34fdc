package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are registered as host functions.
type Host interface {
	// Namespace returns the import module name (e.g., "env").
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact import names when the
// automatic PascalCase-to-snake_case conversion doesn't apply.
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostRegistry serves imports from typed Go functions and from dispatchers
// routed by namespace. It implements interp.ImportDispatcher and
// interp.ImportResolver.
type HostRegistry struct {
	funcs  map[string]map[string]*HostFunc
	routes map[string]interp.ImportDispatcher
	mu     sync.RWMutex
}

// HostFunc is a registered Go function with its signature resolved to
// value kinds.
//
// Handlers take an optional leading context.Context, then an optional
// wasminterp.Memory, then one parameter per wasm parameter. Results are one
// per wasm result, optionally followed by an error. int32 and uint32 map to
// i32, int64 and uint64 to i64, float32 to f32 and float64 to f64. A handler
// of type interp.HostFunc is called as is.
type HostFunc struct {
	Handler  any
	fn       reflect.Value
	raw      interp.HostFunc
	Params   []interp.Kind
	Results  []interp.Kind
	withCtx  bool
	withMem  bool
	withErr  bool
	argTypes []reflect.Type
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs:  make(map[string]map[string]*HostFunc),
		routes: make(map[string]interp.ImportDispatcher),
	}
}

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	handlers := make(map[string]any)
	if er, ok := h.(ExplicitRegistrar); ok {
		handlers = er.Register()
	} else {
		rv := reflect.ValueOf(h)
		rt := rv.Type()
		for i := 0; i < rt.NumMethod(); i++ {
			method := rt.Method(i)
			if !method.IsExported() || method.Name == "Namespace" {
				continue
			}
			handlers[toSnakeCase(method.Name)] = rv.Method(i).Interface()
		}
	}

	for name, handler := range handlers {
		if err := r.RegisterFunc(ns, name, handler); err != nil {
			return err
		}
	}
	return nil
}

func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}

	hf, err := newHostFunc(fn)
	if err != nil {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path(namespace, name).
			Cause(err).
			Detail("register %s.%s: %v", namespace, name, err).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]*HostFunc)
	}
	r.funcs[namespace][name] = hf
	return nil
}

// RegisterDispatcher routes imports of namespace that no registered
// function serves to d.
func (r *HostRegistry) RegisterDispatcher(namespace string, d interp.ImportDispatcher) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if d == nil {
		return errors.InvalidInput(errors.PhaseHost, "dispatcher cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[namespace] = d
	return nil
}

// Namespaces returns every namespace with a function or dispatcher, sorted.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for ns := range r.funcs {
		seen[ns] = true
	}
	for ns := range r.routes {
		seen[ns] = true
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the function registered as namespace.name.
func (r *HostRegistry) Lookup(namespace, name string) (*HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hf, ok := r.funcs[namespace][name]
	return hf, ok
}

func (r *HostRegistry) Resolves(module, name string) bool {
	if _, ok := r.Lookup(module, name); ok {
		return true
	}
	r.mu.RLock()
	d, ok := r.routes[module]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if res, ok := d.(interp.ImportResolver); ok {
		return res.Resolves(module, name)
	}
	return true
}

func (r *HostRegistry) Dispatch(ctx context.Context, module, name string, args []interp.Value, mem wasminterp.Memory) ([]interp.Value, error) {
	if hf, ok := r.Lookup(module, name); ok {
		return hf.Call(ctx, args, mem)
	}
	r.mu.RLock()
	d, ok := r.routes[module]
	r.mu.RUnlock()
	if !ok {
		return nil, interp.UnknownImport(module, name)
	}
	return d.Dispatch(ctx, module, name, args, mem)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	memoryType  = reflect.TypeOf((*wasminterp.Memory)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func kindForType(t reflect.Type) (interp.Kind, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return interp.KindI32, true
	case reflect.Int64, reflect.Uint64:
		return interp.KindI64, true
	case reflect.Float32:
		return interp.KindF32, true
	case reflect.Float64:
		return interp.KindF64, true
	}
	return 0, false
}

func newHostFunc(fn any) (*HostFunc, error) {
	switch raw := fn.(type) {
	case interp.HostFunc:
		return &HostFunc{Handler: fn, raw: raw}, nil
	case func(context.Context, []interp.Value, wasminterp.Memory) ([]interp.Value, error):
		return &HostFunc{Handler: fn, raw: raw}, nil
	}

	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %T", fn)
	}
	t := rv.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("variadic handler %s", t)
	}

	hf := &HostFunc{Handler: fn, fn: rv}
	in := 0
	if in < t.NumIn() && t.In(in) == contextType {
		hf.withCtx = true
		in++
	}
	if in < t.NumIn() && t.In(in) == memoryType {
		hf.withMem = true
		in++
	}
	for ; in < t.NumIn(); in++ {
		k, ok := kindForType(t.In(in))
		if !ok {
			return nil, fmt.Errorf("unsupported parameter type %s", t.In(in))
		}
		hf.Params = append(hf.Params, k)
		hf.argTypes = append(hf.argTypes, t.In(in))
	}

	out := t.NumOut()
	if out > 0 && t.Out(out-1) == errorType {
		hf.withErr = true
		out--
	}
	for n := 0; n < out; n++ {
		k, ok := kindForType(t.Out(n))
		if !ok {
			return nil, fmt.Errorf("unsupported result type %s", t.Out(n))
		}
		hf.Results = append(hf.Results, k)
	}
	return hf, nil
}

// Call converts args to the handler's Go types, calls it and converts the
// results back.
func (hf *HostFunc) Call(ctx context.Context, args []interp.Value, mem wasminterp.Memory) ([]interp.Value, error) {
	if hf.raw != nil {
		return hf.raw(ctx, args, mem)
	}
	if len(args) != len(hf.Params) {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Detail("handler takes %d arguments, got %d", len(hf.Params), len(args)).
			Build()
	}

	in := make([]reflect.Value, 0, len(args)+2)
	if hf.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	if hf.withMem {
		mv := reflect.New(memoryType).Elem()
		if mem != nil {
			mv.Set(reflect.ValueOf(mem))
		}
		in = append(in, mv)
	}
	for n, a := range args {
		if a.Kind() != hf.Params[n] {
			return nil, errors.TypeMismatch(errors.PhaseHost, []string{fmt.Sprintf("arg%d", n)},
				hf.Params[n].String(), a.Kind().String())
		}
		in = append(in, goValue(a, hf.argTypes[n]))
	}

	out := hf.fn.Call(in)
	if hf.withErr {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	results := make([]interp.Value, len(out))
	for n, v := range out {
		results[n] = wasmValue(v, hf.Results[n])
	}
	return results, nil
}

func goValue(v interp.Value, t reflect.Type) reflect.Value {
	rv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		rv.SetInt(int64(v.I32()))
	case reflect.Uint32:
		rv.SetUint(uint64(v.U32()))
	case reflect.Int64:
		rv.SetInt(v.I64())
	case reflect.Uint64:
		rv.SetUint(v.U64())
	case reflect.Float32:
		rv.SetFloat(float64(v.F32()))
	case reflect.Float64:
		rv.SetFloat(v.F64())
	}
	return rv
}

func wasmValue(v reflect.Value, k interp.Kind) interp.Value {
	switch v.Kind() {
	case reflect.Int32:
		return interp.I32(int32(v.Int()))
	case reflect.Uint32:
		return interp.I32(int32(uint32(v.Uint())))
	case reflect.Int64:
		return interp.I64(v.Int())
	case reflect.Uint64:
		return interp.I64(int64(v.Uint()))
	case reflect.Float32:
		return interp.F32(float32(v.Float()))
	case reflect.Float64:
		return interp.F64(v.Float())
	}
	return interp.Zero(k)
}

// toSnakeCase converts PascalCase to snake_case.
// Acronym runs stay one word: GetHTTPServer -> get_http_server, GetHTTPURL -> get_httpurl.
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
