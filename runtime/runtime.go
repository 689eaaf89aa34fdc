package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/wasm"
)

// Backend selects what executes loaded modules.
type Backend int

const (
	// BackendInterpreter runs modules on the interp package.
	BackendInterpreter Backend = iota
	// BackendWazero runs modules on wazero through the engine package.
	BackendWazero
)

func (b Backend) String() string {
	switch b {
	case BackendInterpreter:
		return "interp"
	case BackendWazero:
		return "wazero"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend maps the names used by configuration files and the CLI.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "", "interp", "interpreter":
		return BackendInterpreter, nil
	case "wazero":
		return BackendWazero, nil
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown engine %q", name))
}

type options struct {
	log     *zap.Logger
	interp  []interp.Option
	backend Backend
	limits  interp.Config
}

// Option configures a Runtime.
type Option func(*options)

// WithBackend selects the execution backend. The default is the interpreter.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLogger sets the logger shared by the runtime and its instances.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLimits applies call depth, instruction and memory limits. The wazero
// backend honors only MaxMemoryPages and LazyImports.
func WithLimits(cfg interp.Config) Option {
	return func(o *options) { o.limits = cfg }
}

// WithInterpreterOptions passes extra options to every interpreter
// instance, applied after WithLimits.
func WithInterpreterOptions(opts ...interp.Option) Option {
	return func(o *options) { o.interp = append(o.interp, opts...) }
}

type Runtime struct {
	engine *engine.WazeroEngine
	hosts  *HostRegistry
	log    *zap.Logger
	opts   options
}

func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := options{limits: interp.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = interp.Logger()
	}
	o.limits.Logger = o.log

	r := &Runtime{hosts: NewHostRegistry(), log: o.log, opts: o}
	switch o.backend {
	case BackendInterpreter:
	case BackendWazero:
		eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
			Logger:           o.log,
			MemoryLimitPages: o.limits.MaxMemoryPages,
			LazyImports:      o.limits.LazyImports,
		})
		if err != nil {
			return nil, errors.Load("create engine", err)
		}
		r.engine = eng
	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, "unknown backend "+o.backend.String())
	}
	return r, nil
}

// Backend reports which backend the runtime executes on.
func (r *Runtime) Backend() Backend {
	return r.opts.backend
}

// Close releases all runtime resources.
// All instances must be closed before calling this.
func (r *Runtime) Close(ctx context.Context) error {
	if r.engine == nil {
		return nil
	}
	return r.engine.Close(ctx)
}

// RegisterHost registers all exported methods of h as host functions.
// Method names are converted from PascalCase to snake_case (GetValue -> get_value).
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

func (r *Runtime) RegisterFunc(namespace, name string, fn any) error {
	return r.hosts.RegisterFunc(namespace, name, fn)
}

// RegisterDispatcher routes every import of namespace not served by a
// registered function to d.
func (r *Runtime) RegisterDispatcher(namespace string, d interp.ImportDispatcher) error {
	return r.hosts.RegisterDispatcher(namespace, d)
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// Load decodes and validates a core WebAssembly module.
func (r *Runtime) Load(ctx context.Context, data []byte) (*Module, error) {
	parsed, err := wasm.ParseModuleValidate(data)
	if err != nil {
		return nil, errors.Load("parse module", err)
	}

	m := &Module{runtime: r, parsed: parsed}
	if r.engine != nil {
		if m.wazero, err = r.engine.LoadModule(ctx, data); err != nil {
			return nil, err
		}
	}
	r.log.Debug("module loaded",
		zap.Stringer("backend", r.opts.backend),
		zap.Int("bytes", len(data)),
		zap.Int("imports", len(parsed.Imports)),
		zap.Int("exports", len(parsed.Exports)))
	return m, nil
}

func (r *Runtime) interpOptions() []interp.Option {
	return append([]interp.Option{interp.WithConfig(r.opts.limits)}, r.opts.interp...)
}
