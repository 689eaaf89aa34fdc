package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/config"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
	"github.com/wippyai/wasm-interp/runtime"
	"github.com/wippyai/wasm-interp/wasi/preview1"
)

type flags struct {
	wasmFile    string
	funcName    string
	args        string
	argv        string
	env         string
	engine      string
	configPath  string
	snapshot    string
	maxDepth    int
	maxSteps    uint64
	list        bool
	interactive bool
	debug       bool
	noColor     bool
}

func main() {
	var f flags
	flag.StringVar(&f.wasmFile, "wasm", "", "Path to core wasm module")
	flag.StringVar(&f.funcName, "func", "", "Function to call (optional)")
	flag.StringVar(&f.args, "args", "", "Call arguments (i32:2,i64:3,f64:1.5)")
	flag.StringVar(&f.argv, "argv", "", "WASI CLI arguments (comma-separated)")
	flag.StringVar(&f.env, "env", "", "WASI environment variables (KEY=VAL,KEY2=VAL2)")
	flag.StringVar(&f.engine, "engine", "", "Execution engine: interp or wazero")
	flag.StringVar(&f.configPath, "config", "", "Config file (.toml, .yaml)")
	flag.StringVar(&f.snapshot, "snapshot", "", "Write a CBOR instance snapshot after the call (interp only)")
	flag.IntVar(&f.maxDepth, "max-depth", 0, "Maximum call depth")
	flag.Uint64Var(&f.maxSteps, "max-steps", 0, "Maximum instructions per call (0 = unlimited)")
	flag.BoolVar(&f.list, "list", false, "List imports and exported functions and exit")
	flag.BoolVar(&f.interactive, "i", false, "Step through the call in a TUI (interp only)")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	flag.Parse()

	if f.wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-func name] [-args i32:2,i32:3] [-argv a,b] [-env K=V,...]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -func name -i  (step debugger)")
		os.Exit(1)
	}

	cfg, err := loadConfig(&f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	zlog := initLogger(cfg, f.debug)
	defer func() { _ = zlog.Sync() }()

	code, err := run(context.Background(), &f, cfg, zlog)
	if err != nil {
		log.Error("run failed", "err", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

// loadConfig merges the config file, if any, with command-line overrides.
func loadConfig(f *flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	if f.engine != "" {
		cfg.Engine.Name = f.engine
	}
	if f.maxDepth != 0 {
		cfg.Limits.MaxCallDepth = f.maxDepth
	}
	if f.maxSteps != 0 {
		cfg.Limits.MaxInstructions = f.maxSteps
	}
	if f.argv != "" {
		cfg.WASI.Args = strings.Split(f.argv, ",")
	}
	if f.env != "" {
		env, err := parseEnv(f.env)
		if err != nil {
			return nil, err
		}
		if cfg.WASI.Env == nil {
			cfg.WASI.Env = make(map[string]string)
		}
		for k, v := range env {
			cfg.WASI.Env[k] = v
		}
	}
	if f.noColor {
		cfg.Log.NoColor = true
	}
	if f.debug {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func parseEnv(s string) (map[string]string, error) {
	env := make(map[string]string)
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("bad -env entry %q, want KEY=VAL", kv))
		}
		env[k] = v
	}
	return env, nil
}

func parseArgs(s string) ([]interp.Value, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	args := make([]interp.Value, len(parts))
	for i, p := range parts {
		v, err := interp.ParseValue(p)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// run returns the process exit code alongside any error. A guest that calls
// proc_exit yields its status and no error.
func run(ctx context.Context, f *flags, cfg *config.Config, zlog *zap.Logger) (int, error) {
	data, err := os.ReadFile(f.wasmFile)
	if err != nil {
		return 1, fmt.Errorf("read file: %w", err)
	}

	backend, err := runtime.ParseBackend(cfg.Engine.Name)
	if err != nil {
		return 1, err
	}
	if (f.interactive || f.snapshot != "") && backend != runtime.BackendInterpreter {
		return 1, errors.InvalidInput(errors.PhaseConfig, "-i and -snapshot require the interp engine")
	}

	rt, err := runtime.New(ctx,
		runtime.WithBackend(backend),
		runtime.WithLogger(zlog),
		runtime.WithLimits(cfg.InterpConfig()))
	if err != nil {
		return 1, fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	mod, err := rt.Load(ctx, data)
	if err != nil {
		return 1, fmt.Errorf("load module: %w", err)
	}

	if f.list {
		printModule(f.wasmFile, mod)
		return 0, nil
	}

	var wasi *preview1.WASI
	if cfg.WASI.Enabled {
		argv := cfg.WASI.Args
		if len(argv) == 0 {
			argv = []string{filepath.Base(f.wasmFile)}
		}
		wasi = preview1.New().
			WithArgs(argv).
			WithEnv(cfg.WASI.Env).
			WithStdin(os.Stdin)
		if !f.interactive {
			wasi.WithStdout(os.Stdout).WithStderr(os.Stderr)
		}
		if err := rt.RegisterWASI(wasi); err != nil {
			return 1, fmt.Errorf("register WASI: %w", err)
		}
	}

	args, err := parseArgs(f.args)
	if err != nil {
		return 1, err
	}

	inst, err := mod.Instantiate(ctx, nil)
	if err != nil {
		return 1, fmt.Errorf("instantiate: %w", err)
	}
	defer inst.Close(ctx)

	funcName := f.funcName
	if funcName == "" {
		if funcName = entryPoint(inst.Exports()); funcName == "" {
			log.Warn("no function specified and no common entry point found; use -func")
			return 1, nil
		}
	}

	if f.interactive {
		err = runInteractive(ctx, inst.Interpreter(), funcName, args, wasi)
		return exitCode(err), writeSnapshot(f.snapshot, inst.Interpreter(), err)
	}

	log.Debug("calling", "func", funcName, "args", len(args), "engine", backend)
	results, err := inst.Call(ctx, funcName, args...)
	if serr := writeSnapshot(f.snapshot, inst.Interpreter(), nil); serr != nil {
		log.Error("snapshot failed", "err", serr)
	}
	if err != nil {
		return exitCode(err), nonExit(err)
	}
	for _, r := range results {
		fmt.Println(r)
	}
	return 0, nil
}

// entryPoint picks the function to run when -func is omitted.
func entryPoint(exports []interp.Export) string {
	for _, name := range []string{"_start", "main", "run"} {
		for _, e := range exports {
			if e.Name == name {
				return name
			}
		}
	}
	if len(exports) == 1 {
		return exports[0].Name
	}
	return ""
}

func exitCode(err error) int {
	var exit *preview1.ExitError
	if errors.As(err, &exit) {
		return int(exit.Code)
	}
	if err != nil {
		return 1
	}
	return 0
}

func nonExit(err error) error {
	var exit *preview1.ExitError
	if errors.As(err, &exit) {
		return nil
	}
	return err
}

func writeSnapshot(path string, inst *interp.Instance, prior error) error {
	if path == "" || inst == nil {
		return nonExit(prior)
	}
	data, err := interp.EncodeSnapshot(inst.Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	log.Info("snapshot written", "path", path, "bytes", len(data))
	return nonExit(prior)
}

func printModule(path string, mod *runtime.Module) {
	fmt.Printf("Module: %s\n", path)
	if imports := mod.Imports(); len(imports) > 0 {
		fmt.Printf("\nImports:\n")
		for _, name := range imports {
			fmt.Printf("  %s\n", name)
		}
	}
	fmt.Printf("\nExported functions:\n")
	for _, e := range mod.Exports() {
		fmt.Printf("  %s\n", signature(e))
	}
}

func signature(e interp.Export) string {
	params := make([]string, len(e.Params))
	for i, k := range e.Params {
		params[i] = k.String()
	}
	s := e.Name + "(" + strings.Join(params, ", ") + ")"
	switch len(e.Results) {
	case 0:
	case 1:
		s += " -> " + e.Results[0].String()
	default:
		results := make([]string, len(e.Results))
		for i, k := range e.Results {
			results[i] = k.String()
		}
		s += " -> (" + strings.Join(results, ", ") + ")"
	}
	return s
}
