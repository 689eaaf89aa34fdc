package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-interp/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.Name != "interp" || cfg.Limits.MaxCallDepth != 1000 || cfg.Limits.MaxMemoryPages != 65535 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Level() != zapcore.InfoLevel {
		t.Errorf("Level() = %v", cfg.Level())
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "run.toml", `
[engine]
name = "wazero"
lazy-imports = true

[limits]
max-call-depth = 64
max-instructions = 1000000

[wasi]
args = ["prog", "-v"]
env = { HOME = "/home/me" }

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Name != "wazero" || !cfg.Engine.LazyImports {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Limits.MaxCallDepth != 64 || cfg.Limits.MaxInstructions != 1000000 {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if cfg.Limits.MaxMemoryPages != 65535 {
		t.Errorf("unset max-memory-pages lost its default: %d", cfg.Limits.MaxMemoryPages)
	}
	if len(cfg.WASI.Args) != 2 || cfg.WASI.Env["HOME"] != "/home/me" || !cfg.WASI.Enabled {
		t.Errorf("wasi = %+v", cfg.WASI)
	}
	if cfg.Level() != zapcore.DebugLevel {
		t.Errorf("level = %v", cfg.Level())
	}
	if !filepath.IsAbs(cfg.Path) {
		t.Errorf("Path = %q, want absolute", cfg.Path)
	}

	ic := cfg.InterpConfig()
	if ic.MaxCallDepth != 64 || ic.MaxInstructions != 1000000 || !ic.LazyImports {
		t.Errorf("InterpConfig() = %+v", ic)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "run.yaml", `
engine:
  name: interp
limits:
  max-memory-pages: 16
wasi:
  enabled: false
log:
  level: warn
  no-color: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Limits.MaxMemoryPages != 16 || cfg.WASI.Enabled || !cfg.Log.NoColor {
		t.Errorf("cfg = %+v", cfg)
	}

	empty := writeFile(t, "empty.yml", "")
	if _, err := Load(empty); err != nil {
		t.Errorf("empty YAML: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		kind errors.Kind
	}{
		{"unknown toml key", "a.toml", "[engine]\nturbo = true\n", errors.KindInvalidData},
		{"unknown yaml key", "a.yaml", "engine:\n  turbo: true\n", errors.KindInvalidData},
		{"bad toml", "a.toml", "[engine\n", errors.KindInvalidData},
		{"bad engine", "a.toml", "[engine]\nname = \"v8\"\n", errors.KindInvalidInput},
		{"zero depth", "a.yaml", "limits:\n  max-call-depth: 0\n", errors.KindInvalidInput},
		{"too many pages", "a.toml", "[limits]\nmax-memory-pages = 70000\n", errors.KindInvalidInput},
		{"bad level", "a.toml", "[log]\nlevel = \"loud\"\n", errors.KindInvalidInput},
		{"bad env", "a.yaml", "wasi:\n  env:\n    \"A=B\": c\n", errors.KindInvalidInput},
		{"unknown format", "a.json", "{}", errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			if !errors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: tt.kind}) {
				t.Errorf("err = %v, want %s", err, tt.kind)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindNotFound}) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}
