// Package config loads run settings from TOML or YAML files.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
)

// Config is the file representation of a run.
type Config struct {
	Engine Engine `toml:"engine" yaml:"engine"`
	Limits Limits `toml:"limits" yaml:"limits"`
	WASI   WASI   `toml:"wasi" yaml:"wasi"`
	Log    Log    `toml:"log" yaml:"log"`

	// Path is the file the config was loaded from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Engine selects the backend.
type Engine struct {
	Name        string `toml:"name" yaml:"name"`
	LazyImports bool   `toml:"lazy-imports" yaml:"lazy-imports"`
}

// Limits bound a single instance. Zero MaxInstructions means unlimited.
type Limits struct {
	MaxCallDepth    int    `toml:"max-call-depth" yaml:"max-call-depth"`
	MaxInstructions uint64 `toml:"max-instructions" yaml:"max-instructions"`
	MaxMemoryPages  uint32 `toml:"max-memory-pages" yaml:"max-memory-pages"`
}

// WASI configures the preview1 environment.
type WASI struct {
	Enabled bool              `toml:"enabled" yaml:"enabled"`
	Args    []string          `toml:"args" yaml:"args"`
	Env     map[string]string `toml:"env" yaml:"env"`
}

// Log configures CLI output.
type Log struct {
	Level   string `toml:"level" yaml:"level"`
	NoColor bool   `toml:"no-color" yaml:"no-color"`
}

var engines = map[string]bool{"interp": true, "wazero": true}

// Default returns the configuration used when no file is given.
func Default() *Config {
	d := interp.DefaultConfig()
	return &Config{
		Engine: Engine{Name: "interp"},
		Limits: Limits{
			MaxCallDepth:   d.MaxCallDepth,
			MaxMemoryPages: d.MaxMemoryPages,
		},
		WASI: WASI{Enabled: true},
		Log:  Log{Level: "info"},
	}
}

// Load reads path, choosing the format by extension (.toml, .yaml, .yml).
// Keys absent from the file keep their defaults; unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Path(path).
			Cause(err).
			Detail("cannot read %s", path).
			Build()
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = decodeTOML(data, cfg)
	case ".yaml", ".yml":
		err = decodeYAML(data, cfg)
	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unsupported config format %q", ext))
	}
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path(path).
			Cause(err).
			Detail("parse error in %s: %v", path, err).
			Build()
	}

	if cfg.Path, err = filepath.Abs(path); err != nil {
		cfg.Path = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks values that decoding alone cannot.
func (c *Config) Validate() error {
	invalid := func(path ...string) *errors.Builder {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Path(path...)
	}

	if !engines[c.Engine.Name] {
		return invalid("engine", "name").Value(c.Engine.Name).
			Detail("engine must be interp or wazero, got %q", c.Engine.Name).Build()
	}
	if c.Limits.MaxCallDepth <= 0 {
		return invalid("limits", "max-call-depth").Value(c.Limits.MaxCallDepth).
			Detail("max-call-depth must be positive").Build()
	}
	if c.Limits.MaxMemoryPages == 0 || c.Limits.MaxMemoryPages > 65535 {
		return invalid("limits", "max-memory-pages").Value(c.Limits.MaxMemoryPages).
			Detail("max-memory-pages must be between 1 and 65535").Build()
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log", "level").Value(c.Log.Level).Cause(err).
			Detail("unknown log level %q", c.Log.Level).Build()
	}
	for k := range c.WASI.Env {
		if k == "" || strings.Contains(k, "=") {
			return invalid("wasi", "env").Value(k).
				Detail("invalid environment variable name %q", k).Build()
		}
	}
	return nil
}

// Level returns the parsed log level. Validate must have succeeded.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// InterpConfig converts the limits to interpreter options.
func (c *Config) InterpConfig() interp.Config {
	cfg := interp.DefaultConfig()
	cfg.MaxCallDepth = c.Limits.MaxCallDepth
	cfg.MaxInstructions = c.Limits.MaxInstructions
	cfg.MaxMemoryPages = c.Limits.MaxMemoryPages
	cfg.LazyImports = c.Engine.LazyImports
	return cfg
}
