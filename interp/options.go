package interp

import (
	"go.uber.org/zap"
)

// Config controls resource limits of an Instance.
type Config struct {
	Logger *zap.Logger

	// MaxCallDepth bounds the number of simultaneously active frames.
	// Exceeding it traps with KindCallStackExhausted.
	MaxCallDepth int

	// MaxInstructions bounds the instructions a single invocation may
	// execute. Zero means unlimited.
	MaxInstructions uint64

	// MaxMemoryPages caps linear memory growth below the module's own
	// declared maximum.
	MaxMemoryPages uint32

	// LazyImports skips the instantiation-time import check, so unserved
	// imports only surface when first called.
	LazyImports bool
}

// DefaultConfig returns the limits used when no options are given.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth:   1000,
		MaxMemoryPages: maxAddressablePages,
	}
}

// Option configures an Instance.
type Option func(*Config)

// WithMaxCallDepth sets the maximum number of active frames.
func WithMaxCallDepth(n int) Option {
	return func(c *Config) { c.MaxCallDepth = n }
}

// WithMaxInstructions sets a per-invocation instruction budget (0 = unlimited).
func WithMaxInstructions(n uint64) Option {
	return func(c *Config) { c.MaxInstructions = n }
}

// WithMaxMemoryPages caps linear memory at n pages.
func WithMaxMemoryPages(n uint32) Option {
	return func(c *Config) { c.MaxMemoryPages = n }
}

// WithLogger sets the logger used for instance diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithLazyImports defers unserved-import detection to the first call.
func WithLazyImports(lazy bool) Option {
	return func(c *Config) { c.LazyImports = lazy }
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

func buildConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultConfig().MaxCallDepth
	}
	if cfg.MaxMemoryPages == 0 || cfg.MaxMemoryPages > maxAddressablePages {
		cfg.MaxMemoryPages = maxAddressablePages
	}
	if cfg.Logger == nil {
		cfg.Logger = Logger()
	}
	return cfg
}
