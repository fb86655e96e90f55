package openfhir

import (
	"runtime"
)

// Option configures an engine.
type Option func(*Options)

// Options holds all configuration for the translation engines.
type Options struct {
	// Composition defaults applied when building canonical compositions
	DefaultLanguage  string
	DefaultTerritory string
	DefaultComposer  string

	// Mapping load behaviour
	StrictAppend bool

	// Performance
	WorkerCount   int
	EnablePooling bool

	// Cache sizes
	TemplateCacheSize   int
	ExpressionCacheSize int
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		DefaultLanguage:  "en",
		DefaultTerritory: "DE",
		DefaultComposer:  "openFHIR",

		StrictAppend: false,

		WorkerCount:   runtime.NumCPU(),
		EnablePooling: true,

		TemplateCacheSize:   128,
		ExpressionCacheSize: 2000,
	}
}

// Apply applies opts on top of o and returns o.
func (o *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- Composition Options ---

// WithDefaultLanguage sets the ISO 639-1 language code of created compositions.
func WithDefaultLanguage(code string) Option {
	return func(o *Options) {
		if code != "" {
			o.DefaultLanguage = code
		}
	}
}

// WithDefaultTerritory sets the ISO 3166-1 territory code of created compositions.
func WithDefaultTerritory(code string) Option {
	return func(o *Options) {
		if code != "" {
			o.DefaultTerritory = code
		}
	}
}

// WithDefaultComposer sets the composer name of created compositions.
func WithDefaultComposer(name string) Option {
	return func(o *Options) {
		o.DefaultComposer = name
	}
}

// --- Mapping Options ---

// WithStrictAppend turns APPEND extensions whose appendTo target does not
// exist into a load error instead of a warning.
func WithStrictAppend(enable bool) Option {
	return func(o *Options) {
		o.StrictAppend = enable
	}
}

// --- Performance Options ---

// WithWorkerCount sets the number of workers for batch translation.
// Defaults to runtime.NumCPU().
func WithWorkerCount(count int) Option {
	return func(o *Options) {
		if count > 0 {
			o.WorkerCount = count
		}
	}
}

// WithPooling enables or disables object pooling.
// Pooling reduces GC pressure but requires calling Release() on results.
func WithPooling(enable bool) Option {
	return func(o *Options) {
		o.EnablePooling = enable
	}
}

// --- Cache Options ---

// WithTemplateCacheSize sets how many prepared templates are kept.
func WithTemplateCacheSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.TemplateCacheSize = size
		}
	}
}

// WithExpressionCache sets the FHIRPath expression cache size.
func WithExpressionCache(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ExpressionCacheSize = size
		}
	}
}
