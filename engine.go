package options

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger *zap.Logger
}

// WithLogger attaches a structured logger for reload and feature evaluation
// diagnostics. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = logger
	}
}

func applyOptions(opts []Option) engineConfig {
	cfg := engineConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Engine is the resolution engine: the schema registry plus one value store
// per namespace. It owns no goroutines; all freshness checks happen inline
// on the calling goroutine, and concurrent reads are safe.
type Engine struct {
	registry *SchemaRegistry
	stores   map[string]*namespaceStore
	logger   *zap.Logger
}

// NewEngine builds an engine over an already loaded registry, reading each
// namespace's values from valuesDir/<namespace>/values.json. A missing
// artifact leaves the namespace on schema defaults; a malformed one fails
// construction.
func NewEngine(registry *SchemaRegistry, valuesDir string, opts ...Option) (*Engine, error) {
	cfg := applyOptions(opts)

	stores := make(map[string]*namespaceStore, len(registry.schemas))
	for name, schema := range registry.schemas {
		path := filepath.Join(valuesDir, name, "values.json")
		store, err := newNamespaceStore(name, path, schema, cfg.logger)
		if err != nil {
			return nil, err
		}
		stores[name] = store
	}

	return &Engine{
		registry: registry,
		stores:   stores,
		logger:   cfg.logger,
	}, nil
}

// FromDirectory loads an engine from a layout of dir/schemas/<namespace>/
// schema.json and dir/values/<namespace>/values.json.
func FromDirectory(dir string, opts ...Option) (*Engine, error) {
	registry, err := LoadSchemas(filepath.Join(dir, "schemas"))
	if err != nil {
		return nil, err
	}
	return NewEngine(registry, filepath.Join(dir, "values"), opts...)
}

// Registry exposes the engine's schema registry.
func (e *Engine) Registry() *SchemaRegistry {
	return e.registry
}

// Get resolves (namespace, key) to its current value: a scoped override if
// one is in effect on ctx, otherwise the stored value, otherwise the schema
// default. The returned value always matches the declared type; a stored or
// overridden value of the wrong shape is a SchemaError.
func (e *Engine) Get(ctx context.Context, namespace, key string) (Value, error) {
	def, err := e.registry.Lookup(namespace, key)
	if err != nil {
		return Value{}, err
	}

	if frame := frameFrom(ctx); frame != nil {
		if v, ok := frame.peek(namespace, key); ok {
			if err := def.Check(namespace, v); err != nil {
				return Value{}, err
			}
			return v, nil
		}
	}

	v, stored := e.stores[namespace].getRaw(key, def)
	if stored {
		if err := def.Check(namespace, v); err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

// IsSet reports whether the artifact currently stores a value for key, as
// opposed to the schema default being served. Overrides do not count.
func (e *Engine) IsSet(namespace, key string) (bool, error) {
	if _, err := e.registry.Lookup(namespace, key); err != nil {
		return false, err
	}
	return e.stores[namespace].isSet(key), nil
}

// Options returns a handle bound to one namespace.
func (e *Engine) Options(namespace string) *NamespaceOptions {
	return &NamespaceOptions{namespace: namespace, engine: e}
}

// Features returns a feature flag checker bound to one namespace.
func (e *Engine) Features(namespace string) *FeatureChecker {
	return &FeatureChecker{namespace: namespace, engine: e}
}

// NamespaceOptions reads options within a fixed namespace.
type NamespaceOptions struct {
	namespace string
	engine    *Engine
}

// Get resolves a key within the bound namespace.
func (n *NamespaceOptions) Get(ctx context.Context, key string) (Value, error) {
	return n.engine.Get(ctx, n.namespace, key)
}

// IsSet reports whether a key has a stored value within the bound namespace.
func (n *NamespaceOptions) IsSet(key string) (bool, error) {
	return n.engine.IsSet(n.namespace, key)
}

// FeatureChecker evaluates feature flags within a fixed namespace.
type FeatureChecker struct {
	namespace string
	engine    *Engine
}

// Has evaluates a flag against the given context.
func (f *FeatureChecker) Has(ctx context.Context, flag string, ectx *EvaluationContext) (bool, error) {
	return f.engine.Has(ctx, f.namespace, flag, ectx)
}

// The process-wide engine. It is an explicit, observable singleton:
// Initialize sets it exactly once, a second attempt fails, and reads
// before initialization fail rather than loading implicitly.
var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// resolveOptionsDir picks the artifact directory for the shared engine:
// the SENTRY_OPTIONS_DIR environment variable, then /etc/sentry-options if
// present, otherwise sentry-options/ relative to the working directory.
func resolveOptionsDir() string {
	if dir := os.Getenv("SENTRY_OPTIONS_DIR"); dir != "" {
		return dir
	}
	if info, err := os.Stat("/etc/sentry-options"); err == nil && info.IsDir() {
		return "/etc/sentry-options"
	}
	return "sentry-options"
}

// Initialize loads the shared engine from the resolved options directory.
func Initialize(opts ...Option) error {
	return InitializeFromDirectory(resolveOptionsDir(), opts...)
}

// InitializeFromDirectory loads the shared engine from a specific directory.
// Calling it again after a successful initialization returns an
// InitializationError: divergent schema state within one process is worse
// than failing loudly.
func InitializeFromDirectory(dir string, opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine != nil {
		return &InitializationError{Message: "already initialized"}
	}
	engine, err := FromDirectory(dir, opts...)
	if err != nil {
		return err
	}
	defaultEngine = engine
	return nil
}

// Default returns the shared engine, or an InitializationError when
// Initialize has not been called.
func Default() (*Engine, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine == nil {
		return nil, &InitializationError{Message: "not initialized, call Initialize first"}
	}
	return defaultEngine, nil
}

// resetDefault clears the shared engine. Test use only.
func resetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultEngine = nil
}

// Options returns a namespace handle on the shared engine.
func Options(namespace string) (*NamespaceOptions, error) {
	engine, err := Default()
	if err != nil {
		return nil, err
	}
	return engine.Options(namespace), nil
}

// Features returns a feature checker on the shared engine.
func Features(namespace string) (*FeatureChecker, error) {
	engine, err := Default()
	if err != nil {
		return nil, err
	}
	return engine.Features(namespace), nil
}

// Get resolves an option through the shared engine.
func Get(ctx context.Context, namespace, key string) (Value, error) {
	engine, err := Default()
	if err != nil {
		return Value{}, err
	}
	return engine.Get(ctx, namespace, key)
}

// Has evaluates a feature flag through the shared engine.
func Has(ctx context.Context, namespace, flag string, ectx *EvaluationContext) (bool, error) {
	engine, err := Default()
	if err != nil {
		return false, err
	}
	return engine.Has(ctx, namespace, flag, ectx)
}
