package options

import "context"

// Overrides are scoped to a logical execution context, not to the process or
// an OS thread. The context.Context the caller already threads through a
// test or request is that scope: WithOverrides derives a context carrying a
// new override frame, nested calls shadow enclosing frames, and dropping the
// derived context restores the enclosing state on every exit path. Sibling
// goroutines running with their own contexts never observe each other's
// overrides.

type overrideCtxKey struct{}

type optionRef struct {
	namespace string
	key       string
}

type overrideFrame struct {
	parent *overrideFrame
	values map[optionRef]Value
}

func frameFrom(ctx context.Context) *overrideFrame {
	frame, _ := ctx.Value(overrideCtxKey{}).(*overrideFrame)
	return frame
}

// peek resolves an override by walking frames innermost-first. It performs
// no I/O and never touches the value store.
func (f *overrideFrame) peek(namespace, key string) (Value, bool) {
	ref := optionRef{namespace: namespace, key: key}
	for cur := f; cur != nil; cur = cur.parent {
		if v, ok := cur.values[ref]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// WithOverrides returns a context in which reads of the given namespace
// resolve to the supplied values ahead of the value store. The whole batch
// is validated against the schema registry before any entry takes effect:
// if one entry names an undeclared option or carries a mismatched type,
// a SchemaError is returned and none of the batch applies.
func (e *Engine) WithOverrides(ctx context.Context, namespace string, values map[string]Value) (context.Context, error) {
	for key, v := range values {
		if err := e.registry.ValidateValue(namespace, key, v); err != nil {
			return nil, err
		}
	}

	frame := &overrideFrame{
		parent: frameFrom(ctx),
		values: make(map[optionRef]Value, len(values)),
	}
	for key, v := range values {
		frame.values[optionRef{namespace: namespace, key: key}] = v
	}
	return context.WithValue(ctx, overrideCtxKey{}, frame), nil
}

// ValidateOverride checks a single candidate override without applying it.
func (e *Engine) ValidateOverride(namespace, key string, v Value) error {
	return e.registry.ValidateValue(namespace, key, v)
}

// WithOverrides applies scoped overrides through the shared engine.
func WithOverrides(ctx context.Context, namespace string, values map[string]Value) (context.Context, error) {
	engine, err := Default()
	if err != nil {
		return nil, err
	}
	return engine.WithOverrides(ctx, namespace, values)
}
