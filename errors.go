package options

import (
	"errors"
	"fmt"
)

// ErrOptions is the base of the error taxonomy. Every error surfaced by this
// package matches it under errors.Is, so callers can treat the taxonomy as a
// single family without enumerating the concrete kinds.
var ErrOptions = errors.New("options error")

// InitializationError reports lifecycle misuse: initializing the shared
// engine twice, or reading through it before any initialization.
type InitializationError struct {
	Message string
}

func (e *InitializationError) Error() string {
	return "options: " + e.Message
}

func (e *InitializationError) Is(target error) bool {
	return target == ErrOptions
}

// UnknownNamespaceError reports a namespace absent from the schema registry.
type UnknownNamespaceError struct {
	Namespace string
}

func (e *UnknownNamespaceError) Error() string {
	return fmt.Sprintf("options: unknown namespace %q", e.Namespace)
}

func (e *UnknownNamespaceError) Is(target error) bool {
	return target == ErrOptions
}

// UnknownOptionError reports a key absent from a known namespace's schema.
type UnknownOptionError struct {
	Namespace string
	Key       string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("options: unknown option %q in namespace %q", e.Key, e.Namespace)
}

func (e *UnknownOptionError) Is(target error) bool {
	return target == ErrOptions
}

// SchemaError reports a structurally invalid schema source, or a value
// (stored, overridden, or supplied at load time) that does not match its
// declared type.
type SchemaError struct {
	Namespace string
	Key       string
	Message   string
	Err       error
}

func (e *SchemaError) Error() string {
	switch {
	case e.Namespace != "" && e.Key != "":
		return fmt.Sprintf("options: schema error for %s.%s: %s", e.Namespace, e.Key, e.Message)
	case e.Namespace != "":
		return fmt.Sprintf("options: schema error in namespace %q: %s", e.Namespace, e.Message)
	}
	return "options: schema error: " + e.Message
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrOptions
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErrorf(namespace, key, format string, args ...any) *SchemaError {
	return &SchemaError{
		Namespace: namespace,
		Key:       key,
		Message:   fmt.Sprintf(format, args...),
	}
}
