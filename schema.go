package options

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// OptionType is a schema type tag.
type OptionType string

const (
	TypeString  OptionType = "string"
	TypeInteger OptionType = "integer"
	TypeNumber  OptionType = "number"
	TypeBoolean OptionType = "boolean"
	TypeArray   OptionType = "array"
	TypeObject  OptionType = "object"
)

func (t OptionType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// OptionDefinition declares one option: its key, type, and default. A key has
// exactly one definition per namespace and definitions never change after
// load.
type OptionDefinition struct {
	Key         string
	Type        OptionType
	Items       OptionType // element type for arrays, empty otherwise
	Default     Value
	Description string
}

// Check validates a value against the definition's declared type.
func (d *OptionDefinition) Check(namespace string, v Value) error {
	if err := checkType(d.Type, d.Items, v); err != nil {
		return schemaErrorf(namespace, d.Key, "value of kind %s is %s", v.Kind(), err)
	}
	return nil
}

func checkType(t, items OptionType, v Value) error {
	ok := false
	switch t {
	case TypeString:
		ok = v.Kind() == KindString
	case TypeInteger:
		ok = v.Kind() == KindInt
	case TypeNumber:
		ok = v.Kind() == KindInt || v.Kind() == KindFloat
	case TypeBoolean:
		ok = v.Kind() == KindBool
	case TypeObject:
		ok = v.Kind() == KindObject
	case TypeArray:
		if v.Kind() != KindList {
			break
		}
		if items != "" {
			list, _ := v.AsList()
			for _, item := range list {
				if err := checkType(items, "", item); err != nil {
					return fmt.Errorf("not of type %q: element %s", t, err)
				}
			}
		}
		ok = true
	}
	if !ok {
		return fmt.Errorf("not of type %q", t)
	}
	return nil
}

// NamespaceSchema is the set of option definitions for one namespace.
type NamespaceSchema struct {
	Name    string
	Version string

	defs map[string]*OptionDefinition
}

// Definition returns the definition for key, if declared.
func (s *NamespaceSchema) Definition(key string) (*OptionDefinition, bool) {
	def, ok := s.defs[key]
	return def, ok
}

// Keys lists the declared option keys in sorted order.
func (s *NamespaceSchema) Keys() []string {
	keys := make([]string, 0, len(s.defs))
	for k := range s.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Wire shapes of a schema document. Defaults stay raw until the declared
// type is known so the integer/float distinction survives decoding.
type schemaDoc struct {
	Version    string                 `json:"version"`
	Properties map[string]propertyDoc `json:"properties"`
}

type propertyDoc struct {
	Type        string          `json:"type"`
	Default     json.RawMessage `json:"default"`
	Description string          `json:"description"`
	Items       *itemsDoc       `json:"items"`
}

type itemsDoc struct {
	Type string `json:"type"`
}

// ParseSchema decodes and validates a single namespace schema document.
func ParseSchema(namespace string, data []byte) (*NamespaceSchema, error) {
	var doc schemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &SchemaError{Namespace: namespace, Message: "schema document must be a JSON object", Err: err}
	}
	if doc.Version == "" {
		return nil, schemaErrorf(namespace, "", "missing required %q field", "version")
	}
	if doc.Properties == nil {
		return nil, schemaErrorf(namespace, "", "missing required %q field", "properties")
	}

	schema := &NamespaceSchema{
		Name:    namespace,
		Version: doc.Version,
		defs:    make(map[string]*OptionDefinition, len(doc.Properties)),
	}
	for key, prop := range doc.Properties {
		def, err := parseDefinition(namespace, key, prop)
		if err != nil {
			return nil, err
		}
		schema.defs[key] = def
	}
	return schema, nil
}

func parseDefinition(namespace, key string, prop propertyDoc) (*OptionDefinition, error) {
	t := OptionType(prop.Type)
	if !t.valid() {
		return nil, schemaErrorf(namespace, key, "unsupported type %q", prop.Type)
	}
	var items OptionType
	if prop.Items != nil {
		items = OptionType(prop.Items.Type)
		if !items.valid() {
			return nil, schemaErrorf(namespace, key, "unsupported array item type %q", prop.Items.Type)
		}
	}
	if len(prop.Default) == 0 {
		return nil, schemaErrorf(namespace, key, "missing required %q field", "default")
	}
	def, err := decodeJSONValue(prop.Default)
	if err != nil {
		return nil, &SchemaError{Namespace: namespace, Key: key, Message: "invalid default value", Err: err}
	}

	definition := &OptionDefinition{
		Key:         key,
		Type:        t,
		Items:       items,
		Default:     def,
		Description: prop.Description,
	}
	if err := checkType(t, items, def); err != nil {
		return nil, schemaErrorf(namespace, key, "default of kind %s is %s", def.Kind(), err)
	}
	return definition, nil
}

// SchemaRegistry holds the schemas of every known namespace. It is read-only
// after construction and safe for concurrent use.
type SchemaRegistry struct {
	schemas map[string]*NamespaceSchema
}

// NewSchemaRegistry builds a registry from parsed schemas, rejecting
// duplicate namespace declarations.
func NewSchemaRegistry(schemas ...*NamespaceSchema) (*SchemaRegistry, error) {
	reg := &SchemaRegistry{schemas: make(map[string]*NamespaceSchema, len(schemas))}
	for _, schema := range schemas {
		if _, ok := reg.schemas[schema.Name]; ok {
			return nil, schemaErrorf(schema.Name, "", "namespace declared twice")
		}
		reg.schemas[schema.Name] = schema
	}
	return reg, nil
}

// LoadSchemas reads every dir/<namespace>/schema.json document under dir into
// a registry. Subdirectories without a schema.json are skipped.
func LoadSchemas(dir string) (*SchemaRegistry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &SchemaError{Message: fmt.Sprintf("reading schemas directory %s", dir), Err: err}
	}

	var schemas []*NamespaceSchema
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "schema.json")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, &SchemaError{Namespace: entry.Name(), Message: fmt.Sprintf("reading %s", path), Err: err}
		}
		schema, err := ParseSchema(entry.Name(), data)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return NewSchemaRegistry(schemas...)
}

// Namespace returns the schema for a namespace, if registered.
func (r *SchemaRegistry) Namespace(namespace string) (*NamespaceSchema, bool) {
	schema, ok := r.schemas[namespace]
	return schema, ok
}

// Namespaces lists the registered namespaces in sorted order.
func (r *SchemaRegistry) Namespaces() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves the definition for (namespace, key).
func (r *SchemaRegistry) Lookup(namespace, key string) (*OptionDefinition, error) {
	schema, ok := r.schemas[namespace]
	if !ok {
		return nil, &UnknownNamespaceError{Namespace: namespace}
	}
	def, ok := schema.defs[key]
	if !ok {
		return nil, &UnknownOptionError{Namespace: namespace, Key: key}
	}
	return def, nil
}

// ValidateValue checks a candidate value for (namespace, key) against its
// definition without touching any stored state.
//
// Unlike Lookup, an undeclared key reports a SchemaError rather than an
// UnknownOptionError: this is the validation surface used by the override
// layer, and override validation failures are schema failures.
func (r *SchemaRegistry) ValidateValue(namespace, key string, v Value) error {
	schema, ok := r.schemas[namespace]
	if !ok {
		return &UnknownNamespaceError{Namespace: namespace}
	}
	def, ok := schema.defs[key]
	if !ok {
		return schemaErrorf(namespace, key, "unknown option (not declared in schema)")
	}
	return def.Check(namespace, v)
}
