package options

import (
	"sort"
	"strconv"
	"strings"
)

type contextKind int

const (
	contextString contextKind = iota
	contextInt
	contextFloat
	contextBool
	contextStringList
	contextIntList
	contextFloatList
	contextBoolList
)

// ContextValue is a tagged scalar or list carried by an EvaluationContext.
// Bool and Int are distinct variants: a boolean property never satisfies an
// integer condition and vice versa, even for true/1.
type ContextValue struct {
	kind   contextKind
	str    string
	i      int64
	f      float64
	b      bool
	strs   []string
	ints   []int64
	floats []float64
	bools  []bool
}

// ContextString wraps a string property value.
func ContextString(s string) ContextValue { return ContextValue{kind: contextString, str: s} }

// ContextInt wraps an integer property value.
func ContextInt(i int64) ContextValue { return ContextValue{kind: contextInt, i: i} }

// ContextFloat wraps a float property value.
func ContextFloat(f float64) ContextValue { return ContextValue{kind: contextFloat, f: f} }

// ContextBool wraps a boolean property value.
func ContextBool(b bool) ContextValue { return ContextValue{kind: contextBool, b: b} }

// ContextStringList wraps a list of strings. The slice is copied.
func ContextStringList(items ...string) ContextValue {
	out := make([]string, len(items))
	copy(out, items)
	return ContextValue{kind: contextStringList, strs: out}
}

// ContextIntList wraps a list of integers. The slice is copied.
func ContextIntList(items ...int64) ContextValue {
	out := make([]int64, len(items))
	copy(out, items)
	return ContextValue{kind: contextIntList, ints: out}
}

// ContextFloatList wraps a list of floats. The slice is copied.
func ContextFloatList(items ...float64) ContextValue {
	out := make([]float64, len(items))
	copy(out, items)
	return ContextValue{kind: contextFloatList, floats: out}
}

// ContextBoolList wraps a list of booleans. The slice is copied.
func ContextBoolList(items ...bool) ContextValue {
	out := make([]bool, len(items))
	copy(out, items)
	return ContextValue{kind: contextBoolList, bools: out}
}

func (v ContextValue) isList() bool {
	switch v.kind {
	case contextStringList, contextIntList, contextFloatList, contextBoolList:
		return true
	}
	return false
}

// hashText renders the value for rollout bucket hashing. The rendering is
// part of the rollout contract: changing it moves every context to a
// different bucket.
func (v ContextValue) hashText() string {
	switch v.kind {
	case contextString:
		return v.str
	case contextInt:
		return strconv.FormatInt(v.i, 10)
	case contextFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case contextBool:
		return strconv.FormatBool(v.b)
	case contextStringList:
		return strings.Join(v.strs, ",")
	case contextIntList:
		parts := make([]string, len(v.ints))
		for i, n := range v.ints {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return strings.Join(parts, ",")
	case contextFloatList:
		parts := make([]string, len(v.floats))
		for i, n := range v.floats {
			parts[i] = strconv.FormatFloat(n, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	case contextBoolList:
		parts := make([]string, len(v.bools))
		for i, b := range v.bools {
			parts[i] = strconv.FormatBool(b)
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// EvaluationContext carries the application data a feature flag is evaluated
// against: a property bag plus the identity fields whose values feed the
// deterministic rollout bucket.
type EvaluationContext struct {
	props          map[string]ContextValue
	identityFields []string // kept sorted
}

// NewEvaluationContext returns an empty context.
func NewEvaluationContext() *EvaluationContext {
	return &EvaluationContext{props: map[string]ContextValue{}}
}

// Set stores a property value.
func (c *EvaluationContext) Set(key string, v ContextValue) {
	c.props[key] = v
}

// SetIdentityFields declares which properties identify the subject of a
// rollout decision. Fields are stored sorted so the bucket input is
// independent of declaration order.
func (c *EvaluationContext) SetIdentityFields(fields ...string) {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	c.identityFields = sorted
}

// Get returns a property value.
func (c *EvaluationContext) Get(key string) (ContextValue, bool) {
	v, ok := c.props[key]
	return v, ok
}

// Has reports whether a property is present.
func (c *EvaluationContext) Has(key string) bool {
	_, ok := c.props[key]
	return ok
}

// identityValues returns the ordered values feeding the rollout bucket:
// the values of the identity fields, or of every property in sorted key
// order when no identity fields were declared. Missing fields are skipped.
func (c *EvaluationContext) identityValues() []string {
	fields := c.identityFields
	if len(fields) == 0 {
		fields = make([]string, 0, len(c.props))
		for k := range c.props {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}

	values := make([]string, 0, len(fields))
	for _, field := range fields {
		if v, ok := c.props[field]; ok {
			values = append(values, v.hashText())
		}
	}
	return values
}
