package options

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Feature flag configurations are stored as JSON strings under
// "features.<scope>:<flag-name>" option keys. A record names ordered rollout
// segments; the first segment whose conditions all match and whose rollout
// accepts the caller decides the flag.

const featureKeyPrefix = "features."

// OperatorKind tags a condition operator. The set is open-ended: new kinds
// are added as new tagged variants without changing the evaluation contract.
type OperatorKind string

const (
	OpIn          OperatorKind = "in"
	OpNotIn       OperatorKind = "not_in"
	OpContains    OperatorKind = "contains"
	OpNotContains OperatorKind = "not_contains"
	OpEquals      OperatorKind = "equals"
	OpNotEquals   OperatorKind = "not_equals"
)

func (k OperatorKind) known() bool {
	switch k {
	case OpIn, OpNotIn, OpContains, OpNotContains, OpEquals, OpNotEquals:
		return true
	}
	return false
}

func (k OperatorKind) wantsList() bool {
	return k == OpIn || k == OpNotIn
}

// Operator pairs an operator kind with its comparison value: a list of
// scalars for in/not_in, a single scalar otherwise.
type Operator struct {
	Kind  OperatorKind
	Value Value
}

// Condition requires a context property to satisfy an operator. A missing
// property always fails the condition.
type Condition struct {
	Property string
	Operator Operator
}

// Segment is one named rollout rule: conditions ANDed together plus a
// percentage in [0, 100].
type Segment struct {
	Name       string
	Rollout    int
	Conditions []Condition
}

// FeatureRecord is the decoded form of a feature flag option value.
type FeatureRecord struct {
	Enabled  bool
	Segments []Segment
}

// Wire shapes. Pointers distinguish absent fields from zero values; extra
// fields such as description and owner are tolerated.
type featureRecordDoc struct {
	Enabled  *bool        `json:"enabled"`
	Segments []segmentDoc `json:"segments"`
}

type segmentDoc struct {
	Name       *string        `json:"name"`
	Rollout    *int           `json:"rollout"`
	Conditions []conditionDoc `json:"conditions"`
}

type conditionDoc struct {
	Property string       `json:"property"`
	Operator *operatorDoc `json:"operator"`
}

type operatorDoc struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// decodeFeatureRecord parses and validates a serialized flag record. A
// record that is present but malformed is a SchemaError, never a silent
// false: a deployed defect must be visible to callers.
func decodeFeatureRecord(namespace, key, raw string) (*FeatureRecord, error) {
	var doc featureRecordDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &SchemaError{Namespace: namespace, Key: key, Message: "feature flag record is not valid JSON", Err: err}
	}
	if doc.Enabled == nil {
		return nil, schemaErrorf(namespace, key, "feature flag record missing required %q field", "enabled")
	}

	record := &FeatureRecord{
		Enabled:  *doc.Enabled,
		Segments: make([]Segment, 0, len(doc.Segments)),
	}
	for i, seg := range doc.Segments {
		if seg.Name == nil || *seg.Name == "" {
			return nil, schemaErrorf(namespace, key, "segment %d missing required %q field", i, "name")
		}
		rollout := 100
		if seg.Rollout != nil {
			rollout = *seg.Rollout
		}
		if rollout < 0 || rollout > 100 {
			return nil, schemaErrorf(namespace, key, "segment %q rollout %d outside [0, 100]", *seg.Name, rollout)
		}

		conditions := make([]Condition, 0, len(seg.Conditions))
		for _, cond := range seg.Conditions {
			parsed, err := parseCondition(namespace, key, *seg.Name, cond)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, parsed)
		}
		record.Segments = append(record.Segments, Segment{
			Name:       *seg.Name,
			Rollout:    rollout,
			Conditions: conditions,
		})
	}
	return record, nil
}

func parseCondition(namespace, key, segment string, doc conditionDoc) (Condition, error) {
	if doc.Property == "" {
		return Condition{}, schemaErrorf(namespace, key, "condition in segment %q missing required %q field", segment, "property")
	}
	if doc.Operator == nil {
		return Condition{}, schemaErrorf(namespace, key, "condition %q in segment %q missing operator", doc.Property, segment)
	}
	kind := OperatorKind(doc.Operator.Kind)
	if !kind.known() {
		return Condition{}, schemaErrorf(namespace, key, "unknown operator kind %q in segment %q", doc.Operator.Kind, segment)
	}
	value, err := decodeJSONValue(doc.Operator.Value)
	if err != nil {
		return Condition{}, &SchemaError{Namespace: namespace, Key: key, Message: "invalid operator value in segment " + segment, Err: err}
	}
	if kind.wantsList() && value.Kind() != KindList {
		return Condition{}, schemaErrorf(namespace, key, "operator %q in segment %q requires a list value, got %s", kind, segment, value.Kind())
	}
	if !kind.wantsList() && (value.Kind() == KindList || value.Kind() == KindObject) {
		return Condition{}, schemaErrorf(namespace, key, "operator %q in segment %q requires a scalar value, got %s", kind, segment, value.Kind())
	}
	return Condition{Property: doc.Property, Operator: Operator{Kind: kind, Value: value}}, nil
}

// evaluate walks segments in declared order. The first segment that matches
// every condition and accepts under its rollout decides the flag; a segment
// that matches but is outside its rollout does not block later segments.
func (r *FeatureRecord) evaluate(logger *zap.Logger, namespace, flag string, ectx *EvaluationContext) bool {
	if !r.Enabled {
		return false
	}
	debug := featureDebugConfig()

	for i := range r.Segments {
		seg := &r.Segments[i]
		if !seg.matches(ectx) {
			continue
		}
		accepted := seg.inRollout(namespace, flag, ectx)
		if debug.logMatch {
			logger.Debug("feature segment matched",
				zap.String("namespace", namespace),
				zap.String("flag", flag),
				zap.String("segment", seg.Name),
				zap.Bool("in_rollout", accepted),
			)
		}
		if accepted {
			return true
		}
	}

	if debug.logMatch {
		logger.Debug("feature did not match any segment",
			zap.String("namespace", namespace),
			zap.String("flag", flag),
		)
	}
	return false
}

func (s *Segment) matches(ectx *EvaluationContext) bool {
	for i := range s.Conditions {
		if !s.Conditions[i].evaluate(ectx) {
			return false
		}
	}
	return true
}

// inRollout decides percentage acceptance. The bucket is a pure function of
// the flag namespace, flag name, segment name, and the context's identity
// values, so repeated calls with identical inputs always agree.
func (s *Segment) inRollout(namespace, flag string, ectx *EvaluationContext) bool {
	if s.Rollout >= 100 {
		return true
	}
	if s.Rollout <= 0 {
		return false
	}
	return rolloutBucket(namespace, flag, s.Name, ectx) < uint64(s.Rollout)
}

func rolloutBucket(namespace, flag, segment string, ectx *EvaluationContext) uint64 {
	h := xxhash.New()
	h.WriteString(namespace)
	h.WriteString(":")
	h.WriteString(flag)
	h.WriteString(":")
	h.WriteString(segment)
	for _, v := range ectx.identityValues() {
		h.WriteString(":")
		h.WriteString(v)
	}
	return h.Sum64() % 100
}

func (c *Condition) evaluate(ectx *EvaluationContext) bool {
	prop, ok := ectx.Get(c.Property)
	if !ok {
		return false
	}
	switch c.Operator.Kind {
	case OpIn:
		return evalIn(prop, c.Operator.Value)
	case OpNotIn:
		return !evalIn(prop, c.Operator.Value)
	case OpContains:
		return evalContains(prop, c.Operator.Value)
	case OpNotContains:
		return !evalContains(prop, c.Operator.Value)
	case OpEquals:
		return scalarEq(prop, c.Operator.Value)
	case OpNotEquals:
		return !scalarEq(prop, c.Operator.Value)
	}
	return false
}

// evalIn matches a scalar context property against a list of candidates.
// List-valued properties never satisfy "in".
func evalIn(prop ContextValue, operand Value) bool {
	if prop.isList() {
		return false
	}
	items, ok := operand.AsList()
	if !ok {
		return false
	}
	for _, item := range items {
		if scalarEq(prop, item) {
			return true
		}
	}
	return false
}

// evalContains matches a list-valued context property against a scalar
// candidate. Scalar properties never satisfy "contains".
func evalContains(prop ContextValue, operand Value) bool {
	switch prop.kind {
	case contextStringList:
		s, ok := operand.AsString()
		if !ok {
			return false
		}
		for _, item := range prop.strs {
			if strings.EqualFold(item, s) {
				return true
			}
		}
	case contextIntList:
		n, ok := operand.AsInt()
		if !ok {
			return false
		}
		for _, item := range prop.ints {
			if item == n {
				return true
			}
		}
	case contextFloatList:
		f, ok := operand.AsFloat()
		if !ok {
			return false
		}
		for _, item := range prop.floats {
			if item == f {
				return true
			}
		}
	case contextBoolList:
		b, ok := operand.AsBool()
		if !ok {
			return false
		}
		for _, item := range prop.bools {
			if item == b {
				return true
			}
		}
	}
	return false
}

// scalarEq compares a tagged context scalar with an operator scalar.
// Strings compare case-insensitively; booleans only ever equal booleans,
// integers only integers, so true never matches 1.
func scalarEq(prop ContextValue, operand Value) bool {
	switch prop.kind {
	case contextString:
		s, ok := operand.AsString()
		return ok && strings.EqualFold(prop.str, s)
	case contextInt:
		n, ok := operand.AsInt()
		return ok && prop.i == n
	case contextFloat:
		f, ok := operand.AsFloat()
		return ok && prop.f == f
	case contextBool:
		b, ok := operand.AsBool()
		return ok && prop.b == b
	}
	return false
}

// Has evaluates a feature flag for the given context. Unknown namespaces and
// unknown flag keys resolve to false rather than erroring: feature checks
// must never crash a caller over a flag that does not exist yet. A present
// but malformed record still surfaces as a SchemaError.
func (e *Engine) Has(ctx context.Context, namespace, flag string, ectx *EvaluationContext) (bool, error) {
	key := featureKeyPrefix + flag
	v, err := e.Get(ctx, namespace, key)
	if err != nil {
		var unknownNamespace *UnknownNamespaceError
		var unknownOption *UnknownOptionError
		if errors.As(err, &unknownNamespace) || errors.As(err, &unknownOption) {
			return false, nil
		}
		return false, err
	}

	raw, ok := v.AsString()
	if !ok {
		return false, schemaErrorf(namespace, key, "feature flag value is of kind %s, not a serialized record", v.Kind())
	}
	if raw == "" {
		// The schema default for unconfigured flags.
		return false, nil
	}

	record, err := decodeFeatureRecord(namespace, key, raw)
	if err != nil {
		if featureDebugConfig().logParse {
			e.logger.Warn("failed to parse feature flag record",
				zap.String("namespace", namespace),
				zap.String("flag", flag),
				zap.Error(err),
			)
		}
		return false, err
	}
	return record.evaluate(e.logger, namespace, flag, ectx), nil
}

// Debug logging for feature evaluation, gated by the
// SENTRY_OPTIONS_FEATURE_DEBUG_LOG environment variable
// ("parse", "match", or "all").
type featureDebug struct {
	logParse bool
	logMatch bool
}

var (
	featureDebugOnce sync.Once
	featureDebugCfg  featureDebug
)

func featureDebugConfig() featureDebug {
	featureDebugOnce.Do(func() {
		level := os.Getenv("SENTRY_OPTIONS_FEATURE_DEBUG_LOG")
		featureDebugCfg = featureDebug{
			logParse: level == "all" || level == "parse",
			logMatch: level == "all" || level == "match",
		}
	})
	return featureDebugCfg
}
