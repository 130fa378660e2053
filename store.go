package options

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fileToken is the staleness marker for a values artifact. Comparing tokens
// is O(1) regardless of artifact size.
type fileToken struct {
	exists  bool
	modTime time.Time
	size    int64
}

func statToken(path string) (fileToken, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fileToken{}, nil
	}
	if err != nil {
		return fileToken{}, err
	}
	return fileToken{exists: true, modTime: info.ModTime(), size: info.Size()}, nil
}

func (t fileToken) equal(o fileToken) bool {
	return t.exists == o.exists && t.size == o.size && t.modTime.Equal(o.modTime)
}

// snapshot is one immutable, fully loaded set of stored values. Readers hold
// a snapshot pointer and are never exposed to an in-progress reload.
type snapshot struct {
	id     string
	token  fileToken
	values map[string]Value
}

func (s *snapshot) lookup(key string) (Value, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Wire shape of a values artifact.
type valuesDoc struct {
	Options map[string]json.RawMessage `json:"options"`
}

func parseValuesArtifact(namespace string, data []byte) (map[string]Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc valuesDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, &SchemaError{Namespace: namespace, Message: "values artifact must be a JSON object", Err: err}
	}
	values := make(map[string]Value, len(doc.Options))
	for key, raw := range doc.Options {
		v, err := decodeJSONValue(raw)
		if err != nil {
			return nil, &SchemaError{Namespace: namespace, Key: key, Message: "invalid stored value", Err: err}
		}
		values[key] = v
	}
	return values, nil
}

// namespaceStore caches the current stored values for one namespace. Reads
// go through current(), which revalidates the staleness token on every call
// and reloads when the backing artifact changed. A failed reload keeps the
// last successfully loaded snapshot in place; freshness is best-effort,
// the last-known-good data is not.
type namespaceStore struct {
	namespace string
	path      string
	logger    *zap.Logger

	reloadMu sync.Mutex
	snap     atomic.Pointer[snapshot]
}

// newNamespaceStore performs the initial load. Unlike runtime reloads, a
// malformed artifact here is fatal: starting up against corrupt data is a
// deployment defect, not a transient to ride out. A missing artifact is
// fine and resolves everything to schema defaults.
func newNamespaceStore(namespace, path string, schema *NamespaceSchema, logger *zap.Logger) (*namespaceStore, error) {
	s := &namespaceStore{
		namespace: namespace,
		path:      path,
		logger:    logger,
	}

	token, err := statToken(path)
	if err != nil {
		return nil, &SchemaError{Namespace: namespace, Message: "reading values artifact", Err: err}
	}
	values := map[string]Value{}
	if token.exists {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &SchemaError{Namespace: namespace, Message: "reading values artifact", Err: err}
		}
		values, err = parseValuesArtifact(namespace, data)
		if err != nil {
			return nil, err
		}
		for key, v := range values {
			if err := schema.ValidateStored(namespace, key, v); err != nil {
				return nil, err
			}
		}
	}
	s.swap(token, values)
	return s, nil
}

func (s *namespaceStore) swap(token fileToken, values map[string]Value) {
	snap := &snapshot{
		id:     uuid.NewString(),
		token:  token,
		values: values,
	}
	s.snap.Store(snap)
	s.logger.Debug("loaded values snapshot",
		zap.String("namespace", s.namespace),
		zap.String("snapshot_id", snap.id),
		zap.Int("keys", len(values)),
	)
}

// current returns the freshest snapshot available. It never returns nil and
// never propagates reload errors.
func (s *namespaceStore) current() *snapshot {
	snap := s.snap.Load()

	token, err := statToken(s.path)
	if err != nil {
		s.logger.Warn("stat of values artifact failed, serving cached snapshot",
			zap.String("namespace", s.namespace),
			zap.String("snapshot_id", snap.id),
			zap.Error(err),
		)
		return snap
	}
	if token.equal(snap.token) {
		return snap
	}

	s.reload(token)
	return s.snap.Load()
}

// reload replaces the snapshot after the staleness token changed. Concurrent
// callers collapse onto one effective reload: whoever takes the mutex second
// re-checks the token against the snapshot stored by the first.
func (s *namespaceStore) reload(token fileToken) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	prev := s.snap.Load()
	if token.equal(prev.token) {
		return
	}

	if !token.exists {
		// Artifact removed out from under us. Keep serving the last
		// loaded data rather than reverting everything to defaults.
		s.logger.Warn("values artifact disappeared, serving cached snapshot",
			zap.String("namespace", s.namespace),
			zap.String("snapshot_id", prev.id),
		)
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("reload of values artifact failed, serving cached snapshot",
			zap.String("namespace", s.namespace),
			zap.String("snapshot_id", prev.id),
			zap.Error(err),
		)
		return
	}
	values, err := parseValuesArtifact(s.namespace, data)
	if err != nil {
		s.logger.Warn("values artifact is malformed, serving cached snapshot",
			zap.String("namespace", s.namespace),
			zap.String("snapshot_id", prev.id),
			zap.Error(err),
		)
		return
	}
	s.swap(token, values)
}

// getRaw resolves the current stored value for key, falling back to the
// schema default when the artifact does not set one.
func (s *namespaceStore) getRaw(key string, def *OptionDefinition) (Value, bool) {
	if v, ok := s.current().lookup(key); ok {
		return v, true
	}
	return def.Default, false
}

// isSet reports whether the artifact currently stores a value for key,
// as opposed to resolution falling through to the default.
func (s *namespaceStore) isSet(key string) bool {
	_, ok := s.current().lookup(key)
	return ok
}

// ValidateStored checks an artifact value against the namespace schema.
// Keys not declared in the schema are schema errors at load time.
func (s *NamespaceSchema) ValidateStored(namespace, key string, v Value) error {
	def, ok := s.defs[key]
	if !ok {
		return schemaErrorf(namespace, key, "stored value for undeclared option")
	}
	return def.Check(namespace, v)
}
