package options

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T, values string) (*namespaceStore, string) {
	t.Helper()
	schema := mustParseSchema(t, "test", basicSchema)
	path := filepath.Join(t.TempDir(), "values.json")
	if values != "" {
		writeFile(t, path, values)
	}
	store, err := newNamespaceStore("test", path, schema, zap.NewNop())
	if err != nil {
		t.Fatalf("newNamespaceStore: %v", err)
	}
	return store, path
}

func storedString(t *testing.T, store *namespaceStore, key string) (string, bool) {
	t.Helper()
	schema := mustParseSchema(t, "test", basicSchema)
	def, ok := schema.Definition(key)
	if !ok {
		t.Fatalf("key %q not declared", key)
	}
	v, stored := store.getRaw(key, def)
	s, ok := v.AsString()
	if !ok {
		t.Fatalf("expected string for %q, got %s", key, v.Kind())
	}
	return s, stored
}

func TestStoreMissingArtifactServesDefaults(t *testing.T) {
	store, _ := newTestStore(t, "")
	s, stored := storedString(t, store, "greeting")
	if stored {
		t.Fatal("missing artifact must not report stored values")
	}
	if s != "hello" {
		t.Fatalf("expected schema default, got %q", s)
	}
	if store.isSet("greeting") {
		t.Fatal("isSet must be false without an artifact")
	}
}

func TestStoreServesStoredValues(t *testing.T) {
	store, _ := newTestStore(t, `{"options": {"greeting": "stored"}}`)
	s, stored := storedString(t, store, "greeting")
	if !stored || s != "stored" {
		t.Fatalf("expected stored value, got %q (stored=%v)", s, stored)
	}
	if !store.isSet("greeting") {
		t.Fatal("isSet must be true for a stored key")
	}
	if store.isSet("retries") {
		t.Fatal("isSet must be false for an unset key")
	}
}

func TestStoreInitialLoadRejectsMalformedArtifact(t *testing.T) {
	schema := mustParseSchema(t, "test", basicSchema)
	path := filepath.Join(t.TempDir(), "values.json")
	writeFile(t, path, `this is not json`)
	_, err := newNamespaceStore("test", path, schema, zap.NewNop())
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %T: %v", err, err)
	}
}

func TestStoreInitialLoadRejectsUndeclaredKey(t *testing.T) {
	schema := mustParseSchema(t, "test", basicSchema)
	path := filepath.Join(t.TempDir(), "values.json")
	writeFile(t, path, `{"options": {"ghost": 1}}`)
	_, err := newNamespaceStore("test", path, schema, zap.NewNop())
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %T: %v", err, err)
	}
}

func TestStoreInitialLoadRejectsTypeMismatch(t *testing.T) {
	schema := mustParseSchema(t, "test", basicSchema)
	path := filepath.Join(t.TempDir(), "values.json")
	writeFile(t, path, `{"options": {"retries": "three"}}`)
	if _, err := newNamespaceStore("test", path, schema, zap.NewNop()); err == nil {
		t.Fatal("expected a mismatched stored value to fail the initial load")
	}
}

func TestStoreReloadsWhenArtifactChanges(t *testing.T) {
	store, path := newTestStore(t, `{"options": {"greeting": "before"}}`)
	if s, _ := storedString(t, store, "greeting"); s != "before" {
		t.Fatalf("expected before, got %q", s)
	}

	rewriteFile(t, path, `{"options": {"greeting": "after"}}`)
	if s, _ := storedString(t, store, "greeting"); s != "after" {
		t.Fatalf("expected reload to pick up the new value, got %q", s)
	}
}

func TestStoreReloadIsIdempotentWhenUnchanged(t *testing.T) {
	store, _ := newTestStore(t, `{"options": {"greeting": "same"}}`)
	first := store.current()
	second := store.current()
	if first.id != second.id {
		t.Fatal("an unchanged artifact must not produce a new snapshot")
	}
}

func TestStoreKeepsLastGoodOnMalformedReload(t *testing.T) {
	store, path := newTestStore(t, `{"options": {"greeting": "good"}}`)
	if s, _ := storedString(t, store, "greeting"); s != "good" {
		t.Fatalf("expected good, got %q", s)
	}

	rewriteFile(t, path, `{broken`)
	if s, _ := storedString(t, store, "greeting"); s != "good" {
		t.Fatalf("a malformed reload must keep serving the last snapshot, got %q", s)
	}

	// A later valid write recovers.
	rewriteFile(t, path, `{"options": {"greeting": "recovered"}}`)
	if s, _ := storedString(t, store, "greeting"); s != "recovered" {
		t.Fatalf("expected recovery after a valid rewrite, got %q", s)
	}
}

func TestStoreKeepsLastGoodWhenArtifactRemoved(t *testing.T) {
	store, path := newTestStore(t, `{"options": {"greeting": "kept"}}`)
	if s, _ := storedString(t, store, "greeting"); s != "kept" {
		t.Fatalf("expected kept, got %q", s)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s, _ := storedString(t, store, "greeting"); s != "kept" {
		t.Fatalf("a removed artifact must not revert values to defaults, got %q", s)
	}
}

func TestStoreConcurrentReads(t *testing.T) {
	store, path := newTestStore(t, `{"options": {"greeting": "v1"}}`)
	rewriteFile(t, path, `{"options": {"greeting": "v2"}}`)

	schema := mustParseSchema(t, "test", basicSchema)
	def, _ := schema.Definition("greeting")

	done := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			v, _ := store.getRaw("greeting", def)
			s, _ := v.AsString()
			done <- s
		}()
	}
	for i := 0; i < 8; i++ {
		if s := <-done; s != "v2" {
			t.Fatalf("expected every reader to see v2, got %q", s)
		}
	}
}
