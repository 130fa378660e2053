package options

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// rewriteFile replaces a file's contents and bumps its modification time so
// the staleness token is guaranteed to differ even on coarse-grained clocks.
func rewriteFile(t *testing.T, path, content string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	next := info.ModTime().Add(time.Second)
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// testEngine builds an engine with a single "test" namespace from literal
// schema and values documents. An empty values document skips the artifact,
// leaving everything on defaults.
func testEngine(t *testing.T, schema, values string) *Engine {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "schemas", "test", "schema.json"), schema)
	if values != "" {
		writeFile(t, filepath.Join(dir, "values", "test", "values.json"), values)
	}
	engine, err := FromDirectory(dir)
	if err != nil {
		t.Fatalf("FromDirectory: %v", err)
	}
	return engine
}

func mustGetString(t *testing.T, engine *Engine, namespace, key string) string {
	t.Helper()
	v, err := engine.Get(context.Background(), namespace, key)
	if err != nil {
		t.Fatalf("Get(%s, %s): %v", namespace, key, err)
	}
	s, ok := v.AsString()
	if !ok {
		t.Fatalf("Get(%s, %s): expected string, got %s", namespace, key, v.Kind())
	}
	return s
}
