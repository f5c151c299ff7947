package schema

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cairndb/cairn/internal/errs"
)

const noteSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "body": {"type": "string"}
  },
  "required": ["title"],
  "additionalProperties": false
}`

// writeCat creates one category directory with a schema and optional init
// script under root.
func writeCat(t *testing.T, root, cat, schemaJSON, initSQL string) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(cat))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", cat, err)
	}
	if schemaJSON != "" {
		if err := os.WriteFile(filepath.Join(dir, "schema.json"), []byte(schemaJSON), 0o640); err != nil {
			t.Fatalf("write schema for %s: %v", cat, err)
		}
	}
	if initSQL != "" {
		if err := os.WriteFile(filepath.Join(dir, "init.sql"), []byte(initSQL), 0o640); err != nil {
			t.Fatalf("write init for %s: %v", cat, err)
		}
	}
}

func TestNew_RequiresDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("New() accepted a missing directory")
	}
}

func TestCategories_TraversalOrder(t *testing.T) {
	root := t.TempDir()
	writeCat(t, root, "docs", noteSchema, "")
	writeCat(t, root, "docs/note", noteSchema, "")
	writeCat(t, root, "docs/meeting", noteSchema, "")
	writeCat(t, root, "album", `{"type":"object"}`, "")

	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// Depth-first, parents before children, siblings lexical.
	want := []string{"album", "docs", "docs/meeting", "docs/note"}
	if got := r.Categories(); !reflect.DeepEqual(got, want) {
		t.Errorf("Categories() = %v, want %v", got, want)
	}
}

func TestValidate_AcceptsConformingValue(t *testing.T) {
	root := t.TempDir()
	writeCat(t, root, "docs/note", noteSchema, "")
	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = r.ValidateRaw("docs/note", json.RawMessage(`{"title":"hello","body":"world"}`))
	if err != nil {
		t.Errorf("valid value rejected: %v", err)
	}
}

func TestValidate_ReportsViolationsWithPaths(t *testing.T) {
	root := t.TempDir()
	writeCat(t, root, "docs/note", noteSchema, "")
	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = r.ValidateRaw("docs/note", json.RawMessage(`{"title":42}`))
	if !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var e *errs.Error
	if !errors.As(err, &e) || len(e.Violations) == 0 {
		t.Fatalf("validation error carries no violations: %v", err)
	}
	found := false
	for _, v := range e.Violations {
		if v.Path == "/title" {
			found = true
		}
	}
	if !found {
		t.Errorf("no violation pointing at /title: %+v", e.Violations)
	}
}

func TestValidate_RejectsMalformedJSON(t *testing.T) {
	root := t.TempDir()
	writeCat(t, root, "docs/note", noteSchema, "")
	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := r.ValidateRaw("docs/note", json.RawMessage(`{"title":`)); !errs.IsValidation(err) {
		t.Errorf("malformed JSON not rejected as validation error: %v", err)
	}
}

func TestLoad_UnknownCategory(t *testing.T) {
	root := t.TempDir()
	writeCat(t, root, "docs/note", noteSchema, "")
	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, err := r.Load("docs/absent"); !errs.IsNotFound(err) {
		t.Errorf("unknown category: got %v, want not-found", err)
	}
	if _, err := r.Load("../escape"); !errs.IsNotFound(err) {
		t.Errorf("bad path: got %v, want not-found", err)
	}
}

func TestHas_IgnoresNamespaceDirectories(t *testing.T) {
	root := t.TempDir()
	// docs has no schema.json of its own, only a child category.
	writeCat(t, root, "docs/note", noteSchema, "")
	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if r.Has("docs") {
		t.Error("Has() matched a namespace directory without a schema")
	}
	if !r.Has("docs/note") {
		t.Error("Has() missed a real category")
	}
}

func TestAllInitializers_DeterministicOrder(t *testing.T) {
	root := t.TempDir()
	writeCat(t, root, "docs", noteSchema, "-- docs init\n")
	writeCat(t, root, "docs/note", noteSchema, "-- note init\n")
	writeCat(t, root, "album", `{"type":"object"}`, "-- album init\n")

	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	first := r.AllInitializers()

	// A fresh registry over the same tree must produce the same sequence.
	r2, err := New(root)
	if err != nil {
		t.Fatalf("second New() failed: %v", err)
	}
	second := r2.AllInitializers()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("initializer order not reproducible:\n%v\n%v", first, second)
	}
	want := []string{"album", "docs", "docs/note"}
	got := make([]string, len(first))
	for i, init := range first {
		got[i] = init.Cat
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("initializer cats = %v, want %v", got, want)
	}
}

func TestReload_PicksUpNewCategories(t *testing.T) {
	root := t.TempDir()
	writeCat(t, root, "docs/note", noteSchema, "")
	r, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if r.Has("docs/meeting") {
		t.Fatal("category present before creation")
	}

	writeCat(t, root, "docs/meeting", noteSchema, "")
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if !r.Has("docs/meeting") {
		t.Error("Reload() did not pick up the new category")
	}
}
