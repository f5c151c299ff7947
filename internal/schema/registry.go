// Package schema implements the category registry: per-category JSON
// Schemas, their compiled validators, and the ordered index initializers
// each category contributes.
//
// A category is a directory under the registry root containing a
// schema.json file. Categories form a path namespace: docs/note lives at
// <root>/docs/note/schema.json. An optional init.sql file next to the
// schema holds SQL run at index (re-)initialization time (derived tables,
// projection triggers).
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cairndb/cairn/internal/errs"
)

const (
	schemaFile = "schema.json"
	initFile   = "init.sql"
)

var catSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Initializer is one category's contribution to index initialization:
// a SQL script creating derived tables and triggers.
type Initializer struct {
	Cat string
	SQL string
}

// Registry loads and caches per-category schemas and initializers.
//
// The category tree is walked once at construction (and again on Reload);
// validators are compiled lazily and cached. Validation is pure: it never
// mutates the value or the registry state beyond the cache.
type Registry struct {
	root string

	mu         sync.RWMutex
	tree       *node
	byPath     map[string]*node
	validators map[string]*jsonschema.Schema
}

// New builds a registry over the given category directory. The directory
// tree is walked eagerly so that traversal order is fixed at load time.
func New(root string) (*Registry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve registry root: %w", err)
	}
	r := &Registry{root: abs}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Root returns the registry's category directory.
func (r *Registry) Root() string { return r.root }

// Reload rebuilds the category tree and drops all cached validators.
// Called after a release promotion snapshots a new category directory.
func (r *Registry) Reload() error {
	tree, byPath, err := buildTree(r.root)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree = tree
	r.byPath = byPath
	r.validators = make(map[string]*jsonschema.Schema)
	return nil
}

// CheckPath validates the lexical form of a category path.
func CheckPath(cat string) error {
	if cat == "" {
		return errs.NotFound("category " + cat)
	}
	for _, seg := range strings.Split(cat, "/") {
		if !catSegment.MatchString(seg) {
			return errs.NotFound("category " + cat)
		}
	}
	return nil
}

// Load returns the compiled schema for a category, compiling and caching
// it on first use. Fails with a NotFound error if the category has no
// schema file.
func (r *Registry) Load(cat string) (*jsonschema.Schema, error) {
	if err := CheckPath(cat); err != nil {
		return nil, err
	}

	r.mu.RLock()
	sch, ok := r.validators[cat]
	n := r.byPath[cat]
	r.mu.RUnlock()
	if ok {
		return sch, nil
	}
	if n == nil || !n.isCategory {
		return nil, errs.NotFound("category " + cat)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	sch, err := c.Compile(filepath.Join(r.root, filepath.FromSlash(cat), schemaFile))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", cat, err)
	}

	r.mu.Lock()
	r.validators[cat] = sch
	r.mu.Unlock()
	return sch, nil
}

// Validate checks value against the category's schema. On failure it
// returns a ValidationError carrying one violation per failing leaf, each
// with a JSON-pointer path into the value. Validation is side-effect-free.
func (r *Registry) Validate(cat string, value any) error {
	sch, err := r.Load(cat)
	if err != nil {
		return err
	}
	if err := sch.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errs.Validation(cat, flatten(ve))
		}
		return fmt.Errorf("validate against %s: %w", cat, err)
	}
	return nil
}

// ValidateRaw decodes raw JSON and validates it. Numbers are decoded via
// json.Number so large integers survive the round trip.
func (r *Registry) ValidateRaw(cat string, raw json.RawMessage) error {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return errs.Validation(cat, []errs.Violation{{Message: "invalid JSON: " + err.Error()}})
	}
	return r.Validate(cat, v)
}

// flatten collects leaf validation causes into violations. Branch nodes
// only restate their children, so only leaves are reported.
func flatten(ve *jsonschema.ValidationError) []errs.Violation {
	if len(ve.Causes) == 0 {
		return []errs.Violation{{Path: ve.InstanceLocation, Message: ve.Message}}
	}
	var out []errs.Violation
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}

// Categories returns every category path in traversal order: depth-first,
// parents before children, siblings in lexical order.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	r.tree.walk(func(n *node) {
		if n.isCategory {
			out = append(out, n.path)
		}
	})
	return out
}

// Initializers returns the initialization scripts contributed by cat and
// every category below it, in traversal order. Fails with a NotFound
// error for an unknown category.
func (r *Registry) Initializers(cat string) ([]Initializer, error) {
	if err := CheckPath(cat); err != nil {
		return nil, err
	}
	r.mu.RLock()
	n := r.byPath[cat]
	r.mu.RUnlock()
	if n == nil {
		return nil, errs.NotFound("category " + cat)
	}
	return collectInit(n), nil
}

// AllInitializers returns every category's initialization script in
// traversal order. The ordering is deterministic and reproducible: the
// same category tree always yields the same sequence.
func (r *Registry) AllInitializers() []Initializer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collectInit(r.tree)
}

func collectInit(root *node) []Initializer {
	var out []Initializer
	root.walk(func(n *node) {
		if n.initSQL != "" {
			out = append(out, Initializer{Cat: n.path, SQL: n.initSQL})
		}
	})
	return out
}

// Has reports whether cat names a known category (a path with a schema,
// not just an intermediate namespace directory).
func (r *Registry) Has(cat string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.byPath[cat]
	return n != nil && n.isCategory
}

// buildTree walks the category directory once and materializes the tree.
// Hidden directories are skipped. Directory entries are sorted by
// os.ReadDir, which fixes sibling order lexically.
func buildTree(root string) (*node, map[string]*node, error) {
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return nil, nil, fmt.Errorf("category root %s is not a directory", root)
	}
	byPath := make(map[string]*node)
	top, err := buildNode(root, "", byPath)
	if err != nil {
		return nil, nil, err
	}
	return top, byPath, nil
}

func buildNode(dir, path string, byPath map[string]*node) (*node, error) {
	n := &node{path: path}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read category dir %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if strings.HasPrefix(name, ".") || !catSegment.MatchString(name) {
				continue
			}
			childPath := name
			if path != "" {
				childPath = path + "/" + name
			}
			child, err := buildNode(filepath.Join(dir, name), childPath, byPath)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
			continue
		}
		switch name {
		case schemaFile:
			n.isCategory = path != ""
		case initFile:
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", filepath.Join(dir, name), err)
			}
			n.initSQL = string(data)
		}
	}
	if n.isCategory || path == "" {
		byPath[path] = n
	} else if n.initSQL != "" || len(n.children) > 0 {
		// Intermediate namespace directory without a schema: keep it in
		// the tree so children stay reachable, but it is not a category.
		byPath[path] = n
	}
	return n, nil
}

type node struct {
	path       string // slash-separated category path, "" at the root
	isCategory bool
	initSQL    string
	children   []*node
}

// walk visits nodes depth-first, parent before children. Sibling order is
// the lexical order fixed at tree build time.
func (n *node) walk(fn func(*node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}
