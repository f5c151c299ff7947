// Package release implements instances (root-directory layouts pairing an
// index database with an attachment tree and a category directory) and
// the two-phase shadow/real upgrade protocol between them.
package release

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cairndb/cairn/internal/attach"
	"github.com/cairndb/cairn/internal/index"
	"github.com/cairndb/cairn/internal/schema"
)

// Layout names within an instance root. The on-disk layout is an external
// contract: other tooling keys off these names.
const (
	IndexFile  = "index.db"
	AttachDir  = "attach"
	CatsDir    = "cats"
	ConfigFile = "config.yaml"
	ShadowDir  = "shadow"
)

// Instance locates one store (real or shadow) by its root path. The real
// and shadow instances are the same abstraction parameterized by root;
// the shadow lives at <real root>/shadow with its attachment content
// hard-linked against the real one.
type Instance struct {
	Root string
}

func (i Instance) IndexPath() string  { return filepath.Join(i.Root, IndexFile) }
func (i Instance) AttachRoot() string { return filepath.Join(i.Root, AttachDir) }
func (i Instance) CatsPath() string   { return filepath.Join(i.Root, CatsDir) }
func (i Instance) ConfigPath() string { return filepath.Join(i.Root, ConfigFile) }

// Shadow returns the shadow instance below this one.
func (i Instance) Shadow() Instance {
	return Instance{Root: filepath.Join(i.Root, ShadowDir)}
}

// IsShadow reports whether this instance is a shadow (named by layout).
func (i Instance) IsShadow() bool { return filepath.Base(i.Root) == ShadowDir }

// Handles bundles the open stores of one instance.
type Handles struct {
	Registry *schema.Registry
	Index    *index.Store
	Attach   *attach.Store
}

// Exists reports whether the instance has been initialized (its index
// file is present).
func (i Instance) Exists() bool {
	_, err := os.Stat(i.IndexPath())
	return err == nil
}

// Open opens the instance's registry, index and attachment store,
// creating the index file and attachment tree if absent. Callers serving
// an existing instance should check Exists first.
func (i Instance) Open(opts ...index.Option) (*Handles, error) {
	reg, err := schema.New(i.CatsPath())
	if err != nil {
		return nil, fmt.Errorf("open instance %s: %w", i.Root, err)
	}
	idx, err := index.Open(i.IndexPath(), reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("open instance %s: %w", i.Root, err)
	}
	att, err := attach.New(i.AttachRoot())
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("open instance %s: %w", i.Root, err)
	}
	return &Handles{Registry: reg, Index: idx, Attach: att}, nil
}

// Close closes the open stores.
func (h *Handles) Close() error {
	if h == nil || h.Index == nil {
		return nil
	}
	return h.Index.Close()
}

// Record is one listing row in transit between instances: the entry plus
// its attachment contents, keyed by entry-relative path with absolute
// source paths as values. Contents are hard-linked, never copied, when
// the record lands in the target instance.
type Record struct {
	index.Entry
	Contents map[string]string `json:"contents,omitempty"`
}

// Dump captures the instance's full listing with attachment contents and
// its release number.
func (h *Handles) Dump(ctx context.Context) ([]Record, int, error) {
	listing, rel, err := h.Index.Dump(ctx)
	if err != nil {
		return nil, 0, err
	}
	records := make([]Record, len(listing))
	for n, e := range listing {
		contents, err := h.Attach.Contents(e.Attach)
		if err != nil {
			return nil, 0, err
		}
		records[n] = Record{Entry: e, Contents: contents}
	}
	return records, rel, nil
}
