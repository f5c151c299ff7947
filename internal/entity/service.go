// Package entity composes the schema registry, the entry index and the
// attachment store into the service surface consumed by the transport
// layer: entry CRUD, attachment operations and instance management.
//
// The service performs no business-logic retries and translates nothing:
// index and attachment errors surface unmodified. Retry on version
// conflicts is the caller's concern; upgrade failures are the operator's.
package entity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cairndb/cairn/internal/attach"
	"github.com/cairndb/cairn/internal/index"
	"github.com/cairndb/cairn/internal/release"
	"github.com/cairndb/cairn/internal/schema"
)

// Service exposes entity and instance operations over one instance
// (real or shadow). Dependencies are injected; there is no ambient state.
type Service struct {
	inst     release.Instance
	registry *schema.Registry
	idx      *index.Store
	att      *attach.Store
	manager  *release.Manager
}

// Open opens a service over an initialized instance root. The release
// manager always anchors at the real instance, even when the service
// itself is opened on the shadow.
func Open(root string, manager *release.Manager, opts ...index.Option) (*Service, error) {
	inst := release.Instance{Root: root}
	if !inst.Exists() {
		return nil, fmt.Errorf("no instance at %s (run init first)", root)
	}
	h, err := inst.Open(opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		inst:     inst,
		registry: h.Registry,
		idx:      h.Index,
		att:      h.Attach,
		manager:  manager,
	}, nil
}

// Close releases the service's store handles.
func (s *Service) Close() error { return s.idx.Close() }

// Registry exposes the instance's category registry.
func (s *Service) Registry() *schema.Registry { return s.registry }

// Index exposes the instance's entry index.
func (s *Service) Index() *index.Store { return s.idx }

// Create validates value against cat's schema and inserts a new entry.
func (s *Service) Create(ctx context.Context, cat string, value json.RawMessage, access *string, memo json.RawMessage) (index.Entry, error) {
	return s.idx.Create(ctx, cat, value, access, memo)
}

// Read returns the entry with the given oid.
func (s *Service) Read(ctx context.Context, oid int64) (index.Entry, error) {
	return s.idx.Get(ctx, oid)
}

// Update applies an optimistic-concurrency write to an entry.
func (s *Service) Update(ctx context.Context, oid, expectedVersion int64, value json.RawMessage, access *string) (index.Entry, error) {
	return s.idx.Update(ctx, oid, expectedVersion, value, access)
}

// Delete removes an entry and cascades its attachment subtree. The index
// row (with its Short projection and derived rows) goes first in one
// transaction; the subtree removal follows the commit, so a filesystem
// failure can leave orphan attachment files but never a dangling entry
// referencing deleted content.
func (s *Service) Delete(ctx context.Context, oid int64) error {
	attachPath, err := s.idx.Delete(ctx, oid)
	if err != nil {
		return err
	}
	if attachPath == "" {
		return nil
	}
	return s.att.DeleteSubtree(attachPath)
}

// Query forwards a read-only SELECT projection to the index.
func (s *Service) Query(ctx context.Context, statement string, params map[string]any) ([]map[string]any, error) {
	return s.idx.Query(ctx, statement, params)
}

// Listing is the attachment directory view returned to clients.
type Listing struct {
	Content  []attach.Node `json:"content"`
	Version  string        `json:"version"`
	Toplevel bool          `json:"toplevel"`
}

// ListAttach lists an attachment directory with its version stamp.
func (s *Service) ListAttach(path string) (Listing, error) {
	_, level, err := s.att.Resolve(path)
	if err != nil {
		return Listing{}, err
	}
	content, err := s.att.List(path)
	if err != nil {
		return Listing{}, err
	}
	version, err := s.att.DirVersion(path)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Content: content, Version: version, Toplevel: level == 0}, nil
}

// BeginUpload starts a chunked upload into the staging area.
func (s *Service) BeginUpload(target string) (token, name string, err error) {
	return s.att.BeginUpload(target)
}

// UploadChunk appends one client-paced chunk to an upload session.
func (s *Service) UploadChunk(token string, chunk []byte) error {
	return s.att.AppendChunk(token, chunk)
}

// FinishUpload commits an upload and returns the staged node descriptor.
func (s *Service) FinishUpload(token string) (attach.Node, error) {
	return s.att.FinishUpload(token)
}

// AbortUpload cancels an in-flight upload; staged content is discarded.
func (s *Service) AbortUpload(token string) {
	s.att.AbortUpload(token)
}

// RenameAttach applies a version-guarded, all-or-nothing rename batch and
// returns the directory's resulting view.
func (s *Service) RenameAttach(path, version string, ops []attach.RenameOp) (Listing, error) {
	_, level, err := s.att.Resolve(path)
	if err != nil {
		return Listing{}, err
	}
	content, newVersion, err := s.att.ApplyRenameBatch(path, version, ops)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Content: content, Version: newVersion, Toplevel: level == 0}, nil
}

// InstanceStats reports entry counts grouped by category and access
// level, plus the instance release.
type InstanceStats struct {
	Release  int             `json:"release"`
	Total    int64           `json:"total"`
	ByCat    []index.StatRow `json:"by_cat"`
	ByAccess []index.StatRow `json:"by_access"`
}

// Stats collects the instance-management report.
func (s *Service) Stats(ctx context.Context) (InstanceStats, error) {
	rel, err := s.idx.Release(ctx)
	if err != nil {
		return InstanceStats{}, err
	}
	total, err := s.idx.Stats(ctx)
	if err != nil {
		return InstanceStats{}, err
	}
	byCat, err := s.idx.Stats(ctx, "cat")
	if err != nil {
		return InstanceStats{}, err
	}
	byAccess, err := s.idx.Stats(ctx, "access")
	if err != nil {
		return InstanceStats{}, err
	}
	st := InstanceStats{Release: rel, ByCat: byCat, ByAccess: byAccess}
	if len(total) > 0 {
		st.Total = total[0].Count
	}
	return st, nil
}

// EnterShadow runs the first phase of the upgrade protocol. The service's
// own handles stay valid: only the shadow is written.
func (s *Service) EnterShadow(ctx context.Context) (release.Status, error) {
	if s.manager == nil {
		return release.Status{}, fmt.Errorf("no release manager configured")
	}
	return s.manager.EnterShadow(ctx)
}

// Promote runs the second phase, replacing the real instance's content
// with the shadow's. The service's index handle points at the replaced
// database afterwards; callers holding a long-lived service must reopen
// it. The category registry cache is reloaded here — schema changes only
// take effect through this cycle.
func (s *Service) Promote(ctx context.Context) (release.Status, error) {
	if s.manager == nil {
		return release.Status{}, fmt.Errorf("no release manager configured")
	}
	st, err := s.manager.Promote(ctx)
	if err != nil {
		return release.Status{}, err
	}
	if rerr := s.registry.Reload(); rerr != nil {
		return st, fmt.Errorf("promotion succeeded but registry reload failed: %w", rerr)
	}
	return st, nil
}
