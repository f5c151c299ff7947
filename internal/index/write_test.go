package index

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/internal/errs"
)

// titleRequired accepts only docs/note values carrying a string title.
type titleRequired struct{}

func (titleRequired) ValidateRaw(cat string, raw json.RawMessage) error {
	var v struct {
		Title *string `json:"title"`
	}
	if json.Unmarshal(raw, &v) != nil || v.Title == nil {
		return errs.Validation(cat, []errs.Violation{{Path: "/title", Message: "missing title"}})
	}
	return nil
}

func (titleRequired) Has(cat string) bool { return cat == "docs/note" }

func TestCreate_AssignsIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.Create(ctx, "docs/note", json.RawMessage(`{"title":"hello"}`), nil, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if e.OID != 1 {
		t.Errorf("oid = %d, want 1", e.OID)
	}
	if e.Version != 1 {
		t.Errorf("version = %d, want 1", e.Version)
	}
	if _, err := uuid.Parse(e.UID); err != nil {
		t.Errorf("uid %q is not a UUID: %v", e.UID, err)
	}
	if want := DefaultNamer(e.OID); e.Attach != want {
		t.Errorf("attach = %q, want %q", e.Attach, want)
	}
	if e.Created == "" || e.Created != e.Modified {
		t.Errorf("created %q / modified %q: want equal, non-empty", e.Created, e.Modified)
	}
	if e.Short != "hello" {
		t.Errorf("short = %q, want title projection %q", e.Short, "hello")
	}
}

func TestCreate_DefaultShortWithoutTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.Create(ctx, "album", json.RawMessage(`{"name":"summer"}`), nil, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if e.Short != "album #1" {
		t.Errorf("short = %q, want %q", e.Short, "album #1")
	}
}

func TestCreate_UnknownCategory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t), titleRequired{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	_, err = s.Create(ctx, "docs/absent", json.RawMessage(`{"title":"x"}`), nil, nil)
	if !errs.IsNotFound(err) {
		t.Errorf("unknown category: got %v, want not-found", err)
	}
}

func TestCreate_InvalidValueLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	s, err := Open(tempDBPath(t), titleRequired{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	_, err = s.Create(ctx, "docs/note", json.RawMessage(`{"body":"no title"}`), nil, nil)
	if !errs.IsValidation(err) {
		t.Fatalf("invalid value: got %v, want validation error", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM Entry").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("rejected create left %d rows", n)
	}
}

func TestCreate_StoresAccessAndMemo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	access := "restricted"
	e, err := s.Create(ctx, "docs/note",
		json.RawMessage(`{"title":"x"}`), &access, json.RawMessage(`{"origin":"import"}`))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if e.Access == nil || *e.Access != "restricted" {
		t.Errorf("access = %v, want restricted", e.Access)
	}
	if string(e.Memo) != `{"origin":"import"}` {
		t.Errorf("memo = %s", e.Memo)
	}
}

func TestCreate_UniqueCreationTimestamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// The created column carries a UNIQUE index; a burst of creates must
	// not collide even within one wall-clock microsecond.
	for i := 0; i < 50; i++ {
		if _, err := s.Create(ctx, "docs/note", json.RawMessage(`{"title":"x"}`), nil, nil); err != nil {
			t.Fatalf("Create() %d failed: %v", i, err)
		}
	}
}

func TestUpdate_BumpsVersionAndShort(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.Create(ctx, "docs/note", json.RawMessage(`{"title":"first"}`), nil, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	up, err := s.Update(ctx, e.OID, 1, json.RawMessage(`{"title":"second"}`), nil)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if up.Version != 2 {
		t.Errorf("version = %d, want 2", up.Version)
	}
	if up.Short != "second" {
		t.Errorf("short = %q, want re-derived %q", up.Short, "second")
	}
	if up.Modified <= e.Modified {
		t.Errorf("modified %q did not advance past %q", up.Modified, e.Modified)
	}
	if up.Created != e.Created {
		t.Errorf("created changed on update: %q -> %q", e.Created, up.Created)
	}
}

func TestUpdate_StaleVersionLoses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.Create(ctx, "docs/note", json.RawMessage(`{"title":"first"}`), nil, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// Two writers read version 1; only the first may win.
	if _, err := s.Update(ctx, e.OID, 1, json.RawMessage(`{"title":"winner"}`), nil); err != nil {
		t.Fatalf("first Update() failed: %v", err)
	}
	_, err = s.Update(ctx, e.OID, 1, json.RawMessage(`{"title":"loser"}`), nil)
	if !errs.IsVersionConflict(err) {
		t.Fatalf("stale update: got %v, want version conflict", err)
	}

	got, err := s.Get(ctx, e.OID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Short != "winner" || got.Version != 2 {
		t.Errorf("entry = %q v%d, want winner v2", got.Short, got.Version)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Update(ctx, 99, 1, json.RawMessage(`{"title":"x"}`), nil)
	if !errs.IsNotFound(err) {
		t.Errorf("missing oid: got %v, want not-found", err)
	}
}

func TestDelete_CascadesShort(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.Create(ctx, "docs/note", json.RawMessage(`{"title":"x"}`), nil, nil)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	attach, err := s.Delete(ctx, e.OID)
	if err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if attach != e.Attach {
		t.Errorf("Delete() returned attach %q, want %q", attach, e.Attach)
	}

	if _, err := s.Get(ctx, e.OID); !errs.IsNotFound(err) {
		t.Errorf("entry still readable after delete: %v", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM Short").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("%d Short rows survived the delete", n)
	}
}

func TestDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Delete(ctx, 42); !errs.IsNotFound(err) {
		t.Errorf("missing oid: got %v, want not-found", err)
	}
}
