package attach

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cairndb/cairn/internal/errs"
)

func mustVersion(t *testing.T, s *Store, rel string) string {
	t.Helper()
	v, err := s.DirVersion(rel)
	if err != nil {
		t.Fatalf("DirVersion(%s) failed: %v", rel, err)
	}
	return v
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func TestRenameBatch_PromotesUploadIntoFreshEntry(t *testing.T) {
	s := newTestStore(t)

	token, staged, err := s.BeginUpload("")
	if err != nil {
		t.Fatalf("BeginUpload() failed: %v", err)
	}
	if err := s.AppendChunk(token, []byte("content")); err != nil {
		t.Fatalf("AppendChunk() failed: %v", err)
	}
	if _, err := s.FinishUpload(token); err != nil {
		t.Fatalf("FinishUpload() failed: %v", err)
	}

	// The entry directory does not exist yet; its version stamp is empty.
	nodes, version, err := s.ApplyRenameBatch("00/1a", "", []RenameOp{
		{Src: staged, Trg: "report.pdf", IsNew: true},
	})
	if err != nil {
		t.Fatalf("ApplyRenameBatch() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"report.pdf"}, names(nodes)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
	if version == "" {
		t.Error("no version stamp for the populated directory")
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "00", "1a", "report.pdf"))
	if err != nil || string(data) != "content" {
		t.Errorf("promoted file content = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), StagingDir, staged)); !os.IsNotExist(err) {
		t.Error("staged file survived its promotion")
	}
}

func TestRenameBatch_StaleVersionConflict(t *testing.T) {
	s := newTestStore(t)
	writeEntryFile(t, s, "00/1a", "a.txt", "1")
	stale := mustVersion(t, s, "00/1a")
	writeEntryFile(t, s, "00/1a", "b.txt", "2")

	_, _, err := s.ApplyRenameBatch("00/1a", stale, []RenameOp{
		{Src: "a.txt", Trg: "renamed.txt"},
	})
	if !errs.IsVersionConflict(err) {
		t.Fatalf("stale batch = %v, want version conflict", err)
	}
	// Nothing moved.
	if _, err := os.Stat(filepath.Join(s.Root(), "00", "1a", "a.txt")); err != nil {
		t.Error("a.txt was touched by the rejected batch")
	}
}

func TestRenameBatch_OrderIndependentSwap(t *testing.T) {
	s := newTestStore(t)
	writeEntryFile(t, s, "00/1a", "a.txt", "content-a")
	writeEntryFile(t, s, "00/1a", "b.txt", "content-b")
	version := mustVersion(t, s, "00/1a")

	// a->b and b->a in one batch: each target exists but is vacated by the
	// other operation, in whatever order they are listed.
	nodes, _, err := s.ApplyRenameBatch("00/1a", version, []RenameOp{
		{Src: "a.txt", Trg: "b.txt"},
		{Src: "b.txt", Trg: "a.txt"},
	})
	if err != nil {
		t.Fatalf("swap batch failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, names(nodes)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}

	data, _ := os.ReadFile(filepath.Join(s.Root(), "00", "1a", "a.txt"))
	if string(data) != "content-b" {
		t.Errorf("a.txt = %q after swap, want content-b", data)
	}
	data, _ = os.ReadFile(filepath.Join(s.Root(), "00", "1a", "b.txt"))
	if string(data) != "content-a" {
		t.Errorf("b.txt = %q after swap, want content-a", data)
	}
}

func TestRenameBatch_EmptyTargetDeletes(t *testing.T) {
	s := newTestStore(t)
	writeEntryFile(t, s, "00/1a", "doomed.txt", "x")
	writeEntryFile(t, s, "00/1a", "kept.txt", "y")
	version := mustVersion(t, s, "00/1a")

	nodes, _, err := s.ApplyRenameBatch("00/1a", version, []RenameOp{
		{Src: "doomed.txt", Trg: ""},
	})
	if err != nil {
		t.Fatalf("delete batch failed: %v", err)
	}
	if diff := cmp.Diff([]string{"kept.txt"}, names(nodes)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestRenameBatch_TargetMayCreateSubdirectories(t *testing.T) {
	s := newTestStore(t)
	writeEntryFile(t, s, "00/1a", "a.txt", "1")
	version := mustVersion(t, s, "00/1a")

	nodes, _, err := s.ApplyRenameBatch("00/1a", version, []RenameOp{
		{Src: "a.txt", Trg: "archive/2026/a.txt"},
	})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if diff := cmp.Diff([]string{"archive"}, names(nodes)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "00", "1a", "archive", "2026", "a.txt")); err != nil {
		t.Errorf("moved file missing: %v", err)
	}
}

func TestRenameBatch_RejectionLeavesDirectoryUntouched(t *testing.T) {
	s := newTestStore(t)
	writeEntryFile(t, s, "00/1a", "a.txt", "1")
	writeEntryFile(t, s, "00/1a", "b.txt", "2")
	writeEntryFile(t, s, "00/1a", "c.txt", "3")
	version := mustVersion(t, s, "00/1a")
	before, err := s.List("00/1a")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	batches := map[string][]RenameOp{
		"duplicate targets": {
			{Src: "a.txt", Trg: "same.txt"},
			{Src: "b.txt", Trg: "same.txt"},
		},
		"collision with unmoved file": {
			{Src: "a.txt", Trg: "c.txt"},
		},
		"missing source": {
			{Src: "ghost.txt", Trg: "x.txt"},
		},
		"source with path separator": {
			{Src: "../b.txt", Trg: "x.txt"},
		},
		"target escaping the entry": {
			{Src: "a.txt", Trg: "../../1b/a.txt"},
		},
	}
	for name, ops := range batches {
		_, _, err := s.ApplyRenameBatch("00/1a", version, ops)
		if !errs.IsRenameRejected(err) {
			t.Errorf("%s: got %v, want rename-rejected", name, err)
			continue
		}

		after, err := s.List("00/1a")
		if err != nil {
			t.Fatalf("%s: List() failed: %v", name, err)
		}
		if diff := cmp.Diff(before, after); diff != "" {
			t.Errorf("%s: directory changed by rejected batch (-before +after):\n%s", name, diff)
		}
		if got := mustVersion(t, s, "00/1a"); got != version {
			t.Errorf("%s: version stamp changed by rejected batch", name)
		}
	}
}

func TestRenameBatch_CollisionAllowedWhenTargetVacates(t *testing.T) {
	s := newTestStore(t)
	writeEntryFile(t, s, "00/1a", "old.txt", "old")
	writeEntryFile(t, s, "00/1a", "new.txt", "new")
	version := mustVersion(t, s, "00/1a")

	// old.txt is deleted in the same batch, so new.txt may take its name.
	nodes, _, err := s.ApplyRenameBatch("00/1a", version, []RenameOp{
		{Src: "old.txt", Trg: ""},
		{Src: "new.txt", Trg: "old.txt"},
	})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if diff := cmp.Diff([]string{"old.txt"}, names(nodes)); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
	data, _ := os.ReadFile(filepath.Join(s.Root(), "00", "1a", "old.txt"))
	if string(data) != "new" {
		t.Errorf("old.txt = %q, want new", data)
	}
}
