package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/cairndb/cairn/internal/errs"
)

// RenameOp is one operation of a rename batch. Src names a direct member
// of the batch directory, or of the staging area when IsNew is set (the
// promotion of a finished upload). Trg is the destination path relative
// to the batch directory; missing parents are created. An empty Trg
// deletes the source.
type RenameOp struct {
	Src   string `json:"src"`
	Trg   string `json:"trg"`
	IsNew bool   `json:"is_new"`
}

// move is a fully resolved, validated operation.
type move struct {
	srcAbs string
	trgAbs string // empty for deletions
}

// ApplyRenameBatch atomically applies a batch of rename/promote/delete
// operations against one directory, guarded by its version stamp.
//
// The whole batch is validated before anything moves: the resulting name
// set is computed up front, so batches are internally order-independent —
// a batch may move an existing file out of the way and another onto its
// old name regardless of operation order. Rejections (stale version,
// duplicate targets, collisions, missing sources) leave the directory
// untouched.
//
// Returns the directory's new listing and version stamp.
func (s *Store) ApplyRenameBatch(rel, version string, ops []RenameOp) ([]Node, string, error) {
	dirAbs, _, err := s.Resolve(rel)
	if err != nil {
		return nil, "", err
	}
	// A fresh entry has no attach directory yet; a batch promoting the
	// first upload sees an empty listing and the zero version stamp.
	if fi, err := os.Stat(dirAbs); err == nil && !fi.IsDir() {
		return nil, "", errs.NotFound("path " + rel)
	}

	current, err := dirVersion(dirAbs)
	if err != nil {
		return nil, "", err
	}
	if current != version {
		return nil, "", errs.VersionConflict("path "+rel, version, current)
	}

	moves, reports := s.resolveBatch(rel, dirAbs, ops)
	if len(reports) > 0 {
		return nil, "", errs.RenameRejected(rel, reports)
	}

	if err := applyMoves(filepath.Join(s.root, StagingDir), moves); err != nil {
		return nil, "", fmt.Errorf("apply rename batch on %s: %w", rel, err)
	}

	nodes := []Node{}
	if fi, err := os.Stat(dirAbs); err == nil && fi.IsDir() {
		if nodes, err = listDir(dirAbs); err != nil {
			return nil, "", err
		}
	}
	newVersion, err := dirVersion(dirAbs)
	if err != nil {
		return nil, "", err
	}
	return nodes, newVersion, nil
}

// resolveBatch validates every operation and computes the final name set.
// Any report means the batch is rejected as a whole.
func (s *Store) resolveBatch(rel, dirAbs string, ops []RenameOp) ([]move, []errs.Violation) {
	var moves []move
	var reports []errs.Violation

	// The batch directory lives inside one entry's attach tree; targets
	// must not leave that entry.
	sub, _ := filepath.Rel(s.root, dirAbs)
	parts := strings.Split(filepath.ToSlash(sub), "/")
	entryAbs := filepath.Join(s.root, parts[0], parts[1])

	movedAway := make(map[string]bool) // sources leaving their current name
	for _, op := range ops {
		src := strings.TrimSpace(op.Src)
		if src == "" || strings.ContainsAny(src, "/\\") || src == "." || src == ".." {
			reports = append(reports, errs.Violation{Path: op.Src, Message: "source must be a single name"})
			continue
		}
		base := dirAbs
		if op.IsNew {
			base = filepath.Join(s.root, StagingDir)
		}
		srcAbs := filepath.Join(base, src)
		if _, err := os.Lstat(srcAbs); err != nil {
			reports = append(reports, errs.Violation{Path: op.Src, Message: "source not found"})
			continue
		}
		if !op.IsNew {
			movedAway[srcAbs] = true
		}
		moves = append(moves, move{srcAbs: srcAbs})
	}
	if len(reports) > 0 {
		return nil, reports
	}

	targets := make(map[string]bool)
	mi := 0
	for _, op := range ops {
		m := &moves[mi]
		mi++
		trg := norm.NFC.String(strings.TrimSpace(op.Trg))
		if trg == "" {
			continue // deletion
		}
		trgAbs := filepath.Clean(filepath.Join(dirAbs, filepath.FromSlash(trg)))
		if r, err := filepath.Rel(entryAbs, trgAbs); err != nil || r == "." || strings.HasPrefix(r, "..") {
			reports = append(reports, errs.Violation{Path: op.Trg, Message: "target leaves the entry's attachment tree"})
			continue
		}
		if targets[trgAbs] {
			reports = append(reports, errs.Violation{Path: op.Trg, Message: "duplicate target in batch"})
			continue
		}
		targets[trgAbs] = true
		// A target may land on an existing name only if that file is
		// itself moved away (or deleted) by this same batch.
		if _, err := os.Lstat(trgAbs); err == nil && !movedAway[trgAbs] {
			reports = append(reports, errs.Violation{Path: op.Trg, Message: "target already exists"})
			continue
		}
		m.trgAbs = trgAbs
	}
	if len(reports) > 0 {
		return nil, reports
	}
	return moves, nil
}

// applyMoves executes a validated batch in two phases: every source is
// parked under a temporary staging name first, then parked files are
// renamed (or removed, for deletions) into place. Parking makes the batch
// order-independent: a source can vacate a name that another operation
// fills. On an unexpected failure the parked files are moved back.
func applyMoves(staging string, moves []move) (err error) {
	type parked struct {
		m    *move
		tmp  string
		done bool
	}
	plan := make([]parked, len(moves))

	defer func() {
		if err == nil {
			return
		}
		// Best-effort restore of anything already moved.
		for i := range plan {
			p := &plan[i]
			if p.done {
				_ = os.Rename(p.m.trgAbs, p.m.srcAbs)
			} else if p.tmp != "" {
				_ = os.Rename(p.tmp, p.m.srcAbs)
			}
		}
	}()

	for i := range moves {
		tmp := filepath.Join(staging, fmt.Sprintf(".batch-%d-%d", os.Getpid(), i))
		if err = os.Rename(moves[i].srcAbs, tmp); err != nil {
			return fmt.Errorf("park %s: %w", moves[i].srcAbs, err)
		}
		plan[i] = parked{m: &moves[i], tmp: tmp}
	}

	for i := range plan {
		p := &plan[i]
		if p.m.trgAbs == "" {
			if err = os.RemoveAll(p.tmp); err != nil {
				return fmt.Errorf("delete %s: %w", p.m.srcAbs, err)
			}
			p.tmp = ""
			continue
		}
		if err = os.MkdirAll(filepath.Dir(p.m.trgAbs), 0o750); err != nil {
			return fmt.Errorf("create target dir: %w", err)
		}
		if err = os.Rename(p.tmp, p.m.trgAbs); err != nil {
			return fmt.Errorf("place %s: %w", p.m.trgAbs, err)
		}
		p.done = true
	}
	return nil
}
