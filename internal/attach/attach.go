// Package attach manages the per-entry attachment trees of an instance:
// listing, chunked uploads into a staging area, version-stamped rename
// batches, subtree deletion and hard-link replication between the real
// and shadow instances.
//
// All paths handed to this package are relative to the instance's
// attachment root; anything resolving outside the root is rejected as a
// security boundary violation.
package attach

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cairndb/cairn/internal/errs"
)

// StagingDir is the staging subdirectory for in-progress uploads, at the
// top level of the attachment root.
const StagingDir = ".staged"

// MTimeLayout formats node modification times (second precision).
const MTimeLayout = "2006-01-02T15:04:05"

// Node describes one attachment directory member. Size is the byte size
// for regular files and -(item count) for directories.
//
// The wire shape is the [name, mtime, size] triple.
type Node struct {
	Name  string
	MTime string
	Size  int64
}

// MarshalJSON renders the [name, mtime, size] triple.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{n.Name, n.MTime, n.Size})
}

// UnmarshalJSON parses the [name, mtime, size] triple.
func (n *Node) UnmarshalJSON(data []byte) error {
	var t [3]json.RawMessage
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	if err := json.Unmarshal(t[0], &n.Name); err != nil {
		return err
	}
	if err := json.Unmarshal(t[1], &n.MTime); err != nil {
		return err
	}
	return json.Unmarshal(t[2], &n.Size)
}

// Store manages the attachment tree rooted at one instance's attach
// directory.
type Store struct {
	root string

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a store over root, creating the root and its staging
// subdirectory if absent.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve attachment root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, StagingDir), 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Store{root: abs, sessions: make(map[string]*session)}, nil
}

// Root returns the absolute attachment root.
func (s *Store) Root() string { return s.root }

// Resolve maps a relative attachment path to an absolute one, rejecting
// anything that escapes the root. level is the depth below the entry
// directory: 0 for the entry's own attach directory (attach paths are two
// segments deep), positive for subdirectories. Paths above entry level
// are rejected.
func (s *Store) Resolve(rel string) (abs string, level int, err error) {
	abs = filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	sub, err := filepath.Rel(s.root, abs)
	if err != nil || sub == "." || strings.HasPrefix(sub, "..") {
		return "", 0, errs.PathTraversal(rel)
	}
	parts := strings.Split(filepath.ToSlash(sub), "/")
	if parts[0] == StagingDir {
		return "", 0, errs.PathTraversal(rel)
	}
	level = len(parts) - 2
	if level < 0 {
		return "", 0, errs.PathTraversal(rel)
	}
	return abs, level, nil
}

// List returns the ordered contents of an attachment directory, sorted by
// name. Empty directories are pruned on the way out: once a listing comes
// back empty the directory is removed, walking up until a non-empty
// parent (or the root) is met. Fails with a NotFound error when the path
// does not exist.
func (s *Store) List(rel string) ([]Node, error) {
	abs, _, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil || !fi.IsDir() {
		return nil, errs.NotFound("path " + rel)
	}
	nodes, err := listDir(abs)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		s.pruneEmpty(abs)
	}
	return nodes, nil
}

func listDir(abs string) ([]Node, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", abs, err)
	}
	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		n := Node{Name: e.Name(), MTime: info.ModTime().UTC().Format(MTimeLayout)}
		if e.IsDir() {
			items, err := os.ReadDir(filepath.Join(abs, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("count %s: %w", e.Name(), err)
			}
			n.Size = -int64(len(items))
		} else {
			n.Size = info.Size()
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// pruneEmpty removes abs and any parents left empty, never touching the
// root or the staging dir.
func (s *Store) pruneEmpty(abs string) {
	for abs != s.root && filepath.Base(abs) != StagingDir {
		entries, err := os.ReadDir(abs)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(abs) != nil {
			return
		}
		abs = filepath.Dir(abs)
	}
}

// DirVersion computes the version stamp for a directory: a SHA-256 over
// its sorted (name, mtime, size) listing. Rename batches cite this stamp
// as their precondition; any change to the directory's contents changes
// the stamp. A nonexistent directory versions to the empty string.
func (s *Store) DirVersion(rel string) (string, error) {
	abs, _, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	return dirVersion(abs)
}

func dirVersion(abs string) (string, error) {
	fi, err := os.Stat(abs)
	if err != nil || !fi.IsDir() {
		return "", nil
	}
	nodes, err := listDir(abs)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, n := range nodes {
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00", n.Name, n.MTime, n.Size)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DeleteSubtree removes an entry's entire attachment tree. The path must
// name an entry directory (two segments), not something deeper or above.
// Hard-linked content shared with a sibling instance only loses this
// instance's link; the sibling's copy is untouched.
//
// A missing subtree is not an error: a freshly created entry may never
// have materialized its directory.
func (s *Store) DeleteSubtree(rel string) error {
	abs, level, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if level != 0 {
		return errs.PathTraversal(rel)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("delete subtree %s: %w", rel, err)
	}
	// The two-level fanout parent may now be empty.
	s.pruneEmpty(filepath.Dir(abs))
	return nil
}
