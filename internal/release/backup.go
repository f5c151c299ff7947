package release

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const backupName = ".backup"

// Backup provides transactional replacement of top-level members of a
// directory. Displace moves an existing member aside into the backup
// area and hands back its (now free) path; Restore puts every displaced
// member back and erases whatever replaced it; Commit discards the
// backups. Instance initialization runs under one of these so a failed
// shadow sync or promotion rolls the directory back to its prior state.
type Backup struct {
	root string
	dir  string
	log  []backupEntry
}

type backupEntry struct {
	orig  string // path in root
	saved string // path in backup dir, empty if the member did not exist
}

// NewBackup opens a backup context on root. A stale backup directory from
// a crashed run is removed first.
func NewBackup(root string) (*Backup, error) {
	dir := filepath.Join(root, backupName)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear stale backup: %w", err)
	}
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Backup{root: root, dir: dir}, nil
}

// Displace moves root/name (if present) into the backup area and returns
// the vacated path. name must be a single path segment.
func (b *Backup) Displace(name string) (string, error) {
	if strings.ContainsAny(name, "/\\") || name == "" || name == backupName {
		return "", fmt.Errorf("invalid backup member %q", name)
	}
	orig := filepath.Join(b.root, name)
	saved := ""
	if _, err := os.Lstat(orig); err == nil {
		saved = filepath.Join(b.dir, name)
		if err := os.Rename(orig, saved); err != nil {
			return "", fmt.Errorf("displace %s: %w", name, err)
		}
	}
	b.log = append(b.log, backupEntry{orig: orig, saved: saved})
	return orig, nil
}

// Restore undoes every displacement, erasing new content at the original
// paths, then removes the backup area.
func (b *Backup) Restore() error {
	var firstErr error
	for i := len(b.log) - 1; i >= 0; i-- {
		e := b.log[i]
		if err := os.RemoveAll(e.orig); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore %s: %w", e.orig, err)
		}
		if e.saved != "" {
			if err := os.Rename(e.saved, e.orig); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("restore %s: %w", e.orig, err)
			}
		}
	}
	if err := os.RemoveAll(b.dir); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("remove backup dir: %w", err)
	}
	b.log = nil
	return firstErr
}

// Commit discards the saved members, keeping the new state.
func (b *Backup) Commit() error {
	b.log = nil
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("commit backup: %w", err)
	}
	return nil
}
