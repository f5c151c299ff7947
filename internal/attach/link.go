package attach

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LinkTree replicates every attachment under srcRoot into dstRoot using
// hard links, never copies: the two instances share byte content while
// each keeps its own link count. Directories are recreated; the staging
// area is not replicated (staged content is not committed).
//
// Used when entering shadow (real -> shadow) and when promoting
// (shadow -> real).
func LinkTree(srcRoot, dstRoot string) error {
	srcRoot = filepath.Clean(srcRoot)
	err := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && rel == StagingDir {
			return filepath.SkipDir
		}
		dst := filepath.Join(dstRoot, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o750)
		}
		if !d.Type().IsRegular() {
			return nil // symlinks and specials are not attachments
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return err
		}
		return os.Link(path, dst)
	})
	if err != nil {
		return fmt.Errorf("link attachment tree %s -> %s: %w", srcRoot, dstRoot, err)
	}
	return nil
}

// LinkEntry hard-links the content listed for one entry into its attach
// directory under the store root. contents maps entry-relative paths to
// absolute source paths; sub-directories are created as needed (they
// cannot be hard-linked themselves).
//
// Used by the load path of the instance transfer protocol.
func (s *Store) LinkEntry(attach string, contents map[string]string) error {
	entryAbs, level, err := s.Resolve(attach)
	if err != nil {
		return err
	}
	if level != 0 {
		return fmt.Errorf("link entry: %s is not an entry directory", attach)
	}
	for rel, src := range contents {
		rel = filepath.ToSlash(filepath.Clean(rel))
		if rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			return fmt.Errorf("link entry: invalid content path %q", rel)
		}
		dst := filepath.Join(entryAbs, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("link entry: %w", err)
		}
		if err := os.Link(src, dst); err != nil {
			return fmt.Errorf("link entry: %w", err)
		}
	}
	return nil
}

// Contents maps every regular file under an entry's attach directory to
// its absolute path, keyed by entry-relative slash path. Returns nil for
// an entry with no materialized directory. Feeds LinkEntry on the far
// side of a transfer.
func (s *Store) Contents(attach string) (map[string]string, error) {
	entryAbs, level, err := s.Resolve(attach)
	if err != nil {
		return nil, err
	}
	if level != 0 {
		return nil, fmt.Errorf("contents: %s is not an entry directory", attach)
	}
	if fi, err := os.Stat(entryAbs); err != nil || !fi.IsDir() {
		return nil, nil
	}
	out := map[string]string{}
	err = filepath.WalkDir(entryAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(entryAbs, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("contents of %s: %w", attach, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
