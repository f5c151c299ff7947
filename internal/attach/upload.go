package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/cairndb/cairn/internal/errs"
)

// session is one in-progress chunked upload. The client paces the chunks;
// the store holds the open staging file between them.
type session struct {
	name string // staging file name
	file *os.File
	size int64
}

// BeginUpload opens a chunked upload into the staging area and returns
// the session token plus the staging name the upload will commit under.
//
// With target == "" a unique staging name is generated; it stays stable
// for the rest of the session. With a target the staging file is opened
// in append mode, so a caller may continue a named upload across
// sessions. Target names are NFC-normalized and must be a single path
// segment.
func (s *Store) BeginUpload(target string) (token, name string, err error) {
	staging := filepath.Join(s.root, StagingDir)

	var f *os.File
	if target == "" {
		f, err = os.CreateTemp(staging, "upload-*")
		if err != nil {
			return "", "", fmt.Errorf("begin upload: %w", err)
		}
	} else {
		target = norm.NFC.String(target)
		if strings.ContainsAny(target, "/\\") || target == "." || target == ".." {
			return "", "", errs.PathTraversal(target)
		}
		f, err = os.OpenFile(filepath.Join(staging, target), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
		if err != nil {
			return "", "", fmt.Errorf("begin upload: %w", err)
		}
	}

	tok := uuid.NewString()
	sess := &session{name: filepath.Base(f.Name()), file: f}
	if fi, err := f.Stat(); err == nil {
		sess.size = fi.Size()
	}

	s.mu.Lock()
	s.sessions[tok] = sess
	s.mu.Unlock()
	return tok, sess.name, nil
}

// AppendChunk writes one chunk to the upload. Chunk boundaries are the
// caller's concern; zero-length chunks are accepted and do nothing.
func (s *Store) AppendChunk(token string, chunk []byte) error {
	s.mu.Lock()
	sess := s.sessions[token]
	s.mu.Unlock()
	if sess == nil {
		return errs.UploadIncomplete("unknown upload session", nil)
	}
	n, err := sess.file.Write(chunk)
	sess.size += int64(n)
	if err != nil {
		// A torn write leaves the staging file unusable; drop the session
		// so the client restarts the upload.
		s.discard(token, sess, true)
		return errs.UploadIncomplete("chunk write failed", err)
	}
	return nil
}

// FinishUpload commits the upload and returns the final staging node.
// Zero-length uploads are valid and produce an empty file. The staged
// file only becomes a committed attachment once a rename batch promotes
// it out of the staging area.
func (s *Store) FinishUpload(token string) (Node, error) {
	s.mu.Lock()
	sess := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()
	if sess == nil {
		return Node{}, errs.UploadIncomplete("unknown upload session", nil)
	}
	if err := sess.file.Close(); err != nil {
		return Node{}, errs.UploadIncomplete("close staged file", err)
	}
	fi, err := os.Stat(filepath.Join(s.root, StagingDir, sess.name))
	if err != nil {
		return Node{}, fmt.Errorf("finish upload: %w", err)
	}
	return Node{
		Name:  sess.name,
		MTime: fi.ModTime().UTC().Format(MTimeLayout),
		Size:  fi.Size(),
	}, nil
}

// AbortUpload cancels an in-flight upload and removes its staged content.
// Aborting an unknown (or already finished) session is a no-op: staged
// leftovers are garbage, collectable at any time.
func (s *Store) AbortUpload(token string) {
	s.mu.Lock()
	sess := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()
	if sess != nil {
		s.discard(token, sess, true)
	}
}

func (s *Store) discard(token string, sess *session, remove bool) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	sess.file.Close()
	if remove {
		os.Remove(filepath.Join(s.root, StagingDir, sess.name))
	}
}
