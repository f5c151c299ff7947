package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/internal/errs"
)

// LinkFunc populates the attachment directory for a freshly loaded entry.
// attach is the entry's newly assigned relative path; the entry carries
// the listing row it was loaded from (including its old attach path, which
// the release layer uses to locate source content for hard linking).
type LinkFunc func(e Entry, attach string) error

// Load ingests a listing into an empty (or re-initialized) index. Every
// row is re-validated against its category schema; oids are reassigned by
// the autoincrement sequence while uids, versions and timestamps are
// carried verbatim. Entries missing a uid (listings predating permanent
// identifiers) get one minted.
//
// Behaviour is transactional for the database rows; attachment linking is
// the caller's concern via link (may be nil) and is expected to run under
// a directory backup so a failure rolls the whole initialization back.
func (s *Store) Load(ctx context.Context, listing []Entry, link LinkFunc) error {
	if len(listing) == 0 {
		return nil
	}

	for _, e := range listing {
		if err := s.validator.ValidateRaw(e.Cat, e.Value); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("load listing: begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, e := range listing {
		uid := e.UID
		if uid == "" {
			u, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("load listing: mint uid: %w", err)
			}
			uid = u.String()
		}
		if e.Version < 1 {
			return errs.Validation(e.Cat, []errs.Violation{{
				Path:    fmt.Sprintf("/%d/version", i),
				Message: "version must be at least 1",
			}})
		}

		valueCol, err := marshalJSONColumn(e.Value)
		if err != nil || valueCol == nil {
			return errs.Validation(e.Cat, []errs.Violation{{Message: "value must be a JSON document"}})
		}
		memoCol, err := marshalJSONColumn(e.Memo)
		if err != nil {
			return fmt.Errorf("load listing: memo: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO Entry (uid, version, cat, value, attach, created, modified, access, memo)
			VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?)
		`, uid, e.Version, e.Cat, valueCol, e.Created, e.Modified, nullable(e.Access), memoCol)
		if err != nil {
			return fmt.Errorf("load listing: insert row %d: %w", i, err)
		}
		oid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("load listing: last insert id: %w", err)
		}

		attach := s.namer(oid)
		if _, err := tx.ExecContext(ctx, `UPDATE Entry SET attach=? WHERE oid=?`, attach, oid); err != nil {
			return fmt.Errorf("load listing: assign attach: %w", err)
		}
		if err := backfillShort(ctx, tx, oid); err != nil {
			return fmt.Errorf("load listing: %w", err)
		}

		if link != nil {
			if err := link(e, attach); err != nil {
				return fmt.Errorf("load listing: link attachments for row %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("load listing: commit: %w", err)
	}
	return nil
}
